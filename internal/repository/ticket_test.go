package repository

import (
	"context"
	"testing"

	"codexverse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketRepository_Lifecycle(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewTicketRepository(db)
	ctx := context.Background()

	ticket := &models.Ticket{Title: "Crash", Description: "it crashes", UserID: 1, Author: "ada"}
	require.NoError(t, repo.Create(ctx, ticket))
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)
	assert.Equal(t, models.TicketPriorityMedium, ticket.Priority)

	updated, err := repo.UpdateStatus(ctx, ticket.ID, models.TicketStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusClosed, updated.Status)

	// any transition is allowed, including reopening
	updated, err = repo.UpdateStatus(ctx, ticket.ID, models.TicketStatusOpen)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusOpen, updated.Status)

	title := "Crash on start"
	high := models.TicketPriorityHigh
	updated, err = repo.Update(ctx, ticket.ID, TicketUpdate{Title: &title, Priority: &high})
	require.NoError(t, err)
	assert.Equal(t, "Crash on start", updated.Title)
	assert.Equal(t, models.TicketPriorityHigh, updated.Priority)
	assert.Equal(t, "it crashes", updated.Description)

	_, err = repo.UpdateStatus(ctx, 999, models.TicketStatusClosed)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	require.NoError(t, repo.AddMessage(ctx, &models.TicketMessage{TicketID: ticket.ID, UserID: 1, Author: "ada", Content: "first"}))
	require.NoError(t, repo.AddMessage(ctx, &models.TicketMessage{TicketID: ticket.ID, UserID: 2, Author: "root", Content: "second"}))
	messages, err := repo.ListMessages(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)

	require.NoError(t, repo.Delete(ctx, ticket.ID))
	messages, err = repo.ListMessages(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.True(t, models.HasCode(repo.Delete(ctx, ticket.ID), models.CodeNotFound))
}

func TestTicketRepository_ListAndCount(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewTicketRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Ticket{Title: "a", Description: "a", UserID: 1, Author: "ada"}))
	require.NoError(t, repo.Create(ctx, &models.Ticket{Title: "b", Description: "b", UserID: 2, Author: "bob"}))
	closed := &models.Ticket{Title: "c", Description: "c", UserID: 2, Author: "bob", Status: models.TicketStatusClosed}
	require.NoError(t, repo.Create(ctx, closed))

	mine, err := repo.List(ctx, TicketFilter{UserID: 2})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	open, err := repo.List(ctx, TicketFilter{Status: models.TicketStatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.TicketStatusOpen])
	assert.Equal(t, int64(0), counts[models.TicketStatusInProgress])
	assert.Equal(t, int64(1), counts[models.TicketStatusClosed])
}
