package service

import (
	"context"
	"testing"
	"time"

	"codexverse/internal/models"
	"codexverse/internal/realtime"
	"codexverse/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModerationFixture(t *testing.T) (*UserService, *recordingPublisher, *recordingAudit, *models.User, *models.User) {
	t.Helper()
	db := setupSQLiteDB(t)
	events := &recordingPublisher{}
	audit := &recordingAudit{}
	svc := NewUserService(repository.NewUserRepository(db), events, audit, nil)
	admin := createUser(t, db, "root", models.RoleAdmin)
	target := createUser(t, db, "mallory", models.RoleUser)
	return svc, events, audit, admin, target
}

func TestUserService_BanAndUnban(t *testing.T) {
	svc, events, audit, admin, target := newModerationFixture(t)
	ctx := context.Background()

	user, err := svc.Ban(ctx, admin.ID, target.ID)
	require.NoError(t, err)
	assert.True(t, user.IsBanned)
	assert.Equal(t, []string{realtime.EventUserBanned}, events.types())
	assert.Equal(t, []uint{target.ID}, events.disconnected)
	assert.Equal(t, loggedAction{admin.ID, ActionBanUser, map[string]string{"banned_user_id": idString(target.ID)}}, audit.last())

	user, err = svc.Unban(ctx, admin.ID, target.ID)
	require.NoError(t, err)
	assert.False(t, user.IsBanned)
	assert.Len(t, events.events, 1, "unban broadcasts nothing")
	assert.Equal(t, ActionUnbanUser, audit.last().Action)
}

func TestUserService_CannotModerateSelf(t *testing.T) {
	svc, _, _, admin, _ := newModerationFixture(t)
	_, err := svc.Ban(context.Background(), admin.ID, admin.ID)
	assertCode(t, err, models.CodeValidation, 400)

	err = svc.Delete(context.Background(), admin.ID, admin.ID)
	assertCode(t, err, models.CodeValidation, 400)
}

func TestUserService_MuteDefaultsToOneHour(t *testing.T) {
	svc, events, audit, admin, target := newModerationFixture(t)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	user, err := svc.Mute(context.Background(), admin.ID, target.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, user.MutedUntil)
	assert.True(t, user.MutedUntil.Equal(now.Add(time.Hour)))
	assert.True(t, user.IsMuted(now))

	require.Len(t, events.events, 1)
	payload := events.events[0].Event.Payload.(mutePayload)
	assert.Equal(t, target.ID, payload.UserID)
	assert.True(t, payload.Until.Equal(now.Add(time.Hour)))
	assert.Equal(t, "3600", audit.last().Details["duration"])

	_, err = svc.Mute(context.Background(), admin.ID, target.ID, -time.Second)
	assertCode(t, err, models.CodeValidation, 400)
	_, err = svc.Mute(context.Background(), admin.ID, target.ID, MaxMuteDuration+time.Second)
	assertCode(t, err, models.CodeValidation, 400)

	user, err = svc.Unmute(context.Background(), admin.ID, target.ID)
	require.NoError(t, err)
	assert.Nil(t, user.MutedUntil)
	assert.Equal(t, realtime.EventUserUnmuted, events.types()[1])
}

func TestUserService_Delete(t *testing.T) {
	svc, events, audit, admin, target := newModerationFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, admin.ID, target.ID))
	assert.Equal(t, []string{realtime.EventUserDeleted}, events.types())
	assert.Equal(t, []uint{target.ID}, events.disconnected)
	assert.Equal(t, ActionDeleteUser, audit.last().Action)

	_, err := svc.GetUserByID(ctx, target.ID)
	assertCode(t, err, models.CodeNotFound, 404)

	err = svc.Delete(ctx, admin.ID, target.ID)
	assertCode(t, err, models.CodeNotFound, 404)
}

func TestUserService_SetRole(t *testing.T) {
	svc, _, _, admin, target := newModerationFixture(t)
	ctx := context.Background()

	user, err := svc.SetRole(ctx, admin.ID, target.ID, models.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, user.Role)

	_, err = svc.SetRole(ctx, admin.ID, target.ID, models.Role("owner"))
	assertCode(t, err, models.CodeValidation, 400)

	_, err = svc.SetRole(ctx, admin.ID, 9999, models.RoleStaff)
	assertCode(t, err, models.CodeNotFound, 404)
}

func TestUserService_NilCollaborators(t *testing.T) {
	db := setupSQLiteDB(t)
	svc := NewUserService(repository.NewUserRepository(db), nil, nil, nil)
	admin := createUser(t, db, "root", models.RoleAdmin)
	target := createUser(t, db, "bob", models.RoleUser)

	_, err := svc.Ban(context.Background(), admin.ID, target.ID)
	assert.NoError(t, err)

	users, err := svc.ListUsers(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
