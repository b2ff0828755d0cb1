package service

import (
	"context"
	"strings"

	"codexverse/internal/models"
	"codexverse/internal/realtime"
	"codexverse/internal/repository"
	"codexverse/internal/validation"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID   uint
	Username string
	Role     models.Role
}

// ActorFromUser builds an Actor from a loaded user.
func ActorFromUser(u *models.User) Actor {
	return Actor{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func (a Actor) has(role models.Role) bool {
	return a.UserID != 0 && a.Role.Satisfies(role)
}

// CreateTicketInput is a new support request.
type CreateTicketInput struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Description string                `json:"description" validate:"required,max=10000"`
	Priority    models.TicketPriority `json:"priority" validate:"omitempty,oneof=low medium high"`
}

// UpdateTicketInput is an admin edit; nil fields stay unchanged.
type UpdateTicketInput struct {
	Title       *string                `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string                `json:"description" validate:"omitempty,min=1,max=10000"`
	Priority    *models.TicketPriority `json:"priority" validate:"omitempty,oneof=low medium high"`
	Status      *models.TicketStatus   `json:"status" validate:"omitempty,oneof=open in_progress closed"`
}

// TicketService enforces who may see and change support tickets.
type TicketService struct {
	repo   repository.TicketRepository
	events EventPublisher
}

func NewTicketService(repo repository.TicketRepository, events EventPublisher) *TicketService {
	if events == nil {
		events = nopPublisher{}
	}
	return &TicketService{repo: repo, events: events}
}

// Create opens a ticket for any authenticated user.
func (s *TicketService) Create(ctx context.Context, actor Actor, in CreateTicketInput) (*models.Ticket, error) {
	if actor.UserID == 0 {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validation.ValidateStruct(in); err != nil {
		return nil, validationAppError(err)
	}
	if in.Priority == "" {
		in.Priority = models.TicketPriorityMedium
	}

	ticket := &models.Ticket{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      models.TicketStatusOpen,
		UserID:      actor.UserID,
		Author:      actor.Username,
	}
	if err := s.repo.Create(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Get returns a ticket visible to the actor: its author or staff.
func (s *TicketService) Get(ctx context.Context, actor Actor, id uint) (*models.Ticket, error) {
	ticket, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, ticket) {
		return nil, models.NewForbiddenError("You do not have access to this ticket")
	}
	return ticket, nil
}

// List returns the actor's own tickets, or every ticket for staff when all is set.
func (s *TicketService) List(ctx context.Context, actor Actor, status models.TicketStatus, all bool, limit, offset int) ([]models.Ticket, error) {
	if status != "" && !status.Valid() {
		return nil, models.NewValidationError("status must be one of: open, in_progress, closed")
	}
	filter := repository.TicketFilter{Status: status, Limit: limit, Offset: offset}
	if !all || !actor.has(models.RoleStaff) {
		filter.UserID = actor.UserID
	}
	return s.repo.List(ctx, filter)
}

// ChangeStatus moves a ticket to any status. Admin only; the author is notified.
func (s *TicketService) ChangeStatus(ctx context.Context, actor Actor, id uint, status models.TicketStatus) (*models.Ticket, error) {
	if !actor.has(models.RoleAdmin) {
		return nil, models.NewForbiddenError("Admin access required")
	}
	if !status.Valid() {
		return nil, models.NewValidationError("status must be one of: open, in_progress, closed")
	}

	ticket, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.notifyStatus(ticket)
	return ticket, nil
}

// Update applies an admin edit.
func (s *TicketService) Update(ctx context.Context, actor Actor, id uint, in UpdateTicketInput) (*models.Ticket, error) {
	if !actor.has(models.RoleAdmin) {
		return nil, models.NewForbiddenError("Admin access required")
	}
	if in.Title != nil {
		trimmed := strings.TrimSpace(*in.Title)
		in.Title = &trimmed
	}
	if in.Description != nil {
		trimmed := strings.TrimSpace(*in.Description)
		in.Description = &trimmed
	}
	if err := validation.ValidateStruct(in); err != nil {
		return nil, validationAppError(err)
	}

	before, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ticket, err := s.repo.Update(ctx, id, repository.TicketUpdate{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      in.Status,
	})
	if err != nil {
		return nil, err
	}
	if ticket.Status != before.Status {
		s.notifyStatus(ticket)
	}
	return ticket, nil
}

// Delete removes a ticket and its thread. Admin only.
func (s *TicketService) Delete(ctx context.Context, actor Actor, id uint) error {
	if !actor.has(models.RoleAdmin) {
		return models.NewForbiddenError("Admin access required")
	}
	return s.repo.Delete(ctx, id)
}

// AddMessage appends a reply to the thread. Closed tickets take no replies.
func (s *TicketService) AddMessage(ctx context.Context, actor Actor, id uint, content string) (*models.TicketMessage, error) {
	ticket, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, models.NewValidationError("content is required")
	}
	if len(content) > 10000 {
		return nil, models.NewValidationError("content must be at most 10000 characters")
	}
	if ticket.Status == models.TicketStatusClosed && !actor.has(models.RoleStaff) {
		return nil, models.NewValidationError("Ticket is closed")
	}

	msg := &models.TicketMessage{
		TicketID: ticket.ID,
		UserID:   actor.UserID,
		Author:   actor.Username,
		Content:  content,
	}
	if err := s.repo.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the thread oldest first.
func (s *TicketService) ListMessages(ctx context.Context, actor Actor, id uint) ([]models.TicketMessage, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, id)
}

// CountByStatus feeds the admin dashboard.
func (s *TicketService) CountByStatus(ctx context.Context) (map[models.TicketStatus]int64, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *TicketService) notifyStatus(ticket *models.Ticket) {
	s.events.BroadcastRoom(realtime.UserRoom(ticket.Author), realtime.Event{
		Type: realtime.EventTicketStatusChanged,
		Payload: ticketStatusPayload{
			TicketID: ticket.ID,
			Status:   ticket.Status,
		},
	}, nil)
}

type ticketStatusPayload struct {
	TicketID uint                `json:"ticket_id"`
	Status   models.TicketStatus `json:"status"`
}

func canView(actor Actor, ticket *models.Ticket) bool {
	return actor.UserID != 0 && (ticket.UserID == actor.UserID || actor.has(models.RoleStaff))
}
