package repository

import (
	"context"

	"codexverse/internal/models"
	"codexverse/internal/observability"

	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

// TicketFilter narrows List results. Zero values mean "any".
type TicketFilter struct {
	Status models.TicketStatus
	UserID uint
	Limit  int
	Offset int
}

// TicketUpdate carries the admin-editable fields; nil leaves a field unchanged.
type TicketUpdate struct {
	Title       *string
	Description *string
	Priority    *models.TicketPriority
	Status      *models.TicketStatus
}

// TicketRepository defines persistence operations for support tickets and their threads.
type TicketRepository interface {
	Create(ctx context.Context, ticket *models.Ticket) error
	GetByID(ctx context.Context, id uint) (*models.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)
	Update(ctx context.Context, id uint, update TicketUpdate) (*models.Ticket, error)
	UpdateStatus(ctx context.Context, id uint, status models.TicketStatus) (*models.Ticket, error)
	Delete(ctx context.Context, id uint) error
	AddMessage(ctx context.Context, msg *models.TicketMessage) error
	ListMessages(ctx context.Context, ticketID uint) ([]models.TicketMessage, error)
	CountByStatus(ctx context.Context) (map[models.TicketStatus]int64, error)
}

type ticketRepository struct {
	db    *gorm.DB
	trace *observability.TraceLayer
}

// NewTicketRepository returns a new TicketRepository implementation.
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db, trace: observability.GetTraceLayer()}
}

func (r *ticketRepository) span(ctx context.Context, method string) (context.Context, func(*error)) {
	ctx, span := r.trace.TraceRepositoryMethod(ctx, method, "tickets")
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *models.Ticket) (err error) {
	ctx, end := r.span(ctx, "Create")
	defer end(&err)

	if ticket.Status == "" {
		ticket.Status = models.TicketStatusOpen
	}
	if ticket.Priority == "" {
		ticket.Priority = models.TicketPriorityMedium
	}
	if err := r.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id uint) (_ *models.Ticket, err error) {
	ctx, end := r.span(ctx, "GetByID")
	defer end(&err)

	var ticket models.Ticket
	if err := r.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		return nil, mapFindError(err, "Ticket", id)
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) (_ []models.Ticket, err error) {
	ctx, end := r.span(ctx, "List")
	defer end(&err)

	limit, offset := clampPage(filter.Limit, filter.Offset)
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var tickets []models.Ticket
	if err := query.Limit(limit).Offset(offset).Find(&tickets).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return tickets, nil
}

func (r *ticketRepository) Update(ctx context.Context, id uint, update TicketUpdate) (_ *models.Ticket, err error) {
	ctx, end := r.span(ctx, "Update")
	defer end(&err)

	updates := map[string]interface{}{}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Priority != nil {
		updates["priority"] = *update.Priority
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}
	return r.apply(ctx, id, updates)
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id uint, status models.TicketStatus) (_ *models.Ticket, err error) {
	ctx, end := r.span(ctx, "UpdateStatus")
	defer end(&err)

	return r.apply(ctx, id, map[string]interface{}{"status": status})
}

func (r *ticketRepository) apply(ctx context.Context, id uint, updates map[string]interface{}) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&ticket, id).Error; err != nil {
			return mapFindError(err, "Ticket", id)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&ticket).Updates(updates).Error; err != nil {
			return models.NewInternalError(err)
		}
		return tx.First(&ticket, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Delete removes the ticket together with its message thread.
func (r *ticketRepository) Delete(ctx context.Context, id uint) (err error) {
	ctx, end := r.span(ctx, "Delete")
	defer end(&err)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.Ticket{}, id)
		if result.Error != nil {
			return models.NewInternalError(result.Error)
		}
		if result.RowsAffected == 0 {
			return models.NewNotFoundError("Ticket", id)
		}
		if err := tx.Where("ticket_id = ?", id).Delete(&models.TicketMessage{}).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *ticketRepository) AddMessage(ctx context.Context, msg *models.TicketMessage) (err error) {
	ctx, end := r.span(ctx, "AddMessage")
	defer end(&err)

	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *ticketRepository) ListMessages(ctx context.Context, ticketID uint) (_ []models.TicketMessage, err error) {
	ctx, end := r.span(ctx, "ListMessages")
	defer end(&err)

	var messages []models.TicketMessage
	if err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return messages, nil
}

func (r *ticketRepository) CountByStatus(ctx context.Context) (_ map[models.TicketStatus]int64, err error) {
	ctx, end := r.span(ctx, "CountByStatus")
	defer end(&err)

	var rows []struct {
		Status models.TicketStatus
		Total  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Ticket{}).Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	counts := map[models.TicketStatus]int64{
		models.TicketStatusOpen:       0,
		models.TicketStatusInProgress: 0,
		models.TicketStatusClosed:     0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
