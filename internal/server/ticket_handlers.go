package server

import (
	"codexverse/internal/models"
	"codexverse/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetTickets handles GET /api/tickets
// @Summary List tickets
// @Description Users see their own tickets; staff see all. ?mine=true limits staff to their own.
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Param status query string false "open, in_progress or closed"
// @Param mine query bool false "Only my tickets"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} models.Ticket
// @Failure 400 {object} models.ErrorResponse
// @Router /tickets [get]
func (s *Server) GetTickets(c *fiber.Ctx) error {
	status, ok := parseStatusQuery(c)
	if !ok {
		return nil
	}
	page := parsePagination(c, 20)

	tickets, err := s.ticketService.List(c.UserContext(), currentActor(c), status, !c.QueryBool("mine"), page.Limit, page.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(tickets)
}

// CreateTicket handles POST /api/tickets
// @Summary Open a ticket
// @Tags tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateTicketInput true "Ticket"
// @Success 201 {object} models.Ticket
// @Failure 400 {object} models.ErrorResponse
// @Router /tickets [post]
func (s *Server) CreateTicket(c *fiber.Ctx) error {
	var in service.CreateTicketInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}
	ticket, err := s.ticketService.Create(c.UserContext(), currentActor(c), in)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ticket)
}

// GetTicket handles GET /api/tickets/:id
// @Summary Ticket detail
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Param id path int true "Ticket ID"
// @Success 200 {object} models.Ticket
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /tickets/{id} [get]
func (s *Server) GetTicket(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	ticket, err := s.ticketService.Get(c.UserContext(), currentActor(c), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(ticket)
}

// UpdateTicket handles PUT /api/tickets/:id
// @Summary Edit a ticket
// @Description Admin only. Title, description, priority and status may change.
// @Tags tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Ticket ID"
// @Param request body service.UpdateTicketInput true "Fields to change"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /tickets/{id} [put]
func (s *Server) UpdateTicket(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var in service.UpdateTicketInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}
	ticket, err := s.ticketService.Update(c.UserContext(), currentActor(c), id, in)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(ticket)
}

// DeleteTicket handles DELETE /api/tickets/:id
// @Summary Delete a ticket
// @Description Admin only
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Param id path int true "Ticket ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /tickets/{id} [delete]
func (s *Server) DeleteTicket(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.ticketService.Delete(c.UserContext(), currentActor(c), id); err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Ticket deleted successfully"})
}

// GetTicketMessages handles GET /api/tickets/:id/messages
// @Summary Ticket thread
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Param id path int true "Ticket ID"
// @Success 200 {array} models.TicketMessage
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /tickets/{id}/messages [get]
func (s *Server) GetTicketMessages(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	messages, err := s.ticketService.ListMessages(c.UserContext(), currentActor(c), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(messages)
}

// AddTicketMessage handles POST /api/tickets/:id/messages
// @Summary Reply to a ticket
// @Tags tickets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Ticket ID"
// @Param request body object{content=string} true "Reply"
// @Success 201 {object} models.TicketMessage
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /tickets/{id}/messages [post]
func (s *Server) AddTicketMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	msg, err := s.ticketService.AddMessage(c.UserContext(), currentActor(c), id, req.Content)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// AdminGetTickets handles GET /api/admin/tickets
// @Summary All tickets
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "open, in_progress or closed"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} object{tickets=[]models.Ticket,counts=map[string]int}
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/tickets [get]
func (s *Server) AdminGetTickets(c *fiber.Ctx) error {
	status, ok := parseStatusQuery(c)
	if !ok {
		return nil
	}
	page := parsePagination(c, 50)

	ctx := c.UserContext()
	tickets, err := s.ticketService.List(ctx, currentActor(c), status, true, page.Limit, page.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	counts, err := s.ticketService.CountByStatus(ctx)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"tickets": tickets,
		"counts":  counts,
	})
}

// AdminSetTicketStatus handles POST /api/admin/ticket/:id/status
// @Summary Change ticket status
// @Description Any transition between open, in_progress and closed is allowed. The author is notified over the socket.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Ticket ID"
// @Param request body object{status=string} true "New status"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/ticket/{id}/status [post]
func (s *Server) AdminSetTicketStatus(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Status models.TicketStatus `json:"status" form:"status"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	ticket, err := s.ticketService.ChangeStatus(c.UserContext(), currentActor(c), id, req.Status)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(ticket)
}

// parseStatusQuery reads ?status=, writing a 400 when it is not a known status.
func parseStatusQuery(c *fiber.Ctx) (models.TicketStatus, bool) {
	status := models.TicketStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("status must be one of: open in_progress closed"))
		return "", false
	}
	return status, true
}
