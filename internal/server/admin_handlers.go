package server

import (
	"strconv"
	"time"

	"codexverse/internal/analytics"
	"codexverse/internal/models"
	"codexverse/internal/service"

	"github.com/gofiber/fiber/v2"
)

const (
	dashboardRecentActions = 50
	dashboardRecentTickets = 5
	analyticsWindowDays    = 7
)

// AdminGetUsers handles GET /api/admin/users
// @Summary List users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} models.User
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/users [get]
func (s *Server) AdminGetUsers(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	users, err := s.userService.ListUsers(c.UserContext(), page.Limit, page.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(users)
}

// AdminBanUser handles POST /api/admin/user/:id/ban
// @Summary Ban a user
// @Description Broadcasts user_banned and closes the user's sockets
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/user/{id}/ban [post]
func (s *Server) AdminBanUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	user, err := s.userService.Ban(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}

// AdminUnbanUser handles POST /api/admin/user/:id/unban
// @Summary Unban a user
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} models.User
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/user/{id}/unban [post]
func (s *Server) AdminUnbanUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	user, err := s.userService.Unban(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}

// AdminMuteUser handles POST /api/admin/user/:id/mute
// @Summary Mute a user
// @Description Silences socket chat for duration seconds (default 3600) and broadcasts user_muted
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body object{duration=int} false "Mute length in seconds"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/user/{id}/mute [post]
func (s *Server) AdminMuteUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	seconds, err := muteSeconds(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	user, err := s.userService.Mute(c.UserContext(), currentUserID(c), id, time.Duration(seconds)*time.Second)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}

// muteSeconds reads duration from the JSON body, the form or the query. Zero
// means the default.
func muteSeconds(c *fiber.Ctx) (int64, error) {
	raw := c.FormValue("duration", c.Query("duration"))
	if len(c.Body()) > 0 && c.Is("json") {
		var req struct {
			Duration *int64 `json:"duration"`
		}
		if err := c.BodyParser(&req); err != nil {
			return 0, models.NewValidationError("Invalid request body")
		}
		if req.Duration != nil {
			return checkDuration(*req.Duration)
		}
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, models.NewValidationError("duration must be a whole number of seconds")
	}
	return checkDuration(n)
}

func checkDuration(n int64) (int64, error) {
	if n < 0 {
		return 0, models.NewValidationError("duration must not be negative")
	}
	// Checked in seconds, before the conversion to time.Duration can overflow.
	if n > int64(service.MaxMuteDuration/time.Second) {
		return 0, models.NewValidationError("duration must not exceed 365 days")
	}
	return n, nil
}

// AdminUnmuteUser handles POST /api/admin/user/:id/unmute
// @Summary Unmute a user
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} models.User
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/user/{id}/unmute [post]
func (s *Server) AdminUnmuteUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	user, err := s.userService.Unmute(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}

// AdminDeleteUser handles POST /api/admin/user/:id/delete
// @Summary Delete a user
// @Description Broadcasts user_deleted and closes the user's sockets
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/user/{id}/delete [post]
func (s *Server) AdminDeleteUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.userService.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "User deleted successfully"})
}

// AdminSetRole handles PUT /api/admin/user/:id/role
// @Summary Change a user's role
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body object{role=string} true "user, staff or admin"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/user/{id}/role [put]
func (s *Server) AdminSetRole(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Role models.Role `json:"role" form:"role"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if !req.Role.Valid() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("role must be one of: user staff admin"))
	}
	user, err := s.userService.SetRole(c.UserContext(), currentUserID(c), id, req.Role)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}

// dashboardResponse is the admin landing page payload.
type dashboardResponse struct {
	Stats         analytics.SystemStats         `json:"stats"`
	RecentActions []analytics.ActionRecord      `json:"recent_actions"`
	TicketCounts  map[models.TicketStatus]int64 `json:"ticket_counts"`
	RecentTickets []models.Ticket               `json:"recent_tickets"`
	OnlineUserIDs []uint                        `json:"online_user_ids"`
}

// AdminDashboard handles GET /api/admin/dashboard
// @Summary Admin dashboard
// @Description System stats, the last 50 actions, ticket counts and the newest tickets
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dashboardResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/dashboard [get]
func (s *Server) AdminDashboard(c *fiber.Ctx) error {
	ctx := c.UserContext()

	stats, err := s.analytics.SystemStats(ctx)
	if err != nil {
		return respondServiceError(c, err)
	}
	counts, err := s.ticketService.CountByStatus(ctx)
	if err != nil {
		return respondServiceError(c, err)
	}
	recent, err := s.ticketService.List(ctx, currentActor(c), "", true, dashboardRecentTickets, 0)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(dashboardResponse{
		Stats:         stats,
		RecentActions: s.analytics.RecentActions(dashboardRecentActions),
		TicketCounts:  counts,
		RecentTickets: recent,
		OnlineUserIDs: s.hub.Presence().OnlineUsers(),
	})
}

// AdminAnalytics handles GET /api/admin/analytics
// @Summary Usage analytics
// @Description Daily actions, active users and downloads for the last 7 days (UTC, YYYY-MM-DD) plus voice statistics
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{activity=analytics.Activity,voice=analytics.VoiceStats,active_voice_rooms=[]string}
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/analytics [get]
func (s *Server) AdminAnalytics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"activity":           s.analytics.Activity(s.now(), analyticsWindowDays),
		"voice":              s.analytics.VoiceStats(),
		"active_voice_rooms": s.analytics.ActiveVoiceRooms(),
	})
}

// AdminLogs handles GET /api/admin/logs
// @Summary Action log
// @Description Newest first
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(100)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} object{logs=[]analytics.ActionRecord,total=int,limit=int,offset=int}
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/logs [get]
func (s *Server) AdminLogs(c *fiber.Ctx) error {
	page := parsePagination(c, 100)
	logs, total := s.analytics.Actions(page.Limit, page.Offset)
	return c.JSON(fiber.Map{
		"logs":   logs,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}
