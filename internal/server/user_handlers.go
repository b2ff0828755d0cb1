package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetMyProfile handles GET /api/users/me
// @Summary Current user
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} models.ErrorResponse
// @Router /users/me [get]
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	return c.JSON(currentUser(c))
}

// GetMyStats handles GET /api/users/me/stats
// @Summary Activity of the current user
// @Description Chat messages sent, seconds spent in closed voice sessions and downloads
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} analytics.UserStats
// @Failure 401 {object} models.ErrorResponse
// @Router /users/me/stats [get]
func (s *Server) GetMyStats(c *fiber.Ctx) error {
	return c.JSON(s.analytics.UserStats(currentUserID(c)))
}
