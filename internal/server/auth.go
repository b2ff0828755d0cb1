package server

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"codexverse/internal/cache"
	"codexverse/internal/middleware"
	"codexverse/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

var errInvalidTicket = errors.New("invalid or expired websocket ticket")

// AuthRequired returns the authentication middleware. It accepts a single-use
// WebSocket ticket on /api/ws, a Bearer token, or a ?token= query parameter on
// non-WebSocket paths. Revoked tokens and banned users are rejected.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		isWSPath := strings.HasPrefix(c.Path(), "/api/ws")

		// 1. WebSocket ticket (short-lived, single-use)
		if ticket := c.Query("ticket"); ticket != "" && isWSPath {
			userID, err := s.consumeWSTicket(ctx, ticket)
			if err != nil {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
			return s.authenticate(c, userID)
		}

		// 2. JWT (Bearer token or query param)
		tokenString, err := middleware.BearerToken(c)
		if errors.Is(err, middleware.ErrMissingToken) && !isWSPath {
			tokenString, err = c.Query("token"), nil
		}
		if err != nil || tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := middleware.ParseToken(s.config.JWTSecret, tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		if s.isRevoked(ctx, claims.JTI) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Token has been revoked"))
		}

		c.Locals("jti", claims.JTI)
		c.Locals("tokenExp", claims.ExpiresAt)
		return s.authenticate(c, claims.UserID)
	}
}

// authenticate loads the user behind a verified credential and stores it in locals.
func (s *Server) authenticate(c *fiber.Ctx, userID uint) error {
	user, err := s.userRepo.GetByID(c.UserContext(), userID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("User no longer exists"))
		}
		return respondServiceError(c, err)
	}
	if user.IsBanned {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("Account is banned"))
	}

	middleware.WithUser(c, user.ID)
	c.Locals("user", user)
	c.Locals("userRole", user.Role)
	c.Locals("username", user.Username)
	return c.Next()
}

// consumeWSTicket atomically reads and deletes a ticket.
func (s *Server) consumeWSTicket(ctx context.Context, ticket string) (uint, error) {
	if s.redis == nil {
		return 0, errInvalidTicket
	}
	val, err := s.redis.GetDel(ctx, cache.WSTicketKey(ticket)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			middleware.Logger.WarnContext(ctx, "ws ticket lookup failed", slog.String("error", err.Error()))
		}
		return 0, errInvalidTicket
	}
	id, err := strconv.ParseUint(val, 10, 32)
	if err != nil || id == 0 {
		return 0, errInvalidTicket
	}
	return uint(id), nil
}

func (s *Server) isRevoked(ctx context.Context, jti string) bool {
	if s.redis == nil || jti == "" {
		return false
	}
	n, err := s.redis.Exists(ctx, cache.BlacklistKey(jti)).Result()
	if err != nil {
		// Fails open while Redis is down.
		middleware.Logger.WarnContext(ctx, "revocation check failed", slog.String("error", err.Error()))
		return false
	}
	return n > 0
}

// revoke blacklists jti until the token would have expired anyway.
func (s *Server) revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if s.redis == nil || jti == "" {
		return nil
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.redis.Set(ctx, cache.BlacklistKey(jti), "1", ttl).Err()
}
