// Package middleware provides logging, tracing, metrics and authentication helpers for the HTTP layer.
package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codexverse/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenIssuer   = "codexverse-api"
	TokenAudience = "codexverse-client"
	TokenTTL      = 7 * 24 * time.Hour
)

var (
	ErrMissingToken = errors.New("authorization token required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims is the decoded identity carried by an access token.
type Claims struct {
	UserID    uint
	Username  string
	Role      models.Role
	JTI       string
	ExpiresAt time.Time
}

// IssueToken signs an HS256 access token for user.
func IssueToken(secret string, user *models.User, now time.Time) (string, Claims, error) {
	if user == nil || user.ID == 0 {
		return "", Claims{}, errors.New("cannot issue token for unsaved user")
	}

	claims := Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		JTI:       generateJTI(now),
		ExpiresAt: now.Add(TokenTTL),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      strconv.FormatUint(uint64(user.ID), 10),
		"username": user.Username,
		"role":     string(user.Role),
		"iss":      TokenIssuer,
		"aud":      TokenAudience,
		"exp":      claims.ExpiresAt.Unix(),
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"jti":      claims.JTI,
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

func generateJTI(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.Unix(), uuid.New().String()[:8])
}

// ParseToken verifies signature, issuer, audience and expiry and returns the claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return nil, ErrInvalidToken
	}

	claims := &Claims{UserID: uint(userID)}
	claims.Username, _ = mapClaims["username"].(string)
	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = models.Role(role)
	}
	claims.JTI, _ = mapClaims["jti"].(string)
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// RequireRole guards a route group on the role stored in locals by the auth middleware.
// Browser navigations are redirected home with a flash header; API clients get 403 JSON.
func RequireRole(role models.Role, message string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		current, _ := c.Locals("userRole").(models.Role)
		if current.Satisfies(role) {
			return c.Next()
		}

		if wantsHTML(c) {
			c.Set("X-Flash", message)
			return c.Redirect("/", fiber.StatusSeeOther)
		}
		return models.RespondWithError(c, fiber.StatusForbidden, models.NewForbiddenError(message))
	}
}

func wantsHTML(c *fiber.Ctx) bool {
	accept := c.Get(fiber.HeaderAccept)
	return strings.Contains(accept, fiber.MIMETextHTML) && !strings.Contains(accept, fiber.MIMEApplicationJSON)
}
