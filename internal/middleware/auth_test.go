package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"codexverse/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func TestIssueAndParseToken(t *testing.T) {
	user := &models.User{ID: 42, Username: "ada", Role: models.RoleAdmin}
	now := time.Now()

	signed, issued, err := IssueToken(testSecret, user, now)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.JTI)
	assert.WithinDuration(t, now.Add(TokenTTL), issued.ExpiresAt, time.Second)

	claims, err := ParseToken(testSecret, signed)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, issued.JTI, claims.JTI)
}

func TestIssueToken_RejectsUnsavedUser(t *testing.T) {
	_, _, err := IssueToken(testSecret, &models.User{}, time.Now())
	assert.Error(t, err)
}

func TestParseToken_Rejections(t *testing.T) {
	sign := func(claims jwt.MapClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": strconv.Itoa(5),
			"iss": TokenIssuer,
			"aud": TokenAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}

	tests := []struct {
		name  string
		token func() string
	}{
		{"malformed", func() string { return "malformed.token.here" }},
		{"wrong secret", func() string { return sign(base(), "another-secret-that-is-long-enough-123") }},
		{"expired", func() string {
			c := base()
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return sign(c, testSecret)
		}},
		{"wrong issuer", func() string {
			c := base()
			c["iss"] = "someone-else"
			return sign(c, testSecret)
		}},
		{"wrong audience", func() string {
			c := base()
			c["aud"] = "other-client"
			return sign(c, testSecret)
		}},
		{"missing subject", func() string {
			c := base()
			delete(c, "sub")
			return sign(c, testSecret)
		}},
		{"non numeric subject", func() string {
			c := base()
			c["sub"] = "abc"
			return sign(c, testSecret)
		}},
		{"missing expiry", func() string {
			c := base()
			delete(c, "exp")
			return sign(c, testSecret)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(testSecret, tt.token())
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestBearerToken(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		token, err := BearerToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).SendString(err.Error())
		}
		return c.SendString(token)
	})

	tests := []struct {
		header string
		status int
	}{
		{"Bearer abc", http.StatusOK},
		{"bearer abc", http.StatusOK},
		{"", http.StatusUnauthorized},
		{"Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode, tt.header)
	}
}

func TestRequireRole(t *testing.T) {
	app := fiber.New()
	withRole := func(role models.Role) fiber.Handler {
		return func(c *fiber.Ctx) error {
			c.Locals("userRole", role)
			return c.Next()
		}
	}
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	guard := RequireRole(models.RoleAdmin, "Admin access required")

	app.Get("/admin", withRole(models.RoleAdmin), guard, ok)
	app.Get("/user", withRole(models.RoleUser), guard, ok)
	app.Get("/anon", guard, ok)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/user", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/anon", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, "Admin access required", resp.Header.Get("X-Flash"))
}
