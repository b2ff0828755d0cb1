package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                      "development",
		DBDriver:                 "postgres",
		DBSSLMode:                "disable",
		JWTSecret:                "secure-secret-at-least-32-chars-long",
		DBPassword:               "secure-password",
		Port:                     "10000",
		MaxUploadSizeMB:          16,
		DBConnMaxLifetimeMinutes: 1,
		RedisURL:                 "redis://localhost:6379",
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with disable SSL mode", "prod", "disable", true},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateProductionSecrets(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"default jwt secret", func(c *Config) { c.JWTSecret = defaultJWTSecret }, "default value"},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, "at least 32"},
		{"default db password", func(c *Config) { c.DBPassword = "password" }, "DB_PASSWORD"},
		{"sqlite driver", func(c *Config) { c.DBDriver = "sqlite" }, "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = "production"
			c.DBSSLMode = "require"
			tt.mutate(c)

			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_ValidateGeneral(t *testing.T) {
	c := validConfig()
	c.DBDriver = "mysql"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.MaxUploadSizeMB = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Port = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.DBDriver = "sqlite"
	assert.NoError(t, c.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	defer viper.Reset()

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "10000", c.Port)
	assert.Equal(t, "admin", c.AdminUsername)
	assert.Equal(t, "admin@codexverse.com", c.AdminEmail)
	assert.Equal(t, 16, c.MaxUploadSizeMB)
	assert.Equal(t, 10000, c.AnalyticsMaxEvents)
	assert.Equal(t, 720*time.Hour, c.AnalyticsRetention)
	assert.Equal(t, 10*time.Minute, c.AnalyticsPruneInterval)
	assert.False(t, c.IsProduction())
}

func TestLoadConfig_SSLModeNormalization(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("DB_DRIVER", " SQLite ")
	defer viper.Reset()

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "sqlite", c.DBDriver)
}

func TestLoadConfig_MissingProfileFails(t *testing.T) {
	t.Setenv("APP_ENV", "staging-missing")
	defer viper.Reset()

	_, err := LoadConfig()
	assert.Error(t, err)
}
