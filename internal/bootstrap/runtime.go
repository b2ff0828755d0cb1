// Package bootstrap prepares stores and accounts the server needs before it
// starts accepting traffic.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"codexverse/internal/cache"
	"codexverse/internal/config"
	"codexverse/internal/database"
	"codexverse/internal/middleware"
	"codexverse/internal/models"
	"codexverse/internal/seed"
	"codexverse/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// FixturesPath, when set, loads a YAML catalogue after connecting.
	FixturesPath string
}

// InitRuntime connects to the database and Redis, ensures the default admin
// exists and optionally applies catalogue fixtures. The Redis client is nil
// when Redis is unreachable.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	rdb := cache.InitRedis(cfg.RedisURL)

	if _, err := EnsureAdmin(ctx, cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap admin account: %w", err)
	}

	if opts.FixturesPath != "" {
		fx, err := seed.LoadFixtures(opts.FixturesPath)
		if err != nil {
			return nil, nil, err
		}
		if _, err := fx.Apply(db); err != nil {
			return nil, nil, fmt.Errorf("failed to apply fixtures: %w", err)
		}
	}

	return db, rdb, nil
}

// EnsureAdmin creates the ADMIN_USERNAME account when no admin exists yet. An
// existing account with that username is promoted instead. It reports whether
// anything changed; without ADMIN_PASSWORD it does nothing.
func EnsureAdmin(ctx context.Context, cfg *config.Config, db *gorm.DB) (bool, error) {
	if cfg == nil || db == nil {
		return false, nil
	}

	username := strings.TrimSpace(cfg.AdminUsername)
	if username == "" {
		username = "admin"
	}
	email := strings.TrimSpace(strings.ToLower(cfg.AdminEmail))
	if email == "" {
		email = username + "@codexverse.local"
	}

	changed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var admins int64
		if err := tx.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&admins).Error; err != nil {
			return err
		}
		if admins > 0 {
			return nil
		}

		var existing models.User
		findErr := tx.Where("username = ?", username).First(&existing).Error
		switch {
		case findErr == nil:
			if err := tx.Model(&existing).Update("role", models.RoleAdmin).Error; err != nil {
				return err
			}
			changed = true
			return nil
		case !errors.Is(findErr, gorm.ErrRecordNotFound):
			return findErr
		}

		if cfg.AdminPassword == "" {
			middleware.Logger.Warn("no admin account exists and ADMIN_PASSWORD is empty; skipping admin bootstrap")
			return nil
		}
		hashed, err := service.HashPassword(cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		admin := models.User{
			Username: username,
			Email:    email,
			Password: hashed,
			Role:     models.RoleAdmin,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		middleware.Logger.Info("admin account ensured", slog.String("username", username))
	}
	return changed, nil
}
