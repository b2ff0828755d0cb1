package database

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"codexverse/internal/config"
	"codexverse/internal/middleware"

	"gorm.io/gorm"
)

// Schema modes accepted by DB_SCHEMA_MODE.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaStatus describes what ApplySchema would do and what is already applied.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	AppliedVersions    []int
	PendingMigrations  []Migration
}

// schemaPlan is the resolved DB_SCHEMA_MODE for one driver and environment.
type schemaPlan struct {
	mode string
	sql  bool
	auto bool
}

var guardedEnvs = []string{"production", "prod", "staging", "stage"}

// planSchema resolves DB_SCHEMA_MODE. The embedded SQL is PostgreSQL
// dialect, so SQLite always falls back to AutoMigrate, and guarded
// environments never AutoMigrate.
func planSchema(cfg *config.Config) (schemaPlan, error) {
	plan := schemaPlan{mode: strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode))}
	if plan.mode == "" {
		plan.mode = SchemaModeHybrid
	}
	if !slices.Contains([]string{SchemaModeHybrid, SchemaModeSQL, SchemaModeAuto}, plan.mode) {
		return schemaPlan{}, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", plan.mode)
	}

	if driverName(cfg) == DriverSQLite {
		plan.auto = true
		return plan, nil
	}

	guarded := slices.Contains(guardedEnvs, strings.ToLower(strings.TrimSpace(cfg.Env)))
	switch plan.mode {
	case SchemaModeSQL:
		plan.sql = true
	case SchemaModeAuto:
		if guarded {
			return schemaPlan{}, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q; use sql migrations", cfg.Env)
		}
		plan.auto = true
	case SchemaModeHybrid:
		plan.sql = true
		plan.auto = !guarded
	}
	return plan, nil
}

// ApplySchema brings the database schema up to date according to cfg.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := planSchema(cfg)
	if err != nil {
		return err
	}

	if plan.sql {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}
	if plan.auto {
		middleware.Logger.Info("running AutoMigrate", slog.String("mode", plan.mode), slog.String("env", cfg.Env))
		if err := db.WithContext(ctx).AutoMigrate(PersistentModels()...); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return nil
}

// GetSchemaStatus reports the resolved plan and, when SQL migrations are in
// play, which ones are still pending.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	plan, err := planSchema(cfg)
	if err != nil {
		return nil, err
	}

	status := &SchemaStatus{
		Mode:               plan.mode,
		Environment:        cfg.Env,
		WillRunSQL:         plan.sql,
		WillRunAutoMigrate: plan.auto,
	}
	if !plan.sql {
		return status, nil
	}

	applied, err := NewMigrationStore(db).GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	status.AppliedVersions = applied
	status.PendingMigrations = pendingMigrations(registry, applied)
	return status, nil
}
