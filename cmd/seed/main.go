// Command seed fills the database with demo users, projects and tickets.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"codexverse/internal/bootstrap"
	"codexverse/internal/config"
	"codexverse/internal/database"
	"codexverse/internal/middleware"
	"codexverse/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	opts := defaults

	flag.IntVar(&opts.NumUsers, "users", defaults.NumUsers, "number of demo users")
	flag.IntVar(&opts.NumCategories, "categories", defaults.NumCategories, "number of categories")
	flag.IntVar(&opts.NumProjects, "projects", defaults.NumProjects, "number of projects")
	flag.IntVar(&opts.NumTickets, "tickets", defaults.NumTickets, "number of support tickets")
	flag.IntVar(&opts.MaxDays, "days", defaults.MaxDays, "spread creation dates over this many days")
	flag.Int64Var(&opts.RandSeed, "seed", 0, "random seed (0 picks one)")
	flag.BoolVar(&opts.ShouldClean, "clean", false, "remove existing non-admin data first")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "build entities without writing them")
	flag.BoolVar(&opts.SkipBcrypt, "fast", false, "store plain-text demo passwords (local only)")
	fixtures := flag.String("fixtures", "", "apply a YAML catalogue instead of random projects")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	middleware.SetupLogger(cfg.Env)
	log := middleware.Logger

	if cfg.IsProduction() && opts.ShouldClean {
		log.Error("refusing to clean a production database")
		os.Exit(1)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *fixtures != "" {
		fx, err := seed.LoadFixtures(*fixtures)
		if err != nil {
			log.Error("failed to load fixtures", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sum, err := fx.Apply(db)
		if err != nil {
			log.Error("failed to apply fixtures", slog.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info("fixtures applied", slog.Int("categories", sum.Categories), slog.Int("projects", sum.Projects))
		return
	}

	if _, err := seed.Run(db, opts); err != nil {
		log.Error("seeding failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if !opts.DryRun {
		if _, err := bootstrap.EnsureAdmin(context.Background(), cfg, db); err != nil {
			log.Warn("admin bootstrap failed", slog.String("error", err.Error()))
		}
	}
	log.Info("demo users share one password", slog.String("password", seed.DemoPassword))
}
