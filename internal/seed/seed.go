package seed

import (
	"fmt"
	"log/slog"

	"codexverse/internal/middleware"
	"codexverse/internal/models"

	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	NumUsers      int
	NumCategories int
	NumProjects   int
	NumTickets    int
	// ShouldClean truncates the seeded tables first.
	ShouldClean bool
	// DryRun builds everything without writing.
	DryRun bool
	// SkipBcrypt stores DemoPassword in plain text; only for throwaway databases.
	SkipBcrypt bool
	MaxDays    int
	RandSeed   int64
}

// DefaultOptions is a small but complete demo data set.
func DefaultOptions() Options {
	return Options{
		NumUsers:      20,
		NumCategories: 5,
		NumProjects:   30,
		NumTickets:    15,
		MaxDays:       90,
	}
}

// Summary counts what a run created.
type Summary struct {
	Users      int
	Categories int
	Projects   int
	Tickets    int
}

var demoCategories = []string{
	"Tools", "Games", "Libraries", "Templates", "Plugins",
	"Themes", "Scripts", "Datasets", "Tutorials", "Utilities",
}

// Run seeds users, categories, projects and tickets. A staff account named
// "support" answers the seeded tickets.
func Run(db *gorm.DB, opts Options) (Summary, error) {
	var sum Summary
	if opts.ShouldClean && !opts.DryRun {
		if err := Clean(db); err != nil {
			return sum, err
		}
	}

	f := NewFactory(db, opts)

	support, err := f.CreateUser(func(u *models.User) {
		u.Username = fmt.Sprintf("support%d", f.faker.Number(100, 999))
		u.Email = u.Username + "@codexverse.local"
		u.Role = models.RoleStaff
	})
	if err != nil {
		return sum, err
	}
	sum.Users++

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return sum, err
		}
		users = append(users, u)
		sum.Users++
	}

	categories := make([]*models.Category, 0, opts.NumCategories)
	for i := 0; i < opts.NumCategories && i < len(demoCategories); i++ {
		c, err := f.CreateCategory(demoCategories[i])
		if err != nil {
			return sum, err
		}
		categories = append(categories, c)
		sum.Categories++
	}

	for i := 0; i < opts.NumProjects; i++ {
		var category *models.Category
		// Leave every fifth project uncategorised.
		if len(categories) > 0 && i%5 != 4 {
			category = categories[i%len(categories)]
		}
		if _, err := f.CreateProject(category); err != nil {
			return sum, err
		}
		sum.Projects++
	}

	if len(users) > 0 {
		for i := 0; i < opts.NumTickets; i++ {
			author := users[i%len(users)]
			if _, err := f.CreateTicket(author, support, f.faker.Number(0, 4)); err != nil {
				return sum, err
			}
			sum.Tickets++
		}
	}

	middleware.Logger.Info("seed complete",
		slog.Int("users", sum.Users),
		slog.Int("categories", sum.Categories),
		slog.Int("projects", sum.Projects),
		slog.Int("tickets", sum.Tickets),
		slog.Bool("dry_run", opts.DryRun),
	)
	return sum, nil
}

// Clean removes seeded rows, children first. Admin accounts are kept.
func Clean(db *gorm.DB) error {
	steps := []struct {
		name string
		run  func(*gorm.DB) error
	}{
		{"ticket messages", func(tx *gorm.DB) error {
			return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.TicketMessage{}).Error
		}},
		{"tickets", func(tx *gorm.DB) error {
			return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Ticket{}).Error
		}},
		{"projects", func(tx *gorm.DB) error {
			return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Project{}).Error
		}},
		{"categories", func(tx *gorm.DB) error {
			return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Category{}).Error
		}},
		{"users", func(tx *gorm.DB) error {
			return tx.Where("role <> ?", models.RoleAdmin).Delete(&models.User{}).Error
		}},
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, step := range steps {
			if err := step.run(tx); err != nil {
				return fmt.Errorf("clean %s: %w", step.name, err)
			}
		}
		return nil
	})
}
