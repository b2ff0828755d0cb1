// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codexverse/internal/middleware"
	"codexverse/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DemoPassword is the password every seeded account logs in with.
const DemoPassword = "Demo!Passw0rd"

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker
	// synthetic ID counter when running in DryRun mode
	nextID uint
	// hashed DemoPassword, computed once
	password string
}

// NewFactory creates a Factory bound to db. opts.RandSeed makes the output
// reproducible; zero picks a random seed.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	return &Factory{
		db:     db,
		opts:   opts,
		faker:  gofakeit.New(opts.RandSeed),
		nextID: 1000,
	}
}

func (f *Factory) passwordHash() string {
	if f.password != "" {
		return f.password
	}
	if f.opts.SkipBcrypt {
		f.password = DemoPassword
		return f.password
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.MinCost)
	if err != nil {
		// bcrypt only fails on over-long input.
		panic(err)
	}
	f.password = string(hashed)
	return f.password
}

// createdAt spreads records over the last MaxDays days.
func (f *Factory) createdAt() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.faker.Number(0, maxDays*24*60)) * time.Minute
	return time.Now().Add(-back)
}

func (f *Factory) persist(label string, value interface{}, setID func(uint)) error {
	if f.opts.DryRun {
		f.nextID++
		setID(f.nextID)
		middleware.Logger.Debug("dry-run create", slog.String("entity", label))
		return nil
	}
	return f.db.Create(value).Error
}

// BuildUser returns an unsaved user with a unique-looking username.
func (f *Factory) BuildUser(overrides ...func(*models.User)) *models.User {
	first := strings.ToLower(f.faker.FirstName())
	user := &models.User{
		Username:  fmt.Sprintf("%s%d", first, f.faker.Number(100, 9999)),
		Password:  f.passwordHash(),
		Role:      models.RoleUser,
		CreatedAt: f.createdAt(),
	}
	user.Email = user.Username + "@" + f.faker.DomainName()
	for _, override := range overrides {
		override(user)
	}
	return user
}

// CreateUser builds and persists a user.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := f.BuildUser(overrides...)
	if err := f.persist("user", user, func(id uint) { user.ID = id }); err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return user, nil
}

// CreateCategory persists a category with the given name.
func (f *Factory) CreateCategory(name string) (*models.Category, error) {
	category := &models.Category{Name: name, CreatedAt: f.createdAt()}
	if err := f.persist("category", category, func(id uint) { category.ID = id }); err != nil {
		return nil, fmt.Errorf("create category %s: %w", name, err)
	}
	return category, nil
}

// BuildProject returns an unsaved project, optionally in category.
func (f *Factory) BuildProject(category *models.Category, overrides ...func(*models.Project)) *models.Project {
	name := f.faker.AppName()
	project := &models.Project{
		Title:        name,
		Description:  f.faker.Paragraph(1, 3, 12, " "),
		DownloadLink: fmt.Sprintf("https://downloads.example.com/%s-%s.zip", slug(name), f.faker.AppVersion()),
		CreatedAt:    f.createdAt(),
	}
	if category != nil {
		project.CategoryID = &category.ID
	}
	for _, override := range overrides {
		override(project)
	}
	return project
}

// CreateProject builds and persists a project.
func (f *Factory) CreateProject(category *models.Category, overrides ...func(*models.Project)) (*models.Project, error) {
	project := f.BuildProject(category, overrides...)
	if err := f.persist("project", project, func(id uint) { project.ID = id }); err != nil {
		return nil, fmt.Errorf("create project %s: %w", project.Title, err)
	}
	return project, nil
}

var (
	ticketPriorities = []string{string(models.TicketPriorityLow), string(models.TicketPriorityMedium), string(models.TicketPriorityHigh)}
	ticketStatuses   = []string{string(models.TicketStatusOpen), string(models.TicketStatusInProgress), string(models.TicketStatusClosed)}
)

// CreateTicket persists a ticket by author with replies alternating between
// the author and responder. responder may be nil.
func (f *Factory) CreateTicket(author, responder *models.User, replies int) (*models.Ticket, error) {
	ticket := &models.Ticket{
		Title:       strings.TrimSuffix(f.faker.Sentence(6), "."),
		Description: f.faker.Paragraph(1, 4, 14, " "),
		Priority:    models.TicketPriority(f.faker.RandomString(ticketPriorities)),
		Status:      models.TicketStatus(f.faker.RandomString(ticketStatuses)),
		UserID:      author.ID,
		Author:      author.Username,
		CreatedAt:   f.createdAt(),
	}
	if err := f.persist("ticket", ticket, func(id uint) { ticket.ID = id }); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	for i := 0; i < replies; i++ {
		from := author
		if i%2 == 1 && responder != nil {
			from = responder
		}
		msg := &models.TicketMessage{
			TicketID:  ticket.ID,
			UserID:    from.ID,
			Author:    from.Username,
			Content:   f.faker.Sentence(f.faker.Number(4, 16)),
			CreatedAt: ticket.CreatedAt.Add(time.Duration(i+1) * time.Hour),
		}
		if err := f.persist("ticket message", msg, func(id uint) { msg.ID = id }); err != nil {
			return nil, fmt.Errorf("create ticket message: %w", err)
		}
	}
	return ticket, nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "-")
}
