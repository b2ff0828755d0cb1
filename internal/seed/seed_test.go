package seed

import (
	"testing"

	"codexverse/internal/database"
	"codexverse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestRun(t *testing.T) {
	db := setupSQLiteDB(t)
	opts := Options{NumUsers: 4, NumCategories: 2, NumProjects: 6, NumTickets: 3, MaxDays: 10, RandSeed: 42}

	sum, err := Run(db, opts)
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 5, Categories: 2, Projects: 6, Tickets: 3}, sum)

	assert.Equal(t, int64(5), count(t, db, &models.User{}))
	assert.Equal(t, int64(6), count(t, db, &models.Project{}))
	assert.Equal(t, int64(3), count(t, db, &models.Ticket{}))

	var staff models.User
	require.NoError(t, db.Where("role = ?", models.RoleStaff).First(&staff).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(staff.Password), []byte(DemoPassword)))

	var uncategorised int64
	require.NoError(t, db.Model(&models.Project{}).Where("category_id IS NULL").Count(&uncategorised).Error)
	assert.Equal(t, int64(1), uncategorised)
}

func TestRunCleanKeepsAdmins(t *testing.T) {
	db := setupSQLiteDB(t)
	require.NoError(t, db.Create(&models.User{Username: "root", Email: "root@example.com", Password: "x", Role: models.RoleAdmin}).Error)

	_, err := Run(db, Options{NumUsers: 2, NumCategories: 1, NumProjects: 2, NumTickets: 2, SkipBcrypt: true})
	require.NoError(t, err)

	sum, err := Run(db, Options{NumUsers: 1, NumCategories: 1, NumProjects: 1, ShouldClean: true, SkipBcrypt: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Users)

	assert.Equal(t, int64(3), count(t, db, &models.User{}))
	assert.Equal(t, int64(1), count(t, db, &models.Project{}))
	assert.Zero(t, count(t, db, &models.Ticket{}))
	assert.Zero(t, count(t, db, &models.TicketMessage{}))
}

func TestRunDryRunWritesNothing(t *testing.T) {
	db := setupSQLiteDB(t)

	sum, err := Run(db, Options{NumUsers: 3, NumCategories: 2, NumProjects: 4, NumTickets: 2, DryRun: true, SkipBcrypt: true})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Users)
	assert.Zero(t, count(t, db, &models.User{}))
	assert.Zero(t, count(t, db, &models.Project{}))
}

func TestFactoryBuildsValidEntities(t *testing.T) {
	f := NewFactory(nil, Options{DryRun: true, SkipBcrypt: true, MaxDays: 5})

	u := f.BuildUser()
	assert.NotEmpty(t, u.Username)
	assert.Contains(t, u.Email, u.Username+"@")
	assert.Equal(t, models.RoleUser, u.Role)

	category, err := f.CreateCategory("Tools")
	require.NoError(t, err)
	p := f.BuildProject(category)
	require.NotNil(t, p.CategoryID)
	assert.Equal(t, category.ID, *p.CategoryID)
	assert.Contains(t, p.DownloadLink, "https://downloads.example.com/")

	ticket, err := f.CreateTicket(u, nil, 2)
	require.NoError(t, err)
	assert.True(t, ticket.Status.Valid())
	assert.True(t, ticket.Priority.Valid())
	assert.Equal(t, u.Username, ticket.Author)
}

func TestFixtures(t *testing.T) {
	db := setupSQLiteDB(t)

	fx, err := LoadFixtures("testdata/catalogue.yml")
	require.NoError(t, err)
	require.Len(t, fx.Categories, 2)

	sum, err := fx.Apply(db)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Categories)
	assert.Equal(t, 4, sum.Projects)

	again, err := fx.Apply(db)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, again)
	assert.Equal(t, int64(4), count(t, db, &models.Project{}))

	var kit models.Project
	require.NoError(t, db.Where("title = ?", "Starter Kit").First(&kit).Error)
	assert.Nil(t, kit.CategoryID)
}

func TestParseFixturesRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "categories:\n  - name: Tools\n    colour: red\n"},
		{"missing link", "projects:\n  - title: Nothing to download\n"},
		{"missing category name", "categories:\n  - projects: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
