package service

import (
	"sync"
	"testing"

	"codexverse/internal/database"
	"codexverse/internal/models"
	"codexverse/internal/realtime"
	"codexverse/internal/repository"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "Str0ng!Passw0rd"

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	return db
}

func createUser(t *testing.T, db *gorm.DB, username string, role models.Role) *models.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: string(hashed),
		Role:     role,
	}
	require.NoError(t, repository.NewUserRepository(db).Create(t.Context(), u))
	return u
}

type sentEvent struct {
	Room  realtime.Room
	Event realtime.Event
	All   bool
}

type recordingPublisher struct {
	mu           sync.Mutex
	events       []sentEvent
	disconnected []uint
}

func (p *recordingPublisher) BroadcastAll(e realtime.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sentEvent{Event: e, All: true})
	return 1
}

func (p *recordingPublisher) BroadcastRoom(room realtime.Room, e realtime.Event, _ *realtime.Client) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sentEvent{Room: room, Event: e})
	return 1
}

func (p *recordingPublisher) DisconnectUser(userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, userID)
	return 1
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event.Type
	}
	return out
}

type loggedAction struct {
	UserID  uint
	Action  string
	Details map[string]string
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []loggedAction
}

func (a *recordingAudit) LogAction(userID uint, action string, details map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, loggedAction{userID, action, details})
}

func (a *recordingAudit) last() loggedAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.actions) == 0 {
		return loggedAction{}
	}
	return a.actions[len(a.actions)-1]
}

func assertCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code, appErr.Message)
	require.Equal(t, status, appErr.HTTPStatus())
}
