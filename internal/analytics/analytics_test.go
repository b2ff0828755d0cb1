package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticCounter struct {
	users, projects int64
	err             error
}

func (s staticCounter) Totals(context.Context) (int64, int64, error) {
	return s.users, s.projects, s.err
}

type staticOnline int

func (s staticOnline) OnlineCount() int { return int(s) }

func newTestAggregator(opts Options) (*Aggregator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	return New(staticCounter{users: 4, projects: 2}, staticOnline(3), opts), clock
}

func TestVoiceSessionLifecycle(t *testing.T) {
	agg, clock := newTestAggregator(Options{})

	agg.StartVoiceSession(1, "lobby")
	agg.StartVoiceSession(1, "dev")
	clock.Advance(90 * time.Second)

	s, ok := agg.EndVoiceSession(1)
	require.True(t, ok)
	assert.Equal(t, "lobby", s.Room, "first open session closes first")
	assert.Equal(t, 90*time.Second, s.Duration)
	require.NotNil(t, s.EndedAt)

	assert.Equal(t, []string{"dev"}, agg.ActiveVoiceRooms())

	s, ok = agg.EndVoiceSessionIn(1, "dev")
	require.True(t, ok)
	assert.Equal(t, "dev", s.Room)

	_, ok = agg.EndVoiceSession(1)
	assert.False(t, ok)
	assert.Empty(t, agg.ActiveVoiceRooms())
}

func TestEndVoiceSessionNeverNegative(t *testing.T) {
	agg, clock := newTestAggregator(Options{})
	agg.StartVoiceSession(2, "lobby")
	clock.Advance(-time.Minute)

	s, ok := agg.EndVoiceSession(2)
	require.True(t, ok)
	assert.Zero(t, s.Duration)
}

func TestSystemStats(t *testing.T) {
	agg, _ := newTestAggregator(Options{})
	agg.RecordDownload(1, 10)
	agg.RecordDownload(2, 10)
	agg.StartVoiceSession(1, "lobby")
	agg.StartVoiceSession(2, "lobby")
	agg.StartVoiceSession(3, "music")

	stats, err := agg.SystemStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SystemStats{
		TotalUsers:       4,
		OnlineUsers:      3,
		TotalProjects:    2,
		TotalDownloads:   2,
		ActiveVoiceRooms: 2,
	}, stats)
}

func TestSystemStatsCounterError(t *testing.T) {
	agg := New(staticCounter{err: errors.New("db down")}, nil, Options{})
	_, err := agg.SystemStats(context.Background())
	assert.Error(t, err)

	agg = New(nil, nil, Options{})
	stats, err := agg.SystemStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats)
}

func TestUserStats(t *testing.T) {
	agg, clock := newTestAggregator(Options{})
	agg.RecordChat(1, "hi")
	agg.RecordChat(1, "there")
	agg.RecordChat(2, "other")
	agg.RecordDownload(1, 5)
	agg.StartVoiceSession(1, "lobby")
	clock.Advance(30 * time.Second)
	agg.EndVoiceSession(1)
	agg.StartVoiceSession(1, "lobby")

	stats := agg.UserStats(1)
	assert.Equal(t, 2, stats.Messages)
	assert.Equal(t, 1, stats.Downloads)
	assert.InDelta(t, 30.0, stats.VoiceTimeSeconds, 0.001)

	assert.Zero(t, agg.UserStats(99))
}

func TestRecentActionsAndPaging(t *testing.T) {
	agg, clock := newTestAggregator(Options{})
	for i := 1; i <= 5; i++ {
		agg.LogAction(uint(i), "connect", nil)
		clock.Advance(time.Second)
	}

	recent := agg.RecentActions(2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint(4), recent[0].UserID)
	assert.Equal(t, uint(5), recent[1].UserID)
	assert.Len(t, agg.RecentActions(50), 5)

	page, total := agg.Actions(2, 1)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, uint(4), page[0].UserID)
	assert.Equal(t, uint(3), page[1].UserID)

	page, total = agg.Actions(10, 10)
	assert.Equal(t, 5, total)
	assert.Empty(t, page)
}

func TestQueriesReturnCopies(t *testing.T) {
	agg, _ := newTestAggregator(Options{})
	details := map[string]string{"banned_user_id": "7"}
	agg.LogAction(1, "ban_user", details)
	details["banned_user_id"] = "8"

	got := agg.RecentActions(1)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Details["banned_user_id"])

	got[0].Details["banned_user_id"] = "9"
	assert.Equal(t, "7", agg.RecentActions(1)[0].Details["banned_user_id"])
}

func TestActivity(t *testing.T) {
	agg, clock := newTestAggregator(Options{})
	agg.LogAction(1, "connect", nil)
	agg.LogAction(1, "disconnect", nil)
	agg.LogAction(2, "connect", nil)
	agg.RecordDownload(1, 3)

	clock.Advance(24 * time.Hour)
	agg.LogAction(3, "connect", nil)
	agg.RecordDownload(3, 3)
	agg.RecordDownload(3, 4)

	act := agg.Activity(clock.Now(), 7)
	assert.Equal(t, map[string]int{"2026-05-10": 3, "2026-05-11": 1}, act.DailyActions)
	assert.Equal(t, map[string]int{"2026-05-10": 2, "2026-05-11": 1}, act.DailyActiveUsers)
	assert.Equal(t, map[string]int{"2026-05-10": 1, "2026-05-11": 2}, act.DailyDownloads)

	act = agg.Activity(clock.Now().Add(10*24*time.Hour), 7)
	assert.Empty(t, act.DailyActions)
}

func TestVoiceStats(t *testing.T) {
	agg, clock := newTestAggregator(Options{})
	agg.StartVoiceSession(1, "lobby")
	agg.StartVoiceSession(2, "music")
	clock.Advance(10 * time.Second)
	agg.EndVoiceSession(1)

	stats := agg.VoiceStats()
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveRooms)
	assert.InDelta(t, 10.0, stats.TotalDurationSeconds, 0.001)
}

func TestCapEvictsOldestFirst(t *testing.T) {
	agg, _ := newTestAggregator(Options{MaxEvents: 3})
	for i := 1; i <= 5; i++ {
		agg.LogAction(uint(i), "connect", nil)
		agg.RecordChat(uint(i), "msg")
	}

	actions := agg.RecentActions(0)
	require.Len(t, actions, 3)
	assert.Equal(t, uint(3), actions[0].UserID)
	assert.Equal(t, 3, agg.UserStats(3).Messages+agg.UserStats(4).Messages+agg.UserStats(5).Messages)
	assert.Zero(t, agg.UserStats(1).Messages)
}

func TestCapTrimsInPlace(t *testing.T) {
	agg, _ := newTestAggregator(Options{MaxEvents: 8})
	for i := 1; i <= 11; i++ {
		agg.LogAction(uint(i), "connect", nil)
	}
	agg.mu.Lock()
	base, capacity := &agg.actions[0], cap(agg.actions)
	agg.mu.Unlock()

	for i := 12; i <= 400; i++ {
		agg.LogAction(uint(i), "connect", nil)

		actions := agg.RecentActions(0)
		require.Len(t, actions, 8)
		assert.Equal(t, uint(i-7), actions[0].UserID)
		assert.Equal(t, uint(i), actions[7].UserID)
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()
	assert.Same(t, base, &agg.actions[0], "trimming must reuse the backing array")
	assert.Equal(t, capacity, cap(agg.actions))
	assert.LessOrEqual(t, len(agg.actions), 8+trimSlack(8))
}

func TestEndVoiceSessionInRoom(t *testing.T) {
	agg, clock := newTestAggregator(Options{})
	agg.StartVoiceSession(1, "lobby")
	agg.StartVoiceSession(1, "dev")
	clock.Advance(time.Minute)

	s, ok := agg.EndVoiceSessionIn(1, "dev")
	require.True(t, ok)
	assert.Equal(t, "dev", s.Room)
	assert.Equal(t, []string{"lobby"}, agg.ActiveVoiceRooms())

	_, ok = agg.EndVoiceSessionIn(1, "dev")
	assert.False(t, ok)
	_, ok = agg.EndVoiceSessionIn(2, "lobby")
	assert.False(t, ok, "another user's session stays open")
	assert.Equal(t, []string{"lobby"}, agg.ActiveVoiceRooms())
}

func TestCapKeepsOpenVoiceSessions(t *testing.T) {
	agg, _ := newTestAggregator(Options{MaxEvents: 2})
	agg.StartVoiceSession(1, "a")
	agg.StartVoiceSession(2, "b")
	agg.StartVoiceSession(3, "c")

	// All open: nothing may be evicted.
	assert.Equal(t, 3, agg.VoiceStats().TotalSessions)

	agg.EndVoiceSession(2)
	agg.StartVoiceSession(4, "d")
	stats := agg.VoiceStats()
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, []string{"a", "c", "d"}, agg.ActiveVoiceRooms())
}

func TestPruneRetention(t *testing.T) {
	agg, clock := newTestAggregator(Options{Retention: time.Hour})
	agg.LogAction(1, "connect", nil)
	agg.RecordChat(1, "old")
	agg.RecordDownload(1, 1)
	agg.StartVoiceSession(1, "old-open")
	agg.StartVoiceSession(2, "old-closed")
	agg.EndVoiceSession(2)

	clock.Advance(2 * time.Hour)
	agg.LogAction(2, "connect", nil)

	removed := agg.Prune(clock.Now())
	assert.Equal(t, 4, removed)
	assert.Len(t, agg.RecentActions(0), 1)
	assert.Zero(t, agg.UserStats(1).Messages)
	assert.Equal(t, []string{"old-open"}, agg.ActiveVoiceRooms())
	assert.Equal(t, 1, agg.VoiceStats().TotalSessions)
}

func TestPruneDisabled(t *testing.T) {
	agg, clock := newTestAggregator(Options{})
	agg.LogAction(1, "connect", nil)
	clock.Advance(1000 * time.Hour)
	assert.Zero(t, agg.Prune(clock.Now()))
}

func TestReset(t *testing.T) {
	agg, _ := newTestAggregator(Options{})
	agg.LogAction(1, "connect", nil)
	agg.StartVoiceSession(1, "lobby")
	agg.Reset()
	assert.Empty(t, agg.RecentActions(0))
	assert.Zero(t, agg.VoiceStats().TotalSessions)
}

func TestConcurrentRecording(t *testing.T) {
	agg, _ := newTestAggregator(Options{MaxEvents: 100})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				agg.LogAction(id, "connect", nil)
				agg.RecordChat(id, "x")
				agg.StartVoiceSession(id, "room")
				agg.EndVoiceSession(id)
				_ = agg.UserStats(id)
			}
		}(uint(i))
	}
	wg.Wait()

	assert.Len(t, agg.RecentActions(0), 100)
	assert.Empty(t, agg.ActiveVoiceRooms())
}

func TestPrunerStopsOnCancel(t *testing.T) {
	agg, clock := newTestAggregator(Options{Retention: time.Minute})
	agg.LogAction(1, "connect", nil)
	clock.Advance(time.Hour)

	p := NewPruner(agg, 5*time.Millisecond, nil)
	assert.Equal(t, "analytics-pruner", p.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	assert.Eventually(t, func() bool {
		return len(agg.RecentActions(0)) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}
