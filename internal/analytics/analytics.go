// Package analytics keeps bounded in-memory activity logs for the admin
// dashboard: user actions, chat messages, downloads and voice sessions.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"codexverse/internal/observability"
)

// ActionRecord is one logged user or admin action.
type ActionRecord struct {
	UserID    uint              `json:"user_id"`
	Action    string            `json:"action"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ChatRecord is one chat message seen by the realtime layer.
type ChatRecord struct {
	UserID    uint      `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadRecord is one project download.
type DownloadRecord struct {
	UserID    uint      `json:"user_id"`
	ProjectID uint      `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`
}

// VoiceSession spans a user's presence in a voice room. EndedAt is nil while open.
type VoiceSession struct {
	UserID    uint          `json:"user_id"`
	Room      string        `json:"room"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Open reports whether the session has not ended yet.
func (s VoiceSession) Open() bool {
	return s.EndedAt == nil
}

// SystemStats is the dashboard summary.
type SystemStats struct {
	TotalUsers       int64 `json:"total_users"`
	OnlineUsers      int   `json:"online_users"`
	TotalProjects    int64 `json:"total_projects"`
	TotalDownloads   int   `json:"total_downloads"`
	ActiveVoiceRooms int   `json:"active_voice_rooms"`
}

// UserStats summarises one user's activity.
type UserStats struct {
	Messages         int     `json:"messages"`
	VoiceTimeSeconds float64 `json:"voice_time"`
	Downloads        int     `json:"downloads"`
}

// VoiceStats summarises voice room usage.
type VoiceStats struct {
	TotalSessions        int     `json:"total_sessions"`
	ActiveRooms          int     `json:"active_rooms"`
	TotalDurationSeconds float64 `json:"total_duration"`
}

// Activity holds per-day counters keyed YYYY-MM-DD (UTC).
type Activity struct {
	DailyActions     map[string]int `json:"daily_actions"`
	DailyActiveUsers map[string]int `json:"daily_active_users"`
	DailyDownloads   map[string]int `json:"daily_downloads"`
}

// EntityCounter reports persisted totals (users, projects).
type EntityCounter interface {
	Totals(ctx context.Context) (users int64, projects int64, err error)
}

// OnlineCounter reports the size of the online set.
type OnlineCounter interface {
	OnlineCount() int
}

// Options configures an Aggregator.
type Options struct {
	// MaxEvents caps each log; zero means unbounded.
	MaxEvents int
	// Retention drops records older than this on Prune; zero disables age eviction.
	Retention time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Aggregator owns all analytics logs behind one mutex. Queries return copies.
type Aggregator struct {
	mu        sync.Mutex
	actions   []ActionRecord
	chats     []ChatRecord
	downloads []DownloadRecord
	voice     []VoiceSession

	counter EntityCounter
	online  OnlineCounter
	opts    Options
}

// New builds an Aggregator. counter and online may be nil, in which case the
// corresponding stats read as zero.
func New(counter EntityCounter, online OnlineCounter, opts Options) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxEvents < 0 {
		opts.MaxEvents = 0
	}
	return &Aggregator{counter: counter, online: online, opts: opts}
}

func (a *Aggregator) now() time.Time {
	return a.opts.Now().UTC()
}

// LogAction appends a timestamped action record.
func (a *Aggregator) LogAction(userID uint, action string, details map[string]string) {
	rec := ActionRecord{UserID: userID, Action: action, Details: copyDetails(details), Timestamp: a.now()}

	a.mu.Lock()
	a.actions = append(a.actions, rec)
	a.actions = trimBatch(a.actions, a.opts.MaxEvents, "actions")
	a.mu.Unlock()

	observability.AnalyticsRecords.WithLabelValues("action").Inc()
}

// RecordChat appends a chat record.
func (a *Aggregator) RecordChat(userID uint, message string) {
	rec := ChatRecord{UserID: userID, Message: message, Timestamp: a.now()}

	a.mu.Lock()
	a.chats = append(a.chats, rec)
	a.chats = trimBatch(a.chats, a.opts.MaxEvents, "chats")
	a.mu.Unlock()

	observability.AnalyticsRecords.WithLabelValues("chat").Inc()
}

// RecordDownload appends a download record.
func (a *Aggregator) RecordDownload(userID, projectID uint) {
	rec := DownloadRecord{UserID: userID, ProjectID: projectID, Timestamp: a.now()}

	a.mu.Lock()
	a.downloads = append(a.downloads, rec)
	a.downloads = trimBatch(a.downloads, a.opts.MaxEvents, "downloads")
	a.mu.Unlock()

	observability.AnalyticsRecords.WithLabelValues("download").Inc()
}

// StartVoiceSession opens a session for the user in room.
func (a *Aggregator) StartVoiceSession(userID uint, room string) {
	s := VoiceSession{UserID: userID, Room: room, StartedAt: a.now()}

	a.mu.Lock()
	a.voice = append(a.voice, s)
	a.capVoiceLocked()
	a.mu.Unlock()

	observability.AnalyticsRecords.WithLabelValues("voice").Inc()
}

// EndVoiceSession closes the first open session of the user. It returns false
// when the user has no open session.
func (a *Aggregator) EndVoiceSession(userID uint) (VoiceSession, bool) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.voice {
		if a.voice[i].UserID == userID && a.voice[i].Open() {
			closeSession(&a.voice[i], now)
			return a.voice[i], true
		}
	}
	return VoiceSession{}, false
}

// EndVoiceSessionIn closes the user's open session in room, leaving sessions
// in other rooms running.
func (a *Aggregator) EndVoiceSessionIn(userID uint, room string) (VoiceSession, bool) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.voice {
		if a.voice[i].UserID == userID && a.voice[i].Room == room && a.voice[i].Open() {
			closeSession(&a.voice[i], now)
			return a.voice[i], true
		}
	}
	return VoiceSession{}, false
}

func closeSession(s *VoiceSession, now time.Time) {
	end := now
	s.EndedAt = &end
	s.Duration = end.Sub(s.StartedAt)
	if s.Duration < 0 {
		s.Duration = 0
	}
}

// SystemStats combines persisted totals with in-memory counters.
func (a *Aggregator) SystemStats(ctx context.Context) (SystemStats, error) {
	var stats SystemStats
	if a.counter != nil {
		users, projects, err := a.counter.Totals(ctx)
		if err != nil {
			return SystemStats{}, err
		}
		stats.TotalUsers, stats.TotalProjects = users, projects
	}
	if a.online != nil {
		stats.OnlineUsers = a.online.OnlineCount()
	}

	a.mu.Lock()
	stats.TotalDownloads = len(window(a.downloads, a.opts.MaxEvents))
	stats.ActiveVoiceRooms = len(a.activeRoomsLocked())
	a.mu.Unlock()

	return stats, nil
}

// UserStats scans the logs for one user. Volumes are bounded by MaxEvents and
// Retention, so a linear scan is acceptable.
func (a *Aggregator) UserStats(userID uint) UserStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var stats UserStats
	for _, c := range window(a.chats, a.opts.MaxEvents) {
		if c.UserID == userID {
			stats.Messages++
		}
	}
	for _, s := range a.voice {
		if s.UserID == userID && !s.Open() {
			stats.VoiceTimeSeconds += s.Duration.Seconds()
		}
	}
	for _, d := range window(a.downloads, a.opts.MaxEvents) {
		if d.UserID == userID {
			stats.Downloads++
		}
	}
	return stats
}

// RecentActions returns up to n of the newest actions, oldest first.
func (a *Aggregator) RecentActions(n int) []ActionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	actions := window(a.actions, a.opts.MaxEvents)
	if n <= 0 || n > len(actions) {
		n = len(actions)
	}
	return copyActions(actions[len(actions)-n:])
}

// Actions pages through the action log newest first and reports the total.
func (a *Aggregator) Actions(limit, offset int) ([]ActionRecord, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	actions := window(a.actions, a.opts.MaxEvents)
	total := len(actions)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []ActionRecord{}, total
	}
	if limit <= 0 || offset+limit > total {
		limit = total - offset
	}

	out := make([]ActionRecord, 0, limit)
	for i := total - 1 - offset; i >= total-offset-limit; i-- {
		out = append(out, copyAction(actions[i]))
	}
	return out, total
}

// Activity counts actions, distinct active users and downloads per UTC day
// over the last days days ending at now.
func (a *Aggregator) Activity(now time.Time, days int) Activity {
	if days <= 0 {
		days = 7
	}
	since := now.UTC().Add(-time.Duration(days) * 24 * time.Hour)

	act := Activity{
		DailyActions:     map[string]int{},
		DailyActiveUsers: map[string]int{},
		DailyDownloads:   map[string]int{},
	}
	seen := map[string]map[uint]struct{}{}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range window(a.actions, a.opts.MaxEvents) {
		if !rec.Timestamp.After(since) {
			continue
		}
		day := dayKey(rec.Timestamp)
		act.DailyActions[day]++
		if seen[day] == nil {
			seen[day] = map[uint]struct{}{}
		}
		seen[day][rec.UserID] = struct{}{}
	}
	for day, users := range seen {
		act.DailyActiveUsers[day] = len(users)
	}
	for _, d := range window(a.downloads, a.opts.MaxEvents) {
		if d.Timestamp.After(since) {
			act.DailyDownloads[dayKey(d.Timestamp)]++
		}
	}
	return act
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// VoiceStats summarises all retained voice sessions.
func (a *Aggregator) VoiceStats() VoiceStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := VoiceStats{
		TotalSessions: len(a.voice),
		ActiveRooms:   len(a.activeRoomsLocked()),
	}
	for _, s := range a.voice {
		stats.TotalDurationSeconds += s.Duration.Seconds()
	}
	return stats
}

// ActiveVoiceRooms lists rooms with at least one open session, sorted.
func (a *Aggregator) ActiveVoiceRooms() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	rooms := make([]string, 0)
	for room := range a.activeRoomsLocked() {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (a *Aggregator) activeRoomsLocked() map[string]struct{} {
	rooms := make(map[string]struct{})
	for _, s := range a.voice {
		if s.Open() {
			rooms[s.Room] = struct{}{}
		}
	}
	return rooms
}

// Prune evicts records older than the retention window. Open voice sessions are kept.
func (a *Aggregator) Prune(now time.Time) int {
	if a.opts.Retention <= 0 {
		return 0
	}
	cutoff := now.UTC().Add(-a.opts.Retention)

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	var n int
	a.actions, n = dropBefore(a.actions, cutoff, func(r ActionRecord) time.Time { return r.Timestamp })
	removed += n
	observability.AnalyticsEvictions.WithLabelValues("actions", "retention").Add(float64(n))

	a.chats, n = dropBefore(a.chats, cutoff, func(r ChatRecord) time.Time { return r.Timestamp })
	removed += n
	observability.AnalyticsEvictions.WithLabelValues("chats", "retention").Add(float64(n))

	a.downloads, n = dropBefore(a.downloads, cutoff, func(r DownloadRecord) time.Time { return r.Timestamp })
	removed += n
	observability.AnalyticsEvictions.WithLabelValues("downloads", "retention").Add(float64(n))

	kept := a.voice[:0]
	for _, s := range a.voice {
		if s.Open() || s.EndedAt.After(cutoff) {
			kept = append(kept, s)
		}
	}
	n = len(a.voice) - len(kept)
	removed += n
	clearTail(a.voice, len(kept))
	a.voice = kept
	observability.AnalyticsEvictions.WithLabelValues("voice", "retention").Add(float64(n))

	return removed
}

// Reset drops every record. Used on shutdown and in tests.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions, a.chats, a.downloads, a.voice = nil, nil, nil, nil
}

// capVoiceLocked evicts the oldest closed sessions above the cap.
func (a *Aggregator) capVoiceLocked() {
	limit := a.opts.MaxEvents
	if limit <= 0 || len(a.voice) <= limit {
		return
	}
	excess := len(a.voice) - limit
	kept := a.voice[:0]
	for _, s := range a.voice {
		if excess > 0 && !s.Open() {
			excess--
			continue
		}
		kept = append(kept, s)
	}
	evicted := len(a.voice) - len(kept)
	clearTail(a.voice, len(kept))
	a.voice = kept
	observability.AnalyticsEvictions.WithLabelValues("voice", "cap").Add(float64(evicted))
}

// trimBatch lets a log run past limit by a quarter of limit (at least one
// record), then evicts the oldest records in place down to limit. Readers see
// only window(records, limit).
func trimBatch[T any](records []T, limit int, kind string) []T {
	if limit <= 0 || len(records) <= limit+trimSlack(limit) {
		return records
	}
	excess := len(records) - limit
	n := copy(records, records[excess:])
	clearTail(records, n)
	observability.AnalyticsEvictions.WithLabelValues(kind, "cap").Add(float64(excess))
	return records[:n]
}

func trimSlack(limit int) int {
	return max(limit/4, 1)
}

// window is the newest limit records of a log.
func window[T any](records []T, limit int) []T {
	if limit > 0 && len(records) > limit {
		return records[len(records)-limit:]
	}
	return records
}

func dropBefore[T any](records []T, cutoff time.Time, ts func(T) time.Time) ([]T, int) {
	i := sort.Search(len(records), func(i int) bool { return ts(records[i]).After(cutoff) })
	if i == 0 {
		return records, 0
	}
	out := make([]T, len(records)-i)
	copy(out, records[i:])
	return out, i
}

func clearTail[T any](s []T, from int) {
	var zero T
	for i := from; i < len(s); i++ {
		s[i] = zero
	}
}

func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]string, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

func copyAction(r ActionRecord) ActionRecord {
	r.Details = copyDetails(r.Details)
	return r
}

func copyActions(records []ActionRecord) []ActionRecord {
	out := make([]ActionRecord, len(records))
	for i, r := range records {
		out[i] = copyAction(r)
	}
	return out
}
