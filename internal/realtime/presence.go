package realtime

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"codexverse/internal/cache"
	"codexverse/internal/middleware"
	"codexverse/internal/observability"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
)

const mirrorTimeout = 500 * time.Millisecond

// Presence reference-counts live connections per user. A user is online while
// at least one connection is registered. The online set is mirrored into a
// Redis set on a best-effort basis, outside mu so Redis latency never stalls
// presence reads.
type Presence struct {
	mu     sync.Mutex
	counts map[uint]int

	// mirrorMu serializes Redis writes.
	mirrorMu sync.Mutex

	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker[interface{}]
	key     string
	trace   *observability.TraceLayer
}

// NewPresence returns an empty presence set. rdb may be nil.
func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{
		counts:  make(map[uint]int),
		rdb:     rdb,
		breaker: cache.NewBreaker(cache.DefaultBreakerConfig("presence-mirror")),
		key:     cache.OnlineUsersKey,
		trace:   observability.GetTraceLayer(),
	}
}

// Connect records a new connection and reports whether the user just came online.
func (p *Presence) Connect(ctx context.Context, userID uint) bool {
	p.mu.Lock()
	p.counts[userID]++
	online := p.counts[userID] == 1
	if online {
		observability.OnlineUsers.Set(float64(len(p.counts)))
	}
	p.mu.Unlock()

	if online {
		p.syncMember(ctx, userID)
	}
	return online
}

// Disconnect releases one connection and reports whether the user went offline.
// Releasing an unknown user is a no-op.
func (p *Presence) Disconnect(ctx context.Context, userID uint) bool {
	p.mu.Lock()
	n, ok := p.counts[userID]
	switch {
	case !ok:
		p.mu.Unlock()
		return false
	case n > 1:
		p.counts[userID] = n - 1
		p.mu.Unlock()
		return false
	}
	delete(p.counts, userID)
	observability.OnlineUsers.Set(float64(len(p.counts)))
	p.mu.Unlock()

	p.syncMember(ctx, userID)
	return true
}

// syncMember writes the user's current state, not the transition that
// triggered it, so racing connect and disconnect mirrors settle on the last
// state.
func (p *Presence) syncMember(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	p.mirrorMu.Lock()
	defer p.mirrorMu.Unlock()

	member := memberKey(userID)
	if p.IsOnline(userID) {
		p.mirror(ctx, "sadd", func(ctx context.Context) error {
			return p.rdb.SAdd(ctx, p.key, member).Err()
		})
		return
	}
	p.mirror(ctx, "srem", func(ctx context.Context) error {
		return p.rdb.SRem(ctx, p.key, member).Err()
	})
}

// IsOnline reports whether the user has a live connection on this node.
func (p *Presence) IsOnline(userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

// Connections returns the number of live connections of the user.
func (p *Presence) Connections(userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID]
}

// OnlineCount returns the number of distinct online users.
func (p *Presence) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.counts)
}

// OnlineUsers lists online user ids in ascending order.
func (p *Presence) OnlineUsers() []uint {
	p.mu.Lock()
	ids := make([]uint, 0, len(p.counts))
	for id := range p.counts {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResetMirror drops the Redis set. Presence does not survive a restart, so the
// server calls this at startup.
func (p *Presence) ResetMirror(ctx context.Context) {
	p.mirrorMu.Lock()
	defer p.mirrorMu.Unlock()
	p.mirror(ctx, "del", func(ctx context.Context) error {
		return p.rdb.Del(ctx, p.key).Err()
	})
}

func (p *Presence) mirror(ctx context.Context, op string, fn func(context.Context) error) {
	if p.rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	ctx, span := p.trace.TraceRedisOperation(ctx, op)
	defer span.End()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		span.RecordError(err)
		middleware.Logger.Debug("presence mirror failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

func memberKey(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}
