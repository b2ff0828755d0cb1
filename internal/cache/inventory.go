package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatsTotalsKey     = "stats:totals"
	BlacklistKeyPrefix = "blacklist:"
	WSTicketKeyPrefix  = "ws_ticket:"
	OnlineUsersKey     = "ws:online_users"
)

const (
	StatsTotalsTTL = 30 * time.Second
	WSTicketTTL    = 30 * time.Second
)

// BlacklistKey is the revocation marker for a token id.
func BlacklistKey(jti string) string {
	return BlacklistKeyPrefix + jti
}

// WSTicketKey stores the user id a single-use socket ticket was issued to.
func WSTicketKey(ticket string) string {
	return WSTicketKeyPrefix + ticket
}

// Invalidate deletes keys, ignoring a missing client.
func Invalidate(ctx context.Context, rdb *redis.Client, keys ...string) {
	if rdb == nil || len(keys) == 0 {
		return
	}
	rdb.Del(ctx, keys...)
}

// InvalidateStats drops cached dashboard totals after users or projects change.
func InvalidateStats(ctx context.Context, rdb *redis.Client) {
	Invalidate(ctx, rdb, StatsTotalsKey)
}
