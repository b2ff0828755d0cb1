package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type totals struct {
	Users    int64 `json:"users"`
	Projects int64 `json:"projects"`
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestNewClient_AddrAndURL(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	_ = rdb.Close()

	rdb, err = NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = rdb.Close()

	_, err = NewClient(context.Background(), "redis://%zz")
	assert.Error(t, err)
}

func TestInitRedis_FailureLeavesNilClient(t *testing.T) {
	t.Cleanup(func() { SetClient(nil) })

	assert.Nil(t, InitRedis("127.0.0.1:1"))
	assert.Nil(t, GetClient())

	mr := miniredis.RunT(t)
	assert.NotNil(t, InitRedis(mr.Addr()))
	assert.NotNil(t, GetClient())
}

func TestAside_CachesFetchedValue(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *totals) func() error {
		return func() error {
			calls++
			dest.Users, dest.Projects = 3, 4
			return nil
		}
	}

	var first totals
	require.NoError(t, Aside(ctx, rdb, StatsTotalsKey, &first, StatsTotalsTTL, fetch(&first)))
	assert.Equal(t, totals{3, 4}, first)
	assert.True(t, mr.Exists(StatsTotalsKey))

	var second totals
	require.NoError(t, Aside(ctx, rdb, StatsTotalsKey, &second, StatsTotalsTTL, fetch(&second)))
	assert.Equal(t, totals{3, 4}, second)
	assert.Equal(t, 1, calls)

	InvalidateStats(ctx, rdb)
	assert.False(t, mr.Exists(StatsTotalsKey))

	mr.FastForward(time.Minute)
}

func TestAside_NilClientPassesThrough(t *testing.T) {
	var out totals
	err := Aside(context.Background(), nil, StatsTotalsKey, &out, time.Second, func() error {
		out.Users = 1
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Users)

	found, err := GetJSON(context.Background(), nil, "k", &out)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, SetJSON(context.Background(), nil, "k", out, time.Second))
}

func TestAside_FetchErrorNotCached(t *testing.T) {
	mr, rdb := setupRedis(t)
	var out totals
	err := Aside(context.Background(), rdb, "k", &out, time.Second, func() error { return errors.New("db down") })
	assert.Error(t, err)
	assert.False(t, mr.Exists("k"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "blacklist:abc", BlacklistKey("abc"))
	assert.Equal(t, "ws_ticket:xyz", WSTicketKey("xyz"))
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 2, Timeout: time.Minute})
	fail := func() (interface{}, error) { return nil, errors.New("boom") }

	_, _ = cb.Execute(fail)
	_, _ = cb.Execute(fail)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
