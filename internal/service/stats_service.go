package service

import (
	"context"

	"codexverse/internal/cache"
	"codexverse/internal/repository"

	"github.com/redis/go-redis/v9"
)

// Totals is the cached pair of persisted entity counts.
type Totals struct {
	Users    int64 `json:"users"`
	Projects int64 `json:"projects"`
}

// TotalsCounter reads user and project counts through a short Redis
// cache-aside. It satisfies analytics.EntityCounter.
type TotalsCounter struct {
	users    repository.UserRepository
	projects repository.ProjectRepository
	rdb      *redis.Client
}

// NewTotalsCounter builds a counter; rdb may be nil to always hit the database.
func NewTotalsCounter(users repository.UserRepository, projects repository.ProjectRepository, rdb *redis.Client) *TotalsCounter {
	return &TotalsCounter{users: users, projects: projects, rdb: rdb}
}

// Totals returns the user and project counts.
func (t *TotalsCounter) Totals(ctx context.Context) (int64, int64, error) {
	var totals Totals
	err := cache.Aside(ctx, t.rdb, cache.StatsTotalsKey, &totals, cache.StatsTotalsTTL, func() error {
		users, err := t.users.Count(ctx)
		if err != nil {
			return err
		}
		projects, err := t.projects.Count(ctx)
		if err != nil {
			return err
		}
		totals = Totals{Users: users, Projects: projects}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return totals.Users, totals.Projects, nil
}

// Invalidate drops the cached totals after a create or delete.
func (t *TotalsCounter) Invalidate(ctx context.Context) {
	cache.InvalidateStats(ctx, t.rdb)
}
