package analytics

import (
	"context"
	"log/slog"
	"time"
)

// Pruner periodically applies retention to an Aggregator. It implements
// suture.Service so the supervisor restarts it if it panics.
type Pruner struct {
	agg      *Aggregator
	interval time.Duration
	logger   *slog.Logger
}

// NewPruner returns a Pruner ticking every interval (10 minutes when unset).
func NewPruner(agg *Aggregator, interval time.Duration, logger *slog.Logger) *Pruner {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{agg: agg, interval: interval, logger: logger}
}

// Serve runs until ctx is cancelled.
func (p *Pruner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := p.agg.Prune(p.agg.now()); removed > 0 {
				p.logger.Debug("analytics records pruned", slog.Int("removed", removed))
			}
		}
	}
}

func (p *Pruner) String() string {
	return "analytics-pruner"
}
