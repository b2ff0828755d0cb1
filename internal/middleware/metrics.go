package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSockets tracks currently upgraded /api/ws connections.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codexverse_active_websockets",
		Help: "Number of open WebSocket connections",
	})

	// RedisErrors counts failed Redis commands by operation.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codexverse_redis_errors_total",
		Help: "Redis command failures",
	}, []string{"operation"})

	metricsOnce sync.Once
	httpMetrics *fiberprometheus.FiberPrometheus
)

// InitMetrics returns the process-wide HTTP metrics collector.
// fiberprometheus registers its collectors globally, so it is created once.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	metricsOnce.Do(func() {
		httpMetrics = fiberprometheus.New(serviceName)
	})
	return httpMetrics
}
