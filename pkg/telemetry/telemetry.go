// Package telemetry tracks cache counters and polls backend cache status.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/verdantlabs/canopy/pkg/gateway"
	"github.com/verdantlabs/canopy/pkg/logging"
	"github.com/verdantlabs/canopy/pkg/models"
)

var (
	cachedResponsesMetric = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canopy_cached_responses_total",
			Help: "Responses the backend served from its cache",
		},
	)

	cacheEntriesMetric = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canopy_backend_cache_entries",
			Help: "Total entries reported by the backend cache",
		},
	)
)

// cachedResponses is the process-wide served-from-cache counter. It is
// incremented only when a response arrives flagged as cached and reset only
// on a full reload.
var cachedResponses atomic.Int64

// RecordCachedResponse increments the served-from-cache counter.
func RecordCachedResponse() {
	cachedResponses.Add(1)
	cachedResponsesMetric.Inc()
}

// ResetCachedResponses zeroes the counter. Called only on full reload.
func ResetCachedResponses() {
	cachedResponses.Store(0)
}

// CachedResponses returns the current counter value.
func CachedResponses() int {
	return int(cachedResponses.Load())
}

// Poller periodically fetches backend cache status. It is a background task
// tied to the lifetime of the context passed to Run.
type Poller struct {
	gateway  *gateway.Gateway
	interval time.Duration

	mu           sync.RWMutex
	totalEntries int
}

// NewPoller creates a poller. A zero interval defaults to 30 seconds.
func NewPoller(g *gateway.Gateway, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{gateway: g, interval: interval}
}

// Run polls until the context is cancelled. Poll failures are logged and
// skipped; the previous reading stays visible.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches cache status once and records the reading.
func (p *Poller) Poll(ctx context.Context) {
	status, err := p.gateway.CacheStatus(ctx)
	if err != nil {
		logging.Debug("cache status poll failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	p.totalEntries = status.TotalEntries
	p.mu.Unlock()
	cacheEntriesMetric.Set(float64(status.TotalEntries))
}

// Snapshot returns the current telemetry counters.
func (p *Poller) Snapshot() models.CacheTelemetry {
	p.mu.RLock()
	total := p.totalEntries
	p.mu.RUnlock()
	return models.CacheTelemetry{
		TotalEntries:    total,
		CachedResponses: CachedResponses(),
	}
}
