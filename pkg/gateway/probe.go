package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/canopy/pkg/backoff"
	"github.com/verdantlabs/canopy/pkg/logging"
)

// ReadinessReport describes the outcome of a readiness probe.
type ReadinessReport struct {
	Ready    bool
	Status   string
	Attempts int
}

// Probe is the bounded-retry startup readiness check.
type Probe struct {
	gateway  *Gateway
	retry    backoff.Config
	cooldown time.Duration
}

// NewProbe creates a probe with the standard schedule: up to 5 attempts,
// each bounded by the health timeout, with linear backoff between them, and
// a 15 second cool-down between full rounds.
func NewProbe(g *Gateway) *Probe {
	return &Probe{
		gateway: g,
		retry: backoff.Config{
			MaxAttempts:    5,
			BaseDelay:      time.Second,
			MaxDelay:       10 * time.Second,
			AttemptTimeout: g.timeouts.Health,
		},
		cooldown: 15 * time.Second,
	}
}

// AwaitReady probes the readiness endpoint until one attempt reports ready
// or the attempt budget is exhausted.
func (p *Probe) AwaitReady(ctx context.Context) (ReadinessReport, error) {
	attempts := 0
	report, err := backoff.DoWithResult(ctx, p.retry, func(ctx context.Context) (ReadinessReport, error) {
		attempts++
		resp, err := p.gateway.Health(ctx)
		if err != nil {
			if errors.Is(err, ErrOffline) || errors.Is(err, ErrNotReady) {
				return ReadinessReport{}, backoff.Retryable(err)
			}
			return ReadinessReport{}, err
		}
		if !resp.Ready {
			return ReadinessReport{}, backoff.Retryable(fmt.Errorf("%w: %s", ErrNotReady, resp.Status))
		}
		return ReadinessReport{Ready: true, Status: resp.Status}, nil
	})
	report.Attempts = attempts
	if err != nil {
		return report, err
	}
	return report, nil
}

// Run repeats AwaitReady with a fixed cool-down between rounds until the
// backend is ready or the context is cancelled. This is the client's sole
// unbounded retry loop; a prolonged backend startup eventually resolves
// here instead of leaving the session permanently degraded.
func (p *Probe) Run(ctx context.Context) (ReadinessReport, error) {
	total := 0
	for {
		report, err := p.AwaitReady(ctx)
		total += report.Attempts
		if err == nil {
			report.Attempts = total
			return report, nil
		}
		if ctx.Err() != nil {
			report.Attempts = total
			return report, ctx.Err()
		}

		logging.Warn("backend not ready, retrying after cool-down",
			zap.Int("attempts", total),
			zap.Duration("cooldown", p.cooldown),
			zap.Error(err))

		select {
		case <-ctx.Done():
			report.Attempts = total
			return report, ctx.Err()
		case <-time.After(p.cooldown):
		}
	}
}
