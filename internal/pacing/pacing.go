// Package pacing shapes request cadence with randomized, cancellable delays and
// an optional global token bucket.
package pacing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/profile-validator/internal/metrics"
	"github.com/JakeFAU/profile-validator/internal/random"
)

// Range is an inclusive duration interval a delay is drawn from.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Draw returns a uniformly distributed duration in the range.
func (r Range) Draw(src random.Source) time.Duration {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(src.Int64N(int64(hi-lo)+1))
}

// Config controls the Pacer.
type Config struct {
	RequestDelay Range
	BatchDelay   Range
	// GlobalRPS caps attempts per second across all credentials; zero disables it.
	GlobalRPS   float64
	GlobalBurst int
}

// Pacer implements validator.Pacer.
type Pacer struct {
	cfg     Config
	limiter *rate.Limiter
	src     random.Source
	logger  *zap.Logger
}

// New builds a Pacer. A nil source falls back to the shared generator.
func New(cfg Config, src random.Source, logger *zap.Logger) *Pacer {
	if src == nil {
		src = random.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.GlobalRPS)
	if cfg.GlobalRPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.GlobalBurst
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		src:     src,
		logger:  logger,
	}
}

// BeforeRequest waits for the global bucket and then a randomized request delay.
func (p *Pacer) BeforeRequest(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("global rate wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacingDelay("global", waited)
	}
	return p.sleep(ctx, "request", p.cfg.RequestDelay.Draw(p.src))
}

// BetweenBatches waits a randomized inter-batch delay.
func (p *Pacer) BetweenBatches(ctx context.Context) error {
	return p.sleep(ctx, "batch", p.cfg.BatchDelay.Draw(p.src))
}

func (p *Pacer) sleep(ctx context.Context, kind string, delay time.Duration) error {
	if delay > 0 {
		p.logger.Debug("pacing", zap.String("kind", kind), zap.Duration("delay", delay))
	}
	if err := Sleep(ctx, delay); err != nil {
		return fmt.Errorf("%s delay: %w", kind, err)
	}
	metrics.ObservePacingDelay(kind, delay)
	return nil
}

// Sleep blocks for delay or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
