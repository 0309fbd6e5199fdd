package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/clock/system"
	"github.com/JakeFAU/profile-validator/internal/metrics"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Defaults applied when Config fields are zero.
const (
	DefaultConcurrency       = 3
	DefaultFlushEvery        = 5
	DefaultFinalFlushTimeout = 30 * time.Second
)

// ErrFinalFlush marks a Run whose last flush failed, so the sink may not hold
// every recorded result. It is reported even when the run was cancelled.
var ErrFinalFlush = errors.New("final flush failed")

// Config controls Engine behavior.
type Config struct {
	// Concurrency is the number of items dispatched together in one batch.
	Concurrency int
	// FlushEvery triggers a full sink flush after this many recorded results.
	FlushEvery int
	// FinalFlushTimeout bounds the flush that runs on every exit path.
	FinalFlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = DefaultFlushEvery
	}
	if c.FinalFlushTimeout <= 0 {
		c.FinalFlushTimeout = DefaultFinalFlushTimeout
	}
	return c
}

// Deps are the collaborators an Engine drives. Pool, Fetcher, Classifier and
// Sink are required.
type Deps struct {
	Pool       validator.CredentialPool
	Fetcher    validator.Fetcher
	Classifier validator.Classifier
	Sink       validator.ResultSink
	Pacer      validator.Pacer
	Clock      validator.Clock
	Progress   *Progress
	Logger     *zap.Logger
}

// Engine validates work items with per-item credential failover.
type Engine struct {
	cfg        Config
	pool       validator.CredentialPool
	fetcher    validator.Fetcher
	classifier validator.Classifier
	sink       validator.ResultSink
	pacer      validator.Pacer
	clock      validator.Clock
	progress   *Progress
	logger     *zap.Logger
}

// New constructs an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Pool == nil:
		return nil, errors.New("dispatch: credential pool is required")
	case deps.Fetcher == nil:
		return nil, errors.New("dispatch: fetcher is required")
	case deps.Classifier == nil:
		return nil, errors.New("dispatch: classifier is required")
	case deps.Sink == nil:
		return nil, errors.New("dispatch: result sink is required")
	}
	if deps.Pacer == nil {
		deps.Pacer = noPacing{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Progress == nil {
		deps.Progress = NewProgress("", deps.Pool)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		pool:       deps.Pool,
		fetcher:    deps.Fetcher,
		classifier: deps.Classifier,
		sink:       deps.Sink,
		pacer:      deps.Pacer,
		clock:      deps.Clock,
		progress:   deps.Progress,
		logger:     deps.Logger,
	}, nil
}

// Progress returns the tracker the engine reports into.
func (e *Engine) Progress() *Progress {
	return e.progress
}

// Run validates items in input order and returns the run summary. The sink
// receives a final flush on every exit path. When ctx is cancelled Run
// records the completed prefix of the current batch and returns ctx.Err(),
// joined with ErrFinalFlush when that flush fails.
func (e *Engine) Run(ctx context.Context, items []validator.WorkItem) (summary validator.Summary, err error) {
	unique, skipped := Dedupe(items)
	for i := 0; i < skipped; i++ {
		metrics.ObserveSkipped()
	}
	if skipped > 0 {
		e.logger.Info("skipped duplicate targets", zap.Int("skipped", skipped))
	}

	results := make([]validator.Result, 0, len(unique))
	e.progress.start(e.clock.Now(), len(unique), skipped)
	e.logger.Info("validation started",
		zap.Int("items", len(unique)),
		zap.Int("credentials", len(e.pool.All())),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FinalFlushTimeout)
		defer cancel()
		if ferr := e.flush(flushCtx, results); ferr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrFinalFlush, ferr))
		}
		summary = validator.Summarize(results)
		summary.Skipped = skipped
		e.progress.finish(e.clock.Now(), ctx.Err() != nil)
		e.logger.Info("validation finished",
			zap.Int("total", summary.Total),
			zap.Int("valid", summary.Valid),
			zap.Int("invalid", summary.Invalid),
			zap.Int("errors", summary.Errors),
			zap.Int("skipped", summary.Skipped),
			zap.Bool("interrupted", ctx.Err() != nil),
		)
	}()

	for start := 0; start < len(unique); start += e.cfg.Concurrency {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if start > 0 {
			if werr := e.pacer.BetweenBatches(ctx); werr != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				e.logger.Warn("batch delay failed", zap.Error(werr))
			}
		}
		end := min(start+e.cfg.Concurrency, len(unique))
		for _, r := range e.runBatch(ctx, unique[start:end]) {
			results = e.record(ctx, results, r)
		}
		if ctx.Err() != nil {
			e.logger.Warn("validation interrupted", zap.Int("recorded", len(results)))
			return summary, ctx.Err()
		}
	}
	return summary, nil
}

// Process validates a single item outside a batch run. It returns ctx.Err()
// when the item was abandoned by cancellation.
func (e *Engine) Process(ctx context.Context, item validator.WorkItem) (validator.Result, error) {
	r, ok := e.processItem(ctx, item)
	if !ok {
		if err := ctx.Err(); err != nil {
			return validator.Result{}, err
		}
		return validator.Result{}, errors.New("item abandoned")
	}
	return r, nil
}

// runBatch processes batch concurrently and returns the completed prefix in
// dispatch order.
func (e *Engine) runBatch(ctx context.Context, batch []validator.WorkItem) []validator.Result {
	out := make([]validator.Result, len(batch))
	done := make([]bool, len(batch))
	var wg sync.WaitGroup
	for i, item := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i], done[i] = e.processItem(ctx, item)
		}()
	}
	wg.Wait()

	for i := range batch {
		if !done[i] {
			return out[:i]
		}
	}
	return out
}

func (e *Engine) record(ctx context.Context, results []validator.Result, r validator.Result) []validator.Result {
	results = append(results, r)
	metrics.ObserveResult(r.Target, string(r.Verdict))
	e.progress.record(r)
	if err := e.sink.Append(context.WithoutCancel(ctx), r); err != nil {
		e.logger.Error("append result", zap.String("key", r.Key), zap.String("target", r.Target), zap.Error(err))
	}
	if len(results)%e.cfg.FlushEvery == 0 && ctx.Err() == nil {
		if err := e.flush(ctx, results); err != nil {
			e.logger.Error("periodic flush", zap.Int("results", len(results)), zap.Error(err))
		}
	}
	return results
}

func (e *Engine) flush(ctx context.Context, results []validator.Result) error {
	err := e.sink.Flush(ctx, results)
	metrics.ObserveFlush(err == nil)
	if err != nil {
		return fmt.Errorf("flush %d results: %w", len(results), err)
	}
	e.logger.Debug("flushed results", zap.Int("results", len(results)))
	return nil
}

// processItem runs the failover loop for one item. The boolean is false when
// cancellation abandoned the item before it reached a terminal result.
func (e *Engine) processItem(ctx context.Context, item validator.WorkItem) (res validator.Result, ok bool) {
	held := ""
	defer func() {
		if rec := recover(); rec != nil {
			if held != "" {
				e.pool.Release(held)
			}
			e.logger.Error("item panicked",
				zap.String("key", item.Key),
				zap.String("target", item.Target),
				zap.Any("panic", rec),
			)
			res = e.result(item, validator.VerdictError, fmt.Sprintf("internal error: %v", rec), 0, validator.NoCredential)
			ok = true
		}
	}()

	all := e.pool.All()
	tried := make(map[string]struct{}, len(all))
	for attempt := 1; attempt <= len(all); attempt++ {
		if ctx.Err() != nil {
			return validator.Result{}, false
		}
		cred, found := e.pool.AcquireExcluding(tried)
		if !found {
			cred, found = e.claimUntried(all, tried)
		}
		if !found {
			break
		}
		tried[cred.ID] = struct{}{}
		held = cred.ID

		if err := e.pacer.BeforeRequest(ctx); err != nil {
			e.pool.Release(cred.ID)
			held = ""
			e.logger.Debug("attempt abandoned while pacing",
				zap.String("key", item.Key),
				zap.String("credential", cred.ID),
				zap.Error(err),
			)
			return validator.Result{}, false
		}

		outcome, err := e.fetcher.Fetch(ctx, cred, item.Target)
		e.pool.RecordUse(cred.ID)
		held = ""
		if ctx.Err() != nil {
			return validator.Result{}, false
		}
		if err != nil && outcome.Err == nil {
			outcome.Err = err
		}

		cls := e.classifier.Classify(outcome)
		metrics.ObserveAttempt(cred.ID, cls.Kind.String())
		e.logger.Info("attempt classified",
			zap.String("key", item.Key),
			zap.String("target", item.Target),
			zap.String("credential", cred.ID),
			zap.Int("attempt", attempt),
			zap.String("verdict", cls.Kind.String()),
			zap.String("reason", cls.Reason),
			zap.Int("status", outcome.StatusCode),
		)
		if cls.Kind == validator.KindInvalidRetryable {
			continue
		}
		return e.result(item, cls.Kind.Verdict(), cls.Reason, outcome.StatusCode, cred.ID), true
	}

	e.logger.Warn("all credentials exhausted",
		zap.String("key", item.Key),
		zap.String("target", item.Target),
		zap.Int("attempts", len(tried)),
	)
	return e.result(item, validator.VerdictError, validator.ReasonCredentialsExhausted, 0, validator.NoCredential), true
}

// claimUntried reserves the first credential in configuration order that has
// not been tried for the current item, ignoring soft caps.
func (e *Engine) claimUntried(all []validator.Credential, tried map[string]struct{}) (validator.Credential, bool) {
	for _, c := range all {
		if _, done := tried[c.ID]; done {
			continue
		}
		if cred, ok := e.pool.Claim(c.ID); ok {
			e.logger.Debug("soft caps reached, claiming untried credential", zap.String("credential", c.ID))
			return cred, true
		}
	}
	return validator.Credential{}, false
}

func (e *Engine) result(item validator.WorkItem, v validator.Verdict, reason string, status int, credID string) validator.Result {
	return validator.Result{
		Key:        item.Key,
		Target:     item.Target,
		Verdict:    v,
		Reason:     reason,
		StatusCode: status,
		Credential: credID,
		Timestamp:  e.clock.Now(),
	}
}

type noPacing struct{}

func (noPacing) BeforeRequest(ctx context.Context) error {
	return ctx.Err()
}

func (noPacing) BetweenBatches(ctx context.Context) error {
	return ctx.Err()
}
