// Package app builds the validator's components from configuration and holds
// them for the lifetime of one command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/classifier"
	"github.com/JakeFAU/profile-validator/internal/clock/system"
	"github.com/JakeFAU/profile-validator/internal/config"
	"github.com/JakeFAU/profile-validator/internal/credential"
	"github.com/JakeFAU/profile-validator/internal/dispatch"
	collyfetcher "github.com/JakeFAU/profile-validator/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/profile-validator/internal/fetcher/headless"
	"github.com/JakeFAU/profile-validator/internal/id/uuid"
	"github.com/JakeFAU/profile-validator/internal/input"
	"github.com/JakeFAU/profile-validator/internal/pacing"
	"github.com/JakeFAU/profile-validator/internal/random"
	"github.com/JakeFAU/profile-validator/internal/sink"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

// FetchCloser is a fetcher that owns network or browser resources.
type FetchCloser interface {
	validator.Fetcher
	io.Closer
}

// App holds the components of one validation run.
type App struct {
	RunID    string
	Pool     *credential.Pool
	Engine   *dispatch.Engine
	Progress *dispatch.Progress
	Sink     *sink.Multi
	// OutputPath is the local result file, empty when no file sink is built.
	OutputPath string

	cfg     config.Config
	fetcher FetchCloser
	logger  *zap.Logger
}

// Options tune Build for a particular command.
type Options struct {
	// WithoutSinks skips every result sink; used for single-target checks.
	WithoutSinks bool
	Clock        validator.Clock
	Random       random.Source
}

// Build wires the pool, fetcher, classifier, pacer, sinks and engine. Any
// failure is returned before work begins and the partially built resources
// are released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Random == nil {
		opts.Random = random.New()
	}

	runID, err := resolveRunID(cfg.Output.RunID)
	if err != nil {
		return nil, err
	}
	a := &App{RunID: runID, cfg: cfg, logger: logger.With(zap.String("run_id", runID))}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				a.logger.Warn("release partially built app", zap.Error(cerr))
			}
		}
	}()

	creds, err := credential.Load(credential.SourceConfig{
		EnvPrefix:    cfg.Credentials.EnvPrefix,
		DotEnv:       cfg.Credentials.DotEnv,
		Sessions:     cfg.Credentials.Sessions,
		CookieName:   cfg.Credentials.CookieName,
		CookieDomain: cfg.Credentials.CookieDomain,
		UserAgents:   cfg.Credentials.UserAgents,
	}, opts.Random, a.logger.Named("credentials"))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	a.Pool, err = credential.NewPool(creds, credential.PoolConfig{
		SoftCapMin: cfg.Pool.SoftCapMin,
		SoftCapMax: cfg.Pool.SoftCapMax,
		Window:     cfg.Pool.Window,
	}, opts.Clock, opts.Random, a.logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("build credential pool: %w", err)
	}

	a.fetcher, err = NewFetcher(cfg, opts.Random, a.logger)
	if err != nil {
		return nil, err
	}

	if opts.WithoutSinks {
		a.Sink = sink.NewMulti()
	} else {
		a.Sink, a.OutputPath, err = NewSinks(ctx, cfg, runID, opts.Clock, a.logger.Named("sink"))
		if err != nil {
			return nil, err
		}
	}

	a.Progress = dispatch.NewProgress(runID, a.Pool)
	a.Engine, err = dispatch.New(dispatch.Config{
		Concurrency:       cfg.Dispatch.Concurrency,
		FlushEvery:        cfg.Dispatch.FlushEvery,
		FinalFlushTimeout: cfg.Dispatch.FinalFlushTimeout,
	}, dispatch.Deps{
		Pool:       a.Pool,
		Fetcher:    a.fetcher,
		Classifier: classifier.New(cfg.Classifier),
		Sink:       a.Sink,
		Pacer:      NewPacer(cfg, opts.Random, a.logger),
		Clock:      opts.Clock,
		Progress:   a.Progress,
		Logger:     a.logger.Named("dispatch"),
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	a.logger.Info("application built",
		zap.Int("credentials", len(creds)),
		zap.String("fetch_mode", cfg.Fetch.Mode),
		zap.Int("sinks", a.Sink.Len()),
		zap.String("output", a.OutputPath),
	)
	return a, nil
}

// resolveRunID returns the configured run ID, or a fresh UUIDv7 when none is
// set. Reusing an ID replaces that run's rows in Postgres.
func resolveRunID(configured string) (string, error) {
	if configured != "" {
		id, err := uuid.Parse(configured)
		if err != nil {
			return "", validator.NewConfigurationError("output.run_id", err)
		}
		return id, nil
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// NewFetcher selects the fetch strategy named by fetch.mode.
func NewFetcher(cfg config.Config, src random.Source, logger *zap.Logger) (FetchCloser, error) {
	switch cfg.Fetch.Mode {
	case config.ModeHTTP, "":
		return collyfetcher.New(collyfetcher.Config{
			Timeout:      cfg.Fetch.PageTimeout,
			MaxRedirects: cfg.Fetch.MaxRedirects,
		}, logger.Named("colly")), nil
	case config.ModeBrowser:
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			Headless:          cfg.Fetch.Headless,
			ExecPath:          cfg.Fetch.ExecPath,
			NavigationTimeout: cfg.Fetch.NavigationTimeout,
			SettleDelay:       cfg.Fetch.SettleDelay,
			WarmupURL:         cfg.Fetch.WarmupURL,
			CookieURL:         cfg.Credentials.CookieURL,
		}, src, logger.Named("chromedp"))
		if err != nil {
			return nil, validator.NewConfigurationError("fetch", err)
		}
		return f, nil
	default:
		return nil, validator.NewConfigurationError("fetch.mode", fmt.Errorf("unknown mode %q", cfg.Fetch.Mode))
	}
}

// NewPacer builds the request and batch pacer.
func NewPacer(cfg config.Config, src random.Source, logger *zap.Logger) *pacing.Pacer {
	return pacing.New(pacing.Config{
		RequestDelay: pacing.Range{Min: cfg.Pacing.RequestDelayMin, Max: cfg.Pacing.RequestDelayMax},
		BatchDelay:   pacing.Range{Min: cfg.Pacing.BatchDelayMin, Max: cfg.Pacing.BatchDelayMax},
		GlobalRPS:    cfg.Pacing.GlobalRPS,
		GlobalBurst:  cfg.Pacing.GlobalBurst,
	}, src, logger.Named("pacing"))
}

// NewSinks builds the local file sink plus every optional sink whose
// settings are present, and returns the file path.
func NewSinks(ctx context.Context, cfg config.Config, runID string, clock validator.Clock, logger *zap.Logger) (*sink.Multi, string, error) {
	format, err := sink.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, "", validator.NewConfigurationError("output.format", err)
	}
	meta := sink.Meta{RunID: runID, Settings: Settings(cfg), Now: clock.Now}
	path := cfg.OutputPath(clock.Now(), format.Extension())

	var built []validator.ResultSink
	fail := func(err error) (*sink.Multi, string, error) {
		cerr := sink.NewMulti(built...).Close()
		return nil, "", errors.Join(err, cerr)
	}

	file, err := sink.NewFile(sink.FileConfig{Path: path, Format: format, Meta: meta}, logger.Named("file"))
	if err != nil {
		return fail(validator.NewConfigurationError("output.path", err))
	}
	built = append(built, file)

	if pg := cfg.Sinks.Postgres; pg.DSN != "" {
		s, err := sink.NewPostgres(ctx, sink.PostgresConfig{
			DSN:         pg.DSN,
			Table:       pg.Table,
			RunID:       runID,
			MaxConns:    pg.MaxConns,
			CreateTable: pg.CreateTable,
		}, logger.Named("postgres"))
		if err != nil {
			return fail(fmt.Errorf("postgres sink: %w", err))
		}
		built = append(built, s)
	}
	if gcs := cfg.Sinks.GCS; gcs.Bucket != "" {
		s, err := sink.NewGCS(ctx, sink.GCSConfig{
			Bucket: gcs.Bucket,
			Object: gcs.Object,
			Format: format,
			Meta:   meta,
		}, logger.Named("gcs"))
		if err != nil {
			return fail(fmt.Errorf("gcs sink: %w", err))
		}
		built = append(built, s)
	}
	if ps := cfg.Sinks.PubSub; ps.Topic != "" {
		s, err := sink.NewPubSub(ctx, sink.PubSubConfig{
			ProjectID: ps.ProjectID,
			Topic:     ps.Topic,
			RunID:     runID,
		}, logger.Named("pubsub"))
		if err != nil {
			return fail(fmt.Errorf("pubsub sink: %w", err))
		}
		built = append(built, s)
	}
	return sink.NewMulti(built...), path, nil
}

// Settings is the run configuration recorded in the JSON output document.
func Settings(cfg config.Config) map[string]any {
	return map[string]any{
		"mode":              cfg.Fetch.Mode,
		"concurrency":       cfg.Dispatch.Concurrency,
		"flush_every":       cfg.Dispatch.FlushEvery,
		"request_delay_min": cfg.Pacing.RequestDelayMin.String(),
		"request_delay_max": cfg.Pacing.RequestDelayMax.String(),
		"batch_delay_min":   cfg.Pacing.BatchDelayMin.String(),
		"batch_delay_max":   cfg.Pacing.BatchDelayMax.String(),
		"soft_cap_min":      cfg.Pool.SoftCapMin,
		"soft_cap_max":      cfg.Pool.SoftCapMax,
		"window":            cfg.Pool.Window.String(),
	}
}

// LoadItems reads and slices the configured input.
func LoadItems(cfg config.Config) ([]validator.WorkItem, error) {
	if cfg.Input.Path == "" {
		return nil, validator.NewConfigurationError("input.path", errors.New("no input file given"))
	}
	r := cfg.Input.Range()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	items, err := input.Load(cfg.Input.Path, input.Options{
		Format:      input.Format(cfg.Input.Format),
		KeyField:    cfg.Input.KeyField,
		TargetField: cfg.Input.TargetField,
		HostFilter:  cfg.Input.HostFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}
	return input.Slice(items, r), nil
}

// Close releases the sinks and the fetcher.
func (a *App) Close() error {
	var errs []error
	if a.Sink != nil {
		if err := a.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sinks: %w", err))
		}
	}
	if a.fetcher != nil {
		if err := a.fetcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fetcher: %w", err))
		}
	}
	return errors.Join(errs...)
}
