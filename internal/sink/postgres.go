package sink

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "validation_results"

// resultColumns is the COPY column order.
var resultColumns = []string{
	"run_id",
	"seq",
	"result_key",
	"target",
	"verdict",
	"reason",
	"status_code",
	"credential",
	"checked_at",
}

// PostgresConfig controls the Postgres connection pool used for results.
type PostgresConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
	// CreateTable issues CREATE TABLE IF NOT EXISTS on startup.
	CreateTable bool
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres stores one row per result, keyed by run ID. A flush replaces the
// run's rows inside a single transaction.
type Postgres struct {
	pool   txPool
	table  string
	runID  string
	logger *zap.Logger
}

// NewPostgres connects to cfg.DSN.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, validator.NewConfigurationError("sinks.postgres.dsn", fmt.Errorf("dsn is required"))
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, validator.NewConfigurationError("sinks.postgres.dsn", fmt.Errorf("parse postgres dsn: %w", err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresWithPool(pool, cfg.Table, cfg.RunID, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := s.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewPostgresWithPool constructs a sink from an existing pool (primarily for
// testing).
func NewPostgresWithPool(pool txPool, table, runID string, logger *zap.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, validator.NewConfigurationError("sinks.postgres.table", fmt.Errorf("invalid table name %q", table))
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, table: table, runID: runID, logger: logger}, nil
}

// EnsureTable creates the results table when it does not exist.
func (s *Postgres) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	seq         INTEGER     NOT NULL,
	result_key  TEXT        NOT NULL,
	target      TEXT        NOT NULL,
	verdict     TEXT        NOT NULL,
	reason      TEXT        NOT NULL DEFAULT '',
	status_code INTEGER,
	credential  TEXT        NOT NULL,
	checked_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, seq)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	return nil
}

// Append is a no-op; rows are written on flush.
func (s *Postgres) Append(context.Context, validator.Result) error {
	return nil
}

// Flush deletes the run's rows and copies the full sequence back in.
func (s *Postgres) Flush(ctx context.Context, results []validator.Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", s.table), s.runID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("delete previous rows: %w", err)
	}
	if len(results) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, resultColumns, pgx.CopyFromRows(s.rows(results))); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("copy results: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	s.logger.Debug("results stored", zap.String("table", s.table), zap.Int("count", len(results)))
	return nil
}

func (s *Postgres) rows(results []validator.Result) [][]any {
	rows := make([][]any, 0, len(results))
	for i, r := range results {
		var status *int
		if r.StatusCode != 0 {
			code := r.StatusCode
			status = &code
		}
		rows = append(rows, []any{
			s.runID,
			i + 1,
			r.Key,
			r.Target,
			string(r.Verdict),
			r.Reason,
			status,
			r.Credential,
			r.Timestamp,
		})
	}
	return rows
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
