package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/app"
	"github.com/JakeFAU/profile-validator/internal/server"
)

// newValidateCmd creates the batch 'validate' subcommand.
func newValidateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate every profile in an input file",
		Long: `Reads work items from a CSV (or line-delimited) file, validates them in
input order in small concurrent batches, and rewrites the result file every
few items. Ctrl-C stops dispatch, keeps every finished result, and exits 0.`,
		Example: `  profile-validator validate --input experts.csv --start 1 --end 50
  profile-validator validate --input urls.txt --mode browser --output-format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runValidate(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringP("input", "i", "", "input file (csv, or txt with one URL per line)")
	flags.String("input-format", "", "input format: csv or text (default: by extension)")
	flags.Int("start", 0, "first row to process, 1-based")
	flags.Int("end", 0, "last row to process, inclusive")
	flags.Int("count", 0, "number of rows to process from start")
	flags.StringP("output", "o", "", "result file (default: <output.dir>/<prefix>_<timestamp>.<ext>)")
	flags.String("output-format", "csv", "result format: csv or json")
	flags.String("run-id", "", "reuse a run ID (UUID) to replace that run's stored results")
	flags.Int("concurrency", 3, "items dispatched together in one batch")
	flags.Int("flush-every", 5, "rewrite the result file every N results")
	flags.Int("soft-cap-min", 2, "lower bound of the per-session request cap")
	flags.Int("soft-cap-max", 5, "upper bound of the per-session request cap")
	flags.Duration("delay-min", 0, "minimum delay before each request")
	flags.Duration("delay-max", 0, "maximum delay before each request")
	flags.Duration("batch-delay-min", 0, "minimum delay between batches")
	flags.Duration("batch-delay-max", 0, "maximum delay between batches")
	flags.Duration("page-timeout", 0, "HTTP fetch timeout")
	flags.Duration("navigation-timeout", 0, "browser navigation timeout")
	flags.Bool("server", false, "serve /healthz, /metrics and /v1/progress while running")
	flags.Int("port", 8080, "status server port")
	c.bind(cmd, map[string]string{
		"input.path":               "input",
		"input.format":             "input-format",
		"input.start":              "start",
		"input.end":                "end",
		"input.count":              "count",
		"output.path":              "output",
		"output.format":            "output-format",
		"output.run_id":            "run-id",
		"dispatch.concurrency":     "concurrency",
		"dispatch.flush_every":     "flush-every",
		"pool.soft_cap_min":        "soft-cap-min",
		"pool.soft_cap_max":        "soft-cap-max",
		"pacing.request_delay_min": "delay-min",
		"pacing.request_delay_max": "delay-max",
		"pacing.batch_delay_min":   "batch-delay-min",
		"pacing.batch_delay_max":   "batch-delay-max",
		"fetch.page_timeout":       "page-timeout",
		"fetch.navigation_timeout": "navigation-timeout",
		"server.enabled":           "server",
		"server.port":              "port",
	})
	return cmd
}

func (c *cli) runValidate(cmd *cobra.Command) error {
	ctx := cmd.Context()
	logger := c.logger

	items, err := app.LoadItems(c.cfg)
	if err != nil {
		return err
	}
	logger.Info("input loaded", zap.String("path", c.cfg.Input.Path), zap.Int("items", len(items)))

	a, err := newApp(ctx, c.cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close application", zap.Error(cerr))
		}
	}()

	if c.cfg.Server.Enabled {
		srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		defer stopServer()
		srv := server.New(a.Progress, logger.Named("server"))
		go func() {
			if serr := srv.Serve(srvCtx, fmt.Sprintf(":%d", c.cfg.Server.Port)); serr != nil {
				logger.Error("status server failed", zap.Error(serr))
			}
		}()
	}

	summary, err := a.Engine.Run(ctx, items)
	switch {
	case err == nil:
	case interrupted(err):
		logger.Warn("validation interrupted; finished results were saved")
	default:
		return fmt.Errorf("run validation: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "processed %d (valid %d, invalid %d, errors %d, skipped %d) -> %s\n",
		summary.Total, summary.Valid, summary.Invalid, summary.Errors, summary.Skipped, a.OutputPath)
	return nil
}
