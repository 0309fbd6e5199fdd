// Package cmd defines and implements the CLI commands for the profile-validator executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/app"
	"github.com/JakeFAU/profile-validator/internal/config"
	"github.com/JakeFAU/profile-validator/internal/dispatch"
	"github.com/JakeFAU/profile-validator/internal/logging"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

// Exit codes.
const (
	exitFailure       = 1
	exitConfiguration = 2
)

// newApp is the application factory. It's a variable so tests can inject
// fixed clocks or randomness.
var newApp = app.Build

// cli carries state shared by the root command and its subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper(), logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:   "profile-validator",
		Short: "Validate profile URLs with a rotating pool of authenticated sessions.",
		Long: `profile-validator checks whether profile pages still exist. Every target is
fetched under one of several authenticated sessions, picked at random below a
randomized per-session request cap, and retried on other sessions when a
session is rejected. Results are written incrementally so an interrupted run
keeps everything it finished.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.FromViper(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.NewAtLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return validator.NewConfigurationError("logging.level", err)
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = c.logger.Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.Bool("log-dev", true, "human-friendly development logging")
	flags.String("log-level", "info", "minimum log level")
	flags.String("dotenv", ".env", "file with LINKEDIN_COOKIE<N> style session variables")
	flags.String("mode", config.ModeHTTP, "fetch strategy: http or browser")
	flags.Bool("headless", true, "run the browser without a window (browser mode)")
	c.bind(cmd, map[string]string{
		"logging.development": "log-dev",
		"logging.level":       "log-level",
		"credentials.dotenv":  "dotenv",
		"fetch.mode":          "mode",
		"fetch.headless":      "headless",
	})

	cmd.AddCommand(newValidateCmd(c))
	cmd.AddCommand(newCheckCmd(c))
	return cmd
}

// bind maps config keys onto flags of cmd. A flag only overrides the config
// file and environment when it is set explicitly.
func (c *cli) bind(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q is not defined", name))
		}
		if err := c.v.BindPFlag(key, flag); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", name, err))
		}
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run, which
// stops dispatch, flushes what was recorded, and exits cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		if validator.IsConfigurationError(err) {
			os.Exit(exitConfiguration)
		}
		os.Exit(exitFailure)
	}
}

// interrupted reports whether err only says the run was cancelled. A failed
// final flush is never an interruption, since results may be missing.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) && !errors.Is(err, dispatch.ErrFinalFlush)
}
