package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/app"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

// newCheckCmd creates the single-target 'check' subcommand.
func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Validate a single profile and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, app.Options{WithoutSinks: true})
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					c.logger.Warn("close application", zap.Error(cerr))
				}
			}()

			result, err := a.Engine.Process(ctx, validator.WorkItem{Key: args[0], Target: args[0], Row: 1})
			if err != nil {
				if interrupted(err) {
					return nil
				}
				return fmt.Errorf("check %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
}
