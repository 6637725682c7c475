// Package cmd provides the command-line interface for the Guardian
// engine: the long-running server plus one-shot operational commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"guardian/bootstrap"
)

var cfgFile string

// NewRootCmd builds the CLI command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "guardian",
		Short:        "Guardian alert evaluation, correlation and risk scoring engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateRuleCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine: scheduler, pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap.NewApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <tenant-id>",
		Short: "Execute one evaluation run for a tenant and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			app, err := bootstrap.NewApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			return runTenantOnce(cmd.Context(), app, tenantID)
		},
	}
}

func runTenantOnce(ctx context.Context, app *bootstrap.App, tenantID string) error {
	tenant, err := app.Stores.Tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	if err := app.Pipeline.RunTenant(ctx, *tenant); err != nil {
		return fmt.Errorf("run failed for tenant %s: %w", tenantID, err)
	}
	app.Sugar.Infow("Run complete", "tenant_id", tenantID)
	return nil
}
