// Package cmd defines the CLI commands of the breeder-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/app"
	"github.com/JakeFAU/breeder-harvester/internal/config"
	"github.com/JakeFAU/breeder-harvester/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the set of services commands depend on.
type App interface {
	Close()
	Logger() *zap.Logger
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, configPath string) (App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync() //nolint:errcheck // best-effort flush
		return nil, err
	}
	return a, nil
}

// newRootCmd builds the command tree. The returned cleanup closes the
// services opened by PersistentPreRunE; it runs whether or not the command
// failed and is safe to call when nothing was opened.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		active  App
	)
	cleanup := func() {
		if active == nil {
			return
		}
		active.Close()
		_ = active.Logger().Sync() //nolint:errcheck // best-effort flush
		active = nil
	}
	cmd := &cobra.Command{
		Use:   "breeder-harvester",
		Short: "Harvests the ENCI breeder registry into a relational store.",
		Long: `breeder-harvester walks the public ENCI registry: it discovers regions,
lists the breeders of each region, fetches every breeder's members and breeds
on a bounded worker pool, and persists the merged batch in one transaction.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			active = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVEST_* environment variables override it")
	cmd.AddCommand(newHarvestCmd(), newSchemaCmd())
	return cmd, cleanup
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	root, cleanup := newRootCmd()
	err := root.ExecuteContext(context.Background())
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
