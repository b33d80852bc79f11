// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/discover"
	"github.com/JakeFAU/catalog-harvester/internal/ingest"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
	"github.com/JakeFAU/catalog-harvester/internal/reconcile"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use.
type App interface {
	Close(ctx context.Context)
	Logger() *zap.Logger
	Config() config.Config
	LoadCatalog(startEmpty bool) (*catalog.Catalog, error)
	Discoverer() (*discover.Discoverer, error)
	Ingester() (*ingest.Pipeline, error)
	Reconciler() (*reconcile.Reconciler, error)
	APIServer() *api.Server
}

// newApp is the application factory. Tests replace it to isolate the
// metrics registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rootFlags struct {
	workdir string
	config  string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Mirrors a source site's asset catalog into a local asset library.",
		Long: `harvester keeps a persistent catalog of a source site's categories and
assets, downloads and labels new assets, creates them in the asset service,
and applies curator directives found on remote items back to the catalog.

Every pass is resumable: progress is saved to the snapshot as it goes and a
rerun only does the work that is still missing.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.workdir, flags.config)
			if err != nil {
				return err
			}
			if f := cmd.Flags().Lookup("update-mode"); f != nil && f.Changed {
				cfg.Source.UpdateMode = f.Value.String() == "true"
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger.Named("harvester"))
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.workdir, "workdir", "", "directory holding the snapshot, assets and batch files")
	cmd.PersistentFlags().StringVar(&flags.config, "config", "", "settings file, relative to --workdir unless absolute")
	_ = cmd.MarkPersistentFlagRequired("workdir")

	cmd.AddCommand(newDiscoverCmd(), newIngestCmd(), newReconcileCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI until it finishes or the process is interrupted, and
// returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		return 1
	}
	return 0
}
