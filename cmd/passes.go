package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

const shutdownTimeout = 5 * time.Second

// passFunc runs one pass over cat.
type passFunc func(ctx context.Context, a App, cat *catalog.Catalog) error

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Adds newly listed categories and assets to the catalog",
		Long: `Walks the source site's category pages and paginated listings and
records every category and asset not yet in the catalog. A missing snapshot
starts an empty catalog; a corrupt one is renamed aside first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, "discover", true, func(ctx context.Context, a App, cat *catalog.Catalog) error {
				d, err := a.Discoverer()
				if err != nil {
					return err
				}
				summary, err := d.Run(ctx, cat)
				a.Logger().Info("discover summary", zap.Any("summary", summary))
				return err
			})
		},
	}
	cmd.Flags().Bool("update-mode", false, "only read the first listing page of each leaf category")
	return cmd
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Downloads, labels and creates catalog assets in the asset service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, "ingest", false, func(ctx context.Context, a App, cat *catalog.Catalog) error {
				p, err := a.Ingester()
				if err != nil {
					return err
				}
				summary, err := p.Run(ctx, cat)
				a.Logger().Info("ingest summary", zap.Any("summary", summary))
				return err
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Applies curator directives from remote items back to the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, "reconcile", false, func(ctx context.Context, a App, cat *catalog.Catalog) error {
				r, err := a.Reconciler()
				if err != nil {
					return err
				}
				summary, err := r.Run(ctx, cat)
				a.Logger().Info("reconcile summary", zap.Any("summary", summary))
				return err
			})
		},
	}
}

// runPass loads the snapshot and runs fn, with the operator server alongside
// when metrics are enabled.
func runPass(cmd *cobra.Command, name string, startEmpty bool, fn passFunc) (err error) {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	// PersistentPostRun is skipped when RunE fails.
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(cmd.Context()))
		}
	}()

	cat, err := a.LoadCatalog(startEmpty)
	if err != nil {
		if errors.Is(err, catalog.ErrNoSnapshot) {
			return fmt.Errorf("%s: %w (run discover first)", name, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}

	err = serveAlongside(cmd.Context(), a, func(ctx context.Context) error {
		return fn(ctx, a, cat)
	})
	if errors.Is(err, context.Canceled) {
		a.Logger().Warn("pass interrupted, progress saved", zap.String("pass", name))
	}
	return err
}

// serveAlongside runs pass and, if enabled, the operator HTTP server. The
// server stops when the pass returns.
func serveAlongside(ctx context.Context, a App, pass func(ctx context.Context) error) error {
	cfg := a.Config()
	g, gctx := errgroup.WithContext(ctx)
	passDone := make(chan struct{})

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           a.APIServer().Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.Logger().Info("operator server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("operator server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-passDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer close(passDone)
		return pass(gctx)
	})
	return g.Wait()
}
