package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	internal_http "github.com/ignatij/flowmetrics/internal/http"
	"github.com/ignatij/flowmetrics/internal/log"
	"github.com/ignatij/flowmetrics/internal/scheduler"
	"github.com/ignatij/flowmetrics/pkg/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sync and snapshot jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP port")
	cmd.Flags().Int("workers", 4, "Workflows synced in parallel")
	cmd.Flags().String("sync-cron", "", "Cron schedule of the n8n sync job (disabled when empty)")
	cmd.Flags().String("snapshot-cron", "", "Cron schedule of the snapshot job (disabled when empty)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	logger := log.GetLogger()
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	snapshots, closeSnapshots, err := openSnapshots(ctx, *a.cfg)
	if err != nil {
		return err
	}
	defer closeSnapshots()
	if snapshots == nil {
		logger.Infof("Redis not configured, snapshots disabled")
	}
	metricsSvc, err := newMetricsService(a, snapshots)
	if err != nil {
		return err
	}

	handlers := &internal_http.Handlers{
		Workflows: service.NewWorkflowService(a.store, logger),
		Metrics:   metricsSvc,
		Location:  loc,
	}
	if p, ok := a.store.(internal_http.Pinger); ok {
		handlers.DB = p
	}

	sched := scheduler.New(loc)
	if a.cfg.N8N.BaseURL != "" {
		src, err := newSource(a.cfg.N8N)
		if err != nil {
			return err
		}
		pool := service.NewWorkerPool(ctx, logger)
		pool.Start(a.cfg.Sync.Workers)
		defer pool.Stop()
		handlers.Sync = service.NewSyncService(a.store, src, pool, logger)

		if a.cfg.Sync.Schedule != "" {
			syncSvc := handlers.Sync
			if err := sched.AddJob("sync", a.cfg.Sync.Schedule, func(ctx context.Context) error {
				_, errs, err := syncSvc.SyncAll(ctx)
				if err != nil {
					return err
				}
				if len(errs) > 0 {
					return errors.Errorf("%d workflows failed to sync", len(errs))
				}
				return nil
			}); err != nil {
				return err
			}
		}
	} else {
		logger.Infof("n8n not configured, sync disabled")
	}

	if a.cfg.Snapshots.Schedule != "" && snapshots != nil {
		if err := sched.AddJob("snapshots", a.cfg.Snapshots.Schedule, func(ctx context.Context) error {
			errs, err := metricsSvc.SnapshotAll(ctx)
			if err != nil {
				return err
			}
			if len(errs) > 0 {
				return errors.Errorf("%d workflow snapshots failed", len(errs))
			}
			return nil
		}); err != nil {
			return err
		}
	}
	sched.Start()
	for _, name := range []string{"sync", "snapshots"} {
		if next := sched.Next(name); !next.IsZero() {
			logger.Infof("Job %s scheduled, next run at %s", name, next.Format(time.RFC3339))
		}
	}
	if handlers.Sync != nil && a.cfg.Sync.Schedule != "" {
		// catch up before the first scheduled run
		go func() {
			if err := sched.RunNow("sync"); err != nil {
				logger.Errorf("Initial sync failed: %v", err)
			}
		}()
	}

	srv := internal_http.NewServer(a.cfg.HTTP.Port, internal_http.NewRouter(handlers))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Infof("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Errorf("HTTP shutdown failed: %v", shutdownErr)
	}
	if stopErr := sched.Stop(shutdownCtx); stopErr != nil {
		logger.Errorf("Scheduler stop failed: %v", stopErr)
	}
	return err
}
