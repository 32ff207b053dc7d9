package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ignatij/flowmetrics/internal/config"
	"github.com/ignatij/flowmetrics/internal/log"
	"github.com/ignatij/flowmetrics/internal/n8n"
	"github.com/ignatij/flowmetrics/internal/snapshot"
	internal_storage "github.com/ignatij/flowmetrics/internal/storage"
	"github.com/ignatij/flowmetrics/pkg/metrics"
	"github.com/ignatij/flowmetrics/pkg/service"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Source is the n8n side of flowmetrics.
type Source interface {
	service.ExecutionSource
	service.WorkflowSource
}

// Constructors for the backing services, swapped in tests.
var (
	openStore = func(url string) (storage.Store, error) {
		store, err := internal_storage.InitStore(url)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	openSnapshots = func(ctx context.Context, cfg config.Config) (storage.SnapshotStore, func(), error) {
		if cfg.Redis.Addr == "" {
			return nil, func() {}, nil
		}
		client, err := snapshot.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return snapshot.NewRedisStore(client, cfg.Snapshots.MaxPerWorkflow), func() { _ = client.Close() }, nil
	}
	newSource = func(cfg config.N8NConfig) (Source, error) {
		if cfg.BaseURL == "" {
			return nil, errors.New("n8n base url is not configured (n8n.base_url or --n8n-url)")
		}
		client, err := n8n.NewClient(n8n.Config{
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			PageSize: cfg.PageSize,
			RetryMax: cfg.RetryMax,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
)

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg   *config.Config
	store storage.Store
	out   io.Writer
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.GetLogger().Errorf("Failed to close store: %v", err)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	log.SetLevel(cfg.Log.Level)
	log.SetJSON(cfg.Log.JSON)
	return cfg, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log.GetLogger().Debugf("Opening store for %s", cmd.CommandPath())
	store, err := openStore(cfg.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize store")
	}
	return &app{cfg: cfg, store: store, out: cmd.OutOrStdout()}, nil
}

// SetupCLI registers the flowmetrics commands and global flags on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.SilenceUsage = true
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default flowmetrics.yaml if present)")
	flags.String("db", "", "Database connection string")
	flags.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.Bool("log-json", false, "Log as JSON")
	flags.String("timezone", config.DefaultTimezone, "Timezone of metrics day boundaries")
	flags.String("n8n-url", "", "n8n base URL")
	flags.String("n8n-key", "", "n8n API key")
	flags.String("redis", "", "Redis address for snapshots")

	rootCmd.AddCommand(
		newServeCmd(),
		newWorkflowsCmd(),
		newMetricsCmd(),
		newSyncCmd(),
		newSnapshotsCmd(),
	)
}

func newWorkflowsCmd() *cobra.Command {
	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "Manage monitored workflows",
	}

	addCmd := &cobra.Command{
		Use:   "add [id] [name]",
		Short: "Register an n8n workflow for monitoring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			userID, _ := cmd.Flags().GetString("user")
			svc := service.NewWorkflowService(a.store, log.GetLogger())
			wf, err := svc.CreateWorkflow(cmd.Context(), args[0], args[1], userID)
			if err != nil {
				return errors.Wrap(err, "failed to create workflow")
			}
			fmt.Fprintf(a.out, "Registered workflow '%s' with ID %s\n", wf.Name, wf.ID)
			return nil
		},
	}
	addCmd.Flags().String("user", "", "Owning user ID")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List monitored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			userID, _ := cmd.Flags().GetString("user")
			svc := service.NewWorkflowService(a.store, log.GetLogger())
			workflows, err := svc.ListWorkflows(cmd.Context(), userID)
			if err != nil {
				return errors.Wrap(err, "failed to list workflows")
			}
			renderWorkflows(a.out, workflows)
			return nil
		},
	}
	listCmd.Flags().String("user", "", "Only list workflows of this user")

	removeCmd := &cobra.Command{
		Use:   "remove [id]",
		Short: "Stop monitoring a workflow and drop its executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			svc := service.NewWorkflowService(a.store, log.GetLogger())
			if err := svc.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return errors.Wrap(err, "failed to remove workflow")
			}
			fmt.Fprintf(a.out, "Removed workflow %s\n", args[0])
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Register every workflow of the n8n instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			src, err := newSource(a.cfg.N8N)
			if err != nil {
				return err
			}
			userID, _ := cmd.Flags().GetString("user")
			svc := service.NewWorkflowService(a.store, log.GetLogger())
			imported, err := svc.ImportWorkflows(cmd.Context(), src, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Imported %d workflows\n", len(imported))
			if len(imported) > 0 {
				renderWorkflows(a.out, imported)
			}
			return nil
		},
	}
	importCmd.Flags().String("user", "", "Owning user ID of imported workflows")

	workflowsCmd.AddCommand(addCmd, listCmd, removeCmd, importCmd)
	return workflowsCmd
}

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics [workflow-id]",
		Short: "Compute execution metrics of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			query, err := metricsQuery(cmd, a.cfg, args[0])
			if err != nil {
				return err
			}
			svc, err := newMetricsService(a, nil)
			if err != nil {
				return err
			}
			report, err := svc.WorkflowMetrics(cmd.Context(), query)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return renderJSON(a.out, report)
			}
			renderReport(a.out, report)
			return nil
		},
	}
	cmd.Flags().String("start", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Last day of the window (YYYY-MM-DD)")
	cmd.Flags().String("user", "", "Only count executions of this user")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	cmd.Flags().Int("window-days", 0, "Length of the default window in days")
	return cmd
}

func metricsQuery(cmd *cobra.Command, cfg *config.Config, workflowID string) (service.MetricsQuery, error) {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	userID, _ := cmd.Flags().GetString("user")
	query := service.MetricsQuery{WorkflowID: workflowID, UserID: userID}
	if start == "" && end == "" {
		return query, nil
	}
	if start == "" || end == "" {
		return query, errors.New("--start and --end must be given together")
	}
	loc, err := cfg.Location()
	if err != nil {
		return query, err
	}
	w, err := metrics.ParseWindow(start, end, loc)
	if err != nil {
		return query, err
	}
	query.Start, query.End = w.Start, w.End
	return query, nil
}

func newMetricsService(a *app, snapshots storage.SnapshotStore) (*service.MetricsService, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return service.NewMetricsService(a.store, snapshots, log.GetLogger(),
		service.WithLocation(loc),
		service.WithWindowDays(a.cfg.Metrics.WindowDays),
	), nil
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [workflow-id]",
		Short: "Fetch executions from n8n for one or all workflows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			src, err := newSource(a.cfg.N8N)
			if err != nil {
				return err
			}

			pool := service.NewWorkerPool(cmd.Context(), log.GetLogger())
			pool.Start(a.cfg.Sync.Workers)
			defer pool.Stop()
			svc := service.NewSyncService(a.store, src, pool, log.GetLogger())

			if len(args) == 1 {
				res, err := svc.SyncWorkflow(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderSyncResults(a.out, []service.SyncResult{res}, nil)
				return nil
			}
			results, errs, err := svc.SyncAll(cmd.Context())
			if err != nil {
				return err
			}
			renderSyncResults(a.out, results, errs)
			if len(errs) > 0 {
				return errors.Errorf("%d of %d workflows failed to sync", len(errs), len(results))
			}
			return nil
		},
	}
	cmd.Flags().Int("workers", 4, "Workflows synced in parallel")
	return cmd
}

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots [workflow-id]",
		Short: "List or take stored metrics snapshots of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			snapshots, closeSnapshots, err := openSnapshots(cmd.Context(), *a.cfg)
			if err != nil {
				return err
			}
			defer closeSnapshots()
			svc, err := newMetricsService(a, snapshots)
			if err != nil {
				return err
			}

			if take, _ := cmd.Flags().GetBool("take"); take {
				snap, err := svc.TakeSnapshot(cmd.Context(), service.MetricsQuery{WorkflowID: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Stored snapshot %s\n", snap.ID)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			snaps, err := svc.Snapshots(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return renderJSON(a.out, snaps)
			}
			renderSnapshots(a.out, snaps)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of snapshots to list")
	cmd.Flags().Bool("take", false, "Compute and store a snapshot first")
	cmd.Flags().Bool("json", false, "Print snapshots as JSON")
	return cmd
}
