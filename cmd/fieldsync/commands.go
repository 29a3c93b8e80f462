package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/config"
	"github.com/opsledger/fieldsync/internal/connectivity"
	"github.com/opsledger/fieldsync/internal/db"
	"github.com/opsledger/fieldsync/internal/logging"
	"github.com/opsledger/fieldsync/internal/remote"
	"github.com/opsledger/fieldsync/internal/store"
	"github.com/opsledger/fieldsync/internal/sync"
	"github.com/opsledger/fieldsync/internal/sync/checkpoint"
	"github.com/opsledger/fieldsync/internal/sync/queue"
	"github.com/opsledger/fieldsync/internal/sync/retry"
	"github.com/opsledger/fieldsync/internal/synclog"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg      *config.Config
	database *db.DB
	store    *store.SQLiteStore
	remote   *remote.MemoryStore
	monitor  *connectivity.Monitor
	queue    *queue.Manager
	audit    *synclog.Logger
	orch     *sync.Orchestrator
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile})

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.NewMigrator(database).Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	clk := clock.System()
	st := store.NewSQLiteStore(database, clk)
	rem := remote.NewMemoryStore(clk)
	monitor := connectivity.NewMonitor(
		connectivity.TCPProbe(cfg.ProbeAddr, cfg.ProbeInterval/2),
		cfg.ProbeInterval, cfg.ProbeDebounce, clk)

	executor := retry.NewExecutor()
	policy := retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}
	checkpoints := checkpoint.NewManager(database, clk)
	q := queue.NewManager(st, rem, executor, policy, cfg.QueueMaxRetries, clk)
	audit := synclog.NewLogger(cfg.LogMaxEntries, cfg.LogRetention, clk)

	orch := sync.NewOrchestrator(cfg, st, rem, monitor, checkpoints, q, audit, executor, clk)
	return &app{
		cfg:      cfg,
		database: database,
		store:    st,
		remote:   rem,
		monitor:  monitor,
		queue:    q,
		audit:    audit,
		orch:     orch,
	}, nil
}

func (a *app) close() {
	a.store.Close()
	a.database.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline-first sync engine for field compliance records",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDaemonCmd(), newSyncCmd(), newStatusCmd(), newQueueCmd())
	return root
}

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a.monitor.Start(ctx)
			defer a.monitor.Stop()
			a.orch.Start(ctx)
			defer a.orch.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh

			logging.Info("Shutting down", logging.Fields{"signal": sig.String()})
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			a.monitor.Start(ctx)
			defer a.monitor.Stop()

			results, err := a.orch.TriggerSync(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			a.monitor.Start(ctx)
			defer a.monitor.Stop()

			status, err := a.orch.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
}

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the durable retry queue",
	}

	queueCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending retry-queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.queue.Pending(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Replay pending retry-queue entries once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.queue.Replay(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	})

	return queueCmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
