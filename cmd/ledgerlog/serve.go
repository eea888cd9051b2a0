package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ledgerlog/ledgerlog/pkg/api"
	"github.com/ledgerlog/ledgerlog/pkg/cache"
	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/events"
	"github.com/ledgerlog/ledgerlog/pkg/ledger"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/metrics"
	"github.com/ledgerlog/ledgerlog/pkg/scheduler"
	"github.com/ledgerlog/ledgerlog/pkg/store"
	"github.com/ledgerlog/ledgerlog/pkg/types"
	"github.com/ledgerlog/ledgerlog/pkg/verifier"
	"github.com/ledgerlog/ledgerlog/pkg/wal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion service",
	Long: `Start the HTTP API, the WAL drainer and the Merkle batch scheduler,
connected to MongoDB and, when enabled, Redis and the ledger gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(configPath)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML configuration file")
}

func runServe(configPath string) error {
	// .env is optional, environment wins over file values either way
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.Format == "json",
		Caller:     cfg.Logging.Caller,
		Stacktrace: cfg.Logging.Stacktrace,
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.SelectionTimeout*2)
	st, err := store.NewMongoStore(ctx, cfg.Store)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to store: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = st.Close(ctx)
	}()
	metrics.SetComponent("store", metrics.StatusHealthy, "")

	var queryCache *cache.Cache
	if cfg.Cache.Enabled {
		queryCache, err = cache.New(context.Background(), cfg.Cache)
		if err != nil {
			logger.Warn().Err(err).Msg("Cache unavailable, serving without it")
			metrics.SetComponent("cache", metrics.StatusUnhealthy, err.Error())
		} else {
			defer queryCache.Close()
			metrics.SetComponent("cache", metrics.StatusHealthy, "")
		}
	} else {
		metrics.SetComponent("cache", metrics.StatusDisabled, "")
	}

	// ledger sync disabled leaves the client nil: batches are still
	// built and tagged, but never anchored, and their sync controls
	// stay pending_batch
	var ledgerClient ledger.Client
	if cfg.Ledger.SyncEnabled {
		ledgerClient, err = ledger.NewFabricClient(cfg.Ledger)
		if err != nil {
			return fmt.Errorf("failed to connect to ledger gateway: %v", err)
		}
		defer ledgerClient.Close()
		metrics.SetComponent("ledger", metrics.StatusHealthy, "")
	} else {
		metrics.SetComponent("ledger", metrics.StatusDisabled, "")
	}

	var journal *wal.WAL
	if cfg.WAL.Enabled {
		journal, err = wal.New(cfg.WAL, walInsert(st), broker)
		if err != nil {
			return fmt.Errorf("failed to open WAL: %v", err)
		}
		journal.Start()
		defer journal.Stop()
		metrics.SetComponent("wal", metrics.StatusHealthy, "")
	} else {
		metrics.SetComponent("wal", metrics.StatusDisabled, "")
	}

	sched := scheduler.New(st, ledgerClient, queryCache, broker, cfg.Batching, cfg.Ledger.InvokeTimeout)
	if cfg.Batching.Enabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = sched.Stop(ctx)
		}()
		metrics.SetComponent("scheduler", metrics.StatusHealthy, "")
	} else {
		metrics.SetComponent("scheduler", metrics.StatusStopped, "")
	}

	deps := api.Deps{
		Store:     st,
		Cache:     queryCache,
		Scheduler: sched,
		Verifier:  verifier.New(st, ledgerClient),
		Broker:    broker,
	}
	if journal != nil {
		deps.WAL = journal
	}
	server := api.New(cfg.Server, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	return nil
}

// walInsert is the drainer's insert callback. A duplicate id means the
// record already made it into the store before the crash, so the entry
// counts as processed — but the sync control is still upserted, since
// the earlier insert may have died between the two writes.
func walInsert(st store.Store) wal.InsertFunc {
	return func(ctx context.Context, r *types.Record) error {
		if err := st.InsertRecord(ctx, r); err != nil && !errors.Is(err, store.ErrDuplicateID) {
			return err
		}
		return st.UpsertSyncControl(ctx, &types.SyncControl{
			RecordID:  r.ID,
			Status:    types.SyncPendingBatch,
			CreatedAt: r.CreatedAt,
		})
	}
}
