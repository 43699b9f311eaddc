package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/javi11/ingestord/internal/config"
	"github.com/javi11/ingestord/internal/database"
	"github.com/javi11/ingestord/internal/datalake"
	"github.com/javi11/ingestord/internal/housekeeping"
	"github.com/javi11/ingestord/internal/persistence"
	"github.com/javi11/ingestord/internal/pipeline"
	"github.com/javi11/ingestord/internal/scheduler"
	"github.com/javi11/ingestord/internal/slogutil"
	"github.com/spf13/cobra"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion engine",
		Long:  `Start the scheduled ingestion engine using configuration from YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting ingestion engine",
		"processing_root", cfg.ProcessingRoot,
		"ingest_cron", cfg.IngestCron,
		"housekeeping_cron", cfg.HousekeepingCron,
		"worker_pool_size", cfg.WorkerPoolSize,
		"upload_to_datalake", cfg.UploadToDatalake)

	db, err := database.New(database.Config{DatabasePath: cfg.Database.Path})
	if err != nil {
		logger.Error("failed to open database", "err", err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "err", err)
		}
	}()

	store := persistence.New(db.Repository)

	var uploader datalake.Uploader = datalake.NopUploader{}
	if cfg.UploadToDatalake {
		uploader = datalake.NewLoggingUploader(datalake.NopUploader{}, cfg.ProcessingRoot)
	}

	p := pipeline.New(db.Repository, store, uploader, cfg.ProcessingRoot)
	hk := housekeeping.New(cfg.ProcessingRoot, cfg.RetainBackupYears, cfg.RetainLogMonths)
	sched := scheduler.New(db.Repository, p, hk, cfg.WorkerPoolSize)

	mgr := config.NewManager(cfg, config.GetConfigFilePath())
	mgr.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		logger.Info("configuration reloaded",
			"retain_backup_years", newConfig.RetainBackupYears,
			"retain_log_months", newConfig.RetainLogMonths,
			"log_level", newConfig.Log.Level)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx, cfg.IngestCron, cfg.HousekeepingCron); err != nil {
		logger.Error("failed to start scheduler", "err", err)
		return err
	}
	logger.Info("scheduler started")

	go watchConfigReload(ctx, mgr, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/live", handleSimpleHealth)

	httpServer := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("liveness server error", "err", err)
		}
	}()

	signalHandler(ctx)

	sched.Stop()
	logger.Info("scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("liveness server shutdown error", "err", err)
	}

	logger.Info("ingestion engine shutting down gracefully")
	return nil
}

// handleSimpleHealth provides a lightweight liveness check endpoint for
// container orchestrators.
func handleSimpleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	json.NewEncoder(w).Encode(response)
}

// watchConfigReload re-reads the config file on SIGHUP. A reload that
// changes ProcessingRoot or the database path is rejected and logged, and
// the prior configuration stays in effect. An accepted reload replaces the
// manager's stored configuration and fires the registered callback, which
// logs the new retention windows and log level; the running housekeeper,
// scheduler and logger keep the values they were built with at startup.
func watchConfigReload(ctx context.Context, mgr *config.Manager, logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	defer signal.Stop(c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c:
			reloaded, err := config.LoadConfig(configFile)
			if err != nil {
				logger.Error("config reload: failed to read config file", "err", err)
				continue
			}
			if err := mgr.ValidateConfigUpdate(reloaded); err != nil {
				logger.Error("config reload: rejected", "err", err)
				continue
			}
			if err := mgr.UpdateConfig(reloaded); err != nil {
				logger.Error("config reload: failed to apply", "err", err)
			}
		}
	}
}

func signalHandler(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-c:
	}
}
