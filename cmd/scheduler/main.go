package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/MEMAtest/horizon-scanner-backend-sub006/internal/adapters/http"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/bootstrap"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/config"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/usecase"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/scheduler"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/observability/logging"
)

const (
	taskIncremental   = "incremental_update"
	taskStatusMetrics = "status_metrics"
)

var (
	runNow   bool
	cronSpec string
)

var rootCmd = &cobra.Command{
	Use:          "scheduler",
	Short:        "Run incremental enforcement updates on a schedule",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVar(&runNow, "run-now", false, "run one incremental update immediately on start")
	rootCmd.Flags().StringVar(&cronSpec, "cron", "", "override SCHEDULE_CRON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cronSpec != "" {
		cfg.ScheduleCron = cronSpec
	}
	logger := logging.Install("scheduler", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "scheduler", logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	app.WatchEvents(ctx)
	app.ListenForControl(ctx)

	sched := scheduler.New(logger)
	err = sched.Add(taskIncremental, cfg.ScheduleCron, func(ctx context.Context) error {
		report, err := app.Orchestrator.RunIncrementalUpdate(ctx, usecase.IncrementalOptions{
			MaxPages: cfg.RecentMaxPages,
		})
		if err != nil {
			return err
		}
		logger.Info("incremental_update_report",
			"job_id", report.JobID,
			"status", report.Status,
			"new_publications", report.Recent.TotalNew,
			"pages_scanned", report.Recent.PagesScanned,
		)
		return nil
	})
	if err != nil {
		return err
	}
	err = sched.Add(taskStatusMetrics, "@every 1m", func(ctx context.Context) error {
		counts, err := app.Publications.GetStatusCounts(ctx)
		if err != nil {
			return err
		}
		app.Metrics.SetStatusCounts(counts)
		return nil
	})
	if err != nil {
		return err
	}

	router := httpadapter.NewRouter(httpadapter.Deps{
		Status:     app.Orchestrator,
		Jobs:       app.Orchestrator.Tracker(),
		Controller: app.Orchestrator,
		Schedule:   sched,
		Metrics:    app.Metrics.Handler(),
		Ping:       app.Ping,
	})
	server := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      router.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sched.Start(ctx)
	if err := sched.Trigger(taskStatusMetrics); err != nil {
		return err
	}
	if runNow {
		if err := sched.Trigger(taskIncremental); err != nil {
			return err
		}
	}
	logger.Info("scheduler_running", "cron", cfg.ScheduleCron)

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		logger.Error("admin_server_failed", "error", err)
	}

	// A running update sees the cancelled context between items; Stop waits
	// for it to return.
	app.Orchestrator.Cancel()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("admin_shutdown_failed", "error", shutdownErr)
	}
	return err
}
