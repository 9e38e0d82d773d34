package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/bootstrap"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/config"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/usecase"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/observability/logging"
)

var (
	stageFlag   string
	skipFlag    []string
	maxPages    int
	dryRun      bool
	incremental bool
	resume      bool
	retryFailed bool
)

var rootCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run the enforcement notice pipeline",
	Long: `Scrapes the enforcement listing, downloads and parses the linked PDFs and
classifies them with the configured LLM. Without --stage every stage runs in order.

The first interrupt pauses the running job at the next page or batch boundary so
it can be resumed with --resume; a second interrupt aborts immediately.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&stageFlag, "stage", "", "run a single stage: index, download, parse or ai")
	rootCmd.Flags().StringSliceVar(&skipFlag, "skip", nil, "stages to skip during a full backfill")
	rootCmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop the index stage after this many pages (0 = all)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without writing anything")
	rootCmd.Flags().BoolVar(&incremental, "incremental", false, "scrape recent pages only and process new publications")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "continue the latest paused job")
	rootCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "reset terminally failed items before running")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Install("backfill", cfg.LogLevel, cfg.LogFormat)

	skip, err := parseStages(skipFlag)
	if err != nil {
		return err
	}
	var single domain.Stage
	if stageFlag != "" {
		stages, err := parseStages([]string{stageFlag})
		if err != nil {
			return err
		}
		single = stages[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, "backfill", logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	go handleSignals(ctx, cancel, app, logger)
	app.WatchEvents(ctx)
	app.ListenForControl(ctx)

	if !app.LLMReady && single == "" && !slices.Contains(skip, domain.StageAI) {
		logger.Warn("ai_stage_skipped", "reason", "llm provider is not configured")
		skip = append(skip, domain.StageAI)
	}
	if !app.LLMReady && single == domain.StageAI && !dryRun {
		return fmt.Errorf("ai stage: %w", domain.ErrMissingConfig)
	}

	if retryFailed && !dryRun {
		n, err := app.Orchestrator.RetryFailed(ctx)
		if err != nil {
			return fmt.Errorf("retry failed: %w", err)
		}
		logger.Info("failed_items_reset", "count", n)
	}

	var report any
	switch {
	case incremental:
		r, runErr := app.Orchestrator.RunIncrementalUpdate(ctx, usecase.IncrementalOptions{MaxPages: maxPages})
		if r != nil {
			report = r
		}
		err = runErr
	case single != "":
		r, runErr := app.Orchestrator.RunStage(ctx, single, usecase.StageOptions{
			Resume:   resume,
			MaxPages: maxPages,
			DryRun:   dryRun,
		})
		report, err = r, runErr
	default:
		r, runErr := app.Orchestrator.RunFullBackfill(ctx, usecase.BackfillOptions{
			SkipStages: skip,
			MaxPages:   maxPages,
			DryRun:     dryRun,
			Resume:     resume,
		})
		if r != nil {
			report = r
		}
		err = runErr
	}
	if report != nil {
		printReport(cmd, report)
	}
	if err != nil {
		logger.Error("backfill_failed", "error", err)
		return err
	}
	return nil
}

// handleSignals pauses on the first interrupt and cancels on the second.
func handleSignals(ctx context.Context, cancel context.CancelFunc, app *bootstrap.App, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	paused := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if !paused {
				paused = true
				logger.Warn("pause_requested", "signal", sig.String())
				app.Orchestrator.Pause()
				continue
			}
			logger.Warn("abort_requested", "signal", sig.String())
			app.Orchestrator.Cancel()
			cancel()
			return
		}
	}
}

func parseStages(raw []string) ([]domain.Stage, error) {
	out := make([]domain.Stage, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" {
				continue
			}
			stage := domain.Stage(name)
			if stage.JobType() == "" {
				return nil, domain.WrapError(domain.ErrInvalidInput, "parse stage", fmt.Errorf("unknown stage %q", name))
			}
			out = append(out, stage)
		}
	}
	return out, nil
}

func printReport(cmd *cobra.Command, report any) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		cmd.PrintErrf("marshal report: %v\n", err)
		return
	}
	cmd.Println(string(data))
}
