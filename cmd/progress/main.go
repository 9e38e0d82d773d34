package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/bootstrap"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/config"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/export"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/queue/nats"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/observability/logging"
)

var (
	watch      bool
	intervalMS int
	showJobs   bool
	showStats  bool
	exportPath string
	signalName string
	jobLimit   int
)

var rootCmd = &cobra.Command{
	Use:          "progress",
	Short:        "Inspect and control pipeline progress",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVar(&watch, "watch", false, "refresh until interrupted")
	rootCmd.Flags().IntVar(&intervalMS, "interval", 5000, "refresh interval in milliseconds for --watch")
	rootCmd.Flags().BoolVar(&showJobs, "jobs", false, "list recent jobs")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "show publication statistics")
	rootCmd.Flags().StringVar(&exportPath, "export", "", "write notices, jobs and statistics to an .xlsx file")
	rootCmd.Flags().StringVar(&signalName, "signal", "", "send pause, resume or cancel to a running pipeline")
	rootCmd.Flags().IntVar(&jobLimit, "limit", 10, "number of jobs to list")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if signalName != "" {
		return sendSignal(ctx, cmd.OutOrStdout())
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Install("progress", cfg.LogLevel, cfg.LogFormat)

	app, err := bootstrap.New(ctx, cfg, "progress", logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if exportPath != "" {
		return exportWorkbook(ctx, app, cmd.OutOrStdout())
	}
	if !showJobs && !showStats {
		showJobs, showStats = true, true
	}

	if !watch {
		return render(ctx, app, cmd.OutOrStdout())
	}

	interval := time.Duration(intervalMS) * time.Millisecond
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := render(ctx, app, cmd.OutOrStdout()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprintln(cmd.OutOrStdout())
		}
	}
}

func sendSignal(ctx context.Context, out io.Writer) error {
	command, err := nats.ParseCommand(signalName)
	if err != nil {
		return err
	}
	// No database is needed to signal, so only the environment is loaded.
	_ = godotenv.Load()
	url := os.Getenv("NATS_URL")
	if url == "" {
		return fmt.Errorf("--signal: %w: NATS_URL is not set", domain.ErrMissingConfig)
	}
	retry := false
	bus, err := nats.NewWithOptions(url, nats.Options{
		ControlSubject:       os.Getenv("NATS_CONTROL_SUBJECT"),
		RetryOnFailedConnect: &retry,
	})
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer bus.Close()

	if err := bus.PublishControl(ctx, command); err != nil {
		return fmt.Errorf("publish %s: %w", command, err)
	}
	fmt.Fprintf(out, "sent %s\n", command)
	return nil
}

func render(ctx context.Context, app *bootstrap.App, out io.Writer) error {
	fmt.Fprintf(out, "== %s\n", time.Now().UTC().Format(time.RFC3339))

	if showStats {
		status, err := app.Orchestrator.GetStatus(ctx)
		if err != nil {
			return fmt.Errorf("pipeline status: %w", err)
		}
		renderStats(out, status.Stats, status.StatusCounts)
	}

	if showJobs {
		jobs, err := app.Orchestrator.Tracker().ListJobs(ctx, jobLimit)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		renderJobs(out, jobs)
		for _, job := range jobs {
			if job.Status != domain.JobRunning {
				continue
			}
			estimate, err := app.Orchestrator.Tracker().EstimateCompletion(ctx, job.JobID)
			if err != nil {
				return fmt.Errorf("estimate %s: %w", job.JobID, err)
			}
			if estimate != nil {
				fmt.Fprintf(out, "%s: %d remaining, ~%.1f min (eta %s)\n",
					job.JobID, estimate.RemainingItems, estimate.MinutesRemaining,
					estimate.EstimatedCompletion.Format(time.RFC3339))
			}
		}
	}
	return nil
}

func renderStats(out io.Writer, stats domain.PipelineStats, counts domain.StatusCounts) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "publications\t%d\n", stats.TotalPublications)
	fmt.Fprintf(tw, "with pdf\t%d\n", stats.WithPDFURL)
	fmt.Fprintf(tw, "downloaded\t%d\n", stats.Downloaded)
	fmt.Fprintf(tw, "parsed\t%d\n", stats.Parsed)
	fmt.Fprintf(tw, "processed\t%d\n", stats.Processed)
	fmt.Fprintf(tw, "failed\t%d\n", stats.Failed)
	fmt.Fprintf(tw, "notices\t%d\n", stats.Notices)
	fmt.Fprintf(tw, "total fines\t£%.0f\n", stats.TotalFines)
	if stats.Processed > 0 && stats.TotalPublications > 0 {
		fmt.Fprintf(tw, "complete\t%.1f%%\n", 100*float64(stats.Processed)/float64(stats.TotalPublications))
	}
	for _, status := range slices.Sorted(maps.Keys(counts)) {
		if status.IsFailed() && counts[status] > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", status, counts[status])
		}
	}
	_ = tw.Flush()
}

func renderJobs(out io.Writer, jobs []domain.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "no jobs recorded")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTYPE\tSTATUS\tPROCESSED\tFAILED\tTOTAL\tRATE/MIN\tSTARTED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.1f\t%s\n",
			j.JobID, j.JobType, j.Status, j.ProcessedItems, j.FailedItems, j.TotalItems,
			j.ItemsPerMinute, j.StartedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func exportWorkbook(ctx context.Context, app *bootstrap.App, out io.Writer) error {
	status, err := app.Orchestrator.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("pipeline status: %w", err)
	}
	notices, err := app.Notices.ListEnforcementNotices(ctx, 100000)
	if err != nil {
		return fmt.Errorf("list notices: %w", err)
	}
	jobs, err := app.Orchestrator.Tracker().ListJobs(ctx, 500)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	err = export.WriteFile(exportPath, export.Report{
		GeneratedAt:  time.Now().UTC(),
		Stats:        status.Stats,
		StatusCounts: status.StatusCounts,
		Notices:      notices,
		Jobs:         jobs,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d notices and %d jobs to %s\n", len(notices), len(jobs), exportPath)
	return nil
}
