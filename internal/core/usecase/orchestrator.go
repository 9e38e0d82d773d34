package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

type stageStatuses struct {
	entry      domain.PublicationStatus
	inProgress domain.PublicationStatus
	failed     domain.PublicationStatus
}

var itemStages = map[domain.Stage]stageStatuses{
	domain.StageDownload: {domain.StatusPending, domain.StatusDownloading, domain.StatusDownloadFailed},
	domain.StageParse:    {domain.StatusDownloaded, domain.StatusParsing, domain.StatusParseFailed},
	domain.StageAI:       {domain.StatusParsed, domain.StatusProcessing, domain.StatusAIFailed},
}

type OrchestratorConfig struct {
	BatchSize int
}

// Stages bundles the four pipeline components.
type Stages struct {
	Scraper    *Scraper
	Downloader *Downloader
	Parser     *Parser
	Classifier *Classifier
}

type StageOptions struct {
	Resume   bool
	MaxPages int
	MaxItems int
	DryRun   bool
}

type StageReport struct {
	Stage  domain.Stage     `json:"stage"`
	JobID  string           `json:"job_id,omitempty"`
	Status domain.JobStatus `json:"status,omitempty"`
	Scrape *ScrapeResult    `json:"scrape,omitempty"`
	Batch  *BatchResult     `json:"batch,omitempty"`

	// Planned is the number of items a dry run would touch.
	Planned int    `json:"planned,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Processed counts the items the stage moved forward.
func (r StageReport) Processed() int {
	switch {
	case r.Scrape != nil:
		return r.Scrape.TotalScraped
	case r.Batch != nil:
		return r.Batch.Processed()
	default:
		return 0
	}
}

func (r StageReport) Failed() int {
	switch {
	case r.Scrape != nil:
		return r.Scrape.Failed
	case r.Batch != nil:
		return r.Batch.Failed
	default:
		return 0
	}
}

type BackfillOptions struct {
	SkipStages []domain.Stage
	MaxPages   int
	DryRun     bool
	Resume     bool
}

type BackfillReport struct {
	JobID          string           `json:"job_id,omitempty"`
	Status         domain.JobStatus `json:"status"`
	Stages         []StageReport    `json:"stages"`
	TotalInserted  int              `json:"total_inserted"`
	TotalProcessed int              `json:"total_processed"`
}

type IncrementalOptions struct {
	MaxPages int
	Since    *time.Time
}

type IncrementalReport struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	Recent RecentResult     `json:"recent"`
	Stages []StageReport    `json:"stages"`
}

// Status is an operational snapshot of the pipeline.
type Status struct {
	Stats        domain.PipelineStats       `json:"stats"`
	StatusCounts domain.StatusCounts        `json:"status_counts"`
	CurrentJob   *domain.Job                `json:"current_job,omitempty"`
	Estimate     *domain.CompletionEstimate `json:"estimate,omitempty"`
	Paused       bool                       `json:"paused"`
	Cancelled    bool                       `json:"cancelled"`
	Scraper      ScraperCounters            `json:"scraper"`
	Downloader   DownloaderCounters         `json:"downloader"`
	Parser       ParserCounters             `json:"parser"`
	Classifier   ClassifierCounters         `json:"classifier"`
}

type backfillState struct {
	SkipStages      []domain.Stage `json:"skip_stages"`
	MaxPages        int            `json:"max_pages"`
	CompletedStages []domain.Stage `json:"completed_stages"`
}

// Orchestrator sequences the stages into tracked jobs and exposes
// cooperative pause, resume and cancel.
type Orchestrator struct {
	stages  Stages
	tracker *ProgressTracker
	store   ports.PublicationStore
	hub     *eventHub
	control Control
	cfg     OrchestratorConfig

	mu         sync.Mutex
	currentJob string
}

func NewOrchestrator(
	stages Stages,
	tracker *ProgressTracker,
	store ports.PublicationStore,
	publisher ports.EventPublisher,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Orchestrator{
		stages:  stages,
		tracker: tracker,
		store:   store,
		hub:     newEventHub(publisher),
		cfg:     cfg,
	}
}

func (o *Orchestrator) Pause()  { o.control.Pause() }
func (o *Orchestrator) Resume() { o.control.Resume() }
func (o *Orchestrator) Cancel() { o.control.Cancel() }

// Subscribe returns a live event stream and a function that ends it.
func (o *Orchestrator) Subscribe(buffer int) (<-chan domain.Event, func()) {
	return o.hub.subscribe(buffer)
}

func (o *Orchestrator) Tracker() *ProgressTracker {
	return o.tracker
}

func (o *Orchestrator) RunIndexStage(ctx context.Context, opts StageOptions) (StageReport, error) {
	o.control.Reset()
	return o.runStage(ctx, domain.StageIndex, opts)
}

func (o *Orchestrator) RunDownloadStage(ctx context.Context, opts StageOptions) (StageReport, error) {
	o.control.Reset()
	return o.runStage(ctx, domain.StageDownload, opts)
}

func (o *Orchestrator) RunParseStage(ctx context.Context, opts StageOptions) (StageReport, error) {
	o.control.Reset()
	return o.runStage(ctx, domain.StageParse, opts)
}

func (o *Orchestrator) RunAIStage(ctx context.Context, opts StageOptions) (StageReport, error) {
	o.control.Reset()
	return o.runStage(ctx, domain.StageAI, opts)
}

// RunStage dispatches by stage name.
func (o *Orchestrator) RunStage(ctx context.Context, stage domain.Stage, opts StageOptions) (StageReport, error) {
	if stage.JobType() == "" {
		return StageReport{Stage: stage}, domain.WrapError(domain.ErrInvalidInput, "run stage", fmt.Errorf("unknown stage %q", stage))
	}
	o.control.Reset()
	return o.runStage(ctx, stage, opts)
}

func (o *Orchestrator) runStage(ctx context.Context, stage domain.Stage, opts StageOptions) (StageReport, error) {
	if opts.DryRun {
		return o.dryRunStage(ctx, stage, opts)
	}

	report := StageReport{Stage: stage}
	job, err := o.startJob(ctx, stage.JobType(), opts.Resume, nil)
	if err != nil {
		return report, err
	}
	report.JobID = job.JobID

	slog.Info("stage_started",
		"stage", stage,
		"job_id", job.JobID,
		"resume_from", job.LastStartParam,
	)

	runErr := o.track(ctx, job, stage, func(events chan<- domain.Event) error {
		return o.execute(ctx, stage, job, opts, events, &report)
	})
	report.Status = o.finalize(context.WithoutCancel(ctx), job.JobID, stage, report, runErr)

	if runErr != nil && !domain.IsInterrupt(runErr) {
		report.Error = runErr.Error()
		return report, fmt.Errorf("%s stage: %w", stage, runErr)
	}
	return report, nil
}

func (o *Orchestrator) execute(
	ctx context.Context,
	stage domain.Stage,
	job *domain.Job,
	opts StageOptions,
	events chan<- domain.Event,
	report *StageReport,
) error {
	if stage == domain.StageIndex {
		res, err := o.stages.Scraper.ScrapeAllPages(ctx, ScrapeOptions{
			StartIndex: job.LastStartParam,
			MaxPages:   opts.MaxPages,
			Events:     events,
			Control:    &o.control,
		})
		report.Scrape = &res
		return err
	}

	statuses := itemStages[stage]
	if moved, err := o.store.MoveStatus(ctx, statuses.inProgress, statuses.entry); err != nil {
		return fmt.Errorf("release stale %s claims: %w", statuses.inProgress, err)
	} else if moved > 0 {
		slog.Warn("stale_claims_released", "stage", stage, "status", statuses.inProgress, "count", moved)
	}
	o.recordBacklog(ctx, job.JobID, statuses.entry, opts.MaxItems)

	pending := PendingOptions{
		BatchSize: o.cfg.BatchSize,
		MaxItems:  opts.MaxItems,
		Events:    events,
		Control:   &o.control,
	}
	var (
		res BatchResult
		err error
	)
	switch stage {
	case domain.StageDownload:
		res, err = o.stages.Downloader.DownloadAllPending(ctx, pending)
	case domain.StageParse:
		res, err = o.stages.Parser.ParseAllPending(ctx, pending)
	case domain.StageAI:
		res, err = o.stages.Classifier.ClassifyAllPending(ctx, pending)
	}
	report.Batch = &res
	return err
}

func (o *Orchestrator) recordBacklog(ctx context.Context, jobID string, entry domain.PublicationStatus, maxItems int) {
	counts, err := o.store.GetStatusCounts(ctx)
	if err != nil {
		slog.Warn("status_counts_failed", "job_id", jobID, "error", err)
		return
	}
	total := counts[entry]
	if maxItems > 0 {
		total = min(total, maxItems)
	}
	if err := o.tracker.UpdateProgress(ctx, jobID, ProgressUpdate{TotalItems: &total}); err != nil {
		slog.Warn("job_progress_update_failed", "job_id", jobID, "error", err)
	}
}

// track runs fn with an event channel whose events are persisted as job
// progress and fanned out to subscribers. It returns once every event has
// been consumed.
func (o *Orchestrator) track(
	ctx context.Context,
	job *domain.Job,
	stage domain.Stage,
	fn func(events chan<- domain.Event) error,
) error {
	o.setCurrent(job.JobID)
	defer o.setCurrent("")

	o.hub.broadcast(ctx, domain.Event{
		Kind:      domain.EventJobStarted,
		Stage:     stage,
		JobID:     job.JobID,
		JobStatus: domain.JobRunning,
		At:        time.Now().UTC(),
	})

	events := make(chan domain.Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.consume(context.WithoutCancel(ctx), job, events)
	}()

	err := fn(events)
	close(events)
	<-done
	return err
}

func (o *Orchestrator) consume(ctx context.Context, job *domain.Job, events <-chan domain.Event) {
	baseProcessed := job.ProcessedItems
	baseFailed := job.FailedItems

	for ev := range events {
		ev.JobID = job.JobID
		switch ev.Kind {
		case domain.EventPageScraped, domain.EventBatchCompleted:
			processed := baseProcessed + ev.Processed
			failed := baseFailed + ev.Failed
			update := ProgressUpdate{ProcessedItems: &processed, FailedItems: &failed}
			if ev.Kind == domain.EventPageScraped {
				page, next := ev.Page, ev.NextStartIndex
				update.LastPage = &page
				update.LastStartParam = &next
				if ev.TotalItems > 0 {
					total := ev.TotalItems
					update.TotalItems = &total
				}
			}
			if err := o.tracker.UpdateProgress(ctx, job.JobID, update); err != nil {
				slog.Error("job_progress_update_failed", "job_id", job.JobID, "error", err)
			}
		case domain.EventItemFailed:
			msg := ev.Message
			if ev.PublicationID != "" {
				msg = ev.PublicationID + ": " + msg
			}
			if err := o.tracker.LogError(ctx, job.JobID, msg); err != nil {
				slog.Error("job_error_log_failed", "job_id", job.JobID, "error", err)
			}
		}
		o.hub.broadcast(ctx, ev)
	}
}

// finalize maps the run error onto the job's terminal status. Pause and
// cancel are control flow, not failures.
func (o *Orchestrator) finalize(ctx context.Context, jobID string, stage domain.Stage, summary any, runErr error) domain.JobStatus {
	var (
		status domain.JobStatus
		err    error
	)
	switch {
	case runErr == nil:
		status = domain.JobCompleted
		err = o.tracker.CompleteJob(ctx, jobID, summary)
	case errors.Is(runErr, domain.ErrJobPaused):
		status = domain.JobPaused
		err = o.tracker.PauseJob(ctx, jobID)
		slog.Info("job_paused", "job_id", jobID, "stage", stage)
	case errors.Is(runErr, domain.ErrJobCancelled):
		status = domain.JobCancelled
		err = o.tracker.CancelJob(ctx, jobID)
		slog.Info("job_cancelled", "job_id", jobID, "stage", stage)
	default:
		status = domain.JobFailed
		err = o.tracker.FailJob(ctx, jobID, runErr)
		slog.Error("job_failed", "job_id", jobID, "stage", stage, "error", runErr)
	}
	if err != nil {
		slog.Error("job_finalize_failed", "job_id", jobID, "status", status, "error", err)
	}

	ev := domain.Event{
		Kind:      domain.EventJobFinished,
		Stage:     stage,
		JobID:     jobID,
		JobStatus: status,
		At:        time.Now().UTC(),
	}
	if status == domain.JobFailed {
		ev.Message = runErr.Error()
	}
	o.hub.broadcast(ctx, ev)
	return status
}

// startJob resumes a paused job, then a job left running by an interrupted
// process, before creating a fresh one.
func (o *Orchestrator) startJob(ctx context.Context, jobType domain.JobType, resume bool, metadata any) (*domain.Job, error) {
	if resume {
		job, err := o.tracker.ResumeLatestPaused(ctx, jobType)
		if err == nil {
			slog.Info("job_resumed", "job_id", job.JobID, "job_type", jobType, "last_start", job.LastStartParam)
			return job, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		checkpoint, err := o.tracker.GetCheckpoint(ctx, jobType)
		if err != nil {
			return nil, err
		}
		if checkpoint.CanResume {
			slog.Info("job_checkpoint_found", "job_id", checkpoint.JobID, "job_type", jobType, "last_start", checkpoint.LastStartParam)
			return o.tracker.GetJob(ctx, checkpoint.JobID)
		}
	}
	return o.tracker.CreateJob(ctx, jobType, metadata)
}

func (o *Orchestrator) dryRunStage(ctx context.Context, stage domain.Stage, opts StageOptions) (StageReport, error) {
	report := StageReport{Stage: stage}
	if stage == domain.StageIndex {
		maxPages := opts.MaxPages
		if maxPages <= 0 {
			maxPages = 1
		}
		res, err := o.stages.Scraper.ScrapeAllPages(ctx, ScrapeOptions{MaxPages: maxPages, DryRun: true})
		report.Scrape = &res
		report.Planned = res.TotalScraped
		return report, err
	}

	counts, err := o.store.GetStatusCounts(ctx)
	if err != nil {
		return report, fmt.Errorf("status counts: %w", err)
	}
	report.Planned = counts[itemStages[stage].entry]
	if opts.MaxItems > 0 {
		report.Planned = min(report.Planned, opts.MaxItems)
	}
	return report, nil
}

// RunFullBackfill runs index, download, parse and ai in order under one
// umbrella job. A resumed backfill skips stages it already completed.
func (o *Orchestrator) RunFullBackfill(ctx context.Context, opts BackfillOptions) (*BackfillReport, error) {
	o.control.Reset()
	report := &BackfillReport{Stages: []StageReport{}}

	if opts.DryRun {
		for _, stage := range domain.AllStages {
			if slices.Contains(opts.SkipStages, stage) {
				continue
			}
			sr, err := o.dryRunStage(ctx, stage, StageOptions{MaxPages: opts.MaxPages})
			report.Stages = append(report.Stages, sr)
			if err != nil {
				return report, err
			}
		}
		report.Status = domain.JobCompleted
		return report, nil
	}

	state := backfillState{
		SkipStages:      opts.SkipStages,
		MaxPages:        opts.MaxPages,
		CompletedStages: []domain.Stage{},
	}
	umbrella, err := o.startJob(ctx, domain.JobFullBackfill, opts.Resume, state)
	if err != nil {
		return report, err
	}
	report.JobID = umbrella.JobID
	if opts.Resume && len(umbrella.Metadata) > 0 {
		var previous backfillState
		if err := json.Unmarshal(umbrella.Metadata, &previous); err == nil && previous.CompletedStages != nil {
			state.CompletedStages = previous.CompletedStages
		}
	}

	slog.Info("backfill_started", "job_id", umbrella.JobID, "skip", opts.SkipStages, "completed", state.CompletedStages)

	final := domain.JobCompleted
	var stageErr error
	processed := umbrella.ProcessedItems
	for _, stage := range domain.AllStages {
		if slices.Contains(opts.SkipStages, stage) || slices.Contains(state.CompletedStages, stage) {
			continue
		}

		sr, err := o.runStage(ctx, stage, StageOptions{Resume: opts.Resume, MaxPages: opts.MaxPages})
		report.Stages = append(report.Stages, sr)
		if sr.Scrape != nil {
			report.TotalInserted += sr.Scrape.TotalInserted
		}
		processed += sr.Processed()
		if updErr := o.tracker.UpdateProgress(ctx, umbrella.JobID, ProgressUpdate{ProcessedItems: &processed}); updErr != nil {
			slog.Warn("job_progress_update_failed", "job_id", umbrella.JobID, "error", updErr)
		}

		if err != nil {
			final = domain.JobFailed
			stageErr = err
			break
		}
		if sr.Status != domain.JobCompleted {
			final = sr.Status
			break
		}
		state.CompletedStages = append(state.CompletedStages, stage)
		if err := o.tracker.SetMetadata(ctx, umbrella.JobID, state); err != nil {
			slog.Warn("job_metadata_update_failed", "job_id", umbrella.JobID, "error", err)
		}
	}
	report.TotalProcessed = processed - umbrella.ProcessedItems

	var finalErr error
	switch final {
	case domain.JobPaused:
		finalErr = domain.ErrJobPaused
	case domain.JobCancelled:
		finalErr = domain.ErrJobCancelled
	case domain.JobFailed:
		finalErr = stageErr
	}
	report.Status = o.finalize(context.WithoutCancel(ctx), umbrella.JobID, "", report, finalErr)

	slog.Info("backfill_finished",
		"job_id", umbrella.JobID,
		"status", report.Status,
		"inserted", report.TotalInserted,
		"processed", report.TotalProcessed,
	)
	return report, stageErr
}

// RunIncrementalUpdate scrapes only the newest pages and, when anything new
// appeared, pushes that many items through the remaining stages.
func (o *Orchestrator) RunIncrementalUpdate(ctx context.Context, opts IncrementalOptions) (*IncrementalReport, error) {
	o.control.Reset()
	report := &IncrementalReport{Stages: []StageReport{}}

	umbrella, err := o.tracker.CreateJob(ctx, domain.JobIncrementalUpdate, map[string]any{
		"max_pages": opts.MaxPages,
		"since":     opts.Since,
	})
	if err != nil {
		return report, err
	}
	report.JobID = umbrella.JobID

	runErr := o.track(ctx, umbrella, domain.StageIndex, func(events chan<- domain.Event) error {
		recent, err := o.stages.Scraper.ScrapeRecent(ctx, RecentOptions{
			MaxPages: opts.MaxPages,
			Since:    opts.Since,
			Events:   events,
			Control:  &o.control,
		})
		report.Recent = recent
		return err
	})

	if runErr == nil && report.Recent.TotalNew > 0 {
		for _, stage := range []domain.Stage{domain.StageDownload, domain.StageParse, domain.StageAI} {
			sr, err := o.runStage(ctx, stage, StageOptions{MaxItems: report.Recent.TotalNew})
			report.Stages = append(report.Stages, sr)
			if err != nil {
				runErr = err
				break
			}
			if sr.Status == domain.JobPaused {
				runErr = domain.ErrJobPaused
				break
			}
			if sr.Status == domain.JobCancelled {
				runErr = domain.ErrJobCancelled
				break
			}
		}
	}

	report.Status = o.finalize(context.WithoutCancel(ctx), umbrella.JobID, "", report, runErr)
	slog.Info("incremental_update_finished",
		"job_id", umbrella.JobID,
		"status", report.Status,
		"new", report.Recent.TotalNew,
	)
	if runErr != nil && !domain.IsInterrupt(runErr) {
		return report, runErr
	}
	return report, nil
}

// RetryFailed resets terminal failures of the given stages to their entry
// status with a fresh retry budget.
func (o *Orchestrator) RetryFailed(ctx context.Context, stages ...domain.Stage) (int, error) {
	if len(stages) == 0 {
		stages = []domain.Stage{domain.StageDownload, domain.StageParse, domain.StageAI}
	}
	total := 0
	for _, stage := range stages {
		statuses, ok := itemStages[stage]
		if !ok {
			continue
		}
		n, err := o.store.ResetFailed(ctx, statuses.failed, statuses.entry)
		if err != nil {
			return total, fmt.Errorf("reset %s: %w", statuses.failed, err)
		}
		total += n
	}
	return total, nil
}

func (o *Orchestrator) GetStatus(ctx context.Context) (*Status, error) {
	stats, err := o.store.GetPipelineStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline stats: %w", err)
	}
	counts, err := o.store.GetStatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}

	status := &Status{
		Stats:        stats,
		StatusCounts: counts,
		Paused:       o.control.Paused(),
		Cancelled:    o.control.Cancelled(),
		Scraper:      o.stages.Scraper.Counters(),
		Downloader:   o.stages.Downloader.Counters(),
		Parser:       o.stages.Parser.Counters(),
		Classifier:   o.stages.Classifier.Counters(),
	}

	if jobID := o.current(); jobID != "" {
		job, err := o.tracker.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("current job: %w", err)
		}
		status.CurrentJob = job
		estimate, err := o.tracker.EstimateCompletion(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("estimate completion: %w", err)
		}
		status.Estimate = estimate
	}
	return status, nil
}

func (o *Orchestrator) setCurrent(jobID string) {
	o.mu.Lock()
	o.currentJob = jobID
	o.mu.Unlock()
}

func (o *Orchestrator) current() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentJob
}
