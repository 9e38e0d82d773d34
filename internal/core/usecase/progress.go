package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

// minRateWindow keeps items-per-minute from spiking in the first seconds.
const minRateWindow = 60 * time.Second

// ProgressUpdate is a partial job update; nil fields are left untouched.
type ProgressUpdate struct {
	TotalItems     *int
	ProcessedItems *int
	FailedItems    *int
	LastPage       *int
	LastStartParam *int
}

// ProgressTracker owns job bookkeeping and checkpoints.
type ProgressTracker struct {
	jobs ports.JobStore
	now  func() time.Time
}

func NewProgressTracker(jobs ports.JobStore) *ProgressTracker {
	return &ProgressTracker{
		jobs: jobs,
		now:  time.Now,
	}
}

func (t *ProgressTracker) CreateJob(ctx context.Context, jobType domain.JobType, metadata any) (*domain.Job, error) {
	now := t.now().UTC()
	job := &domain.Job{
		JobID:     newJobID(jobType, now),
		JobType:   jobType,
		Status:    domain.JobRunning,
		ErrorLog:  []domain.JobErrorEntry{},
		StartedAt: now,
		UpdatedAt: now,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "create job", err)
		}
		job.Metadata = raw
	}
	if err := t.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create %s job: %w", jobType, err)
	}
	return job, nil
}

func (t *ProgressTracker) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return t.jobs.GetJob(ctx, jobID)
}

func (t *ProgressTracker) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return t.jobs.ListJobs(ctx, limit)
}

// UpdateProgress applies a partial update and recomputes items per minute
// whenever the processed count changes.
func (t *ProgressTracker) UpdateProgress(ctx context.Context, jobID string, update ProgressUpdate) error {
	patch := domain.JobUpdate{
		TotalItems:      update.TotalItems,
		ProcessedItems:  update.ProcessedItems,
		FailedItems:     update.FailedItems,
		LastPageScraped: update.LastPage,
		LastStartParam:  update.LastStartParam,
	}

	if update.ProcessedItems != nil {
		job, err := t.jobs.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job %s: %w", jobID, err)
		}
		elapsed := max(t.now().Sub(job.StartedAt), minRateWindow)
		rate := float64(*update.ProcessedItems) / elapsed.Minutes()
		patch.ItemsPerMinute = &rate
	}

	if err := t.jobs.UpdateJob(ctx, jobID, patch); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}

// GetCheckpoint returns the resume cursor of the latest running job of the
// given type. No running job means a fresh start.
func (t *ProgressTracker) GetCheckpoint(ctx context.Context, jobType domain.JobType) (domain.Checkpoint, error) {
	job, err := t.jobs.LatestJobByStatus(ctx, jobType, domain.JobRunning)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Checkpoint{CanResume: false}, nil
		}
		return domain.Checkpoint{}, fmt.Errorf("latest running %s job: %w", jobType, err)
	}
	return domain.Checkpoint{
		CanResume:      true,
		JobID:          job.JobID,
		LastPage:       job.LastPageScraped,
		LastStartParam: job.LastStartParam,
		ProcessedItems: job.ProcessedItems,
	}, nil
}

func (t *ProgressTracker) PauseJob(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, domain.JobPaused, nil)
}

func (t *ProgressTracker) ResumeJob(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, domain.JobRunning, nil)
}

func (t *ProgressTracker) CancelJob(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, domain.JobCancelled, nil)
}

// CompleteJob finalizes a job and stores its result summary as metadata.
func (t *ProgressTracker) CompleteJob(ctx context.Context, jobID string, summary any) error {
	return t.transition(ctx, jobID, domain.JobCompleted, summary)
}

func (t *ProgressTracker) FailJob(ctx context.Context, jobID string, cause error) error {
	if cause != nil {
		if err := t.LogError(ctx, jobID, cause.Error()); err != nil {
			return err
		}
	}
	return t.transition(ctx, jobID, domain.JobFailed, nil)
}

// ResumeLatestPaused moves the newest paused job of a type back to running.
func (t *ProgressTracker) ResumeLatestPaused(ctx context.Context, jobType domain.JobType) (*domain.Job, error) {
	job, err := t.jobs.LatestJobByStatus(ctx, jobType, domain.JobPaused)
	if err != nil {
		return nil, err
	}
	if err := t.ResumeJob(ctx, job.JobID); err != nil {
		return nil, err
	}
	job.Status = domain.JobRunning
	return job, nil
}

// EstimateCompletion projects linearly from items per minute. It returns
// nil when the rate or the total is unknown.
func (t *ProgressTracker) EstimateCompletion(ctx context.Context, jobID string) (*domain.CompletionEstimate, error) {
	job, err := t.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ItemsPerMinute <= 0 || job.TotalItems <= 0 {
		return nil, nil
	}
	remaining := max(job.TotalItems-job.ProcessedItems, 0)
	minutes := float64(remaining) / job.ItemsPerMinute
	return &domain.CompletionEstimate{
		RemainingItems:      remaining,
		MinutesRemaining:    minutes,
		EstimatedCompletion: t.now().UTC().Add(time.Duration(minutes * float64(time.Minute))),
	}, nil
}

// SetMetadata replaces the job's metadata document.
func (t *ProgressTracker) SetMetadata(ctx context.Context, jobID string, metadata any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "job metadata", err)
	}
	if err := t.jobs.UpdateJob(ctx, jobID, domain.JobUpdate{Metadata: raw}); err != nil {
		return fmt.Errorf("update job %s metadata: %w", jobID, err)
	}
	return nil
}

// LogError appends to the job's error log.
func (t *ProgressTracker) LogError(ctx context.Context, jobID, message string) error {
	entry := domain.JobErrorEntry{Timestamp: t.now().UTC(), Message: message}
	if err := t.jobs.AppendJobError(ctx, jobID, entry); err != nil {
		return fmt.Errorf("append error to job %s: %w", jobID, err)
	}
	return nil
}

func (t *ProgressTracker) transition(ctx context.Context, jobID string, next domain.JobStatus, summary any) error {
	job, err := t.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !job.Status.CanTransition(next) {
		return domain.WrapError(
			domain.ErrInvalidTransition,
			"job transition",
			fmt.Errorf("job %s cannot move from %s to %s", jobID, job.Status, next),
		)
	}

	patch := domain.JobUpdate{Status: &next}
	switch next {
	case domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
		completedAt := t.now().UTC()
		patch.CompletedAt = &completedAt
	}
	if summary != nil {
		raw, err := json.Marshal(summary)
		if err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "job summary", err)
		}
		patch.Metadata = raw
	}
	if err := t.jobs.UpdateJob(ctx, jobID, patch); err != nil {
		return fmt.Errorf("set job %s status=%s: %w", jobID, next, err)
	}
	return nil
}

func newJobID(jobType domain.JobType, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", jobType, at.UnixMilli(), uuid.NewString()[:8])
}
