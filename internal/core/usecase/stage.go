package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

const defaultBatchSize = 20

// Interrupter reports a pending pause or cancel request. A nil error means
// the stage may start its next page or batch.
type Interrupter interface {
	Interrupted() error
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeCached  Outcome = "cached"
)

// BatchResult aggregates per-item outcomes of a stage run.
type BatchResult struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Cached     int `json:"cached"`

	skippedIDs []string
}

func (r *BatchResult) record(id string, outcome Outcome) {
	switch outcome {
	case OutcomeSuccess:
		r.Successful++
	case OutcomeCached:
		r.Cached++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
		r.skippedIDs = append(r.skippedIDs, id)
	}
}

func (r *BatchResult) merge(other BatchResult) {
	r.Successful += other.Successful
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Cached += other.Cached
	r.skippedIDs = append(r.skippedIDs, other.skippedIDs...)
}

// Processed counts items that completed the stage.
func (r BatchResult) Processed() int {
	return r.Successful + r.Cached
}

// Attempted counts every item handed to the stage.
func (r BatchResult) Attempted() int {
	return r.Successful + r.Cached + r.Failed + r.Skipped
}

// Handled counts items the stage actually worked on. Skips are excluded.
func (r BatchResult) Handled() int {
	return r.Successful + r.Cached + r.Failed
}

// PendingOptions drive a "process all pending" loop.
type PendingOptions struct {
	BatchSize int

	// MaxItems caps the number of items handled; skipped items do not use
	// the budget. Zero means no cap.
	MaxItems int
	Events   chan<- domain.Event
	Control  Interrupter
}

type pendingLoop struct {
	stage    domain.Stage
	status   domain.PublicationStatus
	store    ports.PublicationStore
	eligible func(domain.PublicationRecord) bool
	process  func(context.Context, []domain.PublicationRecord, chan<- domain.Event) BatchResult
}

// run pulls batches at the stage entry status until none remain. Items the
// stage skipped keep their status, so they are remembered and filtered out of
// later queries within the same run.
func (l pendingLoop) run(ctx context.Context, opts PendingOptions) (BatchResult, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var total BatchResult
	ignored := make(map[string]struct{})
	for batchNo := 1; ; batchNo++ {
		if err := interrupted(opts.Control); err != nil {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}

		limit := batchSize
		if opts.MaxItems > 0 {
			remaining := opts.MaxItems - total.Handled()
			if remaining <= 0 {
				break
			}
			limit = min(limit, remaining)
		}

		records, err := l.store.GetPendingByStatus(ctx, l.status, limit+len(ignored))
		if err != nil {
			return total, fmt.Errorf("load pending %s records: %w", l.status, err)
		}

		batch := make([]domain.PublicationRecord, 0, limit)
		for _, rec := range records {
			if _, skip := ignored[rec.PublicationID]; skip {
				continue
			}
			if l.eligible != nil && !l.eligible(rec) {
				ignored[rec.PublicationID] = struct{}{}
				continue
			}
			batch = append(batch, rec)
			if len(batch) == limit {
				break
			}
		}
		if len(batch) == 0 {
			break
		}

		result := l.process(ctx, batch, opts.Events)
		for _, id := range result.skippedIDs {
			ignored[id] = struct{}{}
		}
		total.merge(result)

		slog.Info("stage_batch_completed",
			"stage", l.stage,
			"batch", batchNo,
			"size", len(batch),
			"successful", result.Successful,
			"cached", result.Cached,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
		emit(ctx, opts.Events, domain.Event{
			Kind:      domain.EventBatchCompleted,
			Stage:     l.stage,
			Processed: total.Processed(),
			Failed:    total.Failed,
		})
	}
	return total, nil
}

// failurePolicy moves a failed item back to its entry status, or to its
// terminal failed status once the post-increment retry count reaches the
// ceiling.
type failurePolicy struct {
	store      ports.PublicationStore
	entry      domain.PublicationStatus
	failed     domain.PublicationStatus
	maxRetries int
}

func (p failurePolicy) record(ctx context.Context, id string, cause error) (domain.PublicationStatus, error) {
	msg := cause.Error()
	count, err := p.store.IncrementRetry(ctx, id, msg)
	if err != nil {
		return "", fmt.Errorf("increment retry for %s: %w", id, err)
	}

	maxRetries := p.maxRetries
	if maxRetries <= 0 {
		maxRetries = domain.MaxRetries
	}
	next := p.entry
	if count >= maxRetries {
		next = p.failed
	}
	if err := p.store.UpdateStatus(ctx, id, next, domain.StatusFields{LastError: &msg}); err != nil {
		return "", fmt.Errorf("set status=%s for %s: %w", next, id, err)
	}
	return next, nil
}

func (p failurePolicy) eligible(rec domain.PublicationRecord) bool {
	maxRetries := p.maxRetries
	if maxRetries <= 0 {
		maxRetries = domain.MaxRetries
	}
	return rec.RetryCount < maxRetries
}

func interrupted(c Interrupter) error {
	if c == nil {
		return nil
	}
	return c.Interrupted()
}

func emit(ctx context.Context, events chan<- domain.Event, ev domain.Event) {
	if events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func emitFailure(ctx context.Context, events chan<- domain.Event, stage domain.Stage, id string, err error) {
	emit(ctx, events, domain.Event{
		Kind:          domain.EventItemFailed,
		Stage:         stage,
		PublicationID: id,
		Message:       err.Error(),
	})
}

type nopMetrics struct{}

func (nopMetrics) ObserveItem(domain.Stage, string, time.Duration) {}
func (nopMetrics) ObserveRateLimitWait(string, time.Duration)     {}
func (nopMetrics) DownloadStarted()                               {}
func (nopMetrics) DownloadFinished()                              {}

func metricsOrNop(m ports.StageMetrics) ports.StageMetrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
