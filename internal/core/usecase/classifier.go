package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/analysis"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

const (
	defaultMaxContentLength = 50000
	minClassifiableLength   = 100
)

type ClassifierConfig struct {
	MaxContentLength int

	// DelayAfterCall is slept after every successful model call.
	DelayAfterCall time.Duration
	Concurrency    int
	MaxRetries     int
}

type ClassifierCounters struct {
	CallsMade   int64 `json:"calls_made"`
	Classified  int64 `json:"classified"`
	InvalidJSON int64 `json:"invalid_json"`
}

// Classifier converts parsed notices into enforcement records through an LLM.
type Classifier struct {
	store   ports.PublicationStore
	notices ports.NoticeStore
	llm     ports.LLM
	budget  ports.RateGate
	metrics ports.StageMetrics
	cfg     ClassifierConfig
	failure failurePolicy

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	calls      atomic.Int64
	classified atomic.Int64
	invalid    atomic.Int64
}

func NewClassifier(
	store ports.PublicationStore,
	notices ports.NoticeStore,
	llm ports.LLM,
	budget ports.RateGate,
	metrics ports.StageMetrics,
	cfg ClassifierConfig,
) *Classifier {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = defaultMaxContentLength
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Classifier{
		store:   store,
		notices: notices,
		llm:     llm,
		budget:  budget,
		metrics: metricsOrNop(metrics),
		cfg:     cfg,
		failure: failurePolicy{
			store:      store,
			entry:      domain.StatusParsed,
			failed:     domain.StatusAIFailed,
			maxRetries: cfg.MaxRetries,
		},
		now:   time.Now,
		sleep: sleepContext,
	}
}

func (c *Classifier) Counters() ClassifierCounters {
	return ClassifierCounters{
		CallsMade:   c.calls.Load(),
		Classified:  c.classified.Load(),
		InvalidJSON: c.invalid.Load(),
	}
}

// AnalyzeDocument runs one extraction call and returns the validated result
// with the raw JSON object the model produced.
func (c *Classifier) AnalyzeDocument(ctx context.Context, text string) (analysis.Analysis, json.RawMessage, error) {
	if c.budget != nil {
		if err := c.budget.Wait(ctx); err != nil {
			return analysis.Analysis{}, nil, err
		}
	}

	c.calls.Add(1)
	response, err := c.llm.Complete(ctx, analysis.BuildPrompt(text, c.cfg.MaxContentLength))
	if err != nil {
		return analysis.Analysis{}, nil, fmt.Errorf("llm completion: %w", err)
	}

	result, raw, err := analysis.Parse(response)
	if err != nil {
		c.invalid.Add(1)
		return analysis.Analysis{}, nil, err
	}
	return result, raw, nil
}

// ProcessPublication classifies one parsed record. Records with too little
// text are skipped without a model call and closed out as processed with no
// notice.
func (c *Classifier) ProcessPublication(ctx context.Context, rec domain.PublicationRecord) (Outcome, error) {
	text, err := c.store.GetFullText(ctx, rec.PublicationID)
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return OutcomeFailed, fmt.Errorf("load full text: %w", err)
	}
	if length := utf8.RuneCountInString(strings.TrimSpace(text)); length < minClassifiableLength {
		slog.Info("ai_skip_insufficient_text", "publication_id", rec.PublicationID, "length", length)
		if err := c.store.UpdateStatus(ctx, rec.PublicationID, domain.StatusProcessed, domain.StatusFields{ClearError: true}); err != nil {
			return OutcomeFailed, fmt.Errorf("set status=processed: %w", err)
		}
		return OutcomeSkipped, nil
	}

	if err := c.store.UpdateStatus(ctx, rec.PublicationID, domain.StatusProcessing, domain.StatusFields{}); err != nil {
		return OutcomeFailed, fmt.Errorf("set status=processing: %w", err)
	}

	result, raw, err := c.AnalyzeDocument(ctx, text)
	if err != nil {
		if _, failErr := c.failure.record(context.WithoutCancel(ctx), rec.PublicationID, err); failErr != nil {
			return OutcomeFailed, fmt.Errorf("%w; record failure: %v", err, failErr)
		}
		return OutcomeFailed, err
	}

	notice := analysis.ToNotice(rec.PublicationID, result, raw, c.llm.Model(), c.now())
	fillFromExtraction(&notice, rec.ExtractedFields)
	if err := c.notices.UpsertEnforcementNotice(ctx, &notice); err != nil {
		return OutcomeFailed, fmt.Errorf("upsert enforcement notice: %w", err)
	}
	if err := c.store.UpdateStatus(ctx, rec.PublicationID, domain.StatusProcessed, domain.StatusFields{ClearError: true}); err != nil {
		return OutcomeFailed, fmt.Errorf("set status=processed: %w", err)
	}
	c.classified.Add(1)

	if c.cfg.DelayAfterCall > 0 {
		_ = c.sleep(ctx, c.cfg.DelayAfterCall)
	}
	return OutcomeSuccess, nil
}

// ClassifyBatch classifies records with at most Concurrency model calls in
// flight; the hourly budget is shared across workers.
func (c *Classifier) ClassifyBatch(ctx context.Context, records []domain.PublicationRecord, events chan<- domain.Event) BatchResult {
	var (
		mu     sync.Mutex
		result BatchResult
		g      errgroup.Group
	)
	g.SetLimit(c.cfg.Concurrency)

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			started := time.Now()
			outcome, err := c.ProcessPublication(ctx, rec)
			c.metrics.ObserveItem(domain.StageAI, string(outcome), time.Since(started))
			if err != nil {
				slog.Warn("ai_classification_failed", "publication_id", rec.PublicationID, "error", err)
				emitFailure(ctx, events, domain.StageAI, rec.PublicationID, err)
			}
			mu.Lock()
			result.record(rec.PublicationID, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (c *Classifier) ClassifyAllPending(ctx context.Context, opts PendingOptions) (BatchResult, error) {
	loop := pendingLoop{
		stage:    domain.StageAI,
		status:   domain.StatusParsed,
		store:    c.store,
		eligible: c.failure.eligible,
		process:  c.ClassifyBatch,
	}
	return loop.run(ctx, opts)
}

// fillFromExtraction backfills identifiers the model left empty with the
// regex pass stored at parse time.
func fillFromExtraction(notice *domain.EnforcementNotice, fields *domain.BasicFields) {
	if fields == nil {
		return
	}
	if notice.FRN == nil && fields.FRN != "" {
		frn := fields.FRN
		notice.FRN = &frn
	}
	if len(notice.HandbookReferences) == 0 && len(fields.HandbookReferences) > 0 {
		notice.HandbookReferences = append([]string(nil), fields.HandbookReferences...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
