package ports

import (
	"context"
	"io"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// PublicationStore persists publication records and their pipeline state.
type PublicationStore interface {
	UpsertPublication(ctx context.Context, rec *domain.PublicationRecord) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.PublicationRecord, error)
	// GetPendingByStatus returns records in status that have a PDF URL and
	// retry budget left, oldest first.
	GetPendingByStatus(ctx context.Context, status domain.PublicationStatus, limit int) ([]domain.PublicationRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.PublicationStatus, fields domain.StatusFields) error
	IncrementRetry(ctx context.Context, id, errMessage string) (int, error)
	ResetFailed(ctx context.Context, failed, to domain.PublicationStatus) (int, error)
	MoveStatus(ctx context.Context, from, to domain.PublicationStatus) (int, error)
	Exists(ctx context.Context, id string) (bool, error)
	StoreFullText(ctx context.Context, id, text string) error
	GetFullText(ctx context.Context, id string) (string, error)
	GetPipelineStats(ctx context.Context) (domain.PipelineStats, error)
	GetStatusCounts(ctx context.Context) (domain.StatusCounts, error)
}

// NoticeStore persists AI-derived enforcement notices.
type NoticeStore interface {
	UpsertEnforcementNotice(ctx context.Context, notice *domain.EnforcementNotice) error
	ListEnforcementNotices(ctx context.Context, limit int) ([]domain.EnforcementNotice, error)
}

// JobStore persists pipeline jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, id string, update domain.JobUpdate) error
	LatestJobByStatus(ctx context.Context, jobType domain.JobType, status domain.JobStatus) (*domain.Job, error)
	AppendJobError(ctx context.Context, id string, entry domain.JobErrorEntry) error
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
}

// ListingSource fetches pages of the regulator's publications index.
// It owns its client and must be opened before use.
type ListingSource interface {
	Open(ctx context.Context) error
	Close() error
	FetchPage(ctx context.Context, startIndex, pageSize int) (*domain.ListingPage, error)
}

// BinaryFetcher opens remote binary documents.
type BinaryFetcher interface {
	Fetch(ctx context.Context, url string) (*domain.RemoteFile, error)
}

// FileStore stores downloaded binaries under relative keys. Stat and Path
// also accept absolute paths previously returned by Path.
type FileStore interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Stat(ctx context.Context, key string) (size int64, exists bool, err error)
	Path(key string) string
}

// PDFTextExtractor extracts plain text from a stored PDF.
type PDFTextExtractor interface {
	Extract(ctx context.Context, path string) (string, int, error)
}

// LLM completes a single prompt.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// EventPublisher forwards pipeline events to external subscribers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}

// StageMetrics records stage-level observations.
type StageMetrics interface {
	ObserveItem(stage domain.Stage, outcome string, duration time.Duration)
	ObserveRateLimitWait(limiter string, wait time.Duration)
	DownloadStarted()
	DownloadFinished()
}

// RateGate blocks until the caller may issue its next request.
type RateGate interface {
	Wait(ctx context.Context) error
}
