package domain

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobIndexScrape       JobType = "index_scrape"
	JobPDFDownload       JobType = "pdf_download"
	JobPDFParse          JobType = "pdf_parse"
	JobAIProcess         JobType = "ai_process"
	JobFullBackfill      JobType = "full_backfill"
	JobIncrementalUpdate JobType = "incremental_update"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobRunning:
		return next == JobPaused || next == JobCompleted || next == JobFailed || next == JobCancelled
	case JobPaused:
		return next == JobRunning || next == JobCancelled
	default:
		return false
	}
}

type JobErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type Job struct {
	JobID           string          `json:"job_id"`
	JobType         JobType         `json:"job_type"`
	Status          JobStatus       `json:"status"`
	TotalItems      int             `json:"total_items"`
	ProcessedItems  int             `json:"processed_items"`
	FailedItems     int             `json:"failed_items"`
	LastPageScraped int             `json:"last_page_scraped"`
	LastStartParam  int             `json:"last_start_param"`
	ItemsPerMinute  float64         `json:"items_per_minute"`
	ErrorLog        []JobErrorEntry `json:"error_log"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// JobUpdate is a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status          *JobStatus
	TotalItems      *int
	ProcessedItems  *int
	FailedItems     *int
	LastPageScraped *int
	LastStartParam  *int
	ItemsPerMinute  *float64
	Metadata        json.RawMessage
	CompletedAt     *time.Time
}

type Checkpoint struct {
	CanResume      bool   `json:"can_resume"`
	JobID          string `json:"job_id,omitempty"`
	LastPage       int    `json:"last_page"`
	LastStartParam int    `json:"last_start_param"`
	ProcessedItems int    `json:"processed_items"`
}

type CompletionEstimate struct {
	RemainingItems      int       `json:"remaining_items"`
	MinutesRemaining    float64   `json:"minutes_remaining"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}
