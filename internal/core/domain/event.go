package domain

import "time"

type Stage string

const (
	StageIndex    Stage = "index"
	StageDownload Stage = "download"
	StageParse    Stage = "parse"
	StageAI       Stage = "ai"
)

// AllStages lists pipeline stages in execution order.
var AllStages = []Stage{StageIndex, StageDownload, StageParse, StageAI}

func (s Stage) JobType() JobType {
	switch s {
	case StageIndex:
		return JobIndexScrape
	case StageDownload:
		return JobPDFDownload
	case StageParse:
		return JobPDFParse
	case StageAI:
		return JobAIProcess
	default:
		return ""
	}
}

type EventKind string

const (
	EventPageScraped    EventKind = "page_scraped"
	EventBatchCompleted EventKind = "batch_completed"
	EventItemFailed     EventKind = "item_failed"
	EventJobStarted     EventKind = "job_started"
	EventJobFinished    EventKind = "job_finished"
)

// Event is a progress notification emitted by a stage. Counters are
// cumulative for the current run.
type Event struct {
	Kind           EventKind `json:"kind"`
	Stage          Stage     `json:"stage"`
	JobID          string    `json:"job_id,omitempty"`
	JobStatus      JobStatus `json:"job_status,omitempty"`
	Page           int       `json:"page,omitempty"`
	NextStartIndex int       `json:"next_start_index,omitempty"`
	TotalItems     int       `json:"total_items,omitempty"`
	Processed      int       `json:"processed"`
	Failed         int       `json:"failed"`
	PublicationID  string    `json:"publication_id,omitempty"`
	Message        string    `json:"message,omitempty"`
	At             time.Time `json:"at"`
}
