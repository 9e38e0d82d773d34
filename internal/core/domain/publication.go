package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MaxRetries is the number of recorded failures after which a publication
// moves to its terminal failed status.
const MaxRetries = 3

type PublicationStatus string

const (
	StatusPending        PublicationStatus = "pending"
	StatusDownloading    PublicationStatus = "downloading"
	StatusDownloaded     PublicationStatus = "downloaded"
	StatusDownloadFailed PublicationStatus = "download_failed"
	StatusParsing        PublicationStatus = "parsing"
	StatusParsed         PublicationStatus = "parsed"
	StatusParseFailed    PublicationStatus = "parse_failed"
	StatusProcessing     PublicationStatus = "processing"
	StatusProcessed      PublicationStatus = "processed"
	StatusAIFailed       PublicationStatus = "ai_failed"
)

var statusRank = map[PublicationStatus]int{
	StatusPending:     0,
	StatusDownloading: 1,
	StatusDownloaded:  2,
	StatusParsing:     3,
	StatusParsed:      4,
	StatusProcessing:  5,
	StatusProcessed:   6,
}

// Rank orders statuses along the success path. Failed statuses return -1.
func (s PublicationStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

func (s PublicationStatus) IsFailed() bool {
	switch s {
	case StatusDownloadFailed, StatusParseFailed, StatusAIFailed:
		return true
	default:
		return false
	}
}

// EntryStatus returns the status a terminal failure is reset to.
func (s PublicationStatus) EntryStatus() PublicationStatus {
	switch s {
	case StatusDownloadFailed:
		return StatusPending
	case StatusParseFailed:
		return StatusDownloaded
	case StatusAIFailed:
		return StatusParsed
	default:
		return s
	}
}

type DocumentType string

const (
	DocFinalNotice       DocumentType = "final_notice"
	DocDecisionNotice    DocumentType = "decision_notice"
	DocWarningNotice     DocumentType = "warning_notice"
	DocSupervisoryNotice DocumentType = "supervisory_notice"
	DocProhibitionOrder  DocumentType = "prohibition_order"
	DocHandbookNotice    DocumentType = "handbook_notice"
	DocOther             DocumentType = "other"
)

func ParseDocumentType(raw string) DocumentType {
	switch t := DocumentType(raw); t {
	case DocFinalNotice, DocDecisionNotice, DocWarningNotice, DocSupervisoryNotice,
		DocProhibitionOrder, DocHandbookNotice:
		return t
	default:
		return DocOther
	}
}

type PublicationRecord struct {
	PublicationID   string            `json:"publication_id"`
	Title           string            `json:"title"`
	DocumentType    DocumentType      `json:"document_type"`
	PublicationDate *time.Time        `json:"publication_date,omitempty"`
	URL             string            `json:"url"`
	PDFURL          string            `json:"pdf_url,omitempty"`
	Description     string            `json:"description,omitempty"`
	Status          PublicationStatus `json:"status"`
	RetryCount      int               `json:"retry_count"`
	LastError       *string           `json:"last_error,omitempty"`
	PDFLocalPath    *string           `json:"pdf_local_path,omitempty"`
	PDFSize         *int64            `json:"pdf_size,omitempty"`
	RawTextLength   *int              `json:"raw_text_length,omitempty"`
	PageCount       *int              `json:"page_count,omitempty"`
	ExtractedFields *BasicFields      `json:"extracted_fields,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// BasicFields is the first-pass regex extraction stored with a parsed record.
type BasicFields struct {
	FRN                string      `json:"frn,omitempty"`
	FineAmounts        []float64   `json:"fine_amounts"`
	Dates              []time.Time `json:"dates"`
	EntityNames        []string    `json:"entity_names"`
	HandbookReferences []string    `json:"handbook_references"`
	HasDiscount        bool        `json:"has_discount"`
	DiscountPercentage *float64    `json:"discount_percentage,omitempty"`
	OutcomeType        string      `json:"outcome_type,omitempty"`
}

// StatusFields carries the optional columns written alongside a status change.
// Nil fields are left untouched.
type StatusFields struct {
	PDFLocalPath    *string
	PDFSize         *int64
	RawTextLength   *int
	PageCount       *int
	DocumentType    *DocumentType
	ExtractedFields *BasicFields
	LastError       *string
	ClearError      bool
}

// PublicationID builds the stable dedup key for a listing entry.
func PublicationID(url, title string, published *time.Time) string {
	sum := sha256.Sum256([]byte(url + "|" + title))
	datePart := "undated"
	if published != nil && !published.IsZero() {
		datePart = published.UTC().Format("2006-01-02")
	}
	return "FCA-" + datePart + "-" + hex.EncodeToString(sum[:])[:12]
}
