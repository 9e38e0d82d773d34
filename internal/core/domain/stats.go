package domain

import "time"

type PipelineStats struct {
	TotalPublications int        `json:"total_publications"`
	WithPDFURL        int        `json:"with_pdf_url"`
	Downloaded        int        `json:"downloaded"`
	Parsed            int        `json:"parsed"`
	Processed         int        `json:"processed"`
	Failed            int        `json:"failed"`
	Notices           int        `json:"notices"`
	TotalFines        float64    `json:"total_fines"`
	LatestPublication *time.Time `json:"latest_publication,omitempty"`
}

type StatusCounts map[PublicationStatus]int
