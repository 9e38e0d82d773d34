// Package export renders pipeline results as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

const (
	sheetSummary = "Summary"
	sheetNotices = "Notices"
	sheetJobs    = "Jobs"
)

var noticeHeader = []interface{}{
	"Publication ID", "Entity", "Entity Type", "FRN", "Outcome", "Fine (GBP)", "Original Fine (GBP)",
	"Discount %", "Primary Breach", "Breach Categories", "Handbook References", "Consumer Impact",
	"Systemic Risk", "Risk Score", "Summary", "Model", "Processed At",
}

var jobHeader = []interface{}{
	"Job ID", "Type", "Status", "Total", "Processed", "Failed", "Last Page", "Last Start",
	"Items/min", "Errors", "Started", "Completed",
}

// Report is everything written to one workbook.
type Report struct {
	GeneratedAt  time.Time
	Stats        domain.PipelineStats
	StatusCounts domain.StatusCounts
	Notices      []domain.EnforcementNotice
	Jobs         []domain.Job
}

func Write(w io.Writer, report Report) error {
	f, err := build(report)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteFile writes the workbook to path, creating parent directories.
func WriteFile(path string, report Report) error {
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return domain.WrapError(domain.ErrInvalidInput, "export workbook", fmt.Errorf("expected .xlsx path, got %q", path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := Write(out, report); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}

func build(report Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetNotices, sheetJobs} {
		if _, err := f.NewSheet(name); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	steps := []func(*excelize.File, int, Report) error{writeSummary, writeNotices, writeJobs}
	for _, step := range steps {
		if err := step(f, bold, report); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeSummary(f *excelize.File, bold int, report Report) error {
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	s := report.Stats
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Generated", generated.Format(time.RFC3339)},
		{"Total publications", s.TotalPublications},
		{"With PDF link", s.WithPDFURL},
		{"Downloaded", s.Downloaded},
		{"Parsed", s.Parsed},
		{"AI processed", s.Processed},
		{"Failed", s.Failed},
		{"Enforcement notices", s.Notices},
		{"Total fines (GBP)", s.TotalFines},
	}
	if s.LatestPublication != nil {
		rows = append(rows, []interface{}{"Latest publication", s.LatestPublication.Format("2006-01-02")})
	}
	if len(report.StatusCounts) > 0 {
		rows = append(rows, []interface{}{}, []interface{}{"Status", "Count"})
		for _, status := range orderedStatuses(report.StatusCounts) {
			rows = append(rows, []interface{}{string(status), report.StatusCounts[status]})
		}
	}
	if err := setRows(f, sheetSummary, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetSummary, "A", "A", 24); err != nil {
		return fmt.Errorf("summary width: %w", err)
	}
	return f.SetRowStyle(sheetSummary, 1, 1, bold)
}

func writeNotices(f *excelize.File, bold int, report Report) error {
	rows := make([][]interface{}, 0, len(report.Notices)+1)
	rows = append(rows, noticeHeader)
	for _, n := range report.Notices {
		rows = append(rows, []interface{}{
			n.PublicationID,
			n.EntityName,
			deref(n.EntityType),
			deref(n.FRN),
			deref(n.OutcomeType),
			derefFloat(n.FineAmount),
			derefFloat(n.OriginalFineAmount),
			derefFloat(n.DiscountPercentage),
			deref(n.PrimaryBreachType),
			strings.Join(n.BreachCategories, ", "),
			strings.Join(n.HandbookReferences, ", "),
			deref(n.ConsumerImpactLevel),
			n.SystemicRisk,
			n.RiskScore,
			deref(n.Summary),
			n.AIModelUsed,
			n.AIProcessedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := setRows(f, sheetNotices, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(sheetNotices, 1, 1, bold); err != nil {
		return fmt.Errorf("notice header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(noticeHeader), len(rows))
	if err != nil {
		return fmt.Errorf("notice range: %w", err)
	}
	if err := f.AutoFilter(sheetNotices, "A1:"+last, nil); err != nil {
		return fmt.Errorf("notice filter: %w", err)
	}
	return f.SetColWidth(sheetNotices, "A", "B", 28)
}

func writeJobs(f *excelize.File, bold int, report Report) error {
	rows := make([][]interface{}, 0, len(report.Jobs)+1)
	rows = append(rows, jobHeader)
	for _, j := range report.Jobs {
		completed := ""
		if j.CompletedAt != nil {
			completed = j.CompletedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []interface{}{
			j.JobID,
			string(j.JobType),
			string(j.Status),
			j.TotalItems,
			j.ProcessedItems,
			j.FailedItems,
			j.LastPageScraped,
			j.LastStartParam,
			j.ItemsPerMinute,
			len(j.ErrorLog),
			j.StartedAt.UTC().Format(time.RFC3339),
			completed,
		})
	}
	if err := setRows(f, sheetJobs, rows); err != nil {
		return err
	}
	return f.SetRowStyle(sheetJobs, 1, 1, bold)
}

func setRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("%s cell: %w", sheet, err)
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func orderedStatuses(counts domain.StatusCounts) []domain.PublicationStatus {
	order := []domain.PublicationStatus{
		domain.StatusPending, domain.StatusDownloading, domain.StatusDownloaded, domain.StatusDownloadFailed,
		domain.StatusParsing, domain.StatusParsed, domain.StatusParseFailed,
		domain.StatusProcessing, domain.StatusProcessed, domain.StatusAIFailed,
	}
	out := make([]domain.PublicationStatus, 0, len(counts))
	for _, status := range order {
		if _, ok := counts[status]; ok {
			out = append(out, status)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
