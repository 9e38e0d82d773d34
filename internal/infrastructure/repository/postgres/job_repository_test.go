package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

var jobRowColumns = []string{
	"job_id", "job_type", "status", "total_items", "processed_items", "failed_items", "last_page_scraped",
	"last_start_param", "items_per_minute", "error_log", "metadata", "started_at", "updated_at", "completed_at",
}

func TestLatestJobByStatusReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewJobRepository(db)

	mock.ExpectQuery("SELECT job_id, job_type").
		WithArgs("full_backfill", "paused").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.LatestJobByStatus(context.Background(), domain.JobFullBackfill, domain.JobPaused)
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestGetJobScansErrorLogAndMetadata(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewJobRepository(db)

	started := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT job_id, job_type").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			"job-1", "index_scrape", "paused", 1200, 40, 2, 4, 40, 12.5,
			[]byte(`[{"timestamp":"2026-01-05T09:01:00Z","message":"page 3: upstream server error"}]`),
			[]byte(`{"completed_stages":["index"]}`),
			started, started, nil,
		))

	job, err := repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.JobType != domain.JobIndexScrape || job.Status != domain.JobPaused {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.LastStartParam != 40 || job.ProcessedItems != 40 || job.ItemsPerMinute != 12.5 {
		t.Fatalf("unexpected progress fields: %+v", job)
	}
	if len(job.ErrorLog) != 1 || job.ErrorLog[0].Message != "page 3: upstream server error" {
		t.Fatalf("unexpected error log: %+v", job.ErrorLog)
	}
	if string(job.Metadata) != `{"completed_stages":["index"]}` {
		t.Fatalf("unexpected metadata: %s", job.Metadata)
	}
	if job.CompletedAt != nil {
		t.Fatalf("expected nil completed_at")
	}
	expectMet(t, mock)
}

func TestUpdateJobBuildsPartialUpdate(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewJobRepository(db)

	status := domain.JobPaused
	processed := 10
	start := 10

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE pipeline_jobs SET updated_at = NOW(), status = $1, processed_items = $2, last_start_param = $3 WHERE job_id = $4",
	)).
		WithArgs("paused", 10, 10, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateJob(context.Background(), "job-1", domain.JobUpdate{
		Status:         &status,
		ProcessedItems: &processed,
		LastStartParam: &start,
	})
	if err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	expectMet(t, mock)
}

func TestAppendJobErrorReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewJobRepository(db)

	mock.ExpectExec("UPDATE pipeline_jobs").
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AppendJobError(context.Background(), "missing", domain.JobErrorEntry{
		Timestamp: time.Now().UTC(),
		Message:   "boom",
	})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestCreateJobDefaultsEmptyErrorLog(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewJobRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO pipeline_jobs").
		WithArgs("job-2", "pdf_download", "running", 0, 0, 0, 0, 0, 0.0, []byte("[]"), nil, now, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateJob(context.Background(), &domain.Job{
		JobID:     "job-2",
		JobType:   domain.JobPDFDownload,
		Status:    domain.JobRunning,
		StartedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	expectMet(t, mock)
}

func TestListEnforcementNoticesDecodesLists(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewNoticeRepository(db)

	processed := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM enforcement_notices").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{
			"publication_id", "entity_name", "entity_type", "frn", "outcome_type", "fine_amount",
			"original_fine_amount", "discount_applied", "discount_percentage", "primary_breach_type",
			"breach_categories", "handbook_references", "consumer_impact_level", "consumers_affected",
			"consumer_redress", "systemic_risk", "aggravating_factors", "mitigating_factors", "summary",
			"risk_score", "ai_payload", "ai_model_used", "ai_processed_at",
		}).AddRow(
			"FCA-1", "Acme Bank Ltd", "bank", "123456", "fine", 1.5e8, 2.14e8, true, 30.0, "aml",
			[]byte(`["aml","systems_controls"]`), []byte(`["SYSC 6.1.1"]`), "high", nil, nil, false,
			[]byte(`[]`), nil, "Fined for AML failings.", 82, []byte(`{"entity_name":"Acme Bank Ltd"}`),
			"fake-model", processed,
		))

	notices, err := repo.ListEnforcementNotices(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEnforcementNotices() error = %v", err)
	}
	if len(notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(notices))
	}
	n := notices[0]
	if len(n.BreachCategories) != 2 || n.HandbookReferences[0] != "SYSC 6.1.1" {
		t.Fatalf("unexpected lists: %+v", n)
	}
	if n.MitigatingFactors == nil || len(n.MitigatingFactors) != 0 {
		t.Fatalf("expected empty mitigating factors, got %v", n.MitigatingFactors)
	}
	if n.FRN == nil || *n.FRN != "123456" || n.ConsumersAffected != nil {
		t.Fatalf("unexpected nullable fields: %+v", n)
	}
	if n.RiskScore != 82 || !n.DiscountApplied {
		t.Fatalf("unexpected scalar fields: %+v", n)
	}
	expectMet(t, mock)
}
