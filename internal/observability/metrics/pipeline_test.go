package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

func TestPipelineMetricsRecordsStageOutcomes(t *testing.T) {
	m := NewPipelineMetrics("backfill")

	m.ObserveItem(domain.StageDownload, "success", 200*time.Millisecond)
	m.ObserveItem(domain.StageDownload, "success", 300*time.Millisecond)
	m.ObserveItem(domain.StageDownload, "retry", time.Second)
	m.ObserveItem(domain.StageAI, "", time.Second)

	if got := testutil.ToFloat64(m.itemsTotal.WithLabelValues("backfill", "download", "success")); got != 2 {
		t.Fatalf("expected 2 download successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.itemsTotal.WithLabelValues("backfill", "ai", "unknown")); got != 1 {
		t.Fatalf("expected empty outcome labelled unknown, got %v", got)
	}
}

func TestPipelineMetricsTracksDownloadsInFlight(t *testing.T) {
	m := NewPipelineMetrics("backfill")
	m.DownloadStarted()
	m.DownloadStarted()
	m.DownloadFinished()

	if got := testutil.ToFloat64(m.downloadsInFlight); got != 1 {
		t.Fatalf("expected 1 in-flight download, got %v", got)
	}
}

func TestPipelineMetricsCountsFinishedJobsOnly(t *testing.T) {
	m := NewPipelineMetrics("scheduler")
	m.ObserveEvent(domain.Event{Kind: domain.EventJobStarted, Stage: domain.StageIndex})
	m.ObserveEvent(domain.Event{Kind: domain.EventJobFinished, Stage: domain.StageIndex, JobStatus: domain.JobCompleted})

	if got := testutil.CollectAndCount(m.jobsTotal); got != 1 {
		t.Fatalf("expected 1 job series, got %d", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewPipelineMetrics("scheduler")
	m.ObserveRateLimitWait("pdf_downloads", 2*time.Second)
	m.ObserveRateLimitWait("pdf_downloads", 0)
	m.SetStatusCounts(domain.StatusCounts{domain.StatusPending: 7})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`fca_pipeline_rate_limit_wait_seconds_count{limiter="pdf_downloads",service="scheduler"} 1`,
		`fca_pipeline_publications{service="scheduler",status="pending"} 7`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}
