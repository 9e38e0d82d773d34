package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/usecase"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/scheduler"
)

type statusFake struct {
	err error
}

func (f statusFake) GetStatus(context.Context) (*usecase.Status, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.Status{
		Stats:        domain.PipelineStats{TotalPublications: 12, Processed: 4},
		StatusCounts: domain.StatusCounts{domain.StatusPending: 8},
	}, nil
}

type jobsFake struct {
	limit int
}

func (f *jobsFake) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	f.limit = limit
	return []domain.Job{{JobID: "job-1", JobType: domain.JobIndexScrape, Status: domain.JobRunning}}, nil
}

type controllerFake struct {
	paused, resumed, cancelled int
}

func (c *controllerFake) Pause()  { c.paused++ }
func (c *controllerFake) Resume() { c.resumed++ }
func (c *controllerFake) Cancel() { c.cancelled++ }

type scheduleFake struct {
	ran []string
}

func (s *scheduleFake) Entries() []scheduler.EntryStatus {
	return []scheduler.EntryStatus{{Name: "incremental_update", Schedule: "0 */6 * * *"}}
}

func (s *scheduleFake) Trigger(name string) error {
	if name != "incremental_update" {
		return domain.WrapError(domain.ErrNotFound, "run task", errors.New(name))
	}
	s.ran = append(s.ran, name)
	return nil
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(method, target, nil))
	return res
}

func TestHealthzReportsPingFailureAs503(t *testing.T) {
	h := NewRouter(Deps{Ping: func(context.Context) error { return errors.New("db down") }}).Handler()

	res := serve(t, h, http.MethodGet, "/healthz")
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestStatusReturnsPipelineSnapshot(t *testing.T) {
	h := NewRouter(Deps{Status: statusFake{}}).Handler()

	res := serve(t, h, http.MethodGet, "/v1/status")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Stats        domain.PipelineStats `json:"stats"`
		StatusCounts map[string]int       `json:"status_counts"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.TotalPublications != 12 || body.StatusCounts["pending"] != 8 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStatusMapsTemporaryErrorTo503(t *testing.T) {
	h := NewRouter(Deps{Status: statusFake{err: domain.WrapError(domain.ErrTemporary, "stats", errors.New("timeout"))}}).Handler()

	if res := serve(t, h, http.MethodGet, "/v1/status"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestListJobsValidatesLimit(t *testing.T) {
	jobs := &jobsFake{}
	h := NewRouter(Deps{Jobs: jobs}).Handler()

	if res := serve(t, h, http.MethodGet, "/v1/jobs?limit=abc"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if res := serve(t, h, http.MethodGet, "/v1/jobs?limit=5"); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if jobs.limit != 5 {
		t.Fatalf("expected limit 5, got %d", jobs.limit)
	}
}

func TestControlDispatchesCommands(t *testing.T) {
	ctrl := &controllerFake{}
	h := NewRouter(Deps{Controller: ctrl}).Handler()

	if res := serve(t, h, http.MethodPost, "/v1/control/pause"); res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if res := serve(t, h, http.MethodPost, "/v1/control/CANCEL"); res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if res := serve(t, h, http.MethodPost, "/v1/control/restart"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", res.Code)
	}
	if res := serve(t, h, http.MethodGet, "/v1/control/pause"); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
	if ctrl.paused != 1 || ctrl.cancelled != 1 || ctrl.resumed != 0 {
		t.Fatalf("unexpected dispatch counts: %+v", ctrl)
	}
}

func TestRunScheduledTask(t *testing.T) {
	sched := &scheduleFake{}
	h := NewRouter(Deps{Schedule: sched}).Handler()

	if res := serve(t, h, http.MethodPost, "/v1/schedule/incremental_update/run"); res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if res := serve(t, h, http.MethodPost, "/v1/schedule/nightly/run"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if len(sched.ran) != 1 {
		t.Fatalf("expected one run, got %v", sched.ran)
	}

	res := serve(t, h, http.MethodGet, "/v1/schedule")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}
