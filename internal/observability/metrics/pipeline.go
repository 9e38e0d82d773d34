package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	itemsTotal        *prometheus.CounterVec
	itemDuration      *prometheus.HistogramVec
	downloadsInFlight prometheus.Gauge
	rateLimitWait     *prometheus.HistogramVec
	jobsTotal         *prometheus.CounterVec
	publications      *prometheus.GaugeVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fca",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Total pipeline items handled by stage and outcome.",
		},
		[]string{"service", "stage", "outcome"},
	)
	itemDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fca",
			Subsystem: "pipeline",
			Name:      "item_duration_seconds",
			Help:      "Per-item processing duration in seconds by stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "stage"},
	)
	downloadsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fca",
			Subsystem: "pipeline",
			Name:      "downloads_in_flight",
			Help:      "Number of in-flight PDF downloads.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rateLimitWait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fca",
			Subsystem: "pipeline",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent blocked on a request budget.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"service", "limiter"},
	)
	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fca",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Total finished pipeline jobs by stage and final status.",
		},
		[]string{"service", "stage", "status"},
	)
	publications := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fca",
			Subsystem: "pipeline",
			Name:      "publications",
			Help:      "Publications per pipeline status at the last refresh.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(itemsTotal, itemDuration, downloadsInFlight, rateLimitWait, jobsTotal, publications)

	return &PipelineMetrics{
		registry:          registry,
		service:           service,
		itemsTotal:        itemsTotal,
		itemDuration:      itemDuration,
		downloadsInFlight: downloadsInFlight,
		rateLimitWait:     rateLimitWait,
		jobsTotal:         jobsTotal,
		publications:      publications,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) ObserveItem(stage domain.Stage, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.itemsTotal.WithLabelValues(m.service, string(stage), outcome).Inc()
	m.itemDuration.WithLabelValues(m.service, string(stage)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveRateLimitWait(limiter string, wait time.Duration) {
	if wait <= 0 {
		return
	}
	m.rateLimitWait.WithLabelValues(m.service, limiter).Observe(wait.Seconds())
}

func (m *PipelineMetrics) DownloadStarted() {
	m.downloadsInFlight.Inc()
}

func (m *PipelineMetrics) DownloadFinished() {
	m.downloadsInFlight.Dec()
}

// ObserveEvent counts finished jobs. Other event kinds are ignored.
func (m *PipelineMetrics) ObserveEvent(event domain.Event) {
	if event.Kind != domain.EventJobFinished {
		return
	}
	m.jobsTotal.WithLabelValues(m.service, string(event.Stage), string(event.JobStatus)).Inc()
}

func (m *PipelineMetrics) SetStatusCounts(counts domain.StatusCounts) {
	m.publications.Reset()
	for status, n := range counts {
		m.publications.WithLabelValues(m.service, string(status)).Set(float64(n))
	}
}
