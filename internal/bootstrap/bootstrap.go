package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/config"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/usecase"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/fca"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/llm/anthropic"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/llm/ollama"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/pdftext"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/queue/nats"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/ratelimit"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/repository/postgres"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/storage/localfs"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Publications *postgres.PublicationRepository
	Notices      *postgres.NoticeRepository
	Jobs         *postgres.JobRepository

	Orchestrator *usecase.Orchestrator
	Metrics      *metrics.PipelineMetrics

	// Bus is nil when NATS_URL is unset.
	Bus *nats.Bus

	// LLMReady is false when the selected provider has no credentials.
	LLMReady bool

	db      *sql.DB
	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn("config_warning", "detail", warning)
	}

	db, err := postgres.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	publications := postgres.NewPublicationRepository(db, postgres.WithRetryCeiling(cfg.MaxRetries))
	notices := postgres.NewNoticeRepository(db)
	jobs := postgres.NewJobRepository(db)

	files, err := localfs.New(cfg.DownloadDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pdf storage: %w", err)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(service)

	llm, llmReady, err := newLLM(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var bus *nats.Bus
	var publisher ports.EventPublisher
	if cfg.NATSURL != "" {
		bus, err = nats.NewWithOptions(cfg.NATSURL, nats.Options{
			EventsSubject:      cfg.NATSEventsSubject,
			ControlSubject:     cfg.NATSControlSubject,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init nats bus: %w", err)
		}
		publisher = bus
	}

	waitObserver := ratelimit.WithWaitObserver(pipelineMetrics.ObserveRateLimitWait)
	downloadBudget := ratelimit.NewHourly("pdf_downloads", cfg.DownloadHourlyLimit, waitObserver)
	aiBudget := ratelimit.NewHourly("ai_requests", cfg.AIHourlyLimit, waitObserver)
	listingSpacer := ratelimit.NewSpacer(time.Duration(cfg.ScraperDelayMS) * time.Millisecond)

	downloadTimeout := time.Duration(cfg.DownloadTimeoutSeconds) * time.Second
	stages := usecase.Stages{
		Scraper: usecase.NewScraper(newListingSource(cfg), publications, listingSpacer, usecase.ScraperConfig{
			PageSize:       cfg.ScraperPageSize,
			RecentMaxPages: cfg.RecentMaxPages,
		}),
		Downloader: usecase.NewDownloader(
			publications,
			fca.NewPDFFetcher(cfg.ScraperUserAgent, downloadTimeout),
			files,
			downloadBudget,
			pipelineMetrics,
			usecase.DownloaderConfig{
				Concurrency: cfg.DownloadConcurrency,
				Timeout:     downloadTimeout,
				MaxRetries:  cfg.MaxRetries,
			},
		),
		Parser: usecase.NewParser(publications, files, pdftext.NewExtractor(), pipelineMetrics, usecase.ParserConfig{
			MaxRetries: cfg.MaxRetries,
		}),
		Classifier: usecase.NewClassifier(publications, notices, llm, aiBudget, pipelineMetrics, usecase.ClassifierConfig{
			MaxContentLength: cfg.AIMaxContentLength,
			DelayAfterCall:   time.Duration(cfg.AIDelayMS) * time.Millisecond,
			Concurrency:      cfg.AIConcurrency,
			MaxRetries:       cfg.MaxRetries,
		}),
	}

	tracker := usecase.NewProgressTracker(jobs)
	orchestrator := usecase.NewOrchestrator(stages, tracker, publications, publisher, usecase.OrchestratorConfig{
		BatchSize: cfg.BatchSize,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Publications: publications,
		Notices:      notices,
		Jobs:         jobs,
		Orchestrator: orchestrator,
		Metrics:      pipelineMetrics,
		Bus:          bus,
		LLMReady:     llmReady,
		db:           db,
		closeFn: func() {
			if bus != nil {
				bus.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newListingSource(cfg config.Config) ports.ListingSource {
	fcaCfg := fca.Config{
		BaseURL:   cfg.ScraperBaseURL,
		UserAgent: cfg.ScraperUserAgent,
		RetryWait: time.Duration(cfg.ScraperRetryWaitMS) * time.Millisecond,
		Selectors: fca.Selectors(cfg.Selectors).Merge(fca.DefaultSelectors()),
		NoSandbox: cfg.ScraperNoSandbox,
	}
	if cfg.ScraperMode == config.ScraperModeBrowser {
		return fca.NewBrowserSource(fcaCfg)
	}
	return fca.NewHTTPSource(fcaCfg)
}

func newLLM(cfg config.Config) (ports.LLM, bool, error) {
	timeout := time.Duration(cfg.AITimeoutSeconds) * time.Second
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return ollama.New(ollama.Config{
			BaseURL:    cfg.OllamaURL,
			Model:      cfg.LLMModel,
			Timeout:    timeout,
			Resilience: resilience.DefaultConfig(),
		}), true, nil
	default:
		client, err := anthropic.New(anthropic.Config{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.LLMModel,
			Timeout:    timeout,
			MaxRetries: 2,
		})
		if err != nil {
			if errors.Is(err, domain.ErrMissingConfig) {
				return unconfiguredLLM{cause: err}, false, nil
			}
			return nil, false, fmt.Errorf("init anthropic client: %w", err)
		}
		return client, true, nil
	}
}

// unconfiguredLLM stands in when credentials are missing so the non-AI
// stages and the progress tooling still start.
type unconfiguredLLM struct {
	cause error
}

func (u unconfiguredLLM) Complete(context.Context, string) (string, error) {
	return "", u.cause
}

func (unconfiguredLLM) Model() string { return "unconfigured" }
