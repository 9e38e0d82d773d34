package fca

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

// PDFFetcher streams linked documents. Item-level retries belong to the
// download stage, so the executor here only trips the breaker when the host
// keeps failing.
type PDFFetcher struct {
	client    *http.Client
	userAgent string
	executor  *resilience.Executor
}

func NewPDFFetcher(userAgent string, timeout time.Duration) *PDFFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg := resilience.DefaultConfig()
	cfg.RetryMaxAttempts = 1
	return &PDFFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		executor:  resilience.NewExecutor(cfg),
	}
}

// Fetch returns the open response body; the caller closes it.
func (f *PDFFetcher) Fetch(ctx context.Context, url string) (*domain.RemoteFile, error) {
	resp, err := resilience.Do(ctx, f.executor, "fca.pdf", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request pdf: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, resilience.NewHTTPStatusError(serviceName, "pdf", resp)
		}
		return resp, nil
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, mapError("fetch pdf", err)
	}

	return &domain.RemoteFile{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}
