package fca

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

const serviceName = "fca"

// HTTPSource reads server-rendered listing pages with a plain HTTP client.
// The client is created by Open and released by Close.
type HTTPSource struct {
	cfg      Config
	executor *resilience.Executor

	mu     sync.Mutex
	client *http.Client
}

func NewHTTPSource(cfg Config) *HTTPSource {
	cfg = cfg.withDefaults()
	return &HTTPSource{
		cfg:      cfg,
		executor: resilience.NewExecutor(resilience.FixedDelay(cfg.RetryAttempts, cfg.RetryWait)),
	}
}

func (s *HTTPSource) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = &http.Client{
			Timeout:   s.cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}
	return nil
}

func (s *HTTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
	return nil
}

func (s *HTTPSource) FetchPage(ctx context.Context, startIndex, pageSize int) (*domain.ListingPage, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch listing", errors.New("listing source is not open"))
	}

	pageURL, base, err := s.cfg.pageURL(startIndex, pageSize)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch listing", err)
	}

	doc, err := resilience.Do(ctx, s.executor, "fca.listing", func(ctx context.Context) (*goquery.Document, error) {
		return s.fetchDocument(ctx, client, pageURL)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, mapError("fetch listing", err)
	}

	page := parseListing(doc, base, s.cfg.Selectors)
	return &page, nil
}

func (s *HTTPSource) fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewHTTPStatusError(serviceName, "listing", resp)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode listing charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse listing document: %w", err)
	}
	return doc, nil
}

// mapError turns transport failures into domain kinds the pipeline reacts to.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= 500:
			return domain.WrapError(domain.ErrServerError, op, err)
		case statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone:
			return domain.WrapError(domain.ErrNotFound, op, err)
		case resilience.IsRetryableHTTPStatus(statusErr.StatusCode):
			return domain.WrapError(domain.ErrTemporary, op, err)
		default:
			return domain.WrapError(domain.ErrInvalidInput, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return err
}
