package fca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

// BrowserSource renders listing pages in headless Chrome for when the search
// results are built client-side. One browser is started by Open and each
// page gets its own tab.
type BrowserSource struct {
	cfg      Config
	executor *resilience.Executor

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func NewBrowserSource(cfg Config) *BrowserSource {
	cfg = cfg.withDefaults()
	return &BrowserSource{
		cfg:      cfg,
		executor: resilience.NewExecutor(resilience.FixedDelay(cfg.RetryAttempts, cfg.RetryWait)),
	}
}

func (b *BrowserSource) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return nil
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", b.cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(b.cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.allocCancel = allocCancel
	slog.Info("browser_started", "user_agent", b.cfg.UserAgent)
	return nil
}

func (b *BrowserSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	b.browserCancel = nil
	b.allocCancel = nil
	slog.Info("browser_closed")
	return nil
}

func (b *BrowserSource) FetchPage(ctx context.Context, startIndex, pageSize int) (*domain.ListingPage, error) {
	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()
	if browserCtx == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch listing", errors.New("browser source is not open"))
	}

	pageURL, base, err := b.cfg.pageURL(startIndex, pageSize)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch listing", err)
	}

	html, err := resilience.Do(ctx, b.executor, "fca.listing.browser", func(ctx context.Context) (string, error) {
		return b.render(ctx, browserCtx, pageURL)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, mapError("fetch listing", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered listing: %w", err)
	}
	page := parseListing(doc, base, b.cfg.Selectors)
	return &page, nil
}

func (b *BrowserSource) render(ctx, browserCtx context.Context, pageURL string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.cfg.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(pageURL))
	if err != nil {
		return "", fmt.Errorf("navigate listing: %w", err)
	}
	if resp != nil && resp.Status >= 400 {
		return "", &resilience.HTTPStatusError{
			Service:    serviceName,
			Operation:  "listing",
			StatusCode: int(resp.Status),
			Status:     fmt.Sprintf("%d %s", resp.Status, resp.StatusText),
		}
	}

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("read rendered listing: %w", err)
	}
	return html, nil
}
