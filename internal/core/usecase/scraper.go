package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/extract"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

const defaultPageSize = 10

type ScraperConfig struct {
	PageSize       int
	RecentMaxPages int
}

type PageResult struct {
	Publications []domain.PublicationRecord
	TotalResults int
	HasMore      bool
}

type ScrapeOptions struct {
	// StartPage is 1-based and only used when StartIndex is zero.
	StartPage  int
	StartIndex int
	MaxPages   int
	DryRun     bool
	Events     chan<- domain.Event
	Control    Interrupter
}

type ScrapeResult struct {
	TotalScraped   int `json:"total_scraped"`
	TotalInserted  int `json:"total_inserted"`
	TotalPages     int `json:"total_pages"`
	Failed         int `json:"failed"`
	NextStartIndex int `json:"next_start_index"`
}

type RecentOptions struct {
	MaxPages int
	Since    *time.Time
	Events   chan<- domain.Event
	Control  Interrupter
}

type RecentResult struct {
	TotalNew     int      `json:"total_new"`
	PagesScanned int      `json:"pages_scanned"`
	NewIDs       []string `json:"new_ids,omitempty"`
}

type ScraperCounters struct {
	RequestsMade     int64 `json:"requests_made"`
	PagesScraped     int64 `json:"pages_scraped"`
	PublicationsSeen int64 `json:"publications_seen"`
}

// Scraper pages through the publications index and upserts record stubs.
type Scraper struct {
	source ports.ListingSource
	store  ports.PublicationStore
	gate   ports.RateGate
	cfg    ScraperConfig

	requests atomic.Int64
	pages    atomic.Int64
	seen     atomic.Int64
}

func NewScraper(
	source ports.ListingSource,
	store ports.PublicationStore,
	gate ports.RateGate,
	cfg ScraperConfig,
) *Scraper {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.RecentMaxPages <= 0 {
		cfg.RecentMaxPages = 5
	}
	return &Scraper{
		source: source,
		store:  store,
		gate:   gate,
		cfg:    cfg,
	}
}

func (s *Scraper) PageSize() int {
	return s.cfg.PageSize
}

func (s *Scraper) Counters() ScraperCounters {
	return ScraperCounters{
		RequestsMade:     s.requests.Load(),
		PagesScraped:     s.pages.Load(),
		PublicationsSeen: s.seen.Load(),
	}
}

// ScrapePage fetches one listing page starting at the 0-based startIndex.
// The listing source must already be open.
func (s *Scraper) ScrapePage(ctx context.Context, startIndex int) (PageResult, error) {
	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return PageResult{}, err
		}
	}

	s.requests.Add(1)
	page, err := s.source.FetchPage(ctx, startIndex, s.cfg.PageSize)
	if err != nil {
		return PageResult{}, fmt.Errorf("fetch listing page at %d: %w", startIndex, err)
	}
	s.pages.Add(1)

	pubs := make([]domain.PublicationRecord, 0, len(page.Entries))
	for _, entry := range page.Entries {
		rec, ok := toPublication(entry)
		if !ok {
			continue
		}
		pubs = append(pubs, rec)
	}
	s.seen.Add(int64(len(pubs)))

	hasMore := len(page.Entries) >= s.cfg.PageSize
	if page.TotalResults > 0 && startIndex+len(page.Entries) >= page.TotalResults {
		hasMore = false
	}
	return PageResult{
		Publications: pubs,
		TotalResults: page.TotalResults,
		HasMore:      hasMore,
	}, nil
}

// ScrapeAllPages walks the index from the requested cursor until a short
// page, the page cap or an interrupt.
func (s *Scraper) ScrapeAllPages(ctx context.Context, opts ScrapeOptions) (ScrapeResult, error) {
	start := opts.StartIndex
	if start <= 0 && opts.StartPage > 1 {
		start = (opts.StartPage - 1) * s.cfg.PageSize
	}
	result := ScrapeResult{NextStartIndex: start}

	if err := s.source.Open(ctx); err != nil {
		return result, fmt.Errorf("open listing source: %w", err)
	}
	defer func() {
		if err := s.source.Close(); err != nil {
			slog.Warn("listing_source_close_failed", "error", err)
		}
	}()

	for {
		if err := interrupted(opts.Control); err != nil {
			return result, err
		}
		if opts.MaxPages > 0 && result.TotalPages >= opts.MaxPages {
			break
		}

		page, err := s.ScrapePage(ctx, start)
		if err != nil {
			return result, err
		}
		pageNo := start/s.cfg.PageSize + 1

		result.TotalScraped += len(page.Publications)
		if !opts.DryRun {
			inserted, failed := s.persist(ctx, page.Publications, opts.Events)
			result.TotalInserted += inserted
			result.Failed += failed
		}
		result.TotalPages++
		start += s.cfg.PageSize
		result.NextStartIndex = start

		slog.Info("listing_page_scraped",
			"page", pageNo,
			"items", len(page.Publications),
			"total_results", page.TotalResults,
			"next_start", start,
			"dry_run", opts.DryRun,
		)
		emit(ctx, opts.Events, domain.Event{
			Kind:           domain.EventPageScraped,
			Stage:          domain.StageIndex,
			Page:           pageNo,
			NextStartIndex: start,
			TotalItems:     page.TotalResults,
			Processed:      result.TotalScraped,
			Failed:         result.Failed,
		})

		if !page.HasMore {
			break
		}
	}
	return result, nil
}

// ScrapeRecent walks from the first page and stops at the first publication
// already stored or older than Since.
func (s *Scraper) ScrapeRecent(ctx context.Context, opts RecentOptions) (RecentResult, error) {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = s.cfg.RecentMaxPages
	}
	var result RecentResult

	if err := s.source.Open(ctx); err != nil {
		return result, fmt.Errorf("open listing source: %w", err)
	}
	defer func() {
		if err := s.source.Close(); err != nil {
			slog.Warn("listing_source_close_failed", "error", err)
		}
	}()

	start := 0
	for result.PagesScanned < maxPages {
		if err := interrupted(opts.Control); err != nil {
			return result, err
		}

		page, err := s.ScrapePage(ctx, start)
		if err != nil {
			return result, err
		}
		result.PagesScanned++

		stop := false
		for i := range page.Publications {
			rec := &page.Publications[i]
			if opts.Since != nil && rec.PublicationDate != nil && rec.PublicationDate.Before(*opts.Since) {
				stop = true
				break
			}
			exists, err := s.store.Exists(ctx, rec.PublicationID)
			if err != nil {
				return result, fmt.Errorf("check publication %s: %w", rec.PublicationID, err)
			}
			if exists {
				stop = true
				break
			}
			inserted, err := s.store.UpsertPublication(ctx, rec)
			if err != nil {
				slog.Error("publication_upsert_failed", "publication_id", rec.PublicationID, "error", err)
				emitFailure(ctx, opts.Events, domain.StageIndex, rec.PublicationID, err)
				continue
			}
			if inserted {
				result.TotalNew++
				result.NewIDs = append(result.NewIDs, rec.PublicationID)
			}
		}

		start += s.cfg.PageSize
		emit(ctx, opts.Events, domain.Event{
			Kind:           domain.EventPageScraped,
			Stage:          domain.StageIndex,
			Page:           result.PagesScanned,
			NextStartIndex: start,
			TotalItems:     page.TotalResults,
			Processed:      result.TotalNew,
		})
		if stop || !page.HasMore {
			break
		}
	}

	slog.Info("recent_scrape_finished", "new", result.TotalNew, "pages", result.PagesScanned)
	return result, nil
}

func (s *Scraper) persist(ctx context.Context, pubs []domain.PublicationRecord, events chan<- domain.Event) (int, int) {
	inserted, failed := 0, 0
	for i := range pubs {
		ok, err := s.store.UpsertPublication(ctx, &pubs[i])
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return inserted, failed
			}
			failed++
			slog.Error("publication_upsert_failed", "publication_id", pubs[i].PublicationID, "error", err)
			emitFailure(ctx, events, domain.StageIndex, pubs[i].PublicationID, err)
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted, failed
}

func toPublication(entry domain.ListingEntry) (domain.PublicationRecord, bool) {
	title := strings.Join(strings.Fields(entry.Title), " ")
	link := strings.TrimSpace(entry.URL)
	if title == "" || link == "" {
		return domain.PublicationRecord{}, false
	}

	published := extract.ParseDate(entry.DateText)
	docType := extract.TypeFromLabel(entry.TypeLabel)
	if docType == domain.DocOther {
		docType = extract.DetectDocumentType(title + "\n" + entry.Description)
	}

	rec := domain.PublicationRecord{
		PublicationID:   domain.PublicationID(link, title, published),
		Title:           title,
		DocumentType:    docType,
		PublicationDate: published,
		URL:             link,
		Description:     strings.TrimSpace(entry.Description),
		Status:          domain.StatusPending,
	}
	if isPDFLink(link) {
		rec.PDFURL = link
	}
	return rec, true
}

func isPDFLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
