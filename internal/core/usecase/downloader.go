package usecase

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

const (
	defaultDownloadConcurrency = 3
	defaultDownloadTimeout     = 60 * time.Second
	maxFilenameLength          = 100
	shortIDLength              = 12
)

var pdfMagic = []byte("%PDF")

var typeSubdirs = map[domain.DocumentType]string{
	domain.DocFinalNotice:       "final-notices",
	domain.DocDecisionNotice:    "decision-notices",
	domain.DocWarningNotice:     "warnings",
	domain.DocSupervisoryNotice: "supervisory-notices",
	domain.DocProhibitionOrder:  "prohibition-orders",
	domain.DocHandbookNotice:    "handbook-notices",
	domain.DocOther:             "other",
}

type DownloaderConfig struct {
	Concurrency int
	Timeout     time.Duration
	MaxRetries  int
}

type DownloadResult struct {
	Outcome Outcome
	Path    string
	Size    int64
	Cached  bool
}

type DownloaderCounters struct {
	RequestsMade int64 `json:"requests_made"`
	Downloaded   int64 `json:"downloaded"`
	CacheHits    int64 `json:"cache_hits"`
	BytesWritten int64 `json:"bytes_written"`
}

// Downloader fetches each publication's PDF once and stores it under a
// type-partitioned path.
type Downloader struct {
	store   ports.PublicationStore
	fetcher ports.BinaryFetcher
	files   ports.FileStore
	budget  ports.RateGate
	metrics ports.StageMetrics
	cfg     DownloaderConfig
	failure failurePolicy

	requests   atomic.Int64
	downloaded atomic.Int64
	cacheHits  atomic.Int64
	bytes      atomic.Int64
}

func NewDownloader(
	store ports.PublicationStore,
	fetcher ports.BinaryFetcher,
	files ports.FileStore,
	budget ports.RateGate,
	metrics ports.StageMetrics,
	cfg DownloaderConfig,
) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultDownloadConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDownloadTimeout
	}
	return &Downloader{
		store:   store,
		fetcher: fetcher,
		files:   files,
		budget:  budget,
		metrics: metricsOrNop(metrics),
		cfg:     cfg,
		failure: failurePolicy{
			store:      store,
			entry:      domain.StatusPending,
			failed:     domain.StatusDownloadFailed,
			maxRetries: cfg.MaxRetries,
		},
	}
}

func (d *Downloader) Counters() DownloaderCounters {
	return DownloaderCounters{
		RequestsMade: d.requests.Load(),
		Downloaded:   d.downloaded.Load(),
		CacheHits:    d.cacheHits.Load(),
		BytesWritten: d.bytes.Load(),
	}
}

// DownloadPDF stores the record's PDF. An existing file at the record's
// deterministic path is a cache hit and no request is made.
func (d *Downloader) DownloadPDF(ctx context.Context, rec domain.PublicationRecord) (DownloadResult, error) {
	if strings.TrimSpace(rec.PDFURL) == "" {
		return DownloadResult{Outcome: OutcomeSkipped}, nil
	}

	key := StorageKey(rec)
	size, exists, err := d.files.Stat(ctx, key)
	if err != nil {
		return DownloadResult{Outcome: OutcomeFailed}, fmt.Errorf("stat %s: %w", key, err)
	}
	if exists {
		localPath := d.files.Path(key)
		if err := d.markDownloaded(ctx, rec.PublicationID, localPath, size); err != nil {
			return DownloadResult{Outcome: OutcomeFailed}, err
		}
		d.cacheHits.Add(1)
		return DownloadResult{Outcome: OutcomeCached, Path: localPath, Size: size, Cached: true}, nil
	}

	if d.budget != nil {
		if err := d.budget.Wait(ctx); err != nil {
			return DownloadResult{Outcome: OutcomeFailed}, err
		}
	}
	if err := d.store.UpdateStatus(ctx, rec.PublicationID, domain.StatusDownloading, domain.StatusFields{}); err != nil {
		return DownloadResult{Outcome: OutcomeFailed}, fmt.Errorf("set status=downloading: %w", err)
	}

	size, err = d.fetchAndStore(ctx, rec.PDFURL, key)
	if err != nil {
		if _, failErr := d.failure.record(context.WithoutCancel(ctx), rec.PublicationID, err); failErr != nil {
			return DownloadResult{Outcome: OutcomeFailed}, fmt.Errorf("%w; record failure: %v", err, failErr)
		}
		return DownloadResult{Outcome: OutcomeFailed}, err
	}

	localPath := d.files.Path(key)
	if err := d.markDownloaded(ctx, rec.PublicationID, localPath, size); err != nil {
		return DownloadResult{Outcome: OutcomeFailed}, err
	}
	d.downloaded.Add(1)
	d.bytes.Add(size)
	return DownloadResult{Outcome: OutcomeSuccess, Path: localPath, Size: size}, nil
}

func (d *Downloader) fetchAndStore(ctx context.Context, pdfURL, key string) (int64, error) {
	d.metrics.DownloadStarted()
	defer d.metrics.DownloadFinished()

	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	d.requests.Add(1)
	remote, err := d.fetcher.Fetch(fetchCtx, pdfURL)
	if err != nil {
		return 0, fmt.Errorf("fetch pdf: %w", err)
	}
	defer remote.Body.Close()

	body := bufio.NewReader(remote.Body)
	head, _ := body.Peek(len(pdfMagic))
	if !looksLikePDF(remote.ContentType, head) {
		return 0, domain.WrapError(domain.ErrNotPDF, "download pdf", fmt.Errorf("content type %q", remote.ContentType))
	}

	size, err := d.files.Save(fetchCtx, key, body)
	if err != nil {
		return 0, fmt.Errorf("save pdf: %w", err)
	}
	return size, nil
}

func (d *Downloader) markDownloaded(ctx context.Context, id, localPath string, size int64) error {
	fields := domain.StatusFields{
		PDFLocalPath: &localPath,
		PDFSize:      &size,
		ClearError:   true,
	}
	if err := d.store.UpdateStatus(ctx, id, domain.StatusDownloaded, fields); err != nil {
		return fmt.Errorf("set status=downloaded: %w", err)
	}
	return nil
}

// DownloadBatch runs downloads with at most Concurrency in flight.
func (d *Downloader) DownloadBatch(ctx context.Context, records []domain.PublicationRecord, events chan<- domain.Event) BatchResult {
	var (
		mu     sync.Mutex
		result BatchResult
		g      errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			started := time.Now()
			res, err := d.DownloadPDF(ctx, rec)
			d.metrics.ObserveItem(domain.StageDownload, string(res.Outcome), time.Since(started))
			if err != nil {
				slog.Warn("pdf_download_failed",
					"publication_id", rec.PublicationID,
					"url", rec.PDFURL,
					"error", err,
				)
				emitFailure(ctx, events, domain.StageDownload, rec.PublicationID, err)
			}

			mu.Lock()
			result.record(rec.PublicationID, res.Outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// DownloadAllPending processes pending records with a PDF URL until none
// remain.
func (d *Downloader) DownloadAllPending(ctx context.Context, opts PendingOptions) (BatchResult, error) {
	loop := pendingLoop{
		stage:    domain.StageDownload,
		status:   domain.StatusPending,
		store:    d.store,
		eligible: d.failure.eligible,
		process:  d.DownloadBatch,
	}
	return loop.run(ctx, opts)
}

// StorageKey is the deterministic relative path of a record's PDF.
func StorageKey(rec domain.PublicationRecord) string {
	subdir, ok := typeSubdirs[rec.DocumentType]
	if !ok {
		subdir = typeSubdirs[domain.DocOther]
	}
	return subdir + "/" + shortID(rec.PublicationID) + "_" + sourceFilename(rec.PDFURL)
}

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[len(id)-shortIDLength:]
}

func sourceFilename(rawURL string) string {
	name := "document.pdf"
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			name = base
		}
	}

	name = sanitizeFilename(name)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength-4] + ".pdf"
	}
	return name
}

func sanitizeFilename(name string) string {
	base := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "document.pdf"
	}
	return base
}

func looksLikePDF(contentType string, head []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "pdf") || strings.Contains(ct, "octet-stream") {
		return true
	}
	return bytes.HasPrefix(head, pdfMagic)
}
