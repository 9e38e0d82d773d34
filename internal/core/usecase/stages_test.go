package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

func TestScrapeAllPagesIsIdempotent(t *testing.T) {
	store := newMemStore()
	listing := newListingFake(10, 5)
	scraper := NewScraper(listing, store, nil, ScraperConfig{PageSize: 10})

	first, err := scraper.ScrapeAllPages(context.Background(), ScrapeOptions{})
	if err != nil {
		t.Fatalf("first scrape: %v", err)
	}
	if first.TotalScraped != 15 || first.TotalInserted != 15 || first.TotalPages != 2 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if first.NextStartIndex != 20 {
		t.Fatalf("expected next start 20, got %d", first.NextStartIndex)
	}

	second, err := scraper.ScrapeAllPages(context.Background(), ScrapeOptions{})
	if err != nil {
		t.Fatalf("second scrape: %v", err)
	}
	if second.TotalScraped != 15 || second.TotalInserted != 0 {
		t.Fatalf("expected no inserts on second pass, got %+v", second)
	}
	if len(store.pubs) != 15 {
		t.Fatalf("expected 15 stored publications, got %d", len(store.pubs))
	}
	if listing.opened != 2 || listing.closed != 2 {
		t.Fatalf("expected source opened and closed per run, got %d/%d", listing.opened, listing.closed)
	}
}

func TestScrapeAllPagesMapsListingEntries(t *testing.T) {
	store := newMemStore()
	scraper := NewScraper(newListingFake(1), store, nil, ScraperConfig{PageSize: 10})

	if _, err := scraper.ScrapeAllPages(context.Background(), ScrapeOptions{}); err != nil {
		t.Fatalf("scrape: %v", err)
	}
	for _, rec := range store.pubs {
		if rec.DocumentType != domain.DocFinalNotice {
			t.Fatalf("expected final notice, got %s", rec.DocumentType)
		}
		if rec.PDFURL == "" || rec.Status != domain.StatusPending {
			t.Fatalf("expected pending record with pdf url, got %+v", rec)
		}
		if rec.PublicationDate == nil || rec.PublicationDate.Year() != 2025 {
			t.Fatalf("expected parsed publication date, got %v", rec.PublicationDate)
		}
	}
}

func TestScrapeAllPagesHonoursPageCapAndDryRun(t *testing.T) {
	store := newMemStore()
	listing := newListingFake(10, 10, 10)
	scraper := NewScraper(listing, store, nil, ScraperConfig{PageSize: 10})

	res, err := scraper.ScrapeAllPages(context.Background(), ScrapeOptions{MaxPages: 1, DryRun: true})
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if res.TotalPages != 1 || res.TotalScraped != 10 || res.TotalInserted != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if store.upserts != 0 {
		t.Fatalf("dry run must not write, got %d upserts", store.upserts)
	}
}

func TestScrapeAllPagesStopsWhenInterrupted(t *testing.T) {
	store := newMemStore()
	listing := newListingFake(10, 10)
	var control Control
	listing.onFetch = func(int) { control.Pause() }
	scraper := NewScraper(listing, store, nil, ScraperConfig{PageSize: 10})

	res, err := scraper.ScrapeAllPages(context.Background(), ScrapeOptions{Control: &control})
	if !errors.Is(err, domain.ErrJobPaused) {
		t.Fatalf("expected ErrJobPaused, got %v", err)
	}
	if res.TotalPages != 1 || res.NextStartIndex != 10 {
		t.Fatalf("expected one page and cursor 10, got %+v", res)
	}
}

func TestScrapeRecentStopsAtKnownPublication(t *testing.T) {
	store := newMemStore()
	listing := newListingFake(10, 10)
	scraper := NewScraper(listing, store, nil, ScraperConfig{PageSize: 10, RecentMaxPages: 5})

	known, ok := toPublication(listing.pages[0][3])
	if !ok {
		t.Fatalf("expected listing entry to map")
	}
	store.seed(known)

	res, err := scraper.ScrapeRecent(context.Background(), RecentOptions{})
	if err != nil {
		t.Fatalf("scrape recent: %v", err)
	}
	if res.TotalNew != 3 || res.PagesScanned != 1 || len(res.NewIDs) != 3 {
		t.Fatalf("expected 3 new on first page, got %+v", res)
	}
}

func TestStorageKeyIsTypePartitioned(t *testing.T) {
	rec := domain.PublicationRecord{
		PublicationID: "abcdef0123456789abcdef",
		DocumentType:  domain.DocFinalNotice,
		PDFURL:        "https://www.fca.org.uk/publication/final-notices/acme%20bank ltd.pdf?version=2",
	}
	got := StorageKey(rec)
	want := "final-notices/456789abcdef_acme_bank_ltd.pdf"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	rec.DocumentType = "unknown"
	rec.PDFURL = "https://example.com/"
	if got := StorageKey(rec); !strings.HasPrefix(got, "other/") || !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("unexpected fallback key %q", got)
	}
}

func TestDownloadPDFCacheHitSkipsRequest(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-cache-0001")
	store.seed(rec)
	fetcher := newFetcherFake()
	files := newFileStoreFake()
	downloader := NewDownloader(store, fetcher, files, nil, nil, DownloaderConfig{})

	first, err := downloader.DownloadPDF(context.Background(), rec)
	if err != nil {
		t.Fatalf("first download: %v", err)
	}
	if first.Outcome != OutcomeSuccess || first.Cached {
		t.Fatalf("expected fresh download, got %+v", first)
	}

	second, err := downloader.DownloadPDF(context.Background(), rec)
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	if second.Outcome != OutcomeCached || !second.Cached || second.Path != first.Path {
		t.Fatalf("expected cache hit at %s, got %+v", first.Path, second)
	}
	if fetcher.totalCalls() != 1 {
		t.Fatalf("expected exactly one request, got %d", fetcher.totalCalls())
	}

	got := store.get(rec.PublicationID)
	if got.Status != domain.StatusDownloaded || got.PDFLocalPath == nil || *got.PDFLocalPath != first.Path {
		t.Fatalf("unexpected stored record: %+v", got)
	}
	if c := downloader.Counters(); c.Downloaded != 1 || c.CacheHits != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestDownloadPDFWithoutURLIsSkipped(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-nourl-001")
	rec.PDFURL = ""
	store.seed(rec)
	fetcher := newFetcherFake()
	downloader := NewDownloader(store, fetcher, newFileStoreFake(), nil, nil, DownloaderConfig{})

	res, err := downloader.DownloadPDF(context.Background(), rec)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skip, got %s", res.Outcome)
	}

	// A record without a URL never enters the pending queue.
	all, err := downloader.DownloadAllPending(context.Background(), PendingOptions{BatchSize: 5})
	if err != nil {
		t.Fatalf("download pending: %v", err)
	}
	if all.Attempted() != 0 {
		t.Fatalf("expected nothing attempted, got %+v", all)
	}
	if fetcher.totalCalls() != 0 {
		t.Fatalf("expected no requests, got %d", fetcher.totalCalls())
	}
	if got := store.get(rec.PublicationID); got.Status != domain.StatusPending {
		t.Fatalf("expected status to stay pending, got %s", got.Status)
	}
}

func TestDownloadRejectsNonPDFBody(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-html-0001")
	store.seed(rec)
	fetcher := newFetcherFake()
	fetcher.contentType = "text/html"
	fetcher.body = "<html>not found</html>"
	downloader := NewDownloader(store, fetcher, newFileStoreFake(), nil, nil, DownloaderConfig{})

	_, err := downloader.DownloadPDF(context.Background(), rec)
	if !domain.IsKind(err, domain.ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	got := store.get(rec.PublicationID)
	if got.Status != domain.StatusPending || got.RetryCount != 1 {
		t.Fatalf("expected retryable failure, got status=%s retries=%d", got.Status, got.RetryCount)
	}
}

func TestDownloadRetryCeilingMarksFailed(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-retry-001")
	store.seed(rec)
	fetcher := newFetcherFake()
	fetcher.err = domain.WrapError(domain.ErrServerError, "fetch pdf", errors.New("status 503"))
	downloader := NewDownloader(store, fetcher, newFileStoreFake(), nil, nil, DownloaderConfig{})

	res, err := downloader.DownloadAllPending(context.Background(), PendingOptions{BatchSize: 5})
	if err != nil {
		t.Fatalf("download pending: %v", err)
	}
	if res.Failed != domain.MaxRetries {
		t.Fatalf("expected %d failed attempts, got %+v", domain.MaxRetries, res)
	}
	if fetcher.totalCalls() != domain.MaxRetries {
		t.Fatalf("expected %d requests, got %d", domain.MaxRetries, fetcher.totalCalls())
	}

	got := store.get(rec.PublicationID)
	if got.Status != domain.StatusDownloadFailed || got.RetryCount != domain.MaxRetries {
		t.Fatalf("expected terminal failure after %d retries, got %s/%d", domain.MaxRetries, got.Status, got.RetryCount)
	}
	history := store.history[rec.PublicationID]
	for i, status := range history[:len(history)-1] {
		if status == domain.StatusDownloadFailed {
			t.Fatalf("terminal status reached early at step %d: %v", i, history)
		}
	}

	// Terminal records are not picked up again.
	again, err := downloader.DownloadAllPending(context.Background(), PendingOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Attempted() != 0 || fetcher.totalCalls() != domain.MaxRetries {
		t.Fatalf("expected no further attempts, got %+v", again)
	}
}

func TestParserStoresTextAndFields(t *testing.T) {
	store := newMemStore()
	files := newFileStoreFake()
	rec := pendingRecord("pub-parse-001")
	rec.Status = domain.StatusDownloaded
	path := files.Path(StorageKey(rec))
	rec.PDFLocalPath = &path
	store.seed(rec)
	if _, err := files.Save(context.Background(), StorageKey(rec), strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	extractor := &extractorFake{text: noticeText, pages: 4}
	parser := NewParser(store, files, extractor, nil, ParserConfig{})

	res, err := parser.ParseAllPending(context.Background(), PendingOptions{})
	if err != nil {
		t.Fatalf("parse pending: %v", err)
	}
	if res.Successful != 1 {
		t.Fatalf("expected one parsed record, got %+v", res)
	}

	got := store.get(rec.PublicationID)
	if got.Status != domain.StatusParsed {
		t.Fatalf("expected parsed, got %s", got.Status)
	}
	if got.PageCount == nil || *got.PageCount != 4 {
		t.Fatalf("expected page count 4, got %v", got.PageCount)
	}
	if got.ExtractedFields == nil || got.ExtractedFields.FRN != "123456" {
		t.Fatalf("expected FRN in extracted fields, got %+v", got.ExtractedFields)
	}
	if text, _ := store.GetFullText(context.Background(), rec.PublicationID); text != noticeText {
		t.Fatalf("full text not stored")
	}
}

func TestParserSkipsMissingFile(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-parse-002")
	rec.Status = domain.StatusDownloaded
	missing := "/data/final-notices/missing.pdf"
	rec.PDFLocalPath = &missing
	store.seed(rec)
	extractor := &extractorFake{text: noticeText}
	parser := NewParser(store, newFileStoreFake(), extractor, nil, ParserConfig{})

	res, err := parser.ParseAllPending(context.Background(), PendingOptions{})
	if err != nil {
		t.Fatalf("parse pending: %v", err)
	}
	if res.Skipped != 1 || len(extractor.paths) != 0 {
		t.Fatalf("expected skip without extraction, got %+v", res)
	}
	if got := store.get(rec.PublicationID); got.Status != domain.StatusDownloaded {
		t.Fatalf("expected status unchanged, got %s", got.Status)
	}
}

func TestParserFailureCountsRetry(t *testing.T) {
	store := newMemStore()
	files := newFileStoreFake()
	rec := pendingRecord("pub-parse-003")
	rec.Status = domain.StatusDownloaded
	path := files.Path(StorageKey(rec))
	rec.PDFLocalPath = &path
	store.seed(rec)
	_, _ = files.Save(context.Background(), StorageKey(rec), strings.NewReader("%PDF"))
	parser := NewParser(store, files, &extractorFake{err: errors.New("corrupt xref")}, nil, ParserConfig{})

	_, err := parser.ProcessPublication(context.Background(), rec)
	if !domain.IsKind(err, domain.ErrParseFailed) {
		t.Fatalf("expected ErrParseFailed, got %v", err)
	}
	got := store.get(rec.PublicationID)
	if got.Status != domain.StatusDownloaded || got.RetryCount != 1 || got.LastError == nil {
		t.Fatalf("expected retryable failure, got %+v", got)
	}
}

func TestClassifierCreatesNotice(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-ai-00001")
	rec.Status = domain.StatusParsed
	rec.ExtractedFields = &domain.BasicFields{FRN: "123456", HandbookReferences: []string{"PRIN 2.1.1"}}
	store.seed(rec)
	_ = store.StoreFullText(context.Background(), rec.PublicationID, noticeText)
	llm := &llmFake{response: validAnalysisJSON}
	classifier := NewClassifier(store, store, llm, nil, nil, ClassifierConfig{})

	outcome, err := classifier.ProcessPublication(context.Background(), store.get(rec.PublicationID))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome)
	}

	notice, ok := store.notices[rec.PublicationID]
	if !ok {
		t.Fatalf("expected notice to be stored")
	}
	if notice.FRN == nil || *notice.FRN != "123456" {
		t.Fatalf("expected FRN filled from extraction, got %v", notice.FRN)
	}
	if notice.AIModelUsed != "fake-model" {
		t.Fatalf("unexpected model %q", notice.AIModelUsed)
	}
	if got := store.get(rec.PublicationID); got.Status != domain.StatusProcessed {
		t.Fatalf("expected processed, got %s", got.Status)
	}
}

func TestClassifierClosesOutShortText(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-ai-00002")
	rec.Status = domain.StatusParsed
	store.seed(rec)
	_ = store.StoreFullText(context.Background(), rec.PublicationID, "too short")
	llm := &llmFake{response: validAnalysisJSON}
	classifier := NewClassifier(store, store, llm, nil, nil, ClassifierConfig{})

	res, err := classifier.ClassifyAllPending(context.Background(), PendingOptions{})
	if err != nil {
		t.Fatalf("classify pending: %v", err)
	}
	if res.Skipped != 1 || llm.calls() != 0 {
		t.Fatalf("expected skip without model call, got %+v calls=%d", res, llm.calls())
	}
	if got := store.get(rec.PublicationID); got.Status != domain.StatusProcessed {
		t.Fatalf("expected processed, got %s", got.Status)
	}
	if len(store.notices) != 0 {
		t.Fatalf("expected no notice for short text")
	}
}

func TestPendingLoopSkipsDoNotUseItemBudget(t *testing.T) {
	store := newMemStore()
	files := newFileStoreFake()

	stale := pendingRecord("pub-parse-old")
	stale.Status = domain.StatusDownloaded
	missing := "/data/final-notices/gone.pdf"
	stale.PDFLocalPath = &missing

	fresh := pendingRecord("pub-parse-new")
	fresh.Status = domain.StatusDownloaded
	path := files.Path(StorageKey(fresh))
	fresh.PDFLocalPath = &path
	_, _ = files.Save(context.Background(), StorageKey(fresh), strings.NewReader("%PDF"))

	store.seed(stale, fresh)
	parser := NewParser(store, files, &extractorFake{text: noticeText, pages: 2}, nil, ParserConfig{})

	res, err := parser.ParseAllPending(context.Background(), PendingOptions{BatchSize: 1, MaxItems: 1})
	if err != nil {
		t.Fatalf("parse pending: %v", err)
	}
	if res.Skipped != 1 || res.Successful != 1 {
		t.Fatalf("expected one skip and one parse, got %+v", res)
	}
	if got := store.get(fresh.PublicationID); got.Status != domain.StatusParsed {
		t.Fatalf("expected fresh record parsed, got %s", got.Status)
	}
}

func TestClassifierInvalidResponseReachesCeiling(t *testing.T) {
	store := newMemStore()
	rec := pendingRecord("pub-ai-00003")
	rec.Status = domain.StatusParsed
	store.seed(rec)
	_ = store.StoreFullText(context.Background(), rec.PublicationID, noticeText)
	llm := &llmFake{response: "I cannot help with that."}
	classifier := NewClassifier(store, store, llm, nil, nil, ClassifierConfig{})

	res, err := classifier.ClassifyAllPending(context.Background(), PendingOptions{})
	if err != nil {
		t.Fatalf("classify pending: %v", err)
	}
	if res.Failed != domain.MaxRetries || llm.calls() != domain.MaxRetries {
		t.Fatalf("expected %d failed calls, got %+v calls=%d", domain.MaxRetries, res, llm.calls())
	}
	if got := store.get(rec.PublicationID); got.Status != domain.StatusAIFailed {
		t.Fatalf("expected ai_failed, got %s", got.Status)
	}
	if c := classifier.Counters(); c.InvalidJSON != int64(domain.MaxRetries) {
		t.Fatalf("expected invalid json counter %d, got %+v", domain.MaxRetries, c)
	}
	if len(store.notices) != 0 {
		t.Fatalf("no notice expected on invalid output")
	}
}

func TestControlCancelWinsOverPause(t *testing.T) {
	var c Control
	if err := c.Interrupted(); err != nil {
		t.Fatalf("expected no interrupt, got %v", err)
	}
	c.Pause()
	if !errors.Is(c.Interrupted(), domain.ErrJobPaused) {
		t.Fatalf("expected pause")
	}
	c.Cancel()
	if !errors.Is(c.Interrupted(), domain.ErrJobCancelled) {
		t.Fatalf("expected cancel to win")
	}
	c.Reset()
	if c.Paused() || c.Cancelled() {
		t.Fatalf("expected flags cleared")
	}
}
