package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// memStore is an in-memory PublicationStore, NoticeStore and JobStore.
type memStore struct {
	mu sync.Mutex

	seq      int64
	pubs     map[string]*domain.PublicationRecord
	touched  map[string]int64
	history  map[string][]domain.PublicationStatus
	fullText map[string]string
	notices  map[string]domain.EnforcementNotice
	inserts  int
	upserts  int

	jobs     map[string]*domain.Job
	jobOrder []string

	updateStatusErr error
}

func newMemStore() *memStore {
	return &memStore{
		pubs:     make(map[string]*domain.PublicationRecord),
		touched:  make(map[string]int64),
		history:  make(map[string][]domain.PublicationStatus),
		fullText: make(map[string]string),
		notices:  make(map[string]domain.EnforcementNotice),
		jobs:     make(map[string]*domain.Job),
	}
}

func (s *memStore) touch(id string) {
	s.seq++
	s.touched[id] = s.seq
}

func (s *memStore) seed(recs ...domain.PublicationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		copyRec := rec
		s.pubs[rec.PublicationID] = &copyRec
		s.touch(rec.PublicationID)
	}
}

func (s *memStore) get(id string) domain.PublicationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.pubs[id]
}

func (s *memStore) UpsertPublication(_ context.Context, rec *domain.PublicationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if existing, ok := s.pubs[rec.PublicationID]; ok {
		if rec.Description != "" {
			existing.Description = rec.Description
		}
		if rec.PDFURL != "" {
			existing.PDFURL = rec.PDFURL
		}
		return false, nil
	}
	copyRec := *rec
	copyRec.CreatedAt = time.Now().UTC()
	copyRec.UpdatedAt = copyRec.CreatedAt
	s.pubs[rec.PublicationID] = &copyRec
	s.touch(rec.PublicationID)
	s.inserts++
	return true, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.PublicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pubs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get publication", errors.New(id))
	}
	copyRec := *rec
	return &copyRec, nil
}

func (s *memStore) GetPendingByStatus(_ context.Context, status domain.PublicationStatus, limit int) ([]domain.PublicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PublicationRecord, 0)
	for _, rec := range s.pubs {
		if rec.Status == status && rec.PDFURL != "" && rec.RetryCount < domain.MaxRetries {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.touched[out[i].PublicationID] < s.touched[out[j].PublicationID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.PublicationStatus, fields domain.StatusFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateStatusErr != nil {
		return s.updateStatusErr
	}
	rec, ok := s.pubs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update status", errors.New(id))
	}
	rec.Status = status
	if fields.PDFLocalPath != nil {
		rec.PDFLocalPath = fields.PDFLocalPath
	}
	if fields.PDFSize != nil {
		rec.PDFSize = fields.PDFSize
	}
	if fields.RawTextLength != nil {
		rec.RawTextLength = fields.RawTextLength
	}
	if fields.PageCount != nil {
		rec.PageCount = fields.PageCount
	}
	if fields.DocumentType != nil {
		rec.DocumentType = *fields.DocumentType
	}
	if fields.ExtractedFields != nil {
		rec.ExtractedFields = fields.ExtractedFields
	}
	if fields.LastError != nil {
		rec.LastError = fields.LastError
	}
	if fields.ClearError {
		rec.LastError = nil
	}
	s.history[id] = append(s.history[id], status)
	s.touch(id)
	return nil
}

func (s *memStore) IncrementRetry(_ context.Context, id, msg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pubs[id]
	if !ok {
		return 0, domain.WrapError(domain.ErrNotFound, "increment retry", errors.New(id))
	}
	rec.RetryCount++
	rec.LastError = &msg
	return rec.RetryCount, nil
}

func (s *memStore) ResetFailed(_ context.Context, failed, to domain.PublicationStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.pubs {
		if rec.Status == failed {
			rec.Status = to
			rec.RetryCount = 0
			rec.LastError = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) MoveStatus(_ context.Context, from, to domain.PublicationStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.pubs {
		if rec.Status == from {
			rec.Status = to
			n++
		}
	}
	return n, nil
}

func (s *memStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pubs[id]
	return ok, nil
}

func (s *memStore) StoreFullText(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullText[id] = text
	return nil
}

func (s *memStore) GetFullText(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.fullText[id]
	if !ok {
		return "", domain.WrapError(domain.ErrNotFound, "get full text", errors.New(id))
	}
	return text, nil
}

func (s *memStore) GetPipelineStats(context.Context) (domain.PipelineStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.PipelineStats{TotalPublications: len(s.pubs), Notices: len(s.notices)}
	for _, rec := range s.pubs {
		if rec.Status == domain.StatusProcessed {
			stats.Processed++
		}
		if rec.Status.IsFailed() {
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *memStore) GetStatusCounts(context.Context) (domain.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := domain.StatusCounts{}
	for _, rec := range s.pubs {
		counts[rec.Status]++
	}
	return counts, nil
}

func (s *memStore) UpsertEnforcementNotice(_ context.Context, notice *domain.EnforcementNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices[notice.PublicationID] = *notice
	return nil
}

func (s *memStore) ListEnforcementNotices(_ context.Context, limit int) ([]domain.EnforcementNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EnforcementNotice, 0, len(s.notices))
	for _, n := range s.notices {
		out = append(out, n)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyJob := *job
	s.jobs[job.JobID] = &copyJob
	s.jobOrder = append(s.jobOrder, job.JobID)
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get job", errors.New(id))
	}
	copyJob := *job
	copyJob.ErrorLog = append([]domain.JobErrorEntry(nil), job.ErrorLog...)
	return &copyJob, nil
}

func (s *memStore) UpdateJob(_ context.Context, id string, u domain.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update job", errors.New(id))
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.TotalItems != nil {
		job.TotalItems = *u.TotalItems
	}
	if u.ProcessedItems != nil {
		job.ProcessedItems = *u.ProcessedItems
	}
	if u.FailedItems != nil {
		job.FailedItems = *u.FailedItems
	}
	if u.LastPageScraped != nil {
		job.LastPageScraped = *u.LastPageScraped
	}
	if u.LastStartParam != nil {
		job.LastStartParam = *u.LastStartParam
	}
	if u.ItemsPerMinute != nil {
		job.ItemsPerMinute = *u.ItemsPerMinute
	}
	if u.Metadata != nil {
		job.Metadata = u.Metadata
	}
	if u.CompletedAt != nil {
		job.CompletedAt = u.CompletedAt
	}
	return nil
}

func (s *memStore) LatestJobByStatus(_ context.Context, jobType domain.JobType, status domain.JobStatus) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		job := s.jobs[s.jobOrder[i]]
		if job.JobType == jobType && job.Status == status {
			copyJob := *job
			return &copyJob, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "latest job", fmt.Errorf("%s/%s", jobType, status))
}

func (s *memStore) AppendJobError(_ context.Context, id string, entry domain.JobErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "append job error", errors.New(id))
	}
	job.ErrorLog = append(job.ErrorLog, entry)
	return nil
}

func (s *memStore) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0, len(s.jobOrder))
	for i := len(s.jobOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.jobs[s.jobOrder[i]])
	}
	return out, nil
}

func (s *memStore) jobsOfType(jobType domain.JobType) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0)
	for _, id := range s.jobOrder {
		if s.jobs[id].JobType == jobType {
			out = append(out, *s.jobs[id])
		}
	}
	return out
}

type listingFake struct {
	mu       sync.Mutex
	pages    map[int][]domain.ListingEntry
	total    int
	errAt    map[int]error
	requests []int
	opened   int
	closed   int
	onFetch  func(startIndex int)
}

func newListingFake(pageSizes ...int) *listingFake {
	f := &listingFake{pages: make(map[int][]domain.ListingEntry), errAt: make(map[int]error)}
	n := 0
	for p, size := range pageSizes {
		start := p * 10
		for i := 0; i < size; i++ {
			n++
			f.pages[start] = append(f.pages[start], domain.ListingEntry{
				Title:     fmt.Sprintf("Final Notice: Firm %d Limited", n),
				URL:       fmt.Sprintf("https://www.fca.org.uk/publication/final-notices/firm-%d.pdf", n),
				TypeLabel: "Final notice",
				DateText:  "22/12/2025",
			})
		}
	}
	f.total = n
	return f
}

func (f *listingFake) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return nil
}

func (f *listingFake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *listingFake) FetchPage(_ context.Context, startIndex, _ int) (*domain.ListingPage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, startIndex)
	hook := f.onFetch
	err := f.errAt[startIndex]
	entries := f.pages[startIndex]
	f.mu.Unlock()

	if hook != nil {
		hook(startIndex)
	}
	if err != nil {
		return nil, err
	}
	return &domain.ListingPage{Entries: entries, TotalResults: f.total}, nil
}

type fetcherFake struct {
	mu          sync.Mutex
	calls       map[string]int
	contentType string
	body        string
	err         error
}

func newFetcherFake() *fetcherFake {
	return &fetcherFake{
		calls:       make(map[string]int),
		contentType: "application/pdf",
		body:        "%PDF-1.7 fake body",
	}
}

func (f *fetcherFake) Fetch(_ context.Context, url string) (*domain.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RemoteFile{
		Body:          io.NopCloser(strings.NewReader(f.body)),
		ContentType:   f.contentType,
		ContentLength: int64(len(f.body)),
	}, nil
}

func (f *fetcherFake) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

const fakeRoot = "/data/"

type fileStoreFake struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFileStoreFake() *fileStoreFake {
	return &fileStoreFake{files: make(map[string][]byte)}
}

func (f *fileStoreFake) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[strings.TrimPrefix(key, fakeRoot)] = buf.Bytes()
	return n, nil
}

func (f *fileStoreFake) Stat(_ context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[strings.TrimPrefix(key, fakeRoot)]
	return int64(len(data)), ok, nil
}

func (f *fileStoreFake) Path(key string) string {
	if strings.HasPrefix(key, fakeRoot) {
		return key
	}
	return fakeRoot + key
}

const noticeText = `FINAL NOTICE
To: Firm Limited
Firm Reference Number: 123456

The Authority hereby imposes on Firm Limited a financial penalty of £150,000,000 for breaches
of PRIN 2.1.1 and SYSC 6.1.1 relating to anti-money laundering systems and controls.`

type extractorFake struct {
	mu    sync.Mutex
	text  string
	pages int
	err   error
	paths []string
}

func (f *extractorFake) Extract(_ context.Context, path string) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if f.err != nil {
		return "", 0, f.err
	}
	return f.text, f.pages, nil
}

const validAnalysisJSON = `{"entity_name":"Firm Limited","entity_type":"firm","fine_amount":150000000,
"primary_breach_type":"AML","consumer_impact":{"level":"High"},"systemic_risk":{"is_systemic":true},
"aggravating_factors":["a","b"],"mitigating_factors":[],"summary":"AML failings"}`

type llmFake struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (f *llmFake) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *llmFake) Model() string { return "fake-model" }

func (f *llmFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type pipelineFixture struct {
	store      *memStore
	listing    *listingFake
	fetcher    *fetcherFake
	files      *fileStoreFake
	extractor  *extractorFake
	llm        *llmFake
	orch       *Orchestrator
	scraper    *Scraper
	downloader *Downloader
	parser     *Parser
	classifier *Classifier
}

func newPipelineFixture(pageSizes ...int) *pipelineFixture {
	f := &pipelineFixture{
		store:     newMemStore(),
		listing:   newListingFake(pageSizes...),
		fetcher:   newFetcherFake(),
		files:     newFileStoreFake(),
		extractor: &extractorFake{text: noticeText, pages: 3},
		llm:       &llmFake{response: "Here is the analysis:\n" + validAnalysisJSON},
	}
	f.scraper = NewScraper(f.listing, f.store, nil, ScraperConfig{PageSize: 10})
	f.downloader = NewDownloader(f.store, f.fetcher, f.files, nil, nil, DownloaderConfig{Concurrency: 3})
	f.parser = NewParser(f.store, f.files, f.extractor, nil, ParserConfig{})
	f.classifier = NewClassifier(f.store, f.store, f.llm, nil, nil, ClassifierConfig{})
	f.orch = NewOrchestrator(
		Stages{Scraper: f.scraper, Downloader: f.downloader, Parser: f.parser, Classifier: f.classifier},
		NewProgressTracker(f.store),
		f.store,
		nil,
		OrchestratorConfig{BatchSize: 4},
	)
	return f
}

func pendingRecord(id string) domain.PublicationRecord {
	return domain.PublicationRecord{
		PublicationID: id,
		Title:         "Final Notice " + id,
		DocumentType:  domain.DocFinalNotice,
		URL:           "https://www.fca.org.uk/publication/final-notices/" + id + ".pdf",
		PDFURL:        "https://www.fca.org.uk/publication/final-notices/" + id + ".pdf",
		Status:        domain.StatusPending,
	}
}
