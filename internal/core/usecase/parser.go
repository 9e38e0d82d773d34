package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/extract"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
)

type ParserConfig struct {
	MaxRetries int
}

type ParseResult struct {
	Text      string
	PageCount int
}

type ParserCounters struct {
	Parsed    int64 `json:"parsed"`
	PagesRead int64 `json:"pages_read"`
	CharsRead int64 `json:"chars_read"`
}

// Parser turns stored PDFs into full text plus a first-pass field extraction.
type Parser struct {
	store     ports.PublicationStore
	files     ports.FileStore
	extractor ports.PDFTextExtractor
	metrics   ports.StageMetrics
	failure   failurePolicy

	parsed    atomic.Int64
	pagesRead atomic.Int64
	charsRead atomic.Int64
}

func NewParser(
	store ports.PublicationStore,
	files ports.FileStore,
	extractor ports.PDFTextExtractor,
	metrics ports.StageMetrics,
	cfg ParserConfig,
) *Parser {
	return &Parser{
		store:     store,
		files:     files,
		extractor: extractor,
		metrics:   metricsOrNop(metrics),
		failure: failurePolicy{
			store:      store,
			entry:      domain.StatusDownloaded,
			failed:     domain.StatusParseFailed,
			maxRetries: cfg.MaxRetries,
		},
	}
}

func (p *Parser) Counters() ParserCounters {
	return ParserCounters{
		Parsed:    p.parsed.Load(),
		PagesRead: p.pagesRead.Load(),
		CharsRead: p.charsRead.Load(),
	}
}

// ParsePDF extracts text from the PDF at path. Extraction errors are
// reported as domain.ErrParseFailed.
func (p *Parser) ParsePDF(ctx context.Context, path string) (ParseResult, error) {
	text, pages, err := p.extractor.Extract(ctx, path)
	if err != nil {
		if domain.IsKind(err, domain.ErrParseFailed) {
			return ParseResult{}, err
		}
		return ParseResult{}, domain.WrapError(domain.ErrParseFailed, "parse pdf", err)
	}
	return ParseResult{Text: text, PageCount: pages}, nil
}

// ProcessPublication parses one downloaded record. A missing local file is
// a skip, not a failure.
func (p *Parser) ProcessPublication(ctx context.Context, rec domain.PublicationRecord) (Outcome, error) {
	if rec.PDFLocalPath == nil || *rec.PDFLocalPath == "" {
		return OutcomeSkipped, nil
	}
	_, exists, err := p.files.Stat(ctx, *rec.PDFLocalPath)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("stat %s: %w", *rec.PDFLocalPath, err)
	}
	if !exists {
		slog.Warn("pdf_file_missing", "publication_id", rec.PublicationID, "path", *rec.PDFLocalPath)
		return OutcomeSkipped, nil
	}

	if err := p.store.UpdateStatus(ctx, rec.PublicationID, domain.StatusParsing, domain.StatusFields{}); err != nil {
		return OutcomeFailed, fmt.Errorf("set status=parsing: %w", err)
	}

	parsed, err := p.ParsePDF(ctx, p.files.Path(*rec.PDFLocalPath))
	if err != nil {
		if _, failErr := p.failure.record(context.WithoutCancel(ctx), rec.PublicationID, err); failErr != nil {
			return OutcomeFailed, fmt.Errorf("%w; record failure: %v", err, failErr)
		}
		return OutcomeFailed, err
	}

	if err := p.store.StoreFullText(ctx, rec.PublicationID, parsed.Text); err != nil {
		return OutcomeFailed, fmt.Errorf("store full text: %w", err)
	}

	fields := extract.ExtractBasicFields(parsed.Text)
	docType := rec.DocumentType
	if docType == "" || docType == domain.DocOther {
		docType = extract.DetectDocumentType(parsed.Text)
	}
	textLength := len([]rune(parsed.Text))
	pageCount := parsed.PageCount

	update := domain.StatusFields{
		RawTextLength:   &textLength,
		PageCount:       &pageCount,
		DocumentType:    &docType,
		ExtractedFields: &fields,
		ClearError:      true,
	}
	if err := p.store.UpdateStatus(ctx, rec.PublicationID, domain.StatusParsed, update); err != nil {
		return OutcomeFailed, fmt.Errorf("set status=parsed: %w", err)
	}

	p.parsed.Add(1)
	p.pagesRead.Add(int64(pageCount))
	p.charsRead.Add(int64(textLength))
	return OutcomeSuccess, nil
}

// ParseBatch parses records one at a time.
func (p *Parser) ParseBatch(ctx context.Context, records []domain.PublicationRecord, events chan<- domain.Event) BatchResult {
	var result BatchResult
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		started := time.Now()
		outcome, err := p.ProcessPublication(ctx, rec)
		p.metrics.ObserveItem(domain.StageParse, string(outcome), time.Since(started))
		if err != nil {
			slog.Warn("pdf_parse_failed", "publication_id", rec.PublicationID, "error", err)
			emitFailure(ctx, events, domain.StageParse, rec.PublicationID, err)
		}
		result.record(rec.PublicationID, outcome)
	}
	return result
}

func (p *Parser) ParseAllPending(ctx context.Context, opts PendingOptions) (BatchResult, error) {
	loop := pendingLoop{
		stage:    domain.StageParse,
		status:   domain.StatusDownloaded,
		store:    p.store,
		eligible: p.failure.eligible,
		process:  p.ParseBatch,
	}
	return loop.run(ctx, opts)
}
