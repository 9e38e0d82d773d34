package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

const publicationColumns = `publication_id, title, document_type, publication_date, url, pdf_url, description,
	status, retry_count, last_error, pdf_local_path, pdf_size, raw_text_length, page_count, extracted_fields,
	created_at, updated_at`

type PublicationRepository struct {
	db         *sql.DB
	maxRetries int
}

type PublicationOption func(*PublicationRepository)

// WithRetryCeiling sets the retry count at which records drop out of the
// pending queries.
func WithRetryCeiling(n int) PublicationOption {
	return func(r *PublicationRepository) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func NewPublicationRepository(db *sql.DB, opts ...PublicationOption) *PublicationRepository {
	r := &PublicationRepository{db: db, maxRetries: domain.MaxRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpsertPublication inserts a new record or merges listing metadata into an
// existing one. Pipeline state is never touched on conflict. The returned flag
// is true only for a fresh insert.
func (r *PublicationRepository) UpsertPublication(ctx context.Context, rec *domain.PublicationRecord) (bool, error) {
	status := rec.Status
	if status == "" {
		status = domain.StatusPending
	}
	docType := rec.DocumentType
	if docType == "" {
		docType = domain.DocOther
	}

	var inserted bool
	err := r.db.QueryRowContext(ctx, `
INSERT INTO publications (
	publication_id, title, document_type, publication_date, url, pdf_url, description, status, retry_count, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,NOW(),NOW())
ON CONFLICT (publication_id) DO UPDATE SET
	description = COALESCE(NULLIF(EXCLUDED.description, ''), publications.description),
	pdf_url = COALESCE(NULLIF(EXCLUDED.pdf_url, ''), publications.pdf_url),
	publication_date = COALESCE(publications.publication_date, EXCLUDED.publication_date)
RETURNING (xmax = 0)
`,
		rec.PublicationID, rec.Title, string(docType), nullableTime(rec.PublicationDate), rec.URL, rec.PDFURL,
		rec.Description, string(status),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert publication: %w", err)
	}
	return inserted, nil
}

func (r *PublicationRepository) GetByID(ctx context.Context, id string) (*domain.PublicationRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+publicationColumns+`
FROM publications
WHERE publication_id = $1
`, id)

	rec, err := scanPublication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get publication", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("select publication: %w", err)
	}
	return &rec, nil
}

// GetPendingByStatus returns the records waiting longest in status. Records
// without a PDF URL or at the retry ceiling are never returned.
func (r *PublicationRepository) GetPendingByStatus(ctx context.Context, status domain.PublicationStatus, limit int) ([]domain.PublicationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+publicationColumns+`
FROM publications
WHERE status = $1 AND pdf_url <> '' AND retry_count < $2
ORDER BY updated_at ASC, publication_id ASC
LIMIT $3
`, string(status), r.maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending publications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PublicationRecord, 0, limit)
	for rows.Next() {
		rec, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return out, nil
}

func (r *PublicationRepository) UpdateStatus(ctx context.Context, id string, status domain.PublicationStatus, fields domain.StatusFields) error {
	q := psql.Update("publications").Set("status", string(status))
	if fields.PDFLocalPath != nil {
		q = q.Set("pdf_local_path", *fields.PDFLocalPath)
	}
	if fields.PDFSize != nil {
		q = q.Set("pdf_size", *fields.PDFSize)
	}
	if fields.RawTextLength != nil {
		q = q.Set("raw_text_length", *fields.RawTextLength)
	}
	if fields.PageCount != nil {
		q = q.Set("page_count", *fields.PageCount)
	}
	if fields.DocumentType != nil {
		q = q.Set("document_type", string(*fields.DocumentType))
	}
	if fields.ExtractedFields != nil {
		raw, err := json.Marshal(fields.ExtractedFields)
		if err != nil {
			return fmt.Errorf("marshal extracted fields: %w", err)
		}
		q = q.Set("extracted_fields", raw)
	}
	switch {
	case fields.ClearError:
		q = q.Set("last_error", nil)
	case fields.LastError != nil:
		q = q.Set("last_error", *fields.LastError)
	}
	q = q.Set("updated_at", sq.Expr("NOW()")).Where(sq.Eq{"publication_id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update publication status: %w", err)
	}
	return checkAffected(result, "update publication status", id)
}

func (r *PublicationRepository) IncrementRetry(ctx context.Context, id, errMessage string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
UPDATE publications
SET retry_count = retry_count + 1, last_error = $2, updated_at = NOW()
WHERE publication_id = $1
RETURNING retry_count
`, id, errMessage).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.WrapError(domain.ErrNotFound, "increment retry", fmt.Errorf("id=%s", id))
		}
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return count, nil
}

// ResetFailed moves every record in a terminal failed status back to its
// stage entry status with a fresh retry budget.
func (r *PublicationRepository) ResetFailed(ctx context.Context, failed, to domain.PublicationStatus) (int, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE publications
SET status = $2, retry_count = 0, last_error = NULL, updated_at = NOW()
WHERE status = $1
`, string(failed), string(to))
	if err != nil {
		return 0, fmt.Errorf("reset failed publications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed rows affected: %w", err)
	}
	return int(n), nil
}

func (r *PublicationRepository) MoveStatus(ctx context.Context, from, to domain.PublicationStatus) (int, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE publications
SET status = $2, updated_at = NOW()
WHERE status = $1
`, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("move publication status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("move status rows affected: %w", err)
	}
	return int(n), nil
}

func (r *PublicationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM publications WHERE publication_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check publication exists: %w", err)
	}
	return exists, nil
}

func (r *PublicationRepository) StoreFullText(ctx context.Context, id, text string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO publication_texts (publication_id, full_text, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (publication_id) DO UPDATE SET full_text = EXCLUDED.full_text, updated_at = NOW()
`, id, text)
	if err != nil {
		return fmt.Errorf("store full text: %w", err)
	}
	return nil
}

func (r *PublicationRepository) GetFullText(ctx context.Context, id string) (string, error) {
	var text string
	err := r.db.QueryRowContext(ctx, `SELECT full_text FROM publication_texts WHERE publication_id = $1`, id).Scan(&text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrNotFound, "get full text", fmt.Errorf("id=%s", id))
		}
		return "", fmt.Errorf("select full text: %w", err)
	}
	return text, nil
}

func (r *PublicationRepository) GetPipelineStats(ctx context.Context) (domain.PipelineStats, error) {
	var stats domain.PipelineStats
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE pdf_url <> ''),
	COUNT(*) FILTER (WHERE status IN ('downloaded', 'parsing', 'parsed', 'processing', 'processed', 'parse_failed', 'ai_failed')),
	COUNT(*) FILTER (WHERE status IN ('parsed', 'processing', 'processed', 'ai_failed')),
	COUNT(*) FILTER (WHERE status = 'processed'),
	COUNT(*) FILTER (WHERE status IN ('download_failed', 'parse_failed', 'ai_failed')),
	MAX(publication_date)
FROM publications
`).Scan(
		&stats.TotalPublications, &stats.WithPDFURL, &stats.Downloaded, &stats.Parsed,
		&stats.Processed, &stats.Failed, &stats.LatestPublication,
	)
	if err != nil {
		return domain.PipelineStats{}, fmt.Errorf("select publication stats: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(fine_amount), 0)
FROM enforcement_notices
`).Scan(&stats.Notices, &stats.TotalFines)
	if err != nil {
		return domain.PipelineStats{}, fmt.Errorf("select notice stats: %w", err)
	}
	return stats, nil
}

func (r *PublicationRepository) GetStatusCounts(ctx context.Context) (domain.StatusCounts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM publications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("select status counts: %w", err)
	}
	defer rows.Close()

	counts := domain.StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.PublicationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func scanPublication(row rowScanner) (domain.PublicationRecord, error) {
	var rec domain.PublicationRecord
	var docType, status string
	var published sql.NullTime
	var fieldsRaw []byte

	err := row.Scan(
		&rec.PublicationID, &rec.Title, &docType, &published, &rec.URL, &rec.PDFURL, &rec.Description,
		&status, &rec.RetryCount, &rec.LastError, &rec.PDFLocalPath, &rec.PDFSize, &rec.RawTextLength,
		&rec.PageCount, &fieldsRaw, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.PublicationRecord{}, err
	}
	rec.DocumentType = domain.ParseDocumentType(docType)
	rec.Status = domain.PublicationStatus(status)
	if published.Valid {
		t := published.Time.UTC()
		rec.PublicationDate = &t
	}
	if len(fieldsRaw) > 0 {
		var fields domain.BasicFields
		if err := json.Unmarshal(fieldsRaw, &fields); err != nil {
			return domain.PublicationRecord{}, fmt.Errorf("unmarshal extracted fields: %w", err)
		}
		rec.ExtractedFields = &fields
	}
	return rec, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}
