package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// schemaLockID serializes DDL between concurrently starting binaries.
const schemaLockID int64 = 2026101601

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS publications (
	publication_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	document_type TEXT NOT NULL DEFAULT 'other',
	publication_date DATE,
	url TEXT NOT NULL,
	pdf_url TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	pdf_local_path TEXT,
	pdf_size BIGINT,
	raw_text_length INTEGER,
	page_count INTEGER,
	extracted_fields JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_publications_status_updated ON publications(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_publications_date ON publications(publication_date DESC);

CREATE TABLE IF NOT EXISTS publication_texts (
	publication_id TEXT PRIMARY KEY REFERENCES publications(publication_id) ON DELETE CASCADE,
	full_text TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS enforcement_notices (
	publication_id TEXT PRIMARY KEY REFERENCES publications(publication_id) ON DELETE CASCADE,
	entity_name TEXT NOT NULL,
	entity_type TEXT,
	frn TEXT,
	outcome_type TEXT,
	fine_amount DOUBLE PRECISION,
	original_fine_amount DOUBLE PRECISION,
	discount_applied BOOLEAN NOT NULL DEFAULT FALSE,
	discount_percentage DOUBLE PRECISION,
	primary_breach_type TEXT,
	breach_categories JSONB NOT NULL DEFAULT '[]'::jsonb,
	handbook_references JSONB NOT NULL DEFAULT '[]'::jsonb,
	consumer_impact_level TEXT,
	consumers_affected BIGINT,
	consumer_redress DOUBLE PRECISION,
	systemic_risk BOOLEAN NOT NULL DEFAULT FALSE,
	aggravating_factors JSONB NOT NULL DEFAULT '[]'::jsonb,
	mitigating_factors JSONB NOT NULL DEFAULT '[]'::jsonb,
	summary TEXT,
	risk_score INTEGER NOT NULL DEFAULT 0,
	ai_payload JSONB,
	ai_model_used TEXT NOT NULL,
	ai_processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enforcement_notices_processed ON enforcement_notices(ai_processed_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_jobs (
	job_id TEXT PRIMARY KEY,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	total_items INTEGER NOT NULL DEFAULT 0,
	processed_items INTEGER NOT NULL DEFAULT 0,
	failed_items INTEGER NOT NULL DEFAULT 0,
	last_page_scraped INTEGER NOT NULL DEFAULT 0,
	last_start_param INTEGER NOT NULL DEFAULT 0,
	items_per_minute DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_log JSONB NOT NULL DEFAULT '[]'::jsonb,
	metadata JSONB,
	started_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_type_status ON pipeline_jobs(job_type, status, started_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func checkAffected(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w: id=%s", what, domain.ErrNotFound, id)
	}
	return nil
}
