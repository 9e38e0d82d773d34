package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

const jobColumns = `job_id, job_type, status, total_items, processed_items, failed_items, last_page_scraped,
	last_start_param, items_per_minute, error_log, metadata, started_at, updated_at, completed_at`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	errorLog := job.ErrorLog
	if errorLog == nil {
		errorLog = []domain.JobErrorEntry{}
	}
	logJSON, err := json.Marshal(errorLog)
	if err != nil {
		return fmt.Errorf("marshal error log: %w", err)
	}
	var metadata interface{}
	if len(job.Metadata) > 0 {
		metadata = []byte(job.Metadata)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO pipeline_jobs (
	job_id, job_type, status, total_items, processed_items, failed_items, last_page_scraped,
	last_start_param, items_per_minute, error_log, metadata, started_at, updated_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		job.JobID, string(job.JobType), string(job.Status), job.TotalItems, job.ProcessedItems, job.FailedItems,
		job.LastPageScraped, job.LastStartParam, job.ItemsPerMinute, logJSON, metadata,
		job.StartedAt, job.UpdatedAt, nullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM pipeline_jobs WHERE job_id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("select pipeline job: %w", err)
	}
	return &job, nil
}

// UpdateJob writes only the fields set on update. updated_at always moves.
func (r *JobRepository) UpdateJob(ctx context.Context, id string, update domain.JobUpdate) error {
	q := psql.Update("pipeline_jobs").Set("updated_at", sq.Expr("NOW()"))
	if update.Status != nil {
		q = q.Set("status", string(*update.Status))
	}
	if update.TotalItems != nil {
		q = q.Set("total_items", *update.TotalItems)
	}
	if update.ProcessedItems != nil {
		q = q.Set("processed_items", *update.ProcessedItems)
	}
	if update.FailedItems != nil {
		q = q.Set("failed_items", *update.FailedItems)
	}
	if update.LastPageScraped != nil {
		q = q.Set("last_page_scraped", *update.LastPageScraped)
	}
	if update.LastStartParam != nil {
		q = q.Set("last_start_param", *update.LastStartParam)
	}
	if update.ItemsPerMinute != nil {
		q = q.Set("items_per_minute", *update.ItemsPerMinute)
	}
	if update.Metadata != nil {
		q = q.Set("metadata", []byte(update.Metadata))
	}
	if update.CompletedAt != nil {
		q = q.Set("completed_at", *update.CompletedAt)
	}

	query, args, err := q.Where(sq.Eq{"job_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build job update: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update pipeline job: %w", err)
	}
	return checkAffected(result, "update pipeline job", id)
}

func (r *JobRepository) LatestJobByStatus(ctx context.Context, jobType domain.JobType, status domain.JobStatus) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM pipeline_jobs
WHERE job_type = $1 AND status = $2
ORDER BY started_at DESC
LIMIT 1
`, string(jobType), string(status))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "latest job", fmt.Errorf("type=%s status=%s", jobType, status))
		}
		return nil, fmt.Errorf("select latest job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) AppendJobError(ctx context.Context, id string, entry domain.JobErrorEntry) error {
	raw, err := json.Marshal([]domain.JobErrorEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal job error: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE pipeline_jobs
SET error_log = error_log || $2::jsonb, updated_at = NOW()
WHERE job_id = $1
`, id, raw)
	if err != nil {
		return fmt.Errorf("append job error: %w", err)
	}
	return checkAffected(result, "append job error", id)
}

func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM pipeline_jobs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline jobs: %w", err)
	}
	return out, nil
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var jobType, status string
	var logRaw, metadata []byte

	err := row.Scan(
		&job.JobID, &jobType, &status, &job.TotalItems, &job.ProcessedItems, &job.FailedItems,
		&job.LastPageScraped, &job.LastStartParam, &job.ItemsPerMinute, &logRaw, &metadata,
		&job.StartedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.JobType = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.ErrorLog = []domain.JobErrorEntry{}
	if len(logRaw) > 0 {
		if err := json.Unmarshal(logRaw, &job.ErrorLog); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal error log: %w", err)
		}
	}
	if len(metadata) > 0 {
		job.Metadata = json.RawMessage(metadata)
	}
	return job, nil
}
