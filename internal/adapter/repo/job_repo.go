package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO article_jobs (id, keyword, category_id, author_id, brand_id, user_id, status, progress, current_stage, status_message, error_message, stage_outputs, tokens_used)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Keyword,
		job.CategoryID,
		job.AuthorID,
		job.BrandID,
		job.UserID,
		job.Status,
		job.Progress,
		job.CurrentStage,
		job.StatusMessage,
		job.ErrorMessage,
		nullableBytes(job.StageOutputs),
		job.TokensUsed,
	)
	return err
}

// runningLease bounds how long a running job may go without a durable write
// before another worker may reclaim it. The orchestrator touches the row at
// every stage boundary and checkpoint, so a row this stale belongs to a
// crashed worker; the reclaimed run replays through the step log.
const runningLease = 10 * time.Minute

// ClaimNextPending atomically claims the oldest runnable job and marks it
// running, so multiple workers never pick the same job. Runnable means
// pending, or running but abandoned past the lease.
func (r *JobRepositoryPG) ClaimNextPending(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM article_jobs
    WHERE status = 'pending'
       OR (status = 'running' AND updated_at < NOW() - make_interval(secs => $1))
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
updated AS (
    UPDATE article_jobs
    SET status = 'running', updated_at = NOW()
    WHERE id IN (SELECT id FROM next_job)
    RETURNING id, keyword, category_id, author_id, brand_id, user_id, status, progress, current_stage, status_message, error_message, stage_outputs, tokens_used, created_at, updated_at
)
SELECT * FROM updated;
`
	row := r.pool.QueryRow(ctx, query, runningLease.Seconds())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Update applies a partial job update atomically. Terminal rows are never
// overwritten: once completed or failed, further updates report
// domain.ErrJobTerminal.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	query := `
UPDATE article_jobs
SET status = COALESCE($2, status),
    progress = COALESCE($3, progress),
    current_stage = COALESCE($4, current_stage),
    status_message = COALESCE($5, status_message),
    error_message = COALESCE($6, error_message),
    stage_outputs = COALESCE($7, stage_outputs),
    tokens_used = COALESCE($8, tokens_used),
    updated_at = NOW()
WHERE id = $1
  AND (status NOT IN ('completed', 'failed') OR $2 IS NULL);
`
	tag, err := r.pool.Exec(ctx, query,
		jobID,
		statusArg(update.Status),
		update.Progress,
		update.CurrentStage,
		update.StatusMessage,
		update.ErrorMessage,
		nullableBytes(update.StageOutputs),
		update.TokensUsed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, jobID); err != nil {
			return err
		}
		return domain.ErrJobTerminal
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, keyword, category_id, author_id, brand_id, user_id, status, progress, current_stage, status_message, error_message, stage_outputs, tokens_used, created_at, updated_at
FROM article_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Keyword,
		&job.CategoryID,
		&job.AuthorID,
		&job.BrandID,
		&job.UserID,
		&job.Status,
		&job.Progress,
		&job.CurrentStage,
		&job.StatusMessage,
		&job.ErrorMessage,
		&job.StageOutputs,
		&job.TokensUsed,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func statusArg(s *domain.JobStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
