package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// StepRepositoryPG implements domain.StepRepository on an append-only table.
type StepRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewStepRepository creates a new memoization log repository.
func NewStepRepository(pool *pgxpool.Pool) *StepRepositoryPG {
	return &StepRepositoryPG{pool: pool}
}

// Get returns the recorded result for (jobID, stepName), or ErrNotFound.
func (r *StepRepositoryPG) Get(ctx context.Context, jobID, stepName string) (*domain.StepRecord, error) {
	query := `
SELECT job_id, step_name, result_json, created_at
FROM pipeline_steps
WHERE job_id = $1 AND step_name = $2;
`
	row := r.pool.QueryRow(ctx, query, jobID, stepName)
	var rec domain.StepRecord
	if err := row.Scan(&rec.JobID, &rec.StepName, &rec.ResultJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Record appends the step result. When a concurrent process recorded the
// same step first the stored row wins, so replay always observes a single
// result for the key.
func (r *StepRepositoryPG) Record(ctx context.Context, rec *domain.StepRecord) (*domain.StepRecord, error) {
	query := `
INSERT INTO pipeline_steps (job_id, step_name, result_json)
VALUES ($1, $2, $3)
ON CONFLICT (job_id, step_name) DO NOTHING;
`
	tag, err := r.pool.Exec(ctx, query, rec.JobID, rec.StepName, nullableBytes(rec.ResultJSON))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return r.Get(ctx, rec.JobID, rec.StepName)
	}
	return rec, nil
}

var _ domain.StepRepository = (*StepRepositoryPG)(nil)
