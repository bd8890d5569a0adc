package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// StageRepositoryPG implements domain.StageRepository.
type StageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewStageRepository creates a new stage repository backed by PostgreSQL.
func NewStageRepository(pool *pgxpool.Pool) *StageRepositoryPG {
	return &StageRepositoryPG{pool: pool}
}

// Create inserts a stage record with status running, before the external
// call for that stage is made.
func (r *StageRepositoryPG) Create(ctx context.Context, stage *domain.JobStage) error {
	query := `
INSERT INTO article_job_stages (id, job_id, stage_number, stage_name, status, input_json, prompt_excerpt)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		stage.ID,
		stage.JobID,
		stage.StageNumber,
		stage.StageName,
		stage.Status,
		nullableBytes(stage.InputJSON),
		stage.PromptExcerpt,
	)
	return err
}

// Finalize writes the terminal fields of a stage exactly once. A second
// finalize of the same stage reports domain.ErrJobTerminal.
func (r *StageRepositoryPG) Finalize(ctx context.Context, stageID string, fin domain.StageFinalize) error {
	query := `
UPDATE article_job_stages
SET status = $2,
    output_json = COALESCE($3, output_json),
    error_message = $4,
    tokens_used = $5,
    completed_at = NOW()
WHERE id = $1 AND status = 'running';
`
	tag, err := r.pool.Exec(ctx, query,
		stageID,
		fin.Status,
		nullableBytes(fin.OutputJSON),
		fin.ErrorMessage,
		fin.TokensUsed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

// ListByJobID returns a job's stages ordered by stage number.
func (r *StageRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.JobStage, error) {
	query := `
SELECT id, job_id, stage_number, stage_name, status, input_json, output_json, prompt_excerpt, tokens_used, error_message, started_at, completed_at
FROM article_job_stages
WHERE job_id = $1
ORDER BY stage_number ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []domain.JobStage
	for rows.Next() {
		var s domain.JobStage
		if err := rows.Scan(
			&s.ID,
			&s.JobID,
			&s.StageNumber,
			&s.StageName,
			&s.Status,
			&s.InputJSON,
			&s.OutputJSON,
			&s.PromptExcerpt,
			&s.TokensUsed,
			&s.ErrorMessage,
			&s.StartedAt,
			&s.CompletedAt,
		); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

var _ domain.StageRepository = (*StageRepositoryPG)(nil)
