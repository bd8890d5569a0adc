package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// PromptTemplateRepositoryPG implements domain.PromptTemplateRepository.
// Rows are managed by operators; built-in defaults apply when absent.
type PromptTemplateRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPromptTemplateRepository creates a new prompt template repository.
func NewPromptTemplateRepository(pool *pgxpool.Pool) *PromptTemplateRepositoryPG {
	return &PromptTemplateRepositoryPG{pool: pool}
}

// GetByStage returns the configured system prompt for a stage, or
// domain.ErrNotFound when no override exists.
func (r *PromptTemplateRepositoryPG) GetByStage(ctx context.Context, stageName string) (string, error) {
	query := `
SELECT system_prompt FROM prompt_templates WHERE stage_name = $1;
`
	var prompt string
	if err := r.pool.QueryRow(ctx, query, stageName).Scan(&prompt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return prompt, nil
}

var _ domain.PromptTemplateRepository = (*PromptTemplateRepositoryPG)(nil)
