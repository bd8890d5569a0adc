package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// ArticleRepositoryPG implements domain.ArticleRepository.
type ArticleRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewArticleRepository creates a new article repository backed by PostgreSQL.
func NewArticleRepository(pool *pgxpool.Pool) *ArticleRepositoryPG {
	return &ArticleRepositoryPG{pool: pool}
}

// SaveWithCounters writes the article, bumps the denormalized counters and
// appends the outbox rows in one transaction, so a crash can never leave an
// article without its fan-out message or counter increments. The whole write
// is keyed on the article insert: when the job's article already exists, the
// counters were already bumped and the outbox rows already appended by the
// attempt that inserted it, so re-delivery is a no-op.
func (r *ArticleRepositoryPG) SaveWithCounters(ctx context.Context, article *domain.Article, knowledgeIDs []string, outbox []domain.OutboxMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insertArticle := `
INSERT INTO articles (id, job_id, category_id, author_id, brand_id, slug, title, meta_title, meta_description, blocks_json, summary, quality_score)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (job_id) DO NOTHING;
`
	tag, err := tx.Exec(ctx, insertArticle,
		article.ID,
		article.JobID,
		article.CategoryID,
		article.AuthorID,
		article.BrandID,
		article.Slug,
		article.Title,
		article.MetaTitle,
		article.MetaDescription,
		nullableBytes(article.BlocksJSON),
		article.Summary,
		article.QualityScore,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	bumpCategory := `
UPDATE categories SET article_count = article_count + 1, updated_at = NOW() WHERE id = $1;
`
	if _, err := tx.Exec(ctx, bumpCategory, article.CategoryID); err != nil {
		return err
	}

	bumpKnowledge := `
UPDATE knowledge_items SET times_used = times_used + 1, updated_at = NOW() WHERE id = ANY($1);
`
	if len(knowledgeIDs) > 0 {
		if _, err := tx.Exec(ctx, bumpKnowledge, knowledgeIDs); err != nil {
			return err
		}
	}

	insertOutbox := `
INSERT INTO outbox_messages (id, job_id, topic, payload_json, status)
VALUES ($1, $2, $3, $4, $5);
`
	for _, msg := range outbox {
		if _, err := tx.Exec(ctx, insertOutbox,
			msg.ID,
			msg.JobID,
			msg.Topic,
			nullableBytes(msg.PayloadJSON),
			msg.Status,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByJobID fetches the article produced by a job, if any.
func (r *ArticleRepositoryPG) GetByJobID(ctx context.Context, jobID string) (*domain.Article, error) {
	query := `
SELECT id, job_id, category_id, author_id, brand_id, slug, title, meta_title, meta_description, blocks_json, summary, quality_score, created_at
FROM articles
WHERE job_id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var a domain.Article
	if err := row.Scan(
		&a.ID,
		&a.JobID,
		&a.CategoryID,
		&a.AuthorID,
		&a.BrandID,
		&a.Slug,
		&a.Title,
		&a.MetaTitle,
		&a.MetaDescription,
		&a.BlocksJSON,
		&a.Summary,
		&a.QualityScore,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

var _ domain.ArticleRepository = (*ArticleRepositoryPG)(nil)
