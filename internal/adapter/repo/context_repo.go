package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// ContextRepositoryPG implements domain.ContextRepository. All queries are
// read-only.
type ContextRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewContextRepository creates a new pipeline context repository.
func NewContextRepository(pool *pgxpool.Pool) *ContextRepositoryPG {
	return &ContextRepositoryPG{pool: pool}
}

func (r *ContextRepositoryPG) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	query := `
SELECT id, name, description, article_count FROM categories WHERE id = $1;
`
	var c domain.Category
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Description, &c.ArticleCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContextRepositoryPG) GetAuthor(ctx context.Context, id string) (*domain.Author, error) {
	query := `
SELECT id, name, bio, tone, title FROM authors WHERE id = $1;
`
	var a domain.Author
	err := r.pool.QueryRow(ctx, query, id).Scan(&a.ID, &a.Name, &a.Bio, &a.Tone, &a.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *ContextRepositoryPG) GetBrand(ctx context.Context, id string) (*domain.Brand, error) {
	query := `
SELECT id, name, voice, audience, banned_phrase FROM brands WHERE id = $1;
`
	var b domain.Brand
	err := r.pool.QueryRow(ctx, query, id).Scan(&b.ID, &b.Name, &b.Voice, &b.Audience, &b.BannedPhrase)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *ContextRepositoryPG) ListKnowledge(ctx context.Context, categoryID string, limit int) ([]domain.KnowledgeItem, error) {
	query := `
SELECT id, title, excerpt, times_used, category_id
FROM knowledge_items
WHERE category_id = $1
ORDER BY times_used ASC, created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, categoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.KnowledgeItem
	for rows.Next() {
		var k domain.KnowledgeItem
		if err := rows.Scan(&k.ID, &k.Title, &k.Excerpt, &k.TimesUsed, &k.CategoryID); err != nil {
			return nil, err
		}
		items = append(items, k)
	}
	return items, rows.Err()
}

func (r *ContextRepositoryPG) ListPublished(ctx context.Context, categoryID string, limit int) ([]domain.PublishedRef, error) {
	query := `
SELECT slug, title
FROM articles
WHERE category_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, categoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []domain.PublishedRef
	for rows.Next() {
		var p domain.PublishedRef
		if err := rows.Scan(&p.Slug, &p.Title); err != nil {
			return nil, err
		}
		refs = append(refs, p)
	}
	return refs, rows.Err()
}

var _ domain.ContextRepository = (*ContextRepositoryPG)(nil)
