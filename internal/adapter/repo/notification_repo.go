package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// NotificationRepositoryPG implements domain.NotificationRepository.
type NotificationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepositoryPG {
	return &NotificationRepositoryPG{pool: pool}
}

// Create inserts the terminal notification for a job. The unique index on
// job_id makes re-delivery a no-op, keeping exactly one notification per
// terminal outcome.
func (r *NotificationRepositoryPG) Create(ctx context.Context, n *domain.Notification) error {
	query := `
INSERT INTO notifications (id, user_id, job_id, kind, title, body, article_id)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
ON CONFLICT (job_id) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.JobID,
		n.Kind,
		n.Title,
		n.Body,
		n.ArticleID,
	)
	return err
}

var _ domain.NotificationRepository = (*NotificationRepositoryPG)(nil)
