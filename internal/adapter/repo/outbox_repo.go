package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// OutboxRepositoryPG implements domain.OutboxRepository.
type OutboxRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepositoryPG {
	return &OutboxRepositoryPG{pool: pool}
}

// ListPending returns undispatched outbox messages, oldest first.
func (r *OutboxRepositoryPG) ListPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	query := `
SELECT id, job_id, topic, payload_json, status, created_at, dispatched_at
FROM outbox_messages
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.JobID, &m.Topic, &m.PayloadJSON, &m.Status, &m.CreatedAt, &m.DispatchedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkDispatched flags a message as delivered to the downstream queue.
func (r *OutboxRepositoryPG) MarkDispatched(ctx context.Context, id string) error {
	query := `
UPDATE outbox_messages
SET status = 'dispatched', dispatched_at = NOW()
WHERE id = $1 AND status = 'pending';
`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

var _ domain.OutboxRepository = (*OutboxRepositoryPG)(nil)
