package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"server/internal/domain"
	"server/internal/infra"
)

// Emitter writes the terminal notification row for a job and mirrors it on a
// Redis channel for the UI. The notifications table enforces one row per
// job, so re-delivery after a crash stays a single user-visible event.
type Emitter struct {
	notifications domain.NotificationRepository
	rdb           *goredis.Client
	channel       string
	logger        infra.Logger
}

// NewEmitter builds a notification emitter.
func NewEmitter(notifications domain.NotificationRepository, rdb *goredis.Client, channel string, logger infra.Logger) *Emitter {
	return &Emitter{notifications: notifications, rdb: rdb, channel: channel, logger: logger}
}

type event struct {
	Kind      domain.NotificationKind `json:"kind"`
	UserID    string                  `json:"user_id"`
	JobID     string                  `json:"job_id"`
	ArticleID string                  `json:"article_id,omitempty"`
	Title     string                  `json:"title"`
	Body      string                  `json:"body"`
}

// JobCompleted emits the success notification with a deep link to the
// generated article.
func (e *Emitter) JobCompleted(ctx context.Context, job *domain.Job, article *domain.Article) error {
	return e.emit(ctx, &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    job.UserID,
		JobID:     job.ID,
		Kind:      domain.NotificationCompleted,
		Title:     fmt.Sprintf("Article ready: %s", article.Title),
		Body:      fmt.Sprintf("Your article for %q was generated (quality score %.0f).", job.Keyword, article.QualityScore),
		ArticleID: article.ID,
	})
}

// JobFailed emits the hard-failure notification.
func (e *Emitter) JobFailed(ctx context.Context, job *domain.Job, reason string) error {
	return e.emit(ctx, &domain.Notification{
		ID:     uuid.NewString(),
		UserID: job.UserID,
		JobID:  job.ID,
		Kind:   domain.NotificationFailed,
		Title:  fmt.Sprintf("Generation failed: %s", job.Keyword),
		Body:   reason,
	})
}

// JobRevisionRequested emits the quality-gate notification, carrying the
// score so the owner can decide whether to re-trigger.
func (e *Emitter) JobRevisionRequested(ctx context.Context, job *domain.Job, score float64, fixes []string) error {
	body := fmt.Sprintf("The review stage scored the article %.0f and requested changes.", score)
	for _, fix := range fixes {
		body += "\n- " + fix
	}
	return e.emit(ctx, &domain.Notification{
		ID:     uuid.NewString(),
		UserID: job.UserID,
		JobID:  job.ID,
		Kind:   domain.NotificationRevision,
		Title:  fmt.Sprintf("Revision requested: %s", job.Keyword),
		Body:   body,
	})
}

func (e *Emitter) emit(ctx context.Context, n *domain.Notification) error {
	if err := e.notifications.Create(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if e.rdb != nil {
		raw, err := json.Marshal(event{
			Kind:      n.Kind,
			UserID:    n.UserID,
			JobID:     n.JobID,
			ArticleID: n.ArticleID,
			Title:     n.Title,
			Body:      n.Body,
		})
		if err == nil {
			if err := e.rdb.Publish(ctx, e.channel, raw).Err(); err != nil {
				e.logger.Warn().Err(err).Str("job_id", n.JobID).Msg("notify: publish event failed")
			}
		}
	}
	return nil
}
