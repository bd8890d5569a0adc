package domain

import "context"

// JobRepository defines persistence for pipeline jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	ClaimNextPending(ctx context.Context) (*Job, error)
	Update(ctx context.Context, jobID string, update JobUpdate) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
}

// StageRepository defines persistence for per-stage records.
type StageRepository interface {
	Create(ctx context.Context, stage *JobStage) error
	Finalize(ctx context.Context, stageID string, fin StageFinalize) error
	ListByJobID(ctx context.Context, jobID string) ([]JobStage, error)
}

// StepRepository is the append-only memoization log consulted before any
// side-effecting step runs.
type StepRepository interface {
	// Get returns ErrNotFound when the step has not been recorded.
	Get(ctx context.Context, jobID, stepName string) (*StepRecord, error)
	// Record inserts the result; when another process recorded the same step
	// first, the stored record wins and is returned unchanged.
	Record(ctx context.Context, rec *StepRecord) (*StepRecord, error)
}

// ArticleRepository persists the final artifact. SaveWithCounters writes the
// article, increments the denormalized counters and appends the outbox rows
// in one transaction.
type ArticleRepository interface {
	SaveWithCounters(ctx context.Context, article *Article, knowledgeIDs []string, outbox []OutboxMessage) error
	GetByJobID(ctx context.Context, jobID string) (*Article, error)
}

// ContextRepository fetches the read-only pipeline context.
type ContextRepository interface {
	GetCategory(ctx context.Context, id string) (*Category, error)
	GetAuthor(ctx context.Context, id string) (*Author, error)
	GetBrand(ctx context.Context, id string) (*Brand, error)
	ListKnowledge(ctx context.Context, categoryID string, limit int) ([]KnowledgeItem, error)
	ListPublished(ctx context.Context, categoryID string, limit int) ([]PublishedRef, error)
}

// NotificationRepository persists terminal notifications. Create is
// idempotent per job: a second terminal notification for the same job is a
// no-op.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
}

// OutboxRepository drains durable fan-out messages.
type OutboxRepository interface {
	ListPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkDispatched(ctx context.Context, id string) error
}

// PromptTemplateRepository resolves per-stage system prompt overrides.
type PromptTemplateRepository interface {
	// GetByStage returns ErrNotFound when no override is configured.
	GetByStage(ctx context.Context, stageName string) (string, error)
}
