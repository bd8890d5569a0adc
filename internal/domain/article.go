package domain

import "time"

// Article is the final persisted artifact of a successful pipeline run.
type Article struct {
	ID              string
	JobID           string
	CategoryID      string
	AuthorID        string
	BrandID         string
	Slug            string
	Title           string
	MetaTitle       string
	MetaDescription string
	BlocksJSON      []byte
	Summary         string
	QualityScore    float64
	CreatedAt       time.Time
}

// NotificationKind enumerates the terminal outcomes surfaced to the owner.
type NotificationKind string

const (
	NotificationCompleted NotificationKind = "job_completed"
	NotificationFailed    NotificationKind = "job_failed"
	NotificationRevision  NotificationKind = "job_revision_requested"
)

// Notification is the single terminal message emitted per job, with enough
// metadata to deep-link from the UI without consulting logs.
type Notification struct {
	ID        string
	UserID    string
	JobID     string
	Kind      NotificationKind
	Title     string
	Body      string
	ArticleID string
	CreatedAt time.Time
}

// Outbox message states.
const (
	OutboxPending    = "pending"
	OutboxDispatched = "dispatched"
)

// OutboxMessage is a durable fan-out record written in the same transaction
// as the terminal job state and drained by a separate consumer.
type OutboxMessage struct {
	ID           string
	JobID        string
	Topic        string
	PayloadJSON  []byte
	Status       string
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// ImageJobsPayload is the minimal fan-out payload for the media pipeline.
// Never carries prompt text beyond the image concepts, and never secrets.
type ImageJobsPayload struct {
	ArticleID string     `json:"article_id"`
	JobID     string     `json:"job_id"`
	ImageJobs []ImageJob `json:"image_jobs"`
}
