package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one article generation run. Stage outputs are aggregated onto the
// row as they complete so a finished job carries a full audit trail.
type Job struct {
	ID            string
	Keyword       string
	CategoryID    string
	AuthorID      string
	BrandID       string
	UserID        string
	Status        JobStatus
	Progress      int
	CurrentStage  string
	StatusMessage string
	ErrorMessage  string
	StageOutputs  []byte
	TokensUsed    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobUpdate carries the partial fields of an atomic job update. Nil fields
// are left untouched.
type JobUpdate struct {
	Status        *JobStatus
	Progress      *int
	CurrentStage  *string
	StatusMessage *string
	ErrorMessage  *string
	StageOutputs  []byte
	TokensUsed    *int
}

// StageStatus enumerates stage lifecycle states.
type StageStatus string

const (
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// JobStage is the durable record of one pipeline stage attempt. It is created
// before the external call and finalized exactly once.
type JobStage struct {
	ID            string
	JobID         string
	StageNumber   int
	StageName     string
	Status        StageStatus
	InputJSON     []byte
	OutputJSON    []byte
	PromptExcerpt string
	TokensUsed    int
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// StageFinalize carries the terminal fields written by FinalizeStage.
type StageFinalize struct {
	Status       StageStatus
	OutputJSON   []byte
	ErrorMessage string
	TokensUsed   int
}

// StepRecord is one entry of the per-job append-only memoization log.
type StepRecord struct {
	JobID      string
	StepName   string
	ResultJSON []byte
	CreatedAt  time.Time
}
