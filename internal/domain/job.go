package domain

import "time"

// JobState is the lifecycle state reported by the queue backend. The kernel
// never mutates a job after admission; state changes belong to the backend
// and its workers.
type JobState string

const (
	JobPending   JobState = "pending"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobDraft is what a caller submits: everything except the derived id and
// the admission timestamp.
type JobDraft struct {
	Action      string         `json:"action" validate:"required,min=1,max=128"`
	EntityID    string         `json:"entity_id" validate:"required,min=1,max=256"`
	Version     int            `json:"version" validate:"gte=0"`
	SubmittedBy string         `json:"submitted_by" validate:"required"`
	Payload     map[string]any `json:"payload"`
}

// Job is the admitted unit of work. JobID is the deterministic idempotency
// key derived from (action, entity, version) — never random.
type Job struct {
	JobID       string         `json:"job_id"`
	Action      string         `json:"action"`
	EntityID    string         `json:"entity_id"`
	Version     int            `json:"version"`
	SubmittedBy string         `json:"submitted_by"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Payload     map[string]any `json:"payload"`

	State     JobState  `json:"state"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}
