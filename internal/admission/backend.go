package admission

import (
	"context"
	"errors"

	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

var (
	// ErrDuplicateJob: a job already exists under the idempotency key. Not
	// a failure — the admission service resolves it to the existing job.
	ErrDuplicateJob = errors.New("job already admitted under this id")

	// ErrUnknownJob: no queue holds a job with that id.
	ErrUnknownJob = errors.New("job not found in any queue")
)

// EnqueueOptions carries the static per-queue scheduling hints alongside
// the job so workers see them without consulting kernel config.
type EnqueueOptions struct {
	Priority int               `json:"priority"`
	Retry    infra.RetryConfig `json:"retry"`
}

// AddRequest is one admission into one named queue under an explicit id.
type AddRequest struct {
	Queue   string
	Job     domain.Job
	Options EnqueueOptions
}

// QueueCounts is the per-queue view for GET /queues.
type QueueCounts struct {
	Pending int64 `json:"pending"`
	Paused  bool  `json:"paused"`
}

// Backend is the minimal durable multi-queue contract, so the kernel core
// carries zero dependency on any particular queue product. Add with an
// explicit id must itself be idempotent: a duplicate id is rejected with
// ErrDuplicateJob, never silently stored twice — that atomicity is the
// whole at-most-once admission guarantee.
type Backend interface {
	Add(ctx context.Context, req AddRequest) error
	Get(ctx context.Context, jobID string) (*domain.Job, string, error)
	Counts(ctx context.Context) (map[string]QueueCounts, error)
	Ping(ctx context.Context) error
}
