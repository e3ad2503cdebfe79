// Package admission turns validated job drafts into durably queued jobs,
// exactly once per logical (action, entity, version).
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

// ErrValidation wraps draft schema failures so the boundary can map them to
// 400 instead of 500.
var ErrValidation = errors.New("job draft failed validation")

// Receipt is what a successful (or deduplicated) submission returns.
type Receipt struct {
	JobID            string
	Queue            string
	Priority         int
	Deduplicated     bool
	EstimatedLatency time.Duration
}

// Service computes the idempotency key, routes, and admits through the
// backend. Stateless apart from injected collaborators; safe for concurrent
// use.
type Service struct {
	backend  Backend
	queues   map[string]infra.QueueConfig
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(backend Backend, queues []infra.QueueConfig, logger *zap.Logger) *Service {
	byName := make(map[string]infra.QueueConfig, len(queues))
	for _, q := range queues {
		byName[q.Name] = q
	}
	return &Service{
		backend:  backend,
		queues:   byName,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("admission"),
		now:      time.Now,
	}
}

// Submit validates first — a malformed draft never reaches the backend and
// never gets a key. Then key, route, priority, and a single atomic Add; a
// duplicate id resolves to the already-admitted job with no new enqueue.
func (s *Service) Submit(ctx context.Context, draft domain.JobDraft) (Receipt, error) {
	if err := s.validate.Struct(draft); err != nil {
		return Receipt{}, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	jobID := IdempotencyKey(draft.Action, draft.EntityID, draft.Version)
	queueName := RouteFor(draft.Action)
	queueCfg := s.queues[queueName]
	priority := PriorityFor(queueCfg, draft.Action)

	job := domain.Job{
		JobID:       jobID,
		Action:      draft.Action,
		EntityID:    draft.EntityID,
		Version:     draft.Version,
		SubmittedBy: draft.SubmittedBy,
		SubmittedAt: s.now().UTC(),
		Payload:     draft.Payload,
		State:       domain.JobPending,
	}

	err := s.backend.Add(ctx, AddRequest{
		Queue: queueName,
		Job:   job,
		Options: EnqueueOptions{
			Priority: priority,
			Retry:    queueCfg.Retry,
		},
	})
	switch {
	case errors.Is(err, ErrDuplicateJob):
		s.logger.Info("deduplicated resubmission",
			zap.String("job_id", jobID),
			zap.String("action", draft.Action),
		)
		return Receipt{
			JobID:            jobID,
			Queue:            queueName,
			Priority:         priority,
			Deduplicated:     true,
			EstimatedLatency: queueCfg.EstimatedLatency,
		}, nil
	case err != nil:
		return Receipt{}, fmt.Errorf("enqueue to %q: %w", queueName, err)
	}

	s.logger.Info("job admitted",
		zap.String("job_id", jobID),
		zap.String("queue", queueName),
		zap.String("action", draft.Action),
		zap.Int("priority", priority),
	)
	return Receipt{
		JobID:            jobID,
		Queue:            queueName,
		Priority:         priority,
		EstimatedLatency: queueCfg.EstimatedLatency,
	}, nil
}

// Lookup searches every known queue for the job id.
func (s *Service) Lookup(ctx context.Context, jobID string) (*domain.Job, string, error) {
	return s.backend.Get(ctx, jobID)
}

// Counts exposes per-queue depth and paused state.
func (s *Service) Counts(ctx context.Context) (map[string]QueueCounts, error) {
	return s.backend.Counts(ctx)
}

// Ping forwards the backend health probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// QueueNames lists the configured queues (for /health and /queues).
func (s *Service) QueueNames() []string {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	return names
}
