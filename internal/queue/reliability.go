// Package queue wraps a backend with the reliability stack the kernel puts
// in front of every external collaborator: rate limiter, circuit breaker,
// bounded retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

// ReliabilityWrapper implements admission.Backend around another backend.
//
// Retrying Add is safe because admission is idempotent end to end: if the
// first attempt actually landed and only the ack was lost, the retry comes
// back ErrDuplicateJob — which resolves to the same job id, exactly the
// right answer. ErrDuplicateJob and ErrUnknownJob are domain answers, not
// failures, so they bypass retry and never trip the breaker.
type ReliabilityWrapper struct {
	next    admission.Backend
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliabilityWrapper(next admission.Backend, cfg infra.EngineConfig) *ReliabilityWrapper {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "queue-backend",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.BackendRateLimit), cfg.BackendBurst),
	}
}

func isDomainAnswer(err error) bool {
	return errors.Is(err, admission.ErrDuplicateJob) || errors.Is(err, admission.ErrUnknownJob)
}

// execute runs op behind the limiter, breaker and retry loop.
func (w *ReliabilityWrapper) execute(ctx context.Context, op func(context.Context) error) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("backend rate limit: %w", err)
	}

	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.RetryIf(func(err error) bool { return !isDomainAnswer(err) }),
		)
		err := r.Do(func() error {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return op(opCtx)
		})
		if isDomainAnswer(err) {
			// Keep the breaker closed; the backend answered fine.
			return nil, nil //nolint:nilerr // err re-surfaced below
		}
		return nil, err
	})
	if err != nil {
		return err
	}
	return nil
}

func (w *ReliabilityWrapper) Add(ctx context.Context, req admission.AddRequest) error {
	var dup bool
	err := w.execute(ctx, func(opCtx context.Context) error {
		addErr := w.next.Add(opCtx, req)
		if errors.Is(addErr, admission.ErrDuplicateJob) {
			dup = true
		}
		return addErr
	})
	if err != nil {
		return err
	}
	if dup {
		return admission.ErrDuplicateJob
	}
	return nil
}

func (w *ReliabilityWrapper) Get(ctx context.Context, jobID string) (*domain.Job, string, error) {
	var (
		job     *domain.Job
		queueNm string
		missing bool
	)
	err := w.execute(ctx, func(opCtx context.Context) error {
		var getErr error
		job, queueNm, getErr = w.next.Get(opCtx, jobID)
		if errors.Is(getErr, admission.ErrUnknownJob) {
			missing = true
		}
		return getErr
	})
	if err != nil {
		return nil, "", err
	}
	if missing {
		return nil, "", admission.ErrUnknownJob
	}
	return job, queueNm, nil
}

func (w *ReliabilityWrapper) Counts(ctx context.Context) (map[string]admission.QueueCounts, error) {
	var counts map[string]admission.QueueCounts
	err := w.execute(ctx, func(opCtx context.Context) error {
		var cErr error
		counts, cErr = w.next.Counts(opCtx)
		return cErr
	})
	return counts, err
}

// Ping goes straight through: the backend already bounds it with its own
// timeout, and a health probe must see the true state, not the breaker's.
func (w *ReliabilityWrapper) Ping(ctx context.Context) error {
	return w.next.Ping(ctx)
}
