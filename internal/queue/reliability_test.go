package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

type flakyBackend struct {
	failFirst int
	addCalls  int
	getCalls  int
	addErr    error
	getErr    error
}

func (b *flakyBackend) Add(context.Context, admission.AddRequest) error {
	b.addCalls++
	if b.addErr != nil {
		return b.addErr
	}
	if b.addCalls <= b.failFirst {
		return errors.New("transient backend failure")
	}
	return nil
}

func (b *flakyBackend) Get(context.Context, string) (*domain.Job, string, error) {
	b.getCalls++
	if b.getErr != nil {
		return nil, "", b.getErr
	}
	return &domain.Job{JobID: "op-1"}, "email", nil
}

func (b *flakyBackend) Counts(context.Context) (map[string]admission.QueueCounts, error) {
	return map[string]admission.QueueCounts{"email": {Pending: 1}}, nil
}

func (b *flakyBackend) Ping(context.Context) error { return nil }

func testEngineConfig() infra.EngineConfig {
	return infra.EngineConfig{
		BackendRateLimit: 1000,
		BackendBurst:     100,
		CBMaxRequests:    3,
	}
}

func TestAddRetriesTransientFailures(t *testing.T) {
	backend := &flakyBackend{failFirst: 2}
	w := NewReliabilityWrapper(backend, testEngineConfig())

	err := w.Add(context.Background(), admission.AddRequest{Queue: "email"})
	require.NoError(t, err)
	assert.Equal(t, 3, backend.addCalls, "two transient failures then success")
}

func TestAddGivesUpAfterBoundedAttempts(t *testing.T) {
	backend := &flakyBackend{failFirst: 100}
	w := NewReliabilityWrapper(backend, testEngineConfig())

	err := w.Add(context.Background(), admission.AddRequest{Queue: "email"})
	require.Error(t, err)
	assert.Equal(t, 3, backend.addCalls)
}

func TestAddDuplicateBypassesRetry(t *testing.T) {
	backend := &flakyBackend{addErr: admission.ErrDuplicateJob}
	w := NewReliabilityWrapper(backend, testEngineConfig())

	err := w.Add(context.Background(), admission.AddRequest{Queue: "email"})
	assert.ErrorIs(t, err, admission.ErrDuplicateJob)
	assert.Equal(t, 1, backend.addCalls, "a domain answer is not a failure to retry")
}

func TestGetUnknownJobBypassesRetry(t *testing.T) {
	backend := &flakyBackend{getErr: admission.ErrUnknownJob}
	w := NewReliabilityWrapper(backend, testEngineConfig())

	_, _, err := w.Get(context.Background(), "op-missing")
	assert.ErrorIs(t, err, admission.ErrUnknownJob)
	assert.Equal(t, 1, backend.getCalls)
}

func TestGetPassesThroughResult(t *testing.T) {
	backend := &flakyBackend{}
	w := NewReliabilityWrapper(backend, testEngineConfig())

	job, queue, err := w.Get(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", job.JobID)
	assert.Equal(t, "email", queue)
}

func TestDomainAnswersKeepBreakerClosed(t *testing.T) {
	backend := &flakyBackend{addErr: admission.ErrDuplicateJob}
	w := NewReliabilityWrapper(backend, testEngineConfig())

	// Well past the breaker's consecutive-failure threshold.
	for i := 0; i < 20; i++ {
		err := w.Add(context.Background(), admission.AddRequest{Queue: "email"})
		assert.ErrorIs(t, err, admission.ErrDuplicateJob)
	}
	assert.Equal(t, 20, backend.addCalls, "the breaker never opened")
}
