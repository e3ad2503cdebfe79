// Package memq is an in-memory queue backend with the same at-most-once
// admission semantics as redisq. Dev mode and tests only.
package memq

import (
	"context"
	"sync"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/domain"
)

type stored struct {
	job     domain.Job
	queue   string
	options admission.EnqueueOptions
}

type MemoBackend struct {
	mu      sync.Mutex
	jobs    map[string]stored
	pending map[string][]string
	queues  []string
	paused  map[string]bool
}

func NewMemoBackend(queues []string) *MemoBackend {
	return &MemoBackend{
		jobs:    make(map[string]stored),
		pending: make(map[string][]string),
		queues:  queues,
		paused:  make(map[string]bool),
	}
}

// Add holds the lock across lookup and insert, making the duplicate check
// atomic the way SETNX is for redisq.
func (b *MemoBackend) Add(_ context.Context, req admission.AddRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.jobs[req.Job.JobID]; exists {
		return admission.ErrDuplicateJob
	}
	b.jobs[req.Job.JobID] = stored{job: req.Job, queue: req.Queue, options: req.Options}
	b.pending[req.Queue] = append(b.pending[req.Queue], req.Job.JobID)
	return nil
}

func (b *MemoBackend) Get(_ context.Context, jobID string) (*domain.Job, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.jobs[jobID]
	if !ok {
		return nil, "", admission.ErrUnknownJob
	}
	job := s.job
	return &job, s.queue, nil
}

func (b *MemoBackend) Counts(_ context.Context) (map[string]admission.QueueCounts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[string]admission.QueueCounts, len(b.queues))
	for _, q := range b.queues {
		counts[q] = admission.QueueCounts{
			Pending: int64(len(b.pending[q])),
			Paused:  b.paused[q],
		}
	}
	return counts, nil
}

func (b *MemoBackend) Ping(context.Context) error { return nil }

// SetPaused flips a queue's paused flag (test hook; redisq reads the flag
// set by ops tooling).
func (b *MemoBackend) SetPaused(queue string, paused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused[queue] = paused
}

// JobCount reports total stored jobs (test hook for the at-most-once
// property).
func (b *MemoBackend) JobCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}
