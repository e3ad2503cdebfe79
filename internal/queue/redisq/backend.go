// Package redisq is the production queue backend on Redis. Job records are
// SETNX-guarded hashes keyed by idempotency key; queue membership is a
// pending list per queue. Workers consume the lists and move job state
// through the record key — the kernel only admits and reads.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/admission"
	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

// record is what lives under the job key: the job plus where it went and
// with what scheduling options, so Get can answer from one read.
type record struct {
	Job     domain.Job               `json:"job"`
	Queue   string                   `json:"queue"`
	Options admission.EnqueueOptions `json:"options"`
}

type Backend struct {
	rdb         *redis.Client
	queues      []string
	logger      *zap.Logger
	pingTimeout time.Duration
}

func NewBackend(rdb *redis.Client, queues []string, pingTimeout time.Duration, logger *zap.Logger) *Backend {
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	return &Backend{
		rdb:         rdb,
		queues:      queues,
		logger:      logger.Named("redisq"),
		pingTimeout: pingTimeout,
	}
}

// addScript admits a job atomically: record SETNX and queue push happen in
// one script, so no crash between them can strand a record that dedups
// future resubmissions against a job no worker will ever see.
// KEYS[1] = job record key, KEYS[2] = queue pending list
// ARGV[1] = serialized record, ARGV[2] = job id
var addScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call("RPUSH", KEYS[2], ARGV[2])
return 1
`)

// Add admits at most once. Two callers racing on the same idempotency key —
// the loser sees the record key taken and gets ErrDuplicateJob without
// touching the queue list.
func (b *Backend) Add(ctx context.Context, req admission.AddRequest) error {
	payload, err := json.Marshal(record{Job: req.Job, Queue: req.Queue, Options: req.Options})
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	admitted, err := addScript.Run(ctx, b.rdb,
		[]string{infra.GetJobKey(req.Job.JobID), infra.GetQueueKey(req.Queue)},
		payload, req.Job.JobID,
	).Int()
	if err != nil {
		return fmt.Errorf("job admission script: %w", err)
	}
	if admitted == 0 {
		return admission.ErrDuplicateJob
	}
	return nil
}

// Get answers from the job record; the queue name travels with it, so "look
// up across all known queues" is a single read.
func (b *Backend) Get(ctx context.Context, jobID string) (*domain.Job, string, error) {
	raw, err := b.rdb.Get(ctx, infra.GetJobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, "", admission.ErrUnknownJob
	}
	if err != nil {
		return nil, "", fmt.Errorf("job record get: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, "", fmt.Errorf("unmarshal job record: %w", err)
	}
	return &rec.Job, rec.Queue, nil
}

func (b *Backend) Counts(ctx context.Context) (map[string]admission.QueueCounts, error) {
	pipe := b.rdb.Pipeline()
	pending := make(map[string]*redis.IntCmd, len(b.queues))
	paused := make(map[string]*redis.IntCmd, len(b.queues))
	for _, q := range b.queues {
		pending[q] = pipe.LLen(ctx, infra.GetQueueKey(q))
		paused[q] = pipe.Exists(ctx, infra.GetPausedKey(q))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}

	counts := make(map[string]admission.QueueCounts, len(b.queues))
	for _, q := range b.queues {
		counts[q] = admission.QueueCounts{
			Pending: pending[q].Val(),
			Paused:  paused[q].Val() > 0,
		}
	}
	return counts, nil
}

// Ping carries its own short timeout so a wedged Redis can never stall
// policy evaluation or a liveness probe.
func (b *Backend) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, b.pingTimeout)
	defer cancel()
	if err := b.rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue backend ping: %w", err)
	}
	return nil
}
