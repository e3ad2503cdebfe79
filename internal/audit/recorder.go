package audit

/*
The recorder keeps audit writes off the request hot path. Inserts and
outcome updates flow through one buffered channel into a single worker, so
an update can never overtake the insert it belongs to. The worker batches
inserts (bulk write by size or ticker) and applies updates after flushing
whatever batch is in flight.

Shutdown uses the drain pattern: Stop closes the channel, the worker reads
the channel dry, performs a final flush and only then exits. A read-write
mutex brackets every channel send, so Stop's close waits out any sender
already committed to the channel — including one blocked on a full buffer —
and a sender arriving after the close falls back to a synchronous write.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
)

type auditOp struct {
	kind    opKind
	entry   domain.AuditEntry
	auditID string
	outcome domain.AuditOutcome
	details map[string]any
}

// FillGauge lets the recorder report buffer utilization without depending
// on a metrics package.
type FillGauge interface {
	Set(float64)
}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

// Recorder is the only writer of the audit trail.
type Recorder struct {
	ch        chan auditOp
	store     Store
	logger    *zap.Logger
	gauge     FillGauge
	batchSize int
	flushIvl  time.Duration

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type RecorderOption func(*Recorder)

// WithBatch overrides batch size and flush interval (tests shrink both).
func WithBatch(size int, interval time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.batchSize = size
		r.flushIvl = interval
	}
}

// WithFillGauge wires a metrics gauge for channel utilization.
func WithFillGauge(g FillGauge) RecorderOption {
	return func(r *Recorder) { r.gauge = g }
}

func NewRecorder(store Store, bufferSize int, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	r := &Recorder{
		ch:        make(chan auditOp, bufferSize),
		store:     store,
		logger:    logger.Named("audit"),
		gauge:     noopGauge{},
		batchSize: 100,
		flushIvl:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop locks the channel entrance and waits until the worker has written
// everything out. The write lock cannot be taken while any sender holds the
// read lock, so no send can race the close. Safe to call more than once.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.logger.Info("stopping audit recorder: closing channel and flushing buffer")
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("audit recorder stopped")
}

// enqueue sends one op under the read lock. Returns false once the recorder
// is stopped; the caller then writes through to the store synchronously. The
// send blocks under backpressure rather than dropping: every boundary call
// must leave exactly one entry behind.
func (r *Recorder) enqueue(op auditOp) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.ch <- op:
	default:
		// Buffer full. Surface the backpressure, then block — losing the
		// op is worse than slowing the caller down.
		r.logger.Error("audit_buffer_overflow",
			zap.String("agent", op.entry.Agent),
			zap.String("action", op.entry.Action),
		)
		r.ch <- op
	}
	r.gauge.Set(float64(len(r.ch)))
	return true
}

// Log records one admission attempt with outcome pending and returns the
// audit id.
func (r *Recorder) Log(entry domain.AuditEntry) string {
	if entry.AuditID == "" {
		entry.AuditID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Outcome = domain.OutcomePending

	if !r.enqueue(auditOp{kind: opInsert, entry: entry}) {
		r.logger.Warn("audit entry arrived while stopping, writing synchronously",
			zap.String("audit_id", entry.AuditID))
		if err := r.store.InsertBatch(context.Background(), []domain.AuditEntry{entry}); err != nil {
			r.logger.Error("synchronous audit insert failed", zap.Error(err))
		}
	}
	return entry.AuditID
}

// UpdateOutcome applies the single terminal update for an entry. Ordered
// behind the entry's own insert by construction.
func (r *Recorder) UpdateOutcome(auditID string, outcome domain.AuditOutcome, details map[string]any) {
	if !r.enqueue(auditOp{kind: opUpdate, auditID: auditID, outcome: outcome, details: details}) {
		if err := r.store.ApplyOutcome(context.Background(), auditID, outcome, details); err != nil {
			r.logger.Error("synchronous audit update failed",
				zap.String("audit_id", auditID), zap.Error(err))
		}
	}
}

// CloseOutcome applies a terminal update synchronously so the caller sees
// ErrAuditClosed / ErrNotFound. For the worker-callback path, where the
// insert has long since flushed; boundary-time updates go through
// UpdateOutcome to stay ordered behind their insert.
func (r *Recorder) CloseOutcome(ctx context.Context, auditID string, outcome domain.AuditOutcome, details map[string]any) error {
	return r.store.ApplyOutcome(ctx, auditID, outcome, details)
}

// Query reads through to the store. Reads are eventually consistent with
// the buffer; operator tooling tolerates that.
func (r *Recorder) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	return r.store.Query(ctx, f)
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]domain.AuditEntry, 0, r.batchSize)
	ticker := time.NewTicker(r.flushIvl)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the request contexts are long gone.
		if err := r.store.InsertBatch(context.Background(), batch); err != nil {
			r.logger.Error("audit flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case op, ok := <-r.ch:
			if !ok {
				// Channel closed by Stop: the queue has been read dry,
				// final flush and exit.
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			switch op.kind {
			case opInsert:
				batch = append(batch, op.entry)
				if len(batch) >= r.batchSize {
					flush()
				}
			case opUpdate:
				// Flush first so the update always finds its insert.
				flush()
				if err := r.store.ApplyOutcome(context.Background(), op.auditID, op.outcome, op.details); err != nil {
					r.logger.Error("audit outcome update failed",
						zap.String("audit_id", op.auditID),
						zap.String("outcome", string(op.outcome)),
						zap.Error(err),
					)
				}
			}
			r.gauge.Set(float64(len(r.ch)))
		case <-ticker.C:
			flush()
		}
	}
}
