package audit

import (
	"context"
	"errors"

	"github.com/hedgeco/opskernel/internal/domain"
)

var (
	// ErrNotFound: no entry under that audit id.
	ErrNotFound = errors.New("audit entry not found")

	// ErrAuditClosed: the entry already carries a terminal outcome. Each
	// entry is updated at most once; a second update is a caller bug.
	ErrAuditClosed = errors.New("audit entry already has a terminal outcome")
)

// Store is where entries physically live (Postgres in production, MemoStore
// in tests and dev mode).
type Store interface {
	// InsertBatch appends a batch of pending entries in one round trip.
	InsertBatch(ctx context.Context, entries []domain.AuditEntry) error

	// ApplyOutcome sets the terminal outcome of one entry, merging details.
	// Returns ErrAuditClosed if the entry is no longer pending.
	ApplyOutcome(ctx context.Context, auditID string, outcome domain.AuditOutcome, details map[string]any) error

	// Query returns entries matching the filter, newest first, capped by
	// the filter's limit.
	Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error)
}
