package audit

import (
	"context"
	"sync"

	"github.com/hedgeco/opskernel/internal/domain"
)

// MemoStore keeps the audit trail in memory. Dev mode and tests only; the
// production store is Postgres.
type MemoStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	byID    map[string]int
}

func NewMemoStore() *MemoStore {
	return &MemoStore{byID: make(map[string]int)}
}

func (s *MemoStore) InsertBatch(_ context.Context, entries []domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.byID[e.AuditID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *MemoStore) ApplyOutcome(_ context.Context, auditID string, outcome domain.AuditOutcome, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[auditID]
	if !ok {
		return ErrNotFound
	}
	entry := &s.entries[idx]
	if entry.Outcome != domain.OutcomePending {
		return ErrAuditClosed
	}

	entry.Outcome = outcome
	if entry.Details == nil {
		entry.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		entry.Details[k] = v
	}
	return nil
}

func (s *MemoStore) Query(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	// Newest first, like the Postgres store's ORDER BY.
	out := make([]domain.AuditEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if matches(e, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

func matches(e domain.AuditEntry, f domain.AuditFilter) bool {
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}
