package domain

import "time"

// AuditOutcome is the terminal disposition of one mediated attempt. Every
// entry starts pending and is updated exactly once; an entry stuck pending
// past a timeout means "unknown, needs manual review" — never success or
// failure by assumption.
type AuditOutcome string

const (
	OutcomePending AuditOutcome = "pending"
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditEntry records one admission attempt. Append/update only; never
// deleted in normal operation. Details may hold the full request/response
// payloads — the audit trail is deliberately a superset of what callers see.
type AuditEntry struct {
	AuditID    string         `json:"audit_id"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Outcome    AuditOutcome   `json:"outcome"`
	Details    map[string]any `json:"details"`
}

// AuditFilter selects entries by any subset of its fields. Zero values mean
// "no constraint". Limit caps the page size.
type AuditFilter struct {
	Agent      string
	Action     string
	EntityID   string
	EntityType string
	Outcome    AuditOutcome
	Start      time.Time
	End        time.Time
	Limit      int
}
