package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver

	"github.com/hedgeco/opskernel/internal/audit"
	"github.com/hedgeco/opskernel/internal/domain"
)

// AuditRepo is the durable audit store.
//
// Schema (migrations live with the ops tooling):
//
//	CREATE TABLE audit_log (
//	    audit_id    TEXT PRIMARY KEY,
//	    agent       TEXT NOT NULL,
//	    action      TEXT NOT NULL,
//	    entity_id   TEXT NOT NULL,
//	    entity_type TEXT NOT NULL,
//	    outcome     TEXT NOT NULL,
//	    details     JSONB NOT NULL DEFAULT '{}',
//	    ts          TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ
//	);
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string, maxConns int) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *AuditRepo) InsertBatch(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 8
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		details, _ := json.Marshal(e.Details)
		vals = append(vals,
			e.AuditID, e.Agent, e.Action, e.EntityID,
			e.EntityType, string(e.Outcome), details, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_log (audit_id, agent, action, entity_id, entity_type, outcome, details, ts) VALUES %s",
		strings.TrimSuffix(placeholders.String(), ","),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("audit insert batch: %w", err)
	}
	return nil
}

// ApplyOutcome flips exactly one pending entry to its terminal outcome. The
// outcome guard in the WHERE clause is what enforces update-once: a second
// update matches zero rows.
func (r *AuditRepo) ApplyOutcome(ctx context.Context, auditID string, outcome domain.AuditOutcome, details map[string]any) error {
	payload, _ := json.Marshal(details)

	res, err := r.db.ExecContext(ctx, `
		UPDATE audit_log
		SET outcome = $2, details = details || $3::jsonb, updated_at = now()
		WHERE audit_id = $1 AND outcome = 'pending'`,
		auditID, string(outcome), payload,
	)
	if err != nil {
		return fmt.Errorf("audit outcome update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("audit outcome update result: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Zero rows: either the entry is unknown or already closed.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM audit_log WHERE audit_id = $1)", auditID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("audit outcome lookup: %w", err)
	}
	if exists {
		return audit.ErrAuditClosed
	}
	return audit.ErrNotFound
}

func (r *AuditRepo) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Agent != "" {
		add("agent = $%d", f.Agent)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.Outcome != "" {
		add("outcome = $%d", string(f.Outcome))
	}
	if !f.Start.IsZero() {
		add("ts >= $%d", f.Start)
	}
	if !f.End.IsZero() {
		add("ts <= $%d", f.End)
	}

	query := "SELECT audit_id, agent, action, entity_id, entity_type, outcome, details, ts FROM audit_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			outcome string
			details []byte
		)
		if err := rows.Scan(&e.AuditID, &e.Agent, &e.Action, &e.EntityID,
			&e.EntityType, &outcome, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audit scan: %w", err)
		}
		e.Outcome = domain.AuditOutcome(outcome)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}
