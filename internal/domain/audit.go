package domain

import "time"

type AuditAction string

const (
	AuditManualReconcile AuditAction = "MANUAL_RECONCILE"
	AuditAutoMatch       AuditAction = "AUTO_MATCH"
	AuditUndo            AuditAction = "UNDO"
)

// AuditEntry is one append-only record of a reconcile/undo/auto-match action.
// Writes are best-effort: a failed audit insert never rolls back the state
// change it describes.
type AuditEntry struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id,omitempty"`
	Action      AuditAction `json:"action"`
	StatementID string      `json:"statement_id,omitempty"`
	AggregateID string      `json:"aggregate_id,omitempty"`
	Details     string      `json:"details,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
