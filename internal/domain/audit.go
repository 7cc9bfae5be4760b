package domain

import "time"

// AuditEntry is one record in the audit sink: exactly one per state-changing
// action (upload, stage, detect, resolve, escalate, approve, commit, cancel,
// quarantine, acknowledge).
type AuditEntry struct {
	EntryID    string         `db:"entry_id"`
	Actor      string         `db:"actor"`
	Action     string         `db:"action"`
	ObjectType string         `db:"object_type"`
	ObjectID   string         `db:"object_id"`
	Reason     string         `db:"reason"`
	Detail     map[string]any `db:"detail"` // jsonb
	CreatedAt  time.Time      `db:"created_at"`
}
