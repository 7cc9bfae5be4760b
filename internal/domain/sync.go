package domain

import (
	"database/sql"
	"time"
)

// TransferStatus tracks whether a work assignment has reached its device.
type TransferStatus string

const (
	TransferPending     TransferStatus = "Pending"
	TransferTransferred TransferStatus = "Transferred"
	TransferFailed      TransferStatus = "Failed"
)

// WorkAssignment is a field-work order distributed to a collector during sync.
type WorkAssignment struct {
	AssignmentID  string         `db:"assignment_id"`
	CollectorID   string         `db:"collector_id"`
	AreaCode      string         `db:"area_code"`
	Description   string         `db:"description"`
	Status        TransferStatus `db:"transfer_status"`
	TransferredAt sql.NullTime   `db:"transferred_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

// SyncSession scopes one device handshake to a single field collector.
// Counters track what moved through the session; they are informational,
// idempotency lives in the operations themselves.
type SyncSession struct {
	SessionID        string    `db:"session_id"`
	CollectorID      string    `db:"collector_id"`
	DeviceID         string    `db:"device_id"`
	PackagesUploaded int       `db:"packages_uploaded"`
	AssignmentsAcked int       `db:"assignments_acked"`
	OpenedAt         time.Time `db:"opened_at"`
	LastSeenAt       time.Time `db:"last_seen_at"`
}
