package repository

import (
	"context"

	"landrec-import/internal/domain"
)

// SyncRepository persists sync sessions and work assignments.
type SyncRepository interface {
	CreateSession(ctx context.Context, s *domain.SyncSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.SyncSession, error)

	// TouchSession bumps the session counters and its last-seen timestamp.
	TouchSession(ctx context.Context, sessionID string, packagesDelta, acksDelta int) error

	CreateAssignment(ctx context.Context, a *domain.WorkAssignment) error

	// ListAssignments returns the collector's assignments in the given
	// transfer statuses (the fetch path asks for Pending and Failed).
	ListAssignments(ctx context.Context, collectorID string, statuses []domain.TransferStatus) ([]*domain.WorkAssignment, error)

	// MarkTransferred flips the named assignments of the collector to
	// Transferred and returns how many actually changed. Already-Transferred
	// ids are counted as no-ops, not errors: a device may retry an ack
	// after a dropped connection.
	MarkTransferred(ctx context.Context, collectorID string, assignmentIDs []string) (int, error)
}

// AuditRepository is the durable half of the audit sink.
type AuditRepository interface {
	Insert(ctx context.Context, e *domain.AuditEntry) error
}
