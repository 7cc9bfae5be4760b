package repository

import (
	"context"

	"landrec-import/internal/domain"
)

// ConflictFilter narrows conflict listings.
type ConflictFilter struct {
	PackageID string
	Status    domain.ConflictStatus
	Type      domain.ConflictType
	Escalated *bool
	Limit     int
	Offset    int
}

// ConflictsRepository persists detected duplicate pairs and their resolution
// state.
type ConflictsRepository interface {
	// InsertIfAbsent records a conflict unless the same pair (by PairKey)
	// was already recorded for the package — in any status, so pairs marked
	// Ignored stay excluded from future detector runs. Returns whether a
	// row was inserted.
	InsertIfAbsent(ctx context.Context, c *domain.ConflictResolution) (bool, error)

	Get(ctx context.Context, conflictID string) (*domain.ConflictResolution, error)
	List(ctx context.Context, f ConflictFilter) ([]*domain.ConflictResolution, error)

	// Update persists resolution/escalation state.
	Update(ctx context.Context, c *domain.ConflictResolution) error

	// CountBlocking returns the number of conflicts still blocking approval
	// of the package (PendingReview, escalated or not).
	CountBlocking(ctx context.Context, packageID string) (int, error)

	// ResolvedForPackage returns the package's Resolved conflicts; commit
	// uses them to build the merge skip/alias sets.
	ResolvedForPackage(ctx context.Context, packageID string) ([]*domain.ConflictResolution, error)
}
