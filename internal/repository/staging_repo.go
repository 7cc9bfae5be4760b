package repository

import (
	"context"

	"landrec-import/internal/domain"
)

// StagingRepository persists per-package staging rows.
type StagingRepository interface {
	// Upsert writes a staging row keyed by (package, entity type, original
	// id). Re-staging the same original id updates the row in place — never
	// a duplicate insert. Committed rows (production_id set) are left
	// untouched.
	Upsert(ctx context.Context, row *domain.StagingRow) error

	// ListByPackage returns the package's rows, optionally narrowed to one
	// entity type (et == "" means all), ordered by entity type then
	// original id.
	ListByPackage(ctx context.Context, packageID string, et domain.EntityType) ([]*domain.StagingRow, error)

	// GetByOriginalID fetches one row by its in-package identity.
	GetByOriginalID(ctx context.Context, packageID string, et domain.EntityType, originalID string) (*domain.StagingRow, error)

	// SetApproved flips the approval flag on every Valid/Warning row of the
	// package.
	SetApproved(ctx context.Context, packageID string, approved bool) error
}
