package repository

import (
	"context"

	"landrec-import/internal/domain"
)

// PackageFilter narrows package listings.
type PackageFilter struct {
	Status      domain.PackageStatus // optional
	CollectorID string               // optional
	Limit       int                  // 0 = server default
	Offset      int
}

// PackagesRepository persists import packages and their pipeline state.
type PackagesRepository interface {
	// CreateIfAbsent inserts p unless a package with the same PackageID
	// already exists; in that case the existing row is returned with
	// created=false and p is not written. This is the upload idempotency
	// anchor: a retried upload never reprocesses.
	CreateIfAbsent(ctx context.Context, p *domain.ImportPackage) (existing *domain.ImportPackage, created bool, err error)

	Get(ctx context.Context, packageID string) (*domain.ImportPackage, error)
	List(ctx context.Context, f PackageFilter) ([]*domain.ImportPackage, error)

	// Update persists the package's mutable fields (counts, conflict
	// counters, commit report, vocabulary version, failure reason).
	Update(ctx context.Context, p *domain.ImportPackage) error

	// TransitionStatus moves the package from -> to with a compare-and-swap
	// on the stored status. Returns domain.ErrInvalidTransition when the
	// stored status no longer equals from — the stale-operator race.
	TransitionStatus(ctx context.Context, packageID string, from, to domain.PackageStatus) error

	// NextPackageNumber draws from a database-level sequence; never computed
	// as max+1 in the application.
	NextPackageNumber(ctx context.Context) (int64, error)
}
