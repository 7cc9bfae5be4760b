package repository

import (
	"context"

	"landrec-import/internal/domain"
)

// ProductionRepository is the pipeline's view of the production schema: the
// detector's candidate-retrieval reads plus the transactional commit writes.
// Candidate retrieval uses blocking keys (national id, normalized name, name
// tokens, parcel id, admin code) so the detector never scans whole tables.
type ProductionRepository interface {
	FindPersonsByNationalID(ctx context.Context, normalizedID string) ([]*domain.Person, error)
	FindPersonsByNormalizedName(ctx context.Context, normalizedName string) ([]*domain.Person, error)
	// FindPersonsByNameTokens returns persons whose normalized name shares
	// at least one token with the given set.
	FindPersonsByNameTokens(ctx context.Context, tokens []string) ([]*domain.Person, error)
	FindUnitsByParcelID(ctx context.Context, normalizedParcelID string) ([]*domain.PropertyUnit, error)
	FindUnitsByAdminCode(ctx context.Context, adminCode string) ([]*domain.PropertyUnit, error)
	GetPerson(ctx context.Context, personID string) (*domain.Person, error)

	// Begin opens the single transaction a package commit runs inside.
	Begin(ctx context.Context) (ProductionTx, error)
}

// ProductionTx is one package's commit transaction. Everything written here
// becomes visible atomically on Commit; staged-row bookkeeping
// (MarkRowCommitted) rides in the same transaction so a rollback leaves no
// half-mapped package.
type ProductionTx interface {
	CreateBuilding(ctx context.Context, b *domain.Building) error
	CreatePropertyUnit(ctx context.Context, u *domain.PropertyUnit) error
	CreateHousehold(ctx context.Context, h *domain.Household) error
	CreatePerson(ctx context.Context, p *domain.Person) error
	CreateRelation(ctx context.Context, r *domain.PersonPropertyRelation) error
	CreateClaim(ctx context.Context, c *domain.Claim) error
	CreateEvidence(ctx context.Context, e *domain.Evidence) error
	CreateSurvey(ctx context.Context, s *domain.Survey) error

	// NextClaimNumber draws the human-readable claim sequence. Database
	// serial generator: correct under concurrently committing packages.
	NextClaimNumber(ctx context.Context) (int64, error)

	// EvidenceHashExists reports whether any committed evidence row (or one
	// created earlier in this transaction) already references the hash.
	EvidenceHashExists(ctx context.Context, hash string) (bool, error)

	// MarkPersonMerged / MarkUnitMerged point a production merge loser at
	// its survivor; merged rows drop out of candidate retrieval.
	MarkPersonMerged(ctx context.Context, personID, survivorID string) error
	MarkUnitMerged(ctx context.Context, unitID, survivorID string) error

	// MarkRowCommitted stores the original->production mapping on the
	// staging row.
	MarkRowCommitted(ctx context.Context, rowID, productionID string) error

	// Savepoint / RollbackToSavepoint isolate one row's writes so a failed
	// insert is rolled back alone and sibling rows proceed.
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error

	Commit() error
	Rollback() error
}
