package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"landrec-import/internal/domain"
)

// Memory repositories back unit tests and DB-less dev runs. Semantics mirror
// the postgres implementations, including the idempotency keys and the
// status compare-and-swap.

type MemoryPackagesRepository struct {
	mu       sync.RWMutex
	packages map[string]*domain.ImportPackage
	seq      int64
}

func NewMemoryPackagesRepository() *MemoryPackagesRepository {
	return &MemoryPackagesRepository{packages: map[string]*domain.ImportPackage{}}
}

func (r *MemoryPackagesRepository) CreateIfAbsent(_ context.Context, p *domain.ImportPackage) (*domain.ImportPackage, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.packages[p.PackageID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *p
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.packages[p.PackageID] = &cp
	out := cp
	return &out, true, nil
}

func (r *MemoryPackagesRepository) Get(_ context.Context, packageID string) (*domain.ImportPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packages[packageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPackagesRepository) List(_ context.Context, f PackageFilter) ([]*domain.ImportPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.ImportPackage{}
	for _, p := range r.packages {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.CollectorID != "" && p.CollectorID != f.CollectorID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryPackagesRepository) Update(_ context.Context, p *domain.ImportPackage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.packages[p.PackageID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.VocabularyVersion = p.VocabularyVersion
	stored.RecordCounts = p.RecordCounts
	stored.ValidCounts = p.ValidCounts
	stored.InvalidCounts = p.InvalidCounts
	stored.ConflictsTotal = p.ConflictsTotal
	stored.ConflictsPending = p.ConflictsPending
	stored.CommitReport = p.CommitReport
	stored.FailureReason = p.FailureReason
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryPackagesRepository) TransitionStatus(_ context.Context, packageID string, from, to domain.PackageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packages[packageID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrInvalidTransition
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryPackagesRepository) NextPackageNumber(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}

// ============================================
// Staging
// ============================================

type MemoryStagingRepository struct {
	mu   sync.RWMutex
	rows map[string]*domain.StagingRow // key: package|type|original
}

func NewMemoryStagingRepository() *MemoryStagingRepository {
	return &MemoryStagingRepository{rows: map[string]*domain.StagingRow{}}
}

func stagingKey(packageID string, et domain.EntityType, originalID string) string {
	return packageID + "|" + string(et) + "|" + originalID
}

func (r *MemoryStagingRepository) Upsert(_ context.Context, row *domain.StagingRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := stagingKey(row.PackageID, row.EntityType, row.OriginalID)
	if existing, ok := r.rows[key]; ok {
		if existing.ProductionID.Valid {
			return nil // committed rows stay untouched
		}
		existing.Entity = row.Entity
		existing.Refs = row.Refs
		existing.Status = row.Status
		existing.Errors = row.Errors
		existing.Warnings = row.Warnings
		return nil
	}
	cp := *row
	cp.CreatedAt = time.Now().UTC()
	r.rows[key] = &cp
	return nil
}

func (r *MemoryStagingRepository) ListByPackage(_ context.Context, packageID string, et domain.EntityType) ([]*domain.StagingRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.StagingRow{}
	for key, row := range r.rows {
		if !strings.HasPrefix(key, packageID+"|") {
			continue
		}
		if et != "" && row.EntityType != et {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].OriginalID < out[j].OriginalID
	})
	return out, nil
}

func (r *MemoryStagingRepository) GetByOriginalID(_ context.Context, packageID string, et domain.EntityType, originalID string) (*domain.StagingRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[stagingKey(packageID, et, originalID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryStagingRepository) SetApproved(_ context.Context, packageID string, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, row := range r.rows {
		if strings.HasPrefix(key, packageID+"|") &&
			(row.Status == domain.ValidationValid || row.Status == domain.ValidationWarning) {
			row.Approved = approved
		}
	}
	return nil
}

// markCommitted is used by the memory production tx.
func (r *MemoryStagingRepository) markCommitted(rowID, productionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.RowID == rowID {
			row.ProductionID.String = productionID
			row.ProductionID.Valid = true
			return nil
		}
	}
	return domain.ErrNotFound
}

// ============================================
// Conflicts
// ============================================

type MemoryConflictsRepository struct {
	mu        sync.RWMutex
	conflicts map[string]*domain.ConflictResolution // by conflict id
	pairs     map[string]bool                       // package|pairKey
}

func NewMemoryConflictsRepository() *MemoryConflictsRepository {
	return &MemoryConflictsRepository{
		conflicts: map[string]*domain.ConflictResolution{},
		pairs:     map[string]bool{},
	}
}

func (r *MemoryConflictsRepository) InsertIfAbsent(_ context.Context, c *domain.ConflictResolution) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pk := c.PackageID + "|" + c.PairKey
	if r.pairs[pk] {
		return false, nil
	}
	cp := *c
	if cp.DetectedAt.IsZero() {
		cp.DetectedAt = time.Now().UTC()
	}
	r.conflicts[c.ConflictID] = &cp
	r.pairs[pk] = true
	return true, nil
}

func (r *MemoryConflictsRepository) Get(_ context.Context, conflictID string) (*domain.ConflictResolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryConflictsRepository) List(_ context.Context, f ConflictFilter) ([]*domain.ConflictResolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.ConflictResolution{}
	for _, c := range r.conflicts {
		if f.PackageID != "" && c.PackageID != f.PackageID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		if f.Escalated != nil && c.Escalated != *f.Escalated {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (r *MemoryConflictsRepository) Update(_ context.Context, c *domain.ConflictResolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conflicts[c.ConflictID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Status = c.Status
	stored.Action = c.Action
	stored.SurvivorID = c.SurvivorID
	stored.Reason = c.Reason
	stored.AssignedTo = c.AssignedTo
	stored.Escalated = c.Escalated
	stored.EscalationReason = c.EscalationReason
	stored.ResolvedBy = c.ResolvedBy
	stored.ResolvedAt = c.ResolvedAt
	stored.MergeProvenance = c.MergeProvenance
	return nil
}

func (r *MemoryConflictsRepository) CountBlocking(_ context.Context, packageID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conflicts {
		if c.PackageID == packageID && c.Status == domain.ConflictPendingReview {
			n++
		}
	}
	return n, nil
}

func (r *MemoryConflictsRepository) ResolvedForPackage(ctx context.Context, packageID string) ([]*domain.ConflictResolution, error) {
	return r.List(ctx, ConflictFilter{PackageID: packageID, Status: domain.ConflictResolved})
}
