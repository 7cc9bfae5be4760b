package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/matching"
)

// MemoryProductionRepository mimics the production schema in maps. Its
// transaction buffers writes and applies them on Commit, so a rolled-back
// commit leaves nothing behind, same as postgres.
type MemoryProductionRepository struct {
	mu         sync.RWMutex
	buildings  map[string]*domain.Building
	units      map[string]*domain.PropertyUnit
	households map[string]*domain.Household
	persons    map[string]*domain.Person
	relations  map[string]*domain.PersonPropertyRelation
	claims     map[string]*domain.Claim
	evidence   map[string]*domain.Evidence
	surveys    map[string]*domain.Survey
	claimSeq   int64

	staging *MemoryStagingRepository // for MarkRowCommitted
}

func NewMemoryProductionRepository(staging *MemoryStagingRepository) *MemoryProductionRepository {
	return &MemoryProductionRepository{
		buildings:  map[string]*domain.Building{},
		units:      map[string]*domain.PropertyUnit{},
		households: map[string]*domain.Household{},
		persons:    map[string]*domain.Person{},
		relations:  map[string]*domain.PersonPropertyRelation{},
		claims:     map[string]*domain.Claim{},
		evidence:   map[string]*domain.Evidence{},
		surveys:    map[string]*domain.Survey{},
		staging:    staging,
	}
}

func (r *MemoryProductionRepository) FindPersonsByNationalID(_ context.Context, normalizedID string) ([]*domain.Person, error) {
	if normalizedID == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Person{}
	for _, p := range r.persons {
		if p.MergedInto.Valid {
			continue
		}
		if matching.NormalizeExternalID(p.NationalID) == normalizedID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryProductionRepository) FindPersonsByNormalizedName(_ context.Context, normalizedName string) ([]*domain.Person, error) {
	if normalizedName == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Person{}
	for _, p := range r.persons {
		if !p.MergedInto.Valid && p.NormalizedName == normalizedName {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryProductionRepository) FindPersonsByNameTokens(_ context.Context, tokens []string) ([]*domain.Person, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	want := map[string]bool{}
	for _, t := range tokens {
		want[t] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Person{}
	for _, p := range r.persons {
		if p.MergedInto.Valid {
			continue
		}
		for _, t := range strings.Fields(p.NormalizedName) {
			if want[t] {
				cp := *p
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryProductionRepository) FindUnitsByParcelID(_ context.Context, normalizedParcelID string) ([]*domain.PropertyUnit, error) {
	if normalizedParcelID == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.PropertyUnit{}
	for _, u := range r.units {
		if u.MergedInto.Valid {
			continue
		}
		if matching.NormalizeExternalID(u.ParcelID) == normalizedParcelID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryProductionRepository) FindUnitsByAdminCode(_ context.Context, adminCode string) ([]*domain.PropertyUnit, error) {
	if adminCode == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.PropertyUnit{}
	for _, u := range r.units {
		if !u.MergedInto.Valid && u.AdminCode == adminCode {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryProductionRepository) GetPerson(_ context.Context, personID string) (*domain.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.persons[personID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// PersonCount is a test helper.
func (r *MemoryProductionRepository) PersonCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.persons {
		if !p.MergedInto.Valid {
			n++
		}
	}
	return n
}

// EvidenceRows is a test helper.
func (r *MemoryProductionRepository) EvidenceRows() []*domain.Evidence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Evidence{}
	for _, e := range r.evidence {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// Unit is a test helper.
func (r *MemoryProductionRepository) Unit(unitID string) (*domain.PropertyUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[unitID]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// Relation is a test helper.
func (r *MemoryProductionRepository) Relations() []*domain.PersonPropertyRelation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.PersonPropertyRelation{}
	for _, rel := range r.relations {
		cp := *rel
		out = append(out, &cp)
	}
	return out
}

func (r *MemoryProductionRepository) Begin(_ context.Context) (ProductionTx, error) {
	return &memoryProductionTx{repo: r}, nil
}

type memoryProductionTx struct {
	repo *MemoryProductionRepository
	ops  []func(r *MemoryProductionRepository)
	// evidence hashes written in this tx, visible to EvidenceHashExists
	txHashes map[string]bool
	seqDrawn int64
	done     bool
	// savepoint name -> ops length and hash snapshot at the time it was set
	spOps    map[string]int
	spHashes map[string]map[string]bool
}

func (t *memoryProductionTx) CreateBuilding(_ context.Context, b *domain.Building) error {
	cp := *b
	cp.CreatedAt = time.Now().UTC()
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.buildings[cp.BuildingID] = &cp })
	return nil
}

func (t *memoryProductionTx) CreatePropertyUnit(_ context.Context, u *domain.PropertyUnit) error {
	cp := *u
	cp.CreatedAt = time.Now().UTC()
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.units[cp.UnitID] = &cp })
	return nil
}

func (t *memoryProductionTx) CreateHousehold(_ context.Context, h *domain.Household) error {
	cp := *h
	cp.CreatedAt = time.Now().UTC()
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.households[cp.HouseholdID] = &cp })
	return nil
}

func (t *memoryProductionTx) CreatePerson(_ context.Context, p *domain.Person) error {
	cp := *p
	cp.CreatedAt = time.Now().UTC()
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.persons[cp.PersonID] = &cp })
	return nil
}

func (t *memoryProductionTx) CreateRelation(_ context.Context, rel *domain.PersonPropertyRelation) error {
	cp := *rel
	cp.CreatedAt = time.Now().UTC()
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.relations[cp.RelationID] = &cp })
	return nil
}

func (t *memoryProductionTx) CreateClaim(_ context.Context, c *domain.Claim) error {
	cp := *c
	cp.CreatedAt = time.Now().UTC()
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.claims[cp.ClaimID] = &cp })
	return nil
}

func (t *memoryProductionTx) CreateEvidence(_ context.Context, e *domain.Evidence) error {
	cp := *e
	cp.CreatedAt = time.Now().UTC()
	if t.txHashes == nil {
		t.txHashes = map[string]bool{}
	}
	t.txHashes[cp.ContentHash] = true
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.evidence[cp.EvidenceID] = &cp })
	return nil
}

func (t *memoryProductionTx) CreateSurvey(_ context.Context, s *domain.Survey) error {
	cp := *s
	cp.CreatedAt = time.Now().UTC()
	t.ops = append(t.ops, func(r *MemoryProductionRepository) { r.surveys[cp.SurveyID] = &cp })
	return nil
}

func (t *memoryProductionTx) NextClaimNumber(_ context.Context) (int64, error) {
	// Sequences never roll back, same as postgres nextval.
	t.repo.mu.Lock()
	t.repo.claimSeq++
	n := t.repo.claimSeq
	t.repo.mu.Unlock()
	t.seqDrawn = n
	return n, nil
}

func (t *memoryProductionTx) EvidenceHashExists(_ context.Context, hash string) (bool, error) {
	if t.txHashes[hash] {
		return true, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	for _, e := range t.repo.evidence {
		if e.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryProductionTx) MarkPersonMerged(_ context.Context, personID, survivorID string) error {
	t.ops = append(t.ops, func(r *MemoryProductionRepository) {
		if p, ok := r.persons[personID]; ok {
			p.MergedInto.String = survivorID
			p.MergedInto.Valid = true
		}
	})
	return nil
}

func (t *memoryProductionTx) MarkUnitMerged(_ context.Context, unitID, survivorID string) error {
	t.ops = append(t.ops, func(r *MemoryProductionRepository) {
		if u, ok := r.units[unitID]; ok {
			u.MergedInto.String = survivorID
			u.MergedInto.Valid = true
		}
	})
	return nil
}

func (t *memoryProductionTx) MarkRowCommitted(_ context.Context, rowID, productionID string) error {
	t.ops = append(t.ops, func(r *MemoryProductionRepository) {
		if r.staging != nil {
			_ = r.staging.markCommitted(rowID, productionID)
		}
	})
	return nil
}

func (t *memoryProductionTx) Savepoint(_ context.Context, name string) error {
	if t.spOps == nil {
		t.spOps = map[string]int{}
		t.spHashes = map[string]map[string]bool{}
	}
	t.spOps[name] = len(t.ops)
	snap := map[string]bool{}
	for h := range t.txHashes {
		snap[h] = true
	}
	t.spHashes[name] = snap
	return nil
}

func (t *memoryProductionTx) RollbackToSavepoint(_ context.Context, name string) error {
	n, ok := t.spOps[name]
	if !ok {
		return domain.ErrNotFound
	}
	t.ops = t.ops[:n]
	t.txHashes = t.spHashes[name]
	return nil
}

func (t *memoryProductionTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, op := range t.ops {
		op(t.repo)
	}
	t.ops = nil
	return nil
}

func (t *memoryProductionTx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}
