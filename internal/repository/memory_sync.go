package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"landrec-import/internal/domain"
)

type MemorySyncRepository struct {
	mu          sync.RWMutex
	sessions    map[string]*domain.SyncSession
	assignments map[string]*domain.WorkAssignment
}

func NewMemorySyncRepository() *MemorySyncRepository {
	return &MemorySyncRepository{
		sessions:    map[string]*domain.SyncSession{},
		assignments: map[string]*domain.WorkAssignment{},
	}
}

func (r *MemorySyncRepository) CreateSession(_ context.Context, s *domain.SyncSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	now := time.Now().UTC()
	cp.OpenedAt = now
	cp.LastSeenAt = now
	r.sessions[s.SessionID] = &cp
	return nil
}

func (r *MemorySyncRepository) GetSession(_ context.Context, sessionID string) (*domain.SyncSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemorySyncRepository) TouchSession(_ context.Context, sessionID string, packagesDelta, acksDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.PackagesUploaded += packagesDelta
	s.AssignmentsAcked += acksDelta
	s.LastSeenAt = time.Now().UTC()
	return nil
}

func (r *MemorySyncRepository) CreateAssignment(_ context.Context, a *domain.WorkAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.assignments[a.AssignmentID] = &cp
	return nil
}

func (r *MemorySyncRepository) ListAssignments(_ context.Context, collectorID string, statuses []domain.TransferStatus) ([]*domain.WorkAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.WorkAssignment{}
	for _, a := range r.assignments {
		if a.CollectorID != collectorID {
			continue
		}
		for _, s := range statuses {
			if a.Status == s {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySyncRepository) MarkTransferred(_ context.Context, collectorID string, assignmentIDs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range assignmentIDs {
		a, ok := r.assignments[id]
		if !ok || a.CollectorID != collectorID {
			continue
		}
		if a.Status == domain.TransferTransferred {
			continue // retried ack, no-op
		}
		a.Status = domain.TransferTransferred
		a.TransferredAt.Time = time.Now().UTC()
		a.TransferredAt.Valid = true
		n++
	}
	return n, nil
}

// Assignment is a test helper.
func (r *MemorySyncRepository) Assignment(id string) (*domain.WorkAssignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// MemoryAuditRepository collects audit entries for tests.
type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Insert(_ context.Context, e *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, &cp)
	return nil
}

// Entries is a test helper.
func (r *MemoryAuditRepository) Entries() []*domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
