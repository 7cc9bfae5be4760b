package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"

	"go.uber.org/zap"
)

// seniorReviewQueue is where escalated conflicts are assigned.
const seniorReviewQueue = "senior-review"

// ConflictService runs the human-adjudicated resolution workflow. Per
// conflict: PendingReview -> {Resolved, Ignored}, with an orthogonal
// Escalated flag that never resolves by itself.
type ConflictService struct {
	packages  repository.PackagesRepository
	conflicts repository.ConflictsRepository
	sla       time.Duration // review target; overdue is computed on read
	audit     *AuditRecorder
	logger    *zap.Logger
}

func NewConflictService(
	packages repository.PackagesRepository,
	conflicts repository.ConflictsRepository,
	sla time.Duration,
	audit *AuditRecorder,
	logger *zap.Logger,
) *ConflictService {
	return &ConflictService{
		packages:  packages,
		conflicts: conflicts,
		sla:       sla,
		audit:     audit,
		logger:    logger,
	}
}

// ConflictView decorates a conflict with the on-read overdue computation.
type ConflictView struct {
	*domain.ConflictResolution
	Overdue bool `json:"overdue"`
}

func (s *ConflictService) view(c *domain.ConflictResolution) *ConflictView {
	return &ConflictView{ConflictResolution: c, Overdue: c.Overdue(time.Now().UTC(), s.sla)}
}

func (s *ConflictService) Get(ctx context.Context, conflictID string) (*ConflictView, error) {
	c, err := s.conflicts.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	return s.view(c), nil
}

func (s *ConflictService) List(ctx context.Context, f repository.ConflictFilter) ([]*ConflictView, error) {
	cs, err := s.conflicts.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*ConflictView, len(cs))
	for i, c := range cs {
		out[i] = s.view(c)
	}
	return out, nil
}

func (s *ConflictService) Summary(ctx context.Context, packageID string) (*domain.ConflictSummary, error) {
	cs, err := s.conflicts.List(ctx, repository.ConflictFilter{PackageID: packageID, Limit: 100000})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sum := &domain.ConflictSummary{
		PackageID: packageID,
		ByTier:    map[domain.ConfidenceTier]int{},
	}
	for _, c := range cs {
		sum.Total++
		sum.ByTier[c.Tier]++
		switch c.Status {
		case domain.ConflictPendingReview:
			sum.Pending++
		case domain.ConflictResolved:
			sum.Resolved++
		case domain.ConflictIgnored:
			sum.Ignored++
		}
		if c.Escalated {
			sum.Escalated++
		}
		if c.Overdue(now, s.sla) {
			sum.Overdue++
		}
	}
	return sum, nil
}

type ResolveRequest struct {
	ConflictID string
	Action     domain.ResolutionAction
	SurvivorID string // Merge only: must name one of the two candidates
	Reason     string
	Actor      string
}

// Resolve closes a conflict with an explicit action and a mandatory reason.
func (s *ConflictService) Resolve(ctx context.Context, req ResolveRequest) (*ConflictView, error) {
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: resolve", domain.ErrReasonRequired)
	}
	if !domain.ValidResolutionAction(string(req.Action)) {
		return nil, fmt.Errorf("unknown resolution action %q", req.Action)
	}
	c, err := s.conflicts.Get(ctx, req.ConflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ConflictPendingReview {
		return nil, fmt.Errorf("%w: conflict is already %s", domain.ErrInvalidTransition, c.Status)
	}

	now := time.Now().UTC()
	switch req.Action {
	case domain.ActionIgnore:
		// False positive: retained for audit, excluded from future detector
		// runs (the pair key stays recorded).
		c.Status = domain.ConflictIgnored
	case domain.ActionMerge:
		if req.SurvivorID != c.First.ID && req.SurvivorID != c.Second.ID {
			return nil, fmt.Errorf("survivorId %q names neither candidate", req.SurvivorID)
		}
		discarded := c.First.ID
		if discarded == req.SurvivorID {
			discarded = c.Second.ID
		}
		prov := domain.MergeProvenanceRecord{
			SurvivorID:  req.SurvivorID,
			DiscardedID: discarded,
			Fields:      map[string]string{"*": "survivor"},
			MergedBy:    req.Actor,
			MergedAt:    now,
		}
		raw, err := json.Marshal(prov)
		if err != nil {
			return nil, err
		}
		c.MergeProvenance = raw
		c.SurvivorID = req.SurvivorID
		c.Status = domain.ConflictResolved
	case domain.ActionKeepFirst:
		c.SurvivorID = c.First.ID
		c.Status = domain.ConflictResolved
	case domain.ActionKeepSecond:
		c.SurvivorID = c.Second.ID
		c.Status = domain.ConflictResolved
	case domain.ActionKeepBoth:
		// Both entities remain distinct; nothing to remap at commit.
		c.Status = domain.ConflictResolved
	}
	c.Action = req.Action
	c.Reason = req.Reason
	c.ResolvedBy = sql.NullString{String: req.Actor, Valid: true}
	c.ResolvedAt = sql.NullTime{Time: now, Valid: true}

	if err := s.conflicts.Update(ctx, c); err != nil {
		return nil, err
	}
	if err := s.refreshPackageCounters(ctx, c.PackageID); err != nil {
		return nil, err
	}

	s.logger.Info("conflict resolved",
		zap.String("conflict_id", c.ConflictID),
		zap.String("action", string(req.Action)),
		zap.String("by", req.Actor))
	s.audit.Record(ctx, req.Actor, "conflict.resolve", "conflict", c.ConflictID, req.Reason,
		map[string]any{"action": req.Action, "survivor": c.SurvivorID})
	return s.view(c), nil
}

// Escalate flags a conflict for senior review. It does not change Status:
// an escalated conflict still blocks approval until resolved or ignored.
func (s *ConflictService) Escalate(ctx context.Context, conflictID, reason, actor string) (*ConflictView, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: escalate", domain.ErrReasonRequired)
	}
	c, err := s.conflicts.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ConflictPendingReview {
		return nil, fmt.Errorf("%w: cannot escalate a conflict that is %s", domain.ErrInvalidTransition, c.Status)
	}
	c.Escalated = true
	c.EscalationReason = sql.NullString{String: reason, Valid: true}
	c.AssignedTo = sql.NullString{String: seniorReviewQueue, Valid: true}
	if err := s.conflicts.Update(ctx, c); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, "conflict.escalate", "conflict", c.ConflictID, reason, nil)
	return s.view(c), nil
}

func (s *ConflictService) refreshPackageCounters(ctx context.Context, packageID string) error {
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return err
	}
	pending, err := s.conflicts.CountBlocking(ctx, packageID)
	if err != nil {
		return err
	}
	pkg.ConflictsPending = pending
	return s.packages.Update(ctx, pkg)
}
