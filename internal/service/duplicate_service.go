package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/matching"
	"landrec-import/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DuplicateService scans staged Person and PropertyUnit rows against each
// other and against committed production records, recording one
// ConflictResolution per matched pair. Idempotent per package: the pair key
// keeps a re-run from inserting the same pair twice.
type DuplicateService struct {
	packages   repository.PackagesRepository
	staging    repository.StagingRepository
	conflicts  repository.ConflictsRepository
	production repository.ProductionRepository
	matchCfg   matching.Config
	audit      *AuditRecorder
	logger     *zap.Logger
}

func NewDuplicateService(
	packages repository.PackagesRepository,
	staging repository.StagingRepository,
	conflicts repository.ConflictsRepository,
	production repository.ProductionRepository,
	matchCfg matching.Config,
	audit *AuditRecorder,
	logger *zap.Logger,
) *DuplicateService {
	return &DuplicateService{
		packages:   packages,
		staging:    staging,
		conflicts:  conflicts,
		production: production,
		matchCfg:   matchCfg,
		audit:      audit,
		logger:     logger,
	}
}

type DetectionResult struct {
	PackageID    string `json:"packageId"`
	NewConflicts int    `json:"newConflicts"`
	Pending      int    `json:"pending"`
	Total        int    `json:"total"`
}

func (s *DuplicateService) Detect(ctx context.Context, packageID, actor string) (*DetectionResult, error) {
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Status.CanTransition(domain.PackageDuplicatesDetected) {
		return nil, fmt.Errorf("%w: cannot detect duplicates in status %s", domain.ErrInvalidTransition, pkg.Status)
	}
	if err := s.packages.TransitionStatus(ctx, packageID, pkg.Status, domain.PackageDuplicatesDetected); err != nil {
		return nil, err
	}

	newConflicts := 0
	record := func(c *domain.ConflictResolution) error {
		inserted, err := s.conflicts.InsertIfAbsent(ctx, c)
		if err != nil {
			return err
		}
		if inserted {
			newConflicts++
		}
		return nil
	}

	if err := s.detectPersons(ctx, packageID, record); err != nil {
		return nil, err
	}
	if err := s.detectProperties(ctx, packageID, record); err != nil {
		return nil, err
	}
	if err := s.detectClaims(ctx, packageID, record); err != nil {
		return nil, err
	}

	pending, err := s.conflicts.CountBlocking(ctx, packageID)
	if err != nil {
		return nil, err
	}
	all, err := s.conflicts.List(ctx, repository.ConflictFilter{PackageID: packageID, Limit: 100000})
	if err != nil {
		return nil, err
	}
	pkg.ConflictsTotal = len(all)
	pkg.ConflictsPending = pending
	if err := s.packages.Update(ctx, pkg); err != nil {
		return nil, err
	}
	if pending > 0 {
		if err := s.packages.TransitionStatus(ctx, packageID, domain.PackageDuplicatesDetected, domain.PackageAwaitingResolution); err != nil {
			return nil, err
		}
	}

	s.logger.Info("duplicate detection finished",
		zap.String("package_id", packageID),
		zap.Int("new", newConflicts),
		zap.Int("pending", pending))
	s.audit.Record(ctx, actor, "package.detect", "package", packageID, "",
		map[string]any{"new": newConflicts, "pending": pending})
	return &DetectionResult{PackageID: packageID, NewConflicts: newConflicts, Pending: pending, Total: len(all)}, nil
}

func (s *DuplicateService) detectPersons(ctx context.Context, packageID string, record func(*domain.ConflictResolution) error) error {
	rows, err := s.staging.ListByPackage(ctx, packageID, domain.EntityPerson)
	if err != nil {
		return err
	}
	relations, err := s.staging.ListByPackage(ctx, packageID, domain.EntityRelation)
	if err != nil {
		return err
	}
	// Unit references per person, for the shared-location low-tier rule.
	unitRefs := map[string][]string{}
	for _, rel := range relations {
		var rec domain.RelationRecord
		if err := rel.DecodeEntity(&rec); err != nil {
			continue
		}
		unitRefs[rec.PersonRef] = append(unitRefs[rec.PersonRef], rec.UnitRef)
	}

	cands := make([]matching.PersonCandidate, 0, len(rows))
	for _, row := range rows {
		if row.Status == domain.ValidationInvalid {
			continue // invalid rows never commit, no point flagging them
		}
		var rec domain.PersonRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return fmt.Errorf("decode staged person %s: %w", row.OriginalID, err)
		}
		cands = append(cands, matching.PersonCandidate{
			ID:         row.OriginalID,
			FullName:   rec.FullName,
			BirthDate:  rec.BirthDate,
			Gender:     rec.Gender,
			NationalID: rec.NationalID,
			UnitRefs:   unitRefs[row.OriginalID],
		})
	}

	// (a) within the package
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			m := matching.MatchPersons(cands[i], cands[j], s.matchCfg)
			if !m.Matched {
				continue
			}
			if err := record(s.newConflict(packageID, domain.ConflictPersonDuplicate, domain.EntityPerson,
				domain.EntityRef{Source: domain.SourceStaging, ID: cands[i].ID},
				domain.EntityRef{Source: domain.SourceStaging, ID: cands[j].ID}, m)); err != nil {
				return err
			}
		}
	}

	// (b) against production, via blocking-key candidate retrieval
	for _, cand := range cands {
		prod, err := s.productionPersonCandidates(ctx, cand)
		if err != nil {
			return err
		}
		for _, p := range prod {
			m := matching.MatchPersons(cand, p, s.matchCfg)
			if !m.Matched {
				continue
			}
			if err := record(s.newConflict(packageID, domain.ConflictPersonDuplicate, domain.EntityPerson,
				domain.EntityRef{Source: domain.SourceStaging, ID: cand.ID},
				domain.EntityRef{Source: domain.SourceProduction, ID: p.ID}, m)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *DuplicateService) productionPersonCandidates(ctx context.Context, cand matching.PersonCandidate) ([]matching.PersonCandidate, error) {
	seen := map[string]bool{}
	var out []matching.PersonCandidate
	add := func(persons []*domain.Person) {
		for _, p := range persons {
			if seen[p.PersonID] {
				continue
			}
			seen[p.PersonID] = true
			out = append(out, matching.PersonCandidate{
				ID:         p.PersonID,
				FullName:   p.FullName,
				BirthDate:  p.BirthDate,
				Gender:     p.Gender,
				NationalID: p.NationalID,
			})
		}
	}

	byID, err := s.production.FindPersonsByNationalID(ctx, matching.NormalizeExternalID(cand.NationalID))
	if err != nil {
		return nil, err
	}
	add(byID)

	norm := matching.NormalizeName(cand.FullName)
	byName, err := s.production.FindPersonsByNormalizedName(ctx, norm)
	if err != nil {
		return nil, err
	}
	add(byName)

	byToken, err := s.production.FindPersonsByNameTokens(ctx, strings.Fields(norm))
	if err != nil {
		return nil, err
	}
	add(byToken)
	return out, nil
}

func (s *DuplicateService) detectProperties(ctx context.Context, packageID string, record func(*domain.ConflictResolution) error) error {
	rows, err := s.staging.ListByPackage(ctx, packageID, domain.EntityPropertyUnit)
	if err != nil {
		return err
	}
	cands := make([]matching.PropertyCandidate, 0, len(rows))
	for _, row := range rows {
		if row.Status == domain.ValidationInvalid {
			continue
		}
		var rec domain.PropertyUnitRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return fmt.Errorf("decode staged unit %s: %w", row.OriginalID, err)
		}
		cands = append(cands, matching.PropertyCandidate{
			ID:         row.OriginalID,
			ParcelID:   rec.ParcelID,
			AdminCode:  rec.AdminCode,
			UnitNumber: rec.UnitNumber,
			BBox:       rec.BBox,
		})
	}

	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			m := matching.MatchProperties(cands[i], cands[j], s.matchCfg)
			if !m.Matched {
				continue
			}
			if err := record(s.newConflict(packageID, domain.ConflictPropertyDuplicate, domain.EntityPropertyUnit,
				domain.EntityRef{Source: domain.SourceStaging, ID: cands[i].ID},
				domain.EntityRef{Source: domain.SourceStaging, ID: cands[j].ID}, m)); err != nil {
				return err
			}
		}
	}

	for _, cand := range cands {
		seen := map[string]bool{}
		var prod []matching.PropertyCandidate
		add := func(units []*domain.PropertyUnit) {
			for _, u := range units {
				if seen[u.UnitID] {
					continue
				}
				seen[u.UnitID] = true
				prod = append(prod, matching.PropertyCandidate{
					ID:         u.UnitID,
					ParcelID:   u.ParcelID,
					AdminCode:  u.AdminCode,
					UnitNumber: u.UnitNumber,
					BBox:       u.BBox,
				})
			}
		}
		byParcel, err := s.production.FindUnitsByParcelID(ctx, matching.NormalizeExternalID(cand.ParcelID))
		if err != nil {
			return err
		}
		add(byParcel)
		byAdmin, err := s.production.FindUnitsByAdminCode(ctx, cand.AdminCode)
		if err != nil {
			return err
		}
		add(byAdmin)

		for _, p := range prod {
			m := matching.MatchProperties(cand, p, s.matchCfg)
			if !m.Matched {
				continue
			}
			if err := record(s.newConflict(packageID, domain.ConflictPropertyDuplicate, domain.EntityPropertyUnit,
				domain.EntityRef{Source: domain.SourceStaging, ID: cand.ID},
				domain.EntityRef{Source: domain.SourceProduction, ID: p.ID}, m)); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectClaims flags two staged claims of the same type on the same unit by
// different claimants.
func (s *DuplicateService) detectClaims(ctx context.Context, packageID string, record func(*domain.ConflictResolution) error) error {
	rows, err := s.staging.ListByPackage(ctx, packageID, domain.EntityClaim)
	if err != nil {
		return err
	}
	type claimKey struct{ unitRef, claimType string }
	byUnit := map[claimKey][]*domain.StagingRow{}
	claimants := map[string]string{} // original id -> claimant ref
	for _, row := range rows {
		if row.Status == domain.ValidationInvalid {
			continue
		}
		var rec domain.ClaimRecord
		if err := row.DecodeEntity(&rec); err != nil {
			continue
		}
		k := claimKey{unitRef: rec.UnitRef, claimType: rec.ClaimType}
		byUnit[k] = append(byUnit[k], row)
		claimants[row.OriginalID] = rec.ClaimantRef
	}
	for _, group := range byUnit {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if claimants[group[i].OriginalID] == claimants[group[j].OriginalID] {
					continue
				}
				m := matching.Match{Matched: true, Score: 50, Tier: matching.TierLow}
				if err := record(s.newConflict(packageID, domain.ConflictClaimConflict, domain.EntityClaim,
					domain.EntityRef{Source: domain.SourceStaging, ID: group[i].OriginalID},
					domain.EntityRef{Source: domain.SourceStaging, ID: group[j].OriginalID}, m)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *DuplicateService) newConflict(packageID string, ct domain.ConflictType, et domain.EntityType, first, second domain.EntityRef, m matching.Match) *domain.ConflictResolution {
	return &domain.ConflictResolution{
		ConflictID: uuid.NewString(),
		PackageID:  packageID,
		Type:       ct,
		EntityType: et,
		First:      first,
		Second:     second,
		PairKey:    domain.MakePairKey(et, first, second),
		Score:      m.Score,
		Tier:       domain.ConfidenceTier(m.Tier),
		Status:     domain.ConflictPendingReview,
		DetectedAt: time.Now().UTC(),
	}
}
