package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/matching"
	"landrec-import/internal/repository"
	"landrec-import/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommitService is the approval gate and the commit engine. Approve flips the
// package to Approved only when no conflict still blocks it; Commit moves the
// approved staging rows into production inside one transaction, dependency
// order, with per-row savepoints so a single bad row degrades the run to
// partial instead of aborting it.
type CommitService struct {
	packages   repository.PackagesRepository
	staging    repository.StagingRepository
	conflicts  repository.ConflictsRepository
	production repository.ProductionRepository
	content    store.ContentStore
	audit      *AuditRecorder
	logger     *zap.Logger
}

func NewCommitService(
	packages repository.PackagesRepository,
	staging repository.StagingRepository,
	conflicts repository.ConflictsRepository,
	production repository.ProductionRepository,
	content store.ContentStore,
	audit *AuditRecorder,
	logger *zap.Logger,
) *CommitService {
	return &CommitService{
		packages:   packages,
		staging:    staging,
		conflicts:  conflicts,
		production: production,
		content:    content,
		audit:      audit,
		logger:     logger,
	}
}

// Approve marks every Valid/Warning row of the package as approved and moves
// the package to Approved. Refused while any conflict is still PendingReview;
// a refused approval mutates nothing.
func (s *CommitService) Approve(ctx context.Context, packageID, actor string) (*domain.ImportPackage, error) {
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Status.CanTransition(domain.PackageApproved) {
		return nil, fmt.Errorf("%w: approve from %s", domain.ErrInvalidTransition, pkg.Status)
	}
	blocking, err := s.conflicts.CountBlocking(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if blocking > 0 {
		return nil, fmt.Errorf("%w: %d conflicts pending review", domain.ErrConflictBlocking, blocking)
	}
	if err := s.packages.TransitionStatus(ctx, packageID, pkg.Status, domain.PackageApproved); err != nil {
		return nil, err
	}
	if err := s.staging.SetApproved(ctx, packageID, true); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, "package.approve", "package", packageID, "", nil)
	s.logger.Info("package approved", zap.String("package_id", packageID), zap.String("actor", actor))
	return s.packages.Get(ctx, packageID)
}

// survivorAlias maps a discarded staging row to the surviving side of its
// resolved conflict.
type survivorAlias struct {
	loserOriginal string
	survivor      domain.EntityRef
	conflictID    string
}

// prodMerge records a production-side entity that lost a merge against a
// staged survivor.
type prodMerge struct {
	entityType       domain.EntityType
	loserID          string
	survivorOriginal string
}

// Commit moves the package's approved rows into production. One transaction
// for the whole package: duplicated claim numbers or half-written merge state
// cannot be observed by readers. Row-level insert failures roll back to a
// savepoint and the run continues; the report marks it partial.
func (s *CommitService) Commit(ctx context.Context, packageID, actor string) (*domain.CommitReport, error) {
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if err := s.packages.TransitionStatus(ctx, packageID, domain.PackageApproved, domain.PackageCommitting); err != nil {
		return nil, err
	}

	report, err := s.run(ctx, pkg, actor)
	if err != nil {
		s.logger.Error("package commit failed",
			zap.String("package_id", packageID), zap.Error(err))
		pkg.FailureReason.String = err.Error()
		pkg.FailureReason.Valid = true
		if uerr := s.packages.Update(ctx, pkg); uerr != nil {
			s.logger.Error("record commit failure", zap.String("package_id", packageID), zap.Error(uerr))
		}
		if terr := s.packages.TransitionStatus(ctx, packageID, domain.PackageCommitting, domain.PackageFailed); terr != nil {
			s.logger.Error("transition to failed", zap.String("package_id", packageID), zap.Error(terr))
		}
		return nil, err
	}

	pkg.CommitReport = report
	if err := s.packages.Update(ctx, pkg); err != nil {
		return nil, err
	}
	if err := s.packages.TransitionStatus(ctx, packageID, domain.PackageCommitting, domain.PackageCommitted); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, "package.commit", "package", packageID, "", map[string]any{
		"partial":  report.Partial,
		"failures": len(report.RowFailures),
	})
	s.logger.Info("package committed",
		zap.String("package_id", packageID),
		zap.Bool("partial", report.Partial),
		zap.Int("row_failures", len(report.RowFailures)))
	return report, nil
}

func (s *CommitService) run(ctx context.Context, pkg *domain.ImportPackage, actor string) (*domain.CommitReport, error) {
	rows, err := s.staging.ListByPackage(ctx, pkg.PackageID, "")
	if err != nil {
		return nil, err
	}
	resolved, err := s.conflicts.ResolvedForPackage(ctx, pkg.PackageID)
	if err != nil {
		return nil, err
	}

	byType := map[domain.EntityType][]*domain.StagingRow{}
	rowByKey := map[string]*domain.StagingRow{}
	for _, row := range rows {
		byType[row.EntityType] = append(byType[row.EntityType], row)
		rowByKey[rowKey(row.EntityType, row.OriginalID)] = row
	}

	// skip maps a discarded staging original id to its surviving candidate;
	// prodMerges are production rows superseded by a staged survivor.
	skip := map[string]survivorAlias{}
	var prodMerges []prodMerge
	for _, c := range resolved {
		survivor, loser, ok := mergeSides(c)
		if !ok {
			continue
		}
		if loser.Source == domain.SourceStaging {
			skip[rowKey(c.EntityType, loser.ID)] = survivorAlias{
				loserOriginal: loser.ID,
				survivor:      survivor,
				conflictID:    c.ConflictID,
			}
		} else if survivor.Source == domain.SourceStaging {
			prodMerges = append(prodMerges, prodMerge{
				entityType:       c.EntityType,
				loserID:          loser.ID,
				survivorOriginal: survivor.ID,
			})
		}
	}

	report := domain.NewCommitReport(pkg.PackageID)
	// idMap: entity type -> original id -> production id. Merge losers are
	// aliased to their survivor's production id so child refs land on the
	// survivor.
	idMap := map[domain.EntityType]map[string]string{}
	for _, et := range domain.CommitOrder() {
		idMap[et] = map[string]string{}
	}

	tx, err := s.production.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(); rerr != nil {
				s.logger.Warn("commit rollback", zap.String("package_id", pkg.PackageID), zap.Error(rerr))
			}
		}
	}()

	spSeq := 0
	for _, et := range domain.CommitOrder() {
		counts := report.Counts(et)
		for _, row := range byType[et] {
			if row.ProductionID.Valid {
				// Already committed by a previous (partial) run.
				idMap[et][row.OriginalID] = row.ProductionID.String
				continue
			}
			if !row.Approved || row.Status == domain.ValidationInvalid {
				continue
			}
			if _, discarded := skip[rowKey(et, row.OriginalID)]; discarded {
				continue // aliased after the type loop
			}
			if _, skipReason := resolveRefs(row, idMap); skipReason != "" {
				counts.Skipped++
				report.RowFailures = append(report.RowFailures, domain.CommitFailure{
					EntityType: et, OriginalID: row.OriginalID, Reason: skipReason, Skipped: true,
				})
				continue
			}

			spSeq++
			sp := fmt.Sprintf("row_%d", spSeq)
			if err := tx.Savepoint(ctx, sp); err != nil {
				return nil, err
			}
			prodID, err := s.commitRow(ctx, tx, pkg, row, idMap)
			if err == nil {
				err = tx.MarkRowCommitted(ctx, row.RowID, prodID)
			}
			if err != nil {
				if rerr := tx.RollbackToSavepoint(ctx, sp); rerr != nil {
					return nil, fmt.Errorf("rollback row %s/%s: %w", et, row.OriginalID, rerr)
				}
				counts.Failed++
				report.RowFailures = append(report.RowFailures, domain.CommitFailure{
					EntityType: et, OriginalID: row.OriginalID, Reason: err.Error(),
				})
				s.logger.Warn("row commit failed",
					zap.String("package_id", pkg.PackageID),
					zap.String("entity_type", string(et)),
					zap.String("original_id", row.OriginalID),
					zap.Error(err))
				continue
			}
			idMap[et][row.OriginalID] = prodID
			counts.Committed++
		}

		// Alias discarded rows of this type now that survivors of the same
		// type are in. Children of a discarded row then resolve to the
		// survivor's production id.
		for key, alias := range skip {
			keyET, _ := splitRowKey(key)
			if keyET != et {
				continue
			}
			survivorProd := alias.survivor.ID
			if alias.survivor.Source == domain.SourceStaging {
				survivorProd = idMap[et][alias.survivor.ID]
			}
			row := rowByKey[key]
			if survivorProd == "" {
				counts.Skipped++
				report.RowFailures = append(report.RowFailures, domain.CommitFailure{
					EntityType: et, OriginalID: alias.loserOriginal,
					Reason: "merge survivor not committed", Skipped: true,
				})
				continue
			}
			idMap[et][alias.loserOriginal] = survivorProd
			counts.Skipped++
			if row != nil && !row.ProductionID.Valid {
				if err := tx.MarkRowCommitted(ctx, row.RowID, survivorProd); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, m := range prodMerges {
		survivorProd := idMap[m.entityType][m.survivorOriginal]
		if survivorProd == "" {
			report.RowFailures = append(report.RowFailures, domain.CommitFailure{
				EntityType: m.entityType, OriginalID: m.survivorOriginal,
				Reason: "merge survivor not committed, production row left unmerged", Skipped: true,
			})
			continue
		}
		switch m.entityType {
		case domain.EntityPerson:
			if err := tx.MarkPersonMerged(ctx, m.loserID, survivorProd); err != nil {
				return nil, fmt.Errorf("mark person %s merged: %w", m.loserID, err)
			}
		case domain.EntityPropertyUnit:
			if err := tx.MarkUnitMerged(ctx, m.loserID, survivorProd); err != nil {
				return nil, fmt.Errorf("mark unit %s merged: %w", m.loserID, err)
			}
		default:
			// No merge marker for this entity type; surface the unapplied
			// resolution instead of silently keeping both rows.
			report.RowFailures = append(report.RowFailures, domain.CommitFailure{
				EntityType: m.entityType, OriginalID: m.loserID,
				Reason: "production merge loser cannot be discarded for this entity type",
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	report.FinishedAt = time.Now().UTC()
	// Merge losers count as Skipped but are expected outcomes; only rows
	// that failed or were dropped without a survivor make the run partial.
	report.Partial = len(report.RowFailures) > 0
	return report, nil
}

// resolveRefs checks that every required reference of the row has a committed
// target. A missing target is a referential skip, not a failure: the parent
// was invalid, failed, or discarded without a committed survivor.
func resolveRefs(row *domain.StagingRow, idMap map[domain.EntityType]map[string]string) (map[string]string, string) {
	resolved := map[string]string{}
	for field, targetType := range domain.RefFields(row.EntityType) {
		orig := row.Refs[field]
		if orig == "" {
			continue // optional refs were validated at staging
		}
		prodID := idMap[targetType][orig]
		if prodID == "" {
			return nil, fmt.Sprintf("%s %s not committed", targetType, orig)
		}
		resolved[field] = prodID
	}
	return resolved, ""
}

func (s *CommitService) commitRow(ctx context.Context, tx repository.ProductionTx, pkg *domain.ImportPackage, row *domain.StagingRow, idMap map[domain.EntityType]map[string]string) (string, error) {
	refs, _ := resolveRefs(row, idMap)
	prodID := uuid.NewString()

	switch row.EntityType {
	case domain.EntityBuilding:
		var rec domain.BuildingRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		return prodID, tx.CreateBuilding(ctx, &domain.Building{
			BuildingID:    prodID,
			Name:          rec.Name,
			AdminCode:     rec.AdminCode,
			Address:       rec.Address,
			Floors:        rec.Floors,
			BBox:          rec.BBox,
			SourcePackage: pkg.PackageID,
		})

	case domain.EntityPropertyUnit:
		var rec domain.PropertyUnitRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		return prodID, tx.CreatePropertyUnit(ctx, &domain.PropertyUnit{
			UnitID:        prodID,
			BuildingID:    refs["buildingRef"],
			UnitNumber:    rec.UnitNumber,
			Floor:         rec.Floor,
			Area:          rec.Area,
			AdminCode:     rec.AdminCode,
			ParcelID:      rec.ParcelID,
			BBox:          rec.BBox,
			SourcePackage: pkg.PackageID,
		})

	case domain.EntityHousehold:
		var rec domain.HouseholdRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		return prodID, tx.CreateHousehold(ctx, &domain.Household{
			HouseholdID:   prodID,
			UnitID:        refs["unitRef"],
			Name:          rec.Name,
			MemberCount:   rec.MemberCount,
			SourcePackage: pkg.PackageID,
		})

	case domain.EntityPerson:
		var rec domain.PersonRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		p := &domain.Person{
			PersonID:       prodID,
			FullName:       rec.FullName,
			NormalizedName: matching.NormalizeName(rec.FullName),
			BirthDate:      rec.BirthDate,
			Gender:         rec.Gender,
			NationalID:     rec.NationalID,
			Phone:          rec.Phone,
			SourcePackage:  pkg.PackageID,
		}
		if hh := refs["householdRef"]; hh != "" {
			p.HouseholdID.String = hh
			p.HouseholdID.Valid = true
		}
		return prodID, tx.CreatePerson(ctx, p)

	case domain.EntityRelation:
		var rec domain.RelationRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		return prodID, tx.CreateRelation(ctx, &domain.PersonPropertyRelation{
			RelationID:    prodID,
			PersonID:      refs["personRef"],
			UnitID:        refs["unitRef"],
			RelationType:  rec.RelationType,
			SharePercent:  rec.SharePercent,
			SourcePackage: pkg.PackageID,
		})

	case domain.EntityClaim:
		var rec domain.ClaimRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		// Claim numbers come from the database sequence at commit time,
		// never from the device.
		n, err := tx.NextClaimNumber(ctx)
		if err != nil {
			return "", err
		}
		return prodID, tx.CreateClaim(ctx, &domain.Claim{
			ClaimID:       prodID,
			ClaimNumber:   fmt.Sprintf("CLM-%06d", n),
			ClaimantID:    refs["claimantRef"],
			UnitID:        refs["unitRef"],
			ClaimType:     rec.ClaimType,
			DeclaredDate:  rec.DeclaredDate,
			Notes:         rec.Notes,
			SourcePackage: pkg.PackageID,
		})

	case domain.EntityEvidence:
		var rec domain.EvidenceRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		if err := s.storeEvidenceContent(ctx, tx, &rec); err != nil {
			return "", err
		}
		return prodID, tx.CreateEvidence(ctx, &domain.Evidence{
			EvidenceID:    prodID,
			ClaimID:       refs["claimRef"],
			FileName:      rec.FileName,
			MimeType:      rec.MimeType,
			ContentHash:   rec.ContentHash,
			Size:          rec.Size,
			SourcePackage: pkg.PackageID,
		})

	case domain.EntitySurvey:
		var rec domain.SurveyRecord
		if err := row.DecodeEntity(&rec); err != nil {
			return "", err
		}
		return prodID, tx.CreateSurvey(ctx, &domain.Survey{
			SurveyID:      prodID,
			UnitID:        refs["unitRef"],
			Surveyor:      rec.Surveyor,
			SurveyDate:    rec.SurveyDate,
			Notes:         rec.Notes,
			SourcePackage: pkg.PackageID,
		})
	}
	return "", fmt.Errorf("unknown entity type %q", row.EntityType)
}

// storeEvidenceContent makes sure the blob behind the catalog row exists.
// Identical content across rows is stored once; every row still gets its own
// catalog entry.
func (s *CommitService) storeEvidenceContent(ctx context.Context, tx repository.ProductionTx, rec *domain.EvidenceRecord) error {
	if len(rec.Content) > 0 {
		hash, size, existed, err := s.content.Put(bytes.NewReader(rec.Content))
		if err != nil {
			return fmt.Errorf("store evidence content: %w", err)
		}
		if hash != rec.ContentHash {
			return fmt.Errorf("evidence content hash mismatch: declared %s, stored %s", rec.ContentHash, hash)
		}
		if existed {
			s.logger.Debug("evidence content deduplicated",
				zap.String("content_hash", hash), zap.Int64("size", size))
		}
		return nil
	}
	// No inline content: acceptable only when the blob is already stored,
	// either by an earlier package or an earlier row of this one.
	has, err := s.content.Has(rec.ContentHash)
	if err != nil {
		return err
	}
	if !has {
		if cataloged, err := tx.EvidenceHashExists(ctx, rec.ContentHash); err != nil {
			return err
		} else if cataloged {
			// Catalog row exists but the blob is gone; surface it rather
			// than silently cataloging unreadable evidence.
			return fmt.Errorf("evidence content %s cataloged but blob missing", rec.ContentHash)
		}
		return fmt.Errorf("evidence content %s not stored and not inlined", rec.ContentHash)
	}
	return nil
}

// Report returns the stored commit report.
func (s *CommitService) Report(ctx context.Context, packageID string) (*domain.CommitReport, error) {
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg.CommitReport == nil {
		return nil, fmt.Errorf("%w: no commit report for package %s", domain.ErrNotFound, packageID)
	}
	return pkg.CommitReport, nil
}

// Cancel abandons a package. Allowed from any pre-terminal state except
// Committing; the reason is mandatory and kept on the package.
func (s *CommitService) Cancel(ctx context.Context, packageID, actor, reason string) (*domain.ImportPackage, error) {
	return s.terminate(ctx, packageID, actor, reason, domain.PackageCancelled, "package.cancel")
}

// Quarantine sets a package aside for manual inspection, same transition
// rules as Cancel.
func (s *CommitService) Quarantine(ctx context.Context, packageID, actor, reason string) (*domain.ImportPackage, error) {
	return s.terminate(ctx, packageID, actor, reason, domain.PackageQuarantined, "package.quarantine")
}

func (s *CommitService) terminate(ctx context.Context, packageID, actor, reason string, to domain.PackageStatus, action string) (*domain.ImportPackage, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrReasonRequired, action)
	}
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s from %s", domain.ErrInvalidTransition, to, pkg.Status)
	}
	if err := s.packages.TransitionStatus(ctx, packageID, pkg.Status, to); err != nil {
		return nil, err
	}
	pkg, err = s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	pkg.FailureReason.String = reason
	pkg.FailureReason.Valid = true
	if err := s.packages.Update(ctx, pkg); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, action, "package", packageID, reason, nil)
	s.logger.Info("package terminated",
		zap.String("package_id", packageID),
		zap.String("status", string(to)),
		zap.String("actor", actor))
	return pkg, nil
}

// mergeSides derives (survivor, loser) from a resolved conflict. KeepBoth and
// Ignore discard nothing.
func mergeSides(c *domain.ConflictResolution) (survivor, loser domain.EntityRef, ok bool) {
	switch c.Action {
	case domain.ActionMerge:
		if c.SurvivorID == c.First.ID {
			return c.First, c.Second, true
		}
		return c.Second, c.First, true
	case domain.ActionKeepFirst:
		return c.First, c.Second, true
	case domain.ActionKeepSecond:
		return c.Second, c.First, true
	}
	return domain.EntityRef{}, domain.EntityRef{}, false
}

func rowKey(et domain.EntityType, originalID string) string {
	return string(et) + "|" + originalID
}

func splitRowKey(key string) (domain.EntityType, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return domain.EntityType(key[:i]), key[i+1:]
		}
	}
	return "", key
}
