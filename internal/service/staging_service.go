package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"
	"landrec-import/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StagingService unpacks a package past intake into per-entity staging rows,
// validating each row independently. Re-runnable: rows are keyed by
// (package, entity type, original id), so a second run refreshes instead of
// duplicating.
type StagingService struct {
	packages repository.PackagesRepository
	staging  repository.StagingRepository
	content  store.ContentStore
	vocab    VocabularyProvider
	audit    *AuditRecorder
	logger   *zap.Logger
}

func NewStagingService(
	packages repository.PackagesRepository,
	staging repository.StagingRepository,
	content store.ContentStore,
	vocab VocabularyProvider,
	audit *AuditRecorder,
	logger *zap.Logger,
) *StagingService {
	return &StagingService{
		packages: packages,
		staging:  staging,
		content:  content,
		vocab:    vocab,
		audit:    audit,
		logger:   logger,
	}
}

func (s *StagingService) Stage(ctx context.Context, packageID, actor string) (*domain.StagingSummary, error) {
	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Status.CanTransition(domain.PackageValidating) {
		return nil, fmt.Errorf("%w: cannot stage a package in status %s", domain.ErrInvalidTransition, pkg.Status)
	}
	if err := s.packages.TransitionStatus(ctx, packageID, pkg.Status, domain.PackageValidating); err != nil {
		return nil, err
	}

	summary, err := s.stage(ctx, pkg)
	if err != nil {
		// Structural package error: no rows staged, the package fails whole.
		pkg.FailureReason = sql.NullString{String: err.Error(), Valid: true}
		_ = s.packages.Update(ctx, pkg)
		_ = s.packages.TransitionStatus(ctx, packageID, domain.PackageValidating, domain.PackageFailed)
		return nil, err
	}

	if err := s.packages.TransitionStatus(ctx, packageID, domain.PackageValidating, domain.PackageValidated); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, "package.stage", "package", packageID, "",
		map[string]any{"invalid": summary.InvalidTotal()})
	return summary, nil
}

func (s *StagingService) stage(ctx context.Context, pkg *domain.ImportPackage) (*domain.StagingSummary, error) {
	body, err := s.content.Open(pkg.Checksum)
	if err != nil {
		return nil, fmt.Errorf("open package content: %w", err)
	}
	defer body.Close()

	payload, err := domain.DecodePackagePayload(body)
	if err != nil {
		return nil, err
	}

	snap, err := s.vocab.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	validator := NewValidator(snap)

	// Index of original ids per type, for intra-package reference checks.
	known := map[domain.EntityType]map[string]bool{}
	note := func(et domain.EntityType, id string) {
		if known[et] == nil {
			known[et] = map[string]bool{}
		}
		known[et][id] = true
	}
	for _, r := range payload.Buildings {
		note(domain.EntityBuilding, r.OriginalID)
	}
	for _, r := range payload.Units {
		note(domain.EntityPropertyUnit, r.OriginalID)
	}
	for _, r := range payload.Households {
		note(domain.EntityHousehold, r.OriginalID)
	}
	for _, r := range payload.Persons {
		note(domain.EntityPerson, r.OriginalID)
	}
	for _, r := range payload.Relations {
		note(domain.EntityRelation, r.OriginalID)
	}
	for _, r := range payload.Claims {
		note(domain.EntityClaim, r.OriginalID)
	}
	for _, r := range payload.Evidence {
		note(domain.EntityEvidence, r.OriginalID)
	}
	for _, r := range payload.Surveys {
		note(domain.EntitySurvey, r.OriginalID)
	}

	summary := &domain.StagingSummary{
		PackageID:         pkg.PackageID,
		VocabularyVersion: snap.Version,
		ByType:            map[domain.EntityType]*domain.StagingTypeCounts{},
		StagedAt:          time.Now().UTC(),
	}

	stageOne := func(et domain.EntityType, originalID string, entity any, refs map[string]string, errs, warns []string) error {
		if originalID == "" {
			// A record without its key can't be staged row-locally; count it
			// as invalid under a synthetic id so the report shows it.
			originalID = "missing-" + uuid.NewString()[:8]
			errs = append(errs, "originalId is required")
		}
		// Intra-package reference targets must exist in the same payload.
		for field, target := range refs {
			if target == "" {
				continue
			}
			targetType := domain.RefFields(et)[field]
			if !known[targetType][target] {
				errs = append(errs, fmt.Sprintf("%s: no %s with originalId %q in this package", field, targetType, target))
			}
		}

		raw, err := json.Marshal(entity)
		if err != nil {
			return err
		}
		var ri rowIssues
		ri.errors = errs
		ri.warnings = warns
		row := &domain.StagingRow{
			RowID:      uuid.NewString(),
			PackageID:  pkg.PackageID,
			EntityType: et,
			OriginalID: originalID,
			Entity:     raw,
			Refs:       refs,
			Status:     ri.status(),
			Errors:     errs,
			Warnings:   warns,
		}
		if err := s.staging.Upsert(ctx, row); err != nil {
			return err
		}
		c := summary.Counts(et)
		c.Total++
		switch row.Status {
		case domain.ValidationValid:
			c.Valid++
		case domain.ValidationWarning:
			c.Warning++
		case domain.ValidationInvalid:
			c.Invalid++
		}
		return nil
	}

	for i := range payload.Buildings {
		rec := &payload.Buildings[i]
		errs, warns := validator.Building(rec)
		if err := stageOne(domain.EntityBuilding, rec.OriginalID, rec, map[string]string{}, errs, warns); err != nil {
			return nil, err
		}
	}
	for i := range payload.Units {
		rec := &payload.Units[i]
		errs, warns := validator.PropertyUnit(rec)
		refs := map[string]string{"buildingRef": rec.BuildingRef}
		if err := stageOne(domain.EntityPropertyUnit, rec.OriginalID, rec, refs, errs, warns); err != nil {
			return nil, err
		}
	}
	for i := range payload.Households {
		rec := &payload.Households[i]
		errs, warns := validator.Household(rec)
		refs := map[string]string{"unitRef": rec.UnitRef}
		if err := stageOne(domain.EntityHousehold, rec.OriginalID, rec, refs, errs, warns); err != nil {
			return nil, err
		}
	}
	for i := range payload.Persons {
		rec := &payload.Persons[i]
		errs, warns := validator.Person(rec)
		refs := map[string]string{}
		if rec.HouseholdRef != "" {
			refs["householdRef"] = rec.HouseholdRef
		}
		if err := stageOne(domain.EntityPerson, rec.OriginalID, rec, refs, errs, warns); err != nil {
			return nil, err
		}
	}
	for i := range payload.Relations {
		rec := &payload.Relations[i]
		errs, warns := validator.Relation(rec)
		refs := map[string]string{"personRef": rec.PersonRef, "unitRef": rec.UnitRef}
		if err := stageOne(domain.EntityRelation, rec.OriginalID, rec, refs, errs, warns); err != nil {
			return nil, err
		}
	}
	for i := range payload.Claims {
		rec := &payload.Claims[i]
		errs, warns := validator.Claim(rec)
		refs := map[string]string{"claimantRef": rec.ClaimantRef, "unitRef": rec.UnitRef}
		if err := stageOne(domain.EntityClaim, rec.OriginalID, rec, refs, errs, warns); err != nil {
			return nil, err
		}
	}
	for i := range payload.Evidence {
		rec := &payload.Evidence[i]
		errs, warns := validator.Evidence(rec)
		refs := map[string]string{"claimRef": rec.ClaimRef}
		if err := stageOne(domain.EntityEvidence, rec.OriginalID, rec, refs, errs, warns); err != nil {
			return nil, err
		}
	}
	for i := range payload.Surveys {
		rec := &payload.Surveys[i]
		errs, warns := validator.Survey(rec)
		refs := map[string]string{"unitRef": rec.UnitRef}
		if err := stageOne(domain.EntitySurvey, rec.OriginalID, rec, refs, errs, warns); err != nil {
			return nil, err
		}
	}

	// Persist counts and the vocabulary version the run was judged against.
	pkg.VocabularyVersion = snap.Version
	pkg.RecordCounts = domain.EntityCounts{}
	pkg.ValidCounts = domain.EntityCounts{}
	pkg.InvalidCounts = domain.EntityCounts{}
	for et, c := range summary.ByType {
		pkg.RecordCounts[et] = c.Total
		pkg.ValidCounts[et] = c.Valid + c.Warning
		pkg.InvalidCounts[et] = c.Invalid
	}
	if err := s.packages.Update(ctx, pkg); err != nil {
		return nil, err
	}

	s.logger.Info("package staged",
		zap.String("package_id", pkg.PackageID),
		zap.Int("records", pkg.RecordCounts.Total()),
		zap.Int("invalid", summary.InvalidTotal()),
		zap.String("vocabulary", snap.Version))
	return summary, nil
}

// ValidationReport is the read-only view of a package's staged rows.
type ValidationReport struct {
	PackageID string               `json:"packageId"`
	Rows      []*domain.StagingRow `json:"rows"`
}

func (s *StagingService) ValidationReport(ctx context.Context, packageID string) (*ValidationReport, error) {
	if _, err := s.packages.Get(ctx, packageID); err != nil {
		return nil, err
	}
	rows, err := s.staging.ListByPackage(ctx, packageID, "")
	if err != nil {
		return nil, err
	}
	return &ValidationReport{PackageID: packageID, Rows: rows}, nil
}
