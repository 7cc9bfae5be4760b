package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/matching"
	"landrec-import/internal/repository"
	"landrec-import/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipelineEnv wires the full intake-to-commit pipeline on memory backends.
type pipelineEnv struct {
	packages    *repository.MemoryPackagesRepository
	staging     *repository.MemoryStagingRepository
	conflicts   *repository.MemoryConflictsRepository
	production  *repository.MemoryProductionRepository
	content     *store.MemoryContentStore
	auditRepo   *repository.MemoryAuditRepository
	intake      *IntakeService
	stager      *StagingService
	duplicates  *DuplicateService
	conflictSvc *ConflictService
	commits     *CommitService
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	logger := zap.NewNop()
	e := &pipelineEnv{
		packages:  repository.NewMemoryPackagesRepository(),
		staging:   repository.NewMemoryStagingRepository(),
		conflicts: repository.NewMemoryConflictsRepository(),
		content:   store.NewMemoryContentStore(),
		auditRepo: repository.NewMemoryAuditRepository(),
	}
	e.production = repository.NewMemoryProductionRepository(e.staging)
	audit := NewAuditRecorder(e.auditRepo, nil, "", logger)
	vocab := &StaticVocabulary{Snap: testVocabulary()}

	e.intake = NewIntakeService(e.packages, e.content, audit, "", logger)
	e.stager = NewStagingService(e.packages, e.staging, e.content, vocab, audit, logger)
	e.duplicates = NewDuplicateService(e.packages, e.staging, e.conflicts, e.production, matching.DefaultConfig(), audit, logger)
	e.conflictSvc = NewConflictService(e.packages, e.conflicts, 72*time.Hour, audit, logger)
	e.commits = NewCommitService(e.packages, e.staging, e.conflicts, e.production, e.content, audit, logger)
	return e
}

func testVocabulary() *domain.VocabularySnapshot {
	updated := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	codes := func(dom string, names ...string) []domain.VocabularyCode {
		out := make([]domain.VocabularyCode, 0, len(names))
		for _, n := range names {
			out = append(out, domain.VocabularyCode{Domain: dom, Code: n, Label: n, Active: true, UpdatedAt: updated})
		}
		return out
	}
	return &domain.VocabularySnapshot{
		Version: "vocab-test-1",
		Codes: map[string][]domain.VocabularyCode{
			"gender":        codes("gender", "male", "female", "other", "unknown"),
			"relation_type": codes("relation_type", "owner", "co_owner", "tenant", "heir", "occupant"),
			"claim_type":    codes("claim_type", "ownership", "tenure", "inheritance", "occupation"),
		},
	}
}

func (e *pipelineEnv) upload(t *testing.T, payload *domain.PackagePayload) *domain.ImportPackage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	res, err := e.intake.Upload(context.Background(), UploadRequest{
		Manifest: UploadManifest{
			PackageID:   payload.PackageID,
			FileName:    payload.PackageID + ".lrpkg",
			Checksum:    hex.EncodeToString(sum[:]),
			DeviceID:    payload.DeviceID,
			CollectorID: payload.CollectorID,
			ExportedAt:  payload.ExportedAt,
		},
		Body:       bytes.NewReader(raw),
		UploadedBy: "op-1",
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	return res.Package
}

// fixturePayload carries one building/unit/household, two persons that share
// a national id under different formatting, relations and a claim attached
// to the second person, and two evidence files with identical bytes.
func fixturePayload(packageID string) *domain.PackagePayload {
	deed := []byte("scanned deed bytes")
	deedSum := sha256.Sum256(deed)
	deedHash := hex.EncodeToString(deedSum[:])
	return &domain.PackagePayload{
		PackageID:   packageID,
		DeviceID:    "tab-07",
		CollectorID: "col-1",
		ExportedAt:  time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Buildings: []domain.BuildingRecord{
			{OriginalID: "b-1", Name: "Riverside Block", AdminCode: "ADM-01", Address: "12 River Rd", Floors: 2, BBox: "10,10,20,20"},
		},
		Units: []domain.PropertyUnitRecord{
			{OriginalID: "u-1", BuildingRef: "b-1", UnitNumber: "A-1", Floor: "1", Area: 55, AdminCode: "ADM-01", ParcelID: "PC-100", BBox: "10,10,15,15"},
		},
		Households: []domain.HouseholdRecord{
			{OriginalID: "h-1", UnitRef: "u-1", Name: "Garcia household", MemberCount: 3},
		},
		Persons: []domain.PersonRecord{
			{OriginalID: "p-1", HouseholdRef: "h-1", FullName: "Maria Garcia", BirthDate: "1980-04-12", Gender: "female", NationalID: "NID-12345"},
			{OriginalID: "p-2", HouseholdRef: "h-1", FullName: "Garcia, Maria", BirthDate: "1980-04-12", Gender: "female", NationalID: "nid 12345"},
		},
		Relations: []domain.RelationRecord{
			{OriginalID: "r-1", PersonRef: "p-1", UnitRef: "u-1", RelationType: "owner", SharePercent: 60},
			{OriginalID: "r-2", PersonRef: "p-2", UnitRef: "u-1", RelationType: "co_owner", SharePercent: 40},
		},
		Claims: []domain.ClaimRecord{
			{OriginalID: "c-1", ClaimantRef: "p-2", UnitRef: "u-1", ClaimType: "ownership", DeclaredDate: "2026-05-01"},
		},
		Evidence: []domain.EvidenceRecord{
			{OriginalID: "e-1", ClaimRef: "c-1", FileName: "deed.pdf", MimeType: "application/pdf", ContentHash: deedHash, Size: int64(len(deed)), Content: deed},
			{OriginalID: "e-2", ClaimRef: "c-1", FileName: "deed-copy.pdf", MimeType: "application/pdf", ContentHash: deedHash, Size: int64(len(deed)), Content: deed},
		},
		Surveys: []domain.SurveyRecord{
			{OriginalID: "s-1", UnitRef: "u-1", Surveyor: "T. Okello", SurveyDate: "2026-04-30"},
		},
	}
}

func TestUploadIsIdempotent(t *testing.T) {
	e := newPipelineEnv(t)
	payload := fixturePayload("pkg-idem")
	pkg := e.upload(t, payload)
	assert.Equal(t, domain.PackageUploaded, pkg.Status)
	assert.Equal(t, "PKG-000001", pkg.PackageNumber)
	assert.Equal(t, 1, e.content.BlobCount())

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	res, err := e.intake.Upload(context.Background(), UploadRequest{
		Manifest: UploadManifest{
			PackageID:   payload.PackageID,
			Checksum:    hex.EncodeToString(sum[:]),
			CollectorID: payload.CollectorID,
		},
		Body:       bytes.NewReader(raw),
		UploadedBy: "op-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, pkg.PackageNumber, res.Package.PackageNumber)
	// The retry short-circuits before the body is read.
	assert.Equal(t, 1, e.content.BlobCount())
}

func TestUploadChecksumMismatchQuarantines(t *testing.T) {
	e := newPipelineEnv(t)
	raw, err := json.Marshal(fixturePayload("pkg-bad-sum"))
	require.NoError(t, err)
	res, err := e.intake.Upload(context.Background(), UploadRequest{
		Manifest: UploadManifest{
			PackageID:   "pkg-bad-sum",
			Checksum:    "0000000000000000000000000000000000000000000000000000000000000000",
			CollectorID: "col-1",
		},
		Body:       bytes.NewReader(raw),
		UploadedBy: "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PackageQuarantined, res.Package.Status)

	_, err = e.stager.Stage(context.Background(), "pkg-bad-sum", "op-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStageValidatesRowsIndependently(t *testing.T) {
	e := newPipelineEnv(t)
	payload := fixturePayload("pkg-rows")
	payload.Persons = append(payload.Persons, domain.PersonRecord{
		OriginalID: "p-bad", BirthDate: "1975-02-03", Gender: "female", // no name
	})
	e.upload(t, payload)

	summary, err := e.stager.Stage(context.Background(), "pkg-rows", "op-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.InvalidTotal())
	assert.Equal(t, "vocab-test-1", summary.VocabularyVersion)

	pkg, err := e.packages.Get(context.Background(), "pkg-rows")
	require.NoError(t, err)
	assert.Equal(t, domain.PackageValidated, pkg.Status)

	bad, err := e.staging.GetByOriginalID(context.Background(), "pkg-rows", domain.EntityPerson, "p-bad")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationInvalid, bad.Status)
	assert.Contains(t, bad.Errors, "fullName is required")

	ok, err := e.staging.GetByOriginalID(context.Background(), "pkg-rows", domain.EntityPerson, "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationValid, ok.Status)
}

func TestStageRejectsUnknownVocabularyCode(t *testing.T) {
	e := newPipelineEnv(t)
	payload := fixturePayload("pkg-vocab")
	payload.Claims[0].ClaimType = "conquest"
	e.upload(t, payload)

	summary, err := e.stager.Stage(context.Background(), "pkg-vocab", "op-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.InvalidTotal())

	row, err := e.staging.GetByOriginalID(context.Background(), "pkg-vocab", domain.EntityClaim, "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationInvalid, row.Status)
}

func TestStageFailsWholePackageOnCorruptPayload(t *testing.T) {
	e := newPipelineEnv(t)
	raw := []byte("{ this is not json")
	sum := sha256.Sum256(raw)
	res, err := e.intake.Upload(context.Background(), UploadRequest{
		Manifest: UploadManifest{
			PackageID:   "pkg-corrupt",
			Checksum:    hex.EncodeToString(sum[:]),
			CollectorID: "col-1",
		},
		Body:       bytes.NewReader(raw),
		UploadedBy: "op-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.PackageUploaded, res.Package.Status)

	_, err = e.stager.Stage(context.Background(), "pkg-corrupt", "op-1")
	require.Error(t, err)

	pkg, err := e.packages.Get(context.Background(), "pkg-corrupt")
	require.NoError(t, err)
	assert.Equal(t, domain.PackageFailed, pkg.Status)
	assert.True(t, pkg.FailureReason.Valid)

	rows, err := e.staging.ListByPackage(context.Background(), "pkg-corrupt", "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDetectFlagsSharedNationalID(t *testing.T) {
	e := newPipelineEnv(t)
	e.upload(t, fixturePayload("pkg-dup"))
	_, err := e.stager.Stage(context.Background(), "pkg-dup", "op-1")
	require.NoError(t, err)

	res, err := e.duplicates.Detect(context.Background(), "pkg-dup", "op-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewConflicts)
	assert.Equal(t, 1, res.Pending)

	list, err := e.conflicts.List(context.Background(), repository.ConflictFilter{PackageID: "pkg-dup", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	c := list[0]
	assert.Equal(t, domain.TierHigh, c.Tier)
	assert.Equal(t, 100, c.Score)
	assert.Equal(t, domain.EntityPerson, c.EntityType)

	pkg, err := e.packages.Get(context.Background(), "pkg-dup")
	require.NoError(t, err)
	assert.Equal(t, domain.PackageAwaitingResolution, pkg.Status)
	assert.Equal(t, 1, pkg.ConflictsPending)
}

func TestDetectIsRerunSafe(t *testing.T) {
	e := newPipelineEnv(t)
	e.upload(t, fixturePayload("pkg-rerun"))
	_, err := e.stager.Stage(context.Background(), "pkg-rerun", "op-1")
	require.NoError(t, err)

	first, err := e.duplicates.Detect(context.Background(), "pkg-rerun", "op-1")
	require.NoError(t, err)
	require.Equal(t, 1, first.NewConflicts)

	// Same pair key on the second run: nothing new, still pending.
	second, err := e.duplicates.Detect(context.Background(), "pkg-rerun", "op-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewConflicts)
	assert.Equal(t, 1, second.Pending)
	assert.Equal(t, 1, second.Total)
}

func TestApproveBlockedByPendingConflict(t *testing.T) {
	e := newPipelineEnv(t)
	e.upload(t, fixturePayload("pkg-block"))
	_, err := e.stager.Stage(context.Background(), "pkg-block", "op-1")
	require.NoError(t, err)
	_, err = e.duplicates.Detect(context.Background(), "pkg-block", "op-1")
	require.NoError(t, err)

	_, err = e.commits.Approve(context.Background(), "pkg-block", "rev-1")
	assert.ErrorIs(t, err, domain.ErrConflictBlocking)

	// The refused approval mutated nothing.
	pkg, err := e.packages.Get(context.Background(), "pkg-block")
	require.NoError(t, err)
	assert.Equal(t, domain.PackageAwaitingResolution, pkg.Status)
	rows, err := e.staging.ListByPackage(context.Background(), "pkg-block", domain.EntityPerson)
	require.NoError(t, err)
	for _, row := range rows {
		assert.False(t, row.Approved)
	}
}

func TestResolveRequiresReason(t *testing.T) {
	e := newPipelineEnv(t)
	e.upload(t, fixturePayload("pkg-reason"))
	_, err := e.stager.Stage(context.Background(), "pkg-reason", "op-1")
	require.NoError(t, err)
	_, err = e.duplicates.Detect(context.Background(), "pkg-reason", "op-1")
	require.NoError(t, err)

	list, err := e.conflicts.List(context.Background(), repository.ConflictFilter{PackageID: "pkg-reason", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = e.conflictSvc.Resolve(context.Background(), ResolveRequest{
		ConflictID: list[0].ConflictID,
		Action:     domain.ActionKeepFirst,
		Actor:      "rev-1",
	})
	assert.ErrorIs(t, err, domain.ErrReasonRequired)
}

func TestEscalateKeepsConflictPendingAndBlocking(t *testing.T) {
	e := newPipelineEnv(t)
	e.upload(t, fixturePayload("pkg-esc"))
	_, err := e.stager.Stage(context.Background(), "pkg-esc", "op-1")
	require.NoError(t, err)
	_, err = e.duplicates.Detect(context.Background(), "pkg-esc", "op-1")
	require.NoError(t, err)

	list, err := e.conflicts.List(context.Background(), repository.ConflictFilter{PackageID: "pkg-esc", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = e.conflictSvc.Escalate(context.Background(), list[0].ConflictID, "", "rev-1")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	view, err := e.conflictSvc.Escalate(context.Background(), list[0].ConflictID, "same id, different spellings of the name", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictPendingReview, view.Status)
	assert.True(t, view.Escalated)
	require.True(t, view.AssignedTo.Valid)
	assert.Equal(t, "senior-review", view.AssignedTo.String)

	// Escalation does not unblock the package.
	_, err = e.commits.Approve(context.Background(), "pkg-esc", "rev-1")
	assert.ErrorIs(t, err, domain.ErrConflictBlocking)
}

// commitFixture drives the shared fixture through upload, stage, detect and
// a merge resolution keeping survivorOriginal, then approves the package.
func commitFixture(t *testing.T, e *pipelineEnv, packageID, survivorOriginal string) {
	t.Helper()
	e.upload(t, fixturePayload(packageID))
	_, err := e.stager.Stage(context.Background(), packageID, "op-1")
	require.NoError(t, err)
	_, err = e.duplicates.Detect(context.Background(), packageID, "op-1")
	require.NoError(t, err)

	list, err := e.conflicts.List(context.Background(), repository.ConflictFilter{PackageID: packageID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, err = e.conflictSvc.Resolve(context.Background(), ResolveRequest{
		ConflictID: list[0].ConflictID,
		Action:     domain.ActionMerge,
		SurvivorID: survivorOriginal,
		Reason:     "same national id, device re-registered the claimant",
		Actor:      "rev-1",
	})
	require.NoError(t, err)

	pkg, err := e.commits.Approve(context.Background(), packageID, "rev-1")
	require.NoError(t, err)
	require.Equal(t, domain.PackageApproved, pkg.Status)
}

func TestCommitRemapsMergeLoserReferences(t *testing.T) {
	e := newPipelineEnv(t)
	commitFixture(t, e, "pkg-commit", "p-1")

	report, err := e.commits.Commit(context.Background(), "pkg-commit", "rev-1")
	require.NoError(t, err)
	assert.False(t, report.Partial)
	assert.Empty(t, report.RowFailures)

	persons := report.Counts(domain.EntityPerson)
	assert.Equal(t, 1, persons.Committed)
	assert.Equal(t, 1, persons.Skipped) // merge loser
	assert.Equal(t, 2, report.Counts(domain.EntityRelation).Committed)
	assert.Equal(t, 1, report.Counts(domain.EntityClaim).Committed)
	assert.Equal(t, 2, report.Counts(domain.EntityEvidence).Committed)
	assert.Equal(t, 1, report.Counts(domain.EntitySurvey).Committed)

	// Only the survivor reached production; both relations point at it.
	assert.Equal(t, 1, e.production.PersonCount())
	survivor, err := e.staging.GetByOriginalID(context.Background(), "pkg-commit", domain.EntityPerson, "p-1")
	require.NoError(t, err)
	require.True(t, survivor.ProductionID.Valid)
	loser, err := e.staging.GetByOriginalID(context.Background(), "pkg-commit", domain.EntityPerson, "p-2")
	require.NoError(t, err)
	require.True(t, loser.ProductionID.Valid)
	assert.Equal(t, survivor.ProductionID.String, loser.ProductionID.String)

	for _, rel := range e.production.Relations() {
		assert.Equal(t, survivor.ProductionID.String, rel.PersonID)
	}

	pkg, err := e.packages.Get(context.Background(), "pkg-commit")
	require.NoError(t, err)
	assert.Equal(t, domain.PackageCommitted, pkg.Status)
	require.NotNil(t, pkg.CommitReport)
}

func TestCommitDeduplicatesEvidenceContent(t *testing.T) {
	e := newPipelineEnv(t)
	commitFixture(t, e, "pkg-evidence", "p-1")

	_, err := e.commits.Commit(context.Background(), "pkg-evidence", "rev-1")
	require.NoError(t, err)

	// One blob for the package body, one shared blob for both deed scans.
	assert.Equal(t, 2, e.content.BlobCount())
	evidence := e.production.EvidenceRows()
	require.Len(t, evidence, 2)
	assert.Equal(t, evidence[0].ContentHash, evidence[1].ContentHash)
}

func TestCommitSkipsDependentsOfInvalidParent(t *testing.T) {
	e := newPipelineEnv(t)
	payload := fixturePayload("pkg-skip")
	payload.Persons[1].FullName = "" // p-2 fails validation
	payload.Persons[1].NationalID = ""
	e.upload(t, payload)

	summary, err := e.stager.Stage(context.Background(), "pkg-skip", "op-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.InvalidTotal())

	res, err := e.duplicates.Detect(context.Background(), "pkg-skip", "op-1")
	require.NoError(t, err)
	require.Equal(t, 0, res.Pending)

	_, err = e.commits.Approve(context.Background(), "pkg-skip", "rev-1")
	require.NoError(t, err)
	report, err := e.commits.Commit(context.Background(), "pkg-skip", "rev-1")
	require.NoError(t, err)

	// r-2, c-1 and both evidence rows hang off the invalid person; they are
	// referential skips, not failures.
	assert.True(t, report.Partial)
	assert.Equal(t, 1, report.Counts(domain.EntityRelation).Committed)
	assert.Equal(t, 1, report.Counts(domain.EntityRelation).Skipped)
	assert.Equal(t, 1, report.Counts(domain.EntityClaim).Skipped)
	assert.Equal(t, 2, report.Counts(domain.EntityEvidence).Skipped)
	for _, f := range report.RowFailures {
		assert.True(t, f.Skipped, "row %s/%s should be a skip", f.EntityType, f.OriginalID)
	}

	pkg, err := e.packages.Get(context.Background(), "pkg-skip")
	require.NoError(t, err)
	assert.Equal(t, domain.PackageCommitted, pkg.Status)
}

func TestCrossPackageDetectionAgainstProduction(t *testing.T) {
	e := newPipelineEnv(t)

	first := &domain.PackagePayload{
		PackageID:   "pkg-first",
		CollectorID: "col-1",
		ExportedAt:  time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Buildings: []domain.BuildingRecord{
			{OriginalID: "b-1", Name: "Hillside House", AdminCode: "ADM-02", Floors: 1, BBox: "30,30,40,40"},
		},
		Units: []domain.PropertyUnitRecord{
			{OriginalID: "u-1", BuildingRef: "b-1", UnitNumber: "1", Area: 80, AdminCode: "ADM-02", ParcelID: "PC-204"},
		},
		Persons: []domain.PersonRecord{
			{OriginalID: "p-1", FullName: "Amadou Diallo", BirthDate: "1969-11-02", Gender: "male", NationalID: "123"},
		},
	}
	e.upload(t, first)
	_, err := e.stager.Stage(context.Background(), "pkg-first", "op-1")
	require.NoError(t, err)
	res, err := e.duplicates.Detect(context.Background(), "pkg-first", "op-1")
	require.NoError(t, err)
	require.Equal(t, 0, res.Pending)
	_, err = e.commits.Approve(context.Background(), "pkg-first", "rev-1")
	require.NoError(t, err)
	_, err = e.commits.Commit(context.Background(), "pkg-first", "rev-1")
	require.NoError(t, err)

	// The committed unit carries the building's production id, not b-1.
	bRow, err := e.staging.GetByOriginalID(context.Background(), "pkg-first", domain.EntityBuilding, "b-1")
	require.NoError(t, err)
	uRow, err := e.staging.GetByOriginalID(context.Background(), "pkg-first", domain.EntityPropertyUnit, "u-1")
	require.NoError(t, err)
	unit, ok := e.production.Unit(uRow.ProductionID.String)
	require.True(t, ok)
	assert.Equal(t, bRow.ProductionID.String, unit.BuildingID)
	assert.NotEqual(t, "b-1", unit.BuildingID)

	// A second package bearing the same national id collides with production.
	second := &domain.PackagePayload{
		PackageID:   "pkg-second",
		CollectorID: "col-2",
		ExportedAt:  time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		Persons: []domain.PersonRecord{
			{OriginalID: "p-9", FullName: "A. Diallo", BirthDate: "1969-11-02", Gender: "male", NationalID: "123"},
		},
	}
	e.upload(t, second)
	_, err = e.stager.Stage(context.Background(), "pkg-second", "op-1")
	require.NoError(t, err)
	res, err = e.duplicates.Detect(context.Background(), "pkg-second", "op-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)

	list, err := e.conflicts.List(context.Background(), repository.ConflictFilter{PackageID: "pkg-second", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.TierHigh, list[0].Tier)
	assert.Equal(t, domain.SourceProduction, list[0].Second.Source)

	_, err = e.commits.Approve(context.Background(), "pkg-second", "rev-1")
	assert.ErrorIs(t, err, domain.ErrConflictBlocking)
}

func TestCommitDiscardsProductionMergeLoserUnit(t *testing.T) {
	e := newPipelineEnv(t)

	first := &domain.PackagePayload{
		PackageID:   "pkg-pa",
		CollectorID: "col-1",
		ExportedAt:  time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Buildings: []domain.BuildingRecord{
			{OriginalID: "b-1", Name: "Hillside House", AdminCode: "ADM-02", Floors: 1},
		},
		Units: []domain.PropertyUnitRecord{
			{OriginalID: "u-1", BuildingRef: "b-1", UnitNumber: "1", Area: 80, AdminCode: "ADM-02", ParcelID: "PC-204"},
		},
	}
	e.upload(t, first)
	_, err := e.stager.Stage(context.Background(), "pkg-pa", "op-1")
	require.NoError(t, err)
	_, err = e.duplicates.Detect(context.Background(), "pkg-pa", "op-1")
	require.NoError(t, err)
	_, err = e.commits.Approve(context.Background(), "pkg-pa", "rev-1")
	require.NoError(t, err)
	_, err = e.commits.Commit(context.Background(), "pkg-pa", "rev-1")
	require.NoError(t, err)

	uRow, err := e.staging.GetByOriginalID(context.Background(), "pkg-pa", domain.EntityPropertyUnit, "u-1")
	require.NoError(t, err)
	loserProdID := uRow.ProductionID.String

	// A re-survey of the same parcel arrives with fresher measurements.
	second := &domain.PackagePayload{
		PackageID:   "pkg-pb",
		CollectorID: "col-2",
		ExportedAt:  time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		Buildings: []domain.BuildingRecord{
			{OriginalID: "b-9", Name: "Hillside House", AdminCode: "ADM-02", Floors: 1},
		},
		Units: []domain.PropertyUnitRecord{
			{OriginalID: "u-9", BuildingRef: "b-9", UnitNumber: "1", Area: 82, AdminCode: "ADM-02", ParcelID: "pc 204"},
		},
	}
	e.upload(t, second)
	_, err = e.stager.Stage(context.Background(), "pkg-pb", "op-1")
	require.NoError(t, err)
	res, err := e.duplicates.Detect(context.Background(), "pkg-pb", "op-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Pending)

	list, err := e.conflicts.List(context.Background(), repository.ConflictFilter{PackageID: "pkg-pb", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.ConflictPropertyDuplicate, list[0].Type)
	require.Equal(t, domain.SourceProduction, list[0].Second.Source)

	// The staged unit survives; the production unit must be discarded.
	_, err = e.conflictSvc.Resolve(context.Background(), ResolveRequest{
		ConflictID: list[0].ConflictID,
		Action:     domain.ActionMerge,
		SurvivorID: "u-9",
		Reason:     "re-survey supersedes the earlier measurement",
		Actor:      "rev-1",
	})
	require.NoError(t, err)
	_, err = e.commits.Approve(context.Background(), "pkg-pb", "rev-1")
	require.NoError(t, err)
	report, err := e.commits.Commit(context.Background(), "pkg-pb", "rev-1")
	require.NoError(t, err)
	assert.False(t, report.Partial)

	survivorRow, err := e.staging.GetByOriginalID(context.Background(), "pkg-pb", domain.EntityPropertyUnit, "u-9")
	require.NoError(t, err)
	require.True(t, survivorRow.ProductionID.Valid)

	// Only one live unit per parcel remains; the loser points at its survivor.
	live, err := e.production.FindUnitsByParcelID(context.Background(), "pc204")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, survivorRow.ProductionID.String, live[0].UnitID)

	loser, ok := e.production.Unit(loserProdID)
	require.True(t, ok)
	require.True(t, loser.MergedInto.Valid)
	assert.Equal(t, survivorRow.ProductionID.String, loser.MergedInto.String)
}

func TestCancelRequiresReasonAndRespectsCommitting(t *testing.T) {
	e := newPipelineEnv(t)
	e.upload(t, fixturePayload("pkg-cancel"))

	_, err := e.commits.Cancel(context.Background(), "pkg-cancel", "op-1", "")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	pkg, err := e.commits.Cancel(context.Background(), "pkg-cancel", "op-1", "collector re-exported the area")
	require.NoError(t, err)
	assert.Equal(t, domain.PackageCancelled, pkg.Status)
	assert.Equal(t, "collector re-exported the area", pkg.FailureReason.String)

	// Terminal: nothing moves a cancelled package.
	_, err = e.stager.Stage(context.Background(), "pkg-cancel", "op-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCommitReportUnavailableBeforeCommit(t *testing.T) {
	e := newPipelineEnv(t)
	e.upload(t, fixturePayload("pkg-report"))

	_, err := e.commits.Report(context.Background(), "pkg-report")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
