package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/matching"
)

// Validator applies row-local rules: required fields, value ranges,
// vocabulary codes, cross-field constraints. It holds an explicit snapshot —
// never a live vocabulary lookup — so every row of one staging run is judged
// against the same version.
type Validator struct {
	vocab *domain.VocabularySnapshot
}

func NewValidator(vocab *domain.VocabularySnapshot) *Validator {
	return &Validator{vocab: vocab}
}

type rowIssues struct {
	errors   []string
	warnings []string
}

func (ri *rowIssues) errf(format string, args ...any) {
	ri.errors = append(ri.errors, fmt.Sprintf(format, args...))
}

func (ri *rowIssues) warnf(format string, args ...any) {
	ri.warnings = append(ri.warnings, fmt.Sprintf(format, args...))
}

func (ri *rowIssues) status() domain.ValidationStatus {
	switch {
	case len(ri.errors) > 0:
		return domain.ValidationInvalid
	case len(ri.warnings) > 0:
		return domain.ValidationWarning
	default:
		return domain.ValidationValid
	}
}

func (v *Validator) checkVocab(ri *rowIssues, vocabDomain, code, field string) {
	if code == "" {
		ri.errf("%s is required", field)
		return
	}
	if !v.vocab.Valid(vocabDomain, code) {
		ri.errf("%s: %q is not an active %s code", field, code, vocabDomain)
	}
}

func checkBBox(ri *rowIssues, bbox string) {
	if _, _, err := matching.ParseBBox(bbox); err != nil {
		ri.errf("bbox: %v", err)
	}
}

func checkDate(ri *rowIssues, value, field string, required bool) {
	if value == "" {
		if required {
			ri.errf("%s is required", field)
		}
		return
	}
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		ri.errf("%s: %q is not a valid date", field, value)
		return
	}
	if d.After(time.Now()) {
		ri.errf("%s: %q lies in the future", field, value)
	}
}

func (v *Validator) Building(rec *domain.BuildingRecord) ([]string, []string) {
	var ri rowIssues
	if rec.AdminCode == "" {
		ri.errf("adminCode is required")
	}
	if rec.Name == "" && rec.Address == "" {
		ri.warnf("building has neither name nor address")
	}
	if rec.Floors < 0 {
		ri.errf("floors must not be negative")
	}
	checkBBox(&ri, rec.BBox)
	return ri.errors, ri.warnings
}

func (v *Validator) PropertyUnit(rec *domain.PropertyUnitRecord) ([]string, []string) {
	var ri rowIssues
	if rec.BuildingRef == "" {
		ri.errf("buildingRef is required")
	}
	if rec.UnitNumber == "" {
		ri.errf("unitNumber is required")
	}
	if rec.Area < 0 {
		ri.errf("area must not be negative")
	}
	if rec.Area == 0 {
		ri.warnf("area is zero")
	}
	if rec.ParcelID == "" {
		ri.warnf("no parcel identifier; duplicate detection falls back to location rules")
	}
	checkBBox(&ri, rec.BBox)
	return ri.errors, ri.warnings
}

func (v *Validator) Household(rec *domain.HouseholdRecord) ([]string, []string) {
	var ri rowIssues
	if rec.UnitRef == "" {
		ri.errf("unitRef is required")
	}
	if rec.MemberCount < 1 {
		ri.errf("memberCount must be at least 1")
	}
	return ri.errors, ri.warnings
}

func (v *Validator) Person(rec *domain.PersonRecord) ([]string, []string) {
	var ri rowIssues
	if rec.FullName == "" {
		ri.errf("fullName is required")
	}
	v.checkVocab(&ri, "gender", rec.Gender, "gender")
	checkDate(&ri, rec.BirthDate, "birthDate", true)
	if rec.NationalID == "" {
		ri.warnf("no national identifier; duplicate detection falls back to name rules")
	}
	return ri.errors, ri.warnings
}

func (v *Validator) Relation(rec *domain.RelationRecord) ([]string, []string) {
	var ri rowIssues
	if rec.PersonRef == "" {
		ri.errf("personRef is required")
	}
	if rec.UnitRef == "" {
		ri.errf("unitRef is required")
	}
	v.checkVocab(&ri, "relation_type", rec.RelationType, "relationType")
	// Ownership share is a percentage of the unit.
	if rec.SharePercent < 0 || rec.SharePercent > 100 {
		ri.errf("sharePercent must lie in 0-100, got %v", rec.SharePercent)
	}
	return ri.errors, ri.warnings
}

func (v *Validator) Claim(rec *domain.ClaimRecord) ([]string, []string) {
	var ri rowIssues
	if rec.ClaimantRef == "" {
		ri.errf("claimantRef is required")
	}
	if rec.UnitRef == "" {
		ri.errf("unitRef is required")
	}
	v.checkVocab(&ri, "claim_type", rec.ClaimType, "claimType")
	checkDate(&ri, rec.DeclaredDate, "declaredDate", true)
	return ri.errors, ri.warnings
}

func (v *Validator) Evidence(rec *domain.EvidenceRecord) ([]string, []string) {
	var ri rowIssues
	if rec.ClaimRef == "" {
		ri.errf("claimRef is required")
	}
	if rec.FileName == "" {
		ri.errf("fileName is required")
	}
	if rec.ContentHash == "" {
		ri.errf("contentHash is required")
	}
	if len(rec.Content) > 0 {
		sum := sha256.Sum256(rec.Content)
		if hex.EncodeToString(sum[:]) != rec.ContentHash {
			ri.errf("content does not match declared contentHash")
		}
	} else {
		ri.warnf("evidence carries no content; commit will link by hash only")
	}
	return ri.errors, ri.warnings
}

func (v *Validator) Survey(rec *domain.SurveyRecord) ([]string, []string) {
	var ri rowIssues
	if rec.UnitRef == "" {
		ri.errf("unitRef is required")
	}
	checkDate(&ri, rec.SurveyDate, "surveyDate", false)
	return ri.errors, ri.warnings
}
