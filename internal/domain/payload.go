package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// PackagePayload is the decoded body of an offline container. The byte-level
// container codec lives on the device side; the server only requires this
// JSON shape: package identity plus per-entity-type record arrays keyed by
// original (device-generated) identifier.
type PackagePayload struct {
	PackageID   string    `json:"packageId"`
	DeviceID    string    `json:"deviceId"`
	CollectorID string    `json:"collectorId"`
	ExportedAt  time.Time `json:"exportedAt"`

	Buildings  []BuildingRecord     `json:"buildings"`
	Units      []PropertyUnitRecord `json:"units"`
	Households []HouseholdRecord    `json:"households"`
	Persons    []PersonRecord       `json:"persons"`
	Relations  []RelationRecord     `json:"relations"`
	Claims     []ClaimRecord        `json:"claims"`
	Evidence   []EvidenceRecord     `json:"evidence"`
	Surveys    []SurveyRecord       `json:"surveys"`
}

// DecodePackagePayload decodes a stored package body. A decode failure is a
// structural package error: the whole package fails, no rows are staged.
func DecodePackagePayload(r io.Reader) (*PackagePayload, error) {
	var p PackagePayload
	dec := json.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("corrupt package payload: %w", err)
	}
	if p.PackageID == "" {
		return nil, fmt.Errorf("corrupt package payload: missing packageId")
	}
	return &p, nil
}

// Counts returns the per-type record counts of the payload.
func (p *PackagePayload) Counts() EntityCounts {
	return EntityCounts{
		EntityBuilding:     len(p.Buildings),
		EntityPropertyUnit: len(p.Units),
		EntityHousehold:    len(p.Households),
		EntityPerson:       len(p.Persons),
		EntityRelation:     len(p.Relations),
		EntityClaim:        len(p.Claims),
		EntityEvidence:     len(p.Evidence),
		EntitySurvey:       len(p.Surveys),
	}
}

// ============================================
// Per-entity device records (original identifiers only)
// ============================================

type BuildingRecord struct {
	OriginalID string `json:"originalId"`
	Name       string `json:"name"`
	AdminCode  string `json:"adminCode"` // administrative/location code
	Address    string `json:"address"`
	Floors     int    `json:"floors"`
	BBox       string `json:"bbox"` // "minX,minY,maxX,maxY", WGS84
}

type PropertyUnitRecord struct {
	OriginalID  string  `json:"originalId"`
	BuildingRef string  `json:"buildingRef"`
	UnitNumber  string  `json:"unitNumber"`
	Floor       string  `json:"floor"`
	Area        float64 `json:"area"` // m^2
	AdminCode   string  `json:"adminCode"`
	ParcelID    string  `json:"parcelId"` // cadastral parcel identifier, unique when present
	BBox        string  `json:"bbox"`
}

type HouseholdRecord struct {
	OriginalID  string `json:"originalId"`
	UnitRef     string `json:"unitRef"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

type PersonRecord struct {
	OriginalID   string `json:"originalId"`
	HouseholdRef string `json:"householdRef,omitempty"`
	FullName     string `json:"fullName"`
	BirthDate    string `json:"birthDate"` // "2006-01-02"
	Gender       string `json:"gender"`    // vocabulary domain "gender"
	NationalID   string `json:"nationalId,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

type RelationRecord struct {
	OriginalID   string  `json:"originalId"`
	PersonRef    string  `json:"personRef"`
	UnitRef      string  `json:"unitRef"`
	RelationType string  `json:"relationType"` // vocabulary domain "relation_type"
	SharePercent float64 `json:"sharePercent"` // ownership share, 0-100
}

type ClaimRecord struct {
	OriginalID   string `json:"originalId"`
	ClaimantRef  string `json:"claimantRef"`
	UnitRef      string `json:"unitRef"`
	ClaimType    string `json:"claimType"` // vocabulary domain "claim_type"
	DeclaredDate string `json:"declaredDate"`
	Notes        string `json:"notes,omitempty"`
}

type EvidenceRecord struct {
	OriginalID  string `json:"originalId"`
	ClaimRef    string `json:"claimRef"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
	ContentHash string `json:"contentHash"` // sha256 hex of the content
	Size        int64  `json:"size"`
	Content     []byte `json:"content,omitempty"` // base64 in transit
}

type SurveyRecord struct {
	OriginalID string `json:"originalId"`
	UnitRef    string `json:"unitRef"`
	Surveyor   string `json:"surveyor"`
	SurveyDate string `json:"surveyDate"`
	Notes      string `json:"notes,omitempty"`
}
