package domain

import (
	"database/sql"
	"time"
)

// Production entities. These are the committed records the pipeline writes
// into; identifiers are server-allocated and stable, unlike the original
// device identifiers carried by staging rows. SourcePackage records which
// import produced the row.

type Building struct {
	BuildingID    string    `db:"building_id"`
	Name          string    `db:"name"`
	AdminCode     string    `db:"admin_code"`
	Address       string    `db:"address"`
	Floors        int       `db:"floors"`
	BBox          string    `db:"bbox"`
	SourcePackage string    `db:"source_package"`
	CreatedAt     time.Time `db:"created_at"`
}

type PropertyUnit struct {
	UnitID        string         `db:"unit_id"`
	BuildingID    string         `db:"building_id"`
	UnitNumber    string         `db:"unit_number"`
	Floor         string         `db:"floor"`
	Area          float64        `db:"area"`
	AdminCode     string         `db:"admin_code"`
	ParcelID      string         `db:"parcel_id"`
	BBox          string         `db:"bbox"`
	MergedInto    sql.NullString `db:"merged_into"` // set when this row lost a merge
	SourcePackage string         `db:"source_package"`
	CreatedAt     time.Time      `db:"created_at"`
}

type Household struct {
	HouseholdID   string    `db:"household_id"`
	UnitID        string    `db:"unit_id"`
	Name          string    `db:"name"`
	MemberCount   int       `db:"member_count"`
	SourcePackage string    `db:"source_package"`
	CreatedAt     time.Time `db:"created_at"`
}

type Person struct {
	PersonID       string         `db:"person_id"`
	HouseholdID    sql.NullString `db:"household_id"`
	FullName       string         `db:"full_name"`
	NormalizedName string         `db:"normalized_name"` // matching key, see matching.NormalizeName
	BirthDate      string         `db:"birth_date"`
	Gender         string         `db:"gender"`
	NationalID     string         `db:"national_id"`
	Phone          string         `db:"phone"`
	MergedInto     sql.NullString `db:"merged_into"` // set when this row lost a merge
	SourcePackage  string         `db:"source_package"`
	CreatedAt      time.Time      `db:"created_at"`
}

type PersonPropertyRelation struct {
	RelationID    string    `db:"relation_id"`
	PersonID      string    `db:"person_id"`
	UnitID        string    `db:"unit_id"`
	RelationType  string    `db:"relation_type"`
	SharePercent  float64   `db:"share_percent"`
	SourcePackage string    `db:"source_package"`
	CreatedAt     time.Time `db:"created_at"`
}

type Claim struct {
	ClaimID       string    `db:"claim_id"`
	ClaimNumber   string    `db:"claim_number"` // sequence-assigned at commit, never pre-assigned
	ClaimantID    string    `db:"claimant_id"`
	UnitID        string    `db:"unit_id"`
	ClaimType     string    `db:"claim_type"`
	DeclaredDate  string    `db:"declared_date"`
	Notes         string    `db:"notes"`
	SourcePackage string    `db:"source_package"`
	CreatedAt     time.Time `db:"created_at"`
}

// Evidence is a catalog row. Identical content (same hash) is stored once in
// the content store; multiple catalog rows may reference the same hash.
type Evidence struct {
	EvidenceID    string    `db:"evidence_id"`
	ClaimID       string    `db:"claim_id"`
	FileName      string    `db:"file_name"`
	MimeType      string    `db:"mime_type"`
	ContentHash   string    `db:"content_hash"`
	Size          int64     `db:"size"`
	SourcePackage string    `db:"source_package"`
	CreatedAt     time.Time `db:"created_at"`
}

type Survey struct {
	SurveyID      string    `db:"survey_id"`
	UnitID        string    `db:"unit_id"`
	Surveyor      string    `db:"surveyor"`
	SurveyDate    string    `db:"survey_date"`
	Notes         string    `db:"notes"`
	SourcePackage string    `db:"source_package"`
	CreatedAt     time.Time `db:"created_at"`
}
