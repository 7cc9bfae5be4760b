package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ValidationStatus is the per-row validation outcome.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "Pending"
	ValidationValid   ValidationStatus = "Valid"
	ValidationWarning ValidationStatus = "Warning"
	ValidationInvalid ValidationStatus = "Invalid"
)

// StagingRow is one staged entity instance of any type. The entity's own
// fields live in Entity (jsonb); Refs holds the row's references to other
// original identifiers in the same package — these are not foreign keys, the
// targets don't exist in production yet. (package_id, entity_type,
// original_id) is unique: re-staging is a no-op, not a duplicate insert.
type StagingRow struct {
	RowID        string            `db:"row_id"`
	PackageID    string            `db:"package_id"`
	EntityType   EntityType        `db:"entity_type"`
	OriginalID   string            `db:"original_id"`
	Entity       json.RawMessage   `db:"entity"` // device record, original ids inside
	Refs         map[string]string `db:"refs"`   // ref field -> original id
	Status       ValidationStatus  `db:"validation_status"`
	Errors       []string          `db:"errors"`
	Warnings     []string          `db:"warnings"`
	Approved     bool              `db:"approved"`
	ProductionID sql.NullString    `db:"production_id"` // set by commit
	CreatedAt    time.Time         `db:"created_at"`
}

// DecodeEntity unmarshals the row's entity payload into out.
func (r *StagingRow) DecodeEntity(out any) error {
	return json.Unmarshal(r.Entity, out)
}

// StagingSummary is the result of a staging run.
type StagingSummary struct {
	PackageID         string                            `json:"packageId"`
	VocabularyVersion string                            `json:"vocabularyVersion"`
	ByType            map[EntityType]*StagingTypeCounts `json:"byType"`
	StagedAt          time.Time                         `json:"stagedAt"`
}

type StagingTypeCounts struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Warning int `json:"warning"`
	Invalid int `json:"invalid"`
}

func (s *StagingSummary) Counts(et EntityType) *StagingTypeCounts {
	c, ok := s.ByType[et]
	if !ok {
		c = &StagingTypeCounts{}
		s.ByType[et] = c
	}
	return c
}

// InvalidTotal returns the number of Invalid rows across all types.
func (s *StagingSummary) InvalidTotal() int {
	n := 0
	for _, c := range s.ByType {
		n += c.Invalid
	}
	return n
}
