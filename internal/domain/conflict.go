package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

type ConflictType string

const (
	ConflictPersonDuplicate   ConflictType = "PersonDuplicate"
	ConflictPropertyDuplicate ConflictType = "PropertyDuplicate"
	ConflictClaimConflict     ConflictType = "ClaimConflict"
)

type ConfidenceTier string

const (
	TierLow    ConfidenceTier = "Low"
	TierMedium ConfidenceTier = "Medium"
	TierHigh   ConfidenceTier = "High"
)

type ConflictStatus string

const (
	ConflictPendingReview ConflictStatus = "PendingReview"
	ConflictResolved      ConflictStatus = "Resolved"
	ConflictIgnored       ConflictStatus = "Ignored"
)

// ResolutionAction is the adjudicator's decision on a conflict pair.
type ResolutionAction string

const (
	ActionKeepBoth   ResolutionAction = "KeepBoth"
	ActionMerge      ResolutionAction = "Merge"
	ActionKeepFirst  ResolutionAction = "KeepFirst"
	ActionKeepSecond ResolutionAction = "KeepSecond"
	ActionIgnore     ResolutionAction = "Ignore"
)

func ValidResolutionAction(s string) bool {
	switch ResolutionAction(s) {
	case ActionKeepBoth, ActionMerge, ActionKeepFirst, ActionKeepSecond, ActionIgnore:
		return true
	}
	return false
}

// RefSource says which side of the pipeline a conflict candidate lives on.
type RefSource string

const (
	SourceStaging    RefSource = "staging"
	SourceProduction RefSource = "production"
)

// EntityRef identifies one candidate of a conflict pair. Staging candidates
// are addressed by original identifier (scoped to the package); production
// candidates by their stable production identifier.
type EntityRef struct {
	Source RefSource `json:"source"`
	ID     string    `json:"id"`
}

// ConflictResolution is one detected probable-duplicate pair awaiting human
// adjudication. Score is a weighted blend of matched criteria in [0,100];
// Tier is set by which detection rule fired.
type ConflictResolution struct {
	ConflictID       string           `db:"conflict_id"`
	PackageID        string           `db:"package_id"`
	Type             ConflictType     `db:"conflict_type"`
	EntityType       EntityType       `db:"entity_type"`
	First            EntityRef        `db:"first_ref"`
	Second           EntityRef        `db:"second_ref"`
	PairKey          string           `db:"pair_key"` // canonical pair identity, see MakePairKey
	Score            int              `db:"score"`
	Tier             ConfidenceTier   `db:"tier"`
	Status           ConflictStatus   `db:"status"`
	Action           ResolutionAction `db:"action"`      // empty until resolved
	SurvivorID       string           `db:"survivor_id"` // Merge only
	Reason           string           `db:"reason"`
	AssignedTo       sql.NullString   `db:"assigned_to"`
	Escalated        bool             `db:"escalated"`
	EscalationReason sql.NullString   `db:"escalation_reason"`
	ResolvedBy       sql.NullString   `db:"resolved_by"`
	ResolvedAt       sql.NullTime     `db:"resolved_at"`
	MergeProvenance  json.RawMessage  `db:"merge_provenance"`
	DetectedAt       time.Time        `db:"detected_at"`
}

// MakePairKey builds the order-independent identity of a candidate pair so a
// re-run of the detector cannot record the same pair twice.
func MakePairKey(et EntityType, a, b EntityRef) string {
	ka := string(a.Source) + ":" + a.ID
	kb := string(b.Source) + ":" + b.ID
	if kb < ka {
		ka, kb = kb, ka
	}
	return string(et) + "|" + ka + "|" + kb
}

// Open reports whether the conflict still blocks approval. An escalated
// conflict stays blocking until someone resolves or ignores it.
func (c *ConflictResolution) Open() bool {
	return c.Status == ConflictPendingReview
}

// Overdue is computed on read for queue prioritization, never stored as a
// transition.
func (c *ConflictResolution) Overdue(now time.Time, sla time.Duration) bool {
	return c.Open() && now.Sub(c.DetectedAt) > sla
}

// MergeProvenanceRecord is the field-by-field provenance stored when a pair
// is merged.
type MergeProvenanceRecord struct {
	SurvivorID  string            `json:"survivorId"`
	DiscardedID string            `json:"discardedId"`
	Fields      map[string]string `json:"fields"` // field -> "survivor" | "discarded"
	MergedBy    string            `json:"mergedBy"`
	MergedAt    time.Time         `json:"mergedAt"`
}

// ConflictSummary aggregates a package's conflict queue for review screens.
type ConflictSummary struct {
	PackageID string                 `json:"packageId,omitempty"`
	Total     int                    `json:"total"`
	Pending   int                    `json:"pending"`
	Resolved  int                    `json:"resolved"`
	Ignored   int                    `json:"ignored"`
	Escalated int                    `json:"escalated"`
	Overdue   int                    `json:"overdue"`
	ByTier    map[ConfidenceTier]int `json:"byTier"`
}
