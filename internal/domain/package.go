package domain

import (
	"database/sql"
	"time"
)

// PackageStatus is the lifecycle state of an uploaded import package.
type PackageStatus string

const (
	PackageUploaded           PackageStatus = "Uploaded"
	PackageValidating         PackageStatus = "Validating"
	PackageValidated          PackageStatus = "Validated"
	PackageDuplicatesDetected PackageStatus = "DuplicatesDetected"
	PackageAwaitingResolution PackageStatus = "AwaitingResolution"
	PackageApproved           PackageStatus = "Approved"
	PackageCommitting         PackageStatus = "Committing"
	PackageCommitted          PackageStatus = "Committed"
	PackageFailed             PackageStatus = "Failed"
	PackageCancelled          PackageStatus = "Cancelled"
	PackageQuarantined        PackageStatus = "Quarantined"
)

// packageTransitions is the permitted state-transition table. Every command
// re-reads the current status and checks here; call ordering alone is not
// trusted (two operators may act on the same package concurrently).
var packageTransitions = map[PackageStatus][]PackageStatus{
	PackageUploaded:           {PackageValidating, PackageCancelled, PackageQuarantined},
	PackageValidating:         {PackageValidated, PackageFailed, PackageCancelled, PackageQuarantined},
	PackageValidated:          {PackageValidating, PackageDuplicatesDetected, PackageAwaitingResolution, PackageCancelled, PackageQuarantined},
	PackageDuplicatesDetected: {PackageValidating, PackageDuplicatesDetected, PackageAwaitingResolution, PackageApproved, PackageCancelled, PackageQuarantined},
	PackageAwaitingResolution: {PackageDuplicatesDetected, PackageAwaitingResolution, PackageApproved, PackageCancelled, PackageQuarantined},
	PackageApproved:           {PackageCommitting, PackageDuplicatesDetected, PackageCancelled, PackageQuarantined},
	PackageCommitting:         {PackageCommitted, PackageFailed},
	PackageCommitted:          {},
	PackageFailed:             {PackageValidating, PackageCancelled, PackageQuarantined},
	PackageCancelled:          {},
	PackageQuarantined:        {},
}

// CanTransition reports whether moving from s to next is permitted.
func (s PackageStatus) CanTransition(next PackageStatus) bool {
	for _, t := range packageTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s PackageStatus) Terminal() bool {
	return len(packageTransitions[s]) == 0
}

// ImportPackage is one uploaded offline container and its pipeline state.
// PackageID is the client-generated idempotency key; PackageNumber is the
// server-assigned human-readable number.
type ImportPackage struct {
	PackageID        string         `db:"package_id"`
	PackageNumber    string         `db:"package_number"`
	CollectorID      string         `db:"collector_id"`
	DeviceID         string         `db:"device_id"`
	UploadedBy       string         `db:"uploaded_by"`
	FileName         string         `db:"file_name"`
	FileSize         int64          `db:"file_size"`
	Checksum         string         `db:"checksum"`          // server-computed sha256 hex
	DeclaredChecksum string         `db:"declared_checksum"` // from the device manifest
	SignaturePresent bool           `db:"signature_present"`
	SignatureValid   bool           `db:"signature_valid"`
	Status           PackageStatus  `db:"status"`
	VocabularyVersion string        `db:"vocabulary_version"` // snapshot version used at staging
	RecordCounts     EntityCounts   `db:"record_counts"`      // per entity type, set at staging
	ValidCounts      EntityCounts   `db:"valid_counts"`
	InvalidCounts    EntityCounts   `db:"invalid_counts"`
	ConflictsTotal   int            `db:"conflicts_total"`
	ConflictsPending int            `db:"conflicts_pending"`
	CommitReport     *CommitReport  `db:"commit_report"` // jsonb, nil until committed
	FailureReason    sql.NullString `db:"failure_reason"`
	ExportedAt       time.Time      `db:"exported_at"` // device-side export timestamp
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// EntityCounts maps entity type to a row count. Stored as jsonb.
type EntityCounts map[EntityType]int

func (c EntityCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// CommitReport is the per-type outcome of a commit run. Stored as jsonb on the
// package once commit finishes.
type CommitReport struct {
	PackageID   string                       `json:"packageId"`
	StartedAt   time.Time                    `json:"startedAt"`
	FinishedAt  time.Time                    `json:"finishedAt"`
	ByType      map[EntityType]*CommitCounts `json:"byType"`
	RowFailures []CommitFailure              `json:"rowFailures,omitempty"`
	Partial     bool                         `json:"partial"`
}

type CommitCounts struct {
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"` // merge losers and dependents of failed parents
}

// CommitFailure records one row-level commit failure or referential skip.
type CommitFailure struct {
	EntityType EntityType `json:"entityType"`
	OriginalID string     `json:"originalId"`
	Reason     string     `json:"reason"`
	Skipped    bool       `json:"skipped"` // true when skipped due to a failed parent
}

func NewCommitReport(packageID string) *CommitReport {
	r := &CommitReport{
		PackageID: packageID,
		StartedAt: time.Now().UTC(),
		ByType:    map[EntityType]*CommitCounts{},
	}
	for _, et := range CommitOrder() {
		r.ByType[et] = &CommitCounts{}
	}
	return r
}

func (r *CommitReport) Counts(et EntityType) *CommitCounts {
	c, ok := r.ByType[et]
	if !ok {
		c = &CommitCounts{}
		r.ByType[et] = c
	}
	return c
}

// TotalFailed reports whether any row failed or was skipped.
func (r *CommitReport) TotalFailed() int {
	n := 0
	for _, c := range r.ByType {
		n += c.Failed + c.Skipped
	}
	return n
}
