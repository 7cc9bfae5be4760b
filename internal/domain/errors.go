package domain

import "errors"

// Pipeline error taxonomy. Row-scoped validation and commit failures are
// recorded on the row and surfaced in summaries, never returned as errors —
// these sentinels cover package- and command-level failures only.
var (
	// ErrNotFound: the addressed package/conflict/session/assignment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition: the command is not permitted from the package's
	// current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrIntegrity: checksum or signature verification failed; the package is
	// quarantined and never staged.
	ErrIntegrity = errors.New("package integrity check failed")

	// ErrConflictBlocking: approval refused while unresolved conflicts remain.
	ErrConflictBlocking = errors.New("unresolved conflicts block approval")

	// ErrReasonRequired: an irreversible action was called without a reason.
	ErrReasonRequired = errors.New("a reason is required")

	// ErrSessionOwnership: a sync request carried a session owned by another user.
	ErrSessionOwnership = errors.New("session belongs to a different user")

	// ErrUnauthorized: the caller may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")
)
