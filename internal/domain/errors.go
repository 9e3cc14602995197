package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// ErrNotFound: session or subject absent, or not owned by the caller. Terminal.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySettled: the session was finalized before; rewards are never re-applied.
	ErrAlreadySettled = errors.New("study session already settled")

	// ErrInvalidInput: negative duration, missing ids.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageConflict: a versioned write lost a compare-and-swap race. Retryable.
	ErrStorageConflict = errors.New("storage conflict: concurrent update detected")

	// ErrUnknownQuestType: a stored quest carries a type outside the closed set.
	ErrUnknownQuestType = errors.New("unknown quest type")

	// ErrLockTimeout: the per-user lock could not be acquired before the context ended.
	ErrLockTimeout = errors.New("timed out waiting for user lock")
)
