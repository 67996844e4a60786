package sentinel

import "errors"

// Sentinel errors for persistence facts. Repositories and the unit of work
// return these (optionally wrapped) so callers can branch with errors.Is
// without depending on driver error types.
//
// The taxonomy:
//   - ErrNotFound: point lookup found no live (non-soft-deleted) row. Absence
//     is a normal outcome, not an exceptional one.
//   - ErrConflict: optimistic-concurrency mismatch — the persisted row version
//     no longer matches the one the caller read. Re-fetch and retry.
//   - ErrValidation: the storage engine rejected the write (unique key,
//     foreign key, NOT NULL).
//   - ErrTransactionFailure: commit/rollback-level failure, including a failed
//     audit derivation; the whole unit of work is aborted.
//   - ErrUnavailable: storage unreachable or timed out; safe to retry the
//     whole operation from the caller's side.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation")
	ErrTransactionFailure = errors.New("transaction failure")
	ErrUnavailable        = errors.New("unavailable")
)
