package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors with the right
// code and entity context.
//
// These represent factual states about stored records, not validation
// failures:
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: uniqueness or referential constraint would be violated
//   - ErrVersionMismatch: optimistic concurrency check failed (stale read)
//   - ErrInvalidState: entity is in the wrong state for the requested change
//   - ErrUnavailable: backend temporarily unreachable (retryable upstream)
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrInvalidState    = errors.New("invalid state")
	ErrUnavailable     = errors.New("unavailable")
)
