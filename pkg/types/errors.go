package types

import "errors"

// Error taxonomy shared across the origin and the mirror agent. Pairing
// failures are distinct so callers can give an actionable message; the
// remainder classify transient sync/serving failures.
var (
	// Pairing
	ErrInvalidCode     = errors.New("pairing code not found")
	ErrExpiredCode     = errors.New("pairing code expired")
	ErrAlreadyConsumed = errors.New("pairing code already consumed")
	ErrRateLimited     = errors.New("too many outstanding pairing codes")

	// Sync and serving
	ErrUnreachable      = errors.New("mirror unreachable")
	ErrHashMismatch     = errors.New("content hash mismatch")
	ErrCapacityExceeded = errors.New("mirror over storage capacity")
	ErrNotFound         = errors.New("not found")
	ErrSyncInFlight     = errors.New("sync already in flight for mirror")
)
