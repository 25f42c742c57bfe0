package sentinel

import "errors"

// Sentinel errors for infrastructure facts. KV adapters and stores return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: key or record does not exist
//   - ErrConflict: a write collided with another writer
//   - ErrInvalidState: stored value cannot be interpreted
//   - ErrUnavailable: backend temporarily unavailable (lease not acquired, breaker open)
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
