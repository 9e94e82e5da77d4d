package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, storage backends and
// transports return these (optionally wrapped) so callers can branch with
// errors.Is instead of matching driver-specific errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: nothing is stored under the key
// - ErrExpired: a record exists but its TTL elapsed
// - ErrInvalidState: the resource is in a state the operation cannot use
// - ErrUnavailable: backend or remote temporarily unreachable
// - ErrClosed: the resource was shut down
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrClosed       = errors.New("closed")
)
