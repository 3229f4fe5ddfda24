package docstore

import "errors"

var (
	// ErrNotFound reports a point read or update against an absent document.
	ErrNotFound = errors.New("document not found")
	// ErrExists reports a create against an already present document.
	ErrExists = errors.New("document already exists")
	// ErrContention reports a transaction that lost a write conflict and
	// may be retried.
	ErrContention = errors.New("too much contention")
	// ErrUnavailable reports a backend that is temporarily unreachable.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInternal reports a backend-internal failure.
	ErrInternal = errors.New("store internal error")
)
