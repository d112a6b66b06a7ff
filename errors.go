package evloop

import "errors"

// Sentinel errors returned by Reactor operations. Callers should use
// errors.Is to distinguish them from wrapped kernel-rejection errors.
var (
	// ErrAlreadyRegistered is returned by Register when the descriptor is
	// already present in the registry. It is a soft, expected condition
	// rather than a fatal one.
	ErrAlreadyRegistered = errors.New("evloop: descriptor already registered")

	// ErrNotFound is returned by Modify and Unregister when the descriptor
	// has no handler record in the registry.
	ErrNotFound = errors.New("evloop: descriptor not found")

	// ErrClosed is returned by operations attempted on a destroyed Reactor.
	ErrClosed = errors.New("evloop: reactor closed")
)
