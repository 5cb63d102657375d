// ABOUTME: Sentinel errors for the conflict resolution engine.
// ABOUTME: All resolution failures are returned typed, never swallowed.

package conflict

import "errors"

var (
	// ErrConflictNotFound indicates the conflict id is unknown to the engine,
	// either never detected or already resolved and retired.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrManualResolutionRequired is returned by the Manual strategy; the
	// conflict stays active until an operator intervenes.
	ErrManualResolutionRequired = errors.New("manual resolution required")

	// ErrHandlerNotFound indicates no custom handler is registered under the
	// requested name.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrHandlerExists indicates a handler with the same name is already
	// registered.
	ErrHandlerExists = errors.New("handler already registered")

	// ErrUnsupportedStrategy indicates the strategy (or a handler) cannot
	// resolve conflicts of the given type.
	ErrUnsupportedStrategy = errors.New("unsupported strategy")
)
