package worker

import (
	"errors"
	"strings"
)

var (
	// ErrPackagerUnreachable is returned when the packager fails its
	// bounded health check on a fresh start.
	ErrPackagerUnreachable = errors.New("packager unreachable")

	// ErrDebuggerConflict marks the known-cause disconnect where the target
	// device already has a debugger attached. The remediation differs from
	// a generic disconnect, so it is classified distinctly.
	ErrDebuggerConflict = errors.New("another debugger is already connected to the packager")

	// ErrStopped is returned from operations on a stopped manager.
	ErrStopped = errors.New("worker manager stopped")

	// ErrSocketOpen is returned when Start is called while a packager
	// socket is still open.
	ErrSocketOpen = errors.New("packager socket already open")
)

// isDebuggerConflict matches the close reason the packager sends when a
// second debugger connects. The reason text is undocumented remote-peer
// behavior, so the heuristic lives in this one predicate.
func isDebuggerConflict(closeReason string) bool {
	return strings.Contains(strings.ToLower(closeReason), "another debugger")
}
