package proxy

import "errors"

var (
	// ErrTargetConnectTimeout is returned when the device-side CDP endpoint
	// cannot be reached within the dial timeout.
	ErrTargetConnectTimeout = errors.New("target connection timeout")

	// ErrSessionClosed is returned from operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotFound is returned when no debug target exists for a session id.
	ErrNotFound = errors.New("session not found")
)
