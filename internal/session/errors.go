package session

import "errors"

// Error taxonomy for event application. All of these are recovered
// locally and surfaced to the user as soft prompts; none of them aborts
// the orchestrator or corrupts stored state.
var (
	// ErrInvalidTransition is returned when an event is not legal for
	// the session's current state. The stored session is left unchanged.
	ErrInvalidTransition = errors.New("action not valid for current session state")

	// ErrSessionNotFound is returned for stale, expired, or unknown
	// session ids. Callers treat it as a normal outcome and prompt the
	// user to resubmit their photo.
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrUnknownStyle is returned for a style choice outside the
	// enumerated preset set.
	ErrUnknownStyle = errors.New("unknown style preset")

	// ErrUnknownAngle is returned for an angle choice outside the
	// enumerated preset set.
	ErrUnknownAngle = errors.New("unknown camera angle preset")
)
