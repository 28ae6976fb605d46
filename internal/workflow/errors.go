package workflow

import "fmt"

// FailureKind classifies a failed workflow call. The retry loop only
// re-attempts transient kinds; everything else fails on first sight.
type FailureKind string

const (
	FailureNetwork     FailureKind = "network"
	FailureTimeout     FailureKind = "timeout"
	FailureUpstream4xx FailureKind = "upstream_4xx"
	FailureUpstream5xx FailureKind = "upstream_5xx"
	FailureMalformed   FailureKind = "malformed"
)

// Transient reports whether a failure of this kind may be retried.
func (k FailureKind) Transient() bool {
	switch k {
	case FailureNetwork, FailureTimeout, FailureUpstream5xx:
		return true
	}
	return false
}

// Error is a classified workflow call failure. After the retry loop
// gives up, the last attempt's Error is returned to the orchestrator.
type Error struct {
	Kind     FailureKind
	Status   int // HTTP status when the upstream responded, else 0
	Attempts int // attempts actually made before giving up
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("workflow call failed (%s, status %d, %d attempts): %v", e.Kind, e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("workflow call failed (%s, %d attempts): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
