package domain

import "errors"

// Error taxonomy for the routing engine. Callers match with errors.Is; the
// HTTP layer maps these to status codes.
var (
	// ErrValidation marks a malformed task or agent, including unknown enum
	// values. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when referencing an unknown agent id. Routing
	// callers treat it as "no match", never fatal.
	ErrNotFound = errors.New("not found")

	// ErrRoutingTimeout marks a safety-critical task that exceeded its
	// latency budget with no fallback available. Fatal for that task; a late
	// safety decision is worse than none.
	ErrRoutingTimeout = errors.New("routing timeout")

	// ErrCloudEscalation marks a remote venue that was unreachable or timed
	// out after its bounded retry.
	ErrCloudEscalation = errors.New("cloud escalation failed")

	// ErrStaleAgent is returned by compare-and-update when the agent changed
	// since the snapshot was taken.
	ErrStaleAgent = errors.New("stale agent snapshot")
)
