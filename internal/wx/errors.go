package wx

import "fmt"

// TransportError is a network or HTTP-level failure talking to a provider.
// Retry/backoff policy lives in the transport adapter; by the time one of
// these reaches the orchestrator the adapter has given up.
type TransportError struct {
	Provider Provider
	Endpoint string
	Status   int // 0 when the request never completed
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transport failure on %s (status %d): %v", e.Provider, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transport failure on %s: %v", e.Provider, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthConfigError means a provider credential is missing or rejected.
// Fatal for that provider within the run; never retried.
type AuthConfigError struct {
	Provider Provider
	Detail   string
}

func (e *AuthConfigError) Error() string {
	return fmt.Sprintf("%s: auth/config error: %s", e.Provider, e.Detail)
}

// MappingError means a payload violated the provider's documented contract,
// typically a missing required field. Surfaced, never silently dropped,
// since it signals upstream schema drift.
type MappingError struct {
	Provider Provider
	Field    string
	Detail   string
}

func (e *MappingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: mapping error on field %q: %s", e.Provider, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: mapping error: %s", e.Provider, e.Detail)
}

// ValidationError means a normalized reading failed a model invariant.
// The reading is rejected and excluded from its batch.
type ValidationError struct {
	Provider Provider
	Metric   string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("%s: invalid reading for %s: %s", e.Provider, e.Metric, e.Detail)
	}
	return fmt.Sprintf("%s: invalid reading: %s", e.Provider, e.Detail)
}

// IdempotencyConflict means a cycle for this hour bucket has already been
// claimed. It is a no-op skip, not a failure.
type IdempotencyConflict struct {
	Location   string
	HourBucket string
}

func (e *IdempotencyConflict) Error() string {
	return fmt.Sprintf("hour bucket %s already claimed for %s", e.HourBucket, e.Location)
}
