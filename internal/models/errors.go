package models

import "fmt"

// AuthError means a credential exchange failed or token refresh retries were
// exhausted. Status is the identity endpoint's HTTP status when one was
// received, zero otherwise.
type AuthError struct {
	Status int
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication failed (status %d): %s", e.Status, e.Reason)
	}
	return "authentication failed: " + e.Reason
}

// NetworkError wraps a transient connectivity or timeout failure. Op names
// the operation that failed ("fetch configuration", "upload usage", ...).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigurationError means a configuration document is malformed or
// internally inconsistent. Such documents are discarded; the previously
// published snapshot stays in force.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "invalid configuration: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NotFoundError is returned when evaluation is requested for a feature or
// property id that is absent from the current snapshot.
type NotFoundError struct {
	Kind string // "feature" or "property"
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in configuration", e.Kind, e.ID)
}

// EvaluationError reports a dangling segment reference observed while
// evaluating; compilation rejects these, so hitting one means the snapshot
// was built outside the usual pipeline.
type EvaluationError struct {
	ID        string
	SegmentID string
}

func (e EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %q: targeting rule references unknown segment %q", e.ID, e.SegmentID)
}

// ValidationError reports an invalid client-supplied value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s", e.Field, e.Message)
}
