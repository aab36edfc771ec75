// Package vision calls the external inference provider, applies retry and
// rate discipline, and parses the raw response into the fixed nutrition
// schema.
package vision

import "fmt"

// ErrorKind classifies analysis failures. Timeout, Provider, and RateLimited
// are transient and retried; Malformed is final.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindProvider    ErrorKind = "provider_error"
	KindRateLimited ErrorKind = "rate_limited"
	KindMalformed   ErrorKind = "malformed_response"
)

// AnalysisError is the tagged failure outcome of one analysis. It carries the
// request identity for traceability.
type AnalysisError struct {
	Kind      ErrorKind
	RequestID string
	Err       error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis %s: %s: %v", e.RequestID, e.Kind, e.Err)
	}
	return fmt.Sprintf("analysis %s: %s", e.RequestID, e.Kind)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Transient reports whether a retry could plausibly succeed.
func (e *AnalysisError) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindProvider, KindRateLimited:
		return true
	}
	return false
}

// UserMessage renders the failure the way the delivery collaborator should
// phrase it.
func (e *AnalysisError) UserMessage() string {
	if e.Kind == KindMalformed {
		return "could not read this image, please retake the photo"
	}
	return "analysis is temporarily unavailable, please try again later"
}
