package indexing

import (
	"context"
	"errors"
	"fmt"
)

// Error classifications recorded on failed jobs.
const (
	ErrorTypeCancelled  = "cancelled"
	ErrorTypeAPIFailure = "api_failure"
	ErrorTypeUnknown    = "unknown"
)

// Service-level sentinel errors surfaced to callers.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrResourceNotInSession = errors.New("resource does not belong to session")
	ErrNoResources          = errors.New("no resources to index")
)

/*
StepError lets an extraction step attach a failure classification the
orchestrator records on the job. Steps return it for upstream-API
failures so the circuit breaker can react; anything unclassified is
treated as an application error.
*/
type StepError struct {
	Type string
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Type
	}
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func NewAPIFailure(err error) *StepError {
	return &StepError{Type: ErrorTypeAPIFailure, Err: err}
}

// classifyStepError maps a step failure onto the job error taxonomy.
func classifyStepError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}
	var se *StepError
	if errors.As(err, &se) && se.Type != "" {
		return se.Type
	}
	return ErrorTypeUnknown
}
