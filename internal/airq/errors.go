package airq

import (
	"errors"
	"fmt"
)

// Failure classes. Every stage error unwraps to exactly one of them; anything
// else reaching the orchestrator is treated as unexpected.
var (
	ErrTransport   = errors.New("transport failure")
	ErrValidation  = errors.New("validation failure")
	ErrPersistence = errors.New("persistence failure")
)

// Stage names a step of the pipeline.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// StageError carries enough context to diagnose a failed stage from the log
// line alone.
type StageError struct {
	Stage    Stage
	Kind     Kind
	EntityID string
	Artifact string
	Class    error
	Err      error
}

func (e *StageError) Error() string {
	subject := string(e.Kind)
	if e.EntityID != "" {
		subject += " " + e.EntityID
	}
	if e.Artifact != "" {
		subject += " (" + e.Artifact + ")"
	}
	if e.Class == nil {
		return fmt.Sprintf("%s %s: %v", e.Stage, subject, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Stage, subject, e.Class, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Class == nil {
		return []error{e.Err}
	}
	return []error{e.Class, e.Err}
}

// Classify returns the failure class of err, or nil when err is outside the
// taxonomy.
func Classify(err error) error {
	for _, class := range []error{ErrTransport, ErrValidation, ErrPersistence} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
