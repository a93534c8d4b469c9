package pipeline

import (
	"fmt"

	"github.com/i474232898/airq-ingestion/internal/airq"
	"github.com/i474232898/airq-ingestion/internal/config"
)

// Action tells a batch what to do after an entity fails.
type Action string

const (
	ActionAbort Action = "abort" // stop the batch, attempt no further entities
	ActionSkip  Action = "skip"  // record the failure and move to the next entity
)

// ParseAction maps a configuration value onto an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionAbort, ActionSkip:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown failure action %q", s)
	}
}

// Policy holds the per-stage decision for batch runs.
type Policy struct {
	Fetch     Action
	Transform Action
	Load      Action
}

// DefaultPolicy aborts the batch when the API cannot be reached and skips
// entities whose data is bad or cannot be stored.
var DefaultPolicy = Policy{
	Fetch:     ActionAbort,
	Transform: ActionSkip,
	Load:      ActionSkip,
}

// PolicyFromConfig builds the hourly batch policy.
func PolicyFromConfig(cfg config.HourlyPolicy) (Policy, error) {
	var (
		p   Policy
		err error
	)
	if p.Fetch, err = ParseAction(cfg.OnFetchFailure); err != nil {
		return Policy{}, fmt.Errorf("fetch: %w", err)
	}
	if p.Transform, err = ParseAction(cfg.OnTransformFailure); err != nil {
		return Policy{}, fmt.Errorf("transform: %w", err)
	}
	if p.Load, err = ParseAction(cfg.OnLoadFailure); err != nil {
		return Policy{}, fmt.Errorf("load: %w", err)
	}
	return p, nil
}

// Decide returns the action for a failure at stage. Errors outside the
// failure taxonomy always abort.
func (p Policy) Decide(stage airq.Stage, err error) Action {
	if airq.Classify(err) == nil {
		return ActionAbort
	}
	switch stage {
	case airq.StageFetch:
		return p.Fetch
	case airq.StageTransform:
		return p.Transform
	case airq.StageLoad:
		return p.Load
	default:
		return ActionAbort
	}
}
