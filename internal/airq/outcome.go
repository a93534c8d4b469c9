package airq

import "time"

// State is how far one entity got through fetch -> transform -> load.
type State string

const (
	StatePending     State = "pending"
	StateFetched     State = "fetched"
	StateTransformed State = "transformed"
	StateLoaded      State = "loaded"
	StateFailed      State = "failed"
)

// Outcome is the result of running the pipeline for one entity.
type Outcome struct {
	Kind          Kind   `json:"kind"`
	EntityID      string `json:"entityId,omitempty"`
	State         State  `json:"state"`
	FailedStage   Stage  `json:"failedStage,omitempty"`
	RawArtifact   string `json:"rawArtifact,omitempty"`
	CleanArtifact string `json:"cleanArtifact,omitempty"`
	Rows          int64  `json:"rows"`
	Err           error  `json:"-"`
	Error         string `json:"error,omitempty"`
}

// OK reports whether the entity reached the terminal success state.
func (o Outcome) OK() bool {
	return o.State == StateLoaded
}

// Fail moves the outcome to StateFailed, remembering the stage that broke.
func (o *Outcome) Fail(stage Stage, err error) {
	o.State = StateFailed
	o.FailedStage = stage
	o.Err = err
	o.Error = err.Error()
}

// RunReport summarizes one orchestrator invocation.
type RunReport struct {
	ID          string    `json:"id"`
	Pipeline    string    `json:"pipeline"`
	StartedAt   time.Time `json:"startedAt"` // always UTC
	FinishedAt  time.Time `json:"finishedAt"`
	Outcomes    []Outcome `json:"outcomes"`
	Aborted     bool      `json:"aborted"`
	AbortReason string    `json:"abortReason,omitempty"`
}

// Loaded counts entities that reached StateLoaded.
func (r RunReport) Loaded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failed counts entities that ended in StateFailed.
func (r RunReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			n++
		}
	}
	return n
}

// Succeeded reports whether the run was not aborted and every entity loaded.
func (r RunReport) Succeeded() bool {
	return !r.Aborted && r.Failed() == 0
}
