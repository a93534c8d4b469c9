package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/airq-ingestion/internal/airq"
	"github.com/i474232898/airq-ingestion/internal/config"
)

func stageErr(stage airq.Stage, class error) error {
	return &airq.StageError{Stage: stage, Kind: airq.KindLocationLatest, EntityID: "1", Class: class, Err: errors.New("boom")}
}

func TestDefaultPolicyDecide(t *testing.T) {
	tests := []struct {
		stage airq.Stage
		err   error
		want  Action
	}{
		{airq.StageFetch, stageErr(airq.StageFetch, airq.ErrTransport), ActionAbort},
		{airq.StageTransform, stageErr(airq.StageTransform, airq.ErrValidation), ActionSkip},
		{airq.StageLoad, stageErr(airq.StageLoad, airq.ErrValidation), ActionSkip},
		{airq.StageLoad, stageErr(airq.StageLoad, airq.ErrPersistence), ActionSkip},
		{airq.StageTransform, stageErr(airq.StageTransform, nil), ActionAbort},
		{airq.StageLoad, errors.New("unclassified"), ActionAbort},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultPolicy.Decide(tt.stage, tt.err), "%s: %v", tt.stage, tt.err)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig(config.HourlyPolicy{
		OnFetchFailure:     "skip",
		OnTransformFailure: "abort",
		OnLoadFailure:      "skip",
	})
	require.NoError(t, err)
	assert.Equal(t, Policy{Fetch: ActionSkip, Transform: ActionAbort, Load: ActionSkip}, p)

	_, err = PolicyFromConfig(config.HourlyPolicy{OnFetchFailure: "retry", OnTransformFailure: "skip", OnLoadFailure: "skip"})
	assert.Error(t, err)
}
