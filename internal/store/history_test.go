package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

func report(id, pipeline string, at time.Time) airq.RunReport {
	return airq.RunReport{ID: id, Pipeline: pipeline, StartedAt: at, FinishedAt: at.Add(time.Second)}
}

func TestRunHistoryLatest(t *testing.T) {
	h := NewRunHistory(0, 0)

	_, err := h.Latest("")
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Now().UTC()
	h.Record(report("a", "hourly", base))
	h.Record(report("b", "add_country", base.Add(time.Minute)))

	got, err := h.Latest("")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	got, err = h.Latest("hourly")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = h.Latest("add_parameters")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunHistoryRetentionByCount(t *testing.T) {
	h := NewRunHistory(2, 0)
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		h.Record(report(id, "hourly", base.Add(time.Duration(i)*time.Minute)))
	}

	got, err := h.Range("", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestRunHistoryRetentionByAge(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	h := NewRunHistory(0, time.Hour)
	h.now = func() time.Time { return now }

	h.Record(report("old", "hourly", now.Add(-2*time.Hour)))
	h.Record(report("new", "hourly", now.Add(-time.Minute)))

	got, err := h.Range("", time.Time{}, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestRunHistoryRangeFilters(t *testing.T) {
	h := NewRunHistory(0, 0)
	base := time.Now().UTC()
	h.Record(report("a", "hourly", base))
	h.Record(report("b", "hourly", base.Add(2*time.Hour)))

	got, err := h.Range("hourly", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	_, err = h.Range("add_country", base, base.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}
