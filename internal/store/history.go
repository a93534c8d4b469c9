package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

var (
	// ErrNotFound is returned when no run report matches a query.
	ErrNotFound = errors.New("no run reports recorded")
)

// RunHistory is a concurrency-safe in-memory log of recent run reports,
// oldest first.
type RunHistory struct {
	mu      sync.RWMutex
	reports []airq.RunReport

	// retention configuration
	maxHistory int           // max number of reports kept
	maxAge     time.Duration // max age of reports, by start time

	now func() time.Time
}

// NewRunHistory creates a RunHistory with optional limits.
// If maxHistory is <= 0 it is treated as unlimited; so is maxAge.
func NewRunHistory(maxHistory int, maxAge time.Duration) *RunHistory {
	return &RunHistory{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record appends a finished report and enforces retention.
func (h *RunHistory) Record(report airq.RunReport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reports = append(h.reports, report)

	// Enforce retention by count.
	if h.maxHistory > 0 && len(h.reports) > h.maxHistory {
		over := len(h.reports) - h.maxHistory
		h.reports = h.reports[over:]
	}

	// Enforce retention by age.
	if h.maxAge > 0 {
		cutoff := h.now().Add(-h.maxAge)
		i := 0
		for ; i < len(h.reports); i++ {
			if !h.reports[i].StartedAt.Before(cutoff) {
				break
			}
		}
		h.reports = h.reports[i:]
	}
}

// Latest returns the most recent report, optionally restricted to one
// pipeline name.
func (h *RunHistory) Latest(pipeline string) (airq.RunReport, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.reports) - 1; i >= 0; i-- {
		if pipeline == "" || h.reports[i].Pipeline == pipeline {
			return h.reports[i], nil
		}
	}
	return airq.RunReport{}, ErrNotFound
}

// Range returns the reports started between from and to (inclusive), newest
// first, optionally restricted to one pipeline name.
func (h *RunHistory) Range(pipeline string, from, to time.Time) ([]airq.RunReport, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []airq.RunReport
	for i := len(h.reports) - 1; i >= 0; i-- {
		r := h.reports[i]
		if pipeline != "" && r.Pipeline != pipeline {
			continue
		}
		if r.StartedAt.Before(from) || r.StartedAt.After(to) {
			continue
		}
		result = append(result, r)
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
