/*
Copyright © 2025 the WxMaps authors.
This file is part of WxMaps.

WxMaps is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

WxMaps is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with WxMaps.  If not, see <http://www.gnu.org/licenses/>.*/

package sched

import (
	"sort"
	"sync"
	"time"

	"github.com/nwcast/wxmaps"
)

// RunStatus is the lifecycle phase of one model run being worked.
type RunStatus int

const (
	StatusPending RunStatus = iota
	StatusMonitoring
	StatusComplete
	StatusAbandoned
)

func (s RunStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusMonitoring:
		return "monitoring"
	case StatusComplete:
		return "complete"
	case StatusAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// A RunState tracks progress through one (model, run) pair. The completed
// set only grows, and a forecast hour enters it only when no further
// dispatch within the run can help: its maps published, the hour was
// skipped, or it failed in a way a retry would repeat. Hours whose fetch
// failed transiently are released back to pending instead.
type RunState struct {
	Model *wxmaps.ModelConfig
	Run   wxmaps.RunTime

	mu        sync.Mutex
	status    RunStatus
	started   time.Time
	completed map[int]bool
	inFlight  map[int]bool
}

// NewRunState creates a pending state for the given run.
func NewRunState(m *wxmaps.ModelConfig, run wxmaps.RunTime) *RunState {
	return &RunState{
		Model:     m,
		Run:       run,
		status:    StatusPending,
		started:   time.Now(),
		completed: make(map[int]bool),
		inFlight:  make(map[int]bool),
	}
}

// Status returns the current phase.
func (st *RunState) Status() RunStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// SetStatus advances the phase. Terminal states stick: once complete or
// abandoned, the status no longer changes.
func (st *RunState) SetStatus(s RunStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status == StatusComplete || st.status == StatusAbandoned {
		return
	}
	st.status = s
}

// Started returns when monitoring of this run began.
func (st *RunState) Started() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.started
}

// MarkInFlight records that fh has been handed to a worker. It reports
// false when the hour is already in flight or already completed, so a
// dispatcher racing its own previous tick cannot double-enqueue.
func (st *RunState) MarkInFlight(fh int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.completed[fh] || st.inFlight[fh] {
		return false
	}
	st.inFlight[fh] = true
	return true
}

// MarkCompleted moves fh from in flight to completed. Completion is
// monotone; there is no way to clear it.
func (st *RunState) MarkCompleted(fh int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.inFlight, fh)
	st.completed[fh] = true
}

// Release takes fh out of flight without completing it, so the next
// polling cycle offers the hour again.
func (st *RunState) Release(fh int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.inFlight, fh)
}

// Pending filters the available hours down to those neither completed nor
// in flight, ascending.
func (st *RunState) Pending(available []int) []int {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []int
	for _, fh := range available {
		if !st.completed[fh] && !st.inFlight[fh] {
			out = append(out, fh)
		}
	}
	sort.Ints(out)
	return out
}

// CompletedCount returns how many hours have been processed.
func (st *RunState) CompletedCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.completed)
}

// Done reports whether every expected hour has been processed.
func (st *RunState) Done(expected []int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, fh := range expected {
		if !st.completed[fh] {
			return false
		}
	}
	return true
}
