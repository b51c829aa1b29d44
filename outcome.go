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

package wxmaps

// OutcomeStatus is the coarse result of one unit of worker work.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeFailed
	OutcomeSkipped
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// A TaskOutcome is the only value that crosses the worker boundary back to
// the scheduler. Workers never propagate panics or raw errors into the pool;
// they classify and report.
type TaskOutcome struct {
	Status OutcomeStatus
	Path   string // publish path on success
	Kind   Kind   // failure classification
	Reason string // human-readable failure or skip reason
	// Retry reports that a later polling cycle within the same run window
	// may succeed where this attempt failed.
	Retry bool
}

// Success reports a completed publish.
func Success(path string) TaskOutcome {
	return TaskOutcome{Status: OutcomeSuccess, Path: path}
}

// Failed classifies err and reports a failure.
func Failed(err error) TaskOutcome {
	o := TaskOutcome{Status: OutcomeFailed, Kind: KindOf(err), Retry: IsRetryable(err)}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// Skipped reports work that was intentionally not attempted.
func Skipped(reason string) TaskOutcome {
	return TaskOutcome{Status: OutcomeSkipped, Reason: reason}
}
