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
	"reflect"
	"testing"

	"github.com/nwcast/wxmaps"
)

func mustRun(t *testing.T, stamp string) wxmaps.RunTime {
	t.Helper()
	run, err := wxmaps.ParseRunStamp(stamp)
	if err != nil {
		t.Fatal(err)
	}
	return run
}

func TestRunStateCompletionIsMonotone(t *testing.T) {
	st := NewRunState(&wxmaps.ModelConfig{ID: "m"}, mustRun(t, "20250102_06"))
	available := []int{0, 1, 2, 3}

	if got := st.Pending(available); !reflect.DeepEqual(got, available) {
		t.Errorf("fresh state pending = %v, want %v", got, available)
	}
	if !st.MarkInFlight(1) {
		t.Fatal("first MarkInFlight(1) refused")
	}
	if st.MarkInFlight(1) {
		t.Error("second MarkInFlight(1) accepted")
	}
	st.MarkCompleted(1)
	if st.MarkInFlight(1) {
		t.Error("MarkInFlight accepted a completed hour")
	}
	if got := st.Pending(available); !reflect.DeepEqual(got, []int{0, 2, 3}) {
		t.Errorf("pending = %v, want [0 2 3]", got)
	}

	st.MarkCompleted(0)
	st.MarkCompleted(2)
	if st.Done(available) {
		t.Error("Done with hour 3 outstanding")
	}
	st.MarkCompleted(3)
	if !st.Done(available) {
		t.Error("not Done with all hours completed")
	}
	if st.CompletedCount() != 4 {
		t.Errorf("CompletedCount = %d, want 4", st.CompletedCount())
	}
}

func TestRunStateReleaseReturnsHourToPending(t *testing.T) {
	st := NewRunState(&wxmaps.ModelConfig{ID: "m"}, mustRun(t, "20250102_06"))
	available := []int{0, 6}

	if !st.MarkInFlight(0) {
		t.Fatal("MarkInFlight(0) refused")
	}
	if got := st.Pending(available); !reflect.DeepEqual(got, []int{6}) {
		t.Fatalf("pending while in flight = %v, want [6]", got)
	}
	st.Release(0)
	if got := st.Pending(available); !reflect.DeepEqual(got, available) {
		t.Errorf("pending after release = %v, want %v", got, available)
	}
	if st.CompletedCount() != 0 {
		t.Errorf("release completed the hour: count = %d", st.CompletedCount())
	}
	if !st.MarkInFlight(0) {
		t.Error("released hour cannot be re-dispatched")
	}
}

func TestRunStateTerminalStatusSticks(t *testing.T) {
	st := NewRunState(&wxmaps.ModelConfig{ID: "m"}, mustRun(t, "20250102_06"))
	st.SetStatus(StatusMonitoring)
	if st.Status() != StatusMonitoring {
		t.Fatalf("status = %v, want monitoring", st.Status())
	}
	st.SetStatus(StatusComplete)
	st.SetStatus(StatusMonitoring)
	if st.Status() != StatusComplete {
		t.Errorf("terminal status changed to %v", st.Status())
	}

	st2 := NewRunState(&wxmaps.ModelConfig{ID: "m"}, mustRun(t, "20250102_12"))
	st2.SetStatus(StatusAbandoned)
	st2.SetStatus(StatusComplete)
	if st2.Status() != StatusAbandoned {
		t.Errorf("abandoned run became %v", st2.Status())
	}
}
