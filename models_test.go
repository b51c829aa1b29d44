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

import (
	"reflect"
	"testing"
	"time"
)

func defaultModel(t *testing.T, id string) *ModelConfig {
	t.Helper()
	m, err := DefaultModels().Get(id)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func stampRun(t *testing.T, stamp string) RunTime {
	t.Helper()
	run, err := ParseRunStamp(stamp)
	if err != nil {
		t.Fatal(err)
	}
	return run
}

func TestExpectedForecastHoursGlobal(t *testing.T) {
	m := defaultModel(t, "global025")
	hours := m.ExpectedForecastHours(stampRun(t, "20250102_06"))

	// Hourly to 120, 3-hourly to 240, 6-hourly to 384.
	if want := 121 + 40 + 24; len(hours) != want {
		t.Errorf("len(hours) = %d, want %d", len(hours), want)
	}
	has := make(map[int]bool, len(hours))
	prev := -1
	for _, fh := range hours {
		if fh <= prev {
			t.Fatalf("hours not ascending at %d", fh)
		}
		prev = fh
		has[fh] = true
	}
	for _, fh := range []int{0, 1, 120, 123, 240, 246, 384} {
		if !has[fh] {
			t.Errorf("expected hour %d missing", fh)
		}
	}
	for _, fh := range []int{121, 122, 241, 385} {
		if has[fh] {
			t.Errorf("hour %d should not be produced", fh)
		}
	}
}

func TestShortAndExtendedRuns(t *testing.T) {
	m := defaultModel(t, "hrrrnw")
	if got := m.MaxFHFor(6); got != 48 {
		t.Errorf("MaxFHFor(6) = %d, want 48", got)
	}
	if got := m.MaxFHFor(7); got != 18 {
		t.Errorf("MaxFHFor(7) = %d, want 18", got)
	}
	if n := len(m.ExpectedForecastHours(stampRun(t, "20250102_07"))); n != 19 {
		t.Errorf("short run hour count = %d, want 19", n)
	}
	if n := len(m.ExpectedForecastHours(stampRun(t, "20250102_06"))); n != 49 {
		t.Errorf("extended run hour count = %d, want 49", n)
	}
}

func TestValidForecastHour(t *testing.T) {
	m := defaultModel(t, "global025")
	run := stampRun(t, "20250102_06")
	cases := []struct {
		fh   int
		want bool
	}{
		{0, true}, {120, true}, {121, false}, {123, true}, {384, true}, {385, false}, {-1, false},
	}
	for _, c := range cases {
		if got := m.ValidForecastHour(run, c.fh); got != c.want {
			t.Errorf("ValidForecastHour(%d) = %v, want %v", c.fh, got, c.want)
		}
	}
}

func TestLatestRunHonorsAvailabilityDelay(t *testing.T) {
	m := defaultModel(t, "global025") // 3h30m delay, runs at 00/06/12/18

	// At 09:00 the 06Z run is not yet expected; the latest is 00Z.
	now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	if got := m.LatestRun(now).Stamp(); got != "20250102_00" {
		t.Errorf("LatestRun(09:00) = %s, want 20250102_00", got)
	}
	// By 10:00 the 06Z run should have started appearing.
	now = time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	if got := m.LatestRun(now).Stamp(); got != "20250102_06" {
		t.Errorf("LatestRun(10:00) = %s, want 20250102_06", got)
	}
}

func TestAccumBuckets(t *testing.T) {
	m := defaultModel(t, "global025") // bucket accumulation, 6 h reset
	run := stampRun(t, "20250102_06")

	if got := m.AccumBuckets(run, 0); got != nil {
		t.Errorf("AccumBuckets(0) = %v, want nil", got)
	}
	if got := m.AccumBuckets(run, 12); !reflect.DeepEqual(got, []int{6, 12}) {
		t.Errorf("AccumBuckets(12) = %v, want [6 12]", got)
	}
	// A target between resets picks up the partial bucket at the end.
	if got := m.AccumBuckets(run, 9); !reflect.DeepEqual(got, []int{6, 9}) {
		t.Errorf("AccumBuckets(9) = %v, want [6 9]", got)
	}
}

func TestExpandPathTemplate(t *testing.T) {
	m := defaultModel(t, "hrrrnw")
	prod, err := m.Product("sfc")
	if err != nil {
		t.Fatal(err)
	}
	run := stampRun(t, "20250102_06")
	got := ExpandPathTemplate("hrrr.{yyyymmdd}/conus/{file}", run, 7, prod)
	want := "hrrr.20250102/conus/hrrr.t06z.wrfsfcf07.grib2"
	if got != want {
		t.Errorf("ExpandPathTemplate = %q, want %q", got, want)
	}
}

func TestNewModelRegistryValidation(t *testing.T) {
	valid := func() *ModelConfig {
		return &ModelConfig{
			ID:       "m",
			Products: []ProductSpec{{ID: "p", File: "f{fff}"}},
			RunHours: []int{0},
		}
	}
	if _, err := NewModelRegistry(valid(), valid()); KindOf(err) != KindConfig {
		t.Errorf("duplicate id error = %v, want a config error", err)
	}
	noID := valid()
	noID.ID = ""
	if _, err := NewModelRegistry(noID); KindOf(err) != KindConfig {
		t.Errorf("empty id error = %v, want a config error", err)
	}
	noProducts := valid()
	noProducts.Products = nil
	if _, err := NewModelRegistry(noProducts); KindOf(err) != KindConfig {
		t.Errorf("no products error = %v, want a config error", err)
	}
}

func TestDefaultModels(t *testing.T) {
	reg := DefaultModels()
	if n := len(reg.ListEnabled()); n != 3 {
		t.Errorf("enabled models = %d, want 3", n)
	}
	if _, err := reg.Get("no_such_model"); KindOf(err) != KindConfig {
		t.Errorf("unknown model error = %v, want a config error", err)
	}
	// The regional model routes upper-air fields to its pressure product.
	m := defaultModel(t, "hrrrnw")
	if got := m.ProductFor(FieldTMP850); got != "prs" {
		t.Errorf("ProductFor(tmp_850) = %q, want prs", got)
	}
	if got := m.ProductFor(FieldTMP2M); got != "sfc" {
		t.Errorf("ProductFor(tmp2m) = %q, want sfc", got)
	}
}
