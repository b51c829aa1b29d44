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
	"fmt"
	"time"
)

// runStampLayout is the on-disk form of a run time: UTC date and run hour.
const runStampLayout = "20060102_15"

// A RunTime is the UTC issue time of one model cycle, truncated to a whole
// hour. All naming on disk and in filenames uses the Stamp form YYYYMMDD_HH.
type RunTime struct {
	time.Time
}

// NewRunTime truncates t to the hour in UTC and validates the hour against
// the model's permitted run hours.
func NewRunTime(t time.Time, m *ModelConfig) (RunTime, error) {
	r := RunTime{t.UTC().Truncate(time.Hour)}
	if m != nil && !m.ValidRunHour(r.Hour()) {
		return RunTime{}, &Error{
			Kind:  KindConfig,
			Op:    "runtime",
			Model: m.ID,
			FH:    -1,
			Err:   fmt.Errorf("hour %02d is not a permitted run hour for %s (have %v)", r.Hour(), m.ID, m.RunHours),
		}
	}
	return r, nil
}

// Stamp returns the YYYYMMDD_HH form of r.
func (r RunTime) Stamp() string {
	return r.UTC().Format(runStampLayout)
}

// ParseRunStamp parses the YYYYMMDD_HH form produced by Stamp.
func ParseRunStamp(s string) (RunTime, error) {
	t, err := time.Parse(runStampLayout, s)
	if err != nil {
		return RunTime{}, Errorf(KindConfig, "parsing run stamp %q: %v", s, err)
	}
	return RunTime{t.UTC()}, nil
}

// ValidTime returns the instant the forecast at hour fh applies to.
func (r RunTime) ValidTime(fh int) time.Time {
	return r.UTC().Add(time.Duration(fh) * time.Hour)
}

// Before reports whether r is earlier than o.
func (r RunTime) Before(o RunTime) bool { return r.Time.Before(o.Time) }
