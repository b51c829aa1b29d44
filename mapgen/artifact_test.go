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

package mapgen

import (
	"testing"

	"github.com/nwcast/wxmaps"
)

func TestArtifactNameRoundTrip(t *testing.T) {
	run, err := wxmaps.ParseRunStamp("20250102_06")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		model, variable string
		fh              int
		want            string
	}{
		{"global025", "temp2m", 12, "global025_20250102_06_temp2m_012.png"},
		{"global025", "t850_wind_mslp", 240, "global025_20250102_06_t850_wind_mslp_240.png"},
		{"hrrrnw", "precip_rate", 0, "hrrrnw_20250102_06_precip_rate_000.png"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			name := ArtifactName(c.model, run, c.variable, c.fh)
			if name != c.want {
				t.Fatalf("ArtifactName = %q, want %q", name, c.want)
			}
			model, gotRun, variable, fh, err := ParseArtifactName(name)
			if err != nil {
				t.Fatal(err)
			}
			if model != c.model || variable != c.variable || fh != c.fh || !gotRun.Equal(run.Time) {
				t.Errorf("parsed (%s, %s, %s, %d), want (%s, %s, %s, %d)",
					model, gotRun.Stamp(), variable, fh, c.model, run.Stamp(), c.variable, c.fh)
			}
		})
	}
}

func TestParseArtifactNameRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"global025_20250102_06_temp2m_012",      // missing extension
		"global025_20250102_06_temp2m.png",      // missing forecast hour
		"global025_20250102_06_temp2m_12.png",   // hour not zero-padded to 3
		"global025_20250199_06_temp2m_012.png",  // impossible date
		"global025_20250102_06__012.png",        // empty variable
		"notastamp_temp2m_012.png",              // too few fields
	}
	for _, name := range bad {
		if _, _, _, _, err := ParseArtifactName(name); err == nil {
			t.Errorf("ParseArtifactName(%q) accepted a malformed name", name)
		}
	}
}
