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

package fetch

import (
	"net/url"
	"testing"

	"github.com/nwcast/wxmaps"
)

var testRegion = wxmaps.Region{West: -130, South: 40, East: -110, North: 52}

func TestFilterSignature(t *testing.T) {
	a := FilterSignature([]string{wxmaps.FieldTMP2M, wxmaps.FieldDPT2M}, testRegion)
	if len(a) != 8 {
		t.Fatalf("signature %q is not 8 characters", a)
	}
	b := FilterSignature([]string{wxmaps.FieldDPT2M, wxmaps.FieldTMP2M}, testRegion)
	if a != b {
		t.Errorf("signature depends on field order: %q != %q", a, b)
	}
	c := FilterSignature([]string{wxmaps.FieldTMP2M}, testRegion)
	if a == c {
		t.Errorf("signatures for different field sets collide: %q", a)
	}
	shifted := testRegion
	shifted.East = -100
	d := FilterSignature([]string{wxmaps.FieldTMP2M, wxmaps.FieldDPT2M}, shifted)
	if a == d {
		t.Errorf("signatures for different regions collide: %q", a)
	}
}

func TestFilterable(t *testing.T) {
	if !filterable([]string{wxmaps.FieldTMP2M, wxmaps.FieldCSNOW, wxmaps.FieldTMP850}) {
		t.Error("known fields reported unfilterable")
	}
	if filterable([]string{wxmaps.FieldTMP2M, "no_such_field"}) {
		t.Error("unknown field reported filterable")
	}
}

func TestFilterURL(t *testing.T) {
	run, err := wxmaps.ParseRunStamp("20250102_06")
	if err != nil {
		t.Fatal(err)
	}
	p := wxmaps.ProviderSpec{
		Name:    "nomads-filter",
		Kind:    wxmaps.ProviderFilter,
		BaseURL: "https://nomads.example.gov/cgi-bin/filter_{filter}.pl",
		Dir:     "/gfs.{yyyymmdd}/{hh}/atmos",
	}
	prod := wxmaps.ProductSpec{ID: "pgrb2", File: "gfs.t{hh}z.pgrb2.0p25.f{fff}", FilterID: "gfs_0p25"}
	m := &wxmaps.ModelConfig{ID: "global025"}

	u, err := filterURL(p, m, prod, run, 42, []string{wxmaps.FieldTMP2M, wxmaps.FieldUGRD10M, wxmaps.FieldVGRD10M}, testRegion)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Path != "/cgi-bin/filter_gfs_0p25.pl" {
		t.Errorf("path = %q", parsed.Path)
	}
	q := parsed.Query()
	want := map[string]string{
		"dir":                     "/gfs.20250102/06/atmos",
		"file":                    "gfs.t06z.pgrb2.0p25.f042",
		"var_TMP":                 "on",
		"var_UGRD":                "on",
		"var_VGRD":                "on",
		"lev_2_m_above_ground":    "on",
		"lev_10_m_above_ground":   "on",
		"leftlon":                 "-130",
		"rightlon":                "-110",
		"toplat":                  "52",
		"bottomlat":               "40",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
	if _, ok := q["subregion"]; !ok {
		t.Error("subregion toggle missing")
	}
	if q.Get("var_DPT") != "" {
		t.Error("unrequested variable toggled on")
	}
}

func TestMirrorURLAndObjectKey(t *testing.T) {
	run, err := wxmaps.ParseRunStamp("20250102_06")
	if err != nil {
		t.Fatal(err)
	}
	prod := wxmaps.ProductSpec{ID: "sfc", File: "hrrr.t{hh}z.wrfsfcf{ff}.grib2"}
	http := wxmaps.ProviderSpec{
		Kind:    wxmaps.ProviderHTTP,
		BaseURL: "https://mirror.example.com/",
		Path:    "hrrr.{yyyymmdd}/conus/{file}",
	}
	if got, want := mirrorURL(http, run, 7, prod),
		"https://mirror.example.com/hrrr.20250102/conus/hrrr.t06z.wrfsfcf07.grib2"; got != want {
		t.Errorf("mirrorURL = %q, want %q", got, want)
	}
	s3p := wxmaps.ProviderSpec{
		Kind: wxmaps.ProviderS3,
		Path: "hrrr.{yyyymmdd}/conus/{file}",
	}
	if got, want := objectKey(s3p, run, 7, prod),
		"hrrr.20250102/conus/hrrr.t06z.wrfsfcf07.grib2"; got != want {
		t.Errorf("objectKey = %q, want %q", got, want)
	}
}
