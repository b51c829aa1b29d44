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
	"math"
	"reflect"
	"testing"

	grib "github.com/mmp/squall"

	"github.com/nwcast/wxmaps"
)

// regularMessage builds a synthetic decoded message on a 3×4 regular grid.
func regularMessage(disc, cat, num int, level string, levelValue float32, data []float32) *grib.GRIB2 {
	const ny, nx = 3, 4
	lats := make([]float32, ny*nx)
	lons := make([]float32, ny*nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			lats[j*nx+i] = 40 + float32(j)
			lons[j*nx+i] = -125 + float32(i)
		}
	}
	g := &grib.GRIB2{
		Data:       data,
		Latitudes:  lats,
		Longitudes: lons,
		Level:      level,
		LevelValue: levelValue,
	}
	g.Parameter.Discipline = uint8(disc)
	g.Parameter.Category = uint8(cat)
	g.Parameter.Number = uint8(num)
	return g
}

func constData(n int, v float32) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = v
	}
	return data
}

func TestDatasetFromMessagesRegular(t *testing.T) {
	msgs := []*grib.GRIB2{
		regularMessage(0, 0, 0, "2 m above ground", 2, constData(12, 280.5)),
		regularMessage(0, 0, 6, "2 m above ground", 2, constData(12, 275.0)),
		// Same parameter identity at a different level must not match tmp2m.
		regularMessage(0, 0, 0, "isobaric surface", 850, constData(12, 260.0)),
	}
	ds, err := DatasetFromMessages(msgs, []string{wxmaps.FieldTMP2M, wxmaps.FieldDPT2M})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Kind != wxmaps.GridRegular {
		t.Fatalf("grid kind = %v, want regular", ds.Kind)
	}
	ny, nx := ds.Shape()
	if ny != 3 || nx != 4 {
		t.Fatalf("shape = %d×%d, want 3×4", ny, nx)
	}
	if !reflect.DeepEqual(ds.Lat, []float64{40, 41, 42}) {
		t.Errorf("lat axis = %v", ds.Lat)
	}
	if !reflect.DeepEqual(ds.Lon, []float64{-125, -124, -123, -122}) {
		t.Errorf("lon axis = %v", ds.Lon)
	}
	tmp, err := ds.Field(wxmaps.FieldTMP2M)
	if err != nil {
		t.Fatal(err)
	}
	if tmp.Units != "K" {
		t.Errorf("tmp2m units = %q, want K", tmp.Units)
	}
	if got := tmp.Data.Get(1, 2); got != 280.5 {
		t.Errorf("tmp2m value = %g, want 280.5 (isobaric message matched instead?)", got)
	}
	if got := ds.Fields[wxmaps.FieldDPT2M].Data.Get(0, 0); got != 275.0 {
		t.Errorf("dpt2m value = %g", got)
	}
}

func TestDatasetFromMessagesMissingValues(t *testing.T) {
	data := constData(12, 1.5)
	data[5] = 9.999e20
	msgs := []*grib.GRIB2{regularMessage(0, 1, 8, "surface", 0, data)}
	ds, err := DatasetFromMessages(msgs, []string{wxmaps.FieldTP})
	if err != nil {
		t.Fatal(err)
	}
	tp := ds.Fields[wxmaps.FieldTP].Data
	if !math.IsNaN(tp.Get(1, 1)) {
		t.Errorf("missing value decoded as %g, want NaN", tp.Get(1, 1))
	}
	if tp.Get(1, 2) != 1.5 {
		t.Errorf("present value decoded as %g", tp.Get(1, 2))
	}
}

func TestDatasetFromMessagesIsobaricPascals(t *testing.T) {
	// Some encoders write isobaric level values in Pa rather than hPa.
	msgs := []*grib.GRIB2{
		regularMessage(0, 0, 0, "isobaric surface", 85000, constData(12, 263.0)),
	}
	ds, err := DatasetFromMessages(msgs, []string{wxmaps.FieldTMP850})
	if err != nil {
		t.Fatal(err)
	}
	if !ds.HasField(wxmaps.FieldTMP850) {
		t.Error("850 hPa field not matched from a Pa-encoded level value")
	}
}

func TestDatasetFromMessagesCurvilinear(t *testing.T) {
	const ny, nx = 3, 4
	lats := make([]float32, ny*nx)
	lons := make([]float32, ny*nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			// Latitude drifts along each row, as on a projected grid.
			lats[j*nx+i] = 40 + float32(j) + 0.01*float32(i)
			lons[j*nx+i] = -125 + float32(i) + 0.02*float32(j)
		}
	}
	g := &grib.GRIB2{
		Data:       constData(ny*nx, 5),
		Latitudes:  lats,
		Longitudes: lons,
		Level:      "surface",
	}
	g.Parameter.Category = 1
	g.Parameter.Number = 8
	ds, err := DatasetFromMessages([]*grib.GRIB2{g}, []string{wxmaps.FieldTP})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Kind != wxmaps.GridCurvilinear {
		t.Fatalf("grid kind = %v, want curvilinear", ds.Kind)
	}
	gotNy, gotNx := ds.Shape()
	if gotNy != ny || gotNx != nx {
		t.Fatalf("shape = %d×%d, want %d×%d", gotNy, gotNx, ny, nx)
	}
	if got := ds.Lat2.Get(2, 3); math.Abs(got-42.03) > 1e-6 {
		t.Errorf("lat2[2,3] = %g, want 42.03", got)
	}
}

func TestDatasetFromMessagesNoneMatch(t *testing.T) {
	msgs := []*grib.GRIB2{regularMessage(0, 0, 0, "2 m above ground", 2, constData(12, 280))}
	_, err := DatasetFromMessages(msgs, []string{wxmaps.FieldCAPE})
	if wxmaps.KindOf(err) != wxmaps.KindMissingField {
		t.Errorf("error kind = %v, want KindMissingField", wxmaps.KindOf(err))
	}
}

func TestRowLength(t *testing.T) {
	lons := []float32{0, 1, 2, 3, 0, 1, 2, 3}
	if got := rowLength(lons); got != 4 {
		t.Errorf("rowLength = %d, want 4", got)
	}
	single := []float32{0, 1, 2, 3}
	if got := rowLength(single); got != 4 {
		t.Errorf("rowLength of one row = %d, want 4", got)
	}
}
