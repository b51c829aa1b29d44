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

	"github.com/ctessum/sparse"
)

func TestNormalizeLongitudesRotates(t *testing.T) {
	// A 0..360-convention grid crosses the dateline after shifting; the
	// axis must come back ascending with the columns rotated to match.
	ds := NewRegularDataset([]float64{0, 1}, []float64{0, 90, 180, 270})
	data := sparse.ZerosDense(2, 4)
	for j := 0; j < 2; j++ {
		for i := 0; i < 4; i++ {
			data.Set(float64(i), j, i)
		}
	}
	if err := ds.AddField("t", "K", data, nil); err != nil {
		t.Fatal(err)
	}
	ds.NormalizeLongitudes()

	if want := []float64{-90, 0, 90, 180}; !reflect.DeepEqual(ds.Lon, want) {
		t.Errorf("Lon = %v, want %v", ds.Lon, want)
	}
	got := ds.Fields["t"].Data
	for i, want := range []float64{3, 0, 1, 2} {
		if got.Get(0, i) != want {
			t.Errorf("rotated data[0][%d] = %g, want %g", i, got.Get(0, i), want)
		}
	}
}

func TestNormalizeLongitudesAlreadyWestNegative(t *testing.T) {
	ds := NewRegularDataset([]float64{40, 41}, []float64{-125, -124, -123})
	before := append([]float64(nil), ds.Lon...)
	ds.NormalizeLongitudes()
	if !reflect.DeepEqual(ds.Lon, before) {
		t.Errorf("normalization changed an already-normalized axis: %v", ds.Lon)
	}
}

func TestSubsetRegular(t *testing.T) {
	ds := NewRegularDataset(
		[]float64{40, 41, 42, 43, 44},
		[]float64{-125, -124, -123, -122, -121})
	data := sparse.ZerosDense(5, 5)
	for j := 0; j < 5; j++ {
		for i := 0; i < 5; i++ {
			data.Set(float64(10*j+i), j, i)
		}
	}
	if err := ds.AddField("t", "K", data, nil); err != nil {
		t.Fatal(err)
	}

	out, err := ds.Subset(Region{West: -123.5, South: 41.5, East: -121.5, North: 43.5})
	if err != nil {
		t.Fatal(err)
	}
	// The window covers 42..43 and -123..-122, plus one margin cell each
	// side.
	if want := []float64{41, 42, 43, 44}; !reflect.DeepEqual(out.Lat, want) {
		t.Errorf("Lat = %v, want %v", out.Lat, want)
	}
	if want := []float64{-124, -123, -122, -121}; !reflect.DeepEqual(out.Lon, want) {
		t.Errorf("Lon = %v, want %v", out.Lon, want)
	}
	f, err := out.Field("t")
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Data.Get(0, 0); got != 11 {
		t.Errorf("windowed data[0][0] = %g, want 11", got)
	}
}

func TestSubsetDisjointRegion(t *testing.T) {
	ds := NewRegularDataset([]float64{40, 41, 42}, []float64{-125, -124, -123})
	_, err := ds.Subset(Region{West: 10, South: 10, East: 20, North: 20})
	if KindOf(err) != KindRegionMismatch {
		t.Errorf("disjoint subset error = %v, want a region-mismatch error", err)
	}
}

func TestSubsetCurvilinear(t *testing.T) {
	lat2 := sparse.ZerosDense(4, 4)
	lon2 := sparse.ZerosDense(4, 4)
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			lat2.Set(40+float64(j), j, i)
			lon2.Set(-125+float64(i), j, i)
		}
	}
	ds := NewCurvilinearDataset(lat2, lon2)
	data := sparse.ZerosDense(4, 4)
	if err := ds.AddField("t", "K", data, nil); err != nil {
		t.Fatal(err)
	}
	out, err := ds.Subset(Region{West: -123.5, South: 41.5, East: -122.5, North: 42.5})
	if err != nil {
		t.Fatal(err)
	}
	ny, nx := out.Shape()
	// One matching cell (42, -123) padded by one cell on each side.
	if ny != 3 || nx != 3 {
		t.Errorf("curvilinear subset shape = (%d, %d), want (3, 3)", ny, nx)
	}
}

func TestStripTimeCoords(t *testing.T) {
	ds := NewRegularDataset([]float64{40}, []float64{-125})
	ds.Scalars["time"] = 1.7e9
	ds.Scalars["step"] = 6
	ds.Scalars["heightAboveGround"] = 2
	ds.Scalars["isobaricInhPa"] = 850
	ds.StripTimeCoords()
	if _, ok := ds.Scalars["time"]; ok {
		t.Error("time scalar survived StripTimeCoords")
	}
	if _, ok := ds.Scalars["step"]; ok {
		t.Error("step scalar survived StripTimeCoords")
	}
	if _, ok := ds.Scalars["isobaricInhPa"]; !ok {
		t.Error("non-time scalar was stripped")
	}
}

func TestAddFieldShapeCheck(t *testing.T) {
	ds := NewRegularDataset([]float64{40, 41}, []float64{-125, -124})
	err := ds.AddField("t", "K", sparse.ZerosDense(3, 2), nil)
	if KindOf(err) != KindDataDecode {
		t.Errorf("shape mismatch error = %v, want a data-decode error", err)
	}
}

func TestRegionValid(t *testing.T) {
	if err := (Region{West: -130, South: 40, East: -110, North: 52}).Valid(); err != nil {
		t.Error(err)
	}
	if err := (Region{West: -110, South: 40, East: -130, North: 52}).Valid(); KindOf(err) != KindConfig {
		t.Errorf("west>=east error = %v, want a config error", err)
	}
	if err := (Region{West: -130, South: 40, East: -110, North: 95}).Valid(); KindOf(err) != KindConfig {
		t.Errorf("north>90 error = %v, want a config error", err)
	}
}
