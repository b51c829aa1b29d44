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
	"testing"

	"github.com/ctessum/sparse"
)

func regularLocator(t *testing.T) (*Locator, *Field) {
	t.Helper()
	ds := NewRegularDataset([]float64{40, 41, 42}, []float64{-125, -124, -123})
	data := sparse.ZerosDense(3, 3)
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			data.Set(float64(10*j+i), j, i)
		}
	}
	if err := ds.AddField("t", "K", data, nil); err != nil {
		t.Fatal(err)
	}
	loc, err := NewLocator(ds, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := ds.Field("t")
	if err != nil {
		t.Fatal(err)
	}
	return loc, f
}

func TestLocatorRegularNearestIndex(t *testing.T) {
	loc, _ := regularLocator(t)
	j, i, err := loc.NearestIndex(41.9, -123.4)
	if err != nil {
		t.Fatal(err)
	}
	if j != 2 || i != 2 {
		t.Errorf("NearestIndex = (%d, %d), want (2, 2)", j, i)
	}
}

func TestLocatorRegularSampleClampsToEdge(t *testing.T) {
	loc, f := regularLocator(t)
	if got := loc.Sample(f, 41, -124); got != 11 {
		t.Errorf("on-grid sample = %g, want 11", got)
	}
	// A point north of the grid snaps to the nearest edge row.
	if got := loc.Sample(f, 50, -125); got != 20 {
		t.Errorf("off-grid sample = %g, want the edge value 20", got)
	}
}

func TestLocatorRegularWrapsZeroTo360Axis(t *testing.T) {
	ds := NewRegularDataset([]float64{0, 1}, []float64{0, 120, 240})
	loc, err := NewLocator(ds, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, i, err := loc.NearestIndex(0, -120)
	if err != nil {
		t.Fatal(err)
	}
	if i != 2 {
		t.Errorf("wrapped index = %d, want 2 (lon 240)", i)
	}
}

func TestLocatorCurvilinearNearestIndex(t *testing.T) {
	lat2 := sparse.ZerosDense(3, 3)
	lon2 := sparse.ZerosDense(3, 3)
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			lat2.Set(40+float64(j), j, i)
			lon2.Set(-125+float64(i), j, i)
		}
	}
	ds := NewCurvilinearDataset(lat2, lon2)
	loc, err := NewLocator(ds, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	j, i, err := loc.NearestIndex(41.2, -123.8)
	if err != nil {
		t.Fatal(err)
	}
	if j != 1 || i != 1 {
		t.Errorf("NearestIndex = (%d, %d), want (1, 1)", j, i)
	}
}

func TestNewLocatorProjectedNeedsMapping(t *testing.T) {
	ds := NewProjectedDataset([]float64{0, 1000}, []float64{0, 1000}, nil)
	_, err := NewLocator(ds, nil, nil)
	if KindOf(err) != KindDataDecode {
		t.Errorf("mappingless projected dataset error = %v, want a data-decode error", err)
	}
}
