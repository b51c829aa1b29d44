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
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadStationCatalog(t *testing.T) {
	catalogPath := writeTemp(t, "stations.json", `{
		"KSEA": {"name": "Seattle", "lat": 47.45, "lon": -122.31, "weight": 5},
		"KPDX": {"name": "Portland", "lat": 45.59, "lon": -122.60, "weight": 3}
	}`)
	overridesPath := writeTemp(t, "overrides.json", `{
		"KSEA": {"weight": 99, "always_include": true},
		"KXYZ": {"weight": 1}
	}`)

	c, err := LoadStationCatalog(catalogPath, overridesPath)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	sea, ok := c.Get("KSEA")
	if !ok {
		t.Fatal("KSEA missing")
	}
	if sea.ID != "KSEA" {
		t.Errorf("ID not filled from the catalog key: %q", sea.ID)
	}
	if sea.Weight != 99 || !sea.AlwaysInclude {
		t.Errorf("override not applied: weight = %g, always = %v", sea.Weight, sea.AlwaysInclude)
	}
	pdx, _ := c.Get("KPDX")
	if pdx.Weight != 3 {
		t.Errorf("untouched station weight = %g, want 3", pdx.Weight)
	}
}

func TestLoadStationCatalogRejectsBadCoordinates(t *testing.T) {
	p := writeTemp(t, "stations.json", `{"KBAD": {"lat": 95, "lon": -122}}`)
	_, err := LoadStationCatalog(p, "")
	if KindOf(err) != KindConfig {
		t.Errorf("out-of-range coordinates error = %v, want a config error", err)
	}
}

func TestForRegionHeaviestFirst(t *testing.T) {
	c := NewStationCatalog([]*Station{
		{ID: "A", Lat: 47, Lon: -122, Weight: 1},
		{ID: "B", Lat: 46, Lon: -123, Weight: 9},
		{ID: "C", Lat: 45, Lon: -121, Weight: 5},
		{ID: "D", Lat: 10, Lon: 10, Weight: 100}, // outside
	})
	got := c.ForRegion(Region{West: -125, South: 44, East: -120, North: 48})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"B", "C", "A"} {
		if got[i].ID != want {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestDeclutterStations(t *testing.T) {
	region := Region{West: -125, South: 40, East: -120, North: 45}
	// A and B land in the same screen bin; B is heavier and wins. C sits
	// in its own bin. D would lose its bin to nothing but is forced in by
	// AlwaysInclude.
	stations := []*Station{
		{ID: "A", Lat: 40.1, Lon: -124.9, Weight: 1},
		{ID: "B", Lat: 40.2, Lon: -124.8, Weight: 5},
		{ID: "C", Lat: 44.5, Lon: -120.5, Weight: 2},
		{ID: "D", Lat: 40.15, Lon: -124.85, Weight: 0, AlwaysInclude: true},
		{ID: "E", Lat: 0, Lon: 0, Weight: 50}, // outside the region
	}
	got := DeclutterStations(stations, region, 1000, 1000, 250)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	want := []string{"B", "C", "D"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestStationPolicy(t *testing.T) {
	p := NewStationPolicy()
	p.Set("temp2m", OverlayRule{Enabled: true})
	r := p.Rule("temp2m")
	if r.MinSpacingPx != 60 || r.Format != "%.0f" {
		t.Errorf("defaults not filled: %+v", r)
	}
	if p.Rule("radar").Enabled {
		t.Error("unknown variable should have overlays disabled")
	}

	d := DefaultStationPolicy()
	if !d.Rule("temp2m").Enabled || !d.Rule("snowfall").Enabled {
		t.Error("default policy should label surface variables")
	}
	if d.Rule("radar").Enabled || d.Rule("cloudcover").Enabled {
		t.Error("default policy should leave imagery-like variables clean")
	}
	if got := d.Rule("precip").Format; got != "%.2f" {
		t.Errorf("precip format = %q, want %%.2f", got)
	}
}
