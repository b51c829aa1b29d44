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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// A Station is one surface observation site eligible for value labels on
// maps. Station ids are internal lookup keys and never appear on rendered
// output.
type Station struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	// Weight orders stations within a declutter bin; higher wins.
	Weight float64 `json:"weight"`
	// AlwaysInclude bypasses decluttering for this station.
	AlwaysInclude bool `json:"always_include"`
}

// A StationOverride adjusts one catalog entry without editing the catalog
// file.
type StationOverride struct {
	Weight        *float64 `json:"weight,omitempty"`
	AlwaysInclude *bool    `json:"always_include,omitempty"`
}

// A StationCatalog holds the full station table, loaded once per process
// and never mutated afterwards. Region filters are cached on first use.
type StationCatalog struct {
	stations map[string]*Station

	mu       sync.Mutex
	byRegion map[string][]*Station
}

// LoadStationCatalog reads the JSON catalog (an object keyed by station
// id) and, when overridesPath is non-empty, applies per-station weight and
// always-include overrides.
func LoadStationCatalog(path, overridesPath string) (*StationCatalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, Errorf(KindConfig, "stations: reading catalog: %v", err)
	}
	var raw map[string]*Station
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, Errorf(KindConfig, "stations: parsing catalog %s: %v", path, err)
	}
	for id, s := range raw {
		if s.ID == "" {
			s.ID = id
		}
		if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
			return nil, Errorf(KindConfig, "stations: %s has out-of-range coordinates (%g, %g)",
				id, s.Lat, s.Lon)
		}
	}
	if overridesPath != "" {
		ob, err := os.ReadFile(overridesPath)
		if err != nil {
			return nil, Errorf(KindConfig, "stations: reading overrides: %v", err)
		}
		var overrides map[string]StationOverride
		if err := json.Unmarshal(ob, &overrides); err != nil {
			return nil, Errorf(KindConfig, "stations: parsing overrides %s: %v", overridesPath, err)
		}
		for id, o := range overrides {
			s, ok := raw[id]
			if !ok {
				continue
			}
			if o.Weight != nil {
				s.Weight = *o.Weight
			}
			if o.AlwaysInclude != nil {
				s.AlwaysInclude = *o.AlwaysInclude
			}
		}
	}
	return &StationCatalog{stations: raw, byRegion: make(map[string][]*Station)}, nil
}

// NewStationCatalog builds a catalog from an in-memory table.
func NewStationCatalog(stations []*Station) *StationCatalog {
	c := &StationCatalog{stations: make(map[string]*Station), byRegion: make(map[string][]*Station)}
	for _, s := range stations {
		c.stations[s.ID] = s
	}
	return c
}

// Len returns the number of catalog entries.
func (c *StationCatalog) Len() int { return len(c.stations) }

// Get looks up one station by id.
func (c *StationCatalog) Get(id string) (*Station, bool) {
	s, ok := c.stations[id]
	return s, ok
}

// All returns every station, sorted by id.
func (c *StationCatalog) All() []*Station {
	out := make([]*Station, 0, len(c.stations))
	for _, s := range c.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForRegion returns the stations inside the bbox, heaviest first. The
// filter result is cached per bbox.
func (c *StationCatalog) ForRegion(region Region) []*Station {
	key := fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", region.West, region.South, region.East, region.North)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.byRegion[key]; ok {
		return cached
	}
	var out []*Station
	for _, s := range c.stations {
		if region.Contains(s.Lat, s.Lon) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	c.byRegion[key] = out
	return out
}

// An OverlayRule controls station value labels for one variable.
type OverlayRule struct {
	Enabled bool
	// MinSpacingPx is the minimum pixel spacing between labels.
	MinSpacingPx int
	// Format is the fmt verb for the label value.
	Format string
}

// A StationPolicy maps variable ids to overlay rules. Variables without a
// rule get overlays disabled.
type StationPolicy struct {
	rules map[string]OverlayRule
}

// NewStationPolicy returns an empty policy (all overlays off).
func NewStationPolicy() *StationPolicy {
	return &StationPolicy{rules: make(map[string]OverlayRule)}
}

// Set installs the rule for a variable.
func (p *StationPolicy) Set(variableID string, rule OverlayRule) {
	if rule.MinSpacingPx <= 0 {
		rule.MinSpacingPx = 60
	}
	if rule.Format == "" {
		rule.Format = "%.0f"
	}
	p.rules[variableID] = rule
}

// Rule returns the overlay rule for a variable. Unknown variables get
// overlays disabled.
func (p *StationPolicy) Rule(variableID string) OverlayRule {
	if r, ok := p.rules[variableID]; ok {
		return r
	}
	return OverlayRule{Enabled: false}
}

// DefaultStationPolicy enables value labels for the point-readable
// surface variables and leaves composites and imagery-like variables
// clean.
func DefaultStationPolicy() *StationPolicy {
	p := NewStationPolicy()
	p.Set("temp2m", OverlayRule{Enabled: true, MinSpacingPx: 60, Format: "%.0f"})
	p.Set("dewpoint2m", OverlayRule{Enabled: true, MinSpacingPx: 60, Format: "%.0f"})
	p.Set("gust", OverlayRule{Enabled: true, MinSpacingPx: 60, Format: "%.0f"})
	p.Set("wind10m", OverlayRule{Enabled: true, MinSpacingPx: 70, Format: "%.0f"})
	p.Set("precip", OverlayRule{Enabled: true, MinSpacingPx: 80, Format: "%.2f"})
	p.Set("snowfall", OverlayRule{Enabled: true, MinSpacingPx: 80, Format: "%.1f"})
	return p
}

// DeclutterStations selects the stations to label on a widthPx×heightPx
// map of the region. Stations are binned on a coarse screen grid in
// normalized bbox space and the heaviest station wins each bin;
// always-include stations are restored afterwards regardless of binning.
func DeclutterStations(stations []*Station, region Region, widthPx, heightPx, minSpacingPx int) []*Station {
	if minSpacingPx <= 0 {
		minSpacingPx = 60
	}
	nbx := widthPx / minSpacingPx
	if nbx < 1 {
		nbx = 1
	}
	nby := heightPx / minSpacingPx
	if nby < 1 {
		nby = 1
	}
	type binKey struct{ bx, by int }
	best := make(map[binKey]*Station)
	forced := make(map[string]*Station)
	for _, s := range stations {
		if !region.Contains(s.Lat, s.Lon) {
			continue
		}
		if s.AlwaysInclude {
			forced[s.ID] = s
		}
		fx := (s.Lon - region.West) / (region.East - region.West)
		fy := (s.Lat - region.South) / (region.North - region.South)
		k := binKey{int(fx * float64(nbx)), int(fy * float64(nby))}
		if k.bx >= nbx {
			k.bx = nbx - 1
		}
		if k.by >= nby {
			k.by = nby - 1
		}
		cur, ok := best[k]
		if !ok || s.Weight > cur.Weight || (s.Weight == cur.Weight && s.ID < cur.ID) {
			best[k] = s
		}
	}
	picked := make(map[string]*Station, len(best)+len(forced))
	for _, s := range best {
		picked[s.ID] = s
	}
	for id, s := range forced {
		picked[id] = s
	}
	out := make([]*Station, 0, len(picked))
	for _, s := range picked {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
