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
	"image/color"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom/carto"

	"github.com/nwcast/wxmaps"
)

// Color tables, in the style of carto's built-in Colorlists: breakpoints on
// a normalized [-1, 1] axis with linear interpolation between stops. The
// same table with the same value range produces the same color for the same
// physical value in every frame, which is what makes run animations
// comparable.
var palettes = map[string]carto.Colorlist{
	"temperature": {
		Val: []float64{-1, -0.6, -0.3, 0, 0.2, 0.4, 0.6, 0.8, 1},
		R:   []float64{145, 59, 68, 145, 55, 222, 247, 217, 132},
		G:   []float64{0, 76, 131, 207, 165, 222, 196, 72, 13},
		B:   []float64{200, 192, 227, 219, 87, 82, 64, 47, 37},
		HighLimit: color.NRGBA{R: 97, G: 4, B: 27, A: 255},
		LowLimit:  color.NRGBA{R: 120, G: 0, B: 170, A: 255},
	},
	"moisture": {
		Val: []float64{-1, 0, 0.3, 0.6, 0.8, 1},
		R:   []float64{166, 166, 217, 96, 26, 0},
		G:   []float64{97, 97, 198, 171, 125, 60},
		B:   []float64{26, 26, 131, 93, 60, 48},
		HighLimit: color.NRGBA{R: 0, G: 40, B: 30, A: 255},
		LowLimit:  color.NRGBA{R: 120, G: 60, B: 10, A: 255},
	},
	"precip": {
		Val: []float64{-1, 0, 0.08, 0.2, 0.35, 0.55, 0.75, 1},
		R:   []float64{255, 255, 160, 48, 9, 250, 212, 125},
		G:   []float64{255, 255, 210, 150, 85, 216, 60, 8},
		B:   []float64{255, 255, 235, 219, 160, 56, 39, 42},
		HighLimit: color.NRGBA{R: 80, G: 0, B: 40, A: 255},
		LowLimit:  color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	},
	"snow": {
		Val: []float64{-1, 0, 0.1, 0.3, 0.55, 0.8, 1},
		R:   []float64{255, 255, 206, 120, 53, 110, 64},
		G:   []float64{255, 255, 225, 170, 98, 45, 0},
		B:   []float64{255, 255, 245, 224, 160, 140, 75},
		HighLimit: color.NRGBA{R: 40, G: 0, B: 50, A: 255},
		LowLimit:  color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	},
	"wind": {
		Val: []float64{-1, 0, 0.2, 0.4, 0.6, 0.8, 1},
		R:   []float64{240, 240, 170, 252, 240, 183, 110},
		G:   []float64{248, 248, 216, 220, 134, 57, 15},
		B:   []float64{255, 255, 227, 120, 66, 48, 40},
		HighLimit: color.NRGBA{R: 70, G: 0, B: 30, A: 255},
		LowLimit:  color.NRGBA{R: 240, G: 248, B: 255, A: 255},
	},
	"radar": {
		Val: []float64{-1, 0, 0.15, 0.3, 0.45, 0.6, 0.75, 0.9, 1},
		R:   []float64{255, 255, 120, 30, 255, 250, 230, 170, 250},
		G:   []float64{255, 255, 226, 144, 244, 150, 40, 10, 120},
		B:   []float64{255, 255, 237, 58, 66, 40, 30, 40, 250},
		HighLimit: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		LowLimit:  color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	},
	"cloud": {
		Val: []float64{-1, 0, 0.5, 1},
		R:   []float64{60, 60, 160, 245},
		G:   []float64{110, 110, 180, 245},
		B:   []float64{200, 200, 205, 248},
		HighLimit: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		LowLimit:  color.NRGBA{R: 40, G: 90, B: 180, A: 255},
	},
	"cape": {
		Val: []float64{-1, 0, 0.1, 0.3, 0.5, 0.75, 1},
		R:   []float64{255, 255, 250, 250, 240, 190, 120},
		G:   []float64{255, 255, 240, 190, 110, 30, 0},
		B:   []float64{255, 255, 170, 90, 60, 45, 60},
		HighLimit: color.NRGBA{R: 80, G: 0, B: 60, A: 255},
		LowLimit:  color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	},
}

// A Scale is the fixed value range and color table for one variable. Scales
// never adapt to the data, so the same value renders as the same color in
// every frame of a run.
type Scale struct {
	Min, Max float64
	Palette  carto.Colorlist
}

// colorMap builds a fresh carto color map over the fixed range. ColorMaps
// hold per-render legend state, so one is built per Generate call.
func (s Scale) colorMap() *carto.ColorMap {
	cm := carto.NewColorMap(carto.Linear)
	cm.ColorScheme = s.Palette
	cm.NumDivisions = 8
	cm.FontSize = 9
	cm.AddArray([]float64{s.Min, s.Max})
	cm.Set()
	return cm
}

// clamp pulls a value into the scale range so fixed-range color lookups
// never fail on out-of-range data.
func (s Scale) clamp(v float64) float64 {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// A Style is the per-variable render configuration: fixed color scales and
// the station-overlay policy. DefaultStyle covers every registered
// variable; a TOML style file overrides entries without replacing the rest.
type Style struct {
	scales map[string]Scale
	Policy *wxmaps.StationPolicy
}

// Scale returns the color scale for a variable, falling back to a neutral
// grey ramp for variables without one.
func (st *Style) Scale(variableID string) Scale {
	if s, ok := st.scales[variableID]; ok {
		return s
	}
	return Scale{Min: 0, Max: 1, Palette: carto.OptimizedGrey}
}

// DefaultStyle returns the compiled-in render configuration. The value
// ranges are in display units (conversions happen before color lookup).
func DefaultStyle() *Style {
	return &Style{
		scales: map[string]Scale{
			"temp2m":         {Min: -30, Max: 110, Palette: palettes["temperature"]},
			"dewpoint2m":     {Min: -20, Max: 85, Palette: palettes["moisture"]},
			"wind10m":        {Min: 0, Max: 80, Palette: palettes["wind"]},
			"gust":           {Min: 0, Max: 100, Palette: palettes["wind"]},
			"precip":         {Min: 0, Max: 10, Palette: palettes["precip"]},
			"precip_rate":    {Min: 0, Max: 1, Palette: palettes["precip"]},
			"snowfall":       {Min: 0, Max: 48, Palette: palettes["snow"]},
			"mslp_precip":    {Min: 0, Max: 10, Palette: palettes["precip"]},
			"t850_wind_mslp": {Min: -40, Max: 40, Palette: palettes["temperature"]},
			"radar":          {Min: 0, Max: 75, Palette: palettes["radar"]},
			"cloudcover":     {Min: 0, Max: 100, Palette: palettes["cloud"]},
			"cape":           {Min: 0, Max: 5000, Palette: palettes["cape"]},
		},
		Policy: wxmaps.DefaultStationPolicy(),
	}
}

// styleFile is the on-disk TOML shape.
type styleFile struct {
	Scales map[string]struct {
		Min     float64 `toml:"min"`
		Max     float64 `toml:"max"`
		Palette string  `toml:"palette"`
	} `toml:"scales"`
	Overlays map[string]struct {
		Enabled      bool   `toml:"enabled"`
		MinSpacingPx int    `toml:"min_spacing_px"`
		Format       string `toml:"format"`
	} `toml:"overlays"`
}

// LoadStyle reads a TOML style file and overlays it on the defaults, so a
// file only needs to mention what it changes.
func LoadStyle(path string) (*Style, error) {
	st := DefaultStyle()
	var f styleFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: reading style file %s: %v", path, err)
	}
	for id, sc := range f.Scales {
		pal, ok := palettes[sc.Palette]
		if !ok {
			return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: style file %s: unknown palette %q for %s",
				path, sc.Palette, id)
		}
		if sc.Min >= sc.Max {
			return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: style file %s: %s has min >= max", path, id)
		}
		st.scales[id] = Scale{Min: sc.Min, Max: sc.Max, Palette: pal}
	}
	for id, ov := range f.Overlays {
		st.Policy.Set(id, wxmaps.OverlayRule{
			Enabled:      ov.Enabled,
			MinSpacingPx: ov.MinSpacingPx,
			Format:       ov.Format,
		})
	}
	return st, nil
}
