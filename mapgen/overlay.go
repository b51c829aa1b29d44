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

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"

	"github.com/nwcast/wxmaps"
)

// An OverlayLayer is one set of reference vectors (coastline, borders,
// states) drawn on top of the raster, in geographic coordinates.
type OverlayLayer struct {
	Name    string
	Geoms   []geom.Geom
	Color   color.NRGBA
	WidthPt float64
}

// An OverlaySet holds the reference layers in draw order. Layers are loaded
// once per process and shared read-only between render workers.
type OverlaySet struct {
	Layers []OverlayLayer
}

// OverlayFiles names the shapefiles for the standard reference layers.
// Empty paths skip the layer.
type OverlayFiles struct {
	Coastline string
	Borders   string
	States    string
}

// LoadOverlays reads the reference shapefiles, reprojecting to geographic
// coordinates when the file declares a different reference system.
func LoadOverlays(files OverlayFiles) (*OverlaySet, error) {
	set := &OverlaySet{}
	specs := []struct {
		name    string
		path    string
		color   color.NRGBA
		widthPt float64
	}{
		{"coastline", files.Coastline, color.NRGBA{R: 40, G: 40, B: 40, A: 255}, 0.8},
		{"borders", files.Borders, color.NRGBA{R: 60, G: 60, B: 60, A: 255}, 0.6},
		{"states", files.States, color.NRGBA{R: 110, G: 110, B: 110, A: 255}, 0.4},
	}
	for _, s := range specs {
		if s.path == "" {
			continue
		}
		geoms, err := loadShapefile(s.path)
		if err != nil {
			return nil, err
		}
		set.Layers = append(set.Layers, OverlayLayer{
			Name: s.name, Geoms: geoms, Color: s.color, WidthPt: s.widthPt,
		})
	}
	return set, nil
}

type shpRow struct {
	geom.Geom
}

func loadShapefile(path string) ([]geom.Geom, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: opening shapefile %s: %v", path, err)
	}
	defer d.Close()

	src, err := d.SR()
	if err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: reading projection of %s: %v", path, err)
	}
	dst, err := proj.Parse("+proj=longlat")
	if err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: parsing longlat projection: %v", err)
	}
	ct, err := src.NewTransform(dst)
	if err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: building transform for %s: %v", path, err)
	}

	var out []geom.Geom
	for {
		var row shpRow
		if !d.DecodeRow(&row) {
			break
		}
		g, err := row.Geom.Transform(ct)
		if err != nil {
			return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: reprojecting %s: %v", path, err)
		}
		out = append(out, g)
	}
	if err := d.Error(); err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindConfig, "mapgen: reading %s: %v", path, err)
	}
	return out, nil
}
