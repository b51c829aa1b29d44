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

// Package mapgen renders canonical gridded datasets into publishable PNG
// maps: a raster layer under fixed per-variable color scales, reference
// vector overlays, isoline composites, station value labels, and a legend
// strip, written to the publish directory with a partial-then-rename
// protocol so readers never observe a half-written artifact.
package mapgen

import (
	"context"
	"fmt"
	"image"
	"image/color"
	imgdraw "image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/carto"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/nwcast/wxmaps"
)

// legendHeightPx is the height of the legend strip under the map.
const legendHeightPx = 72

// A Generator renders maps into the publish directory. Generators are safe
// for concurrent use: all fields are set before the first Generate call and
// never mutated.
type Generator struct {
	PublishDir string
	// Width is the map width in pixels; the height follows the region
	// aspect ratio. Zero means 1024.
	Width int

	Variables *wxmaps.VariableRegistry
	Stations  *wxmaps.StationCatalog
	Style     *Style
	Overlays  *OverlaySet

	Log logrus.FieldLogger
}

func (g *Generator) log() logrus.FieldLogger {
	if g.Log != nil {
		return g.Log
	}
	return logrus.StandardLogger()
}

func (g *Generator) width() int {
	if g.Width > 0 {
		return g.Width
	}
	return 1024
}

func (g *Generator) style() *Style {
	if g.Style != nil {
		return g.Style
	}
	return DefaultStyle()
}

// renderSpec says how one variable turns into pixels: which field fills the
// raster (through which unit conversion), and which optional composites
// ride on top.
type renderSpec struct {
	raster  string
	convert func(float64) float64

	// windSpeed derives the raster from the wind components instead of a
	// single field.
	windSpeed    bool
	windU, windV string

	// contour adds isolines of another field.
	contour         string
	contourInterval float64
	contourConvert  func(float64) float64

	// vectors adds wind shafts sampled on a coarse lattice.
	vectors bool
}

func kToF(k float64) float64      { return (k-273.15)*9/5 + 32 }
func kToC(k float64) float64      { return k - 273.15 }
func msToMPH(ms float64) float64  { return ms * 2.236936 }
func paToHPa(pa float64) float64  { return pa / 100 }
func mmToIn(mm float64) float64   { return wxmaps.MMToInches(mm) }
func rateToInHr(r float64) float64 { return r * 3600 / 25.4 }
func identity(v float64) float64  { return v }

var renderSpecs = map[string]renderSpec{
	"temp2m":      {raster: wxmaps.FieldTMP2M, convert: kToF},
	"dewpoint2m":  {raster: wxmaps.FieldDPT2M, convert: kToF},
	"gust":        {raster: wxmaps.FieldGUST, convert: msToMPH},
	"precip":      {raster: wxmaps.DerivedTPTotal, convert: mmToIn},
	"precip_rate": {raster: wxmaps.FieldPRATE, convert: rateToInHr},
	"snowfall":    {raster: wxmaps.DerivedSnowTotal, convert: mmToIn},
	"radar":       {raster: wxmaps.FieldREFC, convert: identity},
	"cloudcover":  {raster: wxmaps.FieldTCDC, convert: identity},
	"cape":        {raster: wxmaps.FieldCAPE, convert: identity},
	"wind10m": {
		windSpeed: true, windU: wxmaps.FieldUGRD10M, windV: wxmaps.FieldVGRD10M,
		convert: msToMPH, vectors: true,
	},
	"mslp_precip": {
		raster: wxmaps.DerivedTPTotal, convert: mmToIn,
		contour: wxmaps.FieldPRMSL, contourInterval: 4, contourConvert: paToHPa,
	},
	"t850_wind_mslp": {
		raster: wxmaps.FieldTMP850, convert: kToC,
		contour: wxmaps.FieldPRMSL, contourInterval: 4, contourConvert: paToHPa,
		vectors: true,
	},
}

// wind component fields for the vector overlay, per variable.
var vectorFields = map[string][2]string{
	"wind10m":        {wxmaps.FieldUGRD10M, wxmaps.FieldVGRD10M},
	"t850_wind_mslp": {wxmaps.FieldUGRD850, wxmaps.FieldVGRD850},
}

// Generate renders one map and publishes it atomically, returning the
// artifact file name. A failed render removes its partial file and returns
// a render-kind error; the caller decides whether the hour is retried.
func (g *Generator) Generate(ctx context.Context, ds *wxmaps.GridDataset, variableID string,
	m *wxmaps.ModelConfig, run wxmaps.RunTime, fh int, region wxmaps.Region) (string, error) {
	fail := func(err error) (string, error) {
		return "", &wxmaps.Error{Kind: wxmaps.KindRender, Op: "mapgen",
			Model: m.ID, Run: run, FH: fh, Variable: variableID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &wxmaps.Error{Kind: wxmaps.KindCancelled, Op: "mapgen",
			Model: m.ID, Run: run, FH: fh, Variable: variableID, Err: err}
	}
	v, err := g.Variables.RequirementsFor(variableID, m)
	if err != nil {
		return "", err
	}
	spec, ok := renderSpecs[variableID]
	if !ok {
		return "", &wxmaps.Error{Kind: wxmaps.KindConfig, Op: "mapgen",
			Model: m.ID, Run: run, FH: fh, Variable: variableID,
			Err: fmt.Errorf("no render specification")}
	}
	loc, err := wxmaps.NewLocator(ds, m, g.log())
	if err != nil {
		return fail(err)
	}
	data, err := rasterData(ds, spec)
	if err != nil {
		return fail(err)
	}
	scale := g.style().Scale(variableID)
	cmap := scale.colorMap()

	width := g.width()
	rm := carto.NewRasterMap(region.North, region.South, region.East, region.West, width)
	height := rm.I.Bounds().Dy()

	g.fillRaster(rm.I, loc, data, scale, cmap, region)

	if spec.contour != "" {
		if err := g.drawContours(rm, loc, ds, spec, region, width, height); err != nil {
			return fail(err)
		}
	}
	for _, layer := range g.overlayLayers() {
		ls := vgdraw.LineStyle{
			Color: layer.Color,
			Width: vg.Points(layer.WidthPt),
		}
		for _, shape := range layer.Geoms {
			if err := rm.DrawVector(shape, color.NRGBA{}, ls, vgdraw.GlyphStyle{}); err != nil {
				return fail(fmt.Errorf("drawing %s overlay: %v", layer.Name, err))
			}
		}
	}
	if spec.vectors {
		if err := g.drawWind(rm, loc, ds, variableID, region, width, height); err != nil {
			return fail(err)
		}
	}
	if err := g.drawStationLabels(rm, loc, data, variableID, region, width, height); err != nil {
		return fail(err)
	}

	legend := image.NewRGBA(image.Rect(0, 0, width, legendHeightPx))
	if err := g.drawLegend(legend, cmap, v, m, run, fh); err != nil {
		return fail(err)
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height+legendHeightPx))
	imgdraw.Draw(out, image.Rect(0, 0, width, height), rm.I, image.Point{}, imgdraw.Src)
	imgdraw.Draw(out, image.Rect(0, height, width, height+legendHeightPx), legend, image.Point{}, imgdraw.Src)

	name := ArtifactName(m.ID, run, variableID, fh)
	if err := g.writeAtomic(name, out); err != nil {
		return fail(err)
	}
	// Drop the pixel buffers before returning; the worker signals
	// completion only after the memory is reclaimable.
	rm.I = nil
	out.Pix = nil
	legend.Pix = nil
	data = nil

	g.log().WithFields(logrus.Fields{
		"model": m.ID, "run": run.Stamp(), "fh": fh, "variable": variableID, "artifact": name,
	}).Info("published map")
	return name, nil
}

// rasterData builds the display-unit grid for the raster layer.
func rasterData(ds *wxmaps.GridDataset, spec renderSpec) (*sparse.DenseArray, error) {
	var raw *sparse.DenseArray
	if spec.windSpeed {
		u, err := ds.Field(spec.windU)
		if err != nil {
			return nil, err
		}
		v, err := ds.Field(spec.windV)
		if err != nil {
			return nil, err
		}
		speed, err := wxmaps.WindSpeed(u.Data, v.Data)
		if err != nil {
			return nil, err
		}
		raw = speed
	} else {
		f, err := ds.Field(spec.raster)
		if err != nil {
			return nil, err
		}
		raw = f.Data
	}
	out := raw.Copy()
	for i, val := range out.Elements {
		if !math.IsNaN(val) {
			out.Elements[i] = spec.convert(val)
		}
	}
	return out, nil
}

// fillRaster colors every pixel from the nearest grid value. Missing data
// stays white, like the page background.
func (g *Generator) fillRaster(img *image.RGBA, loc *wxmaps.Locator, data *sparse.DenseArray,
	scale Scale, cmap *carto.ColorMap, region wxmaps.Region) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	ny, nx := data.Shape[0], data.Shape[1]
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for py := 0; py < height; py++ {
		// Image row 0 is the north edge.
		lat := region.North - (float64(py)+0.5)/float64(height)*(region.North-region.South)
		for px := 0; px < width; px++ {
			lon := region.West + (float64(px)+0.5)/float64(width)*(region.East-region.West)
			j, i, err := loc.NearestIndex(lat, lon)
			if err != nil || j < 0 || j >= ny || i < 0 || i >= nx {
				img.SetRGBA(px, py, white)
				continue
			}
			val := data.Get(j, i)
			if math.IsNaN(val) {
				img.SetRGBA(px, py, white)
				continue
			}
			c := cmap.GetColor(scale.clamp(val))
			img.SetRGBA(px, py, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
}

// latticeAxes builds a coarse regular lattice over the region for contours
// and wind vectors.
func latticeAxes(region wxmaps.Region, nx, ny int) (lats, lons []float64) {
	lats = make([]float64, ny)
	for j := 0; j < ny; j++ {
		lats[j] = region.South + (float64(j)+0.5)/float64(ny)*(region.North-region.South)
	}
	lons = make([]float64, nx)
	for i := 0; i < nx; i++ {
		lons[i] = region.West + (float64(i)+0.5)/float64(nx)*(region.East-region.West)
	}
	return lats, lons
}

// sampleLattice resamples a field onto the lattice through the locator, so
// composites draw the same way on regular, projected and curvilinear grids.
func sampleLattice(loc *wxmaps.Locator, f *wxmaps.Field, lats, lons []float64,
	convert func(float64) float64) *sparse.DenseArray {
	out := sparse.ZerosDense(len(lats), len(lons))
	for j, lat := range lats {
		for i, lon := range lons {
			v := loc.Sample(f, lat, lon)
			if math.IsNaN(v) {
				out.Set(math.NaN(), j, i)
				continue
			}
			out.Set(convert(v), j, i)
		}
	}
	return out
}

func (g *Generator) drawContours(rm *carto.RasterMap, loc *wxmaps.Locator, ds *wxmaps.GridDataset,
	spec renderSpec, region wxmaps.Region, width, height int) error {
	f, err := ds.Field(spec.contour)
	if err != nil {
		return err
	}
	convert := spec.contourConvert
	if convert == nil {
		convert = identity
	}
	// A lattice node every ~6 px is fine enough for smooth isolines.
	lats, lons := latticeAxes(region, width/6, height/6)
	vals := sampleLattice(loc, f, lats, lons, convert)
	ls := vgdraw.LineStyle{
		Color: color.NRGBA{R: 30, G: 30, B: 30, A: 255},
		Width: vg.Points(0.9),
	}
	for _, level := range contourLevels(vals, spec.contourInterval) {
		for _, seg := range contourSegments(vals, lats, lons, level) {
			if err := rm.DrawVector(seg, color.NRGBA{}, ls, vgdraw.GlyphStyle{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// drawWind draws wind shafts on a coarse lattice, scaled so a 30 m/s wind
// spans the lattice spacing.
func (g *Generator) drawWind(rm *carto.RasterMap, loc *wxmaps.Locator, ds *wxmaps.GridDataset,
	variableID string, region wxmaps.Region, width, height int) error {
	fields, ok := vectorFields[variableID]
	if !ok {
		return nil
	}
	uf, err := ds.Field(fields[0])
	if err != nil {
		return err
	}
	vf, err := ds.Field(fields[1])
	if err != nil {
		return err
	}
	const spacingPx = 48
	const refSpeed = 30.0 // m/s at full shaft length
	nx := width / spacingPx
	ny := height / spacingPx
	if nx < 2 || ny < 2 {
		return nil
	}
	lats, lons := latticeAxes(region, nx, ny)
	// Full shaft length in degrees of longitude.
	shaftDeg := (region.East - region.West) / float64(nx)
	ls := vgdraw.LineStyle{
		Color: color.NRGBA{R: 50, G: 50, B: 50, A: 255},
		Width: vg.Points(0.7),
	}
	for _, lat := range lats {
		for _, lon := range lons {
			u := loc.Sample(uf, lat, lon)
			v := loc.Sample(vf, lat, lon)
			if math.IsNaN(u) || math.IsNaN(v) {
				continue
			}
			speed := math.Hypot(u, v)
			if speed < 1 {
				continue
			}
			length := speed / refSpeed
			if length > 1 {
				length = 1
			}
			dx := u / speed * shaftDeg * length
			dy := v / speed * shaftDeg * length
			tip := geom.Point{X: lon + dx, Y: lat + dy}
			shaft := geom.LineString{{X: lon, Y: lat}, tip}
			if err := rm.DrawVector(shaft, color.NRGBA{}, ls, vgdraw.GlyphStyle{}); err != nil {
				return err
			}
			// Two short barbs at the tip mark the downwind end.
			for _, ang := range []float64{2.6, -2.6} {
				hx := dx*math.Cos(ang) - dy*math.Sin(ang)
				hy := dx*math.Sin(ang) + dy*math.Cos(ang)
				head := geom.LineString{tip, {X: tip.X + hx*0.3, Y: tip.Y + hy*0.3}}
				if err := rm.DrawVector(head, color.NRGBA{}, ls, vgdraw.GlyphStyle{}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func labelStyle(size vg.Length) vgdraw.TextStyle {
	return vgdraw.TextStyle{
		Color:   color.NRGBA{R: 10, G: 10, B: 10, A: 255},
		Font:    font.Font{Typeface: "Liberation", Variant: "Sans", Size: size},
		Handler: text.Plain{Fonts: font.DefaultCache},
		XAlign:  vgdraw.XCenter,
		YAlign:  vgdraw.YCenter,
	}
}

// drawStationLabels prints decluttered station values in display units.
// Only the values appear; station ids and names never render.
func (g *Generator) drawStationLabels(rm *carto.RasterMap, loc *wxmaps.Locator,
	data *sparse.DenseArray, variableID string, region wxmaps.Region, width, height int) error {
	if g.Stations == nil {
		return nil
	}
	rule := g.style().Policy.Rule(variableID)
	if !rule.Enabled {
		return nil
	}
	stations := wxmaps.DeclutterStations(
		g.Stations.ForRegion(region), region, width, height, rule.MinSpacingPx)
	ny, nx := data.Shape[0], data.Shape[1]
	sty := labelStyle(vg.Points(9))
	for _, s := range stations {
		j, i, err := loc.NearestIndex(s.Lat, s.Lon)
		if err != nil || j < 0 || j >= ny || i < 0 || i >= nx {
			continue
		}
		val := data.Get(j, i)
		if math.IsNaN(val) {
			continue
		}
		pt := rm.Coordinates(geom.Point{X: s.Lon, Y: s.Lat})
		rm.FillText(sty, pt, fmt.Sprintf(rule.Format, val))
	}
	return nil
}

// drawLegend renders the legend strip: the color bar with the fixed-scale
// ticks and a caption identifying the frame.
func (g *Generator) drawLegend(img *image.RGBA, cmap *carto.ColorMap,
	v *wxmaps.VariableRequirements, m *wxmaps.ModelConfig, run wxmaps.RunTime, fh int) error {
	c := vgimg.NewWith(vgimg.UseImage(img))
	dc := vgdraw.New(c)
	caption := fmt.Sprintf("%s (%s). %s run %s, f%03d, valid %s",
		v.Name, v.Units, m.Name,
		run.UTC().Format("2006-01-02 15Z"), fh,
		run.ValidTime(fh).Format("2006-01-02 15Z"))
	return cmap.Legend(&dc, caption)
}

// writeAtomic publishes the image under the partial-then-rename protocol.
func (g *Generator) writeAtomic(name string, img image.Image) error {
	final := filepath.Join(g.PublishDir, name)
	partial := final + ".partial"
	w, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("mapgen: creating %s: %v", partial, err)
	}
	if err := png.Encode(w, img); err != nil {
		w.Close()
		os.Remove(partial)
		return fmt.Errorf("mapgen: encoding %s: %v", name, err)
	}
	if err := w.Sync(); err != nil {
		w.Close()
		os.Remove(partial)
		return fmt.Errorf("mapgen: syncing %s: %v", partial, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("mapgen: closing %s: %v", partial, err)
	}
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return fmt.Errorf("mapgen: publishing %s: %v", name, err)
	}
	return nil
}

func (g *Generator) overlayLayers() []OverlayLayer {
	if g.Overlays == nil {
		return nil
	}
	return g.Overlays.Layers
}
