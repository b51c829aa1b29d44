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
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/sparse"
)

// GridKind says how a dataset's horizontal coordinates are structured.
type GridKind int

const (
	// GridRegular has 1-D latitude and longitude axes.
	GridRegular GridKind = iota
	// GridProjected has 1-D x and y axes in projected meters.
	GridProjected
	// GridCurvilinear has full 2-D latitude and longitude arrays.
	GridCurvilinear
)

func (k GridKind) String() string {
	switch k {
	case GridRegular:
		return "regular"
	case GridProjected:
		return "projected"
	case GridCurvilinear:
		return "curvilinear"
	default:
		return "unknown"
	}
}

// A Region is a geographic bounding box in degrees, longitudes
// west-negative.
type Region struct {
	West, South, East, North float64
}

// Valid checks the bbox for internal consistency.
func (r Region) Valid() error {
	if r.West >= r.East || r.South >= r.North {
		return Errorf(KindConfig, "region: degenerate bbox (%g,%g,%g,%g)", r.West, r.South, r.East, r.North)
	}
	if r.South < -90 || r.North > 90 || r.West < -180 || r.East > 180 {
		return Errorf(KindConfig, "region: bbox out of range (%g,%g,%g,%g)", r.West, r.South, r.East, r.North)
	}
	return nil
}

// Contains reports whether the point is inside the bbox.
func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.South && lat <= r.North && lon >= r.West && lon <= r.East
}

// timeLikeCoords are scalar coordinates that must not survive past the
// fetcher boundary.
var timeLikeCoords = []string{"time", "valid_time", "step", "heightAboveGround", "surface"}

// A Field is one named variable on a dataset's grid.
type Field struct {
	Name  string
	Units string
	// Data has shape (ny, nx). Missing values are NaN.
	Data *sparse.DenseArray
	// Mapping is the projected coordinate reference the field was decoded
	// with, when known. It plays the role of a CF grid_mapping attribute.
	Mapping *GridMapping
}

// A GridDataset is an in-memory labeled grid container: a set of named
// fields sharing one horizontal grid. Datasets returned by the fetcher
// satisfy two conventions that downstream code relies on without checking:
// longitudes are west-negative in [-180, 180], and no time-like scalar
// coordinates remain.
type GridDataset struct {
	Kind GridKind

	// Lat and Lon are the 1-D axes of a regular grid. Lat may ascend or
	// descend; Lon ascends after normalization.
	Lat, Lon []float64
	// X and Y are the 1-D axes of a projected grid, in meters.
	X, Y []float64
	// Mapping is the dataset-level projection descriptor for projected
	// grids, when known.
	Mapping *GridMapping
	// Lat2 and Lon2 are the 2-D coordinates of a curvilinear grid,
	// shape (ny, nx).
	Lat2, Lon2 *sparse.DenseArray

	Fields map[string]*Field

	// Scalars holds scalar coordinates picked up during decoding. The
	// fetcher strips the time-like ones before handing the dataset on.
	Scalars map[string]float64
}

// NewRegularDataset creates a dataset on 1-D latitude/longitude axes.
func NewRegularDataset(lat, lon []float64) *GridDataset {
	return &GridDataset{
		Kind:    GridRegular,
		Lat:     lat,
		Lon:     lon,
		Fields:  make(map[string]*Field),
		Scalars: make(map[string]float64),
	}
}

// NewProjectedDataset creates a dataset on 1-D projected x/y axes.
func NewProjectedDataset(x, y []float64, gm *GridMapping) *GridDataset {
	return &GridDataset{
		Kind:    GridProjected,
		X:       x,
		Y:       y,
		Mapping: gm,
		Fields:  make(map[string]*Field),
		Scalars: make(map[string]float64),
	}
}

// NewCurvilinearDataset creates a dataset on 2-D latitude/longitude
// arrays.
func NewCurvilinearDataset(lat2, lon2 *sparse.DenseArray) *GridDataset {
	return &GridDataset{
		Kind:    GridCurvilinear,
		Lat2:    lat2,
		Lon2:    lon2,
		Fields:  make(map[string]*Field),
		Scalars: make(map[string]float64),
	}
}

// Shape returns the (ny, nx) grid dimensions.
func (d *GridDataset) Shape() (ny, nx int) {
	switch d.Kind {
	case GridRegular:
		return len(d.Lat), len(d.Lon)
	case GridProjected:
		return len(d.Y), len(d.X)
	default:
		if d.Lat2 == nil {
			return 0, 0
		}
		sh := d.Lat2.GetShape()
		return sh[0], sh[1]
	}
}

// AddField attaches data to the dataset, checking the grid shape.
func (d *GridDataset) AddField(name, units string, data *sparse.DenseArray, gm *GridMapping) error {
	ny, nx := d.Shape()
	sh := data.GetShape()
	if len(sh) != 2 || sh[0] != ny || sh[1] != nx {
		return Errorf(KindDataDecode, "dataset: field %s has shape %v, want (%d, %d)", name, sh, ny, nx)
	}
	d.Fields[name] = &Field{Name: name, Units: units, Data: data, Mapping: gm}
	return nil
}

// Field returns the named field, or a missing-field error.
func (d *GridDataset) Field(name string) (*Field, error) {
	f, ok := d.Fields[name]
	if !ok {
		return nil, &Error{Kind: KindMissingField, Op: "dataset", FH: -1,
			Err: fmt.Errorf("field %s not present (have %v)", name, d.FieldNames())}
	}
	return f, nil
}

// HasField reports whether the named field is present.
func (d *GridDataset) HasField(name string) bool {
	_, ok := d.Fields[name]
	return ok
}

// FieldNames returns the sorted field names.
func (d *GridDataset) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for n := range d.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StripTimeCoords removes time-like scalar coordinates. The fetcher calls
// this before returning any dataset.
func (d *GridDataset) StripTimeCoords() {
	for _, name := range timeLikeCoords {
		delete(d.Scalars, name)
	}
}

// Release drops the dataset's buffers. Workers call this when a unit of
// work is finished so peak memory stays bounded by the pool size.
func (d *GridDataset) Release() {
	d.Fields = nil
	d.Scalars = nil
	d.Lat = nil
	d.Lon = nil
	d.X = nil
	d.Y = nil
	d.Lat2 = nil
	d.Lon2 = nil
}

// NormalizeLongitudes shifts all longitudes into [-180, 180] and, for
// regular grids, rotates columns as needed to keep the axis ascending
// (a grid fetched in 0..360 convention crosses the dateline after the
// shift).
func (d *GridDataset) NormalizeLongitudes() {
	switch d.Kind {
	case GridRegular:
		changed := false
		for i, lon := range d.Lon {
			if lon > 180 {
				d.Lon[i] = lon - 360
				changed = true
			}
		}
		if !changed {
			return
		}
		split := 0
		for i := 1; i < len(d.Lon); i++ {
			if d.Lon[i] < d.Lon[i-1] {
				split = i
				break
			}
		}
		if split == 0 {
			return
		}
		d.Lon = rotateAxis(d.Lon, split)
		for name, f := range d.Fields {
			d.Fields[name].Data = rotateColumns(f.Data, split)
		}
	case GridCurvilinear:
		if d.Lon2 == nil {
			return
		}
		for i, lon := range d.Lon2.Elements {
			if lon > 180 {
				d.Lon2.Elements[i] = lon - 360
			}
		}
	}
}

func rotateAxis(a []float64, k int) []float64 {
	out := make([]float64, len(a))
	copy(out, a[k:])
	copy(out[len(a)-k:], a[:k])
	return out
}

func rotateColumns(a *sparse.DenseArray, k int) *sparse.DenseArray {
	sh := a.GetShape()
	ny, nx := sh[0], sh[1]
	out := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			out.Set(a.Get(j, (i+k)%nx), j, i)
		}
	}
	return out
}

// Subset returns a copy of the dataset windowed to the region bbox, with
// one cell of margin on each side where available. An empty window is a
// region-mismatch error: the configured bbox does not overlap the model
// domain.
func (d *GridDataset) Subset(region Region) (*GridDataset, error) {
	if err := region.Valid(); err != nil {
		return nil, err
	}
	switch d.Kind {
	case GridRegular:
		return d.subsetRegular(region)
	case GridCurvilinear:
		return d.subsetCurvilinear(region)
	default:
		return d.subsetProjected(region)
	}
}

func (d *GridDataset) subsetRegular(region Region) (*GridDataset, error) {
	j0, j1, ok := axisWindow(d.Lat, region.South, region.North, 1)
	if !ok {
		return nil, regionErr(region, "latitude")
	}
	// The longitude axis may still be in 0..360 convention here; try the
	// query in both conventions.
	i0, i1, ok := axisWindow(d.Lon, region.West, region.East, 1)
	if !ok {
		i0, i1, ok = axisWindow(d.Lon, region.West+360, region.East+360, 1)
	}
	if !ok {
		return nil, regionErr(region, "longitude")
	}
	out := NewRegularDataset(copySlice(d.Lat[j0:j1+1]), copySlice(d.Lon[i0:i1+1]))
	d.copyWindowInto(out, j0, j1, i0, i1)
	return out, nil
}

func (d *GridDataset) subsetCurvilinear(region Region) (*GridDataset, error) {
	ny, nx := d.Shape()
	j0, i0 := ny, nx
	j1, i1 := -1, -1
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			lon := d.Lon2.Get(j, i)
			if lon > 180 {
				lon -= 360
			}
			if region.Contains(d.Lat2.Get(j, i), lon) {
				if j < j0 {
					j0 = j
				}
				if j > j1 {
					j1 = j
				}
				if i < i0 {
					i0 = i
				}
				if i > i1 {
					i1 = i
				}
			}
		}
	}
	if j1 < 0 {
		return nil, regionErr(region, "curvilinear grid")
	}
	j0, j1 = pad(j0, j1, ny)
	i0, i1 = pad(i0, i1, nx)
	lat2 := windowDense(d.Lat2, j0, j1, i0, i1)
	lon2 := windowDense(d.Lon2, j0, j1, i0, i1)
	out := NewCurvilinearDataset(lat2, lon2)
	d.copyWindowInto(out, j0, j1, i0, i1)
	return out, nil
}

func (d *GridDataset) subsetProjected(region Region) (*GridDataset, error) {
	if d.Mapping == nil {
		return nil, Errorf(KindRegionMismatch, "dataset: projected grid has no mapping to subset with")
	}
	fwd, err := d.Mapping.forward()
	if err != nil {
		return nil, err
	}
	// Trace the region boundary through the projection and take the x/y
	// extremes. For the conformal projections in use the extremes of the
	// image of a small graticule rectangle lie on its boundary.
	const nSamples = 64
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for s := 0; s <= nSamples; s++ {
		f := float64(s) / nSamples
		pts := [][2]float64{
			{region.West + f*(region.East-region.West), region.South},
			{region.West + f*(region.East-region.West), region.North},
			{region.West, region.South + f*(region.North-region.South)},
			{region.East, region.South + f*(region.North-region.South)},
		}
		for _, p := range pts {
			x, y, err := fwd(p[0], p[1])
			if err != nil {
				continue
			}
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}
	if math.IsInf(minX, 1) {
		return nil, regionErr(region, "projection")
	}
	i0, i1, ok := axisWindow(d.X, minX, maxX, 1)
	if !ok {
		return nil, regionErr(region, "projected x")
	}
	j0, j1, ok := axisWindow(d.Y, minY, maxY, 1)
	if !ok {
		return nil, regionErr(region, "projected y")
	}
	out := NewProjectedDataset(copySlice(d.X[i0:i1+1]), copySlice(d.Y[j0:j1+1]), d.Mapping)
	d.copyWindowInto(out, j0, j1, i0, i1)
	return out, nil
}

func (d *GridDataset) copyWindowInto(out *GridDataset, j0, j1, i0, i1 int) {
	for name, f := range d.Fields {
		out.Fields[name] = &Field{
			Name:    f.Name,
			Units:   f.Units,
			Data:    windowDense(f.Data, j0, j1, i0, i1),
			Mapping: f.Mapping,
		}
	}
	for k, v := range d.Scalars {
		out.Scalars[k] = v
	}
}

func regionErr(region Region, what string) error {
	return Errorf(KindRegionMismatch, "dataset: region (%g,%g,%g,%g) yields an empty %s subset",
		region.West, region.South, region.East, region.North, what)
}

func copySlice(a []float64) []float64 {
	out := make([]float64, len(a))
	copy(out, a)
	return out
}

func windowDense(a *sparse.DenseArray, j0, j1, i0, i1 int) *sparse.DenseArray {
	out := sparse.ZerosDense(j1-j0+1, i1-i0+1)
	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			out.Set(a.Get(j, i), j-j0, i-i0)
		}
	}
	return out
}

func pad(a, b, n int) (int, int) {
	if a > 0 {
		a--
	}
	if b < n-1 {
		b++
	}
	return a, b
}

// axisWindow returns the index range of axis values covering [lo, hi],
// widened by margin cells on each side, handling ascending and descending
// axes. ok is false when no axis value falls inside the interval.
func axisWindow(axis []float64, lo, hi float64, margin int) (a, b int, ok bool) {
	a, b = len(axis), -1
	for i, v := range axis {
		if v >= lo && v <= hi {
			if i < a {
				a = i
			}
			if i > b {
				b = i
			}
		}
	}
	if b < 0 {
		return 0, 0, false
	}
	a -= margin
	b += margin
	if a < 0 {
		a = 0
	}
	if b > len(axis)-1 {
		b = len(axis) - 1
	}
	return a, b, true
}

// nearestIndex returns the index of the axis value closest to v. The axis
// may ascend or descend.
func nearestIndex(axis []float64, v float64) int {
	best := 0
	bestD := math.Abs(axis[0] - v)
	for i := 1; i < len(axis); i++ {
		if d := math.Abs(axis[i] - v); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}
