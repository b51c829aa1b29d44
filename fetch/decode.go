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
	"os"
	"strings"

	"github.com/ctessum/sparse"
	grib "github.com/mmp/squall"

	"github.com/nwcast/wxmaps"
)

// gribMissing is the threshold above which squall data values mean
// "missing".
const gribMissing = 9e20

// levelClass is the vertical-surface family a GRIB message belongs to.
type levelClass int

const (
	levelSurface levelClass = iota
	levelHeightAboveGround
	levelIsobaric
	levelMeanSea
	levelEntireAtmosphere
)

// selector identifies the GRIB message(s) for one canonical field by WMO
// parameter identity (discipline.category.number) and vertical level.
type selector struct {
	disc, cat, num int
	level          levelClass
	// levelValue is matched with tolerance; isobaric values are accepted
	// in either hPa or Pa. Zero means any value.
	levelValue float64
	units      string
}

// selectors covers every canonical field name.
var selectors = map[string]selector{
	wxmaps.FieldTMP2M:   {0, 0, 0, levelHeightAboveGround, 2, "K"},
	wxmaps.FieldDPT2M:   {0, 0, 6, levelHeightAboveGround, 2, "K"},
	wxmaps.FieldUGRD10M: {0, 2, 2, levelHeightAboveGround, 10, "m s-1"},
	wxmaps.FieldVGRD10M: {0, 2, 3, levelHeightAboveGround, 10, "m s-1"},
	wxmaps.FieldGUST:    {0, 2, 22, levelSurface, 0, "m s-1"},
	wxmaps.FieldPRMSL:   {0, 3, 1, levelMeanSea, 0, "Pa"},
	wxmaps.FieldTP:      {0, 1, 8, levelSurface, 0, "kg m-2"},
	wxmaps.FieldPRATE:   {0, 1, 7, levelSurface, 0, "kg m-2 s-1"},
	wxmaps.FieldCSNOW:   {0, 1, 195, levelSurface, 0, ""},
	wxmaps.FieldREFC:    {0, 16, 196, levelEntireAtmosphere, 0, "dBZ"},
	wxmaps.FieldTCDC:    {0, 6, 1, levelEntireAtmosphere, 0, "%"},
	wxmaps.FieldCAPE:    {0, 7, 6, levelSurface, 0, "J kg-1"},
	wxmaps.FieldTMP850:  {0, 0, 0, levelIsobaric, 850, "K"},
	wxmaps.FieldUGRD850: {0, 2, 2, levelIsobaric, 850, "m s-1"},
	wxmaps.FieldVGRD850: {0, 2, 3, levelIsobaric, 850, "m s-1"},
}

// classifyLevel maps the human-readable level name squall reports onto a
// levelClass. Unrecognized names classify as surface, which is the most
// common family.
func classifyLevel(level string) levelClass {
	l := strings.ToLower(level)
	switch {
	case strings.Contains(l, "isobaric"):
		return levelIsobaric
	case strings.Contains(l, "above ground"):
		return levelHeightAboveGround
	case strings.Contains(l, "mean sea"):
		return levelMeanSea
	case strings.Contains(l, "entire atmosphere"):
		return levelEntireAtmosphere
	default:
		return levelSurface
	}
}

// matches reports whether one decoded message satisfies the selector.
func (s selector) matches(g *grib.GRIB2) bool {
	if int(g.Parameter.Discipline) != s.disc ||
		int(g.Parameter.Category) != s.cat ||
		int(g.Parameter.Number) != s.num {
		return false
	}
	if classifyLevel(g.Level) != s.level {
		return false
	}
	if s.levelValue != 0 {
		v := float64(g.LevelValue)
		if s.level == levelIsobaric && v > 10000 {
			v /= 100 // Pa encoded; compare in hPa
		}
		if math.Abs(v-s.levelValue) > 0.5 {
			return false
		}
	}
	return true
}

// DecodeFile opens a downloaded GRIB file and extracts the requested
// canonical fields into a GridDataset. Fields absent from the file are
// simply absent from the result; the fetcher validates requirements after
// merging products.
func DecodeFile(path string, fields []string) (*wxmaps.GridDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindDataDecode, "fetch: opening %s: %v", path, err)
	}
	defer f.Close()
	msgs, err := grib.ReadWithOptions(f, grib.WithWorkers(2))
	if err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindDataDecode, "fetch: parsing %s: %v", path, err)
	}
	return DatasetFromMessages(msgs, fields)
}

// DatasetFromMessages assembles decoded GRIB messages into a dataset,
// renaming matched parameters to canonical field names and reconstructing
// the horizontal grid from the flat coordinate arrays.
func DatasetFromMessages(msgs []*grib.GRIB2, fields []string) (*wxmaps.GridDataset, error) {
	var ds *wxmaps.GridDataset
	var ny, nx int
	for _, name := range fields {
		sel, ok := selectors[name]
		if !ok {
			return nil, wxmaps.Errorf(wxmaps.KindConfig, "fetch: field %s has no GRIB selector", name)
		}
		var match *grib.GRIB2
		for _, m := range msgs {
			if sel.matches(m) {
				match = m
				break
			}
		}
		if match == nil {
			continue
		}
		if ds == nil {
			var err error
			ds, ny, nx, err = datasetForGrid(match)
			if err != nil {
				return nil, err
			}
		}
		if len(match.Data) != ny*nx {
			return nil, wxmaps.Errorf(wxmaps.KindDataDecode,
				"fetch: field %s has %d points but the grid has %d×%d", name, len(match.Data), ny, nx)
		}
		data := sparse.ZerosDense(ny, nx)
		for i, v := range match.Data {
			if v > gribMissing {
				data.Elements[i] = math.NaN()
			} else {
				data.Elements[i] = float64(v)
			}
		}
		if err := ds.AddField(name, sel.units, data, nil); err != nil {
			return nil, err
		}
		// Scalar level coordinates ride along for now; the fetcher strips
		// the time-like ones before handing the dataset downstream.
		switch sel.level {
		case levelHeightAboveGround:
			ds.Scalars["heightAboveGround"] = float64(match.LevelValue)
		case levelSurface:
			ds.Scalars["surface"] = 0
		}
		if !match.ReferenceTime.IsZero() {
			ds.Scalars["time"] = float64(match.ReferenceTime.Unix())
		}
	}
	if ds == nil {
		return nil, wxmaps.Errorf(wxmaps.KindMissingField,
			"fetch: none of the requested fields %v are present", fields)
	}
	return ds, nil
}

// datasetForGrid reconstructs the horizontal grid of one message. Squall
// reports coordinates as flat arrays in scan order; the row length is
// recovered from the longitude sequence, which jumps backwards at each row
// boundary.
func datasetForGrid(g *grib.GRIB2) (*wxmaps.GridDataset, int, int, error) {
	n := len(g.Data)
	if n == 0 || len(g.Latitudes) != n || len(g.Longitudes) != n {
		return nil, 0, 0, wxmaps.Errorf(wxmaps.KindDataDecode,
			"fetch: message has %d points, %d latitudes, %d longitudes",
			n, len(g.Latitudes), len(g.Longitudes))
	}
	nx := rowLength(g.Longitudes)
	if n%nx != 0 {
		return nil, 0, 0, wxmaps.Errorf(wxmaps.KindDataDecode,
			"fetch: %d points do not divide into rows of %d", n, nx)
	}
	ny := n / nx
	if isRegularGrid(g.Latitudes, g.Longitudes, ny, nx) {
		lat := make([]float64, ny)
		for j := 0; j < ny; j++ {
			lat[j] = float64(g.Latitudes[j*nx])
		}
		lon := make([]float64, nx)
		for i := 0; i < nx; i++ {
			lon[i] = float64(g.Longitudes[i])
		}
		return wxmaps.NewRegularDataset(lat, lon), ny, nx, nil
	}
	lat2 := sparse.ZerosDense(ny, nx)
	lon2 := sparse.ZerosDense(ny, nx)
	for i := 0; i < n; i++ {
		lat2.Elements[i] = float64(g.Latitudes[i])
		lon2.Elements[i] = float64(g.Longitudes[i])
	}
	return wxmaps.NewCurvilinearDataset(lat2, lon2), ny, nx, nil
}

// rowLength finds the scan-row length: the first index where the longitude
// drops back toward the row start. A full-width drop happens at every row
// boundary on both regular and projected grids.
func rowLength(lons []float32) int {
	for i := 1; i < len(lons); i++ {
		if float64(lons[i]) < float64(lons[i-1])-1.0 {
			return i
		}
	}
	return len(lons)
}

// isRegularGrid reports whether the flat coordinates describe separable
// 1-D axes: constant latitude along each row and the same longitude
// sequence in every row.
func isRegularGrid(lats, lons []float32, ny, nx int) bool {
	const tol = 1e-4
	for j := 0; j < ny; j++ {
		rowLat := lats[j*nx]
		for i := 1; i < nx; i++ {
			if math.Abs(float64(lats[j*nx+i]-rowLat)) > tol {
				return false
			}
			if math.Abs(float64(lons[j*nx+i]-lons[i])) > tol {
				return false
			}
		}
	}
	return true
}
