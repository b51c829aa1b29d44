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
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// contourLevels returns the contour values covering [min, max] at the given
// interval, aligned to multiples of the interval so the same isolines appear
// in every frame.
func contourLevels(vals *sparse.DenseArray, interval float64) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals.Elements {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi {
		return nil
	}
	var levels []float64
	for level := math.Ceil(lo/interval) * interval; level <= hi; level += interval {
		levels = append(levels, level)
	}
	return levels
}

// contourSegments traces one isoline through a regular lattice using
// marching squares, interpolating crossings along cell edges. The lattice
// axes are geographic, so the segments come out in lon/lat ready for
// drawing. Cells touching missing data are skipped.
func contourSegments(vals *sparse.DenseArray, lats, lons []float64, level float64) []geom.LineString {
	ny := len(lats)
	nx := len(lons)
	var segs []geom.LineString
	for j := 0; j < ny-1; j++ {
		for i := 0; i < nx-1; i++ {
			// Corner values, counterclockwise from the (j, i) corner.
			v00 := vals.Get(j, i)
			v01 := vals.Get(j, i+1)
			v11 := vals.Get(j+1, i+1)
			v10 := vals.Get(j+1, i)
			if math.IsNaN(v00) || math.IsNaN(v01) || math.IsNaN(v11) || math.IsNaN(v10) {
				continue
			}
			var pts []geom.Point
			// Bottom edge (j row, i..i+1).
			if crosses(v00, v01, level) {
				pts = append(pts, geom.Point{
					X: lerp(lons[i], lons[i+1], frac(v00, v01, level)),
					Y: lats[j],
				})
			}
			// Right edge.
			if crosses(v01, v11, level) {
				pts = append(pts, geom.Point{
					X: lons[i+1],
					Y: lerp(lats[j], lats[j+1], frac(v01, v11, level)),
				})
			}
			// Top edge.
			if crosses(v10, v11, level) {
				pts = append(pts, geom.Point{
					X: lerp(lons[i], lons[i+1], frac(v10, v11, level)),
					Y: lats[j+1],
				})
			}
			// Left edge.
			if crosses(v00, v10, level) {
				pts = append(pts, geom.Point{
					X: lons[i],
					Y: lerp(lats[j], lats[j+1], frac(v00, v10, level)),
				})
			}
			switch len(pts) {
			case 2:
				segs = append(segs, geom.LineString{pts[0], pts[1]})
			case 4:
				// Saddle cell: pair the crossings by edge order. The
				// ambiguity only affects which diagonal the isoline takes
				// through this one cell.
				segs = append(segs, geom.LineString{pts[0], pts[1]},
					geom.LineString{pts[2], pts[3]})
			}
		}
	}
	return segs
}

func crosses(a, b, level float64) bool {
	return (a < level) != (b < level)
}

func frac(a, b, level float64) float64 {
	if a == b {
		return 0.5
	}
	return (level - a) / (b - a)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
