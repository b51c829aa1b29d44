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
	"strings"

	"github.com/ctessum/sparse"
)

// SnowRatio is the default snow-to-liquid ratio applied when deriving
// snow depth from liquid-equivalent precipitation.
const SnowRatio = 10.0

const mmPerInch = 25.4

// MMToInches converts millimeters to inches.
func MMToInches(mm float64) float64 { return mm / mmPerInch }

// ZerosLike returns an all-zero grid with the dataset's shape. The
// analysis hour has no accumulation, so its derived precipitation grids
// are built this way.
func ZerosLike(d *GridDataset) *sparse.DenseArray {
	ny, nx := d.Shape()
	return sparse.ZerosDense(ny, nx)
}

// PrecipToMM normalizes a precipitation amount grid to millimeters of
// liquid water. GRIB amounts are kg m**-2, numerically equal to mm; a few
// providers re-encode in meters.
func PrecipToMM(data *sparse.DenseArray, units string) *sparse.DenseArray {
	switch {
	case strings.EqualFold(units, "m"):
		return data.ScaleCopy(1000)
	default:
		return data.Copy()
	}
}

// AccumulateBuckets sums per-bucket precipitation grids into a run total.
// All grids must share a shape.
func AccumulateBuckets(buckets []*sparse.DenseArray) (*sparse.DenseArray, error) {
	if len(buckets) == 0 {
		return nil, Errorf(KindDataDecode, "derive: no buckets to accumulate")
	}
	total := buckets[0].Copy()
	for _, b := range buckets[1:] {
		if !sameShape(total, b) {
			return nil, Errorf(KindDataDecode, "derive: bucket shape %v does not match %v",
				b.GetShape(), total.GetShape())
		}
		total.AddDense(b)
	}
	return total, nil
}

// IntegrateRateSeries integrates instantaneous precipitation-rate grids
// (kg m**-2 s**-1) over the given ascending forecast hours by the
// trapezoid rule, returning the accumulated millimeters.
func IntegrateRateSeries(hours []int, rates []*sparse.DenseArray, units string) (*sparse.DenseArray, error) {
	if len(hours) != len(rates) {
		return nil, Errorf(KindDataDecode, "derive: %d hours but %d rate grids", len(hours), len(rates))
	}
	if len(hours) < 2 {
		return nil, Errorf(KindDataDecode, "derive: rate integration needs at least two hours, got %v", hours)
	}
	total := sparse.ZerosDense(rates[0].GetShape()...)
	for i := 1; i < len(hours); i++ {
		if hours[i] <= hours[i-1] {
			return nil, Errorf(KindDataDecode, "derive: rate hours not ascending: %v", hours)
		}
		if !sameShape(rates[i], rates[i-1]) {
			return nil, Errorf(KindDataDecode, "derive: rate grid shape %v does not match %v",
				rates[i].GetShape(), rates[i-1].GetShape())
		}
		dt := float64(hours[i]-hours[i-1]) * 3600
		for j, v := range rates[i].Elements {
			total.Elements[j] += (v + rates[i-1].Elements[j]) / 2 * dt
		}
	}
	return total, nil
}

// NormalizeSnowMask converts a categorical snow mask to the fraction
// [0, 1]. The model declares its mask units; SnowMaskAuto falls back to a
// range heuristic: a mask reaching above 1.5 (or carrying percent units)
// is taken as 0..100. Missing cells contribute no snow.
func NormalizeSnowMask(mask *sparse.DenseArray, units string, declared SnowMaskUnits) *sparse.DenseArray {
	out := mask.Copy()
	percent := false
	switch declared {
	case SnowMaskPercent:
		percent = true
	case SnowMaskFraction:
		percent = false
	default:
		if strings.Contains(units, "%") || strings.Contains(strings.ToLower(units), "percent") {
			percent = true
		} else {
			for _, v := range out.Elements {
				if v > 1.5 {
					percent = true
					break
				}
			}
		}
	}
	for i, v := range out.Elements {
		if math.IsNaN(v) {
			out.Elements[i] = 0
			continue
		}
		if percent {
			v /= 100
		}
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		out.Elements[i] = v
	}
	return out
}

// DeriveSnowLiquid multiplies bucket precipitation (mm) by the normalized
// snow mask fraction, giving the liquid equivalent that fell as snow.
func DeriveSnowLiquid(tpMM, maskFrac *sparse.DenseArray) (*sparse.DenseArray, error) {
	if !sameShape(tpMM, maskFrac) {
		return nil, Errorf(KindDataDecode, "derive: precip shape %v does not match mask shape %v",
			tpMM.GetShape(), maskFrac.GetShape())
	}
	out := tpMM.Copy()
	for i, v := range maskFrac.Elements {
		out.Elements[i] *= v
	}
	return out, nil
}

// WindSpeed returns the magnitude of the (u, v) wind components.
func WindSpeed(u, v *sparse.DenseArray) (*sparse.DenseArray, error) {
	if !sameShape(u, v) {
		return nil, Errorf(KindDataDecode, "derive: u shape %v does not match v shape %v",
			u.GetShape(), v.GetShape())
	}
	out := sparse.ZerosDense(u.GetShape()...)
	for i := range u.Elements {
		out.Elements[i] = math.Hypot(u.Elements[i], v.Elements[i])
	}
	return out, nil
}

func sameShape(a, b *sparse.DenseArray) bool {
	as, bs := a.GetShape(), b.GetShape()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// AlignField interpolates a field from one dataset's grid onto another's.
// When the grids already match, the data passes through untouched. Only
// regular lat/lon grids can be resampled; a model mixing projected grids
// across products would need its own treatment.
func AlignField(f *Field, src, dst *GridDataset) (*sparse.DenseArray, error) {
	sy, sx := src.Shape()
	dy, dx := dst.Shape()
	if src.Kind == dst.Kind && sy == dy && sx == dx {
		return f.Data, nil
	}
	if src.Kind != GridRegular || dst.Kind != GridRegular {
		return nil, Errorf(KindDataDecode, "derive: cannot align %s field %s onto a %s grid",
			src.Kind, f.Name, dst.Kind)
	}
	out := sparse.ZerosDense(dy, dx)
	for j := 0; j < dy; j++ {
		for i := 0; i < dx; i++ {
			out.Set(bilinear(f.Data, src.Lat, src.Lon, dst.Lat[j], dst.Lon[i]), j, i)
		}
	}
	return out, nil
}

// bilinear samples the grid at (lat, lon) by bilinear interpolation,
// returning NaN outside the grid.
func bilinear(data *sparse.DenseArray, latAxis, lonAxis []float64, lat, lon float64) float64 {
	j0, fy, ok := bracket(latAxis, lat)
	if !ok {
		return math.NaN()
	}
	i0, fx, ok := bracket(lonAxis, lon)
	if !ok {
		i0, fx, ok = bracket(lonAxis, lon+360)
	}
	if !ok {
		return math.NaN()
	}
	v00 := data.Get(j0, i0)
	v01 := data.Get(j0, i0+1)
	v10 := data.Get(j0+1, i0)
	v11 := data.Get(j0+1, i0+1)
	return v00*(1-fy)*(1-fx) + v01*(1-fy)*fx + v10*fy*(1-fx) + v11*fy*fx
}

// bracket finds the axis interval containing v and the fractional position
// within it. The axis may ascend or descend but must be monotonic.
func bracket(axis []float64, v float64) (i0 int, frac float64, ok bool) {
	n := len(axis)
	if n < 2 {
		return 0, 0, false
	}
	asc := axis[n-1] > axis[0]
	lo, hi := 0, n-1
	if asc {
		if v < axis[0] || v > axis[n-1] {
			return 0, 0, false
		}
	} else {
		if v > axis[0] || v < axis[n-1] {
			return 0, 0, false
		}
	}
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if (asc && axis[mid] <= v) || (!asc && axis[mid] >= v) {
			lo = mid
		} else {
			hi = mid
		}
	}
	den := axis[hi] - axis[lo]
	if den == 0 {
		return lo, 0, true
	}
	return lo, (v - axis[lo]) / den, true
}

// MergeDatasets combines per-product datasets into one, taking the grid
// with the most points as dominant and aligning the rest onto it. Field
// name collisions keep the dominant dataset's copy.
func MergeDatasets(datasets ...*GridDataset) (*GridDataset, error) {
	if len(datasets) == 0 {
		return nil, Errorf(KindDataDecode, "derive: nothing to merge")
	}
	dom := 0
	domPts := -1
	for i, d := range datasets {
		ny, nx := d.Shape()
		if ny*nx > domPts {
			dom, domPts = i, ny*nx
		}
	}
	out := datasets[dom]
	for i, d := range datasets {
		if i == dom {
			continue
		}
		for name, f := range d.Fields {
			if out.HasField(name) {
				continue
			}
			data, err := AlignField(f, d, out)
			if err != nil {
				return nil, fmt.Errorf("derive: merging field %s: %w", name, err)
			}
			if err := out.AddField(name, f.Units, data, f.Mapping); err != nil {
				return nil, err
			}
		}
		for k, v := range d.Scalars {
			if _, ok := out.Scalars[k]; !ok {
				out.Scalars[k] = v
			}
		}
	}
	return out, nil
}
