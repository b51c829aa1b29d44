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
	"context"
	"fmt"
	"runtime"

	"github.com/ctessum/requestcache"
	"github.com/ctessum/sparse"

	"github.com/nwcast/wxmaps"
)

// bucketRequest asks the bucket cache for one accumulation bucket of one
// run: the liquid precipitation that fell during the bucket ending at
// forecast hour FH, in millimeters, plus the snow-phase portion when the
// model carries categorical masks.
type bucketRequest struct {
	f        *Fetcher
	m        *wxmaps.ModelConfig
	run      wxmaps.RunTime
	fh       int
	withSnow bool
	subset   bool
}

func (r bucketRequest) key() string {
	return fmt.Sprintf("bucket_%s_%s_%03d_%t_%t", r.m.ID, r.run.Stamp(), r.fh, r.withSnow, r.subset)
}

// bucketResult holds one bucket's grids.
type bucketResult struct {
	tpMM       *sparse.DenseArray
	snowLiqMM  *sparse.DenseArray // nil unless requested
	rateSample *sparse.DenseArray // instantaneous rate for rate-style models
}

func (f *Fetcher) buckets() *requestcache.Cache {
	f.bucketOnce.Do(func() {
		f.bucketCache = requestcache.NewCache(
			func(ctx context.Context, request interface{}) (interface{}, error) {
				r := request.(bucketRequest)
				return r.f.fetchBucket(ctx, r)
			},
			runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(256),
		)
	})
	return f.bucketCache
}

// fetchBucket downloads the minimal field set for one bucket hour.
func (f *Fetcher) fetchBucket(ctx context.Context, r bucketRequest) (*bucketResult, error) {
	fields := []string{wxmaps.FieldTP}
	if r.m.AccumStyle == wxmaps.AccumRate {
		fields = []string{wxmaps.FieldPRATE}
	}
	if r.withSnow {
		fields = append(fields, wxmaps.FieldCSNOW)
	}
	ds, err := f.FetchRawData(ctx, r.m, r.run, r.fh, fields, nil, r.subset)
	if err != nil {
		return nil, err
	}
	defer ds.Release()

	out := &bucketResult{}
	if r.m.AccumStyle == wxmaps.AccumRate {
		rate, err := ds.Field(wxmaps.FieldPRATE)
		if err != nil {
			return nil, err
		}
		out.rateSample = rate.Data.Copy()
		return out, nil
	}
	tp, err := ds.Field(wxmaps.FieldTP)
	if err != nil {
		return nil, err
	}
	out.tpMM = wxmaps.PrecipToMM(tp.Data, tp.Units)
	if r.withSnow {
		mask, err := ds.Field(wxmaps.FieldCSNOW)
		if err != nil {
			return nil, err
		}
		frac := wxmaps.NormalizeSnowMask(mask.Data, mask.Units, r.m.SnowMaskUnits)
		out.snowLiqMM, err = wxmaps.DeriveSnowLiquid(out.tpMM, frac)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *Fetcher) bucket(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime, fh int, withSnow, subset bool) (*bucketResult, error) {
	r := bucketRequest{f: f, m: m, run: run, fh: fh, withSnow: withSnow, subset: subset}
	req := f.buckets().NewRequest(ctx, r, r.key())
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.(*bucketResult), nil
}

// totalPrecip accumulates liquid precipitation (and optionally the
// snow-phase liquid equivalent) over [0, H] in millimeters. A bucket still
// missing upstream fails the derivation; the scheduler retries the hour on
// a later polling cycle once the bucket appears.
func (f *Fetcher) totalPrecip(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime,
	H int, withSnow, subset bool, shape []int) (tpTotal, snowTotal *sparse.DenseArray, err error) {
	zeros := func() *sparse.DenseArray { return sparse.ZerosDense(shape...) }
	hours := m.AccumBuckets(run, H)
	if len(hours) == 0 {
		// The analysis hour: nothing has accumulated yet.
		if withSnow {
			return zeros(), zeros(), nil
		}
		return zeros(), nil, nil
	}

	if m.AccumStyle == wxmaps.AccumRate {
		rates := make([]*sparse.DenseArray, len(hours))
		for i, fh := range hours {
			b, err := f.bucket(ctx, m, run, fh, false, subset)
			if err != nil {
				return nil, nil, err
			}
			rates[i] = b.rateSample
		}
		total, err := wxmaps.IntegrateRateSeries(hours, rates, "kg m-2 s-1")
		if err != nil {
			return nil, nil, err
		}
		return total, nil, nil
	}

	var tpGrids, snowGrids []*sparse.DenseArray
	for _, fh := range hours {
		b, err := f.bucket(ctx, m, run, fh, withSnow, subset)
		if err != nil {
			return nil, nil, err
		}
		tpGrids = append(tpGrids, b.tpMM)
		if withSnow {
			snowGrids = append(snowGrids, b.snowLiqMM)
		}
	}
	tpTotal, err = wxmaps.AccumulateBuckets(tpGrids)
	if err != nil {
		return nil, nil, err
	}
	if withSnow {
		snowLiq, err := wxmaps.AccumulateBuckets(snowGrids)
		if err != nil {
			return nil, nil, err
		}
		snowTotal = snowLiq.ScaleCopy(wxmaps.SnowRatio)
	}
	return tpTotal, snowTotal, nil
}

// BuildDatasetForMaps fetches the union of raw fields for the given render
// targets in one pass and attaches the derived fields their requirement
// flags call for. The caller owns the returned dataset and must Release it
// when the unit of work completes.
func (f *Fetcher) BuildDatasetForMaps(ctx context.Context, variables *wxmaps.VariableRegistry,
	m *wxmaps.ModelConfig, run wxmaps.RunTime, fh int, variableIDs []string, subsetRegion bool) (*wxmaps.GridDataset, error) {
	required, optional, err := variables.RawFieldUnion(variableIDs, m)
	if err != nil {
		return nil, err
	}
	ds, err := f.FetchRawData(ctx, m, run, fh, required, optional, subsetRegion)
	if err != nil {
		return nil, err
	}

	needAccum, needSnow := false, false
	for _, id := range variableIDs {
		v, err := variables.RequirementsFor(id, m)
		if err != nil {
			return nil, err
		}
		if v.NeedsAccumulation {
			needAccum = true
		}
		if v.NeedsSnowTotal {
			needSnow = true
		}
	}
	if needSnow && !m.HasPrecipTypeMasks {
		// The registry prunes snowfall for these models before dispatch;
		// reaching here is a programming error upstream.
		return nil, &wxmaps.Error{Kind: wxmaps.KindConfig, Op: "fetch: building map dataset",
			Model: m.ID, Run: run, FH: fh,
			Err: fmt.Errorf("snow total requested but model has no precipitation-type masks")}
	}

	if needAccum || needSnow {
		ny, nx := ds.Shape()
		tpTotal, snowTotal, err := f.totalPrecip(ctx, m, run, fh, needSnow, subsetRegion, []int{ny, nx})
		if err != nil {
			return nil, err
		}
		if err := ds.AddField(wxmaps.DerivedTPTotal, "mm", tpTotal, nil); err != nil {
			return nil, err
		}
		if needSnow {
			if err := ds.AddField(wxmaps.DerivedSnowTotal, "mm", snowTotal, nil); err != nil {
				return nil, err
			}
		}
	}
	return ds, nil
}
