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
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
)

// sr builds the spatial reference for the mapping, in the manner of a WRF
// namelist projection: assign the parameters and derive the constants.
func (gm *GridMapping) sr() (*proj.SR, error) {
	s := proj.NewSR()
	switch gm.Name {
	case "lambert_conformal_conic":
		s.Name = "lcc"
	case "mercator":
		s.Name = "merc"
	case "latitude_longitude":
		s.Name = "longlat"
	default:
		return nil, Errorf(KindConfig, "sampler: unsupported grid mapping %q", gm.Name)
	}
	s.Lat1 = gm.StandardParallel1
	s.Lat2 = gm.StandardParallel2
	s.Lat0 = gm.LatitudeOfOrigin
	s.Long0 = gm.CentralMeridian
	s.A = gm.EarthRadius
	s.B = gm.EarthRadius
	s.ToMeter = 1
	s.DeriveConstants()
	return s, nil
}

// forward returns the longitude/latitude to projected x/y transform for the
// mapping.
func (gm *GridMapping) forward() (proj.Transformer, error) {
	longlat, err := proj.Parse("+proj=longlat")
	if err != nil {
		return nil, fmt.Errorf("sampler: parsing longlat projection: %v", err)
	}
	s, err := gm.sr()
	if err != nil {
		return nil, err
	}
	t, err := longlat.NewTransform(s)
	if err != nil {
		return nil, fmt.Errorf("sampler: building transform for %s: %v", gm.Name, err)
	}
	return t, nil
}

// transformerCacheKey identifies one projected grid so transforms are not
// shared between datasets that happen to use the same mapping name with
// different parameters.
type transformerCacheKey struct {
	nx, ny  int
	mapping string
}

// A Locator samples dataset fields at geographic points. One Locator is
// built per dataset; the strategy is chosen from the dataset's coordinate
// structure. Locators for projected and curvilinear grids carry cached
// transforms and spatial indexes that are expensive to build, so callers
// should reuse a Locator for all samples against one dataset.
type Locator struct {
	ds  *GridDataset
	fwd proj.Transformer // projected grids only
	idx *rtree.Rtree     // curvilinear grids only
}

// gridCell is one curvilinear grid node in the spatial index.
type gridCell struct {
	geom.Point
	j, i int
}

func (c *gridCell) Bounds() *geom.Bounds {
	return rtree.ToRect(c.Point, 1e-9)
}

var (
	transformerMu    sync.Mutex
	transformerCache = make(map[transformerCacheKey]proj.Transformer)

	curvilinearMu    sync.Mutex
	curvilinearCache = make(map[transformerCacheKey]*rtree.Rtree)
)

// NewLocator chooses a sampling strategy for the dataset. For projected
// grids the coordinate reference is taken from the dataset's own mapping,
// then from any field's mapping, and as a last resort from the model's
// declared fallback, with a warning log on the fallback path.
func NewLocator(ds *GridDataset, m *ModelConfig, log logrus.FieldLogger) (*Locator, error) {
	loc := &Locator{ds: ds}
	switch ds.Kind {
	case GridRegular:
		if len(ds.Lat) == 0 || len(ds.Lon) == 0 {
			return nil, Errorf(KindDataDecode, "sampler: regular dataset has empty axes")
		}
		return loc, nil
	case GridProjected:
		gm := ds.Mapping
		if gm == nil {
			for _, f := range ds.Fields {
				if f.Mapping != nil {
					gm = f.Mapping
					break
				}
			}
		}
		if gm == nil && m != nil && m.FallbackGridMapping != nil {
			gm = m.FallbackGridMapping
			if log != nil {
				log.WithFields(logrus.Fields{
					"model":   m.ID,
					"mapping": gm.Name,
				}).Warn("dataset carries no grid mapping; using the model's declared fallback projection")
			}
		}
		if gm == nil {
			return nil, Errorf(KindDataDecode, "sampler: projected dataset has no grid mapping and no fallback is declared")
		}
		key := transformerCacheKey{nx: len(ds.X), ny: len(ds.Y), mapping: gm.Name}
		transformerMu.Lock()
		fwd, ok := transformerCache[key]
		transformerMu.Unlock()
		if !ok {
			var err error
			fwd, err = gm.forward()
			if err != nil {
				return nil, err
			}
			transformerMu.Lock()
			transformerCache[key] = fwd
			transformerMu.Unlock()
		}
		loc.fwd = fwd
		return loc, nil
	case GridCurvilinear:
		ny, nx := ds.Shape()
		if ny == 0 || nx == 0 {
			return nil, Errorf(KindDataDecode, "sampler: curvilinear dataset has empty coordinates")
		}
		key := transformerCacheKey{nx: nx, ny: ny, mapping: "curvilinear"}
		curvilinearMu.Lock()
		idx, ok := curvilinearCache[key]
		curvilinearMu.Unlock()
		if !ok {
			idx = rtree.NewTree(25, 50)
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					lon := ds.Lon2.Get(j, i)
					if lon > 180 {
						lon -= 360
					}
					idx.Insert(&gridCell{
						Point: geom.Point{X: lon, Y: ds.Lat2.Get(j, i)},
						j:     j, i: i,
					})
				}
			}
			curvilinearMu.Lock()
			curvilinearCache[key] = idx
			curvilinearMu.Unlock()
		}
		loc.idx = idx
		return loc, nil
	}
	return nil, Errorf(KindDataDecode, "sampler: unknown grid kind %v", ds.Kind)
}

// NearestIndex returns the grid indexes of the point closest to
// (lat, lon).
func (l *Locator) NearestIndex(lat, lon float64) (j, i int, err error) {
	switch l.ds.Kind {
	case GridRegular:
		j = nearestIndex(l.ds.Lat, lat)
		i = nearestIndex(l.ds.Lon, lon)
		// The axis may be in 0..360 convention when the caller asked for
		// full-globe data.
		if lon < 0 && l.ds.Lon[len(l.ds.Lon)-1] > 180 {
			i = nearestIndex(l.ds.Lon, lon+360)
		}
		return j, i, nil
	case GridProjected:
		x, y, err := l.fwd(lon, lat)
		if err != nil {
			return 0, 0, fmt.Errorf("sampler: projecting (%g, %g): %v", lon, lat, err)
		}
		return nearestIndex(l.ds.Y, y), nearestIndex(l.ds.X, x), nil
	default:
		nn := l.idx.NearestNeighbor(geom.Point{X: lon, Y: lat})
		cell, ok := nn.(*gridCell)
		if !ok {
			return 0, 0, Errorf(KindDataDecode, "sampler: curvilinear index returned no cell for (%g, %g)", lat, lon)
		}
		return cell.j, cell.i, nil
	}
}

// Sample returns the field value at the grid point nearest to (lat, lon),
// or NaN when the point falls off the grid.
func (l *Locator) Sample(f *Field, lat, lon float64) float64 {
	j, i, err := l.NearestIndex(lat, lon)
	if err != nil {
		return math.NaN()
	}
	ny, nx := l.ds.Shape()
	if j < 0 || j >= ny || i < 0 || i >= nx {
		return math.NaN()
	}
	return f.Data.Get(j, i)
}
