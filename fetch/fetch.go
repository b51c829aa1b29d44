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

// Package fetch materializes canonical gridded datasets from remote model
// output. Given a model, run, forecast hour and a set of canonical field
// names, it selects the product files involved, downloads them through the
// immutable GRIB cache (server-side subset where the provider supports it,
// full files from object-store mirrors otherwise, falling through a
// priority list with retries and backoff), decodes the messages, subsets
// to the configured region, and merges products onto one grid.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nwcast/wxmaps"
	"github.com/nwcast/wxmaps/gribcache"
)

// An Observer receives fetch events for metrics. All methods must be safe
// for concurrent use. The zero observer (nil) is allowed.
type Observer interface {
	FetchAttempted(model, provider, result string)
	DownloadedBytes(model, provider string, n int64)
}

// A Fetcher downloads and assembles gridded datasets. The zero fields fall
// back to defaults: 120 s per-attempt timeout, 3 attempts per provider.
type Fetcher struct {
	Cache  *gribcache.Cache
	Region wxmaps.Region

	// Timeout bounds one download attempt.
	Timeout time.Duration
	// MaxAttempts bounds attempts per provider before falling through to
	// the next one.
	MaxAttempts int

	Log logrus.FieldLogger
	Obs Observer

	clientOnce sync.Once
	client     *http.Client

	s3Mu      sync.Mutex
	s3Clients map[string]*s3.S3

	// bucketCache memoizes per-bucket accumulation grids so that deriving
	// totals for successive forecast hours of one run costs O(H), not
	// O(H²). The cache deduplicates concurrent requests for one bucket.
	bucketOnce  sync.Once
	bucketCache *requestcache.Cache
}

func (f *Fetcher) log() logrus.FieldLogger {
	if f.Log != nil {
		return f.Log
	}
	return logrus.StandardLogger()
}

func (f *Fetcher) observe(model, provider, result string) {
	if f.Obs != nil {
		f.Obs.FetchAttempted(model, provider, result)
	}
}

// FetchRawData returns a dataset containing the required canonical fields
// (and whichever optional ones were present upstream) for one forecast
// hour. When subsetRegion is true the dataset is windowed to the
// configured region before it is returned. The returned dataset satisfies
// the fetcher-boundary conventions: longitudes in [-180, 180] and no
// time-like scalar coordinates.
func (f *Fetcher) FetchRawData(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime,
	fh int, required, optional []string, subsetRegion bool) (*wxmaps.GridDataset, error) {
	if !m.ValidForecastHour(run, fh) {
		return nil, &wxmaps.Error{Kind: wxmaps.KindConfig, Op: "fetch", Model: m.ID, Run: run, FH: fh,
			Err: fmt.Errorf("hour %d is not produced by this run", fh)}
	}
	all := append(append([]string{}, required...), optional...)
	byProduct := make(map[string][]string)
	for _, field := range all {
		p := m.ProductFor(field)
		byProduct[p] = append(byProduct[p], field)
	}
	products := make([]string, 0, len(byProduct))
	for p := range byProduct {
		products = append(products, p)
	}
	sort.Strings(products)

	datasets := make([]*wxmaps.GridDataset, len(products))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, pid := range products {
		i, pid := i, pid
		eg.Go(func() error {
			ds, err := f.fetchProduct(egCtx, m, run, fh, pid, byProduct[pid], subsetRegion)
			if err != nil {
				return err
			}
			datasets[i] = ds
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	ds, err := wxmaps.MergeDatasets(datasets...)
	if err != nil {
		return nil, &wxmaps.Error{Kind: wxmaps.KindDataDecode, Op: "fetch: merging products",
			Model: m.ID, Run: run, FH: fh, Err: err}
	}
	ds.NormalizeLongitudes()
	ds.StripTimeCoords()

	var missing []string
	for _, name := range required {
		if !ds.HasField(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &wxmaps.Error{Kind: wxmaps.KindMissingField, Op: "fetch", Model: m.ID, Run: run, FH: fh,
			Err: fmt.Errorf("fields %v absent after download (have %v)", missing, ds.FieldNames())}
	}
	return ds, nil
}

// fetchProduct downloads (through the cache) and decodes one product file,
// retrying the download once when the cached file turns out to be
// corrupt.
func (f *Fetcher) fetchProduct(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime,
	fh int, productID string, fields []string, subsetRegion bool) (*wxmaps.GridDataset, error) {
	prod, err := m.Product(productID)
	if err != nil {
		return nil, err
	}
	useFilter := m.FilterSupport && filterable(fields) && hasFilterProvider(m)
	sig := gribcache.FilterSigFull
	if useFilter {
		sig = FilterSignature(fields, f.Region)
	}
	key := gribcache.Key{ModelID: m.ID, Run: run, ForecastHour: fh, Product: productID, FilterSig: sig}

	const decodeRetries = 1
	for attempt := 0; ; attempt++ {
		path, err := f.Cache.AcquireOrDownload(ctx, key, func(ctx context.Context, partial string) error {
			return f.downloadProduct(ctx, m, run, fh, prod, fields, useFilter, partial)
		})
		if err != nil {
			return nil, err
		}
		ds, err := DecodeFile(path, fields)
		if err != nil {
			if wxmaps.KindOf(err) == wxmaps.KindDataDecode && attempt < decodeRetries {
				f.log().WithFields(logrus.Fields{
					"model": m.ID, "run": run.Stamp(), "fh": fh, "product": productID,
				}).WithError(err).Warn("cached file failed to decode; deleting and refetching")
				if derr := f.Cache.Delete(key); derr != nil {
					return nil, derr
				}
				continue
			}
			return nil, &wxmaps.Error{Kind: wxmaps.KindOf(err), Op: "fetch: decoding " + productID,
				Model: m.ID, Run: run, FH: fh, Err: err}
		}
		if subsetRegion {
			sub, err := ds.Subset(f.Region)
			if err != nil {
				return nil, &wxmaps.Error{Kind: wxmaps.KindOf(err), Op: "fetch: subsetting " + productID,
					Model: m.ID, Run: run, FH: fh, Err: err}
			}
			ds = sub
		}
		return ds, nil
	}
}

// downloadProduct walks the provider priority list until one serves the
// file. Every provider failure is logged and counted; only when the list
// is exhausted does the fetch fail.
func (f *Fetcher) downloadProduct(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime,
	fh int, prod wxmaps.ProductSpec, fields []string, useFilter bool, partial string) error {
	var lastErr error
	for _, p := range m.Providers {
		var n int64
		var err error
		switch p.Kind {
		case wxmaps.ProviderFilter:
			if !useFilter {
				continue
			}
			var u string
			u, err = filterURL(p, m, prod, run, fh, fields, f.Region)
			if err == nil {
				n, err = f.downloadWithRetry(ctx, p.Name, func() (int64, error) {
					return f.downloadOnce(ctx, u, partial)
				})
			}
		case wxmaps.ProviderHTTP:
			u := mirrorURL(p, run, fh, prod)
			n, err = f.downloadWithRetry(ctx, p.Name, func() (int64, error) {
				return f.downloadOnce(ctx, u, partial)
			})
		case wxmaps.ProviderS3:
			key := objectKey(p, run, fh, prod)
			n, err = f.downloadWithRetry(ctx, p.Name, func() (int64, error) {
				return f.downloadS3Once(ctx, p, key, partial)
			})
		default:
			continue
		}
		if err == nil {
			f.observe(m.ID, p.Name, "ok")
			if f.Obs != nil {
				f.Obs.DownloadedBytes(m.ID, p.Name, n)
			}
			f.log().WithFields(logrus.Fields{
				"model": m.ID, "run": run.Stamp(), "fh": fh,
				"product": prod.ID, "provider": p.Name, "bytes": n,
			}).Info("downloaded product file")
			return nil
		}
		f.observe(m.ID, p.Name, "error")
		f.log().WithFields(logrus.Fields{
			"model": m.ID, "run": run.Stamp(), "fh": fh,
			"product": prod.ID, "provider": p.Name,
		}).WithError(err).Warn("provider failed; falling through")
		lastErr = err
		if ctx.Err() != nil {
			return &wxmaps.Error{Kind: wxmaps.KindCancelled, Op: "fetch", Model: m.ID, Run: run, FH: fh, Err: ctx.Err()}
		}
	}
	return &wxmaps.Error{Kind: wxmaps.KindFetch, Op: "fetch: all providers failed for " + prod.ID,
		Model: m.ID, Run: run, FH: fh, Err: lastErr}
}

func hasFilterProvider(m *wxmaps.ModelConfig) bool {
	for _, p := range m.Providers {
		if p.Kind == wxmaps.ProviderFilter {
			return true
		}
	}
	return false
}
