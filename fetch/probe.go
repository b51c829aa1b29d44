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
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/nwcast/wxmaps"
	"github.com/nwcast/wxmaps/gribcache"
)

// ProbeHour checks whether the first product file of a forecast hour has
// appeared upstream, without downloading it. The probe walks the provider
// list and asks the first provider that supports a cheap existence check:
// HTTP HEAD against a mirror, HeadObject against an object store. A
// definitive "not there yet" from a reachable provider answers false
// without consulting the rest of the list.
func (f *Fetcher) ProbeHour(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime, fh int) (bool, error) {
	if len(m.Products) == 0 {
		return false, wxmaps.Errorf(wxmaps.KindConfig, "fetch: model %s has no products to probe", m.ID)
	}
	prod := m.Products[0]
	// A cached file means the hour was available at some point; upstream
	// listings can lag or prune while the cache still holds the data.
	if f.Cache != nil {
		cached := f.Cache.PathFor(gribcache.Key{
			ModelID: m.ID, Run: run, ForecastHour: fh,
			Product: prod.ID, FilterSig: gribcache.FilterSigFull,
		})
		if _, err := os.Stat(cached); err == nil {
			return true, nil
		}
	}
	var lastErr error
	for _, p := range m.Providers {
		switch p.Kind {
		case wxmaps.ProviderHTTP:
			ok, err := f.probeHTTP(ctx, mirrorURL(p, run, fh, prod))
			if err == nil {
				return ok, nil
			}
			lastErr = err
		case wxmaps.ProviderS3:
			ok, err := f.probeS3(ctx, p, objectKey(p, run, fh, prod))
			if err == nil {
				return ok, nil
			}
			lastErr = err
		case wxmaps.ProviderFilter:
			// The subsetting endpoint has no cheap existence check; the
			// mirrors carry the same files.
			continue
		}
		if ctx.Err() != nil {
			return false, &wxmaps.Error{Kind: wxmaps.KindCancelled, Op: "fetch: probing",
				Model: m.ID, Run: run, FH: fh, Err: ctx.Err()}
		}
	}
	if lastErr != nil {
		return false, &wxmaps.Error{Kind: wxmaps.KindFetch, Op: "fetch: probing",
			Model: m.ID, Run: run, FH: fh, Err: lastErr}
	}
	return false, &wxmaps.Error{Kind: wxmaps.KindConfig, Op: "fetch: probing",
		Model: m.ID, Run: run, FH: fh, Err: fmt.Errorf("no probeable provider configured")}
}

func isS3NotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound", "AccessDenied":
		return true
	}
	return false
}

func (f *Fetcher) probeHTTP(ctx context.Context, url string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout(f.Timeout))
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("fetch: building probe for %s: %v", url, err)
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch: HEAD %s: %v", url, err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case notFoundStatus(resp.StatusCode):
		return false, nil
	default:
		return false, fmt.Errorf("fetch: HEAD %s: status %s", url, resp.Status)
	}
}

func (f *Fetcher) probeS3(ctx context.Context, p wxmaps.ProviderSpec, key string) (bool, error) {
	client, err := f.s3Client(p.S3Region)
	if err != nil {
		return false, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout(f.Timeout))
	defer cancel()
	_, err = client.HeadObjectWithContext(probeCtx, &s3.HeadObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("fetch: HeadObject s3://%s/%s: %v", p.Bucket, key, err)
}

func probeTimeout(t time.Duration) time.Duration {
	if t > 0 && t < 15*time.Second {
		return t
	}
	return 15 * time.Second
}
