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
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/nwcast/wxmaps"
)

// httpClient lazily constructs the shared download client. The transport
// keeps a small bounded connection pool per provider host.
func (f *Fetcher) httpClient() *http.Client {
	f.clientOnce.Do(func() {
		f.client = &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:     4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})
	return f.client
}

// s3Client returns (building if needed) the anonymous-credential client for
// one bucket region. The upstream mirrors are public open-data buckets.
func (f *Fetcher) s3Client(region string) (*s3.S3, error) {
	f.s3Mu.Lock()
	defer f.s3Mu.Unlock()
	if f.s3Clients == nil {
		f.s3Clients = make(map[string]*s3.S3)
	}
	if c, ok := f.s3Clients[region]; ok {
		return c, nil
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.AnonymousCredentials,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: creating S3 session for %s: %v", region, err)
	}
	c := s3.New(sess)
	f.s3Clients[region] = c
	return c, nil
}

// retriableStatus reports whether an HTTP status is worth another attempt.
func retriableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// notFoundStatus reports whether the provider definitively does not have
// the file. Not-found is not retried against the same provider, but unlike
// other 4xx codes it is normal during progressive upload and falls through
// to the next provider quietly.
func notFoundStatus(code int) bool {
	return code == http.StatusNotFound || code == http.StatusForbidden
}

// downloadOnce performs a single HTTP GET attempt, streaming the body to
// path. Transient failures return a plain error (retried); non-retriable
// client errors return backoff.Permanent.
func (f *Fetcher) downloadOnce(ctx context.Context, url, path string) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout())
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("fetch: building request for %s: %v", url, err))
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch: GET %s: status %s", url, resp.Status)
		if retriableStatus(resp.StatusCode) {
			return 0, err
		}
		return 0, backoff.Permanent(err)
	}
	w, err := os.Create(path)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("fetch: creating %s: %v", path, err))
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("fetch: downloading %s: %v", url, err)
	}
	return n, nil
}

// downloadS3Once fetches one object from an open-data bucket to path.
func (f *Fetcher) downloadS3Once(ctx context.Context, p wxmaps.ProviderSpec, key, path string) (int64, error) {
	client, err := f.s3Client(p.S3Region)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout())
	defer cancel()
	out, err := client.GetObjectWithContext(attemptCtx, &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound", "AccessDenied":
				return 0, backoff.Permanent(fmt.Errorf("fetch: s3://%s/%s: %v", p.Bucket, key, err))
			}
		}
		return 0, fmt.Errorf("fetch: s3://%s/%s: %v", p.Bucket, key, err)
	}
	defer out.Body.Close()
	w, err := os.Create(path)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("fetch: creating %s: %v", path, err))
	}
	n, err := io.Copy(w, out.Body)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("fetch: downloading s3://%s/%s: %v", p.Bucket, key, err)
	}
	return n, nil
}

// downloadWithRetry runs one provider's download under the retry policy:
// exponential backoff starting at one second, doubling, with a bounded
// number of attempts.
func (f *Fetcher) downloadWithRetry(ctx context.Context, provider string,
	op func() (int64, error)) (int64, error) {
	var n int64
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0
	attempts := f.maxAttempts()
	err := backoff.RetryNotify(
		func() error {
			var err error
			n, err = op()
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx),
		func(err error, d time.Duration) {
			f.log().WithFields(logrus.Fields{
				"provider": provider,
				"retry_in": d,
			}).WithError(err).Warn("download attempt failed")
		},
	)
	return n, err
}

func (f *Fetcher) attemptTimeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return 120 * time.Second
}

func (f *Fetcher) maxAttempts() int {
	if f.MaxAttempts > 0 {
		return f.MaxAttempts
	}
	return 3
}
