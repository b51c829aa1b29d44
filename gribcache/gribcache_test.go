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

package gribcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nwcast/wxmaps"
)

func testKey(t *testing.T, fh int) Key {
	t.Helper()
	run, err := wxmaps.ParseRunStamp("20260201_06")
	if err != nil {
		t.Fatal(err)
	}
	return Key{ModelID: "global025", Run: run, ForecastHour: fh, Product: "pgrb2", FilterSig: "a1b2c3d4"}
}

func TestPathFor(t *testing.T) {
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	k := testKey(t, 12)
	want := filepath.Join(c.Root(), "global025", "20260201_06", "012_pgrb2_a1b2c3d4.grib2")
	if got := c.PathFor(k); got != want {
		t.Errorf("%v != %v", got, want)
	}
	k.FilterSig = ""
	if got := c.PathFor(k); !strings.HasSuffix(got, "012_pgrb2_full.grib2") {
		t.Errorf("empty filter signature should map to %q, got %v", FilterSigFull, got)
	}
}

func TestAcquireOrDownload(t *testing.T) {
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	k := testKey(t, 0)
	var calls int32
	download := func(ctx context.Context, partial string) error {
		atomic.AddInt32(&calls, 1)
		return os.WriteFile(partial, []byte("grib bytes"), 0o644)
	}
	path, err := c.AcquireOrDownload(context.Background(), k, download)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "grib bytes" {
		t.Errorf("%q != %q", b, "grib bytes")
	}
	// A second acquisition must not download again.
	if _, err := c.AcquireOrDownload(context.Background(), k, download); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("downloader ran %d times, want 1", calls)
	}
}

// TestAcquireOrDownloadConcurrent verifies the at-most-one-download-per-key
// guarantee: many goroutines racing on the same key issue exactly one
// download between them, and no partial file leaks.
func TestAcquireOrDownloadConcurrent(t *testing.T) {
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	k := testKey(t, 12)
	var calls int32
	download := func(ctx context.Context, partial string) error {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		return os.WriteFile(partial, []byte("payload"), 0o644)
	}
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.AcquireOrDownload(context.Background(), k, download)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if paths[i] != c.PathFor(k) {
			t.Errorf("goroutine %d returned %v, want %v", i, paths[i], c.PathFor(k))
		}
	}
	if calls != 1 {
		t.Errorf("downloader ran %d times, want 1", calls)
	}
	if _, err := os.Stat(c.PathFor(k) + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file leaked")
	}
	if _, err := os.Stat(c.PathFor(k) + ".lock"); !os.IsNotExist(err) {
		t.Error("lock file leaked")
	}
}

func TestDownloadFailureRemovesPartial(t *testing.T) {
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	k := testKey(t, 6)
	download := func(ctx context.Context, partial string) error {
		os.WriteFile(partial, []byte("trunc"), 0o644)
		return wxmaps.Errorf(wxmaps.KindFetch, "connection reset")
	}
	if _, err := c.AcquireOrDownload(context.Background(), k, download); err == nil {
		t.Fatal("want error from failed download")
	}
	if _, err := os.Stat(c.PathFor(k) + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file left behind by failed download")
	}
}

func TestRetain(t *testing.T) {
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	stamps := []string{"20260130_18", "20260131_00", "20260131_06", "20260131_12", "20260131_18", "20260201_00"}
	for _, s := range stamps {
		dir := filepath.Join(c.Root(), "global025", s)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "000_pgrb2_full.grib2"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Retain(RetainPolicy{RunsPerModel: 2}); err != nil {
		t.Fatal(err)
	}
	left, err := os.ReadDir(filepath.Join(c.Root(), "global025"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range left {
		names = append(names, e.Name())
	}
	want := []string{"20260131_18", "20260201_00"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("%v != %v", names, want)
	}
	// Retain is idempotent.
	if err := c.Retain(RetainPolicy{RunsPerModel: 2}); err != nil {
		t.Fatal(err)
	}
	left2, err := os.ReadDir(filepath.Join(c.Root(), "global025"))
	if err != nil {
		t.Fatal(err)
	}
	if len(left2) != len(left) {
		t.Errorf("retain not idempotent: %d dirs then %d", len(left), len(left2))
	}
}

func TestSweepPartials(t *testing.T) {
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(c.Root(), "global025", "20260201_06")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "000_pgrb2_full.grib2.partial")
	fresh := filepath.Join(dir, "006_pgrb2_full.grib2.partial")
	keep := filepath.Join(dir, "012_pgrb2_full.grib2")
	for _, p := range []string{stale, fresh, keep} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	if err := c.SweepPartials(time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale partial survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh partial should survive the sweep")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Error("final file should survive the sweep")
	}
}
