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

// Package gribcache is a content-addressed store of downloaded GRIB files.
// Files are immutable once written: writers produce a ".partial" file and
// atomically rename it into place, and no operation ever opens a final file
// for writing. Concurrent downloads of the same key are collapsed to one by
// a per-key in-process mutex plus a cross-process sidecar lock file created
// with O_CREAT|O_EXCL, so the filesystem itself is the concurrency
// primitive shared with cooperating processes.
package gribcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nwcast/wxmaps"
)

// FilterSigFull is the filter signature of a download that used no
// server-side subsetting.
const FilterSigFull = "full"

// A Key identifies one cache entry: a single product file of a single
// forecast hour, possibly server-side filtered.
type Key struct {
	ModelID      string
	Run          wxmaps.RunTime
	ForecastHour int
	Product      string
	FilterSig    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%03d_%s_%s", k.ModelID, k.Run.Stamp(), k.ForecastHour, k.Product, k.FilterSig)
}

// DownloadFunc materializes the content of a cache entry at the given
// partial path. It must either produce a complete file there and return
// nil, or return an error and leave whatever state behind; the cache
// removes the partial on error.
type DownloadFunc func(ctx context.Context, partialPath string) error

// A Cache is the GRIB file store rooted at one directory.
type Cache struct {
	root string

	// LockStale is the age beyond which another process's sidecar lock is
	// presumed abandoned and is broken.
	LockStale time.Duration

	Log logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-key serialization within this process
	held  map[string]bool        // keys whose download is in flight here
}

// New opens (creating if necessary) a cache rooted at dir.
func New(dir string, log logrus.FieldLogger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gribcache: creating cache root: %v", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		root:      dir,
		LockStale: 15 * time.Minute,
		Log:       log,
		locks:     make(map[string]*sync.Mutex),
		held:      make(map[string]bool),
	}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// PathFor returns the final path of the entry for key. It performs no I/O.
func (c *Cache) PathFor(k Key) string {
	sig := k.FilterSig
	if sig == "" {
		sig = FilterSigFull
	}
	return filepath.Join(c.root, k.ModelID, k.Run.Stamp(),
		fmt.Sprintf("%03d_%s_%s.grib2", k.ForecastHour, k.Product, sig))
}

func (c *Cache) keyMutex(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.locks[path]
	if !ok {
		m = new(sync.Mutex)
		c.locks[path] = m
	}
	return m
}

// AcquireOrDownload returns the path of the final file for key, downloading
// it first if it does not exist yet. At most one download per key runs at a
// time across all workers of all cooperating processes on this filesystem;
// late arrivals block on the lock and then find the finished file.
func (c *Cache) AcquireOrDownload(ctx context.Context, k Key, download DownloadFunc) (string, error) {
	final := c.PathFor(k)
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}

	m := c.keyMutex(final)
	m.Lock()
	defer m.Unlock()

	// Re-check: another worker of this process may have finished while we
	// waited on the mutex.
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("gribcache: creating run directory: %v", err)
	}

	unlock, err := c.sidecarLock(ctx, final)
	if err != nil {
		return "", err
	}
	defer unlock()

	// Re-check once more: another process may have completed the download
	// while we waited on the sidecar.
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}

	partial := final + ".partial"
	if err := download(ctx, partial); err != nil {
		os.Remove(partial)
		return "", err
	}
	if err := syncFile(partial); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("gribcache: syncing %s: %v", partial, err)
	}
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("gribcache: finalizing %s: %v", final, err)
	}
	return final, nil
}

// syncFile flushes the partial's contents to stable storage before the
// rename publishes it. The descriptor must be writable: fsync on a
// read-only descriptor is not guaranteed everywhere.
func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// sidecarLock takes the cross-process lock guarding path. The lock is a
// ".lock" file created exclusively; a lock older than LockStale is broken
// on the assumption that its holder crashed.
func (c *Cache) sidecarLock(ctx context.Context, path string) (unlock func(), err error) {
	lockPath := path + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			c.mu.Lock()
			c.held[path] = true
			c.mu.Unlock()
			return func() {
				os.Remove(lockPath)
				c.mu.Lock()
				delete(c.held, path)
				c.mu.Unlock()
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("gribcache: creating lock %s: %v", lockPath, err)
		}
		if fi, serr := os.Stat(lockPath); serr == nil && time.Since(fi.ModTime()) > c.LockStale {
			c.Log.WithField("lock", lockPath).Warn("breaking stale cache lock")
			os.Remove(lockPath)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, &wxmaps.Error{Kind: wxmaps.KindCancelled, Op: "gribcache: waiting for key lock", FH: -1, Err: ctx.Err()}
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Delete removes the final file for key. It is used when a worker finds the
// decoded content corrupt.
func (c *Cache) Delete(k Key) error {
	err := os.Remove(c.PathFor(k))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("gribcache: deleting %s: %v", k, err)
	}
	return nil
}

// RetainPolicy bounds how much history the cache keeps.
type RetainPolicy struct {
	// RunsPerModel keeps the newest N run directories for each model.
	RunsPerModel int
}

// Retain deletes whole run directories that fall outside the policy. Run
// directories containing a key currently being downloaded by this process
// are never deleted.
func (c *Cache) Retain(policy RetainPolicy) error {
	if policy.RunsPerModel <= 0 {
		return nil
	}
	models, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("gribcache: listing cache root: %v", err)
	}
	for _, m := range models {
		if !m.IsDir() {
			continue
		}
		modelDir := filepath.Join(c.root, m.Name())
		runs, err := os.ReadDir(modelDir)
		if err != nil {
			return fmt.Errorf("gribcache: listing %s: %v", modelDir, err)
		}
		var stamps []string
		for _, r := range runs {
			if !r.IsDir() {
				continue
			}
			if _, err := wxmaps.ParseRunStamp(r.Name()); err != nil {
				continue // not a run directory
			}
			stamps = append(stamps, r.Name())
		}
		sort.Strings(stamps) // the stamp form sorts chronologically
		if len(stamps) <= policy.RunsPerModel {
			continue
		}
		for _, s := range stamps[:len(stamps)-policy.RunsPerModel] {
			dir := filepath.Join(modelDir, s)
			if c.holdsKeyUnder(dir) {
				continue
			}
			c.Log.WithFields(logrus.Fields{"model": m.Name(), "run": s}).Info("retention: deleting cached run")
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("gribcache: deleting %s: %v", dir, err)
			}
		}
	}
	return nil
}

func (c *Cache) holdsKeyUnder(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := dir + string(os.PathSeparator)
	for path := range c.held {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// SweepPartials removes ".partial" and ".lock" files older than the given
// age. It runs at startup to clean up after crashed writers.
func (c *Cache) SweepPartials(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	return SweepDir(c.root, cutoff, c.Log)
}

// SweepDir removes orphaned ".partial" and ".lock" files under dir whose
// modification time is before cutoff. It is shared between the cache and
// the publish directory sweep.
func SweepDir(dir string, cutoff time.Time, log logrus.FieldLogger) error {
	return filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".partial" && ext != ".lock" {
			return nil
		}
		if fi.ModTime().After(cutoff) {
			return nil
		}
		if log != nil {
			log.WithField("file", path).Info("sweeping orphaned file")
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("gribcache: sweeping %s: %v", path, err)
		}
		return nil
	})
}
