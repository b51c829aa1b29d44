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

// Package sched orchestrates the forecast pipeline: it watches the model
// run calendar, polls upstream for newly available forecast hours, and
// feeds fetch-and-render tasks to a memory-bounded worker pool. Workers
// never kill the scheduler; every task failure comes back as an outcome
// value and shows up downstream as nothing more than an absent map.
package sched

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nwcast/wxmaps"
	"github.com/nwcast/wxmaps/fetch"
	"github.com/nwcast/wxmaps/gribcache"
	"github.com/nwcast/wxmaps/internal/mem"
	"github.com/nwcast/wxmaps/mapgen"
)

const (
	defaultMonitorWindow = 90 * time.Minute
	defaultCheckInterval = 60 * time.Second
	defaultDrainTimeout  = 30 * time.Second
	defaultMaxWorkers    = 8
	defaultPublishRetain = 4
	defaultCacheRetain   = 2
)

// A Scheduler drives the whole pipeline for every enabled model.
type Scheduler struct {
	Models    *wxmaps.ModelRegistry
	Variables *wxmaps.VariableRegistry
	Fetcher   *fetch.Fetcher
	Generator *mapgen.Generator

	// MaxWorkers caps the pool; the actual size also depends on machine
	// memory.
	MaxWorkers int
	// MonitorWindow is how long a run is polled before being abandoned.
	MonitorWindow time.Duration
	// CheckInterval is the polling period within a monitored run.
	CheckInterval time.Duration
	// DrainTimeout bounds how long in-flight tasks may keep running after
	// a shutdown signal.
	DrainTimeout time.Duration
	// SubsetRegion requests server-side subsetting where the provider
	// supports it.
	SubsetRegion bool

	PublishRetainRuns int
	CacheRetainRuns   int

	Log     logrus.FieldLogger
	Metrics *Metrics

	mu    sync.Mutex
	runs  map[string]*RunState
	tasks chan task
	monWG sync.WaitGroup
}

type task struct {
	st *RunState
	fh int
}

func (s *Scheduler) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

func (s *Scheduler) monitorWindow() time.Duration {
	if s.MonitorWindow > 0 {
		return s.MonitorWindow
	}
	return defaultMonitorWindow
}

func (s *Scheduler) checkInterval() time.Duration {
	if s.CheckInterval > 0 {
		return s.CheckInterval
	}
	return defaultCheckInterval
}

func (s *Scheduler) drainTimeout() time.Duration {
	if s.DrainTimeout > 0 {
		return s.DrainTimeout
	}
	return defaultDrainTimeout
}

func (s *Scheduler) maxWorkers() int {
	if s.MaxWorkers > 0 {
		return s.MaxWorkers
	}
	return defaultMaxWorkers
}

func (s *Scheduler) publishRetain() int {
	if s.PublishRetainRuns > 0 {
		return s.PublishRetainRuns
	}
	return defaultPublishRetain
}

func (s *Scheduler) cacheRetain() int {
	if s.CacheRetainRuns > 0 {
		return s.CacheRetainRuns
	}
	return defaultCacheRetain
}

func runKeyOf(m *wxmaps.ModelConfig, run wxmaps.RunTime) string {
	return m.ID + "_" + run.Stamp()
}

// Run blocks until ctx is cancelled, then drains in-flight work under the
// drain timeout and returns. It is the long-lived entry point of the
// daemon.
func (s *Scheduler) Run(ctx context.Context) error {
	workers := mem.PoolSize(s.maxWorkers())
	s.mu.Lock()
	s.runs = make(map[string]*RunState)
	s.tasks = make(chan task, workers*4)
	s.mu.Unlock()
	s.log().WithField("workers", workers).Info("scheduler starting")

	// Workers run on a context detached from ctx so a shutdown signal
	// stops dispatch without yanking work already in progress. The drain
	// timer below is the hard stop.
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()

	var workerWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for t := range s.tasks {
				s.Metrics.SetQueueDepth(len(s.tasks))
				if ctx.Err() != nil {
					// Queued but unstarted at shutdown: drop it. Nothing
					// has touched the publish directory for this task.
					t.st.Release(t.fh)
					continue
				}
				s.runTask(taskCtx, t)
			}
		}()
	}

	cr := cron.New(cron.WithLocation(time.UTC))
	for _, m := range s.Models.ListEnabled() {
		m := m
		for _, h := range m.RunHours {
			at := time.Date(2000, 1, 1, h, 0, 0, 0, time.UTC).Add(m.AvailabilityDelay)
			spec := fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour())
			if _, err := cr.AddFunc(spec, func() {
				s.startRun(ctx, m, m.LatestRun(time.Now()))
			}); err != nil {
				close(s.tasks)
				return wxmaps.Errorf(wxmaps.KindConfig, "sched: cron spec %q for %s: %v", spec, m.ID, err)
			}
		}
	}
	cr.Start()

	// Startup catch-up: a restart mid-run resumes monitoring any run
	// whose window is still open.
	now := time.Now()
	for _, m := range s.Models.ListEnabled() {
		r := m.LatestRun(now)
		if now.Sub(r.Add(m.AvailabilityDelay)) < s.monitorWindow() {
			s.startRun(ctx, m, r)
		}
	}

	<-ctx.Done()
	s.log().Info("shutdown: stopping dispatch")
	cronDone := cr.Stop()
	s.monWG.Wait()
	close(s.tasks)

	drained := make(chan struct{})
	go func() {
		workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.drainTimeout()):
		s.log().Warn("shutdown: drain deadline reached, cancelling in-flight work")
		cancelTasks()
		<-drained
	}
	<-cronDone.Done()
	s.log().Info("scheduler stopped")
	return nil
}

// startRun begins monitoring the given run unless it is already tracked.
func (s *Scheduler) startRun(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime) {
	if ctx.Err() != nil {
		return
	}
	key := runKeyOf(m, run)
	s.mu.Lock()
	if _, ok := s.runs[key]; ok {
		s.mu.Unlock()
		return
	}
	st := NewRunState(m, run)
	s.runs[key] = st
	s.mu.Unlock()

	s.monWG.Add(1)
	go func() {
		defer s.monWG.Done()
		s.monitorRun(ctx, st)
	}()
}

// monitorRun polls one run until it completes, its window expires, or the
// scheduler shuts down.
func (s *Scheduler) monitorRun(ctx context.Context, st *RunState) {
	m, run := st.Model, st.Run
	log := s.log().WithFields(logrus.Fields{"model": m.ID, "run": run.Stamp()})
	st.SetStatus(StatusMonitoring)
	expected := m.ExpectedForecastHours(run)
	deadline := st.Started().Add(s.monitorWindow())
	log.WithField("hours", len(expected)).Info("monitoring run")

	ticker := time.NewTicker(s.checkInterval())
	defer ticker.Stop()
	for {
		s.pollOnce(ctx, st, expected, log)
		if st.Done(expected) {
			st.SetStatus(StatusComplete)
			d := time.Since(st.Started())
			s.Metrics.RunFinished(m.ID, d)
			log.WithField("elapsed", d.Round(time.Second)).Info("run complete")
			s.teardown(st)
			return
		}
		if time.Now().After(deadline) {
			st.SetStatus(StatusAbandoned)
			log.WithField("completed", st.CompletedCount()).Warn("monitoring window expired, abandoning run")
			s.teardown(st)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce probes the pending hours in ascending order and enqueues the
// ones upstream has produced. Model output appears in forecast-hour order,
// so probing stops at the first absent hour.
func (s *Scheduler) pollOnce(ctx context.Context, st *RunState, expected []int, log logrus.FieldLogger) {
	for _, fh := range st.Pending(expected) {
		ok, err := s.Fetcher.ProbeHour(ctx, st.Model, st.Run, fh)
		if err != nil {
			if wxmaps.KindOf(err) != wxmaps.KindCancelled {
				log.WithField("fh", fh).WithError(err).Warn("availability probe failed")
			}
			break
		}
		if !ok {
			break
		}
		if !st.MarkInFlight(fh) {
			continue
		}
		select {
		case s.tasks <- task{st, fh}:
		case <-ctx.Done():
			return
		}
	}
	s.Metrics.SetMemoryAvailable(mem.AvailableBytes())
}

func (s *Scheduler) runTask(ctx context.Context, t task) {
	m, run, fh := t.st.Model, t.st.Run, t.fh
	log := s.log().WithFields(logrus.Fields{"model": m.ID, "run": run.Stamp(), "fh": fh})
	start := time.Now()
	out := s.GenerateMapsForHour(ctx, m, run, fh)
	settle(t.st, fh, out)
	switch out.Status {
	case wxmaps.OutcomeSuccess:
		log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("forecast hour published")
	case wxmaps.OutcomeSkipped:
		log.WithField("reason", out.Reason).Info("forecast hour skipped")
	default:
		log.WithFields(logrus.Fields{"kind": out.Kind, "reason": out.Reason}).Error("forecast hour failed")
	}
	// Grid buffers from this hour are garbage now; hand the pages back
	// before the next download starts.
	mem.Reclaim()
}

// settle folds a task outcome into the run state. Published and skipped
// hours are complete. Transient failures (fetch, missing field, corrupt
// download) go back to pending so a later polling cycle within the run
// window retries them; the upstream file may simply not be fully uploaded
// yet. Render and configuration failures would fail identically on a
// retry, so those hours complete too. Cancelled work is released: the run
// is ending and the hour was never processed.
func settle(st *RunState, fh int, out wxmaps.TaskOutcome) {
	if out.Status == wxmaps.OutcomeFailed && (out.Retry || out.Kind == wxmaps.KindCancelled) {
		st.Release(fh)
		return
	}
	st.MarkCompleted(fh)
}

// GenerateMapsForHour fetches one forecast hour's data and renders every
// variable the model supports. All failure modes are folded into the
// returned outcome; the method never panics into its caller.
func (s *Scheduler) GenerateMapsForHour(ctx context.Context, m *wxmaps.ModelConfig,
	run wxmaps.RunTime, fh int) (out wxmaps.TaskOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = wxmaps.Failed(wxmaps.Errorf(wxmaps.KindUnknown, "task panic: %v", r))
		}
	}()
	log := s.log().WithFields(logrus.Fields{"model": m.ID, "run": run.Stamp(), "fh": fh})

	vars, rejected := s.Variables.Supported(s.Variables.All(), m)
	for id, err := range rejected {
		log.WithField("variable", id).Info(err)
	}
	if len(vars) == 0 {
		return wxmaps.Skipped("no renderable variables for model")
	}

	ds, err := s.Fetcher.BuildDatasetForMaps(ctx, s.Variables, m, run, fh, vars, s.SubsetRegion)
	if err != nil {
		for _, id := range vars {
			s.Metrics.MapGenerated(m.ID, id, "error")
		}
		return wxmaps.Failed(err)
	}
	defer ds.Release()

	var lastPath string
	failed := 0
	for _, id := range vars {
		name, err := s.Generator.Generate(ctx, ds, id, m, run, fh, s.Fetcher.Region)
		if err != nil {
			failed++
			s.Metrics.MapGenerated(m.ID, id, "error")
			if wxmaps.KindOf(err) == wxmaps.KindCancelled {
				return wxmaps.Failed(err)
			}
			log.WithField("variable", id).WithError(err).Error("map render failed")
			continue
		}
		s.Metrics.MapGenerated(m.ID, id, "ok")
		lastPath = filepath.Join(s.Generator.PublishDir, name)
	}
	if failed == len(vars) {
		return wxmaps.Failed(wxmaps.Errorf(wxmaps.KindRender, "all %d variables failed for %s %s f%03d",
			len(vars), m.ID, run.Stamp(), fh))
	}
	return wxmaps.Success(lastPath)
}

// teardown runs retention after a run reaches a terminal state and then
// forgets it. Runs still being monitored stay protected from retention.
func (s *Scheduler) teardown(st *RunState) {
	protected := s.activeRunKeys()
	if err := RetainArtifacts(s.Generator.PublishDir, s.publishRetain(), protected, s.log()); err != nil {
		s.log().WithError(err).Error("publish retention failed")
	}
	if s.Fetcher.Cache != nil {
		if err := s.Fetcher.Cache.Retain(gribcache.RetainPolicy{RunsPerModel: s.cacheRetain()}); err != nil {
			s.log().WithError(err).Error("cache retention failed")
		}
	}
	s.mu.Lock()
	delete(s.runs, runKeyOf(st.Model, st.Run))
	s.mu.Unlock()
}

// activeRunKeys returns the runs that must survive retention: everything
// still pending or monitoring.
func (s *Scheduler) activeRunKeys() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make(map[string]bool)
	for key, st := range s.runs {
		switch st.Status() {
		case StatusPending, StatusMonitoring:
			keys[key] = true
		}
	}
	return keys
}

// RunOnce processes every currently available hour of one run
// synchronously and returns. It backs the one-shot command used for
// testing providers and styles without the daemon.
func (s *Scheduler) RunOnce(ctx context.Context, m *wxmaps.ModelConfig, run wxmaps.RunTime) error {
	log := s.log().WithFields(logrus.Fields{"model": m.ID, "run": run.Stamp()})
	for _, fh := range m.ExpectedForecastHours(run) {
		if err := ctx.Err(); err != nil {
			return wxmaps.Errorf(wxmaps.KindCancelled, "run once: %v", err)
		}
		ok, err := s.Fetcher.ProbeHour(ctx, m, run, fh)
		if err != nil {
			return err
		}
		if !ok {
			log.WithField("fh", fh).Info("hour not yet available, stopping")
			return nil
		}
		out := s.GenerateMapsForHour(ctx, m, run, fh)
		if out.Status == wxmaps.OutcomeFailed {
			log.WithFields(logrus.Fields{"fh": fh, "kind": out.Kind, "reason": out.Reason}).Error("forecast hour failed")
		}
		mem.Reclaim()
	}
	return nil
}
