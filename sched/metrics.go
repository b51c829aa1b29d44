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

package sched

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus instrumentation. It doubles as
// the fetcher's attempt observer. A nil *Metrics is a valid no-op receiver
// so the scheduler can run uninstrumented.
type Metrics struct {
	fetchesAttempted *prometheus.CounterVec
	downloadBytes    *prometheus.CounterVec
	mapsGenerated    *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
	memoryAvailable  prometheus.Gauge
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchesAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wxmaps_fetches_attempted_total",
			Help: "Download attempts by model, provider, and result.",
		}, []string{"model", "provider", "result"}),
		downloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wxmaps_download_bytes_total",
			Help: "Bytes downloaded by model and provider.",
		}, []string{"model", "provider"}),
		mapsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wxmaps_maps_generated_total",
			Help: "Map artifacts rendered by model, variable, and result.",
		}, []string{"model", "variable", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wxmaps_run_duration_seconds",
			Help:    "Wall time from first monitoring to run completion.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		}, []string{"model"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wxmaps_worker_queue_depth",
			Help: "Tasks waiting in the dispatch channel.",
		}),
		memoryAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wxmaps_memory_available_bytes",
			Help: "Available system memory as last sampled.",
		}),
	}
	reg.MustRegister(m.fetchesAttempted, m.downloadBytes, m.mapsGenerated,
		m.runDuration, m.queueDepth, m.memoryAvailable)
	return m
}

// FetchAttempted implements fetch.Observer.
func (m *Metrics) FetchAttempted(model, provider, result string) {
	if m == nil {
		return
	}
	m.fetchesAttempted.WithLabelValues(model, provider, result).Inc()
}

// DownloadedBytes implements fetch.Observer.
func (m *Metrics) DownloadedBytes(model, provider string, n int64) {
	if m == nil {
		return
	}
	m.downloadBytes.WithLabelValues(model, provider).Add(float64(n))
}

// MapGenerated records one render outcome.
func (m *Metrics) MapGenerated(model, variable, result string) {
	if m == nil {
		return
	}
	m.mapsGenerated.WithLabelValues(model, variable, result).Inc()
}

// RunFinished records the wall time of a finished run.
func (m *Metrics) RunFinished(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(model).Observe(d.Seconds())
}

// SetQueueDepth records the current dispatch backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetMemoryAvailable records the latest memory sample.
func (m *Metrics) SetMemoryAvailable(b uint64) {
	if m == nil {
		return
	}
	m.memoryAvailable.Set(float64(b))
}

// Handler returns the scrape handler for the registry the metrics were
// registered with.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
