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

package wxmaputil

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/nwcast/wxmaps"
	"github.com/nwcast/wxmaps/fetch"
	"github.com/nwcast/wxmaps/gribcache"
	"github.com/nwcast/wxmaps/mapgen"
	"github.com/nwcast/wxmaps/sched"
)

// startupSweepAge is how old debris must be before the startup sweep
// removes it. Young partials may belong to another live process.
const startupSweepAge = 24 * time.Hour

// NewLogger builds the process logger at the given level. Unparseable
// levels fall back to info.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// regionFromConfig reads and validates the map region.
func regionFromConfig(cfg *viper.Viper) (wxmaps.Region, error) {
	r := wxmaps.Region{
		West:  cfg.GetFloat64("Region.West"),
		South: cfg.GetFloat64("Region.South"),
		East:  cfg.GetFloat64("Region.East"),
		North: cfg.GetFloat64("Region.North"),
	}
	if r.West >= r.East || r.South >= r.North {
		return wxmaps.Region{}, wxmaps.Errorf(wxmaps.KindConfig,
			"config: degenerate region west=%g south=%g east=%g north=%g",
			r.West, r.South, r.East, r.North)
	}
	if r.South < -90 || r.North > 90 {
		return wxmaps.Region{}, wxmaps.Errorf(wxmaps.KindConfig,
			"config: latitude bounds [%g, %g] outside [-90, 90]", r.South, r.North)
	}
	return r, nil
}

// modelsFromConfig returns the model registry, restricted to the ids named
// in the Models option when that is non-empty. The option may arrive as a
// list from the configuration file or as a comma-joined string from the
// command line.
func modelsFromConfig(cfg *viper.Viper) (*wxmaps.ModelRegistry, error) {
	all := wxmaps.DefaultModels()
	v := cfg.Get("Models")
	if v == nil {
		return all, nil
	}
	ids, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, wxmaps.Errorf(wxmaps.KindConfig, "config: invalid Models option: %v", err)
	}
	if len(ids) == 1 && strings.Contains(ids[0], ",") {
		ids = strings.Split(ids[0], ",")
	}
	if len(ids) == 0 {
		return all, nil
	}
	var selected []*wxmaps.ModelConfig
	for _, id := range ids {
		m, err := all.Get(id)
		if err != nil {
			return nil, err
		}
		selected = append(selected, m)
	}
	return wxmaps.NewModelRegistry(selected...)
}

// Pipeline constructs the full scheduler from configuration. It reads the
// configuration exactly once; nothing here is reloaded at runtime.
func Pipeline(cfg *viper.Viper) (*sched.Scheduler, *logrus.Logger, error) {
	log := NewLogger(cfg.GetString("LogLevel"))

	region, err := regionFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	models, err := modelsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	publishDir := os.ExpandEnv(cfg.GetString("StoragePath"))
	if err := os.MkdirAll(publishDir, 0o755); err != nil {
		return nil, nil, wxmaps.Errorf(wxmaps.KindConfig, "config: creating publish dir: %v", err)
	}
	cache, err := gribcache.New(os.ExpandEnv(cfg.GetString("CacheRoot")), log)
	if err != nil {
		return nil, nil, err
	}
	// Crashed writers leave .partial and .lock files; clear old ones
	// before any new work starts.
	if err := cache.SweepPartials(startupSweepAge); err != nil {
		log.WithError(err).Warn("cache sweep failed")
	}
	if err := gribcache.SweepDir(publishDir, time.Now().Add(-startupSweepAge), log); err != nil {
		log.WithError(err).Warn("publish sweep failed")
	}

	var stations *wxmaps.StationCatalog
	if path := os.ExpandEnv(cfg.GetString("Stations.CatalogFile")); path != "" {
		stations, err = wxmaps.LoadStationCatalog(path, os.ExpandEnv(cfg.GetString("Stations.OverridesFile")))
		if err != nil {
			return nil, nil, err
		}
		log.WithField("stations", stations.Len()).Info("loaded station catalog")
	}

	style := mapgen.DefaultStyle()
	if path := os.ExpandEnv(cfg.GetString("StyleFile")); path != "" {
		style, err = mapgen.LoadStyle(path)
		if err != nil {
			return nil, nil, err
		}
	}

	var overlays *mapgen.OverlaySet
	files := mapgen.OverlayFiles{
		Coastline: os.ExpandEnv(cfg.GetString("Overlays.Coastline")),
		Borders:   os.ExpandEnv(cfg.GetString("Overlays.Borders")),
		States:    os.ExpandEnv(cfg.GetString("Overlays.States")),
	}
	if files.Coastline != "" || files.Borders != "" || files.States != "" {
		overlays, err = mapgen.LoadOverlays(files)
		if err != nil {
			return nil, nil, err
		}
	}

	variables := wxmaps.DefaultVariables()
	fetcher := &fetch.Fetcher{
		Cache:       cache,
		Region:      region,
		Timeout:     time.Duration(cfg.GetInt("FetchTimeoutSeconds")) * time.Second,
		MaxAttempts: cfg.GetInt("FetchMaxAttempts"),
		Log:         log,
	}
	generator := &mapgen.Generator{
		PublishDir: publishDir,
		Width:      cfg.GetInt("MapWidthPx"),
		Variables:  variables,
		Stations:   stations,
		Style:      style,
		Overlays:   overlays,
		Log:        log,
	}
	s := &sched.Scheduler{
		Models:            models,
		Variables:         variables,
		Fetcher:           fetcher,
		Generator:         generator,
		MaxWorkers:        cfg.GetInt("MaxWorkers"),
		MonitorWindow:     time.Duration(cfg.GetInt("MonitorWindowMinutes")) * time.Minute,
		CheckInterval:     time.Duration(cfg.GetInt("CheckIntervalSeconds")) * time.Second,
		DrainTimeout:      time.Duration(cfg.GetInt("DrainTimeoutSeconds")) * time.Second,
		SubsetRegion:      cfg.GetBool("SubsetRegion"),
		PublishRetainRuns: cfg.GetInt("Retention.PublishRuns"),
		CacheRetainRuns:   cfg.GetInt("Retention.CacheRuns"),
		Log:               log,
	}
	return s, log, nil
}

// targetRun resolves the model and run the one-shot commands operate on.
// An empty run stamp means the latest run that should be available now.
func targetRun(cfg *viper.Viper, models *wxmaps.ModelRegistry) (*wxmaps.ModelConfig, wxmaps.RunTime, error) {
	m, err := models.Get(cfg.GetString("model"))
	if err != nil {
		return nil, wxmaps.RunTime{}, err
	}
	stamp := cfg.GetString("run")
	if stamp == "" {
		return m, m.LatestRun(time.Now()), nil
	}
	run, err := wxmaps.ParseRunStamp(stamp)
	if err != nil {
		return nil, wxmaps.RunTime{}, err
	}
	// Validate the hour against the model's calendar.
	run, err = wxmaps.NewRunTime(run.Time, m)
	if err != nil {
		return nil, wxmaps.RunTime{}, err
	}
	return m, run, nil
}
