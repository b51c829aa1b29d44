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

// Package wxmaputil wires configuration, flags, and environment variables
// into the pipeline components and defines the wxmaps command tree.
package wxmaputil

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nwcast/wxmaps"
	"github.com/nwcast/wxmaps/gribcache"
	"github.com/nwcast/wxmaps/sched"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to WxMaps.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel sets the logging verbosity: debug, info, warn, or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "StoragePath",
			usage: `
              StoragePath is the directory the finished map images are published
              to. The web layer serves this directory directly.`,
			defaultVal: "${HOME}/wxmaps/maps",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags(), sweepCmd.Flags()},
		},
		{
			name: "CacheRoot",
			usage: `
              CacheRoot is the directory holding downloaded GRIB subsets. Files
              under it are immutable once fully written.`,
			defaultVal: "${HOME}/wxmaps/cache",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags(), sweepCmd.Flags(), probeCmd.Flags()},
		},
		{
			name: "Region.West",
			usage: `
              Region.West is the western edge of the map region in degrees
              longitude (negative west of Greenwich).`,
			defaultVal: -130.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Region.South",
			usage: `
              Region.South is the southern edge of the map region in degrees
              latitude.`,
			defaultVal: 39.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Region.East",
			usage: `
              Region.East is the eastern edge of the map region in degrees
              longitude.`,
			defaultVal: -108.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Region.North",
			usage: `
              Region.North is the northern edge of the map region in degrees
              latitude.`,
			defaultVal: 52.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "SubsetRegion",
			usage: `
              SubsetRegion requests server-side regional subsetting from
              providers that support it, which shrinks downloads considerably.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "MaxWorkers",
			usage: `
              MaxWorkers caps the concurrent forecast-hour workers. The
              effective pool size also depends on machine memory.`,
			defaultVal: 8,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "MonitorWindowMinutes",
			usage: `
              MonitorWindowMinutes is how long a model run is polled for new
              forecast hours before being abandoned.`,
			defaultVal: 90,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CheckIntervalSeconds",
			usage: `
              CheckIntervalSeconds is the polling period while monitoring a
              run.`,
			defaultVal: 60,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "DrainTimeoutSeconds",
			usage: `
              DrainTimeoutSeconds bounds how long in-flight work may continue
              after a shutdown signal.`,
			defaultVal: 30,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "FetchTimeoutSeconds",
			usage: `
              FetchTimeoutSeconds is the per-attempt timeout for one upstream
              download.`,
			defaultVal: 120,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags(), probeCmd.Flags()},
		},
		{
			name: "FetchMaxAttempts",
			usage: `
              FetchMaxAttempts is how many times a transient download failure
              is retried per provider before falling through to the next one.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags(), probeCmd.Flags()},
		},
		{
			name: "Retention.PublishRuns",
			usage: `
              Retention.PublishRuns is how many recent runs per model to keep
              in the publish directory.`,
			defaultVal: 4,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Retention.CacheRuns",
			usage: `
              Retention.CacheRuns is how many recent runs per model to keep in
              the GRIB cache.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Stations.CatalogFile",
			usage: `
              Stations.CatalogFile is the path to the JSON station catalog used
              for value overlays. Empty disables station labels.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Stations.OverridesFile",
			usage: `
              Stations.OverridesFile is an optional JSON file of per-station
              position and weight overrides applied on top of the catalog.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "StyleFile",
			usage: `
              StyleFile is an optional TOML file overriding the built-in color
              scales and overlay policy per variable.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Overlays.Coastline",
			usage: `
              Overlays.Coastline is the path to the coastline shapefile drawn
              on every map. Empty skips the layer.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Overlays.Borders",
			usage: `
              Overlays.Borders is the path to the national-border shapefile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Overlays.States",
			usage: `
              Overlays.States is the path to the state/province boundary
              shapefile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "MapWidthPx",
			usage: `
              MapWidthPx is the pixel width of rendered maps; height follows
              the region's aspect ratio.`,
			defaultVal: 1024,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "Models",
			usage: `
              Models restricts the pipeline to the named model ids. Empty runs
              every enabled model.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), onceCmd.Flags()},
		},
		{
			name: "MetricsAddr",
			usage: `
              MetricsAddr is the listen address for the Prometheus /metrics
              endpoint, e.g. ":9090". Empty disables the listener.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "model",
			usage: `
              model is the model id to operate on.`,
			shorthand:  "m",
			defaultVal: "global025",
			flagsets:   []*pflag.FlagSet{onceCmd.Flags(), probeCmd.Flags()},
		},
		{
			name: "run",
			usage: `
              run is the run stamp (YYYYMMDD_HH, UTC) to operate on. Empty
              means the latest run expected to be available.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{onceCmd.Flags(), probeCmd.Flags()},
		},
		{
			name: "fh",
			usage: `
              fh is the forecast hour to probe.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{probeCmd.Flags()},
		},
		{
			name: "MaxPartialAgeHours",
			usage: `
              MaxPartialAgeHours is the age beyond which orphaned .partial and
              .lock files are removed by sweep.`,
			defaultVal: 24,
			flagsets:   []*pflag.FlagSet{sweepCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("WXMAPS")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(onceCmd)
	Root.AddCommand(sweepCmd)
	Root.AddCommand(probeCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("wxmaps: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// signalContext returns a context cancelled by SIGTERM or SIGINT. SIGHUP
// is ignored; there is no configuration reload.
func signalContext() (context.Context, context.CancelFunc) {
	signal.Ignore(syscall.SIGHUP)
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "wxmaps",
	Short: "An automated weather-forecast map production pipeline.",
	Long: `WxMaps watches numerical weather model runs as they are published,
downloads the fields it needs, and renders a fixed set of forecast maps for
a configured region. Use the subcommands specified below to access the
pipeline functionality.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'WXMAPS_var' where 'var' is the name of the variable to be set. Many
configuration variables are additionally allowed to contain environment
variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of WxMaps.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("WxMaps v%s\n", wxmaps.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd runs the scheduler daemon until signalled to stop.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the map production daemon.",
	Long: `run starts the scheduler, which follows each enabled model's run
calendar, fetches forecast hours as they appear upstream, and publishes
maps progressively until stopped by SIGTERM or SIGINT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, log, err := Pipeline(Cfg)
		if err != nil {
			return err
		}
		if addr := Cfg.GetString("MetricsAddr"); addr != "" {
			reg := prometheus.NewRegistry()
			s.Metrics = sched.NewMetrics(reg)
			s.Fetcher.Obs = s.Metrics
			mux := http.NewServeMux()
			mux.Handle("/metrics", sched.Handler(reg))
			go func() {
				if err := http.ListenAndServe(addr, mux); err != nil {
					log.WithError(err).Error("metrics listener failed")
				}
			}()
			log.WithField("addr", addr).Info("serving metrics")
		}
		ctx, stop := signalContext()
		defer stop()
		return s.Run(ctx)
	},
	DisableAutoGenTag: true,
}

// onceCmd processes a single run synchronously and exits.
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Process one model run and exit.",
	Long: `once fetches and renders every currently available forecast hour of
one run, then exits. It is the quickest way to exercise a provider or a
style change without the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := Pipeline(Cfg)
		if err != nil {
			return err
		}
		m, run, err := targetRun(Cfg, s.Models)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return s.RunOnce(ctx, m, run)
	},
	DisableAutoGenTag: true,
}

// sweepCmd cleans up debris left by crashed writers.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned partial files.",
	Long: `sweep deletes .partial and .lock files older than
MaxPartialAgeHours from the cache and publish directories. The daemon does
the same at startup; sweep exists for running it by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := NewLogger(Cfg.GetString("LogLevel"))
		cache, err := gribcache.New(os.ExpandEnv(Cfg.GetString("CacheRoot")), log)
		if err != nil {
			return err
		}
		age := time.Duration(Cfg.GetInt("MaxPartialAgeHours")) * time.Hour
		if err := cache.SweepPartials(age); err != nil {
			return err
		}
		publishDir := os.ExpandEnv(Cfg.GetString("StoragePath"))
		if _, err := os.Stat(publishDir); os.IsNotExist(err) {
			return nil
		}
		return gribcache.SweepDir(publishDir, time.Now().Add(-age), log)
	},
	DisableAutoGenTag: true,
}

// probeCmd asks upstream whether one forecast hour exists yet.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check upstream availability of a forecast hour.",
	Long: `probe issues the same availability check the scheduler uses for one
(model, run, forecast hour) and prints the answer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := Pipeline(Cfg)
		if err != nil {
			return err
		}
		m, run, err := targetRun(Cfg, s.Models)
		if err != nil {
			return err
		}
		fh := Cfg.GetInt("fh")
		ctx, stop := signalContext()
		defer stop()
		ok, err := s.Fetcher.ProbeHour(ctx, m, run, fh)
		if err != nil {
			return err
		}
		if ok {
			cmd.Printf("%s %s f%03d: available\n", m.ID, run.Stamp(), fh)
		} else {
			cmd.Printf("%s %s f%03d: not yet available\n", m.ID, run.Stamp(), fh)
		}
		return nil
	},
	DisableAutoGenTag: true,
}
