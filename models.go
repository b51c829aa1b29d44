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
	"sort"
	"strings"
	"time"
)

// AccumStyle describes how a model reports precipitation totals.
type AccumStyle int

const (
	// AccumBucket means the native accumulated field resets at fixed
	// bucket boundaries (AccumResetHours apart).
	AccumBucket AccumStyle = iota
	// AccumRate means the model only reports an instantaneous rate that
	// must be integrated over time.
	AccumRate
)

// SnowMaskUnits declares the units of a model's categorical snow mask.
type SnowMaskUnits int

const (
	// SnowMaskAuto applies the range heuristic: values above 1.5 are
	// assumed to be percentages.
	SnowMaskAuto SnowMaskUnits = iota
	// SnowMaskFraction declares the mask is already 0..1.
	SnowMaskFraction
	// SnowMaskPercent declares the mask is 0..100.
	SnowMaskPercent
)

// ProviderKind selects the request style for one upstream data source.
type ProviderKind int

const (
	// ProviderFilter is a server-side subsetting endpoint: the request
	// encodes the field list, levels and region bbox and the response
	// contains only the matching GRIB messages.
	ProviderFilter ProviderKind = iota
	// ProviderHTTP is a plain HTTPS mirror serving full product files.
	ProviderHTTP
	// ProviderS3 is an object-store mirror read with the AWS SDK
	// (anonymous credentials; these are public buckets).
	ProviderS3
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderFilter:
		return "filter"
	case ProviderHTTP:
		return "http"
	case ProviderS3:
		return "s3"
	default:
		return "unknown"
	}
}

// A ProviderSpec locates one upstream source of model output. Template
// strings may contain the tokens {yyyymmdd}, {hh}, {fff}, {ff}, {file} and
// {filter}, which ExpandPathTemplate replaces.
type ProviderSpec struct {
	Name string
	Kind ProviderKind

	// BaseURL is the endpoint for Filter and HTTP providers.
	BaseURL string
	// Dir is the directory query parameter template for Filter providers.
	Dir string
	// Path is the file path template for HTTP providers and the object
	// key template for S3 providers.
	Path string
	// Bucket and S3Region identify the object store for S3 providers.
	Bucket   string
	S3Region string
}

// A ProductSpec names one product tier of a model's output and the file
// naming it uses upstream.
type ProductSpec struct {
	ID string
	// File is the remote file name template, e.g.
	// "hrrr.t{hh}z.wrfsfcf{ff}.grib2".
	File string
	// FilterID selects the server-side subsetting endpoint for this
	// product where the provider requires a per-product endpoint.
	FilterID string
}

// A StepRange says forecast hours up to and including UpTo advance in
// increments of Step hours.
type StepRange struct {
	UpTo, Step int
}

// A GridMapping is a projected coordinate reference in CF grid_mapping
// terms. Only Lambert conformal conic is needed by the registered models.
type GridMapping struct {
	Name              string // CF name, e.g. "lambert_conformal_conic"
	StandardParallel1 float64
	StandardParallel2 float64
	LatitudeOfOrigin  float64
	CentralMeridian   float64
	EarthRadius       float64 // meters
}

// Proj4 returns the proj4 description of the mapping.
func (gm *GridMapping) Proj4() string {
	return fmt.Sprintf("+proj=lcc +lat_1=%f +lat_2=%f +lat_0=%f +lon_0=%f +x_0=0 +y_0=0 +a=%f +b=%f +to_meter=1",
		gm.StandardParallel1, gm.StandardParallel2, gm.LatitudeOfOrigin,
		gm.CentralMeridian, gm.EarthRadius, gm.EarthRadius)
}

// A ModelConfig describes the capabilities of one NWP model. ModelConfigs
// are created at startup and never mutated.
type ModelConfig struct {
	ID   string
	Name string

	// Providers in priority order: the first that serves the file wins.
	Providers []ProviderSpec
	// Products this model publishes, in fetch order.
	Products []ProductSpec
	// FieldProduct classifies canonical raw fields into products. Fields
	// not listed use Products[0].
	FieldProduct map[string]string

	ResolutionDeg float64
	RunHours      []int
	// MaxForecastHour applies to run hours listed in ExtendedRunHours
	// (or all run hours when ExtendedRunHours is empty);
	// ShortMaxForecastHour applies to the rest.
	MaxForecastHour      int
	ShortMaxForecastHour int
	ExtendedRunHours     []int
	Steps                []StepRange

	AccumStyle      AccumStyle
	AccumResetHours int
	SnowMaskUnits   SnowMaskUnits

	HasPrecipTypeMasks bool
	HasUpperAir        bool
	FilterSupport      bool

	// FallbackGridMapping is used by the station sampler when a projected
	// dataset carries no grid mapping of its own.
	FallbackGridMapping *GridMapping

	ExcludedVariables []string
	Enabled           bool
	DisplayColor      string

	// AvailabilityDelay is how long after the run time the first output
	// usually appears upstream; the scheduler checks then.
	AvailabilityDelay time.Duration
}

// ValidRunHour reports whether h is a permitted run hour.
func (m *ModelConfig) ValidRunHour(h int) bool {
	for _, rh := range m.RunHours {
		if rh == h {
			return true
		}
	}
	return false
}

// MaxFHFor returns the maximum forecast hour for a run issued at the
// given hour.
func (m *ModelConfig) MaxFHFor(runHour int) int {
	if len(m.ExtendedRunHours) == 0 {
		return m.MaxForecastHour
	}
	for _, h := range m.ExtendedRunHours {
		if h == runHour {
			return m.MaxForecastHour
		}
	}
	if m.ShortMaxForecastHour > 0 {
		return m.ShortMaxForecastHour
	}
	return m.MaxForecastHour
}

// ExpectedForecastHours returns the ascending list of forecast hours the
// run r is expected to produce.
func (m *ModelConfig) ExpectedForecastHours(r RunTime) []int {
	max := m.MaxFHFor(r.Hour())
	hours := []int{0}
	prev := 0
	for _, rng := range m.Steps {
		for fh := prev + rng.Step; fh <= rng.UpTo && fh <= max; fh += rng.Step {
			hours = append(hours, fh)
		}
		if rng.UpTo >= max {
			break
		}
		prev = rng.UpTo
	}
	return hours
}

// ValidForecastHour reports whether fh is one of the hours run r produces.
func (m *ModelConfig) ValidForecastHour(r RunTime, fh int) bool {
	if fh < 0 || fh > m.MaxFHFor(r.Hour()) {
		return false
	}
	for _, h := range m.ExpectedForecastHours(r) {
		if h == fh {
			return true
		}
	}
	return false
}

// LatestRun returns the most recent run whose output should have started
// appearing upstream by now (run time + AvailabilityDelay <= now).
func (m *ModelConfig) LatestRun(now time.Time) RunTime {
	now = now.UTC()
	for back := 0; back < 48; back++ {
		t := now.Add(-time.Duration(back) * time.Hour).Truncate(time.Hour)
		if !m.ValidRunHour(t.Hour()) {
			continue
		}
		if !t.Add(m.AvailabilityDelay).After(now) {
			return RunTime{t}
		}
	}
	// Unreachable for any model with at least one run hour per 48 h.
	return RunTime{now.Truncate(time.Hour)}
}

// ProductFor returns the product tier that serves the canonical raw field.
func (m *ModelConfig) ProductFor(field string) string {
	if p, ok := m.FieldProduct[field]; ok {
		return p
	}
	return m.Products[0].ID
}

// Product returns the ProductSpec with the given id.
func (m *ModelConfig) Product(id string) (ProductSpec, error) {
	for _, p := range m.Products {
		if p.ID == id {
			return p, nil
		}
	}
	return ProductSpec{}, &Error{Kind: KindConfig, Op: "models", Model: m.ID, FH: -1,
		Err: fmt.Errorf("unknown product %q", id)}
}

// Excludes reports whether the model cannot render the given variable.
func (m *ModelConfig) Excludes(variableID string) bool {
	for _, v := range m.ExcludedVariables {
		if v == variableID {
			return true
		}
	}
	return false
}

// AccumBuckets returns the forecast hours whose accumulated-precipitation
// grids sum to the 0..H total, given the model's bucket semantics. For
// rate-style models it returns every expected hour in [0, H] so the caller
// can integrate. H == 0 returns nil: the analysis hour has no
// accumulation.
func (m *ModelConfig) AccumBuckets(r RunTime, H int) []int {
	if H <= 0 {
		return nil
	}
	if m.AccumStyle == AccumRate {
		var hours []int
		for _, fh := range m.ExpectedForecastHours(r) {
			if fh <= H {
				hours = append(hours, fh)
			}
		}
		return hours
	}
	reset := m.AccumResetHours
	if reset <= 0 {
		reset = 6
	}
	var hours []int
	for fh := reset; fh <= H; fh += reset {
		hours = append(hours, fh)
	}
	if H%reset != 0 {
		hours = append(hours, H)
	}
	return hours
}

// ExpandPathTemplate substitutes run, forecast hour, file and filter tokens
// into a provider path or URL template.
func ExpandPathTemplate(tpl string, r RunTime, fh int, prod ProductSpec) string {
	file := prod.File
	if file != "" && strings.Contains(file, "{") {
		file = expandTokens(file, r, fh, "", "")
	}
	return expandTokens(tpl, r, fh, file, prod.FilterID)
}

func expandTokens(tpl string, r RunTime, fh int, file, filterID string) string {
	rep := strings.NewReplacer(
		"{yyyymmdd}", r.UTC().Format("20060102"),
		"{hh}", fmt.Sprintf("%02d", r.Hour()),
		"{fff}", fmt.Sprintf("%03d", fh),
		"{ff}", fmt.Sprintf("%02d", fh),
		"{file}", file,
		"{filter}", filterID,
	)
	return rep.Replace(tpl)
}

// A ModelRegistry is the read-only lookup table of model capabilities.
type ModelRegistry struct {
	models map[string]*ModelConfig
	order  []string
}

// NewModelRegistry builds a registry, rejecting duplicate ids.
func NewModelRegistry(models ...*ModelConfig) (*ModelRegistry, error) {
	reg := &ModelRegistry{models: make(map[string]*ModelConfig)}
	for _, m := range models {
		if m.ID == "" {
			return nil, Errorf(KindConfig, "models: model with empty id")
		}
		if _, ok := reg.models[m.ID]; ok {
			return nil, Errorf(KindConfig, "models: duplicate model id %q", m.ID)
		}
		if len(m.Products) == 0 {
			return nil, Errorf(KindConfig, "models: model %s has no products", m.ID)
		}
		if len(m.RunHours) == 0 {
			return nil, Errorf(KindConfig, "models: model %s has no run hours", m.ID)
		}
		sort.Ints(m.RunHours)
		reg.models[m.ID] = m
		reg.order = append(reg.order, m.ID)
	}
	return reg, nil
}

// Get returns the configuration for a model id.
func (reg *ModelRegistry) Get(id string) (*ModelConfig, error) {
	m, ok := reg.models[id]
	if !ok {
		return nil, Errorf(KindConfig, "models: unknown model %q", id)
	}
	return m, nil
}

// ListEnabled returns the enabled models in registration order.
func (reg *ModelRegistry) ListEnabled() []*ModelConfig {
	var out []*ModelConfig
	for _, id := range reg.order {
		if m := reg.models[id]; m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// DefaultModels returns the standard model table: a global 0.25°
// deterministic model, an AI-driven global model on the same grid, and a
// convection-allowing ~3 km regional model.
func DefaultModels() *ModelRegistry {
	global := &ModelConfig{
		ID:   "global025",
		Name: "Global 0.25°",
		Providers: []ProviderSpec{
			{
				Name:    "nomads-filter",
				Kind:    ProviderFilter,
				BaseURL: "https://nomads.ncep.noaa.gov/cgi-bin/filter_{filter}.pl",
				Dir:     "/gfs.{yyyymmdd}/{hh}/atmos",
			},
			{
				Name:     "aws-open-data",
				Kind:     ProviderS3,
				Bucket:   "noaa-gfs-bdp-pds",
				S3Region: "us-east-1",
				Path:     "gfs.{yyyymmdd}/{hh}/atmos/{file}",
			},
			{
				Name:    "aws-https",
				Kind:    ProviderHTTP,
				BaseURL: "https://noaa-gfs-bdp-pds.s3.amazonaws.com",
				Path:    "gfs.{yyyymmdd}/{hh}/atmos/{file}",
			},
		},
		Products: []ProductSpec{
			{ID: "pgrb2", File: "gfs.t{hh}z.pgrb2.0p25.f{fff}", FilterID: "gfs_0p25"},
		},
		ResolutionDeg:      0.25,
		RunHours:           []int{0, 6, 12, 18},
		MaxForecastHour:    384,
		Steps:              []StepRange{{120, 1}, {240, 3}, {384, 6}},
		AccumStyle:         AccumBucket,
		AccumResetHours:    6,
		SnowMaskUnits:      SnowMaskAuto,
		HasPrecipTypeMasks: true,
		HasUpperAir:        true,
		FilterSupport:      true,
		Enabled:            true,
		DisplayColor:       "#005a9c",
		AvailabilityDelay:  3*time.Hour + 30*time.Minute,
	}

	ai := &ModelConfig{
		ID:   "aifs025",
		Name: "AI Global 0.25°",
		Providers: []ProviderSpec{
			{
				Name:     "aws-open-data",
				Kind:     ProviderS3,
				Bucket:   "nwcast-aifs-mirror",
				S3Region: "us-west-2",
				Path:     "aifs.{yyyymmdd}/{hh}/{file}",
			},
			{
				Name:    "mirror-https",
				Kind:    ProviderHTTP,
				BaseURL: "https://data.nwcast.org/aifs",
				Path:    "aifs.{yyyymmdd}/{hh}/{file}",
			},
		},
		Products: []ProductSpec{
			{ID: "pgrb2", File: "aifs.t{hh}z.pgrb2.0p25.f{fff}"},
		},
		ResolutionDeg:      0.25,
		RunHours:           []int{0, 6, 12, 18},
		MaxForecastHour:    240,
		Steps:              []StepRange{{240, 6}},
		AccumStyle:         AccumBucket,
		AccumResetHours:    6,
		SnowMaskUnits:      SnowMaskAuto,
		HasPrecipTypeMasks: false,
		HasUpperAir:        true,
		FilterSupport:      false,
		ExcludedVariables:  []string{"snowfall", "radar"},
		Enabled:            true,
		DisplayColor:       "#7b2d8e",
		AvailabilityDelay:  4 * time.Hour,
	}

	regional := &ModelConfig{
		ID:   "hrrrnw",
		Name: "HRRR Northwest 3 km",
		Providers: []ProviderSpec{
			{
				Name:    "nomads-filter",
				Kind:    ProviderFilter,
				BaseURL: "https://nomads.ncep.noaa.gov/cgi-bin/filter_{filter}.pl",
				Dir:     "/hrrr.{yyyymmdd}/conus",
			},
			{
				Name:     "aws-open-data",
				Kind:     ProviderS3,
				Bucket:   "noaa-hrrr-bdp-pds",
				S3Region: "us-east-1",
				Path:     "hrrr.{yyyymmdd}/conus/{file}",
			},
			{
				Name:    "aws-https",
				Kind:    ProviderHTTP,
				BaseURL: "https://noaa-hrrr-bdp-pds.s3.amazonaws.com",
				Path:    "hrrr.{yyyymmdd}/conus/{file}",
			},
		},
		Products: []ProductSpec{
			{ID: "sfc", File: "hrrr.t{hh}z.wrfsfcf{ff}.grib2", FilterID: "hrrr_2d"},
			{ID: "prs", File: "hrrr.t{hh}z.wrfprsf{ff}.grib2", FilterID: "hrrr_3d"},
		},
		FieldProduct: map[string]string{
			FieldTMP850:  "prs",
			FieldUGRD850: "prs",
			FieldVGRD850: "prs",
		},
		ResolutionDeg:        0.03,
		RunHours:             []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23},
		MaxForecastHour:      48,
		ShortMaxForecastHour: 18,
		ExtendedRunHours:     []int{0, 6, 12, 18},
		Steps:                []StepRange{{48, 1}},
		AccumStyle:           AccumBucket,
		AccumResetHours:      1,
		SnowMaskUnits:        SnowMaskFraction,
		HasPrecipTypeMasks:   true,
		HasUpperAir:          true,
		FilterSupport:        true,
		FallbackGridMapping: &GridMapping{
			Name:              "lambert_conformal_conic",
			StandardParallel1: 38.5,
			StandardParallel2: 38.5,
			LatitudeOfOrigin:  38.5,
			CentralMeridian:   -97.5,
			EarthRadius:       6371229,
		},
		Enabled:           true,
		DisplayColor:      "#c05020",
		AvailabilityDelay: 55 * time.Minute,
	}

	reg, err := NewModelRegistry(global, ai, regional)
	if err != nil {
		// The static table is validated by tests; this cannot happen at
		// runtime.
		panic(err)
	}
	return reg
}
