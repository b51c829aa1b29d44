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
)

// Canonical raw field names. These are the only variable names that appear
// in a GridDataset returned by the fetcher; GRIB parameter identities are
// renamed to these at the decode boundary.
const (
	FieldTMP2M   = "tmp2m"
	FieldDPT2M   = "dpt2m"
	FieldUGRD10M = "ugrd10m"
	FieldVGRD10M = "vgrd10m"
	FieldGUST    = "gust"
	FieldPRMSL   = "prmsl"
	FieldTP      = "tp"
	FieldPRATE   = "prate"
	FieldCSNOW   = "csnow"
	FieldREFC    = "refc"
	FieldTCDC    = "tcdc"
	FieldCAPE    = "cape"
	FieldTMP850  = "tmp_850"
	FieldUGRD850 = "ugrd_850"
	FieldVGRD850 = "vgrd_850"
)

// Derived field names produced by the derivation layer.
const (
	DerivedTPTotal   = "tp_total"
	DerivedSnowTotal = "tp_snow_total"
)

// VariableRequirements lists what one render target needs from the fetcher
// and the derivation layer.
type VariableRequirements struct {
	ID string
	// Name and Units are display metadata for legends.
	Name  string
	Units string

	// RawFields must all be present after the fetch; OptionalFields are
	// requested but their absence is tolerated.
	RawFields      []string
	OptionalFields []string
	// DerivedFields are produced by the derivation layer before
	// rendering.
	DerivedFields []string

	NeedsAccumulation bool
	NeedsPrecipType   bool
	NeedsSnowTotal    bool
	NeedsUpperAir     bool
}

// A VariableRegistry is the read-only lookup table of render targets.
type VariableRegistry struct {
	vars  map[string]*VariableRequirements
	order []string
}

// NewVariableRegistry builds a registry, rejecting duplicate ids.
func NewVariableRegistry(vars ...*VariableRequirements) (*VariableRegistry, error) {
	reg := &VariableRegistry{vars: make(map[string]*VariableRequirements)}
	for _, v := range vars {
		if v.ID == "" {
			return nil, Errorf(KindConfig, "variables: variable with empty id")
		}
		if _, ok := reg.vars[v.ID]; ok {
			return nil, Errorf(KindConfig, "variables: duplicate variable id %q", v.ID)
		}
		reg.vars[v.ID] = v
		reg.order = append(reg.order, v.ID)
	}
	return reg, nil
}

// All returns every registered variable id in registration order.
func (reg *VariableRegistry) All() []string {
	out := make([]string, len(reg.order))
	copy(out, reg.order)
	return out
}

// RequirementsFor returns the requirements for variableID, rejecting
// variables the model cannot support.
func (reg *VariableRegistry) RequirementsFor(variableID string, m *ModelConfig) (*VariableRequirements, error) {
	v, ok := reg.vars[variableID]
	if !ok {
		return nil, Errorf(KindConfig, "variables: unknown variable %q", variableID)
	}
	if m != nil {
		if m.Excludes(variableID) {
			return nil, &Error{Kind: KindConfig, Op: "variables", Model: m.ID, FH: -1, Variable: variableID,
				Err: fmt.Errorf("variable %q is excluded for model %s", variableID, m.ID)}
		}
		if v.NeedsPrecipType && !m.HasPrecipTypeMasks {
			return nil, &Error{Kind: KindConfig, Op: "variables", Model: m.ID, FH: -1, Variable: variableID,
				Err: fmt.Errorf("variable %q needs precipitation-type masks, which model %s lacks", variableID, m.ID)}
		}
		if v.NeedsUpperAir && !m.HasUpperAir {
			return nil, &Error{Kind: KindConfig, Op: "variables", Model: m.ID, FH: -1, Variable: variableID,
				Err: fmt.Errorf("variable %q needs upper-air levels, which model %s lacks", variableID, m.ID)}
		}
	}
	return v, nil
}

// Supported filters variableIDs down to the ones the model can render,
// preserving order. The second return lists the rejected ids with reasons,
// for the scheduler to log.
func (reg *VariableRegistry) Supported(variableIDs []string, m *ModelConfig) (ok []string, rejected map[string]error) {
	rejected = make(map[string]error)
	for _, id := range variableIDs {
		if _, err := reg.RequirementsFor(id, m); err != nil {
			rejected[id] = err
			continue
		}
		ok = append(ok, id)
	}
	return ok, rejected
}

// RawFieldUnion collects the union of required and optional raw fields
// needed to render all the given variables with model m, so the fetcher can
// issue one request per (run, forecast hour, product) covering everything.
// The returned slices are sorted for stable request signatures.
func (reg *VariableRegistry) RawFieldUnion(variableIDs []string, m *ModelConfig) (required, optional []string, err error) {
	reqSet := make(map[string]bool)
	optSet := make(map[string]bool)
	for _, id := range variableIDs {
		v, err := reg.RequirementsFor(id, m)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range v.RawFields {
			reqSet[f] = true
		}
		for _, f := range v.OptionalFields {
			optSet[f] = true
		}
	}
	for f := range optSet {
		if reqSet[f] {
			delete(optSet, f)
		}
	}
	for f := range reqSet {
		required = append(required, f)
	}
	for f := range optSet {
		optional = append(optional, f)
	}
	sort.Strings(required)
	sort.Strings(optional)
	return required, optional, nil
}

// DefaultVariables returns the standard render-target table.
func DefaultVariables() *VariableRegistry {
	vars := []*VariableRequirements{
		{
			ID: "temp2m", Name: "2 m Temperature", Units: "°F",
			RawFields: []string{FieldTMP2M},
		},
		{
			ID: "dewpoint2m", Name: "2 m Dew Point", Units: "°F",
			RawFields: []string{FieldDPT2M},
		},
		{
			ID: "wind10m", Name: "10 m Wind", Units: "mph",
			RawFields: []string{FieldUGRD10M, FieldVGRD10M},
		},
		{
			ID: "gust", Name: "Wind Gust", Units: "mph",
			RawFields: []string{FieldGUST},
		},
		{
			ID: "precip", Name: "Total Precipitation", Units: "in",
			RawFields:         []string{FieldTP},
			DerivedFields:     []string{DerivedTPTotal},
			NeedsAccumulation: true,
		},
		{
			ID: "precip_rate", Name: "Precipitation Rate", Units: "in/hr",
			RawFields: []string{FieldPRATE},
		},
		{
			ID: "snowfall", Name: "Total Snowfall", Units: "in",
			RawFields:         []string{FieldTP, FieldCSNOW},
			DerivedFields:     []string{DerivedSnowTotal},
			NeedsAccumulation: true,
			NeedsPrecipType:   true,
			NeedsSnowTotal:    true,
		},
		{
			ID: "mslp_precip", Name: "MSLP and Precipitation", Units: "hPa, in",
			RawFields:         []string{FieldPRMSL, FieldTP},
			DerivedFields:     []string{DerivedTPTotal},
			NeedsAccumulation: true,
		},
		{
			ID: "t850_wind_mslp", Name: "850 hPa Temperature, Wind, MSLP", Units: "°C",
			RawFields:     []string{FieldTMP850, FieldUGRD850, FieldVGRD850, FieldPRMSL},
			NeedsUpperAir: true,
		},
		{
			ID: "radar", Name: "Simulated Reflectivity", Units: "dBZ",
			RawFields: []string{FieldREFC},
		},
		{
			ID: "cloudcover", Name: "Cloud Cover", Units: "%",
			RawFields: []string{FieldTCDC},
		},
		{
			ID: "cape", Name: "CAPE", Units: "J/kg",
			RawFields: []string{FieldCAPE},
		},
	}
	reg, err := NewVariableRegistry(vars...)
	if err != nil {
		// The static table is validated by tests; this cannot happen at
		// runtime.
		panic(err)
	}
	return reg
}
