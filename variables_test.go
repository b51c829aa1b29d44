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
	"reflect"
	"testing"
)

func TestRequirementsForGating(t *testing.T) {
	reg := DefaultVariables()

	noMasks := &ModelConfig{ID: "m", HasUpperAir: true}
	if _, err := reg.RequirementsFor("snowfall", noMasks); KindOf(err) != KindConfig {
		t.Errorf("snowfall without precip-type masks: err = %v, want a config error", err)
	}
	noUpper := &ModelConfig{ID: "m", HasPrecipTypeMasks: true}
	if _, err := reg.RequirementsFor("t850_wind_mslp", noUpper); KindOf(err) != KindConfig {
		t.Errorf("t850 without upper air: err = %v, want a config error", err)
	}
	excluding := &ModelConfig{ID: "m", HasUpperAir: true, HasPrecipTypeMasks: true,
		ExcludedVariables: []string{"radar"}}
	if _, err := reg.RequirementsFor("radar", excluding); KindOf(err) != KindConfig {
		t.Errorf("excluded variable: err = %v, want a config error", err)
	}
	if _, err := reg.RequirementsFor("temp2m", excluding); err != nil {
		t.Errorf("temp2m rejected: %v", err)
	}
	if _, err := reg.RequirementsFor("no_such_variable", nil); KindOf(err) != KindConfig {
		t.Errorf("unknown variable: err = %v, want a config error", err)
	}
}

func TestSupportedFiltersPerModel(t *testing.T) {
	reg := DefaultVariables()
	ai, err := DefaultModels().Get("aifs025")
	if err != nil {
		t.Fatal(err)
	}
	ok, rejected := reg.Supported(reg.All(), ai)
	if len(ok)+len(rejected) != len(reg.All()) {
		t.Fatalf("partition broken: %d ok + %d rejected != %d", len(ok), len(rejected), len(reg.All()))
	}
	for _, id := range []string{"snowfall", "radar"} {
		if _, isRejected := rejected[id]; !isRejected {
			t.Errorf("%s should be rejected for aifs025", id)
		}
	}
	for _, id := range ok {
		if id == "snowfall" || id == "radar" {
			t.Errorf("%s appeared in the supported list", id)
		}
	}
}

func TestRawFieldUnion(t *testing.T) {
	reg := DefaultVariables()
	m := &ModelConfig{ID: "m", HasUpperAir: true, HasPrecipTypeMasks: true}

	// mslp_precip and precip share the tp field; the union must not
	// repeat it and must come back sorted.
	required, optional, err := reg.RawFieldUnion([]string{"mslp_precip", "precip", "wind10m"}, m)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{FieldPRMSL, FieldTP, FieldUGRD10M, FieldVGRD10M}
	if !reflect.DeepEqual(required, want) {
		t.Errorf("required = %v, want %v", required, want)
	}
	if len(optional) != 0 {
		t.Errorf("optional = %v, want none", optional)
	}

	if _, _, err := reg.RawFieldUnion([]string{"temp2m", "no_such_variable"}, m); err == nil {
		t.Error("unknown variable accepted in union")
	}
}

func TestNewVariableRegistryRejectsDuplicates(t *testing.T) {
	v := &VariableRequirements{ID: "x", RawFields: []string{FieldTMP2M}}
	if _, err := NewVariableRegistry(v, v); KindOf(err) != KindConfig {
		t.Errorf("duplicate id error = %v, want a config error", err)
	}
	if _, err := NewVariableRegistry(&VariableRequirements{}); KindOf(err) != KindConfig {
		t.Errorf("empty id error = %v, want a config error", err)
	}
}
