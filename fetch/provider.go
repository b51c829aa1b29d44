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
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/nwcast/wxmaps"
	"github.com/nwcast/wxmaps/internal/hash"
)

// filterParam maps a canonical field name to the variable and level toggles
// of a server-side subsetting endpoint.
type filterParam struct {
	Var   string
	Level string
}

// filterParams covers every canonical field the variable registry can ask
// for. A field missing here cannot be requested through a filter endpoint
// and forces a full-product download.
var filterParams = map[string]filterParam{
	wxmaps.FieldTMP2M:   {"TMP", "2_m_above_ground"},
	wxmaps.FieldDPT2M:   {"DPT", "2_m_above_ground"},
	wxmaps.FieldUGRD10M: {"UGRD", "10_m_above_ground"},
	wxmaps.FieldVGRD10M: {"VGRD", "10_m_above_ground"},
	wxmaps.FieldGUST:    {"GUST", "surface"},
	wxmaps.FieldPRMSL:   {"PRMSL", "mean_sea_level"},
	wxmaps.FieldTP:      {"APCP", "surface"},
	wxmaps.FieldPRATE:   {"PRATE", "surface"},
	wxmaps.FieldCSNOW:   {"CSNOW", "surface"},
	wxmaps.FieldREFC:    {"REFC", "entire_atmosphere"},
	wxmaps.FieldTCDC:    {"TCDC", "entire_atmosphere"},
	wxmaps.FieldCAPE:    {"CAPE", "surface"},
	wxmaps.FieldTMP850:  {"TMP", "850_mb"},
	wxmaps.FieldUGRD850: {"UGRD", "850_mb"},
	wxmaps.FieldVGRD850: {"VGRD", "850_mb"},
}

// filterRequest is the canonical form of one server-side subset request.
// Its hash is the cache filter signature, so field order must not matter.
type filterRequest struct {
	Fields []string
	Region wxmaps.Region
}

// FilterSignature returns the 8-character signature distinguishing this
// subset request from other subsets and from full downloads.
func FilterSignature(fields []string, region wxmaps.Region) string {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	return hash.Short(filterRequest{Fields: sorted, Region: region})
}

// filterable reports whether every requested field has a filter toggle.
func filterable(fields []string) bool {
	for _, f := range fields {
		if _, ok := filterParams[f]; !ok {
			return false
		}
	}
	return true
}

// filterURL builds the subsetting-endpoint URL encoding the field list,
// levels and region bbox as query parameters.
func filterURL(p wxmaps.ProviderSpec, m *wxmaps.ModelConfig, prod wxmaps.ProductSpec,
	run wxmaps.RunTime, fh int, fields []string, region wxmaps.Region) (string, error) {
	base := wxmaps.ExpandPathTemplate(p.BaseURL, run, fh, prod)
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("fetch: parsing filter endpoint %q: %v", p.BaseURL, err)
	}
	q := url.Values{}
	q.Set("dir", wxmaps.ExpandPathTemplate(p.Dir, run, fh, prod))
	q.Set("file", wxmaps.ExpandPathTemplate(prod.File, run, fh, prod))
	levels := make(map[string]bool)
	vars := make(map[string]bool)
	for _, f := range fields {
		fp, ok := filterParams[f]
		if !ok {
			return "", wxmaps.Errorf(wxmaps.KindConfig, "fetch: field %s has no filter mapping", f)
		}
		vars[fp.Var] = true
		levels[fp.Level] = true
	}
	for _, v := range sortedKeys(vars) {
		q.Set("var_"+v, "on")
	}
	for _, l := range sortedKeys(levels) {
		q.Set("lev_"+l, "on")
	}
	q.Set("subregion", "")
	q.Set("leftlon", fmt.Sprintf("%g", region.West))
	q.Set("rightlon", fmt.Sprintf("%g", region.East))
	q.Set("toplat", fmt.Sprintf("%g", region.North))
	q.Set("bottomlat", fmt.Sprintf("%g", region.South))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// mirrorURL builds the full-product URL for a plain HTTPS mirror.
func mirrorURL(p wxmaps.ProviderSpec, run wxmaps.RunTime, fh int, prod wxmaps.ProductSpec) string {
	base := strings.TrimSuffix(p.BaseURL, "/")
	return base + "/" + wxmaps.ExpandPathTemplate(p.Path, run, fh, prod)
}

// objectKey builds the object-store key for an S3 mirror.
func objectKey(p wxmaps.ProviderSpec, run wxmaps.RunTime, fh int, prod wxmaps.ProductSpec) string {
	return wxmaps.ExpandPathTemplate(p.Path, run, fh, prod)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
