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

package mapgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nwcast/wxmaps"
)

// ArtifactName returns the publish file name for one rendered map:
// {model_id}_{YYYYMMDD}_{HH}_{variable_id}_{FFF}.png. The name is the only
// record of what an artifact contains; there is no side-band database, so
// ParseArtifactName must invert this exactly.
func ArtifactName(modelID string, run wxmaps.RunTime, variableID string, fh int) string {
	return fmt.Sprintf("%s_%s_%s_%03d.png", modelID, run.Stamp(), variableID, fh)
}

// ParseArtifactName decomposes a publish file name back into its tuple.
// Model ids carry no underscores; variable ids may, so the variable is
// whatever sits between the fixed-width run stamp and the forecast hour.
func ParseArtifactName(name string) (modelID string, run wxmaps.RunTime, variableID string, fh int, err error) {
	base, ok := strings.CutSuffix(name, ".png")
	if !ok {
		err = wxmaps.Errorf(wxmaps.KindConfig, "mapgen: artifact %q is not a .png name", name)
		return
	}
	parts := strings.Split(base, "_")
	if len(parts) < 5 {
		err = wxmaps.Errorf(wxmaps.KindConfig, "mapgen: artifact %q has too few fields", name)
		return
	}
	modelID = parts[0]
	run, err = wxmaps.ParseRunStamp(parts[1] + "_" + parts[2])
	if err != nil {
		err = wxmaps.Errorf(wxmaps.KindConfig, "mapgen: artifact %q: %v", name, err)
		return
	}
	fffStr := parts[len(parts)-1]
	if len(fffStr) != 3 {
		err = wxmaps.Errorf(wxmaps.KindConfig, "mapgen: artifact %q: forecast hour %q is not zero-padded to 3", name, fffStr)
		return
	}
	fh, err = strconv.Atoi(fffStr)
	if err != nil || fh < 0 {
		err = wxmaps.Errorf(wxmaps.KindConfig, "mapgen: artifact %q: bad forecast hour %q", name, fffStr)
		return
	}
	variableID = strings.Join(parts[3:len(parts)-1], "_")
	if modelID == "" || variableID == "" {
		err = wxmaps.Errorf(wxmaps.KindConfig, "mapgen: artifact %q has empty fields", name)
	}
	return
}
