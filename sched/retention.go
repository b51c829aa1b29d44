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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nwcast/wxmaps/mapgen"
)

// RetainArtifacts deletes published maps belonging to runs older than the
// newest keep runs of each model. Runs named in protected (keys of the form
// model+"_"+stamp) survive regardless of age; the scheduler protects runs
// it is still working. File names that do not parse as artifacts are left
// alone.
func RetainArtifacts(dir string, keep int, protected map[string]bool, log logrus.FieldLogger) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("sched: listing publish dir: %v", err)
	}

	// Artifact file names are the only record of what has been published,
	// so retention works entirely from parsing them back.
	type runKey struct{ model, stamp string }
	files := make(map[runKey][]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		model, run, _, _, err := mapgen.ParseArtifactName(e.Name())
		if err != nil {
			continue
		}
		k := runKey{model, run.Stamp()}
		files[k] = append(files[k], e.Name())
	}

	stampsByModel := make(map[string][]string)
	for k := range files {
		stampsByModel[k.model] = append(stampsByModel[k.model], k.stamp)
	}
	for model, stamps := range stampsByModel {
		sort.Strings(stamps) // the stamp form sorts chronologically
		if len(stamps) <= keep {
			continue
		}
		for _, stamp := range stamps[:len(stamps)-keep] {
			if protected[model+"_"+stamp] {
				continue
			}
			names := files[runKey{model, stamp}]
			if log != nil {
				log.WithFields(logrus.Fields{
					"model": model, "run": stamp, "artifacts": len(names),
				}).Info("retention: deleting published run")
			}
			for _, name := range names {
				if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("sched: deleting %s: %v", name, err)
				}
			}
		}
	}
	return nil
}
