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
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRetainArtifacts(t *testing.T) {
	dir := t.TempDir()
	stamps := []string{"20250101_00", "20250101_06", "20250101_12", "20250101_18", "20250102_00", "20250102_06"}
	for _, s := range stamps {
		touch(t, dir, "global025_"+s+"_temp2m_000.png")
		touch(t, dir, "global025_"+s+"_temp2m_006.png")
	}
	// A second model's runs count separately.
	touch(t, dir, "hrrrnw_20250102_00_temp2m_000.png")
	// Files that are not artifacts are never retention's business.
	touch(t, dir, "notes.txt")

	if err := RetainArtifacts(dir, 4, nil, quietLogger()); err != nil {
		t.Fatal(err)
	}
	got := listDir(t, dir)
	want := []string{
		"global025_20250101_12_temp2m_000.png",
		"global025_20250101_12_temp2m_006.png",
		"global025_20250101_18_temp2m_000.png",
		"global025_20250101_18_temp2m_006.png",
		"global025_20250102_00_temp2m_000.png",
		"global025_20250102_00_temp2m_006.png",
		"global025_20250102_06_temp2m_000.png",
		"global025_20250102_06_temp2m_006.png",
		"hrrrnw_20250102_00_temp2m_000.png",
		"notes.txt",
	}
	if len(got) != len(want) {
		t.Fatalf("after retention: %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after retention: %v\nwant %v", got, want)
		}
	}

	// Retention is idempotent.
	if err := RetainArtifacts(dir, 4, nil, quietLogger()); err != nil {
		t.Fatal(err)
	}
	if again := listDir(t, dir); len(again) != len(want) {
		t.Errorf("second retention changed the directory: %v", again)
	}
}

func TestRetainArtifactsProtectsActiveRuns(t *testing.T) {
	dir := t.TempDir()
	stamps := []string{"20250101_00", "20250101_06", "20250101_12"}
	for _, s := range stamps {
		touch(t, dir, "global025_"+s+"_temp2m_000.png")
	}
	protected := map[string]bool{"global025_20250101_00": true}
	if err := RetainArtifacts(dir, 2, protected, quietLogger()); err != nil {
		t.Fatal(err)
	}
	got := listDir(t, dir)
	want := []string{
		"global025_20250101_00_temp2m_000.png",
		"global025_20250101_06_temp2m_000.png",
		"global025_20250101_12_temp2m_000.png",
	}
	if len(got) != len(want) {
		t.Fatalf("protected run was deleted: %v", got)
	}
}
