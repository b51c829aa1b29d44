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
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pipeline errors so that the scheduler can decide
// whether a failure is retryable, fatal, or merely advisory.
type Kind int

const (
	// KindUnknown is the zero Kind; it is never assigned deliberately.
	KindUnknown Kind = iota

	// KindConfig marks registry lookups for unknown models or variables
	// and invalid run parameters. Fatal at startup, logged and skipped
	// at runtime.
	KindConfig

	// KindFetch marks HTTP and network failures that survived all
	// retries and providers. Recoverable by a later polling cycle.
	KindFetch

	// KindDataDecode marks GRIB parse failures. The offending cache file
	// is presumed corrupt and deleted.
	KindDataDecode

	// KindMissingField marks a field absent from successfully decoded
	// data. Treated like a fetch failure: the field may appear once the
	// provider finishes uploading the hour.
	KindMissingField

	// KindRegionMismatch marks a region subset that produced an empty
	// grid. This is a configuration bug and is fatal for the fetch.
	KindRegionMismatch

	// KindRender marks map rendering failures. Logged; not retried
	// within the run.
	KindRender

	// KindCancelled marks work abandoned because shutdown was observed.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindFetch:
		return "fetch"
	case KindDataDecode:
		return "decode"
	case KindMissingField:
		return "missing_field"
	case KindRegionMismatch:
		return "region_mismatch"
	case KindRender:
		return "render"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// An Error is a classified pipeline error carrying the generation context
// it occurred in. The zero values of Model, Variable and FH mean
// "not applicable"; FH uses -1 for that because hour zero is meaningful.
type Error struct {
	Kind     Kind
	Op       string // what was being attempted, e.g. "fetch: downloading sfc product"
	Model    string
	Run      RunTime
	FH       int
	Variable string
	Err      error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Model != "" {
		c := e.Model
		if !e.Run.IsZero() {
			c += " " + e.Run.Stamp()
		}
		if e.FH >= 0 {
			c += fmt.Sprintf(" f%03d", e.FH)
		}
		if e.Variable != "" {
			c += " " + e.Variable
		}
		parts = append(parts, c)
	}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return e.Kind.String()
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf creates a classified error without generation context.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, FH: -1, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of err. Context cancellation maps to
// KindCancelled; unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// IsRetryable reports whether a later polling cycle within the same run
// window may succeed where this error failed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindFetch, KindMissingField, KindDataDecode:
		return true
	}
	return false
}
