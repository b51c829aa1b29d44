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

// Package mem sizes the worker pool from the machine's memory and provides
// the reclaim hint the scheduler issues between units of work. Decoded GRIB
// grids dominate the process footprint, so concurrency is bounded by RAM
// rather than CPU count.
package mem

import (
	"runtime/debug"

	gopsmem "github.com/shirou/gopsutil/v3/mem"
)

const (
	bytesPerGB = 1 << 30

	// reservedGB is memory assumed spoken for by the OS and the rest of
	// the process; workerGB is the budget for one concurrent hour of
	// fetch+render work.
	reservedGB = 4
	workerGB   = 4

	// LowMemoryBytes is the available-memory floor below which the pool
	// degrades to a single worker regardless of total RAM.
	LowMemoryBytes = 2 * bytesPerGB
)

// Workers computes the pool size from the given memory readings, clamped to
// [1, maxWorkers].
func Workers(totalBytes, availableBytes uint64, maxWorkers int) int {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if availableBytes < LowMemoryBytes {
		return 1
	}
	n := (int(totalBytes/bytesPerGB) - reservedGB) / workerGB
	if n < 1 {
		n = 1
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// PoolSize reads the machine's memory and returns the worker-pool size. A
// failed reading falls back to a single worker.
func PoolSize(maxWorkers int) int {
	vm, err := gopsmem.VirtualMemory()
	if err != nil {
		return 1
	}
	return Workers(vm.Total, vm.Available, maxWorkers)
}

// AvailableBytes returns currently available memory, or 0 when the reading
// fails.
func AvailableBytes() uint64 {
	vm, err := gopsmem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.Available
}

// Reclaim returns freed heap to the OS. The scheduler calls it between
// forecast hours so grid buffers released by a finished task do not linger
// as resident pages while the next download runs.
func Reclaim() {
	debug.FreeOSMemory()
}
