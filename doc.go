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

// Package wxmaps holds the core data model for the WxMaps forecast-map
// production pipeline: the model and variable registries, run-time and
// forecast-hour arithmetic, the GridDataset container that carries decoded
// model fields between the fetcher and the map generator, the derived-field
// math (precipitation accumulation, snowfall, composites), and the surface
// station catalog with its grid samplers.
//
// The pipeline itself lives in the subpackages: gribcache (immutable
// content-addressed GRIB store), fetch (provider adapters and dataset
// assembly), mapgen (PNG rendering and publishing), sched (the progressive
// run orchestrator) and wxmaputil (configuration and commands).
package wxmaps

// Version is the WxMaps version number.
const Version = "1.4.2"
