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

// Command wxmaps is the command-line interface for the WxMaps forecast map
// pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/nwcast/wxmaps/wxmaputil"
)

func main() {
	if err := wxmaputil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
