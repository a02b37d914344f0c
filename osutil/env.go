// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */


package osutil

import (
	"os"
	"strconv"
)

// GetenvBool reports whether key holds a true value as understood by
// strconv.ParseBool ("1", "t", "true"...). Unset or unparsable values
// give the optional default, or false.
func GetenvBool(key string, dflt ...bool) bool {
	fallback := len(dflt) > 0 && dflt[0]
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

// GetenvInt returns the integer value of key, or dflt when it is unset
// or not a number.
func GetenvInt(key string, dflt int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return dflt
	}
	return n
}
