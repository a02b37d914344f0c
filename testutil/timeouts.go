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


package testutil

import (
	"runtime"
	"time"

	"github.com/snapcore/dplink/osutil"
)

// ScaleEnv overrides the timeout multiplier used by HostScaledTimeout.
const ScaleEnv = "DPLINK_TEST_SCALE"

var runtimeGOARCH = runtime.GOARCH

func hostScale() int {
	if n := osutil.GetenvInt(ScaleEnv, 0); n > 0 {
		return n
	}
	switch {
	case osutil.GetenvBool("GO_TEST_RACE"):
		// race builds run the sim and dispatcher goroutines several times slower
		return 5
	case runtimeGOARCH == "riscv64":
		return 6
	}
	return 1
}

// HostScaledTimeout stretches t for slow test hosts, so notification and
// settle deadlines in tests do not flake.
func HostScaledTimeout(t time.Duration) time.Duration {
	return t * time.Duration(hostScale())
}
