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

package hpd

import (
	"github.com/snapcore/dplink/osutil/udev/netlink"
	"github.com/snapcore/dplink/testutil"
)

type UEventConn = ueventConn

func MockUEventConn(f func() UEventConn) (restore func()) {
	return testutil.Mock(&newUEventConn, f)
}

func (m *Monitor) Connector() string {
	return m.connector
}

var DRMHotplugRules = drmHotplugRules

func (m *Monitor) Events() chan netlink.UEvent {
	return m.events
}
