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

package main

import (
	"os"
	"time"

	"github.com/snapcore/dplink/notify/dbusnotify"
	"github.com/snapcore/dplink/testutil"
)

var (
	Run     = run
	Backend = backend
)

func MockSignalNotify(f func(c chan<- os.Signal, sig ...os.Signal)) (restore func()) {
	return testutil.Mock(&signalNotify, f)
}

func MockWatchdogEnabled(f func(unset bool) (time.Duration, error)) (restore func()) {
	return testutil.Mock(&watchdogEnabled, f)
}

func MockSdNotify(f func(unset bool, state string) (bool, error)) (restore func()) {
	return testutil.Mock(&sdNotify, f)
}

func MockFindConnector(f func() (string, error)) (restore func()) {
	return testutil.Mock(&findConnector, f)
}

func MockConnectDesktopBus(f func() (*dbusnotify.Notifier, error)) (restore func()) {
	return testutil.Mock(&connectDesktopBus, f)
}
