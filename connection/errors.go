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

package connection

import (
	"errors"
)

var (
	ErrNotConfigured    = errors.New("link is not configured")
	ErrAlreadyConnected = errors.New("sink is already connected")
	ErrNotReady         = errors.New("link is not ready")
	ErrStreamsActive    = errors.New("streams are still enabled")
	ErrAborted          = errors.New("connection aborted")
	ErrNotifyTimeout    = errors.New("notification was not acknowledged")
	ErrStreamLimit      = errors.New("no such stream in the current mode")
	ErrPoorConnection   = errors.New("poor connection")
	ErrStreamNotEnabled = errors.New("stream is not enabled")
)

// errNoDownstream is returned by a branch device with nothing plugged
// into it.
var errNoDownstream = errors.New("no downstream device connected")
