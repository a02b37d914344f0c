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

package netlink

import (
	"fmt"
	"math/bits"
	"os"

	"golang.org/x/sys/unix"
)

var stopperSelectTimeout = func() *unix.Timeval {
	return nil
}

// RawSockStopper returns a pair of functions to wait on a raw socket
// until it is readable or stopped. readableOrStop reports false once stop
// has been called.
func RawSockStopper(fd int) (readableOrStop func() (bool, error), stop func(), err error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, nil, err
	}

	stopR, stopW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}

	// both stopR and stopW must be kept alive otherwise the corresponding
	// file descriptors will get closed
	readableOrStop = func() (bool, error) {
		return stopperSelectReadable(fd, int(stopR.Fd()))
	}
	stop = func() {
		stopW.Write([]byte{0})
	}
	return readableOrStop, stop, nil
}

func stopperSelectReadable(fd, stopFd int) (bool, error) {
	maxFd := fd
	if maxFd < stopFd {
		maxFd = stopFd
	}
	if maxFd >= 1024 {
		return false, fmt.Errorf("fd too high for select")
	}
	fdIdx := fd / bits.UintSize
	fdShift := uint(fd) % bits.UintSize
	stopFdIdx := stopFd / bits.UintSize
	stopFdShift := uint(stopFd) % bits.UintSize
	for {
		var r unix.FdSet
		r.Bits[fdIdx] = 1 << fdShift
		r.Bits[stopFdIdx] |= 1 << stopFdShift
		_, err := unix.Select(maxFd+1, &r, nil, nil, stopperSelectTimeout())
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return (r.Bits[fdIdx] & (1 << fdShift)) != 0, nil
	}
}
