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
	"os"

	"golang.org/x/sys/unix"
)

type Mode int

// Mode determines event source: kernel events or udev-processed events.
// See libudev/libudev-monitor.c.
const (
	KernelEvent Mode = 1
	// Events that are processed by udev - much richer, with more attributes (such as vendor info, serial numbers and more).
	UdevEvent Mode = 2
)

// UEventConn is a NETLINK_KOBJECT_UEVENT socket.
type UEventConn struct {
	Fd   int
	Addr unix.SockaddrNetlink

	buf []byte
}

// Connect allow to connect to system socket AF_NETLINK with family NETLINK_KOBJECT_UEVENT to
// catch events about devices, including DRM connector hotplug.
func (c *UEventConn) Connect(mode Mode) (err error) {
	if c.Fd, err = unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT); err != nil {
		return err
	}

	c.Addr = unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: uint32(mode),
		Pid:    uint32(os.Getpid()),
	}

	if err = unix.Bind(c.Fd, &c.Addr); err != nil {
		unix.Close(c.Fd)
		return err
	}

	// uevents for DRM connectors are small, but udev-processed ones can
	// carry a lot of properties
	c.buf = make([]byte, 64*1024)

	return nil
}

// Close allow to close file descriptor and socket bound
func (c *UEventConn) Close() error {
	return unix.Close(c.Fd)
}

// ReadMsg allow to read an entire uevent msg
func (c *UEventConn) ReadMsg() (msg []byte, err error) {
	n, _, err := unix.Recvfrom(c.Fd, c.buf, 0)
	if err != nil {
		return nil, err
	}
	return c.buf[:n], nil
}

// ReadUEvent reads and parses a single uevent.
func (c *UEventConn) ReadUEvent() (*UEvent, error) {
	msg, err := c.ReadMsg()
	if err != nil {
		return nil, err
	}

	return ParseUEvent(msg)
}

// Monitor runs a worker in the background reading netlink messages in a
// loop and sending the ones accepted by matcher to queue. The returned
// function stops the worker.
func (c *UEventConn) Monitor(queue chan UEvent, errors chan error, matcher Matcher) (stop func(), err error) {
	if matcher != nil {
		if err := matcher.Compile(); err != nil {
			return nil, fmt.Errorf("wrong matcher: %v", err)
		}
	}

	readableOrStop, stop, err := RawSockStopper(c.Fd)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			readable, err := readableOrStop()
			if err != nil {
				errors <- err
				return
			}
			if !readable {
				return
			}

			uevent, err := c.ReadUEvent()
			if err != nil {
				if err == unix.EAGAIN {
					continue
				}
				errors <- fmt.Errorf("unable to parse uevent: %v", err)
				continue
			}

			if matcher != nil && !matcher.Evaluate(*uevent) {
				continue
			}

			queue <- *uevent
		}
	}()
	return stop, nil
}
