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

package dbusnotify_test

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/notify/dbusnotify"
)

func Test(t *testing.T) { TestingT(t) }

type call struct {
	method string
	args   []interface{}
}

type fakeBus struct {
	calls []call
	next  uint32
	err   error
}

func (b *fakeBus) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	b.calls = append(b.calls, call{method, args})
	if b.err != nil {
		return &dbus.Call{Err: b.err}
	}
	b.next++
	return &dbus.Call{Body: []interface{}{b.next}}
}

type dbusnotifySuite struct{}

var _ = Suite(&dbusnotifySuite{})

func (s *dbusnotifySuite) TestPoorConnectionReplaces(c *C) {
	bus := &fakeBus{}
	n := dbusnotify.New(bus)

	c.Assert(n.PoorConnection("DP-1", "link training failed"), IsNil)
	c.Assert(n.PoorConnection("DP-1", "link training failed"), IsNil)
	c.Assert(bus.calls, HasLen, 2)

	first := bus.calls[0]
	c.Check(first.method, Equals, "org.freedesktop.Notifications.Notify")
	c.Check(first.args[0], Equals, "dplink")
	c.Check(first.args[1], Equals, uint32(0))
	c.Check(first.args[3], Equals, "Display connection problem")
	c.Check(first.args[4], Matches, "The connection to display DP-1 is unreliable \\(link training failed\\).*")
	c.Check(first.args[7], Equals, int32(-1))
	// the second replaces the first
	c.Check(bus.calls[1].args[1], Equals, uint32(1))
}

func (s *dbusnotifySuite) TestDisconnectedCloses(c *C) {
	bus := &fakeBus{}
	n := dbusnotify.New(bus)

	n.Disconnected()
	c.Check(bus.calls, HasLen, 0)

	c.Assert(n.PoorConnection("DP-1", "x"), IsNil)
	n.Disconnected()
	c.Assert(bus.calls, HasLen, 2)
	c.Check(bus.calls[1].method, Equals, "org.freedesktop.Notifications.CloseNotification")
	c.Check(bus.calls[1].args, DeepEquals, []interface{}{uint32(1)})

	n.Disconnected()
	c.Check(bus.calls, HasLen, 2)
}

func (s *dbusnotifySuite) TestError(c *C) {
	bus := &fakeBus{err: errors.New("no notification daemon")}
	n := dbusnotify.New(bus)
	err := n.PoorConnection("DP-1", "x")
	c.Check(err, ErrorMatches, "cannot send desktop notification: no notification daemon")
}

func (s *dbusnotifySuite) TestConnectError(c *C) {
	restore := dbusnotify.MockSessionBus(func() (*dbus.Conn, error) {
		return nil, errors.New("no bus")
	})
	defer restore()
	_, err := dbusnotify.Connect()
	c.Check(err, ErrorMatches, "cannot connect to the session bus: no bus")
}
