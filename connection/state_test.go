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

package connection_test

import (
	"encoding/json"

	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/connection"
)

type stateSuite struct{}

var _ = Suite(&stateSuite{})

func (s *stateSuite) TestString(c *C) {
	c.Check(connection.State(0).String(), Equals, "idle")
	st := connection.Configured | connection.HostInitialized
	c.Check(st.String(), Equals, "configured|host-initialized")
}

func (s *stateSuite) TestJSON(c *C) {
	st := connection.Configured | connection.HostInitialized | connection.HostReady | connection.Connected
	data, err := json.Marshal(st)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, `["configured","host-initialized","host-ready","connected"]`)

	var back connection.State
	c.Assert(json.Unmarshal(data, &back), IsNil)
	c.Check(back, Equals, st)

	c.Check(json.Unmarshal([]byte(`["bogus"]`), &back), ErrorMatches, `unknown connection state "bogus"`)
}

func (s *stateSuite) TestValidate(c *C) {
	c.Check(connection.Connected.Validate(), ErrorMatches, ".*connected without a ready host")
	c.Check((connection.HostReady).Validate(), ErrorMatches, ".*host ready but not initialized")
	c.Check(connection.StreamsEnabled.Validate(), ErrorMatches, ".*streams enabled while not connected")
	ok := connection.Configured | connection.HostInitialized | connection.HostReady | connection.Connected | connection.StreamsEnabled
	c.Check(ok.Validate(), IsNil)
}
