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

package main_test

import (
	"net/http"

	"github.com/gorilla/websocket"
	. "gopkg.in/check.v1"

	main "github.com/snapcore/dplink/cmd/dplinkctl"
)

func (s *ctlSuite) TestWatch(c *C) {
	acks := make(chan map[string]interface{}, 1)
	var upgrader websocket.Upgrader
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]interface{}{
			"type":         "notification",
			"notification": map[string]interface{}{"present": true, "name": "DP-1", "status": "connected", "bpp": 24},
		})
		var ack map[string]interface{}
		if err := conn.ReadJSON(&ack); err == nil {
			acks <- ack
		}
		conn.WriteJSON(map[string]interface{}{"type": "poor-connection", "reason": "link training failed"})
		// wait for the client to go away
		conn.ReadMessage()
	}

	c.Assert(main.Run([]string{"watch", "--count=2"}), IsNil)
	c.Check(s.reqs[0].Path, Equals, "/v1/notifications")
	c.Check(<-acks, DeepEquals, map[string]interface{}{"type": "ack", "present": true})
	c.Check(s.stdout.String(), Equals, ""+
		"DP-1: connected (24 bpp, pattern 0)\n"+
		"poor connection: link training failed\n")
}

func (s *ctlSuite) TestWatchNotAvailable(c *C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
	}
	c.Check(main.Run([]string{"watch"}), ErrorMatches, "cannot watch notifications: 400 Bad Request")
}
