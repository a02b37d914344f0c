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

package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gorilla/websocket"
	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/client"
	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hpd"
)

func Test(t *testing.T) { TestingT(t) }

type request struct {
	method string
	path   string
	query  string
	body   map[string]interface{}
}

type clientSuite struct {
	cli    *client.Client
	server *http.Server
	socket string

	reqs   []request
	status int
	rsp    string
	acks   chan client.Message
}

var _ = Suite(&clientSuite{})

func (cs *clientSuite) SetUpTest(c *C) {
	cs.socket = filepath.Join(c.MkDir(), "dplinkd.socket")
	l, err := net.Listen("unix", cs.socket)
	c.Assert(err, IsNil)

	cs.reqs = nil
	cs.status = 200
	cs.rsp = `{"type": "sync", "status-code": 200, "result": {}}`
	cs.acks = make(chan client.Message, 1)

	cs.server = &http.Server{Handler: http.HandlerFunc(cs.serve)}
	go cs.server.Serve(l)

	cs.cli = client.New(&client.Config{Socket: cs.socket})
}

func (cs *clientSuite) TearDownTest(c *C) {
	cs.server.Close()
}

var upgrader websocket.Upgrader

func (cs *clientSuite) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/notifications" {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]interface{}{
			"type":         "notification",
			"notification": map[string]interface{}{"present": true, "status": "connected"},
		})
		var ack client.Message
		if err := conn.ReadJSON(&ack); err == nil {
			cs.acks <- ack
		}
		return
	}

	req := request{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
	data, _ := io.ReadAll(r.Body)
	if len(data) > 0 {
		json.Unmarshal(data, &req.body)
	}
	cs.reqs = append(cs.reqs, req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cs.status)
	io.WriteString(w, cs.rsp)
}

func (cs *clientSuite) TestStatus(c *C) {
	cs.rsp = `{"type": "sync", "status-code": 200, "result": {
		"version": "1.0", "connector": "card0-DP-1", "display": "DP-1", "consumers": 1,
		"status": {"state": ["configured", "host-initialized"], "link": {"pin-assignment": "D", "orientation": "flipped", "hpd-high": false}, "mst": false}}}`
	st, err := cs.cli.Status(context.Background())
	c.Assert(err, IsNil)
	c.Check(st.Connector, Equals, "card0-DP-1")
	c.Check(st.Consumers, Equals, 1)
	c.Check(st.Link.State, Equals, connection.Configured|connection.HostInitialized)
	c.Check(st.Link.Link, Equals, connection.LinkConfig{PinAssignment: hpd.PinAssignmentD, Orientation: hpd.OrientationFlipped})
	c.Assert(cs.reqs, HasLen, 1)
	c.Check(cs.reqs[0].method, Equals, "GET")
	c.Check(cs.reqs[0].path, Equals, "/v1/status")
}

func (cs *clientSuite) TestError(c *C) {
	cs.status = 409
	cs.rsp = `{"type": "error", "status-code": 409, "result": {"message": "link is not ready", "kind": "not-ready"}}`
	_, err := cs.cli.Stream(context.Background(), 1, client.StreamAction{Action: "enable"})
	c.Assert(err, ErrorMatches, "link is not ready")
	c.Check(client.IsKind(err, client.ErrorKindNotReady), Equals, true)
	c.Check(client.IsKind(err, client.ErrorKindAborted), Equals, false)
	c.Check(err.(*client.Error).StatusCode, Equals, 409)
	c.Check(cs.reqs[0].path, Equals, "/v1/streams/1")
	c.Check(cs.reqs[0].body, DeepEquals, map[string]interface{}{"action": "enable"})
}

func (cs *clientSuite) TestNotJSON(c *C) {
	cs.rsp = "nope"
	cs.status = 500
	// the handler sets the JSON content type, so this fails decoding
	_, err := cs.cli.Status(context.Background())
	c.Check(err, ErrorMatches, "cannot communicate with server: .*")
}

func (cs *clientSuite) TestNoDaemon(c *C) {
	cli := client.New(&client.Config{Socket: filepath.Join(c.MkDir(), "missing")})
	_, err := cli.Status(context.Background())
	c.Check(err, ErrorMatches, "cannot communicate with server: .*")
}

func (cs *clientSuite) TestEvents(c *C) {
	ctx := context.Background()
	_, err := cs.cli.Configure(ctx, connection.LinkConfig{PinAssignment: hpd.PinAssignmentC, HPDHigh: true})
	c.Assert(err, IsNil)
	_, err = cs.cli.Report(ctx, hpd.Report{Attached: true, IRQ: true})
	c.Assert(err, IsNil)
	_, err = cs.cli.Disconnect(ctx)
	c.Assert(err, IsNil)

	c.Assert(cs.reqs, HasLen, 3)
	for _, r := range cs.reqs {
		c.Check(r.method, Equals, "POST")
		c.Check(r.path, Equals, "/v1/events")
	}
	c.Check(cs.reqs[0].body, DeepEquals, map[string]interface{}{
		"action": "configure",
		"link":   map[string]interface{}{"pin-assignment": "C", "orientation": "normal", "hpd-high": true},
	})
	c.Check(cs.reqs[1].body["action"], Equals, "report")
	c.Check(cs.reqs[1].body["report"], DeepEquals, map[string]interface{}{
		"attached": true, "configured": false, "pin-assignment": "none", "orientation": "normal", "hpd-high": false, "irq": true,
	})
	c.Check(cs.reqs[2].body, DeepEquals, map[string]interface{}{"action": "disconnect"})
}

func (cs *clientSuite) TestValidateMode(c *C) {
	cs.rsp = `{"type": "sync", "status-code": 200, "result": {"valid": false, "reason": "mode rejected: too fast"}}`
	verdict, err := cs.cli.ValidateMode(context.Background(), dp.ModeTiming{PixelClockKHz: 594000, BitsPerPixel: 30})
	c.Assert(err, IsNil)
	c.Check(*verdict, Equals, client.ModeVerdict{Reason: "mode rejected: too fast"})
	c.Check(cs.reqs[0].body, DeepEquals, map[string]interface{}{"pixel-clock-khz": 594000.0, "bpp": 30.0})
}

func (cs *clientSuite) TestPowerAndAck(c *C) {
	ctx := context.Background()
	_, err := cs.cli.Power(ctx, "unprepare", true)
	c.Assert(err, IsNil)
	_, err = cs.cli.AbortContentProtection(ctx, true)
	c.Assert(err, IsNil)
	cs.rsp = `{"type": "sync", "status-code": 200, "result": null}`
	c.Assert(cs.cli.Ack(ctx, false), IsNil)

	c.Check(cs.reqs[0].body, DeepEquals, map[string]interface{}{"action": "unprepare", "power-down": true})
	c.Check(cs.reqs[1].body, DeepEquals, map[string]interface{}{"action": "abort"})
	c.Check(cs.reqs[2].path, Equals, "/v1/ack")
	c.Check(cs.reqs[2].body, DeepEquals, map[string]interface{}{"present": false})
}

func (cs *clientSuite) TestSessions(c *C) {
	ctx := context.Background()
	cs.rsp = `{"type": "sync", "status-code": 200, "result": [{"id": "s1", "events": 2, "last": "connected"}]}`
	sessions, err := cs.cli.Sessions(ctx)
	c.Assert(err, IsNil)
	c.Assert(sessions, HasLen, 1)
	c.Check(sessions[0].ID, Equals, "s1")

	cs.rsp = `{"type": "sync", "status-code": 200, "result": {"id": "s1", "events": 1, "history": [{"kind": "connected"}]}}`
	s, err := cs.cli.Session(ctx, "s1")
	c.Assert(err, IsNil)
	c.Check(s.History, DeepEquals, []client.Event{{Kind: "connected"}})
	c.Check(cs.reqs[1].path, Equals, "/v1/sessions/s1")

	cs.rsp = `{"type": "sync", "status-code": 200, "result": {"removed": 3}}`
	n, err := cs.cli.PruneSessions(ctx, 2)
	c.Assert(err, IsNil)
	c.Check(n, Equals, 3)
	c.Check(cs.reqs[2].method, Equals, "DELETE")
	c.Check(cs.reqs[2].query, Equals, "keep=2")

	_, err = cs.cli.PruneSessions(ctx, -1)
	c.Check(err, ErrorMatches, "cannot keep -1 sessions")
}

func (cs *clientSuite) TestWatch(c *C) {
	w, err := cs.cli.Watch(context.Background())
	c.Assert(err, IsNil)
	defer w.Close()

	msg, err := w.Next()
	c.Assert(err, IsNil)
	c.Check(msg.Type, Equals, "notification")
	c.Assert(msg.Notification, NotNil)
	c.Check(msg.Notification.Present, Equals, true)

	c.Assert(w.Ack(true), IsNil)
	ack := <-cs.acks
	c.Check(ack, DeepEquals, client.Message{Type: "ack", Present: true})
}
