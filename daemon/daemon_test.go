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

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/config"
	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/hw/sim"
	"github.com/snapcore/dplink/logger"
	"github.com/snapcore/dplink/testutil"
	"github.com/snapcore/dplink/timeout"
)

func Test(t *testing.T) { TestingT(t) }

type fakeDesktop struct {
	mu           sync.Mutex
	poor         []string
	disconnected int
}

func (f *fakeDesktop) PoorConnection(display, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poor = append(f.poor, display+": "+reason)
	return nil
}

func (f *fakeDesktop) Disconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
}

func (f *fakeDesktop) seen() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.poor...), f.disconnected
}

type daemonSuite struct {
	hw       *sim.Hardware
	desktop  *fakeDesktop
	d        *Daemon
	notified []string

	restore []func()
}

var _ = Suite(&daemonSuite{})

func (s *daemonSuite) SetUpTest(c *C) {
	_, restore := logger.MockLogger()
	s.restore = []func(){restore}
	s.restore = append(s.restore, testutil.Mock(&activationListeners, func() ([]net.Listener, error) {
		return nil, nil
	}))
	s.notified = nil
	s.restore = append(s.restore, testutil.Mock(&sdNotify, func(unset bool, state string) (bool, error) {
		s.notified = append(s.notified, state)
		return true, nil
	}))

	dir := c.MkDir()
	cfg := config.Default()
	cfg.Connector = "card0-DP-1"
	cfg.Socket = filepath.Join(dir, "run", "dplinkd.socket")
	cfg.Journal = filepath.Join(dir, "journal.db")
	cfg.Timeouts.ConnectIRQ = 0
	cfg.Timeouts.MSTSettle = timeout.Timeout(time.Millisecond)
	cfg.Timeouts.HDCPArm = timeout.Timeout(time.Millisecond)
	cfg.Timeouts.Notify = timeout.Timeout(testutil.HostScaledTimeout(time.Second))
	cfg.Timeouts.NotifyExtended = timeout.Timeout(testutil.HostScaledTimeout(time.Second))

	s.hw = sim.New()
	s.hw.Attach(sim.NewSink(sim.DefaultSinkConfig))
	s.desktop = &fakeDesktop{}

	d, err := New(cfg, s.hw.Backend(), s.desktop)
	c.Assert(err, IsNil)
	d.Version = "1.0"
	c.Assert(d.Init(), IsNil)
	d.Start(Options{})
	s.d = d
}

func (s *daemonSuite) TearDownTest(c *C) {
	if s.d != nil {
		c.Check(s.d.Stop(), IsNil)
		s.d = nil
	}
	for i := len(s.restore) - 1; i >= 0; i-- {
		s.restore[i]()
	}
}

type testResponse struct {
	Type       string          `json:"type"`
	StatusCode int             `json:"status-code"`
	Result     json.RawMessage `json:"result"`
}

func (s *daemonSuite) do(c *C, method, path string, body interface{}) (int, testResponse) {
	var buf bytes.Buffer
	if body != nil {
		c.Assert(json.NewEncoder(&buf).Encode(body), IsNil)
	}
	req, err := http.NewRequest(method, path, &buf)
	c.Assert(err, IsNil)
	rec := httptest.NewRecorder()
	s.d.router.ServeHTTP(rec, req)

	var rsp testResponse
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &rsp), IsNil, Commentf("%s", rec.Body))
	c.Check(rsp.StatusCode, Equals, rec.Code)
	return rec.Code, rsp
}

func (s *daemonSuite) status(c *C) StatusInfo {
	code, rsp := s.do(c, "GET", "/v1/status", nil)
	c.Assert(code, Equals, 200)
	var info StatusInfo
	c.Assert(json.Unmarshal(rsp.Result, &info), IsNil)
	return info
}

func (s *daemonSuite) waitFor(c *C, what string, cond func() bool) {
	deadline := time.Now().Add(testutil.HostScaledTimeout(5 * time.Second))
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *daemonSuite) watch(c *C) (*websocket.Conn, func()) {
	server := httptest.NewServer(s.d.router)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/notifications"
	before := s.d.hub.count()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	c.Assert(err, IsNil)
	s.waitFor(c, "consumer", func() bool { return s.d.hub.count() == before+1 })
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readMessage(c *C, conn *websocket.Conn) Message {
	conn.SetReadDeadline(time.Now().Add(testutil.HostScaledTimeout(5 * time.Second)))
	var msg Message
	c.Assert(conn.ReadJSON(&msg), IsNil)
	return msg
}

func (s *daemonSuite) TestInitListensOnSocket(c *C) {
	c.Check(s.notified, DeepEquals, []string{"READY=1"})

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return net.Dial("unix", s.d.cfg.Socket)
		},
	}}
	rsp, err := client.Get("http://localhost/v1/status")
	c.Assert(err, IsNil)
	defer rsp.Body.Close()
	c.Check(rsp.StatusCode, Equals, 200)
	c.Check(rsp.Header.Get("Content-Type"), Equals, "application/json")
}

func (s *daemonSuite) TestSocketInUse(c *C) {
	_, err := getListener(s.d.cfg.Socket, nil)
	c.Check(err, ErrorMatches, `socket ".*dplinkd.socket" already in use`)
}

func (s *daemonSuite) TestStatus(c *C) {
	info := s.status(c)
	c.Check(info.Version, Equals, "1.0")
	c.Check(info.Connector, Equals, "card0-DP-1")
	c.Check(info.Display, Equals, "DP-1")
	c.Check(info.Consumers, Equals, 0)
	c.Check(info.Link.State, Equals, connection.State(0))
}

func (s *daemonSuite) TestNotFound(c *C) {
	code, rsp := s.do(c, "GET", "/v1/nothing", nil)
	c.Check(code, Equals, 404)
	c.Check(rsp.Type, Equals, "error")
}

func (s *daemonSuite) TestBadMethod(c *C) {
	code, rsp := s.do(c, "PUT", "/v1/status", nil)
	c.Check(code, Equals, 405)
	c.Check(string(rsp.Result), testutil.Contains, `method \"PUT\" not allowed`)
}

func (s *daemonSuite) TestBadRequests(c *C) {
	for _, t := range []struct {
		method, path string
		body         interface{}
		message      string
	}{
		{"POST", "/v1/events", map[string]string{"action": "explode"}, `unknown event action \"explode\"`},
		{"POST", "/v1/streams/x", map[string]string{"action": "enable"}, `invalid stream id \"x\"`},
		{"POST", "/v1/streams/0", map[string]string{"action": "melt"}, `unknown stream action \"melt\"`},
		{"POST", "/v1/power", map[string]string{"action": "nap"}, `unknown power action \"nap\"`},
		{"POST", "/v1/content-protection", map[string]string{"action": "x"}, `unknown content protection action \"x\"`},
		{"POST", "/v1/ack", nil, `cannot decode request body: EOF`},
		{"DELETE", "/v1/sessions?keep=-1", nil, `invalid keep value \"-1\"`},
		{"GET", "/v1/notifications", nil, `/v1/notifications needs a websocket connection`},
	} {
		code, rsp := s.do(c, t.method, t.path, t.body)
		c.Check(code, Equals, 400, Commentf("%s %s", t.method, t.path))
		c.Check(string(rsp.Result), testutil.Contains, t.message)
	}
}

func (s *daemonSuite) TestAckWithoutNotification(c *C) {
	code, rsp := s.do(c, "POST", "/v1/ack", map[string]bool{"present": true})
	c.Check(code, Equals, 409)
	c.Check(string(rsp.Result), testutil.Contains, "no connect notification is pending")
}

func (s *daemonSuite) TestStreamNotReady(c *C) {
	code, rsp := s.do(c, "POST", "/v1/streams/0", map[string]string{"action": "enable"})
	c.Check(code, Equals, 409)
	var res errorResult
	c.Assert(json.Unmarshal(rsp.Result, &res), IsNil)
	c.Check(res.Kind, Equals, ErrorKindNotReady)
}

func (s *daemonSuite) TestUnknownSession(c *C) {
	code, rsp := s.do(c, "GET", "/v1/sessions/nope", nil)
	c.Check(code, Equals, 404)
	var res errorResult
	c.Assert(json.Unmarshal(rsp.Result, &res), IsNil)
	c.Check(res.Kind, Equals, ErrorKindUnknownSession)
}

func (s *daemonSuite) TestValidateModeWithoutSink(c *C) {
	code, rsp := s.do(c, "POST", "/v1/validate-mode", map[string]interface{}{"pixel-clock-khz": 148500, "bpp": 24})
	c.Assert(code, Equals, 200)
	var verdict ModeVerdict
	c.Assert(json.Unmarshal(rsp.Result, &verdict), IsNil)
	c.Check(verdict.Valid, Equals, false)
	c.Check(verdict.Reason, testutil.Contains, "no sink connected")
}

func (s *daemonSuite) connect(c *C, conn *websocket.Conn) {
	code, _ := s.do(c, "POST", "/v1/events", map[string]interface{}{
		"action": "configure",
		"link":   map[string]interface{}{"pin-assignment": "C", "orientation": "normal", "hpd-high": true},
	})
	c.Assert(code, Equals, 200)

	msg := readMessage(c, conn)
	c.Assert(msg.Type, Equals, "notification")
	c.Assert(msg.Notification, NotNil)
	c.Check(msg.Notification.Present, Equals, true)
	c.Check(msg.Notification.Status, Equals, "connected")
	c.Assert(conn.WriteJSON(Message{Type: "ack", Present: true}), IsNil)

	s.waitFor(c, "connection", func() bool {
		st := s.d.conn.Status()
		return st.State.Has(connection.Connected|connection.ConnectNotified) && !st.NotificationPending
	})
}

func (s *daemonSuite) TestConnectStreamDisconnect(c *C) {
	conn, done := s.watch(c)
	defer done()
	s.connect(c, conn)

	info := s.status(c)
	c.Check(info.Consumers, Equals, 1)
	c.Assert(info.Link.Params, NotNil)
	c.Check(info.Link.Session, Not(Equals), "")

	code, rsp := s.do(c, "POST", "/v1/validate-mode", map[string]interface{}{"pixel-clock-khz": 148500, "bpp": 24})
	c.Assert(code, Equals, 200)
	var verdict ModeVerdict
	c.Assert(json.Unmarshal(rsp.Result, &verdict), IsNil)
	c.Check(verdict, DeepEquals, ModeVerdict{Valid: true})

	code, _ = s.do(c, "POST", "/v1/streams/0", map[string]interface{}{"action": "enable", "audio": true})
	c.Assert(code, Equals, 200)
	code, _ = s.do(c, "POST", "/v1/streams/0", map[string]string{"action": "post-enable"})
	c.Assert(code, Equals, 200)
	c.Check(s.status(c).Link.State.Has(connection.StreamsEnabled), Equals, true)

	code, _ = s.do(c, "POST", "/v1/streams/0", map[string]string{"action": "enable"})
	c.Check(code, Equals, 500)

	code, _ = s.do(c, "POST", "/v1/events", map[string]string{"action": "disconnect"})
	c.Assert(code, Equals, 200)
	st := s.status(c).Link
	c.Check(st.State.Any(connection.Connected|connection.StreamsEnabled), Equals, false)
	c.Check(s.hw.Calls(), testutil.InOrder, []string{"stream-on 0", "audio-on 0", "audio-off 0", "stream-off 0", "power-deinit"})

	// the journal kept the whole session
	code, rsp = s.do(c, "GET", "/v1/sessions", nil)
	c.Assert(code, Equals, 200)
	var sessions []SessionInfo
	c.Assert(json.Unmarshal(rsp.Result, &sessions), IsNil)
	c.Assert(sessions, HasLen, 1)

	code, rsp = s.do(c, "GET", "/v1/sessions/"+sessions[0].ID, nil)
	c.Assert(code, Equals, 200)
	var session SessionInfo
	c.Assert(json.Unmarshal(rsp.Result, &session), IsNil)
	var kinds []string
	for _, ev := range session.History {
		kinds = append(kinds, ev.Kind)
	}
	c.Check(kinds, testutil.InOrder, []string{"stream-enabled", "stream-disabled"})
	c.Check(session.Events, Equals, len(session.History))

	code, rsp = s.do(c, "DELETE", "/v1/sessions", nil)
	c.Assert(code, Equals, 200)
	c.Check(string(rsp.Result), Equals, `{"removed":1}`)
}

func (s *daemonSuite) TestPoorConnectionIsBroadcast(c *C) {
	conn, done := s.watch(c)
	defer done()

	s.d.hub.PoorConnection("link training failed")
	msg := readMessage(c, conn)
	c.Check(msg, DeepEquals, Message{Type: "poor-connection", Reason: "link training failed"})

	s.waitFor(c, "desktop notification", func() bool {
		poor, _ := s.desktop.seen()
		return len(poor) == 1
	})
	poor, _ := s.desktop.seen()
	c.Check(poor, DeepEquals, []string{"DP-1: link training failed"})
}

func (s *daemonSuite) TestNotifyWithoutConsumers(c *C) {
	err := s.d.hub.Notify(connection.Notification{Present: false})
	c.Check(err, Equals, errNoConsumers)
	s.waitFor(c, "desktop close", func() bool {
		_, n := s.desktop.seen()
		return n == 1
	})
}

func (s *daemonSuite) TestConsumerGoneIsUnregistered(c *C) {
	conn, done := s.watch(c)
	defer done()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	s.waitFor(c, "consumer to go", func() bool { return s.d.hub.count() == 0 })
}

func (s *daemonSuite) TestPower(c *C) {
	code, _ := s.do(c, "POST", "/v1/power", map[string]string{"action": "suspend"})
	c.Assert(code, Equals, 200)
	c.Check(s.status(c).Link.State.Has(connection.Suspended), Equals, true)
	code, _ = s.do(c, "POST", "/v1/power", map[string]string{"action": "resume"})
	c.Assert(code, Equals, 200)
	c.Check(s.status(c).Link.State.Has(connection.Suspended), Equals, false)
}

func (s *daemonSuite) TestContentProtectionAbort(c *C) {
	code, _ := s.do(c, "POST", "/v1/content-protection", map[string]string{"action": "abort"})
	c.Assert(code, Equals, 200)
	c.Check(s.status(c).Link.State.Has(connection.ContentProtectionAborted), Equals, true)
	code, _ = s.do(c, "POST", "/v1/content-protection", map[string]string{"action": "allow"})
	c.Assert(code, Equals, 200)
	c.Check(s.status(c).Link.State.Has(connection.ContentProtectionAborted), Equals, false)
}
