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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/journal"
)

var api = []*Command{
	statusCmd,
	sessionsCmd,
	sessionCmd,
	eventsCmd,
	validateModeCmd,
	streamCmd,
	powerCmd,
	contentProtectionCmd,
	ackCmd,
	notificationsCmd,
}

var (
	statusCmd = &Command{
		Path: "/v1/status",
		GET:  getStatus,
	}

	sessionsCmd = &Command{
		Path:   "/v1/sessions",
		GET:    getSessions,
		DELETE: pruneSessions,
	}

	sessionCmd = &Command{
		Path: "/v1/sessions/{id}",
		GET:  getSession,
	}

	eventsCmd = &Command{
		Path: "/v1/events",
		POST: postEvent,
	}

	validateModeCmd = &Command{
		Path: "/v1/validate-mode",
		POST: postValidateMode,
	}

	streamCmd = &Command{
		Path: "/v1/streams/{id}",
		POST: postStream,
	}

	powerCmd = &Command{
		Path: "/v1/power",
		POST: postPower,
	}

	contentProtectionCmd = &Command{
		Path: "/v1/content-protection",
		POST: postContentProtection,
	}

	ackCmd = &Command{
		Path: "/v1/ack",
		POST: postAck,
	}

	notificationsCmd = &Command{
		Path: "/v1/notifications",
		GET:  getNotifications,
	}
)

// StatusInfo is the result of GET /v1/status.
type StatusInfo struct {
	Version   string            `json:"version,omitempty"`
	Connector string            `json:"connector"`
	Display   string            `json:"display"`
	Consumers int               `json:"consumers"`
	Link      connection.Status `json:"status"`
}

func getStatus(c *Command, r *http.Request) Response {
	return SyncResponse(StatusInfo{
		Version:   c.d.Version,
		Connector: c.d.cfg.Connector,
		Display:   c.d.cfg.DisplayName,
		Consumers: c.d.hub.count(),
		Link:      c.d.conn.Status(),
	})
}

func getSessions(c *Command, r *http.Request) Response {
	sessions, err := c.d.journal.Sessions()
	if err != nil {
		return InternalError("cannot list sessions: %v", err)
	}
	if sessions == nil {
		sessions = []journal.Session{}
	}
	return SyncResponse(sessions)
}

func pruneSessions(c *Command, r *http.Request) Response {
	keep := 0
	if s := r.URL.Query().Get("keep"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return BadRequest("invalid keep value %q", s)
		}
		keep = n
	}
	removed, err := c.d.journal.Prune(keep)
	if err != nil {
		return InternalError("cannot prune sessions: %v", err)
	}
	return SyncResponse(map[string]int{"removed": removed})
}

// SessionInfo is the result of GET /v1/sessions/{id}.
type SessionInfo struct {
	journal.Session
	History []journal.Event `json:"history"`
}

func getSession(c *Command, r *http.Request) Response {
	id := mux.Vars(r)["id"]
	session, err := c.d.journal.Session(id)
	if err != nil {
		return errorResponse(err)
	}
	events, err := c.d.journal.Events(id)
	if err != nil {
		return errorResponse(err)
	}
	return SyncResponse(SessionInfo{Session: session, History: events})
}

func decode(r *http.Request, v interface{}) Response {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return BadRequest("cannot decode request body: %v", err)
	}
	return nil
}

// errorResponse maps connection errors to responses clients can act on.
func errorResponse(err error) Response {
	switch {
	case errors.Is(err, journal.ErrUnknownSession):
		return kindedError(http.StatusNotFound, ErrorKindUnknownSession, err)
	case errors.Is(err, connection.ErrNotConfigured):
		return kindedError(http.StatusConflict, ErrorKindNotConfigured, err)
	case errors.Is(err, connection.ErrNotReady), errors.Is(err, connection.ErrStreamNotEnabled):
		return kindedError(http.StatusConflict, ErrorKindNotReady, err)
	case errors.Is(err, connection.ErrAborted):
		return kindedError(http.StatusConflict, ErrorKindAborted, err)
	case errors.Is(err, connection.ErrPoorConnection):
		return kindedError(http.StatusConflict, ErrorKindPoorConnection, err)
	case errors.Is(err, connection.ErrStreamLimit):
		return kindedError(http.StatusBadRequest, ErrorKindStreamLimit, err)
	case errors.Is(err, dp.ErrModeRejected):
		return kindedError(http.StatusBadRequest, ErrorKindModeRejected, err)
	}
	return InternalError("%v", err)
}

type eventAction struct {
	Action string                `json:"action"`
	Report hpd.Report            `json:"report"`
	Link   connection.LinkConfig `json:"link"`
}

func postEvent(c *Command, r *http.Request) Response {
	var action eventAction
	if rsp := decode(r, &action); rsp != nil {
		return rsp
	}

	var err error
	switch action.Action {
	case "report":
		err = c.d.conn.Attention(r.Context(), action.Report)
	case "configure":
		err = c.d.conn.Configure(r.Context(), action.Link)
	case "disconnect":
		err = c.d.conn.Disconnect(r.Context())
	default:
		return BadRequest("unknown event action %q", action.Action)
	}
	if err != nil {
		return errorResponse(err)
	}
	return SyncResponse(c.d.conn.Status())
}

// ModeVerdict is the result of POST /v1/validate-mode.
type ModeVerdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func postValidateMode(c *Command, r *http.Request) Response {
	var mode dp.ModeTiming
	if rsp := decode(r, &mode); rsp != nil {
		return rsp
	}
	err := c.d.conn.ValidateMode(mode)
	if err != nil && !errors.Is(err, dp.ErrModeRejected) {
		return errorResponse(err)
	}
	verdict := ModeVerdict{Valid: err == nil}
	if err != nil {
		verdict.Reason = err.Error()
	}
	return SyncResponse(verdict)
}

type streamAction struct {
	Action string `json:"action"`
	Panel  string `json:"panel,omitempty"`
	Audio  bool   `json:"audio,omitempty"`
	Start  int    `json:"start,omitempty"`
	Count  int    `json:"count,omitempty"`
	PBN    int    `json:"pbn,omitempty"`
}

func postStream(c *Command, r *http.Request) Response {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return BadRequest("invalid stream id %q", idStr)
	}

	var action streamAction
	if rsp := decode(r, &action); rsp != nil {
		return rsp
	}

	ctx := r.Context()
	conn := c.d.conn
	switch action.Action {
	case "enable":
		err = conn.Enable(ctx, connection.Stream{ID: id, Panel: action.Panel, Audio: action.Audio})
	case "post-enable":
		err = conn.PostEnable(ctx, id)
	case "pre-disable":
		err = conn.PreDisable(ctx, id)
	case "disable":
		err = conn.Disable(ctx, id)
	case "set-info":
		err = conn.SetStreamInfo(ctx, id, action.Start, action.Count, action.PBN)
	default:
		return BadRequest("unknown stream action %q", action.Action)
	}
	if err != nil {
		return errorResponse(err)
	}
	return SyncResponse(conn.Status())
}

type powerAction struct {
	Action    string `json:"action"`
	PowerDown bool   `json:"power-down,omitempty"`
}

func postPower(c *Command, r *http.Request) Response {
	var action powerAction
	if rsp := decode(r, &action); rsp != nil {
		return rsp
	}

	ctx := r.Context()
	var err error
	switch action.Action {
	case "suspend":
		err = c.d.conn.Suspend(ctx)
	case "resume":
		err = c.d.conn.Resume(ctx)
	case "prepare":
		err = c.d.conn.Prepare(ctx)
	case "unprepare":
		err = c.d.conn.Unprepare(ctx, action.PowerDown)
	default:
		return BadRequest("unknown power action %q", action.Action)
	}
	if err != nil {
		return errorResponse(err)
	}
	return SyncResponse(c.d.conn.Status())
}

type contentProtectionAction struct {
	Action string `json:"action"`
}

func postContentProtection(c *Command, r *http.Request) Response {
	var action contentProtectionAction
	if rsp := decode(r, &action); rsp != nil {
		return rsp
	}
	switch action.Action {
	case "abort":
		c.d.conn.AbortContentProtection(true)
	case "allow":
		c.d.conn.AbortContentProtection(false)
	default:
		return BadRequest("unknown content protection action %q", action.Action)
	}
	return SyncResponse(c.d.conn.Status())
}

type ackAction struct {
	Present bool `json:"present"`
}

func postAck(c *Command, r *http.Request) Response {
	var action ackAction
	if rsp := decode(r, &action); rsp != nil {
		return rsp
	}
	if !c.d.conn.Acknowledge(action.Present) {
		return Conflict("no %s notification is pending", presence(action.Present))
	}
	return SyncResponse(nil)
}

func getNotifications(c *Command, r *http.Request) Response {
	if !websocket.IsWebSocketUpgrade(r) {
		return BadRequest("%s needs a websocket connection", r.URL.Path)
	}
	return watchResponse{hub: c.d.hub}
}

