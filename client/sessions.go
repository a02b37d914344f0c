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

package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Session summarizes one physical connection.
type Session struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Updated time.Time `json:"updated"`
	Events  int       `json:"events"`
	Last    string    `json:"last"`
}

// Event is one entry in a session history.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// SessionDetail is a session with its history.
type SessionDetail struct {
	Session
	History []Event `json:"history"`
}

// Sessions lists the recorded sessions, oldest first.
func (client *Client) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := client.doSync(ctx, "GET", "/v1/sessions", nil, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Session returns a session with its history.
func (client *Client) Session(ctx context.Context, id string) (*SessionDetail, error) {
	var s SessionDetail
	if err := client.doSync(ctx, "GET", "/v1/sessions/"+url.PathEscape(id), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PruneSessions drops all but the newest keep sessions.
func (client *Client) PruneSessions(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("cannot keep %d sessions", keep)
	}
	var res struct {
		Removed int `json:"removed"`
	}
	q := url.Values{"keep": []string{strconv.Itoa(keep)}}
	if err := client.doSync(ctx, "DELETE", "/v1/sessions", q, nil, &res); err != nil {
		return 0, err
	}
	return res.Removed, nil
}
