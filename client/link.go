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

	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hpd"
)

type eventAction struct {
	Action string                 `json:"action"`
	Report *hpd.Report            `json:"report,omitempty"`
	Link   *connection.LinkConfig `json:"link,omitempty"`
}

func (client *Client) event(ctx context.Context, action eventAction) (*connection.Status, error) {
	var st connection.Status
	if err := client.doSync(ctx, "POST", "/v1/events", nil, action, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Report injects a hot-plug report as if it came from the signal source.
func (client *Client) Report(ctx context.Context, r hpd.Report) (*connection.Status, error) {
	return client.event(ctx, eventAction{Action: "report", Report: &r})
}

// Configure sets the negotiated pin assignment and orientation.
func (client *Client) Configure(ctx context.Context, cfg connection.LinkConfig) (*connection.Status, error) {
	return client.event(ctx, eventAction{Action: "configure", Link: &cfg})
}

// Disconnect removes the cable.
func (client *Client) Disconnect(ctx context.Context) (*connection.Status, error) {
	return client.event(ctx, eventAction{Action: "disconnect"})
}

// ModeVerdict says whether the link can carry a mode.
type ModeVerdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ValidateMode asks whether the current link can carry mode.
func (client *Client) ValidateMode(ctx context.Context, mode dp.ModeTiming) (*ModeVerdict, error) {
	var verdict ModeVerdict
	if err := client.doSync(ctx, "POST", "/v1/validate-mode", nil, mode, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// StreamAction is a request on one stream.
type StreamAction struct {
	// Action is one of enable, post-enable, pre-disable, disable or
	// set-info.
	Action string `json:"action"`
	Panel  string `json:"panel,omitempty"`
	Audio  bool   `json:"audio,omitempty"`
	Start  int    `json:"start,omitempty"`
	Count  int    `json:"count,omitempty"`
	PBN    int    `json:"pbn,omitempty"`
}

// Stream performs action on stream id.
func (client *Client) Stream(ctx context.Context, id int, action StreamAction) (*connection.Status, error) {
	var st connection.Status
	if err := client.doSync(ctx, "POST", fmt.Sprintf("/v1/streams/%d", id), nil, action, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

type powerAction struct {
	Action    string `json:"action"`
	PowerDown bool   `json:"power-down,omitempty"`
}

// Power performs one of suspend, resume, prepare or unprepare.
func (client *Client) Power(ctx context.Context, action string, powerDown bool) (*connection.Status, error) {
	var st connection.Status
	if err := client.doSync(ctx, "POST", "/v1/power", nil, powerAction{Action: action, PowerDown: powerDown}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// AbortContentProtection stops or allows content protection.
func (client *Client) AbortContentProtection(ctx context.Context, abort bool) (*connection.Status, error) {
	action := map[string]string{"action": "allow"}
	if abort {
		action["action"] = "abort"
	}
	var st connection.Status
	if err := client.doSync(ctx, "POST", "/v1/content-protection", nil, action, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Ack acknowledges the pending connect or disconnect notification.
func (client *Client) Ack(ctx context.Context, present bool) error {
	return client.doSync(ctx, "POST", "/v1/ack", nil, map[string]bool{"present": present}, nil)
}
