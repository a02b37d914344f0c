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

// Package client talks to dplinkd over its unix socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/dirs"
)

type doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config allows to customize client behavior.
type Config struct {
	// Socket is the daemon socket, dirs.DplinkSocket if empty.
	Socket string
	// Timeout bounds each request, 30s if zero.
	Timeout time.Duration
}

// A Client knows how to talk to the dplink daemon.
type Client struct {
	socket string
	doer   doer
}

func unixDialer(socket string) func(ctx context.Context, _, _ string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socket)
	}
}

// New returns a new instance of Client
func New(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	socket := config.Socket
	if socket == "" {
		socket = dirs.DplinkSocket
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		socket: socket,
		doer: &http.Client{
			Transport: &http.Transport{DialContext: unixDialer(socket)},
			Timeout:   timeout,
		},
	}
}

func (client *Client) raw(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := url.URL{
		Scheme:   "http",
		Host:     "localhost",
		Path:     path,
		RawQuery: query.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return client.doer.Do(req)
}

func (client *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, v interface{}) error {
	rsp, err := client.raw(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	if rsp.Header.Get("Content-Type") != "application/json" {
		return fmt.Errorf("server error: %q", rsp.Status)
	}

	dec := json.NewDecoder(rsp.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}

	return nil
}

func (client *Client) doSync(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("cannot marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	var rsp response
	if err := client.do(ctx, method, path, query, body, &rsp); err != nil {
		return fmt.Errorf("cannot communicate with server: %s", err)
	}
	if err := rsp.err(); err != nil {
		return err
	}
	if rsp.Type != "sync" {
		return fmt.Errorf("expected sync response, got %q", rsp.Type)
	}
	if out == nil {
		return nil
	}

	if err := json.Unmarshal(rsp.Result, out); err != nil {
		return fmt.Errorf("cannot unmarshal: %v", err)
	}

	return nil
}

type response struct {
	Result     json.RawMessage `json:"result"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status-code"`
	Type       string          `json:"type"`
}

func (rsp *response) err() error {
	if rsp.Type != "error" {
		return nil
	}
	var resultErr Error
	err := json.Unmarshal(rsp.Result, &resultErr)
	if err != nil || resultErr.Message == "" {
		return fmt.Errorf("server error: %q", rsp.Status)
	}
	resultErr.StatusCode = rsp.StatusCode
	return &resultErr
}

// Status is what the daemon reports about the link.
type Status struct {
	Version   string            `json:"version,omitempty"`
	Connector string            `json:"connector"`
	Display   string            `json:"display"`
	Consumers int               `json:"consumers"`
	Link      connection.Status `json:"status"`
}

// Status returns the daemon and link status.
func (client *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := client.doSync(ctx, "GET", "/v1/status", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
