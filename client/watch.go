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
	"sync"

	"github.com/gorilla/websocket"

	"github.com/snapcore/dplink/connection"
)

// Message is one entry of the notification stream.
type Message struct {
	// Type is "notification" or "poor-connection".
	Type         string                   `json:"type"`
	Notification *connection.Notification `json:"notification,omitempty"`
	Reason       string                   `json:"reason,omitempty"`
	Present      bool                     `json:"present,omitempty"`
}

// A Watcher receives connect, disconnect and poor connection
// notifications. While a watcher is open the daemon waits for it to
// acknowledge connects and disconnects.
type Watcher struct {
	conn *websocket.Conn
	// gorilla connections support one concurrent writer
	wmu sync.Mutex
}

// Watch opens the notification stream.
func (client *Client) Watch(ctx context.Context) (*Watcher, error) {
	dialer := websocket.Dialer{NetDialContext: unixDialer(client.socket)}
	conn, rsp, err := dialer.DialContext(ctx, "ws://localhost/v1/notifications", nil)
	if err != nil {
		if rsp != nil {
			return nil, fmt.Errorf("cannot watch notifications: %s", rsp.Status)
		}
		return nil, fmt.Errorf("cannot watch notifications: %v", err)
	}
	return &Watcher{conn: conn}, nil
}

// Next blocks for the next message.
func (w *Watcher) Next() (*Message, error) {
	var msg Message
	if err := w.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Ack acknowledges a notification over the stream.
func (w *Watcher) Ack(present bool) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteJSON(Message{Type: "ack", Present: present})
}

// Close ends the stream.
func (w *Watcher) Close() error {
	w.wmu.Lock()
	w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.wmu.Unlock()
	return w.conn.Close()
}
