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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/logger"
)

const (
	writeWait        = 5 * time.Second
	consumerQueueLen = 16
)

var errNoConsumers = errors.New("no notification consumers")

// Message is what the notification stream carries in both directions.
type Message struct {
	Type         string                   `json:"type"`
	Notification *connection.Notification `json:"notification,omitempty"`
	Reason       string                   `json:"reason,omitempty"`
	// Present is set on "ack" messages sent by consumers.
	Present bool `json:"present,omitempty"`
}

// DesktopNotifier shows poor connection warnings to the user.
type DesktopNotifier interface {
	PoorConnection(display, reason string) error
	Disconnected()
}

type acknowledger interface {
	Acknowledge(present bool) bool
}

// notificationHub fans connect and disconnect notifications out to
// every websocket consumer and feeds their acknowledgements back.
type notificationHub struct {
	display string
	desktop DesktopNotifier

	mu        sync.Mutex
	ack       acknowledger
	consumers map[*consumer]bool
}

func newNotificationHub(display string, desktop DesktopNotifier) *notificationHub {
	return &notificationHub{
		display:   display,
		desktop:   desktop,
		consumers: make(map[*consumer]bool),
	}
}

func (h *notificationHub) setAcknowledger(ack acknowledger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ack = ack
}

func (h *notificationHub) broadcast(msg *Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Noticef("cannot marshal %s message: %v", msg.Type, err)
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for c := range h.consumers {
		if c.send(data) {
			sent++
		}
	}
	return sent
}

// Notify implements connection.Notifier.
func (h *notificationHub) Notify(n connection.Notification) error {
	if !n.Present && h.desktop != nil {
		go h.desktop.Disconnected()
	}
	if h.broadcast(&Message{Type: "notification", Notification: &n}) == 0 {
		return errNoConsumers
	}
	return nil
}

// PoorConnection implements connection.Notifier. It never blocks.
func (h *notificationHub) PoorConnection(reason string) {
	if h.desktop != nil {
		go func() {
			if err := h.desktop.PoorConnection(h.display, reason); err != nil {
				logger.Noticef("cannot show desktop notification: %v", err)
			}
		}()
	}
	h.broadcast(&Message{Type: "poor-connection", Reason: reason})
}

func (h *notificationHub) acknowledge(present bool) {
	h.mu.Lock()
	ack := h.ack
	h.mu.Unlock()
	if ack == nil {
		return
	}
	if !ack.Acknowledge(present) {
		logger.Debugf("ignoring unexpected %s acknowledgement", presence(present))
	}
}

func presence(present bool) string {
	if present {
		return "connect"
	}
	return "disconnect"
}

func (h *notificationHub) register(c *consumer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consumers[c] = true
}

func (h *notificationHub) unregister(c *consumer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.consumers, c)
}

func (h *notificationHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

// closeAll drops every consumer.
func (h *notificationHub) closeAll() {
	h.mu.Lock()
	consumers := h.consumers
	h.consumers = make(map[*consumer]bool)
	h.mu.Unlock()
	for c := range consumers {
		c.close()
	}
}

type consumer struct {
	hub  *notificationHub
	conn *websocket.Conn

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// send queues data without blocking. A consumer that falls behind
// misses messages rather than stalling the connection.
func (c *consumer) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- data:
		return true
	default:
		logger.Noticef("notification consumer queue is full")
		return false
	}
}

func (c *consumer) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *consumer) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("cannot write notification: %v", err)
				return
			}
		}
	}
}

func (c *consumer) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("notification consumer went away: %v", err)
			}
			return
		}
		switch msg.Type {
		case "ack":
			c.hub.acknowledge(msg.Present)
		default:
			logger.Debugf("ignoring %q message from notification consumer", msg.Type)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// watchResponse upgrades the request into a notification stream.
type watchResponse struct {
	hub *notificationHub
}

func (wr watchResponse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		logger.Debugf("cannot upgrade notification stream: %v", err)
		return
	}
	c := &consumer{
		hub:  wr.hub,
		conn: conn,
		out:  make(chan []byte, consumerQueueLen),
		done: make(chan struct{}),
	}
	wr.hub.register(c)
	go c.writeLoop()
	go c.readLoop()
}

func (h *notificationHub) String() string {
	return fmt.Sprintf("notification hub (%d consumers)", h.count())
}
