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

package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/snapcore/dplink/logger"
)

// completion is a single-waiter acknowledgement of one notification.
type completion struct {
	mu      sync.Mutex
	armed   bool
	present bool
	aborted bool
	// teardowns in progress; while nonzero every arm fails at once
	blocked int
	done    chan struct{}
}

func (c *completion) arm(present bool) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = make(chan struct{})
	if c.blocked > 0 {
		c.armed = false
		c.aborted = true
		close(c.done)
		return c.done
	}
	c.armed = true
	c.present = present
	c.aborted = false
	return c.done
}

// complete acknowledges the armed notification if it goes in the
// direction given.
func (c *completion) complete(present bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed || c.present != present {
		return false
	}
	c.armed = false
	close(c.done)
	return true
}

// abort wakes the waiter, if any, and fails every arm until the
// matching release.
func (c *completion) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked++
	if !c.armed {
		return
	}
	c.armed = false
	c.aborted = true
	close(c.done)
}

func (c *completion) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked > 0 {
		c.blocked--
	}
}

func (c *completion) isBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked > 0
}

func (c *completion) disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = false
}

func (c *completion) pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

func (c *completion) wait(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		c.mu.Lock()
		aborted := c.aborted
		c.mu.Unlock()
		if aborted {
			return ErrAborted
		}
		return nil
	case <-t.C:
		return ErrNotifyTimeout
	case <-ctx.Done():
		c.disarm()
		return ctx.Err()
	}
}

func direction(present bool) string {
	if present {
		return "connect"
	}
	return "disconnect"
}

// notification builds the notification for the current state. Called
// with the session lock held.
func (m *Manager) notification(present bool) Notification {
	n := Notification{
		Present:     present,
		Name:        m.opts.DisplayName,
		Status:      "disconnected",
		BitDepth:    defaultBitDepth,
		TestPattern: m.testPattern,
	}
	if present {
		n.Status = "connected"
	}
	return n
}

// notify tells the consumer about a connect or disconnect and waits
// for the acknowledgement when the consumer is expected to act on it.
// It must be called without the session lock.
func (m *Manager) notify(ctx context.Context, present bool) error {
	if m.notifier == nil {
		return nil
	}

	m.mu.Lock()
	if m.mst.Active() {
		// the topology consumer announces multi-stream sinks
		m.mu.Unlock()
		logger.Debugf("not sending %s notification in multi-stream mode", direction(present))
		return nil
	}
	n := m.notification(present)
	// the consumer acts only if streams differ from what it is told
	needAck := m.state.Has(StreamsEnabled) != present
	m.mu.Unlock()

	done := m.ack.arm(present)

	m.mu.Lock()
	if present && (m.state.Has(Aborted) || m.ack.isBlocked()) {
		m.mu.Unlock()
		m.ack.disarm()
		return ErrAborted
	}
	notified := m.state & (ConnectNotified | DisconnectNotified)
	if present {
		m.add(ConnectNotified)
		m.clear(DisconnectNotified)
	} else {
		m.add(DisconnectNotified)
		m.clear(ConnectNotified)
	}
	m.mu.Unlock()

	logger.Debugf("sending %s notification", direction(present))
	if err := m.notifier.Notify(n); err != nil {
		m.ack.disarm()
		m.mu.Lock()
		m.clear(ConnectNotified | DisconnectNotified)
		m.add(notified)
		m.mu.Unlock()
		return fmt.Errorf("cannot send %s notification: %w", direction(present), err)
	}
	if !needAck {
		m.ack.disarm()
		return nil
	}

	err := m.ack.wait(ctx, done, m.opts.NotifyTimeout)
	if err != ErrNotifyTimeout {
		return err
	}
	logger.Noticef("%s notification not acknowledged in %v, sending again", direction(present), m.opts.NotifyTimeout)
	if err := m.notifier.Notify(n); err != nil {
		m.ack.disarm()
		return fmt.Errorf("cannot send %s notification: %w", direction(present), err)
	}
	if err := m.ack.wait(ctx, done, m.opts.NotifyExtendedTimeout); err != nil {
		m.ack.disarm()
		return err
	}
	return nil
}

// Acknowledge completes an outstanding notification. It reports whether
// one was waiting.
func (m *Manager) Acknowledge(present bool) bool {
	return m.ack.complete(present)
}

// NotificationPending reports whether a notification waits for its
// acknowledgement.
func (m *Manager) NotificationPending() bool {
	return m.ack.pending()
}
