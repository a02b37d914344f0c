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

// Package dbusnotify shows desktop notifications through the
// org.freedesktop.Notifications session service.
package dbusnotify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/snapcore/dplink/i18n"
	"github.com/snapcore/dplink/logger"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	iface      = "org.freedesktop.Notifications"

	appName = "dplink"
	icon    = "video-display"

	urgencyCritical byte = 2
)

// caller is the part of dbus.BusObject used here.
type caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

var sessionBus = dbus.SessionBus

// Notifier keeps at most one notification on screen; a new one
// replaces the previous.
type Notifier struct {
	obj caller

	mu sync.Mutex
	id uint32
}

// New returns a notifier calling obj.
func New(obj caller) *Notifier {
	return &Notifier{obj: obj}
}

// Connect returns a notifier on the session bus.
func Connect() (*Notifier, error) {
	conn, err := sessionBus()
	if err != nil {
		return nil, fmt.Errorf("cannot connect to the session bus: %v", err)
	}
	return New(conn.Object(busName, objectPath)), nil
}

func (n *Notifier) send(summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(urgencyCritical),
		"desktop-entry": dbus.MakeVariant(appName),
	}
	var id uint32
	call := n.obj.Call(iface+".Notify", 0, appName, n.id, icon, summary, body, []string{}, hints, int32(-1))
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("cannot send desktop notification: %v", err)
	}
	n.id = id
	return nil
}

// PoorConnection tells the user that the display link is unreliable.
func (n *Notifier) PoorConnection(display, reason string) error {
	summary := i18n.G("Display connection problem")
	body := fmt.Sprintf(i18n.G("The connection to display %s is unreliable (%s). Try another cable or reconnect the display."), display, reason)
	return n.send(summary, body)
}

// Disconnected withdraws the notification shown last, if any.
func (n *Notifier) Disconnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.id == 0 {
		return
	}
	if err := n.obj.Call(iface+".CloseNotification", 0, n.id).Store(); err != nil {
		logger.Debugf("cannot close desktop notification %d: %v", n.id, err)
	}
	n.id = 0
}
