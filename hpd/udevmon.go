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

package hpd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/tomb.v2"

	"github.com/snapcore/dplink/dirs"
	"github.com/snapcore/dplink/logger"
	"github.com/snapcore/dplink/osutil/udev/netlink"
)

// ReportFunc receives a report for every DRM hotplug uevent seen for the
// monitored connector.
type ReportFunc func(r Report)

type ueventConn interface {
	Connect(mode netlink.Mode) error
	Close() error
	Monitor(queue chan netlink.UEvent, errors chan error, matcher netlink.Matcher) (stop func(), err error)
}

var newUEventConn = func() ueventConn {
	return &netlink.UEventConn{}
}

// Monitor watches kernel DRM hotplug uevents and reads the connector
// status from sysfs.
type Monitor struct {
	tomb      tomb.Tomb
	connector string
	report    ReportFunc

	conn        ueventConn
	monitorStop func()
	events      chan netlink.UEvent
	errors      chan error

	connected bool
}

// NewMonitor returns a monitor for the named DRM connector, for example
// "card0-DP-1". With an empty name the first DisplayPort connector found
// in sysfs is used.
func NewMonitor(connector string, report ReportFunc) *Monitor {
	return &Monitor{
		connector: connector,
		report:    report,
		conn:      newUEventConn(),
		events:    make(chan netlink.UEvent),
		errors:    make(chan error),
	}
}

func drmHotplugRules() netlink.Matcher {
	change := string(netlink.CHANGE)
	return &netlink.RuleDefinitions{
		Rules: []netlink.RuleDefinition{{
			Action: &change,
			Env: map[string]string{
				"SUBSYSTEM": "drm",
				"HOTPLUG":   "1",
			},
		}},
	}
}

// Connect opens the uevent socket.
func (m *Monitor) Connect() error {
	if m.conn == nil || m.monitorStop != nil {
		return fmt.Errorf("cannot connect: already connected")
	}
	if err := m.conn.Connect(netlink.KernelEvent); err != nil {
		return fmt.Errorf("cannot start uevent monitor: %v", err)
	}
	stop, err := m.conn.Monitor(m.events, m.errors, drmHotplugRules())
	if err != nil {
		m.conn.Close()
		return fmt.Errorf("cannot start uevent monitor: %v", err)
	}
	m.monitorStop = stop
	return nil
}

// Disconnect closes the uevent socket.
func (m *Monitor) Disconnect() error {
	if m.monitorStop != nil {
		m.monitorStop()
		m.monitorStop = nil
	}
	return m.conn.Close()
}

// Run reports the current connector state and then keeps reporting on
// every hotplug uevent until Stop is called. It returns immediately.
func (m *Monitor) Run() error {
	if m.connector == "" {
		name, err := FindConnector()
		if err != nil {
			return err
		}
		m.connector = name
	}
	logger.Debugf("monitoring connector %s", m.connector)

	m.tomb.Go(func() error {
		m.check(false)
		for {
			select {
			case err := <-m.errors:
				logger.Noticef("netlink error: %q", err)
			case ev := <-m.events:
				m.udevEvent(&ev)
			case <-m.tomb.Dying():
				return m.Disconnect()
			}
		}
	})
	return nil
}

// Stop stops the monitor and waits for it to finish.
func (m *Monitor) Stop() error {
	m.tomb.Kill(nil)
	err := m.tomb.Wait()
	m.conn = nil
	return err
}

func (m *Monitor) udevEvent(ev *netlink.UEvent) {
	logger.Debugf("uevent: %s", ev)
	m.check(true)
}

// check reads the connector status. A hotplug uevent while the connector
// stays connected is a sink interrupt.
func (m *Monitor) check(fromUEvent bool) {
	connected, err := ConnectorStatus(m.connector)
	if err != nil {
		logger.Noticef("cannot read status of %s: %v", m.connector, err)
		return
	}
	wasConnected := m.connected
	m.connected = connected
	if !connected && !wasConnected && fromUEvent {
		return
	}
	r := Report{
		Attached: connected,
		HPDHigh:  connected,
		IRQ:      connected && wasConnected && fromUEvent,
	}
	if connected {
		r.Configured = true
		r.PinAssignment = PinAssignmentC
	}
	m.report(r)
}

// FindConnector returns the name of the first DisplayPort connector in
// sysfs.
func FindConnector() (string, error) {
	matches, err := doublestar.Glob(os.DirFS(dirs.SysfsDRMDir), "card*-DP-*/status")
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("cannot find a DisplayPort connector in %s", dirs.SysfsDRMDir)
	}
	sort.Strings(matches)
	return filepath.Dir(matches[0]), nil
}

// ConnectorStatus reports whether the DRM connector sees a sink.
func ConnectorStatus(connector string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dirs.SysfsDRMDir, connector, "status"))
	if err != nil {
		return false, err
	}
	switch status := strings.TrimSpace(string(data)); status {
	case "connected":
		return true, nil
	case "disconnected", "unknown":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected connector status %q", status)
	}
}
