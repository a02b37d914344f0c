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
	"fmt"
	"time"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hdcp"
	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/linktrain"
	"github.com/snapcore/dplink/mst"
)

// CapabilityErrorPolicy decides what a corrupt sink capability block
// leads to.
type CapabilityErrorPolicy string

const (
	// PolicyPoorConnection raises a poor connection signal.
	PolicyPoorConnection CapabilityErrorPolicy = "poor-connection"
	// PolicyRevert quietly stays disconnected.
	PolicyRevert CapabilityErrorPolicy = "revert"
)

func (p CapabilityErrorPolicy) Validate() error {
	switch p {
	case PolicyPoorConnection, PolicyRevert, "":
		return nil
	}
	return fmt.Errorf("invalid capability error policy %q", p)
}

// Notification is the user-visible connect or disconnect signal.
type Notification struct {
	Present     bool   `json:"present"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	BitDepth    int    `json:"bpp"`
	TestPattern int    `json:"pattern"`
}

// Notifier is the external notification consumer. Connect and
// disconnect notifications are acknowledged through
// Manager.Acknowledge.
type Notifier interface {
	Notify(n Notification) error
	// PoorConnection is called with the session lock held; it must not
	// block or call back into the manager.
	PoorConnection(reason string)
}

// Recorder keeps a history of what happened to each physical
// connection.
type Recorder interface {
	Record(session, kind, detail string) error
}

// Options configure a Manager.
type Options struct {
	// Source is what the source side supports. The zero value is HBR3
	// on four lanes with all training patterns.
	Source      linktrain.SourceCaps
	DisplayName string

	QueueSize int

	// NotifyTimeout is the wait for the first acknowledgement; after it
	// the notification is sent once more and NotifyExtendedTimeout is
	// waited.
	NotifyTimeout         time.Duration
	NotifyExtendedTimeout time.Duration
	// ConnectIRQWait is how long a connect notification is held back
	// for a hot-plug interrupt that may follow the rising edge.
	ConnectIRQWait time.Duration

	MSTSettle time.Duration
	Topology  mst.Topology

	// ContentProtection enables the coordinator when the backend has
	// an engine.
	ContentProtection bool
	HDCPArmDelay      time.Duration
	HDCP              hdcp.Options

	// PoorConnectionFailures is the number of consecutive exhausted
	// trainings that make a poor connection.
	PoorConnectionFailures int
	// LinkStatusLimit link status changes are tolerated per
	// LinkStatusWindow before the connection counts as poor.
	LinkStatusLimit       int64
	LinkStatusWindow      time.Duration
	CapabilityErrorPolicy CapabilityErrorPolicy

	MaxPixelClockKHz int64

	Notifier Notifier
	Recorder Recorder
}

const (
	defaultNotifyTimeout          = 5 * time.Second
	defaultNotifyExtendedTimeout  = 10 * time.Second
	defaultConnectIRQWait         = 50 * time.Millisecond
	defaultHDCPArmDelay           = 500 * time.Millisecond
	defaultPoorConnectionFailures = 2
	defaultLinkStatusLimit        = 9
	defaultLinkStatusWindow       = 2 * time.Minute
	defaultDisplayName            = "DP-1"
	defaultBitDepth               = 24
)

func (o *Options) setDefaults() {
	if o.Source == (linktrain.SourceCaps{}) {
		o.Source = linktrain.SourceCaps{MaxRate: dp.MaxRate, MaxLanes: dp.MaxLanes, TPS3: true, TPS4: true}
	}
	if !o.Source.MaxRate.Valid() {
		o.Source.MaxRate = dp.MaxRate
	}
	if !o.Source.MaxLanes.Valid() {
		o.Source.MaxLanes = dp.MaxLanes
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = defaultNotifyTimeout
	}
	if o.NotifyExtendedTimeout <= 0 {
		o.NotifyExtendedTimeout = defaultNotifyExtendedTimeout
	}
	if o.ConnectIRQWait < 0 {
		o.ConnectIRQWait = 0
	} else if o.ConnectIRQWait == 0 {
		o.ConnectIRQWait = defaultConnectIRQWait
	}
	if o.HDCPArmDelay <= 0 {
		o.HDCPArmDelay = defaultHDCPArmDelay
	}
	if o.PoorConnectionFailures <= 0 {
		o.PoorConnectionFailures = defaultPoorConnectionFailures
	}
	if o.LinkStatusLimit <= 0 {
		o.LinkStatusLimit = defaultLinkStatusLimit
	}
	if o.LinkStatusWindow <= 0 {
		o.LinkStatusWindow = defaultLinkStatusWindow
	}
	if o.CapabilityErrorPolicy == "" {
		o.CapabilityErrorPolicy = PolicyPoorConnection
	}
	if o.DisplayName == "" {
		o.DisplayName = defaultDisplayName
	}
}

// LinkConfig is what the hot-plug signal source reports when the
// alternate mode is configured.
type LinkConfig struct {
	PinAssignment hpd.PinAssignment `json:"pin-assignment"`
	Orientation   hpd.Orientation   `json:"orientation"`
	HPDHigh       bool              `json:"hpd-high"`
}

// Stream is a caller request to enable a stream.
type Stream struct {
	ID int `json:"id"`
	// Panel names the caller-owned panel driving the stream.
	Panel string `json:"panel,omitempty"`
	Audio bool   `json:"audio,omitempty"`
}

// StreamInfo is the bookkeeping of one enabled stream.
type StreamInfo struct {
	ID      int             `json:"id"`
	Panel   string          `json:"panel,omitempty"`
	Audio   bool            `json:"audio,omitempty"`
	AudioOn bool            `json:"audio-on,omitempty"`
	Active  bool            `json:"active"`
	Slots   *mst.Allocation `json:"slots,omitempty"`
}
