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

// Package config loads the dplinkd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/dirs"
	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hdcp"
	"github.com/snapcore/dplink/linktrain"
	"github.com/snapcore/dplink/osutil"
	"github.com/snapcore/dplink/timeout"
)

// Source describes the transmitter side of the link.
type Source struct {
	MaxRate  dp.LinkRate `yaml:"max-rate"`
	MaxLanes int         `yaml:"max-lanes"`
	TPS3     bool        `yaml:"tps3"`
	TPS4     bool        `yaml:"tps4"`
}

// Timeouts groups the waits of the controller.
type Timeouts struct {
	Notify         timeout.Timeout `yaml:"notify"`
	NotifyExtended timeout.Timeout `yaml:"notify-extended"`
	ConnectIRQ     timeout.Timeout `yaml:"connect-irq"`
	MSTSettle      timeout.Timeout `yaml:"mst-settle"`
	HDCPArm        timeout.Timeout `yaml:"hdcp-arm"`
	HDCPRetry      timeout.Timeout `yaml:"hdcp-retry"`
	LinkStatus     timeout.Timeout `yaml:"link-status-window"`
}

// Thresholds are the failure counts that make a poor connection.
type Thresholds struct {
	TrainingFailures int   `yaml:"training-failures"`
	LinkStatus       int64 `yaml:"link-status"`
	HDCPSinkSync     int   `yaml:"hdcp-sink-sync"`
	HDCPAuthRetries  int   `yaml:"hdcp-auth-retries"`
}

// Config is the content of the configuration file.
type Config struct {
	DisplayName string `yaml:"display-name"`
	Socket      string `yaml:"socket"`
	Journal     string `yaml:"journal"`
	// Connector is the DRM connector watched for hot-plug, for example
	// "card0-DP-1". Empty means the first DisplayPort connector.
	Connector string `yaml:"connector"`

	Source     Source     `yaml:"source"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Thresholds Thresholds `yaml:"thresholds"`

	QueueSize             int                              `yaml:"queue-size"`
	CapabilityErrorPolicy connection.CapabilityErrorPolicy `yaml:"capability-error-policy"`
	ContentProtection     bool                             `yaml:"content-protection"`
	MaxPixelClockKHz      int64                            `yaml:"max-pixel-clock-khz"`
	DesktopNotifications  bool                             `yaml:"desktop-notifications"`
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	return &Config{
		DisplayName: "DP-1",
		Socket:      dirs.DplinkSocket,
		Journal:     dirs.DplinkJournalFile,
		Source: Source{
			MaxRate:  dp.MaxRate,
			MaxLanes: int(dp.MaxLanes),
			TPS3:     true,
			TPS4:     true,
		},
		Timeouts: Timeouts{
			Notify:         timeout.Timeout(5 * time.Second),
			NotifyExtended: timeout.Timeout(10 * time.Second),
			ConnectIRQ:     timeout.Timeout(50 * time.Millisecond),
			MSTSettle:      timeout.Timeout(100 * time.Millisecond),
			HDCPArm:        timeout.Timeout(500 * time.Millisecond),
			HDCPRetry:      timeout.Timeout(250 * time.Millisecond),
			LinkStatus:     timeout.Timeout(2 * time.Minute),
		},
		Thresholds: Thresholds{
			TrainingFailures: 2,
			LinkStatus:       9,
			HDCPSinkSync:     5,
			HDCPAuthRetries:  3,
		},
		QueueSize:             16,
		CapabilityErrorPolicy: connection.PolicyPoorConnection,
		ContentProtection:     true,
	}
}

// Load reads the file at path over the defaults. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration: %v", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("cannot load %s: %v", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, replacing any previous file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cannot marshal configuration: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return osutil.AtomicWriteFile(path, data, 0644)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot parse configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values for consistency.
func (c *Config) Validate() error {
	if !c.Source.MaxRate.Valid() {
		return fmt.Errorf("invalid source max-rate %d", c.Source.MaxRate)
	}
	if !dp.LaneCount(c.Source.MaxLanes).Valid() {
		return fmt.Errorf("invalid source max-lanes %d", c.Source.MaxLanes)
	}
	if c.Socket == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue-size must be positive, not %d", c.QueueSize)
	}
	if c.Thresholds.TrainingFailures < 1 {
		return fmt.Errorf("training-failures threshold must be positive, not %d", c.Thresholds.TrainingFailures)
	}
	if c.Thresholds.LinkStatus < 1 {
		return fmt.Errorf("link-status threshold must be positive, not %d", c.Thresholds.LinkStatus)
	}
	if c.MaxPixelClockKHz < 0 {
		return fmt.Errorf("invalid max-pixel-clock-khz %d", c.MaxPixelClockKHz)
	}
	return c.CapabilityErrorPolicy.Validate()
}

// Options returns the connection options described by the
// configuration. Collaborators that are not configuration are left
// empty.
func (c *Config) Options() connection.Options {
	t := c.Timeouts
	return connection.Options{
		Source: linktrain.SourceCaps{
			MaxRate:  c.Source.MaxRate,
			MaxLanes: dp.LaneCount(c.Source.MaxLanes),
			TPS3:     c.Source.TPS3,
			TPS4:     c.Source.TPS4,
		},
		DisplayName:           c.DisplayName,
		QueueSize:             c.QueueSize,
		NotifyTimeout:         t.Notify.Duration(),
		NotifyExtendedTimeout: t.NotifyExtended.Duration(),
		ConnectIRQWait:        connectIRQWait(t.ConnectIRQ),
		MSTSettle:             t.MSTSettle.Duration(),
		ContentProtection:     c.ContentProtection,
		HDCPArmDelay:          t.HDCPArm.Duration(),
		HDCP: hdcp.Options{
			SinkSyncLimit: c.Thresholds.HDCPSinkSync,
			AuthRetries:   c.Thresholds.HDCPAuthRetries,
			RetryDelay:    t.HDCPRetry.Duration(),
		},
		PoorConnectionFailures: c.Thresholds.TrainingFailures,
		LinkStatusLimit:        c.Thresholds.LinkStatus,
		LinkStatusWindow:       t.LinkStatus.Duration(),
		CapabilityErrorPolicy:  c.CapabilityErrorPolicy,
		MaxPixelClockKHz:       c.MaxPixelClockKHz,
	}
}

// a configured zero wait means no wait at all
func connectIRQWait(t timeout.Timeout) time.Duration {
	if t == 0 {
		return -1
	}
	return t.Duration()
}
