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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/config"
	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/dirs"
	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type configSuite struct{}

var _ = Suite(&configSuite{})

func (s *configSuite) SetUpTest(c *C) {
	dirs.SetRootDir(c.MkDir())
}

func (s *configSuite) TearDownTest(c *C) {
	dirs.SetRootDir("")
}

func (s *configSuite) TestLoadMissingIsDefault(c *C) {
	cfg, err := config.Load(filepath.Join(c.MkDir(), "nope.yaml"))
	c.Assert(err, IsNil)
	c.Check(cfg, DeepEquals, config.Default())
	c.Check(cfg.Socket, Equals, dirs.DplinkSocket)
}

func (s *configSuite) TestParse(c *C) {
	cfg, err := config.Parse([]byte(`
display-name: DP-2
connector: card1-DP-2
source:
  max-rate: HBR2
  max-lanes: 2
  tps4: false
timeouts:
  notify: 2s
  connect-irq: 0s
thresholds:
  training-failures: 3
capability-error-policy: revert
content-protection: false
max-pixel-clock-khz: 600000
`))
	c.Assert(err, IsNil)
	c.Check(cfg.DisplayName, Equals, "DP-2")
	c.Check(cfg.Connector, Equals, "card1-DP-2")
	c.Check(cfg.Source.MaxRate, Equals, dp.RateHBR2)
	c.Check(cfg.Source.MaxLanes, Equals, 2)
	c.Check(cfg.Source.TPS3, Equals, true)
	c.Check(cfg.Source.TPS4, Equals, false)
	c.Check(cfg.Timeouts.Notify.Duration(), Equals, 2*time.Second)
	// unset values keep their defaults
	c.Check(cfg.Timeouts.NotifyExtended.Duration(), Equals, 10*time.Second)
	c.Check(cfg.Thresholds.LinkStatus, Equals, int64(9))

	opts := cfg.Options()
	c.Check(opts.Source.MaxLanes, Equals, dp.LaneCount(2))
	c.Check(opts.NotifyTimeout, Equals, 2*time.Second)
	c.Check(opts.ConnectIRQWait, Equals, time.Duration(-1))
	c.Check(opts.PoorConnectionFailures, Equals, 3)
	c.Check(opts.CapabilityErrorPolicy, Equals, connection.PolicyRevert)
	c.Check(opts.ContentProtection, Equals, false)
	c.Check(opts.MaxPixelClockKHz, Equals, int64(600000))
	c.Check(opts.HDCP.SinkSyncLimit, Equals, 5)
}

func (s *configSuite) TestParseEmpty(c *C) {
	cfg, err := config.Parse(nil)
	c.Assert(err, IsNil)
	c.Check(cfg, DeepEquals, config.Default())
}

func (s *configSuite) TestParseErrors(c *C) {
	for _, t := range []struct {
		in  string
		err string
	}{
		{"source: {max-rate: UHBR}", `cannot parse configuration: .*unknown link rate.*`},
		{"source: {max-lanes: 3}", `invalid source max-lanes 3`},
		{"timeouts: {notify: soon}", `cannot parse configuration: .*invalid duration.*`},
		{"timeouts: {notify: -1s}", `cannot parse configuration: invalid negative timeout "-1s"`},
		{"queue-size: 0", `queue-size must be positive, not 0`},
		{"thresholds: {link-status: 0}", `link-status threshold must be positive, not 0`},
		{"capability-error-policy: shrug", `invalid capability error policy "shrug"`},
		{"bogus: 1", `(?s)cannot parse configuration: .*field bogus not found.*`},
		{"socket: ''", `socket path cannot be empty`},
	} {
		_, err := config.Parse([]byte(t.in))
		c.Check(err, ErrorMatches, t.err, Commentf("%s", t.in))
	}
}

func (s *configSuite) TestLoadFile(c *C) {
	path := filepath.Join(c.MkDir(), "dplink.yaml")
	c.Assert(os.WriteFile(path, []byte("queue-size: 4\n"), 0644), IsNil)
	cfg, err := config.Load(path)
	c.Assert(err, IsNil)
	c.Check(cfg.QueueSize, Equals, 4)

	c.Assert(os.WriteFile(path, []byte("queue-size: -4\n"), 0644), IsNil)
	_, err = config.Load(path)
	c.Check(err, ErrorMatches, `cannot load .*/dplink.yaml: queue-size must be positive, not -4`)
}

func (s *configSuite) TestSaveRoundTrip(c *C) {
	path := filepath.Join(c.MkDir(), "etc", "dplink.yaml")
	cfg := config.Default()
	cfg.Connector = "card1-DP-2"
	cfg.Source.MaxRate = dp.RateHBR
	cfg.CapabilityErrorPolicy = connection.PolicyRevert
	c.Assert(cfg.Save(path), IsNil)

	data, err := os.ReadFile(path)
	c.Assert(err, IsNil)
	c.Check(string(data), testutil.Contains, "max-rate: HBR\n")
	c.Check(string(data), testutil.Contains, "notify: 5s\n")

	back, err := config.Load(path)
	c.Assert(err, IsNil)
	c.Check(back, DeepEquals, cfg)
}
