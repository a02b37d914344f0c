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

package netlink_test

import (
	"testing"

	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/osutil/udev/netlink"
)

func Test(t *testing.T) { TestingT(t) }

type netlinkSuite struct{}

var _ = Suite(&netlinkSuite{})

var drmHotplug = []byte("change@/devices/platform/soc/ae00000.qcom,mdss_mdp/drm/card0\x00" +
	"ACTION=change\x00DEVPATH=/devices/platform/soc/ae00000.qcom,mdss_mdp/drm/card0\x00" +
	"SUBSYSTEM=drm\x00HOTPLUG=1\x00CONNECTOR=36\x00DEVNAME=dri/card0\x00SEQNUM=4242\x00")

func (s *netlinkSuite) TestParseUEvent(c *C) {
	ev, err := netlink.ParseUEvent(drmHotplug)
	c.Assert(err, IsNil)
	c.Check(ev.Action, Equals, netlink.CHANGE)
	c.Check(ev.KObj, Equals, "/devices/platform/soc/ae00000.qcom,mdss_mdp/drm/card0")
	c.Check(ev.Env["SUBSYSTEM"], Equals, "drm")
	c.Check(ev.Env["HOTPLUG"], Equals, "1")
	c.Check(ev.Env["CONNECTOR"], Equals, "36")
	c.Check(ev.String(), Equals, "change@/devices/platform/soc/ae00000.qcom,mdss_mdp/drm/card0 SUBSYSTEM=drm DEVNAME=dri/card0 HOTPLUG=1 CONNECTOR=36")
}

func (s *netlinkSuite) TestParseUEventErrors(c *C) {
	for _, tc := range []struct {
		raw string
		err string
	}{
		{"", "empty uevent"},
		{"nonsense\x00", `invalid uevent header "nonsense"`},
		{"jump@/devices/x\x00", `unknown action "jump"`},
		{"add@/devices/x\x00BROKEN\x00", `invalid uevent property "BROKEN"`},
		{"libudev\x00\xfe\xed", "udev-processed events are not supported"},
	} {
		_, err := netlink.ParseUEvent([]byte(tc.raw))
		c.Check(err, ErrorMatches, tc.err, Commentf("%q", tc.raw))
	}
}

func (s *netlinkSuite) TestRules(c *C) {
	ev, err := netlink.ParseUEvent(drmHotplug)
	c.Assert(err, IsNil)

	change := netlink.CHANGE.String()
	add := netlink.ADD.String()

	for i, tc := range []struct {
		rule  netlink.RuleDefinition
		match bool
	}{
		{netlink.RuleDefinition{Env: map[string]string{"SUBSYSTEM": "drm"}}, true},
		{netlink.RuleDefinition{Action: &change, Env: map[string]string{"HOTPLUG": "1"}}, true},
		{netlink.RuleDefinition{Action: &add, Env: map[string]string{"SUBSYSTEM": "drm"}}, false},
		{netlink.RuleDefinition{Env: map[string]string{"SUBSYSTEM": "usb"}}, false},
		{netlink.RuleDefinition{Env: map[string]string{"MISSING": ".*"}}, false},
		{netlink.RuleDefinition{Env: map[string]string{"CONNECTOR": `\d+`}}, true},
	} {
		rule := tc.rule
		c.Assert(rule.Compile(), IsNil)
		c.Check(rule.Evaluate(*ev), Equals, tc.match, Commentf("rule %d", i))
	}
}

func (s *netlinkSuite) TestRuleDefinitions(c *C) {
	ev, err := netlink.ParseUEvent(drmHotplug)
	c.Assert(err, IsNil)

	rules := &netlink.RuleDefinitions{Rules: []netlink.RuleDefinition{
		{Env: map[string]string{"SUBSYSTEM": "usb"}},
		{Env: map[string]string{"SUBSYSTEM": "drm", "HOTPLUG": "1"}},
	}}
	c.Assert(rules.Compile(), IsNil)
	c.Check(rules.Evaluate(*ev), Equals, true)

	bad := &netlink.RuleDefinitions{Rules: []netlink.RuleDefinition{
		{Env: map[string]string{"SUBSYSTEM": "("}},
	}}
	c.Check(bad.Compile(), ErrorMatches, "invalid rule for SUBSYSTEM: .*")
}
