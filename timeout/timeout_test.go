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

package timeout

import (
	"encoding/json"
	"testing"
	"time"

	. "gopkg.in/check.v1"
	"gopkg.in/yaml.v3"
)

// Hook up check.v1 into the "go test" runner
func Test(t *testing.T) { TestingT(t) }

type TimeoutTestSuite struct {
}

var _ = Suite(&TimeoutTestSuite{})

func (s *TimeoutTestSuite) TestTimeoutMarshal(c *C) {
	bs, err := Timeout(2 * time.Second).MarshalJSON()
	c.Assert(err, IsNil)
	c.Check(string(bs), Equals, `"2s"`)
}

type testT struct {
	T Timeout `yaml:"t"`
}

func (s *TimeoutTestSuite) TestTimeoutMarshalIndirect(c *C) {
	bs, err := json.Marshal(testT{Timeout(3 * time.Second)})
	c.Assert(err, IsNil)
	c.Check(string(bs), Equals, `{"T":"3s"}`)
}

func (s *TimeoutTestSuite) TestTimeoutUnmarshal(c *C) {
	var t testT
	c.Assert(json.Unmarshal([]byte(`{"T": "17ms"}`), &t), IsNil)
	c.Check(t, DeepEquals, testT{T: Timeout(17 * time.Millisecond)})
	c.Check(t.T.Duration(), Equals, 17*time.Millisecond)
}

func (s *TimeoutTestSuite) TestTimeoutUnmarshalErrors(c *C) {
	var t testT
	c.Check(json.Unmarshal([]byte(`{"T": "forever"}`), &t), ErrorMatches, `time: invalid duration "forever"`)
	c.Check(json.Unmarshal([]byte(`{"T": "-1s"}`), &t), ErrorMatches, `invalid negative timeout "-1s"`)
	c.Check(json.Unmarshal([]byte(`{"T": 12}`), &t), NotNil)
}

func (s *TimeoutTestSuite) TestTimeoutYAML(c *C) {
	var t testT
	c.Assert(yaml.Unmarshal([]byte("t: 250ms\n"), &t), IsNil)
	c.Check(t.T, Equals, Timeout(250*time.Millisecond))

	out, err := yaml.Marshal(t)
	c.Assert(err, IsNil)
	c.Check(string(out), Equals, "t: 250ms\n")

	c.Check(yaml.Unmarshal([]byte("t: never\n"), &t), ErrorMatches, `time: invalid duration "never"`)
}
