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

package testutil_test

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type CheckersSuite struct{}

var _ = Suite(&CheckersSuite{})

func testInfo(c *C, checker Checker, name string, paramNames []string) {
	info := checker.Info()
	if info.Name != name {
		c.Fatalf("Got name %s, expected %s", info.Name, name)
	}
	c.Check(info.Params, DeepEquals, paramNames)
}

func testCheck(c *C, checker Checker, result bool, error string, params ...interface{}) {
	info := checker.Info()
	if len(params) != len(info.Params) {
		c.Fatalf("unexpected param count in test; expected %d got %d", len(info.Params), len(params))
	}
	names := append([]string{}, info.Params...)
	resultActual, errorActual := checker.Check(params, names)
	if resultActual != result || errorActual != error {
		c.Fatalf("%s.Check(%#v) returned (%#v, %#v) rather than (%#v, %#v)",
			info.Name, params, resultActual, errorActual, result, error)
	}
}

func (s *CheckersSuite) TestContains(c *C) {
	testInfo(c, testutil.Contains, "Contains", []string{"haystack", "needle"})
	testCheck(c, testutil.Contains, true, "", "abc", "bc")
	testCheck(c, testutil.Contains, false, "", "abc", "x")
	testCheck(c, testutil.Contains, true, "", []int{1, 2, 3}, 2)
	testCheck(c, testutil.Contains, false, "", []string{"a"}, "b")
	testCheck(c, testutil.Contains, false, "haystack contains items of type int but needle is a string", []int{1}, "1")
	testCheck(c, testutil.Contains, false, "haystack is of unsupported type int", 1, 1)
}

func (s *CheckersSuite) TestErrorIs(c *C) {
	sentinel := errors.New("sentinel")
	testInfo(c, testutil.ErrorIs, "ErrorIs", []string{"error", "target"})
	testCheck(c, testutil.ErrorIs, true, "", fmt.Errorf("wrapped: %w", sentinel), sentinel)
	testCheck(c, testutil.ErrorIs, false, "", errors.New("other"), sentinel)
	testCheck(c, testutil.ErrorIs, true, "", nil, nil)
	testCheck(c, testutil.ErrorIs, false, "first argument must be an error", 1, sentinel)
}

func (s *CheckersSuite) TestInOrder(c *C) {
	testInfo(c, testutil.InOrder, "InOrder", []string{"haystack", "needles"})
	testCheck(c, testutil.InOrder, true, "", []string{"a", "x", "b", "c"}, []string{"a", "b", "c"})
	testCheck(c, testutil.InOrder, false, `missing "a" in order`, []string{"b", "a"}, []string{"b", "a", "a"})
	testCheck(c, testutil.InOrder, false, "haystack must be a []string", 1, []string{})
}

func (s *CheckersSuite) TestMock(c *C) {
	v := 1
	restore := testutil.Mock(&v, 2)
	c.Check(v, Equals, 2)
	restore()
	c.Check(v, Equals, 1)
}

func (s *CheckersSuite) TestHostScaledTimeout(c *C) {
	c.Check(testutil.HostScaledTimeout(time.Second) >= time.Second, Equals, true)
}

func (s *CheckersSuite) TestHostScaledTimeoutOverride(c *C) {
	os.Setenv(testutil.ScaleEnv, "3")
	defer os.Unsetenv(testutil.ScaleEnv)
	c.Check(testutil.HostScaledTimeout(time.Second), Equals, 3*time.Second)
}
