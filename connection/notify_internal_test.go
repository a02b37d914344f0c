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
	"time"

	. "gopkg.in/check.v1"
)

type completionSuite struct{}

var _ = Suite(&completionSuite{})

func (s *completionSuite) TestAcknowledge(c *C) {
	var ack completion
	done := ack.arm(true)
	c.Check(ack.pending(), Equals, true)
	c.Check(ack.complete(false), Equals, false)
	c.Check(ack.complete(true), Equals, true)
	c.Check(ack.wait(context.Background(), done, time.Hour), IsNil)
	c.Check(ack.pending(), Equals, false)
}

func (s *completionSuite) TestAbortWakesWaiter(c *C) {
	var ack completion
	done := ack.arm(false)
	ack.abort()
	c.Check(ack.wait(context.Background(), done, time.Hour), Equals, ErrAborted)
}

func (s *completionSuite) TestArmDuringTeardownFailsAtOnce(c *C) {
	var ack completion
	ack.abort()

	// a handler arming after the teardown started must not wait
	done := ack.arm(true)
	c.Check(ack.pending(), Equals, false)
	c.Check(ack.complete(true), Equals, false)
	c.Check(ack.wait(context.Background(), done, time.Hour), Equals, ErrAborted)

	ack.release()
	done = ack.arm(true)
	c.Check(ack.pending(), Equals, true)
	c.Check(ack.complete(true), Equals, true)
	c.Check(ack.wait(context.Background(), done, time.Hour), IsNil)
}

func (s *completionSuite) TestOverlappingTeardowns(c *C) {
	var ack completion
	ack.abort()
	ack.abort()
	ack.release()
	c.Check(ack.isBlocked(), Equals, true)
	ack.release()
	c.Check(ack.isBlocked(), Equals, false)
	// unbalanced releases are ignored
	ack.release()
	c.Check(ack.isBlocked(), Equals, false)
}

func (s *completionSuite) TestWaitTimesOut(c *C) {
	var ack completion
	done := ack.arm(true)
	c.Check(ack.wait(context.Background(), done, time.Millisecond), Equals, ErrNotifyTimeout)
}
