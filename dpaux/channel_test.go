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

package dpaux_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "gopkg.in/check.v1"
	"gopkg.in/retry.v1"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/dpaux"
	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/hw/sim"
	"github.com/snapcore/dplink/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type channelSuite struct {
	hw *sim.Hardware
	ch *dpaux.Channel
}

var _ = Suite(&channelSuite{})

var fastRetry = retry.LimitCount(3, retry.Exponential{
	Initial: time.Microsecond,
	Factor:  2,
})

func (s *channelSuite) SetUpTest(c *C) {
	s.hw = sim.New()
	s.hw.Attach(sim.NewSink(sim.DefaultSinkConfig))
	s.ch = dpaux.New(s.hw.Registers)
	s.ch.MockRetryStrategy(fastRetry)
}

func (s *channelSuite) TestReadCapabilities(c *C) {
	block, err := s.ch.Read(context.Background(), dp.RegRevision, dp.CapabilitiesSize)
	c.Assert(err, IsNil)
	c.Assert(block, HasLen, dp.CapabilitiesSize)
	caps, err := dp.ParseCapabilities(block)
	c.Assert(err, IsNil)
	c.Check(caps.MaxRate, Equals, dp.RateHBR2)
	c.Check(caps.MaxLanes, Equals, dp.LaneCount(4))
}

func (s *channelSuite) TestChunkedWriteRead(c *C) {
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i + 1)
	}
	// an unused scratch area
	c.Assert(s.ch.Write(context.Background(), 0x300, data), IsNil)
	c.Check(s.hw.Sink().Writes(), Equals, 40)

	out, err := s.ch.Read(context.Background(), 0x300, 40)
	c.Assert(err, IsNil)
	c.Check(out, DeepEquals, data)
}

func (s *channelSuite) TestRegHelpers(c *C) {
	c.Assert(s.ch.WriteReg(context.Background(), dp.RegMSTMCtrl, 0x07), IsNil)
	v, err := s.ch.ReadReg(context.Background(), dp.RegMSTMCtrl)
	c.Assert(err, IsNil)
	c.Check(v, Equals, byte(0x07))
}

func (s *channelSuite) TestRetriesTransientErrors(c *C) {
	s.hw.InjectAuxErrors(hw.ErrAuxDefer, hw.ErrAuxTimeout)
	v, err := s.ch.ReadReg(context.Background(), dp.RegRevision)
	c.Assert(err, IsNil)
	c.Check(v, Equals, byte(0x12))
}

func (s *channelSuite) TestRetriesBounded(c *C) {
	s.hw.InjectAuxErrors(hw.ErrAuxNack, hw.ErrAuxNack, hw.ErrAuxNack, hw.ErrAuxNack)
	_, err := s.ch.ReadReg(context.Background(), dp.RegRevision)
	c.Check(err, testutil.ErrorIs, hw.ErrAuxNack)
	c.Check(err, ErrorMatches, "cannot read 1 bytes at 0x0: aux transfer not acknowledged")
}

func (s *channelSuite) TestNoSinkNotRetried(c *C) {
	s.hw.Detach()
	s.hw.InjectAuxErrors(hw.ErrNoSink, hw.ErrAuxDefer)
	_, err := s.ch.ReadReg(context.Background(), dp.RegRevision)
	c.Check(err, testutil.ErrorIs, hw.ErrNoSink)

	// the queued defer was not consumed by a retry
	s.hw.Attach(sim.NewSink(sim.DefaultSinkConfig))
	v, err := s.ch.ReadReg(context.Background(), dp.RegRevision)
	c.Check(err, IsNil)
	c.Check(v, Equals, byte(0x12))
}

func (s *channelSuite) TestOtherErrorsNotRetried(c *C) {
	boom := errors.New("boom")
	s.hw.InjectAuxErrors(boom)
	err := s.ch.WriteReg(context.Background(), dp.RegMSTMCtrl, 0)
	c.Check(err, testutil.ErrorIs, boom)
	c.Check(err, ErrorMatches, "cannot write 1 bytes at 0x111: boom")
}

func (s *channelSuite) TestAbort(c *C) {
	s.ch.Abort(true)
	c.Check(s.ch.Aborted(), Equals, true)
	_, err := s.ch.ReadReg(context.Background(), dp.RegRevision)
	c.Check(err, testutil.ErrorIs, dpaux.ErrAborted)

	s.ch.Abort(false)
	_, err = s.ch.ReadReg(context.Background(), dp.RegRevision)
	c.Check(err, IsNil)
}

func (s *channelSuite) TestContextCancelled(c *C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ch.ReadReg(ctx, dp.RegRevision)
	c.Check(err, testutil.ErrorIs, context.Canceled)
}
