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

// Package linktrain implements the link training procedure: clock
// recovery, channel equalization and rate/lane fallback.
package linktrain

import (
	"context"
	"fmt"
	"time"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/dpaux"
	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/logger"
)

const (
	// maxClockRecoveryUnchanged is the number of attempts with the same
	// drive levels after which clock recovery gives up.
	maxClockRecoveryUnchanged = 5
	// maxClockRecoveryLoops bounds a single clock recovery run even if
	// the sink keeps asking for new levels.
	maxClockRecoveryLoops = 10
	maxChannelEqAttempts  = 6

	defaultClockRecoveryDelay = 100 * time.Microsecond
	defaultChannelEqDelay     = 400 * time.Microsecond
)

var timeSleep = time.Sleep

// Phase is a step of the training state machine.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseClockRecovery
	PhaseChannelEq
	PhaseFallback
	PhaseDone
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseClockRecovery:
		return "clock-recovery"
	case PhaseChannelEq:
		return "channel-equalization"
	case PhaseFallback:
		return "fallback"
	case PhaseDone:
		return "done"
	case PhaseExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// SourceCaps are the capabilities of the source side of the link.
type SourceCaps struct {
	MaxRate  dp.LinkRate
	MaxLanes dp.LaneCount
	TPS3     bool
	TPS4     bool
}

// Trainer trains the main link. It is not safe for concurrent use; the
// connection manager invokes it under its session lock.
type Trainer struct {
	aux    *dpaux.Channel
	link   hw.Link
	source SourceCaps
}

// New returns a trainer programming the sink over aux and the source
// over link.
func New(aux *dpaux.Channel, link hw.Link, source SourceCaps) *Trainer {
	return &Trainer{aux: aux, link: link, source: source}
}

// session is one run of Train.
type session struct {
	t    *Trainer
	caps *dp.SinkCapabilities

	// ceiling for fallback rate resets
	maxRate dp.LinkRate
	params  dp.LinkParameters

	failedPhase Phase
	failure     error
	tried       []dp.LinkParameters
}

// Train brings up the link with up to the requested rate and lane count,
// clamped to what both ends support, stepping down on failure.
func (t *Trainer) Train(ctx context.Context, caps *dp.SinkCapabilities, rate dp.LinkRate, lanes dp.LaneCount) (dp.LinkParameters, error) {
	if caps == nil {
		return dp.LinkParameters{}, fmt.Errorf("cannot train link without sink capabilities")
	}
	if !rate.Valid() {
		rate = dp.MaxRate
	}
	rate = dp.MinRateOf(dp.MinRateOf(rate, t.source.MaxRate), caps.MaxRate)
	lanes = dp.MinLanesOf(dp.MinLanesOf(lanes, t.source.MaxLanes), caps.MaxLanes)

	s := &session{
		t:       t,
		caps:    caps,
		maxRate: rate,
		params:  dp.LinkParameters{Lanes: lanes, Rate: rate},
	}
	logger.Debugf("starting link training at %s", s.params)

	phase := PhaseSetup
	for phase != PhaseDone && phase != PhaseExhausted {
		if err := s.checkAbort(ctx); err != nil {
			return dp.LinkParameters{}, s.error(phase, err)
		}
		next, err := s.transition(ctx, phase)
		if err != nil {
			return dp.LinkParameters{}, s.error(phase, err)
		}
		phase = next
	}

	if phase == PhaseExhausted {
		if err := s.stopPattern(ctx); err != nil {
			logger.Debugf("cannot stop training pattern: %v", err)
		}
		return dp.LinkParameters{}, &TrainingError{
			Phase:  s.failedPhase,
			Params: s.params,
			Tried:  s.tried,
			Err:    ErrTrainingExhausted,
			Cause:  s.failure,
		}
	}
	logger.Noticef("link trained at %s", s.params)
	return s.params, nil
}

func (s *session) error(phase Phase, err error) error {
	return &TrainingError{Phase: phase, Params: s.params, Tried: s.tried, Err: err}
}

func (s *session) checkAbort(ctx context.Context) error {
	if s.t.aux.Aborted() {
		return ErrAborted
	}
	if ctx.Err() != nil {
		return ErrAborted
	}
	return nil
}

// transition runs phase and returns the next one.
func (s *session) transition(ctx context.Context, phase Phase) (Phase, error) {
	switch phase {
	case PhaseSetup:
		return s.setup(ctx)
	case PhaseClockRecovery:
		return s.phaseResult(PhaseClockRecovery, PhaseChannelEq, s.clockRecovery(ctx))
	case PhaseChannelEq:
		next, err := s.phaseResult(PhaseChannelEq, PhaseDone, s.channelEq(ctx))
		if err == nil && next == PhaseDone {
			err = s.finish(ctx)
		}
		return next, err
	case PhaseFallback:
		return s.fallback(), nil
	case PhaseDone:
		return PhaseDone, nil
	}
	return PhaseExhausted, fmt.Errorf("internal error: unexpected training phase %s", phase)
}

// phaseResult maps the outcome of a training phase: protocol failures
// move to fallback, anything else is fatal.
func (s *session) phaseResult(phase, next Phase, err error) (Phase, error) {
	switch err {
	case nil:
		return next, nil
	case ErrClockRecoveryFailed, ErrChannelEqFailed:
		logger.Debugf("%s failed at %s", phase, s.params)
		s.failedPhase = phase
		s.failure = err
		return PhaseFallback, nil
	}
	return phase, err
}

func (s *session) setup(ctx context.Context) (Phase, error) {
	s.params.Drive = [4]dp.LaneDrive{}
	s.params.Trained = false
	s.tried = append(s.tried, dp.LinkParameters{Lanes: s.params.Lanes, Rate: s.params.Rate})

	link := s.t.link
	if err := link.SetPHYState(hw.PHYLowPower); err != nil {
		return PhaseSetup, err
	}
	if err := link.ConfigureLink(s.params.Lanes, s.params.Rate); err != nil {
		return PhaseSetup, err
	}
	if err := link.SetPHYState(hw.PHYActive); err != nil {
		return PhaseSetup, err
	}
	if err := link.SetDrive(s.drive()); err != nil {
		return PhaseSetup, err
	}

	laneSet := byte(s.params.Lanes)
	if s.caps.EnhancedFrame {
		laneSet |= 1 << 7
	}
	if err := s.t.aux.Write(ctx, dp.RegLinkBWSet, []byte{s.params.Rate.Code(), laneSet}); err != nil {
		return PhaseSetup, err
	}
	return PhaseClockRecovery, nil
}

func (s *session) drive() []dp.LaneDrive {
	return append([]dp.LaneDrive(nil), s.params.Drive[:s.params.Lanes]...)
}

// program sends pattern and the current drive levels to both ends.
func (s *session) program(ctx context.Context, pattern dp.TrainingPattern) error {
	if err := s.t.link.SetTrainingPattern(pattern); err != nil {
		return err
	}
	if err := s.t.link.SetDrive(s.drive()); err != nil {
		return err
	}
	buf := []byte{byte(pattern)}
	for _, d := range s.drive() {
		buf = append(buf, d.TrainingLaneSet())
	}
	return s.t.aux.Write(ctx, dp.RegTrainingPatternSet, buf)
}

// updateDrive only rewrites the lane settings.
func (s *session) updateDrive(ctx context.Context) error {
	if err := s.t.link.SetDrive(s.drive()); err != nil {
		return err
	}
	var buf []byte
	for _, d := range s.drive() {
		buf = append(buf, d.TrainingLaneSet())
	}
	return s.t.aux.Write(ctx, dp.RegTrainingLane0Set, buf)
}

func (s *session) readStatus(ctx context.Context) (dp.LaneStatus, error) {
	b, err := s.t.aux.Read(ctx, dp.RegLane01Status, dp.LinkStatusSize)
	if err != nil {
		return dp.LaneStatus{}, err
	}
	return dp.ParseLaneStatus(b)
}

// requested returns the drive levels the sink asks for, applied to all
// lanes using the highest request of any lane.
func (s *session) requested(status dp.LaneStatus) [4]dp.LaneDrive {
	var max dp.LaneDrive
	for i := 0; i < int(s.params.Lanes); i++ {
		a := status.Adjust(i)
		if a.Swing > max.Swing {
			max.Swing = a.Swing
		}
		if a.PreEmphasis > max.PreEmphasis {
			max.PreEmphasis = a.PreEmphasis
		}
	}
	max = max.Clamp()
	var drive [4]dp.LaneDrive
	for i := 0; i < int(s.params.Lanes); i++ {
		drive[i] = max
	}
	return drive
}

func (s *session) allMaxSwing() bool {
	for _, d := range s.drive() {
		if !d.MaxSwing() {
			return false
		}
	}
	return true
}

func (s *session) delay(dflt time.Duration) {
	if s.caps.TrainingInterval > 0 {
		timeSleep(s.caps.TrainingInterval)
		return
	}
	timeSleep(dflt)
}

func (s *session) clockRecovery(ctx context.Context) error {
	if err := s.program(ctx, dp.TrainingPattern1); err != nil {
		return err
	}

	unchanged := 0
	for loop := 0; loop < maxClockRecoveryLoops; loop++ {
		if err := s.checkAbort(ctx); err != nil {
			return err
		}
		s.delay(defaultClockRecoveryDelay)

		status, err := s.readStatus(ctx)
		if err != nil {
			return err
		}
		if status.ClockRecoveryDone(s.params.Lanes) {
			return nil
		}
		if s.allMaxSwing() {
			logger.Debugf("clock recovery: max swing reached at %s", s.params)
			return ErrClockRecoveryFailed
		}

		next := s.requested(status)
		if next == s.params.Drive {
			unchanged++
			if unchanged >= maxClockRecoveryUnchanged {
				return ErrClockRecoveryFailed
			}
			continue
		}
		// the sink is still converging
		unchanged = 0
		s.params.Drive = next
		if err := s.updateDrive(ctx); err != nil {
			return err
		}
	}
	return ErrClockRecoveryFailed
}

// channelEqPattern picks the highest pattern both ends support at the
// current rate.
func (s *session) channelEqPattern() dp.TrainingPattern {
	src := s.t.source
	switch {
	case s.params.Rate == dp.MaxRate && src.TPS4 && s.caps.TPS4:
		return dp.TrainingPattern4
	case src.TPS3 && s.caps.TPS3:
		return dp.TrainingPattern3
	}
	return dp.TrainingPattern2
}

func (s *session) channelEq(ctx context.Context) error {
	if err := s.program(ctx, s.channelEqPattern()); err != nil {
		return err
	}

	for attempt := 0; attempt < maxChannelEqAttempts; attempt++ {
		if err := s.checkAbort(ctx); err != nil {
			return err
		}
		s.delay(defaultChannelEqDelay)

		status, err := s.readStatus(ctx)
		if err != nil {
			return err
		}
		if !status.ClockRecoveryDone(s.params.Lanes) {
			logger.Debugf("channel equalization: lost clock recovery at %s", s.params)
			return ErrChannelEqFailed
		}
		if status.ChannelEqDone(s.params.Lanes) {
			return nil
		}
		if next := s.requested(status); next != s.params.Drive {
			s.params.Drive = next
			if err := s.updateDrive(ctx); err != nil {
				return err
			}
		}
	}
	return ErrChannelEqFailed
}

// fallback steps the rate down first and the lane count once the lowest
// rate failed.
func (s *session) fallback() Phase {
	if rate, ok := s.params.Rate.Lower(); ok {
		s.params.Rate = rate
		logger.Debugf("falling back to %s", s.params)
		return PhaseSetup
	}
	if lanes, ok := s.params.Lanes.Lower(); ok {
		s.params.Lanes = lanes
		s.params.Rate = s.maxRate
		logger.Debugf("falling back to %s", s.params)
		return PhaseSetup
	}
	logger.Noticef("link training exhausted all fallbacks after %d attempts", len(s.tried))
	return PhaseExhausted
}

func (s *session) stopPattern(ctx context.Context) error {
	if err := s.t.link.SetTrainingPattern(dp.TrainingPatternNone); err != nil {
		return err
	}
	return s.t.aux.WriteReg(ctx, dp.RegTrainingPatternSet, byte(dp.TrainingPatternNone))
}

func (s *session) finish(ctx context.Context) error {
	if err := s.stopPattern(ctx); err != nil {
		return err
	}
	if err := s.t.link.EnableMainLink(true); err != nil {
		return err
	}
	s.params.Trained = true
	return nil
}
