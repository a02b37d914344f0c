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

// Package sim provides a simulated sink and source side hardware that
// implement the hw collaborator contracts. dplinkd uses it when running
// without real hardware and the tests use it as their fake.
package sim

import (
	"fmt"
	"sync"

	"github.com/snapcore/dplink/dp"
)

// SinkConfig describes the capabilities a simulated sink reports.
type SinkConfig struct {
	Revision         byte
	MaxRate          dp.LinkRate
	MaxLanes         dp.LaneCount
	TPS3             bool
	TPS4             bool
	MST              bool
	ContentProtected bool
	DownstreamPort   bool
	SinkCount        int
	TrainingInterval byte
}

// DefaultSinkConfig is a single stream HBR2 x4 sink without
// content protection.
var DefaultSinkConfig = SinkConfig{
	Revision:  0x12,
	MaxRate:   dp.RateHBR2,
	MaxLanes:  4,
	TPS3:      true,
	SinkCount: 1,
}

// Sink is a simulated sink register map with a simple electrical model
// driving link training.
type Sink struct {
	mu   sync.Mutex
	dpcd map[uint32]byte

	// CRSwing is the voltage swing level every lane needs for clock
	// recovery to lock. The sink requests it through the adjust request
	// registers.
	CRSwing int
	// EQPreEmphasis is the pre-emphasis level needed for channel
	// equalization.
	EQPreEmphasis int
	// FailClockRecovery makes clock recovery fail at the given link
	// configuration. The sink then keeps requesting the current levels.
	FailClockRecovery func(lanes dp.LaneCount, rate dp.LinkRate) bool
	// FailChannelEq makes channel equalization fail at the given link
	// configuration.
	FailChannelEq func(lanes dp.LaneCount, rate dp.LinkRate) bool
	// ChurnAdjust makes the sink request a different swing on every
	// status read while never locking.
	ChurnAdjust bool

	churn    int
	patterns []dp.TrainingPattern
	writes   int
}

// NewSink returns a sink reporting cfg.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.Revision == 0 {
		cfg.Revision = 0x12
	}
	s := &Sink{dpcd: make(map[uint32]byte)}
	s.dpcd[dp.RegRevision] = cfg.Revision
	s.dpcd[dp.RegMaxLinkRate] = cfg.MaxRate.Code()
	lanes := byte(cfg.MaxLanes)
	if cfg.TPS3 {
		lanes |= 1 << 6
	}
	lanes |= 1 << 7
	s.dpcd[dp.RegMaxLaneCount] = lanes
	if cfg.TPS4 {
		s.dpcd[dp.RegMaxDownspread] = 1 << 7
	}
	if cfg.DownstreamPort {
		s.dpcd[dp.RegDownstreamPresent] = 1
		s.dpcd[dp.RegDownstreamPortCount] = 1
	}
	s.dpcd[dp.RegTrainingAuxInterval] = cfg.TrainingInterval
	if cfg.MST {
		s.dpcd[dp.RegMSTMCap] = 1
	}
	if cfg.ContentProtected {
		s.dpcd[dp.RegHDCPBCaps] = 1
	}
	s.dpcd[dp.RegSinkCount] = byte(cfg.SinkCount)
	return s
}

// Set stores a raw register value.
func (s *Sink) Set(addr uint32, v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dpcd[addr] = v
}

// Get returns a raw register value as last written.
func (s *Sink) Get(addr uint32) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dpcd[addr]
}

// SetSinkCount changes the number of sinks behind a branch device.
func (s *Sink) SetSinkCount(n int) {
	s.Set(dp.RegSinkCount, byte(n&0x3f))
}

// Patterns returns the training patterns written so far.
func (s *Sink) Patterns() []dp.TrainingPattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dp.TrainingPattern(nil), s.patterns...)
}

// Writes returns the number of register writes seen by the sink.
func (s *Sink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Request describes a sink service request raised with a hot-plug
// interrupt.
type Request struct {
	ContentProtectionIRQ  bool
	DownstreamPortChanged bool
	LinkStatusUpdated     bool
	TestLinkTraining      bool
	TestVideoPattern      bool
	TestPHYPattern        bool
	// VideoPattern is the requested video test pattern id.
	VideoPattern byte
	// PHYPattern is the requested PHY test pattern id.
	PHYPattern byte
}

// Raise latches req in the service request registers.
func (s *Sink) Raise(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var irq, align, test byte
	if req.ContentProtectionIRQ {
		irq |= 1 << 2
	}
	if req.DownstreamPortChanged {
		align |= 1 << 6
	}
	if req.LinkStatusUpdated {
		align |= 1 << 7
	}
	if req.TestLinkTraining {
		test |= 1 << 0
	}
	if req.TestVideoPattern {
		test |= 1 << 1
		s.dpcd[dp.RegTestPattern] = req.VideoPattern
	}
	if req.TestPHYPattern {
		test |= 1 << 3
		s.dpcd[dp.RegPHYTestPattern] = req.PHYPattern
	}
	if test != 0 {
		irq |= 1 << 1
	}
	s.dpcd[dp.RegDeviceServiceIRQ] |= irq
	s.dpcd[dp.RegLaneAlignStatus] |= align
	s.dpcd[dp.RegTestRequest] |= test
}

func (s *Sink) trainingState() (lanes dp.LaneCount, rate dp.LinkRate, pattern dp.TrainingPattern, drive []dp.LaneDrive, err error) {
	rate, err = dp.RateFromCode(s.dpcd[dp.RegLinkBWSet])
	if err != nil {
		return 0, 0, 0, nil, err
	}
	lanes = dp.LaneCount(s.dpcd[dp.RegLaneCountSet] & 0x1f)
	if !lanes.Valid() {
		return 0, 0, 0, nil, fmt.Errorf("invalid lane count %d", lanes)
	}
	pattern = dp.TrainingPattern(s.dpcd[dp.RegTrainingPatternSet])
	drive = make([]dp.LaneDrive, lanes)
	for i := range drive {
		v := s.dpcd[dp.RegTrainingLane0Set+uint32(i)]
		drive[i] = dp.LaneDrive{Swing: int(v & 0x3), PreEmphasis: int(v>>3) & 0x3}
	}
	return lanes, rate, pattern, drive, nil
}

// linkStatus computes the six link status bytes from the programmed
// training state.
func (s *Sink) linkStatus() []byte {
	lanes, rate, pattern, drive, err := s.trainingState()
	if err != nil || pattern == dp.TrainingPatternNone {
		b := make([]byte, dp.LinkStatusSize)
		b[2] = s.dpcd[dp.RegLaneAlignStatus] &^ 1
		if err == nil && pattern == dp.TrainingPatternNone && s.dpcd[dp.RegLinkBWSet] != 0 {
			// trained link keeps its lock
			done := make([]bool, lanes)
			for i := range done {
				done[i] = true
			}
			b = dp.EncodeLaneStatus(done, done, true, nil)
			b[2] |= s.dpcd[dp.RegLaneAlignStatus] &^ 1
		}
		return b
	}

	crOK := s.FailClockRecovery == nil || !s.FailClockRecovery(lanes, rate)
	eqOK := s.FailChannelEq == nil || !s.FailChannelEq(lanes, rate)

	cr := make([]bool, lanes)
	eq := make([]bool, lanes)
	adjust := make([]dp.LaneDrive, lanes)
	allEQ := true
	for i := range drive {
		cr[i] = crOK && !s.ChurnAdjust && drive[i].Swing >= s.CRSwing
		eq[i] = cr[i] && eqOK && pattern != dp.TrainingPattern1 && drive[i].PreEmphasis >= s.EQPreEmphasis
		allEQ = allEQ && eq[i]
		switch {
		case s.ChurnAdjust:
			adjust[i] = dp.LaneDrive{Swing: s.churn % 2}
		case !crOK:
			adjust[i] = drive[i]
		default:
			adjust[i] = dp.LaneDrive{Swing: s.CRSwing, PreEmphasis: s.EQPreEmphasis}
		}
	}
	if s.ChurnAdjust {
		s.churn++
	}
	b := dp.EncodeLaneStatus(cr, eq, allEQ, adjust)
	b[2] |= s.dpcd[dp.RegLaneAlignStatus] &^ 1
	return b
}

func (s *Sink) read(addr uint32, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, n)
	var status []byte
	for i := range out {
		a := addr + uint32(i)
		if a >= dp.RegLane01Status && a < dp.RegLane01Status+dp.LinkStatusSize {
			if status == nil {
				status = s.linkStatus()
			}
			out[i] = status[a-dp.RegLane01Status]
			continue
		}
		out[i] = s.dpcd[a]
	}
	return out
}

func (s *Sink) write(addr uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range data {
		a := addr + uint32(i)
		s.writes++
		switch a {
		case dp.RegDeviceServiceIRQ:
			// write one to clear, acking the interrupt also drops the
			// latched status change bits
			s.dpcd[a] &^= v
			s.dpcd[dp.RegLaneAlignStatus] = 0
			continue
		case dp.RegTestRequest:
			s.dpcd[a] &^= v
			continue
		case dp.RegTrainingPatternSet:
			p := dp.TrainingPattern(v)
			if p != dp.TrainingPatternNone {
				s.patterns = append(s.patterns, p)
			}
		}
		s.dpcd[a] = v
	}
}
