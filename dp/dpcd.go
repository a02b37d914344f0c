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

package dp

import (
	"errors"
	"fmt"
	"time"
)

// Sink register addresses.
const (
	RegRevision            = 0x000
	RegMaxLinkRate         = 0x001
	RegMaxLaneCount        = 0x002
	RegMaxDownspread       = 0x003
	RegDownstreamPortCount = 0x007
	RegDownstreamPresent   = 0x005
	RegTrainingAuxInterval = 0x00e
	CapabilitiesSize       = 0x10

	RegMSTMCap = 0x021

	RegLinkBWSet          = 0x100
	RegLaneCountSet       = 0x101
	RegTrainingPatternSet = 0x102
	RegTrainingLane0Set   = 0x103

	RegMSTMCtrl = 0x111

	RegSinkCount          = 0x200
	RegDeviceServiceIRQ   = 0x201
	RegLane01Status       = 0x202
	RegLaneAlignStatus    = 0x204
	RegAdjustRequestLane0 = 0x206
	LinkStatusSize        = 6

	RegTestRequest    = 0x218
	RegTestLinkRate   = 0x219
	RegTestLaneCount  = 0x220
	RegTestPattern    = 0x221
	RegPHYTestPattern = 0x248
	RegTestResponse   = 0x260

	RegSetPower = 0x600

	RegHDCPBCaps   = 0x68028
	RegHDCP2RxCaps = 0x6921d
)

// MSTM_CTRL bits.
const (
	MSTMCtrlMSTEnable     byte = 1 << 0
	MSTMCtrlUpReqEnable   byte = 1 << 1
	MSTMCtrlUpstreamIsSrc byte = 1 << 2

	MSTMCtrlEnableAll = MSTMCtrlMSTEnable | MSTMCtrlUpReqEnable | MSTMCtrlUpstreamIsSrc
)

// Lane status bits, per nibble.
const (
	laneCRDone       = 1 << 0
	laneChannelEQ    = 1 << 1
	laneSymbolLocked = 1 << 2
)

const (
	alignInterlaneDone     = 1 << 0
	alignDownstreamChanged = 1 << 6
	alignLinkStatusUpdated = 1 << 7
)

const (
	irqAutomatedTest = 1 << 1
	irqCP            = 1 << 2
	irqSinkSpecific  = 1 << 6
)

const (
	testLinkTraining = 1 << 0
	testVideoPattern = 1 << 1
	testEDIDRead     = 1 << 2
	testPHYPattern   = 1 << 3
)

// TEST_RESPONSE values.
const (
	TestResponseAck byte = 1 << 0
	TestResponseNak byte = 1 << 1
)

// SET_POWER values.
const (
	SetPowerD0 byte = 0x01
	SetPowerD3 byte = 0x02
)

// TrainingPattern is the value written to TRAINING_PATTERN_SET.
type TrainingPattern byte

const (
	TrainingPatternNone TrainingPattern = 0x00
	TrainingPattern1    TrainingPattern = 0x21
	TrainingPattern2    TrainingPattern = 0x22
	TrainingPattern3    TrainingPattern = 0x23
	// TPS4 has scrambling enabled, so no scrambling-disable bit
	TrainingPattern4 TrainingPattern = 0x07
)

func (p TrainingPattern) String() string {
	switch p {
	case TrainingPatternNone:
		return "none"
	case TrainingPattern1:
		return "TPS1"
	case TrainingPattern2:
		return "TPS2"
	case TrainingPattern3:
		return "TPS3"
	case TrainingPattern4:
		return "TPS4"
	}
	return fmt.Sprintf("TrainingPattern(%#02x)", byte(p))
}

// ErrCorruptCapabilities is returned when the sink capability block
// cannot be interpreted.
var ErrCorruptCapabilities = errors.New("corrupt sink capabilities")

// SinkCapabilities is the cached copy of the sink capability block.
type SinkCapabilities struct {
	Revision          byte          `json:"revision"`
	MaxRate           LinkRate      `json:"max-rate"`
	MaxLanes          LaneCount     `json:"max-lanes"`
	TPS3              bool          `json:"tps3"`
	TPS4              bool          `json:"tps4"`
	EnhancedFrame     bool          `json:"enhanced-frame"`
	DownstreamPort    bool          `json:"downstream-port"`
	DownstreamPorts   int           `json:"downstream-ports"`
	TrainingInterval  time.Duration `json:"training-interval"`
	MST               bool          `json:"mst"`
	ContentProtection bool          `json:"content-protection"`
	SinkCount         int           `json:"sink-count"`
}

// ParseCapabilities decodes the capability block starting at
// RegRevision.
func ParseCapabilities(block []byte) (*SinkCapabilities, error) {
	if len(block) < CapabilitiesSize {
		return nil, fmt.Errorf("%w: short block of %d bytes", ErrCorruptCapabilities, len(block))
	}
	if block[RegRevision] == 0 || block[RegRevision] == 0xff {
		return nil, fmt.Errorf("%w: invalid revision %#02x", ErrCorruptCapabilities, block[RegRevision])
	}
	rate, err := RateFromCode(block[RegMaxLinkRate])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCapabilities, err)
	}
	lanes := LaneCount(block[RegMaxLaneCount] & 0x1f)
	if !lanes.Valid() {
		return nil, fmt.Errorf("%w: invalid lane count %d", ErrCorruptCapabilities, lanes)
	}

	caps := &SinkCapabilities{
		Revision:        block[RegRevision],
		MaxRate:         rate,
		MaxLanes:        lanes,
		TPS3:            block[RegMaxLaneCount]&(1<<6) != 0,
		EnhancedFrame:   block[RegMaxLaneCount]&(1<<7) != 0,
		TPS4:            block[RegMaxDownspread]&(1<<7) != 0,
		DownstreamPort:  block[RegDownstreamPresent]&(1<<0) != 0,
		DownstreamPorts: int(block[RegDownstreamPortCount] & 0x0f),
	}
	caps.TrainingInterval = TrainingInterval(block[RegTrainingAuxInterval])
	return caps, nil
}

// TrainingInterval decodes TRAINING_AUX_RD_INTERVAL. Zero means the
// default interval which is reported as 0.
func TrainingInterval(v byte) time.Duration {
	v &= 0x7f
	if v > 4 {
		// reserved values; treat as the largest defined interval
		v = 4
	}
	return time.Duration(v) * 4 * time.Millisecond
}

// ParseSinkCount decodes SINK_COUNT.
func ParseSinkCount(v byte) int {
	return int(v&0x3f) | int(v&0x80)>>1
}

// LaneStatus is the decoded result of reading the link status registers.
type LaneStatus struct {
	status [4]byte
	align  byte
	adjust [4]LaneDrive
}

// ParseLaneStatus decodes LinkStatusSize bytes read from RegLane01Status.
func ParseLaneStatus(b []byte) (LaneStatus, error) {
	var ls LaneStatus
	if len(b) < LinkStatusSize {
		return ls, fmt.Errorf("short link status of %d bytes", len(b))
	}
	ls.status[0] = b[0] & 0x0f
	ls.status[1] = b[0] >> 4
	ls.status[2] = b[1] & 0x0f
	ls.status[3] = b[1] >> 4
	ls.align = b[2]
	// b[3] is SINK_STATUS
	for lane := 0; lane < 4; lane++ {
		v := b[4+lane/2] >> (4 * uint(lane%2))
		ls.adjust[lane] = LaneDrive{Swing: int(v & 0x3), PreEmphasis: int(v>>2) & 0x3}
	}
	return ls, nil
}

// ClockRecoveryDone reports whether all of the first lanes have CR lock.
func (ls LaneStatus) ClockRecoveryDone(lanes LaneCount) bool {
	for i := 0; i < int(lanes); i++ {
		if ls.status[i]&laneCRDone == 0 {
			return false
		}
	}
	return true
}

// ChannelEqDone reports whether all of the first lanes are equalized,
// symbol locked and inter-lane aligned.
func (ls LaneStatus) ChannelEqDone(lanes LaneCount) bool {
	if ls.align&alignInterlaneDone == 0 {
		return false
	}
	for i := 0; i < int(lanes); i++ {
		want := byte(laneCRDone | laneChannelEQ | laneSymbolLocked)
		if ls.status[i]&want != want {
			return false
		}
	}
	return true
}

// DownstreamPortStatusChanged reports the DOWNSTREAM_PORT_STATUS_CHANGED
// bit.
func (ls LaneStatus) DownstreamPortStatusChanged() bool {
	return ls.align&alignDownstreamChanged != 0
}

// LinkStatusUpdated reports the LINK_STATUS_UPDATED bit.
func (ls LaneStatus) LinkStatusUpdated() bool {
	return ls.align&alignLinkStatusUpdated != 0
}

// Adjust returns the drive settings the sink requests for lane.
func (ls LaneStatus) Adjust(lane int) LaneDrive {
	return ls.adjust[lane]
}

// EncodeLaneStatus is the inverse of ParseLaneStatus, used by simulated
// sinks.
func EncodeLaneStatus(crDone, eqDone []bool, aligned bool, adjust []LaneDrive) []byte {
	b := make([]byte, LinkStatusSize)
	for lane := 0; lane < 4; lane++ {
		var v byte
		if lane < len(crDone) && crDone[lane] {
			v |= laneCRDone
		}
		if lane < len(eqDone) && eqDone[lane] {
			v |= laneChannelEQ | laneSymbolLocked
		}
		b[lane/2] |= v << (4 * uint(lane%2))
		if lane < len(adjust) {
			a := byte(adjust[lane].Swing&0x3) | byte(adjust[lane].PreEmphasis&0x3)<<2
			b[4+lane/2] |= a << (4 * uint(lane%2))
		}
	}
	if aligned {
		b[2] |= alignInterlaneDone
	}
	return b
}

// SinkRequest are the service requests raised by the sink with a
// hot-plug interrupt.
type SinkRequest struct {
	ContentProtectionIRQ  bool
	SinkSpecificIRQ       bool
	DownstreamPortChanged bool
	LinkStatusUpdated     bool
	TestLinkTraining      bool
	TestVideoPattern      bool
	TestEDIDRead          bool
	TestPHYPattern        bool
}

// ParseSinkRequest combines DEVICE_SERVICE_IRQ_VECTOR, LANE_ALIGN_STATUS
// and TEST_REQUEST.
func ParseSinkRequest(irqVector, alignStatus, testRequest byte) SinkRequest {
	req := SinkRequest{
		ContentProtectionIRQ:  irqVector&irqCP != 0,
		SinkSpecificIRQ:       irqVector&irqSinkSpecific != 0,
		DownstreamPortChanged: alignStatus&alignDownstreamChanged != 0,
		LinkStatusUpdated:     alignStatus&alignLinkStatusUpdated != 0,
	}
	if irqVector&irqAutomatedTest != 0 {
		req.TestLinkTraining = testRequest&testLinkTraining != 0
		req.TestVideoPattern = testRequest&testVideoPattern != 0
		req.TestEDIDRead = testRequest&testEDIDRead != 0
		req.TestPHYPattern = testRequest&testPHYPattern != 0
	}
	return req
}

// AutomatedTest reports whether any automated test was requested.
func (r SinkRequest) AutomatedTest() bool {
	return r.TestLinkTraining || r.TestVideoPattern || r.TestEDIDRead || r.TestPHYPattern
}

// Any reports whether the sink asked for anything at all.
func (r SinkRequest) Any() bool {
	return r.ContentProtectionIRQ || r.SinkSpecificIRQ || r.DownstreamPortChanged ||
		r.LinkStatusUpdated || r.AutomatedTest()
}
