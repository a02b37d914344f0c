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

// Package dp models the DisplayPort link: rates, lane counts, drive
// levels, sink capabilities and the register layout used to talk to the
// sink over the AUX channel.
package dp

import (
	"fmt"
)

// LinkRate is a per-lane link rate, ordered from lowest to highest.
type LinkRate int

const (
	RateRBR LinkRate = iota
	RateHBR
	RateHBR2
	RateHBR3
)

const (
	MinRate = RateRBR
	MaxRate = RateHBR3
)

var rateInfo = []struct {
	name string
	code byte
	kbps int64 // per lane, symbol rate in kbit/s
}{
	RateRBR:  {"RBR", 0x06, 1620000},
	RateHBR:  {"HBR", 0x0a, 2700000},
	RateHBR2: {"HBR2", 0x14, 5400000},
	RateHBR3: {"HBR3", 0x1e, 8100000},
}

// Valid reports whether r is a known rate.
func (r LinkRate) Valid() bool {
	return r >= MinRate && r <= MaxRate
}

func (r LinkRate) String() string {
	if !r.Valid() {
		return fmt.Sprintf("LinkRate(%d)", int(r))
	}
	return rateInfo[r].name
}

// Code is the LINK_BW_SET encoding of the rate.
func (r LinkRate) Code() byte {
	return rateInfo[r].code
}

// Kbps is the per lane bit rate in kbit/s.
func (r LinkRate) Kbps() int64 {
	return rateInfo[r].kbps
}

// Lower returns the next lower rate and false if r is already the lowest.
func (r LinkRate) Lower() (LinkRate, bool) {
	if r <= MinRate {
		return r, false
	}
	return r - 1, true
}

// RateFromCode decodes a MAX_LINK_RATE / LINK_BW_SET value.
func RateFromCode(code byte) (LinkRate, error) {
	for r, info := range rateInfo {
		if info.code == code {
			return LinkRate(r), nil
		}
	}
	return 0, fmt.Errorf("unknown link rate code %#02x", code)
}

// ParseLinkRate parses a rate name such as "HBR2".
func ParseLinkRate(s string) (LinkRate, error) {
	for r, info := range rateInfo {
		if info.name == s {
			return LinkRate(r), nil
		}
	}
	return 0, fmt.Errorf("unknown link rate %q", s)
}

func (r LinkRate) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid link rate %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *LinkRate) UnmarshalText(text []byte) error {
	v, err := ParseLinkRate(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// MinRateOf returns the lower of two rates.
func MinRateOf(a, b LinkRate) LinkRate {
	if a < b {
		return a
	}
	return b
}

// LaneCount is the number of active main link lanes.
type LaneCount int

const MaxLanes LaneCount = 4

// Valid reports whether n is 1, 2 or 4.
func (n LaneCount) Valid() bool {
	return n == 1 || n == 2 || n == 4
}

// Lower returns the next lower lane count and false if n is already 1.
func (n LaneCount) Lower() (LaneCount, bool) {
	switch n {
	case 4:
		return 2, true
	case 2:
		return 1, true
	}
	return n, false
}

// Clamp returns the largest valid lane count not greater than n, or 1.
func (n LaneCount) Clamp() LaneCount {
	switch {
	case n >= 4:
		return 4
	case n >= 2:
		return 2
	}
	return 1
}

// MinLanesOf returns the lower of two lane counts, reduced to a valid one.
func MinLanesOf(a, b LaneCount) LaneCount {
	if a < b {
		return a.Clamp()
	}
	return b.Clamp()
}

const (
	MaxSwingLevel       = 3
	MaxPreEmphasisLevel = 3
)

// LaneDrive are the electrical drive settings of one lane.
type LaneDrive struct {
	Swing       int `json:"swing"`
	PreEmphasis int `json:"pre-emphasis"`
}

// MaxSwing reports whether the swing level cannot be raised further.
func (d LaneDrive) MaxSwing() bool {
	return d.Swing >= MaxSwingLevel
}

// MaxPreEmphasis reports whether the pre-emphasis level cannot be raised
// further.
func (d LaneDrive) MaxPreEmphasis() bool {
	return d.PreEmphasis >= MaxPreEmphasisLevel
}

// Clamp limits the drive settings to the valid range. Swing and
// pre-emphasis levels add up to at most 3.
func (d LaneDrive) Clamp() LaneDrive {
	if d.Swing > MaxSwingLevel {
		d.Swing = MaxSwingLevel
	}
	if d.Swing < 0 {
		d.Swing = 0
	}
	if d.PreEmphasis > MaxPreEmphasisLevel-d.Swing {
		d.PreEmphasis = MaxPreEmphasisLevel - d.Swing
	}
	if d.PreEmphasis < 0 {
		d.PreEmphasis = 0
	}
	return d
}

// TrainingLaneSet encodes the drive settings as a TRAINING_LANEx_SET
// value, including the max-reached flags.
func (d LaneDrive) TrainingLaneSet() byte {
	v := byte(d.Swing&0x3) | byte(d.PreEmphasis&0x3)<<3
	if d.MaxSwing() {
		v |= 1 << 2
	}
	if d.MaxPreEmphasis() || d.Swing+d.PreEmphasis >= MaxSwingLevel {
		v |= 1 << 5
	}
	return v
}

// LinkParameters is the negotiated link configuration.
type LinkParameters struct {
	Lanes   LaneCount    `json:"lanes"`
	Rate    LinkRate     `json:"rate"`
	Drive   [4]LaneDrive `json:"drive"`
	Trained bool         `json:"trained"`
}

// BandwidthKbps is the raw link bandwidth in kbit/s.
func (p LinkParameters) BandwidthKbps() int64 {
	return int64(p.Lanes) * p.Rate.Kbps()
}

// PayloadKbps is the usable payload bandwidth after 8b/10b coding.
func (p LinkParameters) PayloadKbps() int64 {
	return p.BandwidthKbps() * 8 / 10
}

func (p LinkParameters) String() string {
	return fmt.Sprintf("%d lane(s) @ %s", p.Lanes, p.Rate)
}
