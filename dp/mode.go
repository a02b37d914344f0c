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
)

// ModeTiming is the subset of a display timing needed to decide whether
// the link can carry it.
type ModeTiming struct {
	Name          string `json:"name,omitempty"`
	PixelClockKHz int64  `json:"pixel-clock-khz"`
	BitsPerPixel  int    `json:"bpp"`
	HActive       int    `json:"hactive,omitempty"`
	VActive       int    `json:"vactive,omitempty"`
	RefreshHz     int    `json:"refresh,omitempty"`
}

func (m ModeTiming) String() string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("%dx%d@%d", m.HActive, m.VActive, m.RefreshHz)
}

// RequiredKbps is the payload bandwidth the mode needs.
func (m ModeTiming) RequiredKbps() int64 {
	return m.PixelClockKHz * int64(m.BitsPerPixel)
}

// ErrModeRejected is returned for modes the link cannot carry.
var ErrModeRejected = errors.New("mode rejected")

// CheckMode verifies that the mode fits in the payload bandwidth of
// params and below maxPixelClockKHz (0 means no limit).
func CheckMode(m ModeTiming, params LinkParameters, maxPixelClockKHz int64) error {
	if m.PixelClockKHz <= 0 || m.BitsPerPixel <= 0 {
		return fmt.Errorf("%w: invalid timing %s", ErrModeRejected, m)
	}
	if maxPixelClockKHz > 0 && m.PixelClockKHz > maxPixelClockKHz {
		return fmt.Errorf("%w: %s pixel clock %d kHz above limit %d kHz", ErrModeRejected, m, m.PixelClockKHz, maxPixelClockKHz)
	}
	if !params.Lanes.Valid() || !params.Rate.Valid() {
		return fmt.Errorf("%w: link not configured", ErrModeRejected)
	}
	if need, have := m.RequiredKbps(), params.PayloadKbps(); need > have {
		return fmt.Errorf("%w: %s needs %d kbps, link %s carries %d kbps", ErrModeRejected, m, need, params, have)
	}
	return nil
}
