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
	"fmt"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/logger"
	"github.com/snapcore/dplink/mst"
)

// Enable switches the video stream on. The link must be up.
func (m *Manager) Enable(ctx context.Context, s Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state.Has(Aborted):
		return ErrAborted
	case !m.state.Has(HostReady) || !m.state.Has(Connected):
		return ErrNotReady
	case !m.mst.ValidStream(s.ID):
		return fmt.Errorf("%w: %d", ErrStreamLimit, s.ID)
	case m.streams[s.ID] != nil:
		return fmt.Errorf("stream %d is already enabled", s.ID)
	}

	if err := m.backend.Link.StreamOn(s.ID); err != nil {
		return fmt.Errorf("cannot enable stream %d: %w", s.ID, err)
	}
	info := &StreamInfo{ID: s.ID, Panel: s.Panel, Audio: s.Audio}
	if a, ok := m.mst.Allocation(s.ID); ok {
		info.Slots = &a
	}
	m.streams[s.ID] = info
	m.add(StreamsEnabled)
	m.record("stream-enabled", "%d %s", s.ID, s.Panel)
	return nil
}

// PostEnable finishes enabling the stream: audio and content protection
// are started and a waiting connect notification is acknowledged.
func (m *Manager) PostEnable(ctx context.Context, id int) error {
	m.mu.Lock()
	st, err := m.stream(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if st.Audio && !st.AudioOn {
		if err := m.audioOn(id); err != nil {
			logger.Noticef("cannot enable audio on stream %d: %v", id, err)
		} else {
			st.AudioOn = true
		}
	}
	st.Active = true
	if m.hdcp != nil && m.caps != nil && m.caps.ContentProtection {
		m.hdcp.Arm(m.opts.HDCPArmDelay)
	}
	m.mu.Unlock()

	m.ack.complete(true)
	return nil
}

// PreDisable stops what runs on top of the stream: content protection
// and audio.
func (m *Manager) PreDisable(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.stream(id); err != nil {
		return err
	}
	m.preDisable(id)
	return nil
}

// Disable switches the stream off. Disabling the last stream
// acknowledges a waiting disconnect notification.
func (m *Manager) Disable(ctx context.Context, id int) error {
	m.mu.Lock()
	if _, err := m.stream(id); err != nil {
		m.mu.Unlock()
		return err
	}
	m.preDisable(id)
	err := m.disable(id)
	last := !m.state.Has(StreamsEnabled)
	m.mu.Unlock()

	if last {
		m.ack.complete(false)
	}
	return err
}

// stream is called with the session lock held.
func (m *Manager) stream(id int) (*StreamInfo, error) {
	if id < 0 || id >= len(m.streams) || m.streams[id] == nil {
		return nil, fmt.Errorf("%w: %d", ErrStreamNotEnabled, id)
	}
	return m.streams[id], nil
}

// preDisable is idempotent. Called with the session lock held.
func (m *Manager) preDisable(id int) {
	st := m.streams[id]
	if m.hdcp != nil && st.Active {
		m.hdcp.Disable(id, m.hdcpConditions())
	}
	st.Active = false
	if st.AudioOn {
		if err := m.audioOff(id); err != nil {
			logger.Noticef("cannot disable audio on stream %d: %v", id, err)
		}
		st.AudioOn = false
	}
}

// disable is called with the session lock held.
func (m *Manager) disable(id int) error {
	var err error
	if serr := m.backend.Link.StreamOff(id); serr != nil {
		// the stream is dropped anyway, a half disabled stream is of no use
		err = fmt.Errorf("cannot disable stream %d: %w", id, serr)
	}
	m.mst.Release(id)
	m.streams[id] = nil
	m.record("stream-disabled", "%d", id)
	for _, st := range m.streams {
		if st != nil {
			return err
		}
	}
	m.clear(StreamsEnabled)
	return err
}

// cleanStreams tears all streams down. Called with the session lock
// held.
func (m *Manager) cleanStreams() {
	for id, st := range m.streams {
		if st == nil {
			continue
		}
		m.preDisable(id)
		if err := m.disable(id); err != nil {
			logger.Noticef("%v", err)
		}
	}
}

// streamsQuiesce stops audio and content protection on all streams for
// link maintenance. Called with the session lock held.
func (m *Manager) streamsQuiesce() {
	if m.hdcp != nil {
		m.hdcp.Reset()
	}
	for _, st := range m.streams {
		if st == nil || !st.AudioOn {
			continue
		}
		if err := m.audioOff(st.ID); err != nil {
			logger.Noticef("cannot disable audio on stream %d: %v", st.ID, err)
		}
		st.AudioOn = false
	}
}

// streamsResume undoes streamsQuiesce. Called with the session lock
// held.
func (m *Manager) streamsResume() {
	active := false
	for _, st := range m.streams {
		if st == nil || !st.Active {
			continue
		}
		active = true
		if st.Audio && !st.AudioOn {
			if err := m.audioOn(st.ID); err != nil {
				logger.Noticef("cannot enable audio on stream %d: %v", st.ID, err)
				continue
			}
			st.AudioOn = true
		}
	}
	if active && m.hdcp != nil && m.caps != nil && m.caps.ContentProtection {
		m.hdcp.Arm(m.opts.HDCPArmDelay)
	}
}

func (m *Manager) audioOn(id int) error {
	if m.backend.Audio == nil {
		return nil
	}
	return m.backend.Audio.On(id)
}

func (m *Manager) audioOff(id int) error {
	if m.backend.Audio == nil {
		return nil
	}
	return m.backend.Audio.Off(id)
}

// SetStreamInfo assigns the time slots of a stream. In single-stream
// mode only stream 0 exists and the call only checks that.
func (m *Manager) SetStreamInfo(ctx context.Context, id, start, count, pbn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mst.ValidStream(id) {
		return fmt.Errorf("%w: %d", ErrStreamLimit, id)
	}
	if !m.mst.Active() {
		return nil
	}
	a := mst.Allocation{Stream: id, Start: start, Count: count, PBN: pbn}
	if err := m.mst.Allocate(a); err != nil {
		return err
	}
	if st := m.streams[id]; st != nil {
		st.Slots = &a
	}
	return nil
}

// Prepare powers the host side before a mode set, after Unprepare
// powered it down.
func (m *Manager) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state.Has(Aborted):
		return ErrAborted
	case !m.state.Has(Configured):
		return ErrNotConfigured
	}
	return m.hostInit()
}

// Unprepare is the counterpart of Prepare. With powerDown and nothing
// connected the host side is powered off.
func (m *Manager) Unprepare(ctx context.Context, powerDown bool) error {
	m.mu.Lock()
	var err error
	if powerDown && !m.state.Any(StreamsEnabled|Connected) && m.state.Has(HostInitialized) {
		if err = m.hostDeinit(); err == nil {
			m.add(SourcePoweredDown)
		}
	}
	m.mu.Unlock()

	m.ack.complete(false)
	return err
}

// Suspend stops content protection. A connection without streams has
// its sink transfers aborted until Resume.
func (m *Manager) Suspend(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(Suspended)
	if m.hdcp != nil {
		m.hdcp.Suspend()
	}
	if m.state.Has(Connected) && !m.state.Has(StreamsEnabled) {
		m.aux.Abort(true)
		m.suspendAborted = true
	}
	m.record("suspended", "")
	return nil
}

// Resume undoes Suspend.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Has(Suspended) {
		return nil
	}
	m.clear(Suspended)
	if m.suspendAborted {
		m.aux.Abort(false)
		m.suspendAborted = false
	}
	if m.hdcp != nil {
		m.hdcp.Resume(m.opts.HDCPArmDelay)
	}
	m.record("resumed", "")
	return nil
}

// ValidateMode checks whether the link as trained can carry the mode.
func (m *Manager) ValidateMode(mode dp.ModeTiming) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Has(Connected) {
		return fmt.Errorf("%w: no sink connected", dp.ErrModeRejected)
	}
	return dp.CheckMode(mode, m.params, m.opts.MaxPixelClockKHz)
}

// AbortContentProtection stops content protection from starting while
// on is set, without touching the connection.
func (m *Manager) AbortContentProtection(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.add(ContentProtectionAborted)
		if m.hdcp != nil {
			m.hdcp.Cancel()
		}
		return
	}
	m.clear(ContentProtectionAborted)
	if m.hdcp != nil && m.state.Has(StreamsEnabled) {
		m.hdcp.Arm(m.opts.HDCPArmDelay)
	}
}
