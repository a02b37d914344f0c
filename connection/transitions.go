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
	"errors"
	"fmt"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/linktrain"
	"github.com/snapcore/dplink/logger"
)

// configure records the negotiated pin assignment and brings the host
// side up.
func (m *Manager) configure(pin hpd.PinAssignment, orientation hpd.Orientation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Has(Aborted) {
		return ErrAborted
	}
	if m.state.Has(Configured) && m.link.PinAssignment == pin && m.link.Orientation == orientation {
		return nil
	}
	m.link = LinkConfig{PinAssignment: pin, Orientation: orientation}
	if !m.state.Has(Configured) {
		m.session = newSessionID()
	}
	m.add(Configured)
	m.record("configured", "pin %s, %s", pin, orientation)

	if err := m.hostInit(); err != nil {
		m.clear(Configured)
		return err
	}
	return nil
}

// hostInit powers the host side. Called with the session lock held.
func (m *Manager) hostInit() error {
	if m.state.Has(HostInitialized) {
		return nil
	}
	flip := m.link.Orientation == hpd.OrientationFlipped
	if err := m.backend.Power.Init(flip); err != nil {
		return fmt.Errorf("cannot initialize host: %w", err)
	}
	if err := m.backend.Registers.SoftReset(hw.ComponentAux | hw.ComponentController); err != nil {
		m.backend.Power.Deinit()
		return fmt.Errorf("cannot reset controller: %w", err)
	}
	m.add(HostInitialized)
	m.clear(SourcePoweredDown)
	logger.Debugf("host initialized")
	return nil
}

// hostDeinit powers the host side down. Called with the session lock
// held.
func (m *Manager) hostDeinit() error {
	if !m.state.Has(HostInitialized) {
		return nil
	}
	if m.state.Has(StreamsEnabled) {
		return ErrStreamsActive
	}
	if m.state.Has(HostReady) {
		m.hostUnready()
	}
	if err := m.backend.Power.Deinit(); err != nil {
		logger.Noticef("cannot power host down: %v", err)
	}
	m.clear(HostInitialized)
	logger.Debugf("host deinitialized")
	return nil
}

// hostReady enables the AUX channel and the PHY. Called with the
// session lock held.
func (m *Manager) hostReady() error {
	if !m.state.Has(HostInitialized) {
		return ErrNotReady
	}
	if m.state.Has(HostReady) {
		return nil
	}
	m.aux.Abort(false)
	if err := m.backend.Link.SetPHYState(hw.PHYActive); err != nil {
		return fmt.Errorf("cannot power PHY up: %w", err)
	}
	m.add(HostReady)
	return nil
}

// hostUnready is the inverse of hostReady. The sink side state cached
// for the connection is dropped. Called with the session lock held.
func (m *Manager) hostUnready() {
	if !m.state.Has(HostReady) {
		return
	}
	if m.state.Has(Connected) {
		logger.Noticef("internal error: host unready while connected")
		return
	}
	if err := m.backend.Link.EnableMainLink(false); err != nil {
		logger.Noticef("cannot disable main link: %v", err)
	}
	if err := m.backend.Link.SetPHYState(hw.PHYLowPower); err != nil {
		logger.Noticef("cannot power PHY down: %v", err)
	}
	m.caps = nil
	m.params = dp.LinkParameters{}
	m.mst.Reset()
	m.clear(HostReady)
}

// connect brings the link up after a rising HPD edge and tells the
// consumer about it.
func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.state.Has(Aborted):
		m.mu.Unlock()
		return ErrAborted
	case !m.state.Has(Configured):
		m.mu.Unlock()
		return ErrNotConfigured
	case m.poor:
		m.mu.Unlock()
		return ErrPoorConnection
	case m.state.Has(Connected):
		m.mu.Unlock()
		return ErrAlreadyConnected
	}

	if err := m.hostInit(); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.hostReady(); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.bringUp(ctx); err != nil {
		m.hostUnready()
		err = m.connectFailed(err)
		m.mu.Unlock()
		return err
	}
	m.trainingFailures = 0
	m.add(Connected)
	m.clear(DisconnectNotified)
	m.record("connected", "%s", m.params)
	mstActive := m.mst.Active()
	m.mu.Unlock()

	if mstActive {
		m.mst.Announce()
		return nil
	}

	if m.queue.WaitInterrupt(m.opts.ConnectIRQWait) {
		logger.Debugf("sink interrupt pending, deferring connect notification")
		return nil
	}
	return m.notify(ctx, true)
}

// bringUp reads the sink and trains the link. Called with the session
// lock held.
func (m *Manager) bringUp(ctx context.Context) error {
	caps, err := m.readSinkCaps(ctx)
	if err != nil {
		return err
	}
	m.caps = caps
	if caps.DownstreamPort && caps.SinkCount == 0 {
		return errNoDownstream
	}

	// stale service requests from before the connection
	if _, err := m.readSinkRequest(ctx); err != nil {
		return err
	}
	if err := m.aux.WriteReg(ctx, dp.RegSetPower, dp.SetPowerD0); err != nil {
		return fmt.Errorf("cannot wake sink: %w", err)
	}

	if _, err := m.mst.Probe(ctx, caps); err != nil {
		logger.Noticef("cannot probe multi-stream support, using single stream: %v", err)
	}

	lanes := dp.MinLanesOf(m.opts.Source.MaxLanes, dp.LaneCount(m.link.PinAssignment.MaxLanes()))
	params, err := m.trainer.Train(ctx, caps, m.opts.Source.MaxRate, lanes)
	if err != nil {
		return err
	}
	if err := m.backend.Link.EnableMainLink(true); err != nil {
		return fmt.Errorf("cannot enable main link: %w", err)
	}
	m.params = params
	return nil
}

// readSinkCaps reads the capability block and the registers that go
// with it. Called with the session lock held.
func (m *Manager) readSinkCaps(ctx context.Context) (*dp.SinkCapabilities, error) {
	block, err := m.aux.Read(ctx, dp.RegRevision, dp.CapabilitiesSize)
	if err != nil {
		return nil, fmt.Errorf("cannot read sink capabilities: %w", err)
	}
	caps, err := dp.ParseCapabilities(block)
	if err != nil {
		return nil, err
	}
	mstm, err := m.aux.ReadReg(ctx, dp.RegMSTMCap)
	if err != nil {
		return nil, fmt.Errorf("cannot read multi-stream capability: %w", err)
	}
	caps.MST = mstm&0x1 != 0
	count, err := m.aux.ReadReg(ctx, dp.RegSinkCount)
	if err != nil {
		return nil, fmt.Errorf("cannot read sink count: %w", err)
	}
	caps.SinkCount = dp.ParseSinkCount(count)

	bcaps, err := m.aux.ReadReg(ctx, dp.RegHDCPBCaps)
	if err != nil {
		return nil, fmt.Errorf("cannot read content protection capability: %w", err)
	}
	rxcaps, err := m.aux.ReadReg(ctx, dp.RegHDCP2RxCaps)
	if err != nil {
		return nil, fmt.Errorf("cannot read content protection capability: %w", err)
	}
	caps.ContentProtection = bcaps&0x1 != 0 || rxcaps&0x2 != 0
	logger.Debugf("sink capabilities: rev %#x, %d lanes @ %s, mst %v", caps.Revision, caps.MaxLanes, caps.MaxRate, caps.MST)
	return caps, nil
}

// connectFailed classifies a bring-up failure. Called with the session
// lock held; the host is no longer ready.
func (m *Manager) connectFailed(err error) error {
	switch {
	case errors.Is(err, linktrain.ErrAborted), errors.Is(err, context.Canceled):
		return ErrAborted
	case errors.Is(err, hw.ErrAuxTimeout), errors.Is(err, hw.ErrNoSink), errors.Is(err, errNoDownstream):
		// the cable is likely going away
		logger.Debugf("no sink: %v", err)
		return err
	case errors.Is(err, dp.ErrCorruptCapabilities):
		m.record("capabilities-error", "%v", err)
		if m.opts.CapabilityErrorPolicy == PolicyPoorConnection {
			m.raisePoorConnection("corrupt sink capabilities")
		}
		return err
	case linktrain.IsExhausted(err):
		m.trainingFailures++
		m.record("training-failed", "%v", err)
		logger.Noticef("link training failed (%d/%d): %v", m.trainingFailures, m.opts.PoorConnectionFailures, err)
		if m.trainingFailures >= m.opts.PoorConnectionFailures {
			m.raisePoorConnection("link training failed")
		}
		return err
	}
	return err
}

// disconnectSync tears the connection down synchronously. Queued events
// are dropped and a running handler is waited for, unless this is the
// handler. With detach the host side is powered down as well.
func (m *Manager) disconnectSync(ctx context.Context, detach bool) error {
	// fail in-flight sink transfers before waiting for the session lock
	m.aux.Abort(true)
	m.ack.abort()

	m.mu.Lock()
	if m.state.Has(Aborted) {
		// another teardown is in progress
		m.mu.Unlock()
		m.ack.release()
		return nil
	}
	if detach && !m.state.Any(Configured|HostInitialized) {
		m.forgetPhysicalConnection(detach)
		m.mu.Unlock()
		m.ack.release()
		m.aux.Abort(false)
		return nil
	}
	m.add(Aborted)
	m.mu.Unlock()

	m.queue.Abort(ctx)
	// the handler is gone, so the teardown may notify again
	m.ack.release()
	m.aux.Abort(false)

	err := m.handleDisconnect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if detach {
		if derr := m.hostDeinit(); derr != nil && err == nil {
			err = derr
		}
		m.record("detached", "")
		m.clear(Configured | ConnectNotified | DisconnectNotified)
	}
	m.forgetPhysicalConnection(detach)
	m.suspendAborted = false
	m.clear(Aborted)
	return err
}

// forgetPhysicalConnection resets what is tracked per physical
// connection. Called with the session lock held.
func (m *Manager) forgetPhysicalConnection(detach bool) {
	m.trainingFailures = 0
	m.poor = false
	m.testPattern = 0
	m.resetLinkStatus()
	if detach {
		m.link = LinkConfig{}
		m.session = ""
	}
}

// handleDisconnect brings the connection down to an initialized host.
func (m *Manager) handleDisconnect(ctx context.Context) error {
	err := m.hpdLow(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanStreams()
	m.hostUnready()
	return err
}

// hpdLow drops the connection and tells the consumer.
func (m *Manager) hpdLow(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.Has(Connected) {
		m.mu.Unlock()
		return nil
	}
	m.cleanStreams()
	if m.hdcp != nil {
		m.hdcp.Reset()
	}
	notified := m.state.Has(ConnectNotified)
	mstActive := m.mst.Active()
	m.clear(Connected)
	m.record("disconnected", "")
	m.mu.Unlock()

	if mstActive {
		m.mst.HotPlugLow()
	}

	var err error
	if notified {
		err = m.notify(ctx, false)
	}

	return err
}
