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
	"github.com/snapcore/dplink/linktrain"
	"github.com/snapcore/dplink/logger"
)

// interrupt handles a hot-plug interrupt.
func (m *Manager) interrupt(ctx context.Context) error {
	m.mu.Lock()
	poor := m.poor
	aborted := m.state.Has(Aborted)
	connected := m.state.Has(Connected)
	initialized := m.state.Has(HostInitialized)
	m.mu.Unlock()

	switch {
	case poor:
		logger.Debugf("ignoring sink interrupt on a poor connection")
		return nil
	case aborted:
		return ErrAborted
	case !connected && initialized:
		// an interrupt with nothing connected is a rising edge
		return m.connect(ctx)
	case !initialized:
		m.mst.Attention()
		return nil
	}
	return m.attentionWork(ctx)
}

// readSinkRequest reads and acknowledges the sink service requests.
// Called with the session lock held.
func (m *Manager) readSinkRequest(ctx context.Context) (dp.SinkRequest, error) {
	irq, err := m.aux.ReadReg(ctx, dp.RegDeviceServiceIRQ)
	if err != nil {
		return dp.SinkRequest{}, fmt.Errorf("cannot read sink service request: %w", err)
	}
	align, err := m.aux.ReadReg(ctx, dp.RegLaneAlignStatus)
	if err != nil {
		return dp.SinkRequest{}, fmt.Errorf("cannot read sink status: %w", err)
	}
	var test byte
	req := dp.ParseSinkRequest(irq, align, 0xff)
	if req.AutomatedTest() {
		if test, err = m.aux.ReadReg(ctx, dp.RegTestRequest); err != nil {
			return dp.SinkRequest{}, fmt.Errorf("cannot read test request: %w", err)
		}
	}
	// writing the vector back also releases the latched status bits
	if err := m.aux.WriteReg(ctx, dp.RegDeviceServiceIRQ, irq); err != nil {
		return dp.SinkRequest{}, fmt.Errorf("cannot acknowledge sink service request: %w", err)
	}
	if test != 0 {
		if err := m.aux.WriteReg(ctx, dp.RegTestRequest, test); err != nil {
			return dp.SinkRequest{}, fmt.Errorf("cannot acknowledge test request: %w", err)
		}
	}
	return dp.ParseSinkRequest(irq, align, test), nil
}

func (m *Manager) testResponse(ctx context.Context, ack bool) {
	v := dp.TestResponseAck
	if !ack {
		v = dp.TestResponseNak
	}
	if err := m.aux.WriteReg(ctx, dp.RegTestResponse, v); err != nil {
		logger.Noticef("cannot send test response: %v", err)
	}
}

// attentionWork re-reads the sink status after an interrupt on a
// connected link and reacts to what the sink asked for.
func (m *Manager) attentionWork(ctx context.Context) error {
	m.mu.Lock()
	req, err := m.readSinkRequest(ctx)
	mstActive := m.mst.Active()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	logger.Debugf("sink request: %+v", req)

	defer m.mst.Attention()

	switch {
	case req.DownstreamPortChanged:
		err = m.downstreamChanged(ctx, mstActive)
	case req.TestVideoPattern:
		err = m.videoTest(ctx)
	case req.TestPHYPattern || req.TestLinkTraining || req.LinkStatusUpdated:
		err = m.linkMaintenance(ctx, req)
	default:
		m.mu.Lock()
		if m.hdcp != nil && m.state.Has(Connected) {
			m.hdcp.HandleIRQ()
		}
		m.mu.Unlock()
	}
	if err != nil {
		return err
	}
	return m.notifyDeferred(ctx)
}

// notifyDeferred sends a connect notification held back for a pending
// interrupt.
func (m *Manager) notifyDeferred(ctx context.Context) error {
	m.mu.Lock()
	pending := m.state.Has(Connected) && !m.state.Has(ConnectNotified) && !m.mst.Active()
	m.mu.Unlock()
	if !pending || m.queue.PendingInterrupts() > 0 {
		return nil
	}
	return m.notify(ctx, true)
}

// downstreamChanged follows a change of the devices behind a branch.
func (m *Manager) downstreamChanged(ctx context.Context, mstActive bool) error {
	m.mu.Lock()
	v, err := m.aux.ReadReg(ctx, dp.RegSinkCount)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cannot read sink count: %w", err)
	}
	count := dp.ParseSinkCount(v)
	logger.Debugf("downstream port changed, %d sink(s)", count)

	if count == 0 {
		return m.handleDisconnect(ctx)
	}
	if mstActive {
		// the topology consumer finds the new streams on its own
		return nil
	}
	if err := m.handleDisconnect(ctx); err != nil {
		logger.Noticef("cannot disconnect before reconnecting: %v", err)
	}
	return m.connect(ctx)
}

// videoTest reconnects so the consumer picks up the test pattern.
func (m *Manager) videoTest(ctx context.Context) error {
	m.mu.Lock()
	pattern, err := m.aux.ReadReg(ctx, dp.RegTestPattern)
	if err != nil {
		m.testResponse(ctx, false)
		m.mu.Unlock()
		return fmt.Errorf("cannot read test pattern: %w", err)
	}
	m.testResponse(ctx, true)
	m.mu.Unlock()

	if err := m.handleDisconnect(ctx); err != nil {
		logger.Noticef("cannot disconnect for video test: %v", err)
	}
	m.mu.Lock()
	m.testPattern = int(pattern)
	m.record("test-pattern", "%d", pattern)
	m.mu.Unlock()
	return m.connect(ctx)
}

// linkMaintenance services PHY test patterns, link training tests and
// link status changes with audio and content protection stopped.
func (m *Manager) linkMaintenance(ctx context.Context, req dp.SinkRequest) error {
	m.mu.Lock()
	if req.LinkStatusUpdated && !req.TestPHYPattern && !req.TestLinkTraining {
		if m.linkStatus.TakeAvailable(1) == 0 {
			m.raisePoorConnection("link status changes too often")
			m.mu.Unlock()
			return nil
		}
		status, err := m.aux.Read(ctx, dp.RegLane01Status, dp.LinkStatusSize)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("cannot read link status: %w", err)
		}
		ls, err := dp.ParseLaneStatus(status)
		if err == nil && ls.ChannelEqDone(m.params.Lanes) {
			m.mu.Unlock()
			logger.Debugf("link status updated, link still trained")
			return nil
		}
	}

	m.streamsQuiesce()
	var err error
	switch {
	case req.TestPHYPattern:
		err = m.phyTest(ctx)
	case req.TestLinkTraining:
		err = m.trainingTest(ctx)
	default:
		err = m.retrain(ctx, m.params.Rate, m.params.Lanes)
	}
	if err != nil && !linktrain.IsExhausted(err) {
		m.streamsResume()
	}
	if err != nil {
		m.mu.Unlock()
		if linktrain.IsExhausted(err) {
			// a link that cannot be retrained is gone
			if derr := m.handleDisconnect(ctx); derr != nil {
				logger.Noticef("cannot disconnect after link maintenance: %v", derr)
			}
		}
		return err
	}
	m.streamsResume()
	m.mu.Unlock()
	return nil
}

func isAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, linktrain.ErrAborted) || errors.Is(err, context.Canceled)
}

// phyTest is called with the session lock held.
func (m *Manager) phyTest(ctx context.Context) error {
	pattern, err := m.aux.ReadReg(ctx, dp.RegPHYTestPattern)
	if err != nil {
		m.testResponse(ctx, false)
		return fmt.Errorf("cannot read PHY test pattern: %w", err)
	}
	if err := m.backend.Link.SetPHYTestPattern(pattern); err != nil {
		m.testResponse(ctx, false)
		return fmt.Errorf("cannot set PHY test pattern: %w", err)
	}
	m.testResponse(ctx, true)
	m.record("phy-test", "%d", pattern)
	return nil
}

// trainingTest is called with the session lock held.
func (m *Manager) trainingTest(ctx context.Context) error {
	code, err := m.aux.ReadReg(ctx, dp.RegTestLinkRate)
	if err != nil {
		m.testResponse(ctx, false)
		return fmt.Errorf("cannot read test link rate: %w", err)
	}
	lanes, err := m.aux.ReadReg(ctx, dp.RegTestLaneCount)
	if err != nil {
		m.testResponse(ctx, false)
		return fmt.Errorf("cannot read test lane count: %w", err)
	}
	rate, err := dp.RateFromCode(code)
	count := dp.LaneCount(lanes & 0x1f)
	if err != nil || !count.Valid() {
		m.testResponse(ctx, false)
		return fmt.Errorf("invalid link training test request %#x/%d", code, count)
	}
	m.testResponse(ctx, true)
	return m.retrain(ctx, rate, count)
}

// retrain trains the link again. Called with the session lock held.
func (m *Manager) retrain(ctx context.Context, rate dp.LinkRate, lanes dp.LaneCount) error {
	if m.caps == nil {
		return ErrNotReady
	}
	if err := m.backend.Link.EnableMainLink(false); err != nil {
		return fmt.Errorf("cannot disable main link: %w", err)
	}
	params, err := m.trainer.Train(ctx, m.caps, rate, lanes)
	if err != nil {
		if linktrain.IsExhausted(err) {
			m.trainingFailures++
			m.record("training-failed", "%v", err)
			if m.trainingFailures >= m.opts.PoorConnectionFailures {
				m.raisePoorConnection("link maintenance failed")
			}
		}
		if isAbort(err) {
			return ErrAborted
		}
		return err
	}
	if err := m.backend.Link.EnableMainLink(true); err != nil {
		return fmt.Errorf("cannot enable main link: %w", err)
	}
	m.params = params
	m.record("retrained", "%s", params)
	return nil
}
