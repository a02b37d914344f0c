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

// Package connection implements the connection lifecycle of a display
// link: host bring-up, sink detection, link training, stream control and
// the reaction to sink interrupts.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"

	"github.com/snapcore/dplink/dispatch"
	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/dpaux"
	"github.com/snapcore/dplink/hdcp"
	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/linktrain"
	"github.com/snapcore/dplink/logger"
	"github.com/snapcore/dplink/mst"
)

// Manager owns the connection state. All state is guarded by the
// session lock, which is never held while waiting for the notification
// consumer.
type Manager struct {
	opts     Options
	backend  *hw.Backend
	aux      *dpaux.Channel
	trainer  *linktrain.Trainer
	adapter  *hpd.Adapter
	queue    *dispatch.Dispatcher
	mst      *mst.Manager
	hdcp     *hdcp.Coordinator
	notifier Notifier
	recorder Recorder

	ack completion

	// mu is the session lock
	mu      sync.Mutex
	state   State
	link    LinkConfig
	session string
	caps    *dp.SinkCapabilities
	params  dp.LinkParameters
	streams [mst.MaxStreams]*StreamInfo

	trainingFailures int
	poor             bool
	linkStatus       *ratelimit.Bucket
	testPattern      int
	suspendAborted   bool
}

// New returns a manager driving backend.
func New(backend *hw.Backend, opts Options) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("cannot create connection manager without a backend")
	}
	if err := backend.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backend: %v", err)
	}
	if err := opts.CapabilityErrorPolicy.Validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()

	m := &Manager{
		opts:     opts,
		backend:  backend,
		aux:      dpaux.New(backend.Registers),
		adapter:  hpd.NewAdapter(),
		notifier: opts.Notifier,
		recorder: opts.Recorder,
	}
	m.trainer = linktrain.New(m.aux, backend.Link, opts.Source)
	m.mst = mst.New(m.aux, opts.Topology, opts.MSTSettle)
	m.queue = dispatch.New(opts.QueueSize, m.handle)
	if opts.ContentProtection && backend.CP != nil {
		m.hdcp = hdcp.New(backend.CP, m, opts.HDCP)
	}
	m.resetLinkStatus()
	return m, nil
}

// Start starts the event worker and the content-protection timer.
func (m *Manager) Start() {
	m.queue.Start()
	if m.hdcp != nil {
		m.hdcp.Start()
	}
}

// Stop stops the workers. The connection is left as it is.
func (m *Manager) Stop() error {
	m.ack.abort()
	err := m.queue.Stop()
	if m.hdcp != nil {
		if herr := m.hdcp.Stop(); err == nil {
			err = herr
		}
	}
	return err
}

// add and clear must be called with the session lock held.
func (m *Manager) add(flags State) {
	m.state |= flags
	m.checkState()
}

func (m *Manager) clear(flags State) {
	m.state &^= flags
	m.checkState()
}

func (m *Manager) checkState() {
	if err := m.state.Validate(); err != nil {
		logger.Noticef("internal error: %v", err)
	}
}

func (m *Manager) resetLinkStatus() {
	m.linkStatus = ratelimit.NewBucketWithQuantum(m.opts.LinkStatusWindow, m.opts.LinkStatusLimit, 1)
}

func (m *Manager) record(kind, format string, args ...interface{}) {
	if m.recorder == nil || m.session == "" {
		return
	}
	if err := m.recorder.Record(m.session, kind, fmt.Sprintf(format, args...)); err != nil {
		logger.Noticef("cannot record %s event: %v", kind, err)
	}
}

// raisePoorConnection signals a poor connection once per physical
// connection. Called with the session lock held.
func (m *Manager) raisePoorConnection(reason string) {
	if m.poor {
		return
	}
	m.poor = true
	logger.Noticef("poor connection: %s", reason)
	m.record("poor-connection", "%s", reason)
	if m.notifier != nil {
		m.notifier.PoorConnection(reason)
	}
}

// Configure is called once the hot-plug signal source has configured
// the alternate mode.
func (m *Manager) Configure(ctx context.Context, cfg LinkConfig) error {
	return m.Attention(ctx, hpd.Report{
		Attached:      true,
		Configured:    true,
		PinAssignment: cfg.PinAssignment,
		Orientation:   cfg.Orientation,
		HPDHigh:       cfg.HPDHigh,
	})
}

// Attention feeds a raw hot-plug report. Configuration and falling
// edges are handled before returning; rising edges and interrupts are
// queued.
func (m *Manager) Attention(ctx context.Context, r hpd.Report) error {
	var firstErr error
	for _, ev := range m.adapter.Normalize(r) {
		if err := m.dispatch(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Disconnect is called when the cable goes away.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.adapter.Reset()
	return m.dispatch(ctx, hpd.AttentionEvent{Kind: hpd.CableDetach})
}

func (m *Manager) dispatch(ctx context.Context, ev hpd.AttentionEvent) error {
	switch ev.Kind {
	case hpd.HotPlugHigh, hpd.HotPlugInterrupt:
		return m.queue.TrySend(ev)
	}
	return m.run(ctx, ev)
}

func (m *Manager) handle(ctx context.Context, ev hpd.AttentionEvent) {
	if err := m.run(ctx, ev); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrAborted), errors.Is(err, ErrPoorConnection):
			logger.Debugf("%s: %v", ev, err)
		default:
			logger.Noticef("cannot handle %s: %v", ev, err)
		}
	}
}

// run is the one handler for each kind of event.
func (m *Manager) run(ctx context.Context, ev hpd.AttentionEvent) error {
	switch ev.Kind {
	case hpd.CableDetach:
		return m.disconnectSync(ctx, true)
	case hpd.LinkConfigured:
		return m.configure(ev.PinAssignment, ev.Orientation)
	case hpd.HotPlugHigh:
		return m.connect(ctx)
	case hpd.HotPlugLow:
		return m.disconnectSync(ctx, false)
	case hpd.HotPlugInterrupt:
		return m.interrupt(ctx)
	}
	return fmt.Errorf("unknown event %s", ev)
}

// WithSession runs f with the session lock held.
func (m *Manager) WithSession(f func(s hdcp.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(hdcpSession{m})
}

type hdcpSession struct {
	m *Manager
}

func (s hdcpSession) Conditions() hdcp.Conditions {
	return s.m.hdcpConditions()
}

func (s hdcpSession) PoorConnection(reason string) {
	s.m.raisePoorConnection(reason)
}

// hdcpConditions is called with the session lock held.
func (m *Manager) hdcpConditions() hdcp.Conditions {
	cond := hdcp.Conditions{
		Connected: m.state.Has(Connected),
		Suspended: m.state.Has(Suspended),
		Aborted:   m.state.Any(Aborted | ContentProtectionAborted),
	}
	for _, st := range m.streams {
		if st != nil && st.Active {
			cond.Enabled = true
			cond.Streams = append(cond.Streams, st.ID)
		}
	}
	return cond
}

// Status is a snapshot of the connection.
type Status struct {
	State               State                `json:"state"`
	Session             string               `json:"session,omitempty"`
	Link                LinkConfig           `json:"link"`
	Caps                *dp.SinkCapabilities `json:"caps,omitempty"`
	Params              *dp.LinkParameters   `json:"params,omitempty"`
	Streams             []StreamInfo         `json:"streams,omitempty"`
	MST                 bool                 `json:"mst"`
	Slots               []mst.Allocation     `json:"slots,omitempty"`
	HDCP                *hdcp.Status         `json:"hdcp,omitempty"`
	PoorConnection      bool                 `json:"poor-connection"`
	TrainingFailures    int                  `json:"training-failures"`
	PendingInterrupts   int                  `json:"pending-interrupts"`
	NotificationPending bool                 `json:"notification-pending"`
}

// Status returns a snapshot of the connection.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:               m.state,
		Session:             m.session,
		Link:                m.link,
		MST:                 m.mst.Active(),
		Slots:               m.mst.Allocations(),
		PoorConnection:      m.poor,
		TrainingFailures:    m.trainingFailures,
		PendingInterrupts:   m.queue.PendingInterrupts(),
		NotificationPending: m.ack.pending(),
	}
	if m.caps != nil {
		caps := *m.caps
		st.Caps = &caps
	}
	if m.state.Has(Connected) {
		params := m.params
		st.Params = &params
	}
	for _, s := range m.streams {
		if s != nil {
			st.Streams = append(st.Streams, *s)
		}
	}
	if m.hdcp != nil {
		hs := m.hdcp.Status()
		st.HDCP = &hs
	}
	return st
}

// State returns the current flags.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func newSessionID() string {
	return uuid.NewString()
}
