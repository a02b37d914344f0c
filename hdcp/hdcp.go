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

// Package hdcp sequences the lifecycle of the external content-protection
// engine against the connection state.
package hdcp

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/logger"
)

// State is the authentication state.
type State int

const (
	Inactive State = iota
	Authenticating
	Authenticated
	AuthFailed
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case AuthFailed:
		return "auth-failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := Inactive; st <= AuthFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown content protection state %q", text)
}

// Status is a snapshot of the coordinator.
type Status struct {
	State      State `json:"state"`
	Version    int   `json:"version"`
	DelayedOff bool  `json:"delayed-off,omitempty"`
	Streams    []int `json:"streams,omitempty"`
}

// Conditions is the connection state the coordinator acts upon.
type Conditions struct {
	Connected bool
	Enabled   bool
	Suspended bool
	// Aborted is set while the connection is being torn down or
	// content protection was explicitly aborted.
	Aborted bool
	Streams []int
}

// Session is handed to the coordinator with the connection's session
// lock held.
type Session interface {
	Conditions() Conditions
	// PoorConnection must not take the session lock.
	PoorConnection(reason string)
}

// Machine gives the deferred worker access to the connection.
type Machine interface {
	// WithSession calls f with the session lock held.
	WithSession(f func(s Session))
}

// Options tune the retry behaviour.
type Options struct {
	// SinkSyncLimit is the number of consecutive sink sync failures
	// tolerated before the link is reported as a poor connection.
	SinkSyncLimit int
	// AuthRetries bounds authentication attempts per connection.
	AuthRetries int
	// RetryDelay is the delay before retrying after a failure.
	RetryDelay time.Duration
	// SuspendedDelay is the delay used to look again while suspended.
	SuspendedDelay time.Duration
}

const (
	defaultSinkSyncLimit  = 5
	defaultAuthRetries    = 3
	defaultRetryDelay     = 250 * time.Millisecond
	defaultSuspendedDelay = 250 * time.Millisecond
)

func (o *Options) setDefaults() {
	if o.SinkSyncLimit <= 0 {
		o.SinkSyncLimit = defaultSinkSyncLimit
	}
	if o.AuthRetries <= 0 {
		o.AuthRetries = defaultAuthRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.SuspendedDelay <= 0 {
		o.SuspendedDelay = defaultSuspendedDelay
	}
}

type armRequest struct {
	delay time.Duration
	gen   uint64
	stop  bool
}

// Coordinator runs the authentication sub-state-machine. Its methods,
// except Status, Start and Stop, must be called with the session lock
// held; the deferred worker takes the lock through Machine.
type Coordinator struct {
	tomb    tomb.Tomb
	engine  hw.ContentProtection
	machine Machine
	opts    Options

	armCh chan armRequest
	// gen invalidates armed timers on Cancel
	gen atomic.Uint64

	mu               sync.Mutex
	state            State
	on               bool
	delayedOff       bool
	registered       map[int]bool
	sinkSyncFailures int
	authAttempts     int
}

// New returns a coordinator for engine.
func New(engine hw.ContentProtection, machine Machine, opts Options) *Coordinator {
	opts.setDefaults()
	return &Coordinator{
		engine:     engine,
		machine:    machine,
		opts:       opts,
		armCh:      make(chan armRequest, 1),
		registered: make(map[int]bool),
	}
}

// Start starts the deferred worker.
func (c *Coordinator) Start() {
	c.tomb.Go(c.loop)
}

// Stop stops the deferred worker.
func (c *Coordinator) Stop() error {
	c.tomb.Kill(nil)
	return c.tomb.Wait()
}

func (c *Coordinator) send(req armRequest) {
	for {
		select {
		case c.armCh <- req:
			return
		default:
		}
		// replace the request not yet picked up
		select {
		case <-c.armCh:
		default:
		}
	}
}

// Arm schedules processing after delay, replacing any pending schedule.
func (c *Coordinator) Arm(delay time.Duration) {
	c.send(armRequest{delay: delay, gen: c.gen.Load()})
}

// Cancel drops the pending schedule. Processing that has not yet taken
// the session lock will not run.
func (c *Coordinator) Cancel() {
	gen := c.gen.Add(1)
	c.send(armRequest{stop: true, gen: gen})
}

func (c *Coordinator) loop() error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	var armed armRequest
	for {
		select {
		case req := <-c.armCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			armed = req
			if !req.stop {
				timer.Reset(req.delay)
			}
		case <-timer.C:
			c.process(armed.gen)
		case <-c.tomb.Dying():
			timer.Stop()
			return nil
		}
	}
}

var processedHook = func() {}

func (c *Coordinator) process(gen uint64) {
	defer processedHook()
	if gen != c.gen.Load() {
		return
	}
	c.machine.WithSession(func(s Session) {
		if gen != c.gen.Load() {
			return
		}
		c.processLocked(s)
	})
}

func (c *Coordinator) processLocked(s Session) {
	cond := s.Conditions()
	if cond.Aborted || !cond.Connected {
		return
	}
	if cond.Suspended {
		c.Arm(c.opts.SuspendedDelay)
		return
	}

	c.mu.Lock()
	delayedOff := c.delayedOff
	c.delayedOff = false
	c.mu.Unlock()
	if delayedOff {
		logger.Debugf("completing deferred content protection teardown")
		c.off(nil)
		if len(cond.Streams) == 0 || !cond.Enabled {
			return
		}
	}
	if !cond.Enabled {
		return
	}

	if !c.engine.SinkSupported() {
		logger.Debugf("sink does not support content protection")
		return
	}

	if err := c.engine.SinkSync(); err != nil {
		c.mu.Lock()
		c.sinkSyncFailures++
		failures := c.sinkSyncFailures
		c.mu.Unlock()
		logger.Noticef("content protection sink sync failed (%d/%d): %v", failures, c.opts.SinkSyncLimit, err)
		if failures >= c.opts.SinkSyncLimit {
			s.PoorConnection("content protection sink not ready")
			return
		}
		c.Arm(c.opts.RetryDelay)
		return
	}

	c.mu.Lock()
	c.sinkSyncFailures = 0
	state := c.state
	c.mu.Unlock()

	switch state {
	case Inactive:
		if err := c.start(cond.Streams); err != nil {
			logger.Noticef("cannot start content protection: %v", err)
			c.fail()
			return
		}
		c.authenticate(c.engine.Authenticate)
	case AuthFailed:
		c.authenticate(c.engine.Reauthenticate)
	case Authenticating:
		c.authenticate(c.engine.Authenticate)
	case Authenticated:
		// register streams enabled since authentication
		c.register(cond.Streams)
	}
}

func (c *Coordinator) start(streams []int) error {
	c.mu.Lock()
	on := c.on
	c.mu.Unlock()
	if !on {
		if err := c.engine.On(); err != nil {
			return err
		}
		c.mu.Lock()
		c.on = true
		c.mu.Unlock()
	}
	if err := c.register(streams); err != nil {
		return err
	}
	c.setState(Authenticating)
	return nil
}

func (c *Coordinator) register(streams []int) error {
	c.mu.Lock()
	var fresh []int
	for _, id := range streams {
		if !c.registered[id] {
			fresh = append(fresh, id)
		}
	}
	c.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}
	if err := c.engine.RegisterStreams(fresh); err != nil {
		return fmt.Errorf("cannot register streams %v: %w", fresh, err)
	}
	c.mu.Lock()
	for _, id := range fresh {
		c.registered[id] = true
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) authenticate(auth func() error) {
	c.mu.Lock()
	c.authAttempts++
	attempt := c.authAttempts
	c.mu.Unlock()

	if err := auth(); err != nil {
		logger.Noticef("content protection authentication failed (attempt %d/%d): %v", attempt, c.opts.AuthRetries, err)
		c.fail()
		return
	}
	c.mu.Lock()
	c.state = Authenticated
	c.authAttempts = 0
	c.mu.Unlock()
	logger.Debugf("content protection authenticated (version %d)", c.engine.Version())
}

// fail marks authentication failed and retries while attempts remain.
func (c *Coordinator) fail() {
	c.mu.Lock()
	c.state = AuthFailed
	retry := c.authAttempts < c.opts.AuthRetries
	c.mu.Unlock()
	if retry {
		c.Arm(c.opts.RetryDelay)
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// HandleIRQ passes a sink CP_IRQ to the engine. A lost authentication is
// retried right away.
func (c *Coordinator) HandleIRQ() {
	c.mu.Lock()
	on := c.on
	c.mu.Unlock()
	if !on {
		return
	}
	lost, err := c.engine.HandleIRQ()
	if err != nil {
		logger.Noticef("cannot handle content protection interrupt: %v", err)
		return
	}
	if lost {
		logger.Noticef("content protection authentication lost")
		c.mu.Lock()
		c.state = AuthFailed
		c.authAttempts = 0
		c.mu.Unlock()
		c.Arm(0)
	}
}

// Disable withdraws streamID. While suspended the engine is left alone
// and switched off on the next processing after resume. Errors are
// logged only.
func (c *Coordinator) Disable(streamID int, cond Conditions) {
	c.mu.Lock()
	on := c.on
	c.mu.Unlock()
	if !on {
		return
	}
	if cond.Suspended {
		c.mu.Lock()
		c.delayedOff = true
		c.mu.Unlock()
		logger.Debugf("deferring content protection teardown until resume")
		return
	}

	var remaining []int
	for _, id := range cond.Streams {
		if id != streamID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) > 0 {
		c.deregister([]int{streamID})
		return
	}
	c.Cancel()
	c.off([]int{streamID})
}

func (c *Coordinator) deregister(streams []int) {
	c.mu.Lock()
	var known []int
	for _, id := range streams {
		if c.registered[id] {
			known = append(known, id)
			delete(c.registered, id)
		}
	}
	c.mu.Unlock()
	if len(known) == 0 {
		return
	}
	if err := c.engine.DeregisterStreams(known); err != nil {
		logger.Noticef("cannot deregister streams %v: %v", known, err)
	}
}

func (c *Coordinator) off(streams []int) {
	c.mu.Lock()
	all := make([]int, 0, len(c.registered))
	for id := range c.registered {
		all = append(all, id)
	}
	c.mu.Unlock()
	sort.Ints(all)
	c.deregister(append(streams, all...))

	c.mu.Lock()
	on := c.on
	c.on = false
	c.state = Inactive
	c.authAttempts = 0
	c.sinkSyncFailures = 0
	c.mu.Unlock()
	if on {
		if err := c.engine.Off(); err != nil {
			logger.Noticef("cannot switch content protection off: %v", err)
		}
	}
}

// Suspend stops deferred processing.
func (c *Coordinator) Suspend() {
	c.Cancel()
}

// Resume re-arms processing if the engine was in use or a teardown was
// deferred.
func (c *Coordinator) Resume(delay time.Duration) {
	c.mu.Lock()
	active := c.on || c.delayedOff
	c.mu.Unlock()
	if active {
		c.Arm(delay)
	}
}

// Reset switches the engine off and forgets all state. It is used when
// the connection goes away.
func (c *Coordinator) Reset() {
	c.Cancel()
	c.mu.Lock()
	c.delayedOff = false
	c.mu.Unlock()
	c.off(nil)
}

// Status returns a snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:      c.state,
		DelayedOff: c.delayedOff,
	}
	if c.on {
		st.Version = c.engine.Version()
	}
	for id := range c.registered {
		st.Streams = append(st.Streams, id)
	}
	sort.Ints(st.Streams)
	return st
}
