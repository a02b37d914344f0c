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

package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hw"
)

// Hardware is a complete simulated source with an optional attached
// sink. All collaborators record the calls made to them in one shared
// ordered log.
type Hardware struct {
	mu    sync.Mutex
	sink  *Sink
	calls []string

	auxErrors []error
	regs      map[uint32]uint32

	Registers *Registers
	Link      *Link
	Power     *Power
	CP        *ContentProtection
	Audio     *Audio
}

// New returns simulated hardware with no sink attached.
func New() *Hardware {
	h := &Hardware{regs: make(map[uint32]uint32)}
	h.Registers = &Registers{h: h}
	h.Link = &Link{h: h}
	h.Power = &Power{h: h}
	h.CP = &ContentProtection{h: h, version: 2}
	h.Audio = &Audio{h: h}
	return h
}

// Backend returns the collaborators as a hw.Backend.
func (h *Hardware) Backend() *hw.Backend {
	return &hw.Backend{
		Registers: h.Registers,
		Link:      h.Link,
		Power:     h.Power,
		CP:        h.CP,
		Audio:     h.Audio,
	}
}

// Attach plugs sink in, replacing any previous one.
func (h *Hardware) Attach(sink *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// Detach unplugs the sink.
func (h *Hardware) Detach() {
	h.Attach(nil)
}

// Sink returns the attached sink or nil.
func (h *Hardware) Sink() *Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink
}

// InjectAuxErrors makes the next AUX transfers fail with errs, in order.
func (h *Hardware) InjectAuxErrors(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.auxErrors = append(h.auxErrors, errs...)
}

func (h *Hardware) record(format string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls.
func (h *Hardware) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// ResetCalls clears the recorded calls.
func (h *Hardware) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

// Registers implements hw.RegisterAccess.
type Registers struct {
	h *Hardware
}

func (r *Registers) Read(offset uint32) (uint32, error) {
	r.h.mu.Lock()
	defer r.h.mu.Unlock()
	return r.h.regs[offset], nil
}

func (r *Registers) Write(offset uint32, value uint32) error {
	r.h.mu.Lock()
	defer r.h.mu.Unlock()
	r.h.regs[offset] = value
	return nil
}

func (r *Registers) SoftReset(mask hw.Component) error {
	r.h.record("soft-reset %#x", uint(mask))
	return nil
}

func (r *Registers) AuxTransfer(ctx context.Context, req hw.AuxRequest) ([]byte, error) {
	r.h.mu.Lock()
	sink := r.h.sink
	var injected error
	if len(r.h.auxErrors) > 0 {
		injected = r.h.auxErrors[0]
		r.h.auxErrors = r.h.auxErrors[1:]
	}
	r.h.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if sink == nil {
		return nil, hw.ErrNoSink
	}
	if req.Write {
		sink.write(req.Address, req.Data)
		return nil, nil
	}
	return sink.read(req.Address, len(req.Data)), nil
}

// Link implements hw.Link.
type Link struct {
	h *Hardware

	mu      sync.Mutex
	lanes   dp.LaneCount
	rate    dp.LinkRate
	drive   []dp.LaneDrive
	configs []dp.LinkParameters
	streams map[int]bool
}

func (l *Link) SetPHYState(state hw.PHYState) error {
	if state == hw.PHYActive {
		l.h.record("phy active")
	} else {
		l.h.record("phy low-power")
	}
	return nil
}

func (l *Link) ConfigureLink(lanes dp.LaneCount, rate dp.LinkRate) error {
	l.mu.Lock()
	l.lanes, l.rate = lanes, rate
	l.configs = append(l.configs, dp.LinkParameters{Lanes: lanes, Rate: rate})
	l.mu.Unlock()
	l.h.record("configure %d %s", lanes, rate)
	return nil
}

func (l *Link) SetDrive(drive []dp.LaneDrive) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drive = append([]dp.LaneDrive(nil), drive...)
	return nil
}

func (l *Link) SetTrainingPattern(p dp.TrainingPattern) error {
	return nil
}

func (l *Link) EnableMainLink(enable bool) error {
	l.h.record("main-link %v", enable)
	return nil
}

func (l *Link) SetPHYTestPattern(pattern byte) error {
	l.h.record("phy-test-pattern %d", pattern)
	return nil
}

func (l *Link) StreamOn(streamID int) error {
	l.mu.Lock()
	if l.streams == nil {
		l.streams = make(map[int]bool)
	}
	l.streams[streamID] = true
	l.mu.Unlock()
	l.h.record("stream-on %d", streamID)
	return nil
}

func (l *Link) StreamOff(streamID int) error {
	l.mu.Lock()
	delete(l.streams, streamID)
	l.mu.Unlock()
	l.h.record("stream-off %d", streamID)
	return nil
}

// Configs returns every link configuration programmed, in order.
func (l *Link) Configs() []dp.LinkParameters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dp.LinkParameters(nil), l.configs...)
}

// ResetConfigs forgets the programmed link configurations.
func (l *Link) ResetConfigs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs = nil
}

// Power implements hw.Power.
type Power struct {
	h *Hardware

	mu      sync.Mutex
	on      bool
	InitErr error
}

func (p *Power) Init(flip bool) error {
	p.mu.Lock()
	err := p.InitErr
	if err == nil {
		p.on = true
	}
	p.mu.Unlock()
	p.h.record("power-init flip=%v", flip)
	return err
}

func (p *Power) Deinit() error {
	p.mu.Lock()
	p.on = false
	p.mu.Unlock()
	p.h.record("power-deinit")
	return nil
}

// On reports whether the host side is powered.
func (p *Power) On() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// ContentProtection implements hw.ContentProtection.
type ContentProtection struct {
	h *Hardware

	mu sync.Mutex
	on bool

	version    int
	registered map[int]bool
	authCount  int

	// AuthFailures is the number of upcoming authentications that fail.
	AuthFailures int
	// SinkSyncFailures is the number of upcoming sink syncs that fail.
	SinkSyncFailures int
	// LoseOnIRQ makes the next CP_IRQ report lost authentication.
	LoseOnIRQ bool
	// Unsupported makes the engine report no sink support.
	Unsupported bool
}

func (cp *ContentProtection) On() error {
	cp.mu.Lock()
	cp.on = true
	cp.mu.Unlock()
	cp.h.record("cp-on")
	return nil
}

func (cp *ContentProtection) Off() error {
	cp.mu.Lock()
	cp.on = false
	cp.mu.Unlock()
	cp.h.record("cp-off")
	return nil
}

func (cp *ContentProtection) authenticate(kind string) error {
	cp.mu.Lock()
	cp.authCount++
	fail := cp.AuthFailures > 0
	if fail {
		cp.AuthFailures--
	}
	cp.mu.Unlock()
	cp.h.record("cp-%s", kind)
	if fail {
		return fmt.Errorf("simulated %s failure", kind)
	}
	return nil
}

func (cp *ContentProtection) Authenticate() error {
	return cp.authenticate("authenticate")
}

func (cp *ContentProtection) Reauthenticate() error {
	return cp.authenticate("reauthenticate")
}

func (cp *ContentProtection) ForceEncryption(on bool) error {
	cp.h.record("cp-force-encryption %v", on)
	return nil
}

func (cp *ContentProtection) Version() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.version
}

// SetVersion changes the reported protocol version.
func (cp *ContentProtection) SetVersion(v int) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.version = v
}

func (cp *ContentProtection) SinkSupported() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return !cp.Unsupported
}

func (cp *ContentProtection) RegisterStreams(streams []int) error {
	cp.mu.Lock()
	if cp.registered == nil {
		cp.registered = make(map[int]bool)
	}
	for _, id := range streams {
		cp.registered[id] = true
	}
	cp.mu.Unlock()
	cp.h.record("cp-register %v", streams)
	return nil
}

func (cp *ContentProtection) DeregisterStreams(streams []int) error {
	cp.mu.Lock()
	for _, id := range streams {
		delete(cp.registered, id)
	}
	cp.mu.Unlock()
	cp.h.record("cp-deregister %v", streams)
	return nil
}

func (cp *ContentProtection) HandleIRQ() (bool, error) {
	cp.mu.Lock()
	lost := cp.LoseOnIRQ
	cp.LoseOnIRQ = false
	cp.mu.Unlock()
	cp.h.record("cp-irq lost=%v", lost)
	return lost, nil
}

func (cp *ContentProtection) SinkSync() error {
	cp.mu.Lock()
	fail := cp.SinkSyncFailures > 0
	if fail {
		cp.SinkSyncFailures--
	}
	cp.mu.Unlock()
	if fail {
		return fmt.Errorf("simulated sink sync failure")
	}
	return nil
}

// IsOn reports whether the engine is on.
func (cp *ContentProtection) IsOn() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.on
}

// AuthCount is the number of authentications attempted.
func (cp *ContentProtection) AuthCount() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.authCount
}

// Audio implements hw.Audio.
type Audio struct {
	h *Hardware
}

func (a *Audio) On(streamID int) error {
	a.h.record("audio-on %d", streamID)
	return nil
}

func (a *Audio) Off(streamID int) error {
	a.h.record("audio-off %d", streamID)
	return nil
}
