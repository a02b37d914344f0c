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

// Package mst tracks whether the sink is a branching device and keeps
// the per-stream time slot table for multi-stream operation.
package mst

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/dpaux"
	"github.com/snapcore/dplink/logger"
)

const (
	// TotalSlots is the number of time slots in a multi-stream
	// transport frame.
	TotalSlots = 64
	// MaxStreams is the number of streams carried in multi-stream mode.
	MaxStreams = 2

	// DefaultSettleDelay is waited after clearing a stale MSTM_CTRL.
	DefaultSettleDelay = 100 * time.Millisecond
)

var (
	ErrInvalidStream = errors.New("invalid stream id")
	ErrSlotsInUse    = errors.New("time slots already allocated")
	ErrNotActive     = errors.New("multi-stream mode is not active")
)

var timeSleep = time.Sleep

// HotPlugInfo describes the branch device to the topology consumer.
type HotPlugInfo struct {
	Ports int
}

// Topology is the external consumer that discovers the streams behind
// a branching sink.
type Topology interface {
	HotPlug(connected bool, info HotPlugInfo)
	// HotPlugIRQ forwards a sink interrupt for sideband processing.
	HotPlugIRQ()
}

// Allocation is the slot range of one stream.
type Allocation struct {
	Stream int `json:"stream"`
	Start  int `json:"start"`
	Count  int `json:"count"`
	PBN    int `json:"pbn"`
}

// Manager is driven by the connection with its session lock held.
type Manager struct {
	aux    *dpaux.Channel
	topo   Topology
	settle time.Duration

	mu     sync.Mutex
	active bool
	ports  int
	allocs map[int]Allocation
}

// New returns a manager. topo may be nil when nothing consumes the
// topology.
func New(aux *dpaux.Channel, topo Topology, settle time.Duration) *Manager {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Manager{
		aux:    aux,
		topo:   topo,
		settle: settle,
		allocs: make(map[int]Allocation),
	}
}

// Active reports whether multi-stream mode is enabled.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Probe enables multi-stream mode when caps describe a branching sink.
// A sink-side MSTM_CTRL left over from an earlier session is cleared
// first.
func (m *Manager) Probe(ctx context.Context, caps *dp.SinkCapabilities) (bool, error) {
	if m.Active() {
		return true, nil
	}
	if caps == nil || !caps.MST {
		logger.Debugf("sink does not support multi-stream")
		return false, nil
	}

	ctrl, err := m.aux.ReadReg(ctx, dp.RegMSTMCtrl)
	if err != nil {
		return false, fmt.Errorf("cannot read multi-stream control: %w", err)
	}
	if ctrl != 0 {
		logger.Debugf("clearing stale multi-stream control %#x", ctrl)
		if err := m.aux.WriteReg(ctx, dp.RegMSTMCtrl, 0); err != nil {
			return false, fmt.Errorf("cannot clear multi-stream control: %w", err)
		}
		timeSleep(m.settle)
	}
	if err := m.aux.WriteReg(ctx, dp.RegMSTMCtrl, dp.MSTMCtrlEnableAll); err != nil {
		return false, fmt.Errorf("cannot enable multi-stream mode: %w", err)
	}

	m.mu.Lock()
	m.active = true
	m.ports = caps.DownstreamPorts
	m.mu.Unlock()
	logger.Noticef("multi-stream mode enabled")
	return true, nil
}

// Announce tells the topology consumer that the link is up.
func (m *Manager) Announce() {
	m.mu.Lock()
	active := m.active
	info := HotPlugInfo{Ports: m.ports}
	m.mu.Unlock()
	if active && m.topo != nil {
		m.topo.HotPlug(true, info)
	}
}

// HotPlugLow tells the topology consumer the branch went away and
// leaves multi-stream mode.
func (m *Manager) HotPlugLow() {
	m.mu.Lock()
	active := m.active
	info := HotPlugInfo{Ports: m.ports}
	m.mu.Unlock()
	if !active {
		return
	}
	if m.topo != nil {
		m.topo.HotPlug(false, info)
	}
	m.Reset()
}

// Attention forwards a sink interrupt while multi-stream mode is on.
func (m *Manager) Attention() {
	if m.Active() && m.topo != nil {
		m.topo.HotPlugIRQ()
	}
}

// Reset leaves multi-stream mode without telling anyone.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.ports = 0
	m.allocs = make(map[int]Allocation)
}

// ValidStream reports whether id can be used in the current mode.
func (m *Manager) ValidStream(id int) bool {
	if m.Active() {
		return id >= 0 && id < MaxStreams
	}
	return id == 0
}

// MaxStreams is the number of streams usable in the current mode.
func (m *Manager) MaxStreams() int {
	if m.Active() {
		return MaxStreams
	}
	return 1
}

// Allocate records the slot range of a stream after checking it fits
// and overlaps no other stream.
func (m *Manager) Allocate(a Allocation) error {
	if a.Stream < 0 || a.Stream >= MaxStreams {
		return fmt.Errorf("%w: %d", ErrInvalidStream, a.Stream)
	}
	if a.Count <= 0 || a.Start < 0 || a.Start+a.Count > TotalSlots {
		return fmt.Errorf("invalid time slot range %d+%d", a.Start, a.Count)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return ErrNotActive
	}
	for id, other := range m.allocs {
		if id == a.Stream {
			continue
		}
		if a.Start < other.Start+other.Count && other.Start < a.Start+a.Count {
			return fmt.Errorf("%w: slots %d+%d overlap stream %d", ErrSlotsInUse, a.Start, a.Count, id)
		}
	}
	m.allocs[a.Stream] = a
	return nil
}

// Release frees the slots of a stream.
func (m *Manager) Release(stream int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.allocs, stream)
}

// Allocation returns the slot range of stream, if any.
func (m *Manager) Allocation(stream int) (Allocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocs[stream]
	return a, ok
}

// Allocations returns all slot ranges ordered by stream.
func (m *Manager) Allocations() []Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Allocation, 0, len(m.allocs))
	for _, a := range m.allocs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// FreeSlots is the number of unallocated slots.
func (m *Manager) FreeSlots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := TotalSlots
	for _, a := range m.allocs {
		free -= a.Count
	}
	return free
}
