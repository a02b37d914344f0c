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

// Package hpd turns raw hot-plug detect reports into discrete attention
// events.
package hpd

import (
	"fmt"
	"sync"
)

// Kind is the kind of an attention event.
type Kind int

const (
	CableDetach Kind = iota
	LinkConfigured
	HotPlugHigh
	HotPlugLow
	HotPlugInterrupt
)

var kindNames = []string{
	CableDetach:      "cable-detach",
	LinkConfigured:   "link-configured",
	HotPlugHigh:      "hpd-high",
	HotPlugLow:       "hpd-low",
	HotPlugInterrupt: "hpd-irq",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown attention event %q", s)
}

// Urgent reports whether events of this kind tear the connection down
// and must abort in-flight work as soon as they are seen.
func (k Kind) Urgent() bool {
	return k == CableDetach || k == HotPlugLow
}

// PinAssignment is the alternate mode pin assignment negotiated for the
// cable.
type PinAssignment byte

const (
	PinAssignmentNone PinAssignment = 0
	PinAssignmentC    PinAssignment = 'C'
	PinAssignmentD    PinAssignment = 'D'
	PinAssignmentE    PinAssignment = 'E'
)

func (p PinAssignment) String() string {
	if p == PinAssignmentNone {
		return "none"
	}
	return string(rune(p))
}

// ParsePinAssignment parses "C", "D", "E" or "none".
func ParsePinAssignment(s string) (PinAssignment, error) {
	switch s {
	case "C", "c":
		return PinAssignmentC, nil
	case "D", "d":
		return PinAssignmentD, nil
	case "E", "e":
		return PinAssignmentE, nil
	case "", "none":
		return PinAssignmentNone, nil
	}
	return PinAssignmentNone, fmt.Errorf("unknown pin assignment %q", s)
}

func (p PinAssignment) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PinAssignment) UnmarshalText(text []byte) error {
	v, err := ParsePinAssignment(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MaxLanes is the number of main link lanes the pin assignment leaves
// for the display.
func (p PinAssignment) MaxLanes() int {
	if p == PinAssignmentD {
		// D shares the connector with USB
		return 2
	}
	return 4
}

// Orientation is the cable plug orientation.
type Orientation int

const (
	OrientationNormal Orientation = iota
	OrientationFlipped
)

func (o Orientation) String() string {
	if o == OrientationFlipped {
		return "flipped"
	}
	return "normal"
}

func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Orientation) UnmarshalText(text []byte) error {
	switch string(text) {
	case "normal", "":
		*o = OrientationNormal
	case "flipped":
		*o = OrientationFlipped
	default:
		return fmt.Errorf("unknown orientation %q", text)
	}
	return nil
}

// AttentionEvent is one normalized hot-plug event.
type AttentionEvent struct {
	Kind          Kind
	PinAssignment PinAssignment
	Orientation   Orientation
}

func (e AttentionEvent) String() string {
	if e.Kind == LinkConfigured {
		return fmt.Sprintf("%s(pin %s, %s)", e.Kind, e.PinAssignment, e.Orientation)
	}
	return e.Kind.String()
}

// Report is a raw status report from the hot-plug signal source.
type Report struct {
	// Attached is false once the cable is removed.
	Attached bool `json:"attached"`
	// Configured is true once the alternate mode pin assignment is
	// known.
	Configured    bool          `json:"configured"`
	PinAssignment PinAssignment `json:"pin-assignment"`
	Orientation   Orientation   `json:"orientation"`
	HPDHigh       bool          `json:"hpd-high"`
	// IRQ is set for a hot-plug interrupt pulse.
	IRQ bool `json:"irq,omitempty"`
}

// Adapter tracks the last known signal levels and emits events for
// changes only.
type Adapter struct {
	mu          sync.Mutex
	attached    bool
	configured  bool
	pin         PinAssignment
	orientation Orientation
	hpdHigh     bool
}

// NewAdapter returns an adapter with nothing attached.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Normalize converts r into zero or more events, in the order they must
// be processed.
func (a *Adapter) Normalize(r Report) []AttentionEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !r.Attached {
		if !a.attached && !a.configured && !a.hpdHigh {
			return nil
		}
		a.clear()
		return []AttentionEvent{{Kind: CableDetach}}
	}
	a.attached = true

	var events []AttentionEvent
	if r.Configured && (!a.configured || r.PinAssignment != a.pin || r.Orientation != a.orientation) {
		a.configured = true
		a.pin = r.PinAssignment
		a.orientation = r.Orientation
		events = append(events, AttentionEvent{
			Kind:          LinkConfigured,
			PinAssignment: r.PinAssignment,
			Orientation:   r.Orientation,
		})
	}

	switch {
	case r.HPDHigh && !a.hpdHigh:
		// an interrupt pulse on a rising edge is just the edge
		a.hpdHigh = true
		events = append(events, AttentionEvent{Kind: HotPlugHigh})
	case r.HPDHigh && r.IRQ:
		events = append(events, AttentionEvent{Kind: HotPlugInterrupt})
	case !r.HPDHigh && a.hpdHigh:
		a.hpdHigh = false
		events = append(events, AttentionEvent{Kind: HotPlugLow})
	}
	return events
}

// HPDHigh reports the last seen HPD level.
func (a *Adapter) HPDHigh() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hpdHigh
}

// Configured reports whether a pin assignment is known, and which.
func (a *Adapter) Configured() (bool, PinAssignment, Orientation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configured, a.pin, a.orientation
}

// Reset forgets all tracked levels.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clear()
}

// clear must be called with mu held.
func (a *Adapter) clear() {
	a.attached = false
	a.configured = false
	a.pin = PinAssignmentNone
	a.orientation = OrientationNormal
	a.hpdHigh = false
}
