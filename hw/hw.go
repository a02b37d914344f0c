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

// Package hw declares the narrow contracts the link controller needs
// from the hardware collaborators: register access, link programming,
// power sequencing, the content-protection engine and the audio hook.
package hw

import (
	"context"
	"errors"

	"github.com/snapcore/dplink/dp"
)

var (
	// ErrAuxTimeout is returned when the sink did not reply in time.
	ErrAuxTimeout = errors.New("aux transfer timed out")
	// ErrAuxDefer is returned when the sink asked to retry later.
	ErrAuxDefer = errors.New("aux transfer deferred by sink")
	// ErrAuxNack is returned when the sink refused the transfer.
	ErrAuxNack = errors.New("aux transfer not acknowledged")
	// ErrNoSink is returned when nothing answers on the AUX channel.
	ErrNoSink = errors.New("no sink connected")
)

// AuxRequest is a native AUX transaction.
type AuxRequest struct {
	Write   bool
	Address uint32
	// Data is written for writes; for reads its length is the number
	// of bytes requested.
	Data []byte
}

// Component selects what SoftReset resets.
type Component uint

const (
	ComponentAux Component = 1 << iota
	ComponentLink
	ComponentPHY
	ComponentController
)

// RegisterAccess is the register level access layer.
type RegisterAccess interface {
	Read(offset uint32) (uint32, error)
	Write(offset uint32, value uint32) error
	SoftReset(mask Component) error
	// AuxTransfer performs a single native AUX transaction and returns
	// the bytes read, if any.
	AuxTransfer(ctx context.Context, req AuxRequest) ([]byte, error)
}

// PHYState is the power state of the PHY.
type PHYState int

const (
	PHYLowPower PHYState = iota
	PHYActive
)

// Link programs the source side of the main link.
type Link interface {
	SetPHYState(state PHYState) error
	ConfigureLink(lanes dp.LaneCount, rate dp.LinkRate) error
	SetDrive(drive []dp.LaneDrive) error
	SetTrainingPattern(p dp.TrainingPattern) error
	EnableMainLink(enable bool) error
	SetPHYTestPattern(pattern byte) error
	StreamOn(streamID int) error
	StreamOff(streamID int) error
}

// Power sequences power rails and clocks for the host side.
type Power interface {
	Init(flip bool) error
	Deinit() error
}

// ContentProtection is the external content-protection engine.
type ContentProtection interface {
	On() error
	Off() error
	Authenticate() error
	Reauthenticate() error
	ForceEncryption(on bool) error
	Version() int
	SinkSupported() bool
	RegisterStreams(streams []int) error
	DeregisterStreams(streams []int) error
	// HandleIRQ processes a CP_IRQ from the sink and reports whether
	// authentication was lost.
	HandleIRQ() (lost bool, err error)
	// SinkSync checks that the sink side engine is ready.
	SinkSync() error
}

// Audio is the audio sub-stream hook.
type Audio interface {
	On(streamID int) error
	Off(streamID int) error
}

// Backend bundles all collaborators.
type Backend struct {
	Registers RegisterAccess
	Link      Link
	Power     Power
	CP        ContentProtection
	Audio     Audio
}

// Validate checks that the mandatory collaborators are present.
func (b *Backend) Validate() error {
	switch {
	case b.Registers == nil:
		return errors.New("missing register access")
	case b.Link == nil:
		return errors.New("missing link controller")
	case b.Power == nil:
		return errors.New("missing power controller")
	}
	return nil
}
