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

package linktrain

import (
	"errors"
	"fmt"

	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/dpaux"
)

var (
	ErrClockRecoveryFailed = errors.New("clock recovery failed")
	ErrChannelEqFailed     = errors.New("channel equalization failed")
	ErrTrainingExhausted   = errors.New("link training exhausted")
	// ErrAborted is returned when training was interrupted by an abort
	// of the AUX channel or a cancelled context.
	ErrAborted = dpaux.ErrAborted
)

// TrainingError describes a failed training run.
type TrainingError struct {
	// Phase is the phase that failed last.
	Phase Phase
	// Params is the link configuration that was being trained.
	Params dp.LinkParameters
	// Tried lists every link configuration attempted, in order.
	Tried []dp.LinkParameters
	// Err is one of the package errors, or a hardware error.
	Err error
	// Cause is the phase failure that led to Err, if different.
	Cause error
}

func (e *TrainingError) Error() string {
	msg := fmt.Sprintf("cannot train link at %s during %s: %v", e.Params, e.Phase, e.Err)
	if e.Cause != nil && e.Cause != e.Err {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *TrainingError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// IsExhausted reports whether err is a training failure with no
// fallback left.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrTrainingExhausted)
}
