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

// Package dpaux implements sink register access over the AUX channel.
package dpaux

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gopkg.in/retry.v1"

	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/logger"
)

// MaxTransferSize is the largest payload of a single native AUX
// transaction.
const MaxTransferSize = 16

// ErrAborted is returned by all operations while the channel is aborted.
var ErrAborted = errors.New("aux channel aborted")

var defaultRetryStrategy = retry.LimitCount(7, retry.LimitTime(50*time.Millisecond,
	retry.Exponential{
		Initial: 400 * time.Microsecond,
		Factor:  2,
	},
))

// Channel reads and writes sink registers. It is safe for concurrent
// use; the abort flag may be flipped from any goroutine.
type Channel struct {
	regs    hw.RegisterAccess
	aborted atomic.Bool

	strategy retry.Strategy
}

// New returns a channel transferring over regs.
func New(regs hw.RegisterAccess) *Channel {
	return &Channel{
		regs:     regs,
		strategy: defaultRetryStrategy,
	}
}

// Abort makes all current and future transfers fail fast with
// ErrAborted until called again with false.
func (c *Channel) Abort(abort bool) {
	if c.aborted.Swap(abort) != abort {
		logger.Debugf("aux channel abort=%v", abort)
	}
}

// Aborted reports whether the channel is currently aborted.
func (c *Channel) Aborted() bool {
	return c.aborted.Load()
}

func shouldRetry(attempt *retry.Attempt, err error) bool {
	if !attempt.More() {
		return false
	}
	return errors.Is(err, hw.ErrAuxDefer) || errors.Is(err, hw.ErrAuxNack) || errors.Is(err, hw.ErrAuxTimeout)
}

func (c *Channel) transfer(ctx context.Context, req hw.AuxRequest) (data []byte, err error) {
	var attempt *retry.Attempt
	for attempt = retry.Start(c.strategy, nil); attempt.Next(); {
		if c.Aborted() {
			return nil, ErrAborted
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err = c.regs.AuxTransfer(ctx, req)
		if err == nil {
			return data, nil
		}
		if shouldRetry(attempt, err) {
			logger.Debugf("retrying aux transfer at %#x (attempt %d): %v", req.Address, attempt.Count(), err)
			continue
		}
		break
	}
	if c.Aborted() {
		return nil, ErrAborted
	}
	return nil, err
}

// Read reads n bytes starting at addr.
func (c *Channel) Read(ctx context.Context, addr uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for off := 0; off < n; off += MaxTransferSize {
		size := n - off
		if size > MaxTransferSize {
			size = MaxTransferSize
		}
		req := hw.AuxRequest{Address: addr + uint32(off), Data: make([]byte, size)}
		data, err := c.transfer(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("cannot read %d bytes at %#x: %w", size, req.Address, err)
		}
		if len(data) != size {
			return nil, fmt.Errorf("cannot read %d bytes at %#x: short read of %d bytes", size, req.Address, len(data))
		}
		out = append(out, data...)
	}
	return out, nil
}

// ReadReg reads the single register at addr.
func (c *Channel) ReadReg(ctx context.Context, addr uint32) (byte, error) {
	b, err := c.Read(ctx, addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Write writes data starting at addr.
func (c *Channel) Write(ctx context.Context, addr uint32, data []byte) error {
	for off := 0; off < len(data); off += MaxTransferSize {
		end := off + MaxTransferSize
		if end > len(data) {
			end = len(data)
		}
		req := hw.AuxRequest{Write: true, Address: addr + uint32(off), Data: data[off:end]}
		if _, err := c.transfer(ctx, req); err != nil {
			return fmt.Errorf("cannot write %d bytes at %#x: %w", end-off, req.Address, err)
		}
	}
	return nil
}

// WriteReg writes the single register at addr.
func (c *Channel) WriteReg(ctx context.Context, addr uint32, v byte) error {
	return c.Write(ctx, addr, []byte{v})
}
