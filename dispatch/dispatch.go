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

// Package dispatch runs attention events one at a time, in arrival
// order, on a single worker.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/logger"
)

var (
	// ErrQueueFull is returned by TrySend when the queue has no room.
	ErrQueueFull = errors.New("attention queue is full")
	// ErrStopped is returned by TrySend after Stop.
	ErrStopped = errors.New("attention dispatcher is stopped")
)

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 16

// Handler processes one event. The context is cancelled when the
// dispatcher stops.
type Handler func(ctx context.Context, ev hpd.AttentionEvent)

type item struct {
	ev  hpd.AttentionEvent
	gen uint64
}

type workerKey struct{}

// InWorker reports whether ctx is the context of a running handler.
func InWorker(ctx context.Context) bool {
	return ctx != nil && ctx.Value(workerKey{}) != nil
}

// Dispatcher owns the attention queue.
type Dispatcher struct {
	tomb    tomb.Tomb
	handler Handler
	queue   chan item

	// gen is bumped by Abort; queued items of an older generation are
	// dropped.
	gen atomic.Uint64
	// busy is held while a handler runs.
	busy sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool

	pendingIRQ atomic.Int32
	irqSignal  chan struct{}
}

// New returns a dispatcher calling h for every event.
func New(size int, h Handler) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		handler:   h,
		queue:     make(chan item, size),
		irqSignal: make(chan struct{}, 1),
	}
}

// Start starts the worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.tomb.Go(d.loop)
}

// Stop stops the worker after the running handler, if any, returns.
// Queued events are discarded.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	started := d.started
	d.stopped = true
	d.mu.Unlock()
	if !started {
		return nil
	}
	d.tomb.Kill(nil)
	return d.tomb.Wait()
}

// TrySend queues ev without blocking.
func (d *Dispatcher) TrySend(ev hpd.AttentionEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- item{ev: ev, gen: d.gen.Load()}:
	default:
		logger.Noticef("dropping %s: %v", ev, ErrQueueFull)
		return ErrQueueFull
	}
	if ev.Kind == hpd.HotPlugInterrupt {
		d.pendingIRQ.Add(1)
		select {
		case d.irqSignal <- struct{}{}:
		default:
		}
	}
	return nil
}

// Abort discards queued events and waits for a running handler to
// return. Called from within a handler it does not wait.
func (d *Dispatcher) Abort(ctx context.Context) {
	d.gen.Add(1)
	d.drain()
	if InWorker(ctx) {
		return
	}
	d.busy.Lock()
	d.busy.Unlock()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case it := <-d.queue:
			d.settle(it)
			logger.Debugf("discarding queued %s", it.ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) settle(it item) {
	if it.ev.Kind == hpd.HotPlugInterrupt {
		d.pendingIRQ.Add(-1)
	}
}

// PendingInterrupts returns the number of queued hot-plug interrupts.
func (d *Dispatcher) PendingInterrupts() int {
	return int(d.pendingIRQ.Load())
}

// WaitInterrupt waits up to timeout for a hot-plug interrupt to be
// queued and reports whether one is pending.
func (d *Dispatcher) WaitInterrupt(timeout time.Duration) bool {
	// forget signals for interrupts that were already handled
	select {
	case <-d.irqSignal:
	default:
	}
	if d.PendingInterrupts() > 0 {
		return true
	}
	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.irqSignal:
	case <-t.C:
	case <-d.tomb.Dying():
	}
	return d.PendingInterrupts() > 0
}

func (d *Dispatcher) loop() error {
	ctx := context.WithValue(d.tomb.Context(nil), workerKey{}, true)
	for {
		select {
		case it := <-d.queue:
			d.run(ctx, it)
		case <-d.tomb.Dying():
			return nil
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, it item) {
	d.busy.Lock()
	defer d.busy.Unlock()
	d.settle(it)
	if it.gen != d.gen.Load() {
		logger.Debugf("dropping stale %s", it.ev)
		return
	}
	logger.Debugf("handling %s", it.ev)
	d.handler(ctx, it.ev)
}
