// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ksync provides a blocking mutex layered over the scheduler.
package ksync

import (
	"context"

	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/sync"
)

var contended = metric.MustCreateNewUint64Metric("/ksync/contended_locks", "Number of mutex acquisitions that had to block.")

// Waiter is an execution context that can block on a Mutex.
type Waiter interface {
	// PrepareBlock marks the waiter blocked. A Wake that happens after
	// PrepareBlock and before Park makes Park return immediately.
	PrepareBlock()

	// Park gives up the processor until the waiter is woken.
	Park()

	// Wake unblocks the waiter. It returns false if the waiter can no
	// longer run, in which case it must not be handed anything.
	Wake() bool
}

// Holder is a Waiter that can die while it owns or waits for a Mutex. Lock
// and TryLock record the mutex with Hold before the holder can own it, and
// Unlock forgets it with Drop. Whoever buries a dead Holder calls Abandon on
// every mutex it still records.
type Holder interface {
	Waiter

	// Hold records m. Holding a recorded mutex again is a no-op.
	Hold(m *Mutex)

	// Drop forgets m.
	Drop(m *Mutex)
}

// Mutex is a FIFO mutex whose waiters block through the scheduler instead
// of spinning. Ownership passes directly to the longest waiter on Unlock.
// Lock by the current owner is a no-op.
//
// The zero value is an unlocked mutex.
type Mutex struct {
	mu sync.Spinlock

	// owner is the holder, or nil. Protected by mu.
	owner Waiter

	// waiters is the FIFO queue of blocked lockers. Protected by mu.
	waiters []Waiter
}

// Lock acquires m on behalf of w, blocking w while another waiter holds it.
func (m *Mutex) Lock(w Waiter) {
	if h, ok := w.(Holder); ok {
		h.Hold(m)
	}
	m.mu.Lock()
	switch m.owner {
	case nil:
		m.owner = w
		m.mu.Unlock()
		return
	case w:
		m.mu.Unlock()
		return
	}
	m.waiters = append(m.waiters, w)
	// Mark blocked before dropping mu so a handoff cannot be lost.
	w.PrepareBlock()
	m.mu.Unlock()
	contended.Increment()

	for {
		w.Park()
		m.mu.Lock()
		owned := m.owner == w
		if !owned {
			w.PrepareBlock()
		}
		m.mu.Unlock()
		if owned {
			return
		}
	}
}

// TryLock acquires m on behalf of w if nobody else holds it.
func (m *Mutex) TryLock(w Waiter) bool {
	h, ok := w.(Holder)
	if ok {
		h.Hold(m)
	}
	m.mu.Lock()
	locked := m.owner == nil || m.owner == w
	if locked {
		m.owner = w
	}
	m.mu.Unlock()
	if ok && !locked {
		h.Drop(m)
	}
	return locked
}

// Unlock releases m and hands it to the first waiter that can still run.
// It panics if w does not hold m.
func (m *Mutex) Unlock(w Waiter) {
	m.mu.Lock()
	if m.owner != w {
		m.mu.Unlock()
		panic("unlock of ksync.Mutex not held by the caller")
	}
	m.handoffLocked()
	m.mu.Unlock()
	if h, ok := w.(Holder); ok {
		h.Drop(m)
	}
}

// Abandon takes a waiter that will never run again out of m. If w owns m,
// including by a handoff it never woke up to take, m passes on as in Unlock.
// If w is queued, it leaves the queue.
func (m *Mutex) Abandon(w Waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == w {
		m.handoffLocked()
		return
	}
	for i, q := range m.waiters {
		if q == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// handoffLocked clears the owner and passes m to the first waiter that can
// still run.
//
// Preconditions: m.mu is locked.
func (m *Mutex) handoffLocked() {
	m.owner = nil
	for len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters[0] = nil
		m.waiters = m.waiters[1:]
		// Set the owner first: a woken waiter checks it under mu.
		m.owner = next
		if next.Wake() {
			return
		}
		m.owner = nil
	}
}

// Owner returns the current holder, or nil.
func (m *Mutex) Owner() Waiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Waiters returns the number of blocked lockers.
func (m *Mutex) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// ChannelWaiter is a Waiter for goroutines that are not scheduled tasks.
type ChannelWaiter struct {
	ch chan struct{}
}

// NewChannelWaiter returns a ready ChannelWaiter.
func NewChannelWaiter() *ChannelWaiter {
	return &ChannelWaiter{ch: make(chan struct{}, 1)}
}

// PrepareBlock implements Waiter.PrepareBlock.
func (c *ChannelWaiter) PrepareBlock() {}

// Park implements Waiter.Park.
func (c *ChannelWaiter) Park() {
	<-c.ch
}

// Wake implements Waiter.Wake.
func (c *ChannelWaiter) Wake() bool {
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return true
}

type contextID int

// CtxWaiter is a Context.Value key for the Waiter of the calling context.
const CtxWaiter contextID = iota

// WaiterFromContext returns the Waiter of ctx, or a fresh ChannelWaiter if
// ctx is not a scheduled context.
func WaiterFromContext(ctx context.Context) Waiter {
	if w, ok := ctx.Value(CtxWaiter).(Waiter); ok {
		return w
	}
	return NewChannelWaiter()
}
