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

package kernel

// Scheduling primitives. Unless noted otherwise, they must be called from
// the task's own goroutine while it holds its CPU.

import (
	"runtime"
	"time"

	"gvisor.dev/picokern/pkg/sentry/ksync"
	"gvisor.dev/picokern/pkg/sentry/ktime"
)

// switchOut gives the CPU back and waits until it is granted again. If t is
// reclaimed instead, the goroutine exits.
func (t *Task) switchOut(kind trapKind) {
	t.cpu.trap <- trap{kind: kind}
	if _, ok := <-t.resume; !ok {
		runtime.Goexit()
	}
}

// Yield requests an immediate scheduling slot.
func (t *Task) Yield() {
	t.switchOut(trapYield)
}

// prepareBlock marks t paused until unblocked. A task with pending signals
// stays runnable so that they are dispatched first; callers re-check their
// wake condition after Park.
func (t *Task) prepareBlock(reason BlockReason) {
	c := t.cpu
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.state == TaskRunning {
		t.state = TaskPaused
		t.deadline = ktime.Forever
		t.blockReason = reason
	}
}

// cancelBlock undoes prepareBlock.
func (t *Task) cancelBlock() {
	c := t.cpu
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unblockLocked(t)
}

// Block pauses t until another actor calls Unblock. It may also return after
// a signal was dispatched to t.
func (t *Task) Block(reason BlockReason) {
	t.prepareBlock(reason)
	t.switchOut(trapYield)
}

// Unblock makes a paused t runnable again. It does not reschedule the
// caller. It returns false if t was killed. Unblock may be called from any
// goroutine.
func (t *Task) Unblock() bool {
	c := t.cpu
	c.mu.Lock()
	alive := c.unblockLocked(t)
	c.mu.Unlock()
	if alive {
		c.Kick()
	}
	return alive
}

// Preconditions: c.mu is locked.
func (c *CPU) unblockLocked(t *Task) bool {
	switch t.state {
	case TaskKilled:
		return false
	case TaskPaused:
		t.state = TaskRunning
		t.blockReason = BlockNone
	}
	return true
}

// Sleep blocks t until at least d has passed on the kernel clock.
func (t *Task) Sleep(d time.Duration) {
	c := t.cpu
	deadline := t.k.clock.Now().Add(d)
	for {
		c.mu.Lock()
		if !t.k.clock.Now().Before(deadline) {
			c.mu.Unlock()
			return
		}
		if t.state == TaskRunning {
			t.state = TaskSleeping
			t.deadline = deadline
		}
		c.mu.Unlock()
		t.switchOut(trapYield)
	}
}

// PrepareBlock implements ksync.Waiter.PrepareBlock.
func (t *Task) PrepareBlock() {
	t.prepareBlock(BlockMutex)
}

// Park implements ksync.Waiter.Park.
func (t *Task) Park() {
	t.switchOut(trapYield)
}

// Wake implements ksync.Waiter.Wake.
func (t *Task) Wake() bool {
	return t.Unblock()
}

// Hold implements ksync.Holder.Hold.
func (t *Task) Hold(m *ksync.Mutex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[*ksync.Mutex]struct{})
	}
	t.locks[m] = struct{}{}
}

// Drop implements ksync.Holder.Drop.
func (t *Task) Drop(m *ksync.Mutex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, m)
}
