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

import (
	"sync/atomic"
	"time"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/ktime"
	"gvisor.dev/picokern/pkg/sync"
)

var (
	contextSwitches      = metric.MustCreateNewUint64Metric("/kernel/context_switches", "Number of scheduling slots given to a different task than the previous one.")
	addressSpaceSwitches = metric.MustCreateNewUint64Metric("/kernel/address_space_switches", "Number of page table root loads.")
	preemptions          = metric.MustCreateNewUint64Metric("/kernel/preemptions", "Number of user tasks preempted by the timer.")
)

// trapKind is the reason a task goroutine gave its CPU back.
type trapKind int

const (
	trapPreempt trapKind = iota
	trapYield
	trapExit
	trapPanic
)

type trap struct {
	kind trapKind

	// value is the recovered panic for trapPanic.
	value any
}

// CPU is one simulated core: the live register state, the loaded address
// space, the preemption timer and the run queue.
type CPU struct {
	k  *Kernel
	id int

	// mu protects the run queue and the scheduling state of every task
	// placed on this CPU.
	mu sync.Spinlock

	// rq is the run queue. Protected by mu.
	rq runQueue

	// current is the task that has the CPU, or last had it. Protected by
	// mu.
	current *Task

	// sliceStart is when current was selected. Protected by mu.
	sliceStart ktime.Time

	// The live context. These are owned by whichever of the CPU driver
	// and the current task goroutine holds the CPU.
	regs       arch.Registers
	fp         arch.FPState
	tp         arch.ThreadPointers
	loadedRoot hostarch.PhysAddr

	// timer counts the instructions left in the current user slot. It is
	// owned like the live context.
	timer        int
	timerArmed   bool
	timerStopped bool

	// trap carries the reason the current task goroutine gave the CPU
	// back.
	trap chan trap

	// kick wakes a halted CPU.
	kick chan struct{}

	// terminated hands killed tasks to the reclaimer.
	terminated chan *Task

	idle      *Task
	reclaimer *Task

	// running is the task goroutine that holds the CPU, and runningSince
	// the host time in nanoseconds when it was resumed. Both are cleared
	// when it traps. They are read by the watchdog.
	running      atomic.Pointer[Task]
	runningSince atomic.Int64

	// slots counts resumed task goroutines.
	slots atomic.Uint64
}

func newCPU(k *Kernel, id int) *CPU {
	return &CPU{
		k:          k,
		id:         id,
		rq:         newRunQueue(k.maxTasks),
		trap:       make(chan trap),
		kick:       make(chan struct{}, 1),
		terminated: make(chan *Task, k.maxTasks),
	}
}

// SlotInfo describes the task goroutine holding a CPU.
type SlotInfo struct {
	// Seq identifies the slot.
	Seq uint64

	// Task holds the CPU, or is nil if no task goroutine does.
	Task *Task

	// Since is the host time the task was resumed.
	Since time.Time
}

// Slot returns the task goroutine currently holding c.
func (c *CPU) Slot() SlotInfo {
	t := c.running.Load()
	if t == nil {
		return SlotInfo{Seq: c.slots.Load()}
	}
	return SlotInfo{
		Seq:   c.slots.Load(),
		Task:  t,
		Since: time.Unix(0, c.runningSince.Load()),
	}
}

// ID returns the core number.
func (c *CPU) ID() int {
	return c.id
}

// Current returns the task that has the CPU, or last had it.
func (c *CPU) Current() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Idle returns the CPU's idle task.
func (c *CPU) Idle() *Task {
	return c.idle
}

// Reclaimer returns the CPU's reclaimer task.
func (c *CPU) Reclaimer() *Task {
	return c.reclaimer
}

// LoadedRoot returns the physical address of the page table root last
// loaded.
func (c *CPU) LoadedRoot() hostarch.PhysAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedRoot
}

// Tasks returns the tasks in the run queue, starting at its head.
func (c *CPU) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots := c.rq.slots()
	ts := make([]*Task, 0, len(slots))
	for _, s := range slots {
		ts = append(ts, c.k.arena.get(s))
	}
	return ts
}

// CheckRunQueue verifies the run queue's links.
func (c *CPU) CheckRunQueue() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rq.check()
}

// Kick sends a wake interrupt to c.
func (c *CPU) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// enqueue places t in the run queue.
func (c *CPU) enqueue(t *Task) {
	c.mu.Lock()
	c.rq.insert(t.slot)
	c.mu.Unlock()
	c.Kick()
}

// Step runs one scheduling slot: it saves the previous task's context,
// selects the next runnable task in round-robin order, delivers its pending
// signals, loads its context and lets it run until it traps.
func (c *CPU) Step() {
	c.mu.Lock()
	now := c.k.clock.Now()
	if prev := c.current; prev != nil {
		if prev.state != TaskFresh && prev.state != TaskKilled {
			prev.regs = c.regs
			prev.fp = c.fp
			prev.tp = c.tp
		}
		prev.runtime += now.Sub(c.sliceStart)
	}

	t, work := c.selectLocked(now)
	if t.state == TaskKilled {
		c.mu.Unlock()
		c.k.Panicf("cpu %d: selected killed task %d", c.id, t.pid)
	}
	t.state = TaskRunning
	t.blockReason = BlockNone
	c.regs = t.regs
	c.fp = t.fp
	c.tp = t.tp
	if t.user {
		root := t.mm.Root()
		if root == 0 {
			c.mu.Unlock()
			c.k.Panicf("cpu %d: task %d has a null page table root", c.id, t.pid)
		}
		if root != c.loadedRoot {
			c.loadedRoot = root
			addressSpaceSwitches.Increment()
		}
		c.armTimer()
	} else {
		c.timerArmed = false
	}
	if t != c.current {
		contextSwitches.Increment()
	}
	c.current = t
	c.sliceStart = now
	c.mu.Unlock()

	work.run(c.k)

	switch {
	case t.killed.Load():
		// A signal callback killed the task before it could resume.
		c.k.clock.Elapse(c.k.tick)
	case t.idle:
		c.k.clock.Idle(c.kick, c.k.tick)
	default:
		c.slots.Add(1)
		c.runningSince.Store(time.Now().UnixNano())
		c.running.Store(t)
		t.resume <- struct{}{}
		ev := <-c.trap
		c.running.Store(nil)
		if ev.kind == trapPanic {
			panic(ev.value)
		}
		if ev.kind == trapPreempt {
			preemptions.Increment()
		}
		c.k.clock.Elapse(c.k.tick)
	}
}

// selectLocked advances the run queue to the next runnable task, waking
// expired sleepers and dispatching pending signals on the way.
//
// Preconditions: c.mu is locked.
func (c *CPU) selectLocked(now ktime.Time) (*Task, deferredWork) {
	var work deferredWork
	// The idle task is always runnable, so a full lap finds a task unless
	// the queue is corrupt.
	for i := 0; i <= 2*c.rq.len; i++ {
		s := c.rq.advance()
		if s == noSlot {
			break
		}
		t := c.k.arena.get(s)
		switch t.state {
		case TaskRunning:
			return t, work
		case TaskFresh:
			if t.pending != 0 {
				c.dispatchLocked(t, &work)
				if t.state == TaskKilled {
					continue
				}
				t.state = TaskFresh
			}
			return t, work
		case TaskPaused, TaskSleeping:
			if t.deadline != ktime.Forever && !now.Before(t.deadline) {
				t.state = TaskRunning
				return t, work
			}
		case TaskSignal:
			c.dispatchLocked(t, &work)
			if t.state == TaskKilled {
				continue
			}
			t.state = TaskRunning
			return t, work
		case TaskKilled:
			// Killed tasks leave the queue synchronously.
			c.k.Panicf("cpu %d: killed task %d found in the run queue", c.id, t.pid)
		}
	}
	c.k.Panicf("cpu %d: no runnable task in a queue of %d", c.id, c.rq.len)
	panic("unreachable")
}

// armTimer starts a preemption slot of the configured quantum.
func (c *CPU) armTimer() {
	c.timer = c.k.quantum
	c.timerArmed = true
	c.timerStopped = false
}

// stopTimer suspends the preemption timer during a syscall.
func (c *CPU) stopTimer() {
	c.timerStopped = true
}

// resumeTimer re-arms a timer stopped by stopTimer.
func (c *CPU) resumeTimer() {
	c.timerStopped = false
}

// tick counts one user instruction and returns true if the slot expired.
func (c *CPU) tick() bool {
	if !c.timerArmed || c.timerStopped {
		return false
	}
	c.timer--
	return c.timer <= 0
}

// deferredWork is signal and kill processing found under the CPU lock that
// must run after it is dropped.
type deferredWork struct {
	killed    []exitRecordOf
	callbacks []callbackCall
}

type exitRecordOf struct {
	t      *Task
	status linux.WaitStatus
}

type callbackCall struct {
	t   *Task
	fn  SignalFunc
	sig linux.Signal
	arg int
}

func (w *deferredWork) run(k *Kernel) {
	for _, e := range w.killed {
		k.notifyParent(e.t, e.status)
	}
	for _, cb := range w.callbacks {
		if cb.t.killed.Load() {
			continue
		}
		cb.fn(cb.t, cb.sig, cb.arg)
	}
}
