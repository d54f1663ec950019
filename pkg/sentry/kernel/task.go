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
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/heap"
	"gvisor.dev/picokern/pkg/sentry/ksync"
	"gvisor.dev/picokern/pkg/sentry/ktime"
	"gvisor.dev/picokern/pkg/sentry/mm"
	"gvisor.dev/picokern/pkg/sync"
)

// TaskState is the scheduling state of a task.
type TaskState int

const (
	// TaskFresh is the state of a task that has never run, or whose image
	// was just replaced. Its saved context is loaded as-is the first time
	// it is selected.
	TaskFresh TaskState = iota

	// TaskRunning is the state of a runnable task.
	TaskRunning

	// TaskPaused is the state of a blocked task. It becomes runnable when
	// unblocked, or at its deadline if it has one.
	TaskPaused

	// TaskSleeping is the state of a task waiting for its deadline.
	TaskSleeping

	// TaskSignal is the state of a task with pending signals to dispatch
	// before it resumes.
	TaskSignal

	// TaskKilled is the terminal state. Only the reclaimer touches a killed
	// task.
	TaskKilled
)

func (s TaskState) String() string {
	switch s {
	case TaskFresh:
		return "Fresh"
	case TaskRunning:
		return "Running"
	case TaskPaused:
		return "Paused"
	case TaskSleeping:
		return "Sleeping"
	case TaskSignal:
		return "Signal"
	case TaskKilled:
		return "Killed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// BlockReason records why a task is paused.
type BlockReason int

// Block reasons.
const (
	BlockNone BlockReason = iota
	BlockGeneric
	BlockWait
	BlockMutex
	BlockReclaim
)

// MaxSections is the number of sections a task can record.
const MaxSections = 16

// Section is one mapped range recorded so it can be unmapped on exec or
// exit.
type Section struct {
	Start hostarch.Addr
	Pages uint64
}

// End returns the first address after s.
func (s Section) End() hostarch.Addr {
	return s.Start + hostarch.Addr(s.Pages*hostarch.PageSize)
}

// exitRecord is a child exit not yet collected by wait4.
type exitRecord struct {
	pid    ThreadID
	status linux.WaitStatus
}

// Task represents a schedulable execution context.
//
// Lock order: Kernel.familyMu > CPU.mu. Task.mu may be taken under neither.
type Task struct {
	// k is the owning kernel. Immutable.
	k *Kernel

	// cpu is the core t is placed on. Immutable.
	cpu *CPU

	// slot is t's arena index. Immutable.
	slot SlotID

	// pid is t's process id. Immutable.
	pid ThreadID

	// user is true for tasks with their own address space. Immutable.
	user bool

	// idle is true for a CPU's idle task, which has no goroutine.
	// Immutable.
	idle bool

	// daemon is true for idle and reclaimer tasks, which cannot be
	// signalled or killed. Immutable.
	daemon bool

	// The following fields are protected by cpu.mu.

	state       TaskState
	deadline    ktime.Time
	blockReason BlockReason
	pending     linux.SignalSet
	sigArgs     [linux.SignalMaximum]int
	handlers    map[linux.Signal]SignalHandler
	exitStatus  linux.WaitStatus

	// lastChildStatus is the status delivered by the most recent reaped
	// SIGCHLD.
	lastChildStatus linux.WaitStatus

	// regs, fp and tp are the saved context while t is switched out.
	regs arch.Registers
	fp   arch.FPState
	tp   arch.ThreadPointers

	// runtime is the accumulated length of t's scheduling slots.
	runtime time.Duration

	// killed mirrors state == TaskKilled for lock-free checks.
	killed atomic.Bool

	// exited is closed when t is killed.
	exited chan struct{}

	// resume grants t's goroutine the CPU. It is closed at reclaim.
	resume chan struct{}

	// goid is the id of t's goroutine, or 0 before it first runs.
	goid atomic.Int64

	// mm is t's address space. For kernel tasks it is the shared kernel
	// address space. Immutable.
	mm *mm.MemoryManager

	// heap is t's heap, in the kernel address space. Immutable.
	heap *heap.Heap

	// kstack is the base of the kernel stack. Immutable.
	kstack hostarch.Addr

	// ustack is the base of the user stack, for user tasks. Immutable.
	ustack hostarch.Addr

	// fds is the descriptor table. Immutable.
	fds *FDTable

	mu sync.Mutex

	// The following fields are protected by mu.

	name      string
	nameBlock *heap.Block
	image     *Program
	sections  []Section
	brk       hostarch.Addr

	// locks are the mutexes t owns or waits for. The reclaimer abandons
	// whatever is left.
	locks map[*ksync.Mutex]struct{}

	// uc is the context of the running image. It is only accessed from t's
	// goroutine.
	uc *UserContext

	// The following fields are protected by Kernel.familyMu.

	parent   *Task
	children map[*Task]struct{}
	exits    []exitRecord
}

// Kernel returns the kernel t runs in.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// CPU returns the core t is placed on.
func (t *Task) CPU() *CPU {
	return t.cpu
}

// PID returns t's process id.
func (t *Task) PID() ThreadID {
	return t.pid
}

// IsUser returns true if t has its own address space.
func (t *Task) IsUser() bool {
	return t.user
}

// Name returns t's display name.
func (t *Task) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// State returns t's scheduling state.
func (t *Task) State() TaskState {
	t.cpu.mu.Lock()
	defer t.cpu.mu.Unlock()
	return t.state
}

// BlockReason returns why t is paused.
func (t *Task) BlockReason() BlockReason {
	t.cpu.mu.Lock()
	defer t.cpu.mu.Unlock()
	return t.blockReason
}

// Runtime returns the accumulated length of t's scheduling slots.
func (t *Task) Runtime() time.Duration {
	t.cpu.mu.Lock()
	defer t.cpu.mu.Unlock()
	return t.runtime
}

// GoroutineID returns the id of t's goroutine, or 0 if it has not run.
func (t *Task) GoroutineID() int64 {
	return t.goid.Load()
}

// ExitStatus returns the status t was killed with. It is only meaningful
// once Exited is closed.
func (t *Task) ExitStatus() linux.WaitStatus {
	t.cpu.mu.Lock()
	defer t.cpu.mu.Unlock()
	return t.exitStatus
}

// LastChildStatus returns the status carried by the last reaped SIGCHLD.
func (t *Task) LastChildStatus() linux.WaitStatus {
	t.cpu.mu.Lock()
	defer t.cpu.mu.Unlock()
	return t.lastChildStatus
}

// Exited returns a channel that is closed when t is killed.
func (t *Task) Exited() <-chan struct{} {
	return t.exited
}

// Killed returns true if t has been killed.
func (t *Task) Killed() bool {
	return t.killed.Load()
}

// MemoryManager returns t's address space.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// Heap returns t's heap.
func (t *Task) Heap() *heap.Heap {
	return t.heap
}

// FDTable returns t's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fds
}

// Image returns the program t is running, or nil for kernel tasks.
func (t *Task) Image() *Program {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.image
}

// Sections returns a copy of t's recorded sections.
func (t *Task) Sections() []Section {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Section(nil), t.sections...)
}

// Parent returns t's parent, or nil.
func (t *Task) Parent() *Task {
	t.k.familyMu.Lock()
	defer t.k.familyMu.Unlock()
	return t.parent
}

// PPID returns the pid of t's parent, or 0.
func (t *Task) PPID() ThreadID {
	if p := t.Parent(); p != nil {
		return p.pid
	}
	return 0
}

// Registers returns the live trap frame.
//
// Preconditions: t is running on its CPU.
func (t *Task) Registers() *arch.Registers {
	return &t.cpu.regs
}

// ThreadPointers returns the live thread pointer bases.
//
// Preconditions: t is running on its CPU.
func (t *Task) ThreadPointers() *arch.ThreadPointers {
	return &t.cpu.tp
}

// SetThreadPointer sets the user thread pointer.
//
// Preconditions: t is running on its CPU.
func (t *Task) SetThreadPointer(fs uint64) {
	t.cpu.tp.FS = fs
}

// LogPrefix returns the prefix t's log lines carry.
func (t *Task) LogPrefix() string {
	return fmt.Sprintf("[%d:%s] ", t.pid, t.Name())
}

// Debugf logs at debug level with t's prefix.
func (t *Task) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.DebugfAtDepth(1, t.LogPrefix()+format, v...)
	}
}

// Infof logs at info level with t's prefix.
func (t *Task) Infof(format string, v ...any) {
	if log.IsLogging(log.Info) {
		log.InfofAtDepth(1, t.LogPrefix()+format, v...)
	}
}

// Warningf logs at warning level with t's prefix.
func (t *Task) Warningf(format string, v ...any) {
	log.WarningfAtDepth(1, t.LogPrefix()+format, v...)
}

// setName replaces t's name and the heap block that holds it.
func (t *Task) setName(name string) error {
	b, err := t.heap.AllocString(name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	old := t.nameBlock
	t.name = name
	t.nameBlock = b
	t.mu.Unlock()
	if old != nil {
		old.Free()
	}
	return nil
}

// goroutineID parses the calling goroutine's id from its stack header,
// "goroutine N [...".
func goroutineID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
