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

// Package kernel provides tasks, per-CPU run queues and the scheduler, the
// task lifecycle (creation, fork, exec, signals, exit and reclamation) and
// the syscall gate.
//
// Each task runs on its own goroutine, but a CPU grants the right to run to
// one task goroutine at a time. A task gives the CPU back by trapping: a
// preemption tick, a yield, a block or an exit. CPU.Step runs one
// scheduling slot; Kernel.Run drives every CPU until its context ends.
//
// Lock order:
//
//	Kernel.familyMu
//	  CPU.mu
//	    Kernel.callbacksMu
//
// No caller holds two CPU locks at once.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/ktime"
	"gvisor.dev/picokern/pkg/sentry/mm"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
	"gvisor.dev/picokern/pkg/sentry/vfs"
	"gvisor.dev/picokern/pkg/sync"
)

// Defaults for zero InitKernelArgs fields.
const (
	DefaultQuantum          = 64
	DefaultTick             = time.Millisecond
	DefaultUserStackPages   = 8
	DefaultKernelStackPages = 2
	DefaultMaxTasks         = 256
	DefaultConsolePath      = "/dev/console"
	DefaultLogPath          = "/dev/kmsg"
)

// InitKernelArgs holds arguments to New.
type InitKernelArgs struct {
	// CPUs is the number of cores.
	CPUs int

	// Memory is the physical memory every address space draws from.
	Memory pgalloc.Memory

	// Clock is the tick counter. If nil, a ManualClock is used.
	Clock ktime.Clock

	// Quantum is the number of user instructions in a preemption slot.
	Quantum int

	// Tick is the length of one scheduling slot.
	Tick time.Duration

	// UserStackPages and KernelStackPages size the per-task stacks.
	UserStackPages   uint64
	KernelStackPages uint64

	// MaxTasks bounds the number of tasks alive at once, idle and reclaimer
	// tasks included.
	MaxTasks int

	// Interpreter runs executables that are neither ELF nor #! scripts.
	Interpreter string

	// VFS resolves paths for exec and for the standard descriptors.
	VFS *vfs.VirtualFilesystem

	// ConsolePath is opened as descriptors 0 and 1 of every task.
	ConsolePath string

	// LogPath is opened as descriptor 2 of every task.
	LogPath string

	// SyscallTable is the syscall gate's dispatch table.
	SyscallTable *SyscallTable
}

// KernelPanic is the panic value of a fatal kernel invariant violation.
type KernelPanic struct {
	Message string
}

// Error implements error.Error.
func (p *KernelPanic) Error() string {
	return "kernel panic: " + p.Message
}

// Kernel represents an emulated kernel.
type Kernel struct {
	// The following fields are immutable after New.

	mem              pgalloc.Memory
	clock            ktime.Clock
	quantum          int
	tick             time.Duration
	userStackPages   uint64
	kernelStackPages uint64
	maxTasks         int
	interpreter      string
	vfs              *vfs.VirtualFilesystem
	consolePath      string
	logPath          string
	syscalls         *SyscallTable

	// kmm is the address space shared by kernel tasks.
	kmm *mm.MemoryManager

	cpus []*CPU

	arena taskArena
	pids  pidAllocator

	// placement counts placed tasks for round-robin CPU assignment.
	placement atomic.Uint32

	// familyMu protects every task's parent, children and exits.
	familyMu sync.Mutex

	programsMu sync.RWMutex
	programs   map[string]*Program

	callbacksMu sync.RWMutex
	callbacks   []SignalFunc
}

// New returns a kernel with an idle task and a reclaimer on every CPU.
func New(args InitKernelArgs) (*Kernel, error) {
	if args.CPUs < 1 {
		return nil, fmt.Errorf("need at least one CPU, got %d", args.CPUs)
	}
	if args.Memory == nil {
		return nil, errors.New("no physical memory")
	}
	if args.VFS == nil {
		return nil, errors.New("no filesystem")
	}
	k := &Kernel{
		mem:              args.Memory,
		clock:            args.Clock,
		quantum:          args.Quantum,
		tick:             args.Tick,
		userStackPages:   args.UserStackPages,
		kernelStackPages: args.KernelStackPages,
		maxTasks:         args.MaxTasks,
		interpreter:      args.Interpreter,
		vfs:              args.VFS,
		consolePath:      args.ConsolePath,
		logPath:          args.LogPath,
		syscalls:         args.SyscallTable,
		programs:         make(map[string]*Program),
	}
	if k.clock == nil {
		k.clock = ktime.NewManualClock()
	}
	if k.quantum <= 0 {
		k.quantum = DefaultQuantum
	}
	if k.tick <= 0 {
		k.tick = DefaultTick
	}
	if k.userStackPages == 0 {
		k.userStackPages = DefaultUserStackPages
	}
	if k.kernelStackPages == 0 {
		k.kernelStackPages = DefaultKernelStackPages
	}
	if k.maxTasks <= 0 {
		k.maxTasks = DefaultMaxTasks
	}
	if k.maxTasks < 2*args.CPUs+1 {
		return nil, fmt.Errorf("task limit %d leaves no room beyond %d CPU daemons", k.maxTasks, 2*args.CPUs)
	}
	if k.consolePath == "" {
		k.consolePath = DefaultConsolePath
	}
	if k.logPath == "" {
		k.logPath = DefaultLogPath
	}
	if k.syscalls != nil && k.syscalls.lookup == nil {
		k.syscalls.Init()
	}
	k.kmm = mm.NewKernelMemoryManager(k.mem)
	k.arena = newTaskArena(k.maxTasks)
	k.pids = newPIDAllocator()

	k.cpus = make([]*CPU, args.CPUs)
	for i := range k.cpus {
		k.cpus[i] = newCPU(k, i)
	}
	for _, c := range k.cpus {
		if err := k.installDaemons(c); err != nil {
			return nil, err
		}
	}
	log.Infof("Kernel started: %d CPUs, %d physical pages, quantum %d, tick %v", len(k.cpus), k.mem.TotalPages(), k.quantum, k.tick)
	return k, nil
}

// installDaemons creates c's idle task, which is always runnable and has no
// goroutine, and its reclaimer.
func (k *Kernel) installDaemons(c *CPU) error {
	idle, err := k.newTask(taskOptions{name: fmt.Sprintf("idle/%d", c.id), idle: true, daemon: true, cpu: c})
	if err != nil {
		return err
	}
	idle.state = TaskRunning
	c.idle = idle
	c.rq.insert(idle.slot)

	reclaimer, err := k.newKernelTask(c.reclaimLoop, fmt.Sprintf("reclaim/%d", c.id), taskOptions{
		name:   fmt.Sprintf("reclaim/%d", c.id),
		daemon: true,
		cpu:    c,
	})
	if err != nil {
		return err
	}
	c.reclaimer = reclaimer
	c.rq.insert(reclaimer.slot)
	return nil
}

// CPUs returns the cores.
func (k *Kernel) CPUs() []*CPU {
	return k.cpus
}

// CPU returns core i.
func (k *Kernel) CPU(i int) *CPU {
	return k.cpus[i]
}

// Clock returns the kernel clock.
func (k *Kernel) Clock() ktime.Clock {
	return k.clock
}

// Memory returns the physical memory.
func (k *Kernel) Memory() pgalloc.Memory {
	return k.mem
}

// KernelMemoryManager returns the address space shared by kernel tasks.
func (k *Kernel) KernelMemoryManager() *mm.MemoryManager {
	return k.kmm
}

// VFS returns the filesystem tasks open files in.
func (k *Kernel) VFS() *vfs.VirtualFilesystem {
	return k.vfs
}

// SyscallTable returns the dispatch table.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// Panicf reports a fatal invariant violation: it logs and panics with a
// *KernelPanic.
func (k *Kernel) Panicf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	log.Warningf("Kernel panic: %s", msg)
	panic(&KernelPanic{Message: msg})
}

// FindTask returns the task with the given pid by scanning every run queue,
// or nil.
func (k *Kernel) FindTask(pid ThreadID) *Task {
	for _, c := range k.cpus {
		for _, t := range c.Tasks() {
			if t.pid == pid {
				return t
			}
		}
	}
	return nil
}

// TaskCount returns the number of live task records, killed tasks awaiting
// reclamation included, not counting idle and reclaimer tasks.
func (k *Kernel) TaskCount() int {
	return k.arena.live() - 2*len(k.cpus)
}

// Run drives every CPU concurrently until ctx is done. A kernel panic on any
// CPU stops the others and is returned.
func (k *Kernel) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range k.cpus {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					if kp, ok := r.(*KernelPanic); ok {
						err = fmt.Errorf("cpu %d: %w", c.id, kp)
						return
					}
					err = fmt.Errorf("cpu %d: panic: %v", c.id, r)
				}
			}()
			for gctx.Err() == nil {
				c.Step()
			}
			return nil
		})
	}
	return g.Wait()
}

// drained returns true if no killed task awaits reclamation.
func (k *Kernel) drained() bool {
	for _, c := range k.cpus {
		if len(c.terminated) > 0 || c.reclaimer.State() != TaskPaused {
			return false
		}
	}
	return true
}

// Shutdown waits until every CPU's reclaimer has drained its queue. The CPUs
// must still be running.
func (k *Kernel) Shutdown(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(10*k.tick), ctx)
	return backoff.Retry(func() error {
		if !k.drained() {
			return errors.New("reclamation pending")
		}
		return nil
	}, b)
}
