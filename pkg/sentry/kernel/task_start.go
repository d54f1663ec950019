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
	"context"
	"fmt"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/cleanup"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/sentry/heap"
	"gvisor.dev/picokern/pkg/sentry/mm"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

var tasksCreated = metric.MustCreateNewUint64Metric("/kernel/tasks_created", "Number of tasks created.")

// kernelTrampoline is the return address planted at the top of a kernel
// task's stack. A kernel task's entry returns through it into Exit.
const kernelTrampoline = 0xffff_ffff_dead_0000

// taskOptions configures newTask.
type taskOptions struct {
	name   string
	user   bool
	idle   bool
	daemon bool

	// cpu pins the task. If nil, the task is placed round-robin.
	cpu *CPU
}

// newTask allocates a task record with its slot, pid, address space, heap
// and kernel stack. The task is not enqueued and has no goroutine.
func (k *Kernel) newTask(opts taskOptions) (*Task, error) {
	t := &Task{
		k:        k,
		cpu:      opts.cpu,
		user:     opts.user,
		idle:     opts.idle,
		daemon:   opts.daemon,
		state:    TaskFresh,
		handlers: defaultHandlers(),
		exited:   make(chan struct{}),
		resume:   make(chan struct{}),
		fds:      NewFDTable(),
		children: make(map[*Task]struct{}),
	}
	if t.cpu == nil {
		t.cpu = k.place()
	}

	slot, err := k.arena.alloc(t)
	if err != nil {
		return nil, err
	}
	t.slot = slot
	cu := cleanup.Make(func() { k.arena.release(slot) })
	defer cu.Clean()

	pid, err := k.pids.alloc()
	if err != nil {
		return nil, err
	}
	t.pid = pid
	cu.Add(func() { k.pids.release(pid) })

	if opts.user {
		t.mm = mm.NewUserMemoryManager(k.mem)
		cu.Add(t.mm.Release)
	} else {
		t.mm = k.kmm
	}

	t.heap = heap.New(opts.name, k.kmm, k.Panicf)
	cu.Add(t.heap.Release)
	if err := t.setName(opts.name); err != nil {
		return nil, err
	}

	kstack, err := k.kmm.VMAs().Allocate(k.kernelStackPages, 0, false, hostarch.ReadWrite)
	if err != nil {
		return nil, err
	}
	t.kstack = kstack
	cu.Add(func() { k.kmm.VMAs().Unmap(kstack) })

	if opts.user {
		t.ustack = mm.UserStackTop - hostarch.Addr(k.userStackPages*hostarch.PageSize)
		if err := t.mm.MapAnonymous(t.ustack, k.userStackPages, hostarch.ReadWrite); err != nil {
			return nil, err
		}
		cu.Add(func() { t.mm.UnmapAndFree(t.ustack, k.userStackPages) })
	}

	cu.Release()
	tasksCreated.Increment()
	return t, nil
}

// kernelStackTop returns the address just above t's kernel stack.
func (t *Task) kernelStackTop() hostarch.Addr {
	return t.kstack + hostarch.Addr(t.k.kernelStackPages*hostarch.PageSize)
}

// place picks a CPU for a new task round-robin.
func (k *Kernel) place() *CPU {
	n := k.placement.Add(1) - 1
	return k.cpus[int(n%uint32(len(k.cpus)))]
}

// openStdio installs descriptors 0 and 1 on the console and 2 on the log
// device.
func (t *Task) openStdio(ctx context.Context) error {
	k := t.k
	for fd, p := range []string{k.consolePath, k.consolePath, k.logPath} {
		n, err := k.vfs.Open(ctx, p, linux.O_RDWR)
		if err != nil {
			return fmt.Errorf("opening %s for fd %d: %w", p, fd, err)
		}
		if err := t.fds.NewFDAt(int32(fd), vfs.NewFileDescription(n, linux.O_RDWR)); err != nil {
			return err
		}
	}
	return nil
}

// start launches t's goroutine. body runs once t is first selected.
func (t *Task) start(body func()) {
	go func() {
		if _, ok := <-t.resume; !ok {
			return
		}
		t.goid.Store(goroutineID())
		defer func() {
			// runtime.Goexit also runs this, with nothing to recover.
			if r := recover(); r != nil {
				t.cpu.trap <- trap{kind: trapPanic, value: r}
			}
		}()
		body()
	}()
}

// NewKernelTask creates a kernel task running entry in the shared kernel
// address space. The value entry returns becomes the task's exit code.
func (k *Kernel) NewKernelTask(entry func(t *Task) int, name string) (*Task, error) {
	t, err := k.newKernelTask(entry, name, taskOptions{name: name})
	if err != nil {
		return nil, err
	}
	if err := t.openStdio(t); err != nil {
		k.Kill(t, linux.WaitStatusExit(1))
		return nil, err
	}
	t.cpu.enqueue(t)
	t.Infof("kernel task created on cpu %d", t.cpu.id)
	return t, nil
}

func (k *Kernel) newKernelTask(entry func(t *Task) int, name string, opts taskOptions) (*Task, error) {
	t, err := k.newTask(opts)
	if err != nil {
		return nil, err
	}
	top := t.kernelStackTop()
	if err := k.kmm.CopyOutUint64(top-8, kernelTrampoline); err != nil {
		k.Panicf("planting trampoline for %s: %v", name, err)
	}
	t.regs.Rsp = uint64(top - 8)
	t.start(func() {
		code := entry(t)
		ret, err := k.kmm.CopyInUint64(hostarch.Addr(t.cpu.regs.Rsp))
		if err != nil || ret != kernelTrampoline {
			k.Panicf("kernel task %d returned to %#x: %v", t.pid, ret, err)
		}
		t.Exit(int32(code))
	})
	return t, nil
}

// NewUserTask creates a user task running prog with the given argument and
// environment vectors.
func (k *Kernel) NewUserTask(prog *Program, argv, envp []string) (*Task, error) {
	t, err := k.newUserTask(prog.Name)
	if err != nil {
		return nil, err
	}
	img, err := prog.image()
	if err != nil {
		k.Kill(t, linux.WaitStatusExit(1))
		return nil, err
	}
	if err := t.loadImage(img, prog, prog.Name, argv, envp); err != nil {
		k.Kill(t, linux.WaitStatusExit(1))
		return nil, err
	}
	t.cpu.enqueue(t)
	t.Infof("user task created on cpu %d", t.cpu.id)
	return t, nil
}

// Spawn creates a user task executing the file at path.
func (k *Kernel) Spawn(path string, argv, envp []string) (*Task, error) {
	t, err := k.newUserTask(path)
	if err != nil {
		return nil, err
	}
	if err := t.Execve(path, argv, envp); err != nil {
		k.Kill(t, linux.WaitStatusExit(1))
		return nil, err
	}
	t.cpu.enqueue(t)
	t.Infof("spawned %s on cpu %d", path, t.cpu.id)
	return t, nil
}

func (k *Kernel) newUserTask(name string) (*Task, error) {
	t, err := k.newTask(taskOptions{name: name, user: true})
	if err != nil {
		return nil, err
	}
	if err := t.openStdio(t); err != nil {
		k.Kill(t, linux.WaitStatusExit(1))
		return nil, err
	}
	t.start(t.runUser)
	return t, nil
}
