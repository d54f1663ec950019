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
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/devices/memdev"
	"gvisor.dev/picokern/pkg/sentry/devices/tty"
	"gvisor.dev/picokern/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/picokern/pkg/sentry/ksync"
	"gvisor.dev/picokern/pkg/sentry/ktime"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

type testKernel struct {
	*Kernel
	mem     *pgalloc.MemoryFile
	clock   *ktime.ManualClock
	fs      *memfs.Filesystem
	console *bytes.Buffer
}

func newTestKernel(t *testing.T, cpus int, table *SyscallTable) *testKernel {
	t.Helper()
	mem, err := pgalloc.NewMemoryFile(8192)
	if err != nil {
		t.Fatalf("NewMemoryFile: %v", err)
	}
	fs := memfs.New()
	vfsObj := vfs.New(fs)
	out := &bytes.Buffer{}
	if err := tty.Register(vfsObj, tty.NewConsole(DefaultConsolePath, strings.NewReader(""), out)); err != nil {
		t.Fatalf("tty.Register: %v", err)
	}
	if err := memdev.Register(vfsObj, memdev.NewLogDevice(DefaultLogPath)); err != nil {
		t.Fatalf("memdev.Register: %v", err)
	}
	clock := ktime.NewManualClock()
	k, err := New(InitKernelArgs{
		CPUs:         cpus,
		Memory:       mem,
		Clock:        clock,
		Quantum:      4,
		VFS:          vfsObj,
		SyscallTable: table,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testKernel{Kernel: k, mem: mem, clock: clock, fs: fs, console: out}
}

// stepAll runs one slot on every CPU.
func (tk *testKernel) stepAll() {
	for _, c := range tk.cpus {
		c.Step()
	}
}

// runUntil steps every CPU until cond holds, failing after limit rounds.
func (tk *testKernel) runUntil(t *testing.T, limit int, cond func() bool) {
	t.Helper()
	for i := 0; i < limit; i++ {
		if cond() {
			return
		}
		tk.stepAll()
	}
	if !cond() {
		t.Fatalf("condition not reached after %d rounds", limit)
	}
}

// settle lets the reclaimers park so that resource counters are stable.
func (tk *testKernel) settle(t *testing.T) {
	t.Helper()
	tk.runUntil(t, 100, func() bool { return tk.TaskCount() == 0 && tk.drained() })
}

func mustKernelTask(t *testing.T, tk *testKernel, name string, entry func(*Task) int) *Task {
	t.Helper()
	task, err := tk.NewKernelTask(entry, name)
	if err != nil {
		t.Fatalf("NewKernelTask(%s): %v", name, err)
	}
	return task
}

func TestRoundRobin(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	var order, pids []ThreadID
	for i := 0; i < 3; i++ {
		task := mustKernelTask(t, tk, fmt.Sprintf("rr%d", i), func(task *Task) int {
			for j := 0; j < 3; j++ {
				order = append(order, task.PID())
				task.Yield()
			}
			return 0
		})
		pids = append(pids, task.PID())
	}
	tk.settle(t)

	var want []ThreadID
	for j := 0; j < 3; j++ {
		want = append(want, pids...)
	}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("selection order mismatch (-want +got):\n%s", diff)
	}
}

func TestKernelTasksReleaseEverything(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	tk.settle(t)
	usedBefore := tk.mem.UsedPages()
	kernelBefore := tk.KernelMemoryManager().VMAs().Pages()

	var ran []string
	for _, name := range []string{"A", "B"} {
		mustKernelTask(t, tk, name, func(task *Task) int {
			ran = append(ran, task.Name())
			task.Yield()
			return 0
		})
	}
	tk.settle(t)

	if diff := cmp.Diff([]string{"A", "B"}, ran); diff != "" {
		t.Errorf("tasks ran (-want +got):\n%s", diff)
	}
	c := tk.CPU(0)
	if got, want := c.Tasks(), []*Task{c.Idle(), c.Reclaimer()}; !cmp.Equal(got, want, cmp.Comparer(func(a, b *Task) bool { return a == b })) {
		t.Errorf("run queue holds %d tasks, want only the idle and reclaimer tasks", len(got))
	}
	if err := c.CheckRunQueue(); err != nil {
		t.Errorf("CheckRunQueue: %v", err)
	}
	if got := tk.mem.UsedPages(); got != usedBefore {
		t.Errorf("UsedPages = %d, want %d", got, usedBefore)
	}
	if got := tk.KernelMemoryManager().VMAs().Pages(); got != kernelBefore {
		t.Errorf("kernel region pages = %d, want %d", got, kernelBefore)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	var tasks []*Task
	for i := 0; i < 3; i++ {
		tasks = append(tasks, mustKernelTask(t, tk, fmt.Sprintf("blocker%d", i), func(task *Task) int {
			for {
				task.Block(BlockGeneric)
			}
		}))
	}
	tk.runUntil(t, 20, func() bool {
		for _, task := range tasks {
			if task.State() != TaskPaused {
				return false
			}
		}
		return true
	})

	victim := tasks[1]
	status := linux.WaitStatusSignal(linux.SIGKILL)
	for i := 0; i < 2; i++ {
		if err := tk.Kill(victim, status); err != nil {
			t.Fatalf("Kill #%d: %v", i, err)
		}
		if err := tk.CPU(0).CheckRunQueue(); err != nil {
			t.Fatalf("CheckRunQueue after kill #%d: %v", i, err)
		}
	}
	for _, task := range tk.CPU(0).Tasks() {
		if task == victim {
			t.Errorf("killed task %d still in the run queue", victim.PID())
		}
	}
	select {
	case <-victim.Exited():
	default:
		t.Errorf("Exited not closed after Kill")
	}
	if got := victim.ExitStatus(); got != status {
		t.Errorf("ExitStatus = %#x, want %#x", got, status)
	}
	tk.runUntil(t, 20, func() bool { return tk.TaskCount() == 2 })

	for _, task := range []*Task{tasks[0], tasks[2]} {
		if err := tk.Kill(task, status); err != nil {
			t.Fatalf("Kill: %v", err)
		}
	}
	tk.settle(t)
	if err := tk.CPU(0).CheckRunQueue(); err != nil {
		t.Errorf("CheckRunQueue: %v", err)
	}
}

func TestDaemonsCannotBeKilled(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	c := tk.CPU(0)
	for _, task := range []*Task{c.Idle(), c.Reclaimer()} {
		if err := tk.Kill(task, 0); !linuxerr.Equals(linuxerr.EPERM, err) {
			t.Errorf("Kill(%s) = %v, want EPERM", task.Name(), err)
		}
		if err := task.Raise(linux.SIGTERM, 0); !linuxerr.Equals(linuxerr.EPERM, err) {
			t.Errorf("Raise(%s) = %v, want EPERM", task.Name(), err)
		}
	}
}

func TestMutexBlocksThroughScheduler(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	var m ksync.Mutex
	var events []string
	a := mustKernelTask(t, tk, "a", func(task *Task) int {
		m.Lock(task)
		events = append(events, "a locked")
		for i := 0; i < 3; i++ {
			task.Yield()
		}
		events = append(events, "a unlocks")
		m.Unlock(task)
		return 0
	})
	b := mustKernelTask(t, tk, "b", func(task *Task) int {
		m.Lock(task)
		events = append(events, "b locked")
		m.Unlock(task)
		return 0
	})

	sawBlocked := false
	tk.runUntil(t, 50, func() bool {
		if b.State() == TaskPaused && b.BlockReason() == BlockMutex {
			sawBlocked = true
		}
		return a.Killed() && b.Killed()
	})
	if !sawBlocked {
		t.Errorf("b never blocked on the mutex")
	}
	want := []string{"a locked", "a unlocks", "b locked"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if owner := m.Owner(); owner != nil {
		t.Errorf("mutex still owned by %v", owner)
	}
	tk.settle(t)
}

func TestMutexHandoffToKilledTask(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	var (
		m         ksync.Mutex
		b         *Task
		handedToB bool
	)
	a := mustKernelTask(t, tk, "a", func(task *Task) int {
		m.Lock(task)
		for b.BlockReason() != BlockMutex {
			task.Yield()
		}
		m.Unlock(task)
		handedToB = m.Owner() == b
		// b is runnable and owns m, but dies before it can run.
		task.Kill(b, linux.WaitStatusSignal(linux.SIGKILL))
		return 0
	})
	b = mustKernelTask(t, tk, "b", func(task *Task) int {
		m.Lock(task)
		m.Unlock(task)
		return 0
	})
	tk.runUntil(t, 50, func() bool { return a.Killed() && b.Killed() })
	tk.settle(t)
	if !handedToB {
		t.Errorf("Unlock did not hand the mutex to the waiter")
	}
	if owner := m.Owner(); owner != nil {
		t.Errorf("mutex still owned by %v after its owner was reclaimed", owner)
	}

	locked := false
	c := mustKernelTask(t, tk, "c", func(task *Task) int {
		m.Lock(task)
		locked = true
		m.Unlock(task)
		return 0
	})
	tk.runUntil(t, 20, c.Killed)
	if !locked {
		t.Errorf("mutex could not be acquired after the handoff target died")
	}
	tk.settle(t)
}

func TestMutexOwnerKilled(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	var m ksync.Mutex
	owner := mustKernelTask(t, tk, "owner", func(task *Task) int {
		m.Lock(task)
		for {
			task.Block(BlockGeneric)
		}
	})
	var acquired bool
	waiter := mustKernelTask(t, tk, "waiter", func(task *Task) int {
		m.Lock(task)
		acquired = true
		m.Unlock(task)
		return 0
	})
	tk.runUntil(t, 20, func() bool { return waiter.BlockReason() == BlockMutex })
	if err := tk.Kill(owner, linux.WaitStatusSignal(linux.SIGKILL)); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	tk.runUntil(t, 50, waiter.Killed)
	if !acquired {
		t.Errorf("waiter never acquired the mutex of the killed owner")
	}
	tk.settle(t)
}

func TestSleep(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	const d = 5 * time.Millisecond
	start := tk.clock.Now()
	var woke ktime.Time
	mustKernelTask(t, tk, "sleeper", func(task *Task) int {
		task.Sleep(d)
		woke = task.Kernel().Clock().Now()
		return 0
	})
	tk.settle(t)
	if got := woke.Sub(start); got < d {
		t.Errorf("woke after %v, want at least %v", got, d)
	}
}

func TestSignals(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	type delivery struct {
		PID  ThreadID
		Sig  linux.Signal
		Arg  int
		Runs int
	}
	var (
		runs int
		got  []delivery
	)
	id := tk.RegisterSignalCallback(func(task *Task, sig linux.Signal, arg int) {
		got = append(got, delivery{PID: task.PID(), Sig: sig, Arg: arg, Runs: runs})
	})
	task := mustKernelTask(t, tk, "spinner", func(task *Task) int {
		for {
			runs++
			task.Yield()
		}
	})
	tk.runUntil(t, 10, func() bool { return runs > 0 })

	if err := task.SetSignalHandler(linux.SIGUSR1, SignalHandler{Action: SignalCallback, Callback: id}); err != nil {
		t.Fatalf("SetSignalHandler: %v", err)
	}
	if err := task.SetSignalHandler(linux.SIGUSR2, SignalHandler{Action: SignalIgnore}); err != nil {
		t.Fatalf("SetSignalHandler: %v", err)
	}
	if err := task.SetSignalHandler(linux.SIGKILL, SignalHandler{Action: SignalIgnore}); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("SetSignalHandler(SIGKILL) = %v, want EINVAL", err)
	}

	before := runs
	if err := task.Raise(linux.SIGUSR1, 42); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	task.Raise(linux.SIGUSR2, 0)
	task.Raise(linux.SIGCHLD, int(linux.WaitStatusExit(3)))
	// The handler runs before the task's own code resumes.
	tk.runUntil(t, 10, func() bool { return runs > before })
	want := []delivery{{PID: task.PID(), Sig: linux.SIGUSR1, Arg: 42, Runs: before}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("callback deliveries mismatch (-want +got):\n%s", diff)
	}
	if task.Killed() {
		t.Fatalf("task killed by an ignored signal")
	}
	if got, want := task.LastChildStatus(), linux.WaitStatusExit(3); got != want {
		t.Errorf("LastChildStatus = %#x, want %#x", got, want)
	}

	task.Raise(linux.SIGTERM, 0)
	tk.runUntil(t, 10, task.Killed)
	if got, want := task.ExitStatus(), linux.WaitStatusSignal(linux.SIGTERM); got != want {
		t.Errorf("ExitStatus = %#x, want %#x", got, want)
	}
	tk.settle(t)
}

func TestPanicIsForwarded(t *testing.T) {
	tk := newTestKernel(t, 1, nil)
	mustKernelTask(t, tk, "panicker", func(task *Task) int {
		task.Kernel().Panicf("bad invariant %d", 7)
		return 0
	})
	defer func() {
		r := recover()
		kp, ok := r.(*KernelPanic)
		if !ok {
			t.Fatalf("recovered %v, want a *KernelPanic", r)
		}
		if want := "bad invariant 7"; kp.Message != want {
			t.Errorf("panic message = %q, want %q", kp.Message, want)
		}
	}()
	for i := 0; i < 10; i++ {
		tk.stepAll()
	}
}

func TestFindTask(t *testing.T) {
	tk := newTestKernel(t, 2, nil)
	var tasks []*Task
	for i := 0; i < 4; i++ {
		tasks = append(tasks, mustKernelTask(t, tk, fmt.Sprintf("t%d", i), func(task *Task) int {
			task.Block(BlockGeneric)
			return 0
		}))
	}
	for i, task := range tasks {
		if got := tk.FindTask(task.PID()); got != task {
			t.Errorf("FindTask(%d) = %v, want task %d", task.PID(), got, i)
		}
		if got, want := task.CPU(), tk.CPU(i%2); got != want {
			t.Errorf("task %d placed on cpu %d, want %d", i, got.ID(), want.ID())
		}
	}
	if got := tk.FindTask(PIDMax); got != nil {
		t.Errorf("FindTask(PIDMax) = %v, want nil", got)
	}
	tk.runUntil(t, 20, func() bool { return tasks[3].State() == TaskPaused })
	for _, task := range tasks {
		task.Unblock()
	}
	tk.settle(t)
}
