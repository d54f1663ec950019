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
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/arch"
)

// testTable is a minimal syscall table for user tasks.
func testTable() *SyscallTable {
	return &SyscallTable{
		Name: "test",
		Table: map[uintptr]Syscall{
			linux.SYS_GETPID: {
				Name: "getpid",
				Fn: func(t *Task, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return uintptr(t.PID()), nil, nil
				},
			},
			linux.SYS_EXIT: {
				Name: "exit",
				Fn: func(t *Task, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					t.Exit(args[0].Int())
					return 0, nil, nil
				},
			},
			linux.SYS_FORK: {
				Name:       "fork",
				NeedsFrame: true,
				FrameFn: func(t *Task, frame *arch.Registers) (uintptr, *SyscallControl, error) {
					child, err := t.Fork(frame)
					if err != nil {
						return 0, nil, err
					}
					return uintptr(child.PID()), nil, nil
				},
			},
			linux.SYS_WAIT4: {
				Name: "wait4",
				Fn: func(t *Task, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					pid, status, err := t.Wait4(ThreadID(args[0].Int()), int(args[2].Int()))
					if err != nil {
						return 0, nil, err
					}
					if addr := args[1].Pointer(); addr != 0 {
						var b [4]byte
						binary.LittleEndian.PutUint32(b[:], uint32(status))
						if _, err := t.MemoryManager().CopyOut(addr, b[:]); err != nil {
							return 0, nil, err
						}
					}
					return uintptr(pid), nil, nil
				},
			},
		},
	}
}

func exitWith(code int) Instruction {
	return func(uc *UserContext) {
		uc.Syscall(linux.SYS_EXIT, uintptr(code))
	}
}

func mustUserTask(t *testing.T, tk *testKernel, prog *Program, argv, envp []string) *Task {
	t.Helper()
	task, err := tk.NewUserTask(prog, argv, envp)
	if err != nil {
		t.Fatalf("NewUserTask(%s): %v", prog.Name, err)
	}
	return task
}

func TestUserTaskStack(t *testing.T) {
	tk := newTestKernel(t, 1, testTable())
	type startState struct {
		Argv    []string
		Envp    []string
		Aligned bool
	}
	var got startState
	prog := &Program{
		Name: "args",
		Text: []Instruction{
			func(uc *UserContext) {
				regs := uc.Regs()
				argc := int(regs.Rdi)
				for i := 0; i < argc; i++ {
					p := uc.LoadUint64(hostarch.Addr(regs.Rsi) + hostarch.Addr(8*i))
					got.Argv = append(got.Argv, uc.LoadString(hostarch.Addr(p), 256))
				}
				for i := 0; ; i++ {
					p := uc.LoadUint64(hostarch.Addr(regs.Rdx) + hostarch.Addr(8*i))
					if p == 0 {
						break
					}
					got.Envp = append(got.Envp, uc.LoadString(hostarch.Addr(p), 256))
				}
				got.Aligned = regs.Rsp%16 == 0
			},
			exitWith(0),
		},
	}
	task := mustUserTask(t, tk, prog, []string{"args", "-v", "x"}, []string{"HOME=/", "TERM=dumb"})
	if got, want := task.Name(), "args"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	tk.settle(t)

	want := startState{
		Argv:    []string{"args", "-v", "x"},
		Envp:    []string{"HOME=/", "TERM=dumb"},
		Aligned: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("start state mismatch (-want +got):\n%s", diff)
	}
	if got, want := task.ExitStatus(), linux.WaitStatusExit(0); got != want {
		t.Errorf("ExitStatus = %#x, want %#x", got, want)
	}
}

func TestUserFaults(t *testing.T) {
	for _, tc := range []struct {
		name string
		text []Instruction
		want linux.WaitStatus
	}{
		{
			name: "unmapped store",
			text: []Instruction{func(uc *UserContext) { uc.StoreUint64(0x1000, 1) }},
			want: linux.WaitStatusSignal(linux.SIGSEGV),
		},
		{
			name: "text store",
			text: []Instruction{func(uc *UserContext) { uc.StoreUint64(UserTextBase, 1) }},
			want: linux.WaitStatusSignal(linux.SIGSEGV),
		},
		{
			name: "jump outside text",
			text: []Instruction{func(uc *UserContext) { uc.Jump(0x1000) }},
			want: linux.WaitStatusSignal(linux.SIGSEGV),
		},
		{
			name: "illegal instruction",
			text: []Instruction{func(uc *UserContext) { uc.Goto(5) }},
			want: linux.WaitStatusSignal(linux.SIGILL),
		},
		{
			name: "exit code",
			text: []Instruction{exitWith(3)},
			want: linux.WaitStatusExit(3),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tk := newTestKernel(t, 1, testTable())
			task := mustUserTask(t, tk, &Program{Name: "fault", Text: tc.text}, []string{"fault"}, nil)
			tk.settle(t)
			if got := task.ExitStatus(); got != tc.want {
				t.Errorf("ExitStatus = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestSyscallResults(t *testing.T) {
	tk := newTestKernel(t, 1, testTable())
	var pid, unknown, outOfRange uintptr
	prog := &Program{
		Name: "sys",
		Text: []Instruction{
			func(uc *UserContext) { pid = uc.Syscall(linux.SYS_GETPID) },
			func(uc *UserContext) { unknown = uc.Syscall(linux.SYS_MMAP) },
			func(uc *UserContext) { outOfRange = uc.Syscall(maxSyscallNum + 1) },
			exitWith(0),
		},
	}
	task := mustUserTask(t, tk, prog, []string{"sys"}, nil)
	tk.settle(t)
	if pid != uintptr(task.PID()) {
		t.Errorf("getpid = %d, want %d", pid, task.PID())
	}
	enosys := errnoReturn(linuxerr.ENOSYS)
	if unknown != enosys {
		t.Errorf("unimplemented syscall = %#x, want %#x", unknown, enosys)
	}
	if outOfRange != enosys {
		t.Errorf("out of range syscall = %#x, want %#x", outOfRange, enosys)
	}
}

// warnings records warning-level log lines emitted from any goroutine.
type warnings struct {
	mu    sync.Mutex
	lines []string
}

func (w *warnings) Emit(_ int, level log.Level, _ time.Time, format string, v ...any) {
	if level != log.Warning {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, fmt.Sprintf(format, v...))
}

func (w *warnings) matching(substr string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, l := range w.lines {
		if strings.Contains(l, substr) {
			out = append(out, l)
		}
	}
	return out
}

func TestUnknownSyscallWarningIsRateLimited(t *testing.T) {
	old := log.Log().Emitter
	w := &warnings{}
	log.SetTarget(w)
	defer log.SetTarget(old)
	defer func(l *log.RateLimited) { unknownSyscallLog = l }(unknownSyscallLog)
	unknownSyscallLog = log.BasicRateLimitedLogger(time.Hour)

	tk := newTestKernel(t, 1, testTable())
	prog := &Program{
		Name: "unk",
		Text: []Instruction{
			func(uc *UserContext) {
				uc.Syscall(linux.SYS_MMAP)
				uc.Syscall(linux.SYS_BRK)
				uc.Syscall(maxSyscallNum + 1)
			},
			exitWith(0),
		},
	}
	task := mustUserTask(t, tk, prog, []string{"unk"}, nil)
	tk.settle(t)

	want := []string{fmt.Sprintf("[%d:unk] unknown syscall %d", task.PID(), linux.SYS_MMAP)}
	if diff := cmp.Diff(want, w.matching("unknown syscall")); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestForkExitWait(t *testing.T) {
	tk := newTestKernel(t, 2, testTable())
	const status = UserDataBase
	prog := &Program{
		Name: "forker",
		Text: []Instruction{
			// Parent: remember the child pid and skip the child's exit.
			func(uc *UserContext) {
				uc.Regs().Rbx = uint64(uc.Syscall(linux.SYS_FORK))
				uc.Goto(2)
			},
			// The child resumes here with a zero return value.
			exitWith(7),
			func(uc *UserContext) {
				uc.Regs().R12 = uint64(uc.Syscall(linux.SYS_WAIT4, uintptr(uc.Regs().Rbx), uintptr(status), 0))
			},
			func(uc *UserContext) {
				ws := linux.WaitStatus(uint32(uc.LoadUint64(status)))
				if uc.Regs().R12 != uc.Regs().Rbx || !ws.Exited() {
					uc.Syscall(linux.SYS_EXIT, 99)
				}
				uc.Syscall(linux.SYS_EXIT, uintptr(ws.ExitStatus()+10))
			},
		},
		BSS: 8,
	}
	parent := mustUserTask(t, tk, prog, []string{"forker"}, nil)
	tk.settle(t)

	if got, want := parent.ExitStatus(), linux.WaitStatusExit(17); got != want {
		t.Errorf("parent ExitStatus = %#x, want %#x", got, want)
	}
	if got, want := parent.LastChildStatus(), linux.WaitStatusExit(7); got != want {
		t.Errorf("parent LastChildStatus = %#x, want %#x", got, want)
	}
}

func TestWaitWithoutChildren(t *testing.T) {
	tk := newTestKernel(t, 1, testTable())
	var rv uintptr
	prog := &Program{
		Name: "lonely",
		Text: []Instruction{
			func(uc *UserContext) { rv = uc.Syscall(linux.SYS_WAIT4, ^uintptr(0), 0, 0) },
			exitWith(0),
		},
	}
	mustUserTask(t, tk, prog, []string{"lonely"}, nil)
	tk.settle(t)
	if want := errnoReturn(linuxerr.ECHILD); rv != want {
		t.Errorf("wait4 = %#x, want %#x", rv, want)
	}
}

func TestPreemptionAndRelease(t *testing.T) {
	tk := newTestKernel(t, 1, testTable())
	tk.settle(t)
	usedBefore := tk.mem.UsedPages()

	counts := make(map[ThreadID]int)
	prog := &Program{
		Name: "spin",
		Text: []Instruction{
			func(uc *UserContext) {
				counts[uc.Task().PID()]++
				uc.Goto(0)
			},
		},
	}
	a := mustUserTask(t, tk, prog, []string{"spin"}, nil)
	b := mustUserTask(t, tk, prog, []string{"spin"}, nil)
	for i := 0; i < 40; i++ {
		tk.stepAll()
	}
	if counts[a.PID()] == 0 || counts[b.PID()] == 0 {
		t.Fatalf("spinning tasks did not share the cpu: %v", counts)
	}
	if a.Runtime() == 0 || b.Runtime() == 0 {
		t.Errorf("runtime not accounted: a=%v b=%v", a.Runtime(), b.Runtime())
	}

	for _, task := range []*Task{a, b} {
		if err := tk.Kill(task, linux.WaitStatusSignal(linux.SIGKILL)); err != nil {
			t.Fatalf("Kill: %v", err)
		}
	}
	tk.settle(t)
	if got := tk.mem.UsedPages(); got != usedBefore {
		t.Errorf("UsedPages = %d after reclaim, want %d", got, usedBefore)
	}
	if got, want := tk.CPU(0).LoadedRoot(), tk.KernelMemoryManager().Root(); got != want {
		t.Errorf("LoadedRoot = %v, want kernel root %v", got, want)
	}
}

func TestSpawn(t *testing.T) {
	tk := newTestKernel(t, 1, testTable())
	var argv []string
	prog := &Program{
		Name: "echoargs",
		Text: []Instruction{
			func(uc *UserContext) {
				regs := uc.Regs()
				for i := 0; i < int(regs.Rdi); i++ {
					p := uc.LoadUint64(hostarch.Addr(regs.Rsi) + hostarch.Addr(8*i))
					argv = append(argv, uc.LoadString(hostarch.Addr(p), 256))
				}
			},
			exitWith(0),
		},
	}
	if err := tk.RegisterProgram(prog); err != nil {
		t.Fatalf("RegisterProgram: %v", err)
	}
	if err := tk.RegisterProgram(prog); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("second RegisterProgram = %v, want EEXIST", err)
	}
	bin, err := prog.ELF()
	if err != nil {
		t.Fatalf("ELF: %v", err)
	}
	if err := tk.fs.WriteFile("/bin/echoargs", bin, 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := tk.fs.WriteFile("/usr/local/run.sh", []byte("#!/bin/echoargs -x\n"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	task, err := tk.Spawn("/usr/local/run.sh", []string{"run.sh", "a"}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got, want := task.Name(), "echoargs"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	tk.settle(t)
	want := []string{"/bin/echoargs", "-x", "/usr/local/run.sh", "a"}
	if diff := cmp.Diff(want, argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}

	if _, err := tk.Spawn("/bin/missing", []string{"missing"}, nil); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("Spawn(missing) = %v, want ENOENT", err)
	}
	tk.settle(t)
}
