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

package watchdog

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/picokern/pkg/sentry/devices/memdev"
	"gvisor.dev/picokern/pkg/sentry/devices/tty"
	"gvisor.dev/picokern/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/picokern/pkg/sentry/kernel"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

func TestStuckGoroutineStacks(t *testing.T) {
	innocent0 := `goroutine 124 [select, 1 minutes]:
gvisor.dev/picokern/pkg/sentry/kernel.(*Kernel).Run.func1()
	/home/build/src/gvisor.dev/picokern/pkg/sentry/kernel/kernel.go:327 +0xd4
created by golang.org/x/sync/errgroup.(*Group).Go in goroutine 123
	/home/build/src/golang.org/x/sync/errgroup/errgroup.go:75 +0x239`

	innocent1 := `goroutine 75 gp=0xc000460c40 m=nil [GC worker (idle), 15 minutes]:
runtime.gopark(0x0?, 0x0?, 0x0?, 0x0?, 0x0?)
	/usr/local/go/src/runtime/proc.go:460 +0xce fp=0xc000466f38 sp=0xc000466f18 pc=0x48094e
	/usr/local/go/src/runtime/asm_amd64.s:1693 +0x1 fp=0xc000466fe8 sp=0xc000466fe0 pc=0x4896c1
created by runtime.gcBgMarkStartWorkers in goroutine 1
	/usr/local/go/src/runtime/mgc.go:1373 +0x105`

	stuckLockGoroutine := `goroutine 25916 [sync.RWMutex.RLock, 3 minutes]:
sync.runtime_Semacquire(0x41de33?)
	/usr/local/go/src/runtime/sema.go:71 +0x25
sync.(*RWMutex).Lock(0xc0006a3b08?)
	/usr/local/go/src/sync/rwmutex.go:154 +0x67
gvisor.dev/picokern/pkg/sentry/kernel.(*Kernel).RegisterProgram(...)
	/home/build/src/gvisor.dev/picokern/pkg/sentry/kernel/program.go:118
created by gvisor.dev/picokern/pkg/userland.Install in goroutine 25922
	/home/build/src/gvisor.dev/picokern/pkg/userland/install.go:61 +0x2f3`

	stuckTaskGoroutine := `goroutine 26128 [deliberately-not-semacquire, 3 minutes]:
sync.runtime_Semacquire(0x47e205?)
	/usr/local/go/src/runtime/sema.go:71 +0x25
sync.(*RWMutex).RLock(...)
	/usr/local/go/src/sync/rwmutex.go:78
gvisor.dev/picokern/pkg/sentry/kernel.(*Kernel).Program(...)
	/home/build/src/gvisor.dev/picokern/pkg/sentry/kernel/program.go:128
gvisor.dev/picokern/pkg/sentry/kernel.(*Task).doSyscall(0xc000fae160?)
	/home/build/src/gvisor.dev/picokern/pkg/sentry/kernel/syscalls.go:97 +0x3e8`

	stuck := make(map[int64]struct{})
	stuck[26128] = struct{}{}
	allStacks := []string{innocent0, stuckLockGoroutine, innocent1, stuckTaskGoroutine}
	wantStacks := "\n" + strings.Join([]string{stuckLockGoroutine, stuckTaskGoroutine}, "\n\n") + "\n"

	gotStuckStacks := string(stuckGoroutineStacks([]byte(strings.Join(allStacks, "\n\n")), stuck))
	if diff := cmp.Diff(wantStacks, gotStuckStacks); diff != "" {
		t.Errorf("stuckGoroutineStacks() returned unexpected diff (-want +got):\n%s", diff)
	}
}

func TestAction(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Action
	}{
		{"log", LogWarning},
		{"logwarning", LogWarning},
		{"logWarning", LogWarning},
		{"panic", Panic},
	} {
		var a Action
		if err := a.Set(tc.in); err != nil {
			t.Errorf("Set(%q): %v", tc.in, err)
			continue
		}
		if a != tc.want {
			t.Errorf("Set(%q) = %v, want %v", tc.in, a, tc.want)
		}
	}
	var a Action
	if err := a.Set("reboot"); err == nil {
		t.Errorf("Set(reboot) succeeded")
	}
}

func newKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	mem, err := pgalloc.NewMemoryFile(1024)
	if err != nil {
		t.Fatalf("NewMemoryFile: %v", err)
	}
	vfsObj := vfs.New(memfs.New())
	if err := tty.Register(vfsObj, tty.NewConsole(kernel.DefaultConsolePath, strings.NewReader(""), &bytes.Buffer{})); err != nil {
		t.Fatalf("tty.Register: %v", err)
	}
	if err := memdev.Register(vfsObj, memdev.NewLogDevice(kernel.DefaultLogPath)); err != nil {
		t.Fatalf("memdev.Register: %v", err)
	}
	k, err := kernel.New(kernel.InitKernelArgs{CPUs: 1, Memory: mem, VFS: vfsObj})
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	return k
}

func TestStuckKernelTask(t *testing.T) {
	k := newKernel(t)
	var release atomic.Bool
	spinner, err := k.NewKernelTask(func(*kernel.Task) int {
		// Never yields.
		for !release.Load() {
			time.Sleep(time.Millisecond)
		}
		return 0
	}, "spinner")
	if err != nil {
		t.Fatalf("NewKernelTask: %v", err)
	}

	w := New(k, Opts{TaskTimeout: 20 * time.Millisecond, Period: 5 * time.Millisecond})
	before := stuckTasks.Value()
	w.Start()
	defer w.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-spinner.Exited():
				return
			default:
				k.CPU(0).Step()
			}
		}
	}()

	deadline := time.Now().Add(10 * time.Second)
	for stuckTasks.Value() == before {
		if time.Now().After(deadline) {
			t.Fatalf("watchdog did not report the spinning task")
		}
		time.Sleep(time.Millisecond)
	}
	if s := k.CPU(0).Slot(); s.Task != spinner {
		t.Errorf("Slot().Task = %v, want the spinner", s.Task)
	}
	// A slot is reported once.
	time.Sleep(50 * time.Millisecond)
	if got := stuckTasks.Value() - before; got != 1 {
		t.Errorf("stuck reports = %d, want 1", got)
	}
	release.Store(true)
	<-done
}

func TestDisabled(t *testing.T) {
	w := New(newKernel(t), Opts{})
	w.Start()
	if w.running {
		t.Errorf("watchdog with no timeout is running")
	}
	w.Stop()
}
