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
	"encoding/binary"
	"fmt"
	"time"

	"gvisor.dev/picokern/pkg/abi/linux/errno"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/sentry/arch"
)

var (
	syscallsDispatched = metric.MustCreateNewUint64Metric("/kernel/syscalls", "Number of system calls dispatched.")
	syscallsUnknown    = metric.MustCreateNewUint64Metric("/kernel/syscalls_unknown", "Number of system calls with no table entry.")
)

// unknownSyscallLog reports calls with no table entry, at most once per
// interval across all tasks.
var unknownSyscallLog = log.BasicRateLimitedLogger(time.Second)

// SetUnknownSyscallLogRate sets the minimum interval between warnings about
// syscall numbers with no table entry. Zero disables the limit.
func SetUnknownSyscallLogRate(every time.Duration) {
	unknownSyscallLog.SetEvery(every)
}

// maxSyscallNum is the highest supported syscall number.
const maxSyscallNum = 2000

// SyscallControl is returned by syscalls to control the behavior of
// the gate after the call.
type SyscallControl struct {
	// imageReplaced is true if the call replaced the task's image. The
	// return value is not written and the calling UserContext is
	// invalidated.
	imageReplaced bool
}

// CtrlImageReplaced is returned by a successful execve.
var CtrlImageReplaced = &SyscallControl{imageReplaced: true}

// SyscallFn is a syscall implementation.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// SyscallFrameFn is a syscall implementation that receives the caller's full
// trap frame instead of its arguments.
type SyscallFrameFn func(t *Task, frame *arch.Registers) (uintptr, *SyscallControl, error)

// Syscall includes the syscall implementation and compatibility information.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation of the syscall.
	Fn SyscallFn

	// NeedsFrame selects FrameFn over Fn.
	NeedsFrame bool

	// FrameFn is the implementation of a NeedsFrame syscall.
	FrameFn SyscallFrameFn
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Name names the table in diagnostics.
	Name string

	// Table is the collection of functions.
	Table map[uintptr]Syscall

	// lookup is a fixed-size array that holds the syscalls (indexed by
	// their numbers). It is used for fast look ups.
	lookup []*Syscall
}

// Init initializes the dense lookup table. It panics on an entry whose
// implementation does not match its NeedsFrame capability.
func (s *SyscallTable) Init() {
	s.lookup = make([]*Syscall, maxSyscallNum+1)
	for num, sc := range s.Table {
		if num > maxSyscallNum {
			panic(fmt.Sprintf("syscall %d of table %s exceeds the maximum %d", num, s.Name, maxSyscallNum))
		}
		if sc.NeedsFrame != (sc.FrameFn != nil) || sc.NeedsFrame == (sc.Fn != nil) {
			panic(fmt.Sprintf("syscall %d (%s) of table %s has mismatched implementations", num, sc.Name, s.Name))
		}
		s.lookup[num] = &sc
	}
}

// Lookup returns the syscall with number sysno, or nil. A table that was
// never initialized is searched through Table.
func (s *SyscallTable) Lookup(sysno uintptr) *Syscall {
	if s == nil {
		return nil
	}
	if s.lookup == nil {
		return s.mapLookup(sysno)
	}
	if sysno >= uintptr(len(s.lookup)) {
		return nil
	}
	return s.lookup[sysno]
}

// mapLookup is equivalent to Lookup, except that it only uses the syscall
// table (not the dense array).
func (s *SyscallTable) mapLookup(sysno uintptr) *Syscall {
	sc, ok := s.Table[sysno]
	if !ok {
		return nil
	}
	return &sc
}

// errnoReturn encodes err as a negated errno return value. Errors that carry
// no errno become EIO.
func errnoReturn(err error) uintptr {
	e, ok := linuxerr.ErrnoOf(err)
	if !ok {
		e = errno.EIO
	}
	return uintptr(-int64(e))
}

// frameSize is the size of a trap frame saved on the kernel stack.
var frameSize = binary.Size(arch.Registers{})

// frameAddr is where t's trap frame is saved.
func (t *Task) frameAddr() hostarch.Addr {
	return t.kernelStackTop() - hostarch.Addr(frameSize)
}

// saveFrame stores the live trap frame on the kernel stack.
func (t *Task) saveFrame() {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &t.cpu.regs); err != nil {
		t.k.Panicf("encoding trap frame: %v", err)
	}
	if _, err := t.k.kmm.CopyOut(t.frameAddr(), buf.Bytes()); err != nil {
		t.k.Panicf("saving trap frame of task %d: %v", t.pid, err)
	}
}

// loadFrame returns the trap frame saved on the kernel stack.
func (t *Task) loadFrame() *arch.Registers {
	buf := make([]byte, frameSize)
	if _, err := t.k.kmm.CopyIn(t.frameAddr(), buf); err != nil {
		t.k.Panicf("loading trap frame of task %d: %v", t.pid, err)
	}
	var regs arch.Registers
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &regs); err != nil {
		t.k.Panicf("decoding trap frame: %v", err)
	}
	return &regs
}

// doSyscall is the syscall gate. It runs the call with the preemption timer
// stopped and writes the result, or a negated errno, to the return
// register.
func (t *Task) doSyscall(uc *UserContext) uintptr {
	c := t.cpu
	c.stopTimer()
	t.saveFrame()
	sysno := c.regs.SyscallNo()

	rv, ctrl, err := t.executeSyscall(sysno)
	if ctrl != nil && ctrl.imageReplaced {
		uc.invalid = true
		c.resumeTimer()
		return 0
	}
	if err != nil {
		if _, ok := linuxerr.ErrnoOf(err); !ok {
			t.Warningf("syscall %d returned an error without an errno: %v", sysno, err)
		}
		rv = errnoReturn(err)
	}
	c.regs.SetReturn(rv)
	c.resumeTimer()
	return rv
}

func (t *Task) executeSyscall(sysno uintptr) (uintptr, *SyscallControl, error) {
	s := t.k.syscalls.Lookup(sysno)
	if s == nil {
		syscallsUnknown.Increment()
		if unknownSyscallLog.Allow() {
			t.Warningf("unknown syscall %d", sysno)
		}
		return 0, nil, linuxerr.ENOSYS
	}
	syscallsDispatched.Increment()
	if s.NeedsFrame {
		return s.FrameFn(t, t.loadFrame())
	}
	return s.Fn(t, t.cpu.regs.SyscallArgs())
}
