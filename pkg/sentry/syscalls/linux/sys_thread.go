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

package linux

import (
	"encoding/binary"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// Getpid implements linux syscall getpid(2).
func Getpid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.PID()), nil, nil
}

// Getppid implements linux syscall getppid(2).
func Getppid(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.PPID()), nil, nil
}

// SchedYield implements linux syscall sched_yield(2).
func SchedYield(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	t.Yield()
	return 0, nil, nil
}

// Fork implements linux syscall fork(2). It takes the raw trap frame so the
// child starts from a full copy of the caller's registers.
func Fork(t *kernel.Task, frame *arch.Registers) (uintptr, *kernel.SyscallControl, error) {
	child, err := t.Fork(frame)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(child.PID()), nil, nil
}

// Execve implements linux syscall execve(2).
func Execve(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	filenameAddr := args[0].Pointer()
	argvAddr := args[1].Pointer()
	envvAddr := args[2].Pointer()

	filename, err := copyInPath(t, filenameAddr)
	if err != nil {
		return 0, nil, err
	}
	argv, err := copyInVector(t, argvAddr)
	if err != nil {
		return 0, nil, err
	}
	envv, err := copyInVector(t, envvAddr)
	if err != nil {
		return 0, nil, err
	}
	if err := t.Execve(filename, argv, envv); err != nil {
		return 0, nil, err
	}
	return 0, kernel.CtrlImageReplaced, nil
}

// Exit implements linux syscall exit(2).
func Exit(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	status := args[0].Int()
	t.Exit(status & 0xff)
	panic("unreachable")
}

// ExitGroup implements linux syscall exit_group(2). Tasks are single
// threaded, so this is exit.
func ExitGroup(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return Exit(t, args)
}

// Wait4 implements linux syscall wait4(2). rusage is not reported.
func Wait4(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ThreadID(args[0].Int())
	statusAddr := args[1].Pointer()
	options := int(args[2].Int())

	if options&^linux.WNOHANG != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	got, status, err := t.Wait4(pid, options)
	if err != nil {
		return 0, nil, err
	}
	if got != 0 && statusAddr != 0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(status))
		if _, err := t.MemoryManager().CopyOut(statusAddr, b[:]); err != nil {
			return 0, nil, err
		}
	}
	return uintptr(got), nil, nil
}
