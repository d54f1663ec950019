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

// Package syscalls is the interface from the application to the kernel.
// Traditionally, syscalls is the interface that is used by applications to
// request services from the kernel of a operating system. The helpers here
// build kernel.Syscall table entries.
package syscalls

import (
	"time"

	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// unimplementedLimit limits the noise from programs that retry missing calls.
var unimplementedLimit = log.BasicRateLimitedLogger(time.Second)

// SetUnimplementedLogRate sets the minimum interval between logs about
// unimplemented calls and about numbers with no table entry. Zero disables
// the limit.
func SetUnimplementedLogRate(every time.Duration) {
	unimplementedLimit.SetEvery(every)
	kernel.SetUnknownSyscallLogRate(every)
}

// Supported returns a syscall that is fully supported.
func Supported(name string, fn kernel.SyscallFn) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn:   fn,
	}
}

// SupportedFrame returns a supported syscall that receives the caller's raw
// trap frame instead of its arguments.
func SupportedFrame(name string, fn kernel.SyscallFrameFn) kernel.Syscall {
	return kernel.Syscall{
		Name:       name,
		NeedsFrame: true,
		FrameFn:    fn,
	}
}

// Error returns a syscall handler that will always give the passed error.
func Error(name string, err error) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn: func(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			return 0, nil, err
		},
	}
}

// ErrorWithEvent gives a syscall function that logs the unimplemented call
// and returns the passed error.
func ErrorWithEvent(name string, err error) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn: func(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			if unimplementedLimit.Allow() {
				t.Infof("unimplemented syscall %s", name)
			}
			return 0, nil, err
		},
	}
}

// Unimplemented is ErrorWithEvent with ENOSYS.
func Unimplemented(name string) kernel.Syscall {
	return ErrorWithEvent(name, linuxerr.ENOSYS)
}
