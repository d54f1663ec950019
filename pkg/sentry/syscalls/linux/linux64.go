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

// Package linux provides syscall tables for amd64 Linux.
package linux

import (
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/sentry/kernel"
	"gvisor.dev/picokern/pkg/sentry/syscalls"
)

// AMD64 is a table of Linux amd64 syscall API with the corresponding syscall
// numbers. Calls missing from the table fail with ENOSYS.
var AMD64 = &kernel.SyscallTable{
	Name: "linux/amd64",
	Table: map[uintptr]kernel.Syscall{
		linux.SYS_READ:        syscalls.Supported("read", Read),
		linux.SYS_WRITE:       syscalls.Supported("write", Write),
		linux.SYS_OPEN:        syscalls.Supported("open", Open),
		linux.SYS_CLOSE:       syscalls.Supported("close", Close),
		linux.SYS_STAT:        syscalls.Supported("stat", Stat),
		linux.SYS_FSTAT:       syscalls.Supported("fstat", Fstat),
		6:                     syscalls.Unimplemented("lstat"),
		linux.SYS_LSEEK:       syscalls.Supported("lseek", Lseek),
		linux.SYS_MMAP:        syscalls.Supported("mmap", Mmap),
		10:                    syscalls.Unimplemented("mprotect"),
		linux.SYS_MUNMAP:      syscalls.Supported("munmap", Munmap),
		linux.SYS_BRK:         syscalls.Supported("brk", Brk),
		13:                    syscalls.Unimplemented("rt_sigaction"),
		14:                    syscalls.Unimplemented("rt_sigprocmask"),
		linux.SYS_IOCTL:       syscalls.Supported("ioctl", Ioctl),
		21:                    syscalls.Unimplemented("access"),
		22:                    syscalls.Unimplemented("pipe"),
		linux.SYS_SCHED_YIELD: syscalls.Supported("sched_yield", SchedYield),
		32:                    syscalls.Unimplemented("dup"),
		33:                    syscalls.Unimplemented("dup2"),
		linux.SYS_NANOSLEEP:   syscalls.Supported("nanosleep", Nanosleep),
		linux.SYS_GETPID:      syscalls.Supported("getpid", Getpid),
		56:                    syscalls.Unimplemented("clone"),
		linux.SYS_FORK:        syscalls.SupportedFrame("fork", Fork),
		58:                    syscalls.Unimplemented("vfork"),
		linux.SYS_EXECVE:      syscalls.Supported("execve", Execve),
		linux.SYS_EXIT:        syscalls.Supported("exit", Exit),
		linux.SYS_WAIT4:       syscalls.Supported("wait4", Wait4),
		linux.SYS_KILL:        syscalls.Supported("kill", Kill),
		63:                    syscalls.Unimplemented("uname"),
		linux.SYS_GETPPID:     syscalls.Supported("getppid", Getppid),
		linux.SYS_ARCH_PRCTL:  syscalls.Supported("arch_prctl", ArchPrctl),
		linux.SYS_EXIT_GROUP:  syscalls.Supported("exit_group", ExitGroup),
	},
}

func init() {
	AMD64.Init()
}
