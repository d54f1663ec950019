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

// System call numbers for amd64, from arch/x86/entry/syscalls/syscall_64.tbl.
const (
	SYS_READ        = 0
	SYS_WRITE       = 1
	SYS_OPEN        = 2
	SYS_CLOSE       = 3
	SYS_STAT        = 4
	SYS_FSTAT       = 5
	SYS_LSEEK       = 8
	SYS_MMAP        = 9
	SYS_MUNMAP      = 11
	SYS_BRK         = 12
	SYS_IOCTL       = 16
	SYS_SCHED_YIELD = 24
	SYS_NANOSLEEP   = 35
	SYS_GETPID      = 39
	SYS_FORK        = 57
	SYS_EXECVE      = 59
	SYS_EXIT        = 60
	SYS_WAIT4       = 61
	SYS_KILL        = 62
	SYS_GETPPID     = 110
	SYS_ARCH_PRCTL  = 158
	SYS_EXIT_GROUP  = 231

	// NumSyscalls is the size of the amd64 syscall table.
	NumSyscalls = 335
)

// arch_prctl(2) codes.
const (
	ARCH_SET_GS = 0x1001
	ARCH_SET_FS = 0x1002
	ARCH_GET_FS = 0x1003
	ARCH_GET_GS = 0x1004
)
