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

package userland

import (
	"fmt"
	"strings"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/abi/linux/errno"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// Init runs the boot script under the shell, waits for it and exits with
// its status.
func Init() *kernel.Program {
	const (
		start = iota
		fork
		child
		parent
	)
	return &kernel.Program{
		Name: "init",
		Text: []kernel.Instruction{
			start: func(uc *kernel.UserContext) {
				saveEntry(uc)
				pid := uc.Syscall(linux.SYS_GETPID)
				write(uc, 1, fmt.Sprintf("init: started as pid %d\n", pid))
			},
			fork: func(uc *kernel.UserContext) {
				r := uc.Syscall(linux.SYS_FORK)
				switch {
				case failed(r):
					write(uc, 2, fmt.Sprintf("init: fork: errno %d\n", errnoOf(r)))
					exit(uc, 1)
				case r == 0:
					uc.Goto(child)
				default:
					uc.Goto(parent)
				}
			},
			child: func(uc *kernel.UserContext) {
				storeVector(uc, []string{ShellPath, RCPath})
				if r := execve(uc); failed(r) {
					write(uc, 2, fmt.Sprintf("init: exec %s: errno %d\n", ShellPath, errnoOf(r)))
					exit(uc, 127)
				}
			},
			parent: func(uc *kernel.UserContext) {
				ws, r := wait(uc)
				if failed(r) {
					write(uc, 2, fmt.Sprintf("init: wait: errno %d\n", errnoOf(r)))
					exit(uc, 1)
					return
				}
				code := waitCode(ws)
				write(uc, 1, fmt.Sprintf("init: %s exited with status %d\n", RCPath, code))
				exit(uc, code)
			},
		},
		BSS: bssSize,
	}
}

// Shell runs the script named by its first argument: one command per line,
// each forked, executed and waited for in turn. It exits with the status of
// the last command.
func Shell() *kernel.Program {
	const (
		start = iota
		next
		fork
		child
		parent
		done
	)
	return &kernel.Program{
		Name: "sh",
		Text: []kernel.Instruction{
			start: func(uc *kernel.UserContext) {
				saveEntry(uc)
				r := uc.Regs()
				if r.Rdi < 2 {
					write(uc, 2, "usage: sh script\n")
					exit(uc, 2)
					return
				}
				path := uc.LoadString(hostarch.Addr(uc.LoadUint64(hostarch.Addr(r.Rbx)+8)), maxArg)
				n, res := readFile(uc, path)
				if failed(res) {
					write(uc, 2, fmt.Sprintf("sh: %s: errno %d\n", path, errnoOf(res)))
					exit(uc, 127)
					return
				}
				r.R12, r.R13, r.R15 = 0, uint64(n), 0
			},
			next: func(uc *kernel.UserContext) {
				r := uc.Regs()
				script := make([]byte, r.R13)
				uc.Load(bufBase, script)
				fields, off := nextCommand(string(script), int(r.R12))
				if len(fields) == 0 {
					uc.Goto(done)
					return
				}
				if !storeVector(uc, fields) {
					write(uc, 2, fmt.Sprintf("sh: %s: argument list too long\n", fields[0]))
					r.R12, r.R15 = uint64(off), 1
					uc.Goto(next)
					return
				}
				r.R14 = uint64(off)
			},
			fork: func(uc *kernel.UserContext) {
				r := uc.Syscall(linux.SYS_FORK)
				switch {
				case failed(r):
					write(uc, 2, fmt.Sprintf("sh: fork: errno %d\n", errnoOf(r)))
					regs := uc.Regs()
					regs.R12, regs.R15 = regs.R14, 1
					uc.Goto(next)
				case r == 0:
					uc.Goto(child)
				default:
					uc.Goto(parent)
				}
			},
			child: func(uc *kernel.UserContext) {
				name := uc.LoadString(hostarch.Addr(uc.LoadUint64(argBase)), maxArg)
				if r := execve(uc); failed(r) {
					msg := fmt.Sprintf("errno %d", errnoOf(r))
					if errnoOf(r) == int64(errno.ENOENT) {
						msg = "not found"
					}
					write(uc, 2, fmt.Sprintf("sh: %s: %s\n", name, msg))
					exit(uc, 127)
				}
			},
			parent: func(uc *kernel.UserContext) {
				ws, res := wait(uc)
				r := uc.Regs()
				if failed(res) {
					r.R15 = 1
				} else {
					r.R15 = uint64(waitCode(ws))
				}
				r.R12 = r.R14
				uc.Goto(next)
			},
			done: func(uc *kernel.UserContext) {
				exit(uc, int(uc.Regs().R15))
			},
		},
		BSS: bssSize,
	}
}

// Hello greets the console with its pid and its parent's.
func Hello() *kernel.Program {
	return &kernel.Program{
		Name: "hello",
		Text: []kernel.Instruction{
			func(uc *kernel.UserContext) {
				pid := uc.Syscall(linux.SYS_GETPID)
				ppid := uc.Syscall(linux.SYS_GETPPID)
				write(uc, 1, fmt.Sprintf("hello from pid %d, child of %d\n", pid, ppid))
			},
			func(uc *kernel.UserContext) {
				exit(uc, 0)
			},
		},
		BSS: bssSize,
	}
}

// Echo writes its arguments separated by spaces.
func Echo() *kernel.Program {
	return &kernel.Program{
		Name: "echo",
		Text: []kernel.Instruction{
			func(uc *kernel.UserContext) {
				args := loadVector(uc, hostarch.Addr(uc.Regs().Rsi))
				if len(args) > 0 {
					args = args[1:]
				}
				write(uc, 1, strings.Join(args, " ")+"\n")
				exit(uc, 0)
			},
		},
		BSS: bssSize,
	}
}

// Cat copies each named file to the console.
func Cat() *kernel.Program {
	return &kernel.Program{
		Name: "cat",
		Text: []kernel.Instruction{
			func(uc *kernel.UserContext) {
				args := loadVector(uc, hostarch.Addr(uc.Regs().Rsi))
				code := 0
				for _, path := range args[min(1, len(args)):] {
					n, r := readFile(uc, path)
					if failed(r) {
						write(uc, 2, fmt.Sprintf("cat: %s: errno %d\n", path, errnoOf(r)))
						code = 1
						continue
					}
					uc.Syscall(linux.SYS_WRITE, 1, uintptr(bufBase), uintptr(n))
				}
				exit(uc, code)
			},
		},
		BSS: bssSize,
	}
}

// False exits with status 1.
func False() *kernel.Program {
	return &kernel.Program{
		Name: "false",
		Text: []kernel.Instruction{
			func(uc *kernel.UserContext) {
				exit(uc, 1)
			},
		},
	}
}
