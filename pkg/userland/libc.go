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
	"encoding/binary"
	"strings"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// Layout of the zero-filled data segment every built-in program gets.
const (
	bufBase = kernel.UserDataBase
	bufSize = 16 << 10

	argBase = bufBase + bufSize
	argSize = 4 << 10

	msgBase = argBase + argSize
	msgSize = 4 << 10

	statusAddr = msgBase + msgSize

	bssSize = bufSize + argSize + msgSize + 8

	// maxArg bounds each argument and environment string.
	maxArg = 4096
)

// Registers the programs use across instructions. The syscall instruction
// clobbers the argument registers only.
//
//	Rbx	argv at entry
//	Rbp	envp at entry
//	R12	cursor
//	R13	limit
//	R14	next cursor
//	R15	last exit status
func saveEntry(uc *kernel.UserContext) {
	r := uc.Regs()
	r.Rbx = r.Rsi
	r.Rbp = r.Rdx
}

// failed returns true if r is a negated errno.
func failed(r uintptr) bool {
	v := int64(r)
	return v < 0 && v > -4096
}

// errnoOf returns the error number held in a failed result.
func errnoOf(r uintptr) int64 {
	return -int64(r)
}

func write(uc *kernel.UserContext, fd int, s string) {
	for len(s) > 0 {
		n := min(len(s), msgSize)
		uc.Store(msgBase, []byte(s[:n]))
		if r := uc.Syscall(linux.SYS_WRITE, uintptr(fd), uintptr(msgBase), uintptr(n)); failed(r) || r == 0 {
			return
		}
		s = s[n:]
	}
}

func exit(uc *kernel.UserContext, code int) {
	uc.Syscall(linux.SYS_EXIT, uintptr(code))
}

// loadVector reads the NULL-terminated string vector at addr.
func loadVector(uc *kernel.UserContext, addr hostarch.Addr) []string {
	var v []string
	if addr == 0 {
		return nil
	}
	for ; ; addr += 8 {
		p := uc.LoadUint64(addr)
		if p == 0 {
			return v
		}
		v = append(v, uc.LoadString(hostarch.Addr(p), maxArg))
	}
}

// storeVector lays strs out in the argument area as a NULL-terminated
// pointer vector at argBase followed by the NUL-terminated strings.
func storeVector(uc *kernel.UserContext, strs []string) bool {
	strBase := 8 * (len(strs) + 1)
	need := strBase
	for _, s := range strs {
		need += len(s) + 1
	}
	if need > argSize {
		return false
	}
	b := make([]byte, need)
	off := strBase
	for i, s := range strs {
		binary.LittleEndian.PutUint64(b[8*i:], uint64(argBase)+uint64(off))
		off += copy(b[off:], s) + 1
	}
	uc.Store(argBase, b)
	return true
}

// execve executes the command last stored by storeVector with the entry
// environment.
func execve(uc *kernel.UserContext) uintptr {
	path := uintptr(uc.LoadUint64(argBase))
	return uc.Syscall(linux.SYS_EXECVE, path, uintptr(argBase), uintptr(uc.Regs().Rbp))
}

// storeString writes s and a NUL terminator to the argument area.
func storeString(uc *kernel.UserContext, s string) hostarch.Addr {
	uc.Store(argBase, append([]byte(s), 0))
	return argBase
}

// readFile reads the file at path into the buffer area and returns its
// length.
func readFile(uc *kernel.UserContext, path string) (int, uintptr) {
	fd := uc.Syscall(linux.SYS_OPEN, uintptr(storeString(uc, path)), linux.O_RDONLY, 0)
	if failed(fd) {
		return 0, fd
	}
	defer uc.Syscall(linux.SYS_CLOSE, fd)
	total := 0
	for total < bufSize {
		r := uc.Syscall(linux.SYS_READ, fd, uintptr(bufBase)+uintptr(total), uintptr(bufSize-total))
		if failed(r) {
			return total, r
		}
		if r == 0 {
			break
		}
		total += int(r)
	}
	return total, 0
}

// waitCode returns the shell's view of a wait status.
func waitCode(ws linux.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.TerminationSignal())
	}
	return ws.ExitStatus()
}

// wait blocks until a child exits and returns its wait status.
func wait(uc *kernel.UserContext) (linux.WaitStatus, uintptr) {
	r := uc.Syscall(linux.SYS_WAIT4, ^uintptr(0), uintptr(statusAddr), 0)
	if failed(r) {
		return 0, r
	}
	var b [4]byte
	uc.Load(statusAddr, b[:])
	return linux.WaitStatus(binary.LittleEndian.Uint32(b[:])), 0
}

// nextCommand returns the fields of the first command line in script at or
// after off, and the offset following that line. Blank lines and lines
// starting with '#' are skipped.
func nextCommand(script string, off int) ([]string, int) {
	for off < len(script) {
		end := strings.IndexByte(script[off:], '\n')
		if end < 0 {
			end = len(script)
		} else {
			end += off
		}
		line := strings.TrimSpace(script[off:end])
		off = end + 1
		if line == "" || line[0] == '#' {
			continue
		}
		return strings.Fields(line), off
	}
	return nil, len(script)
}
