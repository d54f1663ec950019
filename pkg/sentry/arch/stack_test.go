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

package arch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/picokern/pkg/hostarch"
)

// flatMemory is a StackIO over a byte slice starting at base.
type flatMemory struct {
	base hostarch.Addr
	data []byte
}

func (m *flatMemory) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	if addr < m.base || int(addr-m.base)+len(src) > len(m.data) {
		return 0, fmt.Errorf("fault at %v", addr)
	}
	return copy(m.data[addr-m.base:], src), nil
}

func (m *flatMemory) word(addr hostarch.Addr) uint64 {
	return binary.LittleEndian.Uint64(m.data[addr-m.base:])
}

func (m *flatMemory) cstring(addr hostarch.Addr) string {
	b := m.data[addr-m.base:]
	return string(b[:bytes.IndexByte(b, 0)])
}

func TestStackLoad(t *testing.T) {
	for _, tc := range []struct {
		name string
		argv []string
		envp []string
	}{
		{name: "empty"},
		{name: "args only", argv: []string{"/bin/init"}},
		{name: "odd words", argv: []string{"/bin/sh", "-c", "echo hi"}, envp: []string{"HOME=/"}},
		{name: "even words", argv: []string{"a", "b"}, envp: []string{"X=1", "Y=2", "Z=3"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const base = hostarch.Addr(0x10000)
			mem := &flatMemory{base: base, data: make([]byte, 2*hostarch.PageSize)}
			s := Stack{IO: mem, Bottom: base + 2*hostarch.PageSize, Limit: base}
			l, err := s.Load(tc.argv, tc.envp)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if l.SP%16 != 0 {
				t.Errorf("SP %v is not 16-byte aligned", l.SP)
			}
			if got := mem.word(l.SP); got != uint64(len(tc.argv)) {
				t.Errorf("argc = %d, want %d", got, len(tc.argv))
			}
			if l.Argv != l.SP+Width {
				t.Errorf("argv at %v, want %v", l.Argv, l.SP+Width)
			}
			read := func(vec hostarch.Addr) []string {
				var out []string
				for p := vec; ; p += Width {
					ptr := mem.word(p)
					if ptr == 0 {
						return out
					}
					out = append(out, mem.cstring(hostarch.Addr(ptr)))
				}
			}
			if diff := cmp.Diff(tc.argv, read(l.Argv)); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.envp, read(l.Envp)); diff != "" {
				t.Errorf("envp mismatch (-want +got):\n%s", diff)
			}
			if want := l.Argv + hostarch.Addr((len(tc.argv)+1)*Width); l.Envp != want {
				t.Errorf("envp at %v, want %v", l.Envp, want)
			}
		})
	}
}

func TestStackOverflow(t *testing.T) {
	const base = hostarch.Addr(0x10000)
	mem := &flatMemory{base: base, data: make([]byte, 64)}
	s := Stack{IO: mem, Bottom: base + 64, Limit: base}
	if _, err := s.Load([]string{string(make([]byte, 100))}, nil); err == nil {
		t.Errorf("Load of oversized argv succeeded")
	}
}

func TestSyscallArgs(t *testing.T) {
	var r Registers
	r.SetSyscallArgs(59, 1, 2, 3, 4, 5, 6)
	args := r.SyscallArgs()
	for i := range args {
		if got := args[i].Uint64(); got != uint64(i+1) {
			t.Errorf("arg %d = %d, want %d", i, got, i+1)
		}
	}
	if r.SyscallNo() != 59 {
		t.Errorf("SyscallNo() = %d, want 59", r.SyscallNo())
	}
}
