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
	"encoding/binary"
	"fmt"

	"gvisor.dev/picokern/pkg/hostarch"
)

// StackIO is the memory a Stack writes into.
type StackIO interface {
	CopyOut(addr hostarch.Addr, src []byte) (int, error)
}

// Stack is a simple wrapper around a StackIO that grows downward from
// Bottom.
type Stack struct {
	// IO is the memory the stack lives in.
	IO StackIO

	// Bottom is the current bottom of the stack. It moves down as data is
	// pushed.
	Bottom hostarch.Addr

	// Limit is the lowest address the stack may reach.
	Limit hostarch.Addr
}

// StackLayout describes the location of the arguments and environment on the
// stack.
type StackLayout struct {
	// ArgvStart is the beginning of the argument vector strings.
	ArgvStart hostarch.Addr

	// ArgvEnd is the end of the argument vector strings.
	ArgvEnd hostarch.Addr

	// EnvvStart is the beginning of the environment vector strings.
	EnvvStart hostarch.Addr

	// EnvvEnd is the end of the environment vector strings.
	EnvvEnd hostarch.Addr

	// Argc is the argument count.
	Argc uint64

	// Argv is the address of the argv pointer vector.
	Argv hostarch.Addr

	// Envp is the address of the envp pointer vector.
	Envp hostarch.Addr

	// SP is the initial stack pointer; it points at argc and is 16-byte
	// aligned.
	SP hostarch.Addr
}

// Push writes b below the current bottom.
func (s *Stack) Push(b []byte) (hostarch.Addr, error) {
	bottom := s.Bottom - hostarch.Addr(len(b))
	if bottom < s.Limit || bottom > s.Bottom {
		return 0, fmt.Errorf("stack overflow pushing %d bytes at %v", len(b), s.Bottom)
	}
	if _, err := s.IO.CopyOut(bottom, b); err != nil {
		return 0, err
	}
	s.Bottom = bottom
	return bottom, nil
}

// PushString pushes a NUL-terminated string.
func (s *Stack) PushString(str string) (hostarch.Addr, error) {
	b := make([]byte, len(str)+1)
	copy(b, str)
	return s.Push(b)
}

// PushUint64 pushes one native word.
func (s *Stack) PushUint64(v uint64) (hostarch.Addr, error) {
	var b [Width]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return s.Push(b[:])
}

// Align moves the bottom down to a multiple of n.
func (s *Stack) Align(n int) {
	s.Bottom &^= hostarch.Addr(n - 1)
}

// Load pushes argv and envp following the C runtime startup convention:
// the strings at the top, then (from the final stack pointer upward) argc,
// the NULL-terminated argv vector and the NULL-terminated envp vector. The
// final stack pointer is 16-byte aligned.
func (s *Stack) Load(args []string, env []string) (StackLayout, error) {
	l := StackLayout{}

	// Environment strings go highest, then the argument strings.
	l.EnvvEnd = s.Bottom
	envAddrs := make([]hostarch.Addr, len(env))
	for i := len(env) - 1; i >= 0; i-- {
		addr, err := s.PushString(env[i])
		if err != nil {
			return StackLayout{}, err
		}
		envAddrs[i] = addr
	}
	l.EnvvStart = s.Bottom

	l.ArgvEnd = s.Bottom
	argAddrs := make([]hostarch.Addr, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		addr, err := s.PushString(args[i])
		if err != nil {
			return StackLayout{}, err
		}
		argAddrs[i] = addr
	}
	l.ArgvStart = s.Bottom

	// Reserve for argc, argv + NULL and envp + NULL, then pad so that argc
	// lands on a 16-byte boundary.
	words := 1 + len(args) + 1 + len(env) + 1
	s.Align(16)
	if words%2 != 0 {
		if _, err := s.PushUint64(0); err != nil {
			return StackLayout{}, err
		}
	}

	if _, err := s.PushUint64(0); err != nil {
		return StackLayout{}, err
	}
	for i := len(envAddrs) - 1; i >= 0; i-- {
		if _, err := s.PushUint64(uint64(envAddrs[i])); err != nil {
			return StackLayout{}, err
		}
	}
	l.Envp = s.Bottom

	if _, err := s.PushUint64(0); err != nil {
		return StackLayout{}, err
	}
	for i := len(argAddrs) - 1; i >= 0; i-- {
		if _, err := s.PushUint64(uint64(argAddrs[i])); err != nil {
			return StackLayout{}, err
		}
	}
	l.Argv = s.Bottom

	l.Argc = uint64(len(args))
	if _, err := s.PushUint64(l.Argc); err != nil {
		return StackLayout{}, err
	}
	l.SP = s.Bottom
	return l, nil
}
