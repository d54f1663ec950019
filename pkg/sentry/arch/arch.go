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

// Package arch provides abstractions around architecture-dependent details,
// such as syscall calling conventions, native types, etc.
package arch

import (
	"fmt"

	"gvisor.dev/picokern/pkg/hostarch"
)

// Width is the native word width in bytes.
const Width = 8

// Registers is the general purpose register file saved on a trap.
type Registers struct {
	R15    uint64
	R14    uint64
	R13    uint64
	R12    uint64
	Rbp    uint64
	Rbx    uint64
	R11    uint64
	R10    uint64
	R9     uint64
	R8     uint64
	Rax    uint64
	Rcx    uint64
	Rdx    uint64
	Rsi    uint64
	Rdi    uint64
	Rip    uint64
	Eflags uint64
	Rsp    uint64
}

// SyscallNo returns the syscall number held in the frame.
func (r *Registers) SyscallNo() uintptr {
	return uintptr(r.Rax)
}

// SyscallArgs provides syscall arguments according to the amd64 convention.
func (r *Registers) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: uintptr(r.Rdi)},
		SyscallArgument{Value: uintptr(r.Rsi)},
		SyscallArgument{Value: uintptr(r.Rdx)},
		SyscallArgument{Value: uintptr(r.R10)},
		SyscallArgument{Value: uintptr(r.R8)},
		SyscallArgument{Value: uintptr(r.R9)},
	}
}

// SetSyscallArgs stores args into the frame using the amd64 convention.
func (r *Registers) SetSyscallArgs(sysno uintptr, args ...uintptr) {
	r.Rax = uint64(sysno)
	dst := []*uint64{&r.Rdi, &r.Rsi, &r.Rdx, &r.R10, &r.R8, &r.R9}
	for i, a := range args {
		*dst[i] = uint64(a)
	}
}

// SetReturn sets the syscall return value.
func (r *Registers) SetReturn(value uintptr) {
	r.Rax = uint64(value)
}

// Return returns the syscall return value.
func (r *Registers) Return() uintptr {
	return uintptr(r.Rax)
}

// IP returns the instruction pointer.
func (r *Registers) IP() hostarch.Addr {
	return hostarch.Addr(r.Rip)
}

// SetIP sets the instruction pointer.
func (r *Registers) SetIP(value hostarch.Addr) {
	r.Rip = uint64(value)
}

// Stack returns the stack pointer.
func (r *Registers) Stack() hostarch.Addr {
	return hostarch.Addr(r.Rsp)
}

// SetStack sets the stack pointer.
func (r *Registers) SetStack(value hostarch.Addr) {
	r.Rsp = uint64(value)
}

// String implements fmt.Stringer.String.
func (r *Registers) String() string {
	return fmt.Sprintf("rip=%#x rsp=%#x rax=%#x rdi=%#x rsi=%#x rdx=%#x", r.Rip, r.Rsp, r.Rax, r.Rdi, r.Rsi, r.Rdx)
}

// FPStateSize is the size of the FXSAVE area.
const FPStateSize = 512

// FPState is the saved floating point and vector register block.
type FPState [FPStateSize]byte

// ThreadPointers holds the two segment base registers used for thread-local
// storage.
type ThreadPointers struct {
	// FS is the user thread pointer.
	FS uint64

	// GS is the kernel thread pointer.
	GS uint64
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the C type name and
// they convert to the closest Go type available.
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [6]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit signed integer argument.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer argument.
func (a SyscallArgument) Uint64() uint64 {
	return uint64(a.Value)
}

// SizeT returns a uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(a.Value)
}

// ModeT returns an int representation of a mode_t argument.
func (a SyscallArgument) ModeT() uint {
	return uint(uint16(a.Value))
}
