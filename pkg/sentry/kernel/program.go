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
	"encoding/binary"
	"fmt"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/loader"
)

// User text is a simulated instruction set. Each text word holds the
// 1-based index of an Instruction in the running Program; word 0 is an
// illegal instruction.
const (
	// InstructionSize is the size of one text word.
	InstructionSize = 4

	// UserTextBase is where program text is loaded and where execution
	// starts.
	UserTextBase = hostarch.Addr(0x40_0000)

	// UserDataBase is where program data is loaded.
	UserDataBase = hostarch.Addr(0x60_0000)

	maxInstructions = int(UserDataBase-UserTextBase) / InstructionSize
)

// Instruction is one simulated user instruction.
type Instruction func(uc *UserContext)

// Program is a registered user program.
type Program struct {
	// Name identifies the program in the registry and in its ELF note.
	Name string

	// Text is the instruction sequence, loaded at UserTextBase.
	Text []Instruction

	// Data is the initialized data, loaded at UserDataBase.
	Data []byte

	// BSS is the number of zero bytes following Data.
	BSS uint64
}

// Addr returns the address of instruction i.
func Addr(i int) hostarch.Addr {
	return UserTextBase + hostarch.Addr(i*InstructionSize)
}

func (p *Program) segments() ([]loader.Segment, error) {
	if len(p.Text) == 0 || len(p.Text) > maxInstructions {
		return nil, fmt.Errorf("program %q: %d instructions, want 1 to %d", p.Name, len(p.Text), maxInstructions)
	}
	text := make([]byte, len(p.Text)*InstructionSize)
	for i := range p.Text {
		binary.LittleEndian.PutUint32(text[i*InstructionSize:], uint32(i+1))
	}
	segs := []loader.Segment{{
		Vaddr: UserTextBase,
		Data:  text,
		Memsz: uint64(len(text)),
		Perms: hostarch.ReadExec,
	}}
	if len(p.Data) > 0 || p.BSS > 0 {
		segs = append(segs, loader.Segment{
			Vaddr: UserDataBase,
			Data:  p.Data,
			Memsz: uint64(len(p.Data)) + p.BSS,
			Perms: hostarch.ReadWrite,
		})
	}
	return segs, nil
}

// image returns p's loaded form.
func (p *Program) image() (*loader.Image, error) {
	segs, err := p.segments()
	if err != nil {
		return nil, err
	}
	return &loader.Image{Entry: UserTextBase, Segments: segs, Program: p.Name}, nil
}

// ELF returns an executable file for p.
func (p *Program) ELF() ([]byte, error) {
	segs, err := p.segments()
	if err != nil {
		return nil, err
	}
	return loader.BuildELF(p.Name, UserTextBase, segs)
}

// RegisterProgram adds p to the program registry.
func (k *Kernel) RegisterProgram(p *Program) error {
	if _, err := p.segments(); err != nil {
		return err
	}
	k.programsMu.Lock()
	defer k.programsMu.Unlock()
	if _, ok := k.programs[p.Name]; ok {
		return linuxerr.EEXIST
	}
	k.programs[p.Name] = p
	return nil
}

// Program returns the registered program with the given name, or nil.
func (k *Kernel) Program(name string) *Program {
	k.programsMu.RLock()
	defer k.programsMu.RUnlock()
	return k.programs[name]
}

// UserContext is the view an Instruction has of its task: the live
// registers, memory and the syscall instruction. A context is invalidated
// when execve replaces the image; the rest of the instruction then runs
// against scratch state and its syscalls fail.
type UserContext struct {
	t *Task

	// ip is the address of the executing instruction.
	ip hostarch.Addr

	// next is the address execution continues at.
	next hostarch.Addr

	invalid bool
	scratch arch.Registers
}

// Task returns the task the context belongs to.
func (uc *UserContext) Task() *Task {
	return uc.t
}

// Regs returns the live registers.
func (uc *UserContext) Regs() *arch.Registers {
	if uc.invalid {
		return &uc.scratch
	}
	return &uc.t.cpu.regs
}

// FP returns the live floating point state.
func (uc *UserContext) FP() *arch.FPState {
	return &uc.t.cpu.fp
}

// IP returns the address of the executing instruction.
func (uc *UserContext) IP() hostarch.Addr {
	return uc.ip
}

// Jump continues execution at addr instead of the next instruction.
func (uc *UserContext) Jump(addr hostarch.Addr) {
	uc.next = addr
}

// Goto continues execution at instruction i.
func (uc *UserContext) Goto(i int) {
	uc.next = Addr(i)
}

// Syscall issues a system call and returns its raw result: a value, or a
// negated errno.
func (uc *UserContext) Syscall(sysno uintptr, args ...uintptr) uintptr {
	if uc.invalid || len(args) > len(arch.SyscallArguments{}) {
		return errnoReturn(linuxerr.EINVAL)
	}
	regs := &uc.t.cpu.regs
	regs.SetSyscallArgs(sysno, args...)
	regs.Rcx = uint64(uc.next)
	return uc.t.doSyscall(uc)
}

// fault kills the task for a bad memory access.
func (uc *UserContext) fault(addr hostarch.Addr, err error) {
	uc.t.Infof("memory fault at %v (ip %v): %v", addr, uc.ip, err)
	uc.t.Kill(uc.t, linux.WaitStatusSignal(linux.SIGSEGV))
}

// Load reads len(dst) bytes at addr. A fault kills the task.
func (uc *UserContext) Load(addr hostarch.Addr, dst []byte) {
	if _, err := uc.t.mm.CopyIn(addr, dst); err != nil {
		uc.fault(addr, err)
	}
}

// Store writes src at addr. A fault kills the task.
func (uc *UserContext) Store(addr hostarch.Addr, src []byte) {
	if uc.invalid {
		return
	}
	if _, err := uc.t.mm.CopyOut(addr, src); err != nil {
		uc.fault(addr, err)
	}
}

// LoadUint64 reads one word at addr.
func (uc *UserContext) LoadUint64(addr hostarch.Addr) uint64 {
	var b [8]byte
	uc.Load(addr, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// StoreUint64 writes one word at addr.
func (uc *UserContext) StoreUint64(addr hostarch.Addr, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	uc.Store(addr, b[:])
}

// LoadString reads a NUL-terminated string of at most maxlen bytes.
func (uc *UserContext) LoadString(addr hostarch.Addr, maxlen int) string {
	s, err := uc.t.mm.CopyInString(addr, maxlen)
	if err != nil {
		uc.fault(addr, err)
	}
	return s
}

// fetch returns the instruction at ip. A fetch fault or an illegal
// instruction kills the task.
func (t *Task) fetch(ip hostarch.Addr) Instruction {
	word, err := t.mm.Fetch(ip)
	if err != nil {
		t.Infof("instruction fetch fault at %v: %v", ip, err)
		t.Kill(t, linux.WaitStatusSignal(linux.SIGSEGV))
	}
	prog := t.Image()
	if word == 0 || prog == nil || int(word) > len(prog.Text) {
		t.Infof("illegal instruction %#x at %v", word, ip)
		t.Kill(t, linux.WaitStatusSignal(linux.SIGILL))
	}
	return prog.Text[word-1]
}

// runUser is the body of a user task goroutine.
func (t *Task) runUser() {
	c := t.cpu
	for {
		uc := t.uc
		ip := hostarch.Addr(c.regs.Rip)
		ins := t.fetch(ip)
		uc.ip = ip
		uc.next = ip + InstructionSize
		ins(uc)
		if uc.invalid {
			// execve replaced the image; let the CPU load the new context.
			t.switchOut(trapYield)
			continue
		}
		c.regs.Rip = uint64(uc.next)
		if t.killed.Load() {
			t.exitKilled()
		}
		if c.tick() {
			t.switchOut(trapPreempt)
		}
	}
}
