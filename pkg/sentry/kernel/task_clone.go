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
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/arch"
)

// Fork creates a copy of t resuming from frame, the trap frame of t's fork
// call. The child gets fresh copies of t's stacks, sections and regions,
// copies of its descriptor and handler tables, and returns 0 from the call.
// The child may be placed on another CPU.
//
// Preconditions: t is running on its CPU.
func (t *Task) Fork(frame *arch.Registers) (*Task, error) {
	if !t.user {
		return nil, linuxerr.EINVAL
	}
	k := t.k
	child, err := k.newTask(taskOptions{name: t.Name(), user: true})
	if err != nil {
		return nil, err
	}

	// Stacks are copied byte for byte into the child's own frames.
	ustack := make([]byte, k.userStackPages*hostarch.PageSize)
	if _, err := t.mm.CopyIn(t.ustack, ustack); err != nil {
		k.Panicf("reading user stack of task %d: %v", t.pid, err)
	}
	if _, err := child.mm.CopyOut(child.ustack, ustack); err != nil {
		k.Panicf("writing user stack of task %d: %v", child.pid, err)
	}
	kstack := make([]byte, k.kernelStackPages*hostarch.PageSize)
	if _, err := k.kmm.CopyIn(t.kstack, kstack); err != nil {
		k.Panicf("reading kernel stack of task %d: %v", t.pid, err)
	}
	if _, err := k.kmm.CopyOut(child.kstack, kstack); err != nil {
		k.Panicf("writing kernel stack of task %d: %v", child.pid, err)
	}

	t.mu.Lock()
	sections := append([]Section(nil), t.sections...)
	image := t.image
	brk := t.brk
	t.mu.Unlock()
	for _, s := range sections {
		t.mm.CloneRange(child.mm, s.Start, s.Pages)
	}
	t.mm.VMAs().CloneInto(child.mm)

	child.mu.Lock()
	child.sections = sections
	child.image = image
	child.brk = brk
	child.mu.Unlock()

	child.fds = t.fds.Fork()
	child.handlers = t.copyHandlers()
	child.regs = *frame
	child.regs.Rax = 0
	child.regs.Rip = frame.Rcx
	child.fp = t.cpu.fp
	child.tp = t.cpu.tp
	child.uc = &UserContext{t: child}

	k.familyMu.Lock()
	if !t.killed.Load() {
		child.parent = t
		t.children[child] = struct{}{}
	}
	k.familyMu.Unlock()

	child.start(child.runUser)
	child.cpu.enqueue(child)
	t.Debugf("forked %d onto cpu %d", child.pid, child.cpu.id)
	return child, nil
}
