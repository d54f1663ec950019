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
	"path"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/loader"
	"gvisor.dev/picokern/pkg/sentry/mm"
)

// Execve replaces t's image with the executable at filename. Non-ELF files
// run under their #! interpreter or the kernel's default interpreter.
//
// Errors found before the old image is torn down leave t unchanged. Later
// failures kill t with SIGSEGV.
func (t *Task) Execve(filename string, argv, envp []string) error {
	if !t.user {
		return linuxerr.EINVAL
	}
	k := t.k
	img, resolved, argv, err := loader.Load(t, k.vfs, loader.LoadArgs{
		Filename:           filename,
		Argv:               argv,
		DefaultInterpreter: k.interpreter,
	})
	if err != nil {
		return err
	}
	prog := k.Program(img.Program)
	if prog == nil {
		t.Infof("%s: program %q is not registered", resolved, img.Program)
		return linuxerr.ENOEXEC
	}
	return t.loadImage(img, prog, path.Base(resolved), argv, envp)
}

// stackNeeded returns the bytes arch.Stack.Load uses for argv and envp.
func stackNeeded(argv, envp []string) uint64 {
	n := uint64(len(argv)+len(envp)+3) * arch.Width
	for _, s := range argv {
		n += uint64(len(s)) + 1
	}
	for _, s := range envp {
		n += uint64(len(s)) + 1
	}
	// Alignment padding.
	return n + 32
}

// loadImage installs img in t: it renames t, releases the old sections and
// regions, maps every segment as a new section and rebuilds the stack. t is
// left Fresh so that its next slot starts at the entry point.
func (t *Task) loadImage(img *loader.Image, prog *Program, name string, argv, envp []string) error {
	k := t.k
	if len(img.Segments) > MaxSections {
		return linuxerr.ENOMEM
	}
	if stackNeeded(argv, envp) > k.userStackPages*hostarch.PageSize {
		return linuxerr.E2BIG
	}

	// Point of no return.
	if err := t.setName(name); err != nil {
		return t.execFailed(err)
	}
	t.mu.Lock()
	old := t.sections
	t.sections = nil
	t.mu.Unlock()
	for _, s := range old {
		t.mm.UnmapAndFree(s.Start, s.Pages)
	}
	t.mm.ResetVMAs()

	var sections []Section
	for _, seg := range img.Segments {
		pages := hostarch.PagesFor(seg.Memsz)
		if err := t.mm.MapAnonymous(seg.Vaddr, pages, hostarch.ReadWrite); err != nil {
			t.Infof("mapping segment at %v: %v", seg.Vaddr, err)
			t.recordSections(sections)
			return t.execFailed(linuxerr.ENOEXEC)
		}
		sections = append(sections, Section{Start: seg.Vaddr, Pages: pages})
		if _, err := t.mm.CopyOut(seg.Vaddr, seg.Data); err != nil {
			t.recordSections(sections)
			return t.execFailed(err)
		}
		rest := int(pages*hostarch.PageSize) - len(seg.Data)
		if _, err := t.mm.ZeroOut(seg.Vaddr+hostarch.Addr(len(seg.Data)), rest); err != nil {
			t.recordSections(sections)
			return t.execFailed(err)
		}
		if seg.Perms != hostarch.ReadWrite {
			t.mm.Protect(seg.Vaddr, pages, seg.Perms)
		}
	}
	t.recordSections(sections)

	if _, err := t.mm.ZeroOut(t.ustack, int(k.userStackPages*hostarch.PageSize)); err != nil {
		return t.execFailed(err)
	}
	st := arch.Stack{IO: t.mm, Bottom: mm.UserStackTop, Limit: t.ustack}
	layout, err := st.Load(argv, envp)
	if err != nil {
		return t.execFailed(err)
	}

	c := t.cpu
	c.mu.Lock()
	if t.state != TaskKilled {
		t.state = TaskFresh
	}
	t.regs = arch.Registers{
		Rip: uint64(img.Entry),
		Rsp: uint64(layout.SP),
		Rdi: layout.Argc,
		Rsi: uint64(layout.Argv),
		Rdx: uint64(layout.Envp),
	}
	t.fp = arch.FPState{}
	t.tp = arch.ThreadPointers{}
	c.mu.Unlock()

	t.mu.Lock()
	t.image = prog
	if len(sections) > 0 {
		t.brk = sections[len(sections)-1].End()
	}
	t.mu.Unlock()

	if t.uc != nil {
		t.uc.invalid = true
	}
	t.uc = &UserContext{t: t}
	t.Debugf("loaded %s: entry %v, %d sections", prog.Name, img.Entry, len(sections))
	return nil
}

func (t *Task) recordSections(sections []Section) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sections = sections
}

// execFailed kills t after its old image was destroyed.
func (t *Task) execFailed(err error) error {
	t.Warningf("exec failed after the old image was released: %v", err)
	t.k.Kill(t, linux.WaitStatusSignal(linux.SIGSEGV))
	return err
}
