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

import (
	"errors"
	"io"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// protAccess converts mmap(2) protections. Writable mappings are readable.
func protAccess(prot uint64) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    prot&(linux.PROT_READ|linux.PROT_WRITE) != 0,
		Write:   prot&linux.PROT_WRITE != 0,
		Execute: prot&linux.PROT_EXEC != 0,
	}
}

// Mmap implements linux syscall mmap(2).
//
// Anonymous mappings get fresh zeroed pages. File mappings must be private:
// the file's content is copied into fresh pages at map time.
func Mmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].Uint64()
	prot := args[2].Uint64()
	flags := args[3].Int()
	fd := args[4].Int()
	offset := args[5].Uint64()

	private := flags&linux.MAP_PRIVATE != 0
	shared := flags&linux.MAP_SHARED != 0
	anon := flags&linux.MAP_ANONYMOUS != 0
	fixed := flags&linux.MAP_FIXED != 0

	// An anonymous mapping with neither MAP_PRIVATE nor MAP_SHARED is
	// private. File mappings must name one.
	if private && shared {
		return 0, nil, linuxerr.EINVAL
	}
	if !anon && !private && !shared {
		return 0, nil, linuxerr.EINVAL
	}
	if length == 0 || offset&hostarch.PageMask != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if prot&^(linux.PROT_READ|linux.PROT_WRITE|linux.PROT_EXEC) != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if _, ok := hostarch.Addr(length).RoundUp(); !ok {
		return 0, nil, linuxerr.ENOMEM
	}
	pages := hostarch.PagesFor(length)
	// Physical exhaustion is fatal, so refuse requests that cannot fit.
	if mem := t.Kernel().Memory(); pages > mem.TotalPages()-mem.UsedPages() {
		return 0, nil, linuxerr.ENOMEM
	}

	var data []byte
	if !anon {
		if shared {
			return 0, nil, linuxerr.ENODEV
		}
		file, err := t.FDTable().Get(fd)
		if err != nil {
			return 0, nil, err
		}
		data = make([]byte, pages*hostarch.PageSize)
		for done := 0; done < len(data); {
			n, err := file.Node.Read(t, data[done:], int64(offset)+int64(done))
			done += n
			if n == 0 || errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return 0, nil, err
			}
		}
	}

	mm := t.MemoryManager()
	at := protAccess(prot)
	start, err := mm.VMAs().Allocate(pages, addr, fixed, hostarch.ReadWrite)
	if err != nil {
		return 0, nil, err
	}
	if data != nil {
		if _, err := mm.CopyOut(start, data); err != nil {
			mm.VMAs().Unmap(start)
			return 0, nil, err
		}
	}
	if at != hostarch.ReadWrite {
		mm.VMAs().Protect(start, at)
	}
	t.Debugf("mmap %d pages at %v (%v)", pages, start, at)
	return uintptr(start), nil, nil
}

// Munmap implements linux syscall munmap(2). addr must be the start of a
// region created by mmap; the whole region is released.
func Munmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	if !addr.IsPageAligned() {
		return 0, nil, linuxerr.EINVAL
	}
	return 0, nil, t.MemoryManager().VMAs().Unmap(addr)
}

// Brk implements linux syscall brk(2).
func Brk(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.Brk(args[0].Pointer())), nil, nil
}
