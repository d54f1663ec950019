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

// Package mm provides the address space manager: page tables plus the
// tracker of anonymous regions (VMAs) layered over them.
package mm

import (
	"fmt"
	"time"

	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/ring0/pagetables"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
	"gvisor.dev/picokern/pkg/sync"
)

var (
	unmapMissing = metric.MustCreateNewUint64Metric("/mm/unmap_missing_pages", "Number of unmaps of pages that were not mapped.")
	corruptVMAs  = metric.MustCreateNewUint64Metric("/mm/corrupt_vmas", "Number of VMA descriptors found corrupted on unmap.")

	// warnings rate-limits diagnostics that misbehaving tasks can trigger at
	// will.
	warnings = log.BasicRateLimitedLogger(time.Second)
)

// Address space layout.
const (
	// UserMmapStart is the lowest address anonymous user regions are
	// placed at.
	UserMmapStart = hostarch.Addr(0x0000_1000_0000)

	// UserMmapEnd is the end of the anonymous user region window.
	UserMmapEnd = hostarch.Addr(0x7000_0000_0000)

	// UserStackTop is the address just above the user stack.
	UserStackTop = hostarch.Addr(0x7fff_ffff_f000)

	// KernelStart is the start of the kernel region window.
	KernelStart = hostarch.Addr(0xffff_8000_0000_0000)

	// KernelEnd is the end of the kernel region window.
	KernelEnd = hostarch.Addr(0xffff_ffff_0000_0000)
)

// MemoryManager implements a virtual address space.
type MemoryManager struct {
	// mem is the physical memory backing this address space. Immutable.
	mem pgalloc.Memory

	// user is true for user address spaces; their mappings carry the user
	// bit. Immutable.
	user bool

	// mu serializes every page table and VMA operation on this address
	// space.
	mu sync.Mutex

	// pt is the page table tree. Protected by mu.
	pt *pagetables.PageTables

	// vmas tracks anonymous regions. The pointer is protected by mu;
	// VMAs methods lock mu themselves.
	vmas *VMAs
}

// NewMemoryManager returns a MemoryManager with an empty page table tree whose
// anonymous regions are placed in window.
func NewMemoryManager(mem pgalloc.Memory, user bool, window hostarch.AddrRange) *MemoryManager {
	mm := &MemoryManager{
		mem:  mem,
		user: user,
		pt:   pagetables.New(pagetables.NewPhysicalAllocator(mem)),
	}
	mm.vmas = newVMAs(mm, window)
	return mm
}

// NewUserMemoryManager returns an address space with the user layout.
func NewUserMemoryManager(mem pgalloc.Memory) *MemoryManager {
	return NewMemoryManager(mem, true, hostarch.AddrRange{Start: UserMmapStart, End: UserMmapEnd})
}

// NewKernelMemoryManager returns the address space shared by kernel tasks.
func NewKernelMemoryManager(mem pgalloc.Memory) *MemoryManager {
	return NewMemoryManager(mem, false, hostarch.AddrRange{Start: KernelStart, End: KernelEnd})
}

// Memory returns the physical memory backing mm.
func (mm *MemoryManager) Memory() pgalloc.Memory {
	return mm.mem
}

// Root returns the physical address of the top-level page table. It panics
// if the address space was released.
func (mm *MemoryManager) Root() hostarch.PhysAddr {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.pt == nil {
		panic("load of a released address space")
	}
	return mm.pt.Root()
}

// TablePages returns the number of frames used by the page tables.
func (mm *MemoryManager) TablePages() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.Tables()
}

// VMAs returns the anonymous region tracker.
func (mm *MemoryManager) VMAs() *VMAs {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.vmas
}

func (mm *MemoryManager) opts(at hostarch.AccessType) pagetables.MapOpts {
	return pagetables.MapOpts{AccessType: at, User: mm.user}
}

// Map maps [addr, addr+length) to the physical range starting at physical.
func (mm *MemoryManager) Map(addr hostarch.Addr, length uint64, physical hostarch.PhysAddr, at hostarch.AccessType) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.mapLocked(addr, length, physical, at)
}

func (mm *MemoryManager) mapLocked(addr hostarch.Addr, length uint64, physical hostarch.PhysAddr, at hostarch.AccessType) {
	if mm.pt.Map(addr, length, mm.opts(at), physical) {
		log.Debugf("mm: remapped live pages in %v+%#x", addr, length)
	}
}

// Unmap removes the mappings in [addr, addr+length). Pages that are not
// mapped are tolerated with a warning. Physical frames are not freed.
func (mm *MemoryManager) Unmap(addr hostarch.Addr, length uint64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.unmapLocked(addr, length)
}

func (mm *MemoryManager) unmapLocked(addr hostarch.Addr, length uint64) {
	pages := length / hostarch.PageSize
	if n := mm.pt.Unmap(addr, length); n != pages {
		unmapMissing.IncrementBy(pages - n)
		warnings.Warningf("mm: unmap of %d non-present pages in %v+%#x", pages-n, addr, length)
	}
}

// Translate returns the physical address and permissions of addr.
func (mm *MemoryManager) Translate(addr hostarch.Addr) (hostarch.PhysAddr, hostarch.AccessType, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.translateLocked(addr)
}

func (mm *MemoryManager) translateLocked(addr hostarch.Addr) (hostarch.PhysAddr, hostarch.AccessType, bool) {
	phys, opts, ok := mm.pt.Lookup(addr)
	if !ok {
		return 0, hostarch.NoAccess, false
	}
	return phys, opts.AccessType, true
}

// Mappings returns every present page mapping in address order.
func (mm *MemoryManager) Mappings() []pagetables.Mapping {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var ms []pagetables.Mapping
	mm.pt.ForEach(func(m pagetables.Mapping) { ms = append(ms, m) })
	return ms
}

// MapAnonymous allocates pages fresh frames one at a time and maps them at
// addr. Every page in the range must be unmapped.
func (mm *MemoryManager) MapAnonymous(addr hostarch.Addr, pages uint64, at hostarch.AccessType) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for i := uint64(0); i < pages; i++ {
		if _, _, ok := mm.translateLocked(addr + hostarch.Addr(i*hostarch.PageSize)); ok {
			return fmt.Errorf("page %v already mapped", addr+hostarch.Addr(i*hostarch.PageSize))
		}
	}
	for i := uint64(0); i < pages; i++ {
		mm.mapLocked(addr+hostarch.Addr(i*hostarch.PageSize), hostarch.PageSize, mm.mem.Allocate(1), at)
	}
	return nil
}

// UnmapAndFree unmaps [addr, addr+pages) and frees the frame behind every
// page that was mapped, resolving each through the page tables first. It
// returns the number of frames freed.
func (mm *MemoryManager) UnmapAndFree(addr hostarch.Addr, pages uint64) uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var freed uint64
	for i := uint64(0); i < pages; i++ {
		v := addr + hostarch.Addr(i*hostarch.PageSize)
		phys, _, ok := mm.translateLocked(v)
		if !ok {
			unmapMissing.Increment()
			warnings.Warningf("mm: release of non-present page %v", v)
			continue
		}
		mm.pt.Unmap(v, hostarch.PageSize)
		mm.mem.Free(phys, 1)
		freed++
	}
	return freed
}

// Protect changes the permissions of the mapped pages in [addr, addr+pages).
func (mm *MemoryManager) Protect(addr hostarch.Addr, pages uint64, at hostarch.AccessType) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for i := uint64(0); i < pages; i++ {
		v := addr + hostarch.Addr(i*hostarch.PageSize)
		if phys, _, ok := mm.translateLocked(v); ok {
			mm.mapLocked(v, hostarch.PageSize, phys, at)
		}
	}
}

// CloneRange copies every mapped page of [addr, addr+pages) into fresh
// frames mapped at the same addresses and with the same permissions in dst.
func (mm *MemoryManager) CloneRange(dst *MemoryManager, addr hostarch.Addr, pages uint64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	for i := uint64(0); i < pages; i++ {
		v := addr + hostarch.Addr(i*hostarch.PageSize)
		phys, at, ok := mm.translateLocked(v)
		if !ok {
			continue
		}
		frame := dst.mem.Allocate(1)
		pgalloc.CopyPage(dst.mem, frame, phys)
		dst.mapLocked(v, hostarch.PageSize, frame, at)
	}
}

// ResetVMAs releases every anonymous region and installs an empty tracker.
func (mm *MemoryManager) ResetVMAs() {
	mm.VMAs().ReleaseAll()
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.vmas = newVMAs(mm, mm.vmas.window)
}

// Release frees every anonymous region and the page tables. Frames mapped
// outside the VMA tracker must have been freed by the caller.
func (mm *MemoryManager) Release() {
	mm.VMAs().ReleaseAll()
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.pt == nil {
		panic("double release of an address space")
	}
	mm.pt.Release()
	mm.pt = nil
}
