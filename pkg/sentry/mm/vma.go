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

package mm

import (
	"errors"

	"github.com/google/btree"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
)

// ErrCorruptVMA is returned when a VMA descriptor fails its checksum.
var ErrCorruptVMA = errors.New("corrupted VMA descriptor")

// vmaMagic is mixed into every descriptor checksum.
const vmaMagic = 0x564d41426c6f636b

// btreeDegree is the degree of the region index.
const btreeDegree = 8

// VMA describes one anonymous region backed by a contiguous physical range.
type VMA struct {
	// Start is the virtual base.
	Start hostarch.Addr

	// Pages is the region length in pages.
	Pages uint64

	// Physical is the physical base.
	Physical hostarch.PhysAddr

	// Perms are the mapping permissions.
	Perms hostarch.AccessType

	// checksum covers Physical and Start.
	checksum uint64
}

// End returns the first address after the region.
func (v *VMA) End() hostarch.Addr {
	return v.Start + hostarch.Addr(v.Pages*hostarch.PageSize)
}

// Range returns the region's virtual range.
func (v *VMA) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: v.Start, End: v.End()}
}

func vmaChecksum(phys hostarch.PhysAddr, virt hostarch.Addr) uint64 {
	return uint64(phys)*0x9e3779b97f4a7c15 ^ uint64(virt) ^ vmaMagic
}

func (v *VMA) valid() bool {
	return v.checksum == vmaChecksum(v.Physical, v.Start)
}

func vmaLess(a, b *VMA) bool {
	return a.Start < b.Start
}

// VMAs tracks the anonymous regions of one address space. All methods lock
// the owning MemoryManager.
type VMAs struct {
	// mm is the owning address space. Immutable.
	mm *MemoryManager

	// window bounds region placement. Immutable.
	window hostarch.AddrRange

	// tree indexes regions by start address. Protected by mm.mu.
	tree *btree.BTreeG[*VMA]

	// pages is the total size of all regions. Protected by mm.mu.
	pages uint64
}

func newVMAs(mm *MemoryManager, window hostarch.AddrRange) *VMAs {
	return &VMAs{
		mm:     mm,
		window: window,
		tree:   btree.NewG[*VMA](btreeDegree, vmaLess),
	}
}

// Window returns the placement window.
func (vs *VMAs) Window() hostarch.AddrRange {
	return vs.window
}

// Len returns the number of regions.
func (vs *VMAs) Len() int {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	return vs.tree.Len()
}

// Pages returns the total number of pages in all regions.
func (vs *VMAs) Pages() uint64 {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	return vs.pages
}

// Regions returns a copy of every region in address order.
func (vs *VMAs) Regions() []VMA {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	out := make([]VMA, 0, vs.tree.Len())
	vs.tree.Ascend(func(v *VMA) bool {
		out = append(out, *v)
		return true
	})
	return out
}

// Find returns the region containing addr.
func (vs *VMAs) Find(addr hostarch.Addr) (VMA, bool) {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	var found *VMA
	vs.tree.DescendLessOrEqual(&VMA{Start: addr}, func(v *VMA) bool {
		if v.Range().Contains(addr) {
			found = v
		}
		return false
	})
	if found == nil {
		return VMA{}, false
	}
	return *found, true
}

// isFreeLocked returns true if [start, start+pages) lies in the window,
// overlaps no region and has no page mapped by other means.
//
// Preconditions: vs.mm.mu is locked.
func (vs *VMAs) isFreeLocked(start hostarch.Addr, pages uint64) bool {
	end, ok := start.AddLength(pages * hostarch.PageSize)
	if !ok || start < vs.window.Start || end > vs.window.End {
		return false
	}
	ar := hostarch.AddrRange{Start: start, End: end}
	overlap := false
	vs.tree.DescendLessOrEqual(&VMA{Start: end - 1}, func(v *VMA) bool {
		overlap = v.Range().Overlaps(ar)
		return false
	})
	if overlap {
		return false
	}
	return vs.firstMappedLocked(start, pages) == 0
}

// firstMappedLocked returns the first mapped page in [start, start+pages), or
// zero.
//
// Preconditions: vs.mm.mu is locked.
func (vs *VMAs) firstMappedLocked(start hostarch.Addr, pages uint64) hostarch.Addr {
	for i := uint64(0); i < pages; i++ {
		v := start + hostarch.Addr(i*hostarch.PageSize)
		if _, _, ok := vs.mm.translateLocked(v); ok {
			return v
		}
	}
	return 0
}

// findFreeLocked returns the lowest base in the window where pages fit.
//
// Preconditions: vs.mm.mu is locked.
func (vs *VMAs) findFreeLocked(pages uint64) (hostarch.Addr, bool) {
	length := hostarch.Addr(pages * hostarch.PageSize)
	candidate := vs.window.Start
	for candidate+length > candidate && candidate+length <= vs.window.End {
		// Skip past any region overlapping the candidate range.
		var blocker *VMA
		vs.tree.DescendLessOrEqual(&VMA{Start: candidate + length - 1}, func(v *VMA) bool {
			if v.End() > candidate {
				blocker = v
			}
			return false
		})
		if blocker != nil {
			candidate = blocker.End()
			continue
		}
		if mapped := vs.firstMappedLocked(candidate, pages); mapped != 0 {
			candidate = mapped + hostarch.PageSize
			continue
		}
		return candidate, true
	}
	return 0, false
}

// Allocate creates a region of pages backed by fresh frames, mapped with
// perms. If hint is non-zero and the range at hint is free, the region is
// placed there; if fixed is also set, any other placement is an error.
func (vs *VMAs) Allocate(pages uint64, hint hostarch.Addr, fixed bool, perms hostarch.AccessType) (hostarch.Addr, error) {
	if pages == 0 {
		return 0, linuxerr.EINVAL
	}
	if !hint.IsPageAligned() {
		if fixed {
			return 0, linuxerr.EINVAL
		}
		hint = hint.RoundDown()
	}
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()

	start := hostarch.Addr(0)
	switch {
	case hint != 0 && vs.isFreeLocked(hint, pages):
		start = hint
	case fixed:
		return 0, linuxerr.EINVAL
	default:
		var ok bool
		if start, ok = vs.findFreeLocked(pages); !ok {
			return 0, linuxerr.ENOMEM
		}
	}

	phys := vs.mm.mem.Allocate(pages)
	v := &VMA{
		Start:    start,
		Pages:    pages,
		Physical: phys,
		Perms:    perms,
		checksum: vmaChecksum(phys, start),
	}
	vs.mm.mapLocked(start, pages*hostarch.PageSize, phys, perms)
	vs.tree.ReplaceOrInsert(v)
	vs.pages += pages
	return start, nil
}

// Unmap releases the region starting at addr. A region whose descriptor
// fails its checksum is left in place and ErrCorruptVMA is returned.
func (vs *VMAs) Unmap(addr hostarch.Addr) error {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	v, ok := vs.tree.Get(&VMA{Start: addr})
	if !ok {
		return linuxerr.EINVAL
	}
	if !v.valid() {
		corruptVMAs.Increment()
		log.Warningf("mm: %v at %v (phys %v): checksum %#x, want %#x; not freeing", ErrCorruptVMA, v.Start, v.Physical, v.checksum, vmaChecksum(v.Physical, v.Start))
		return ErrCorruptVMA
	}
	vs.releaseLocked(v)
	return nil
}

// releaseLocked unmaps and frees v and drops it from the index.
//
// Preconditions: vs.mm.mu is locked. v.valid().
func (vs *VMAs) releaseLocked(v *VMA) {
	vs.mm.unmapLocked(v.Start, v.Pages*hostarch.PageSize)
	vs.mm.mem.Free(v.Physical, v.Pages)
	vs.tree.Delete(v)
	vs.pages -= v.Pages
}

// Protect changes the permissions of the whole region starting at addr.
// Clones made afterwards inherit the new permissions.
func (vs *VMAs) Protect(addr hostarch.Addr, perms hostarch.AccessType) error {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	v, ok := vs.tree.Get(&VMA{Start: addr})
	if !ok {
		return linuxerr.EINVAL
	}
	v.Perms = perms
	vs.mm.mapLocked(v.Start, v.Pages*hostarch.PageSize, v.Physical, perms)
	return nil
}

// ReleaseAll releases every region. Corrupted descriptors are reported and
// leaked.
func (vs *VMAs) ReleaseAll() {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	var all []*VMA
	vs.tree.Ascend(func(v *VMA) bool {
		all = append(all, v)
		return true
	})
	for _, v := range all {
		if !v.valid() {
			corruptVMAs.Increment()
			log.Warningf("mm: %v at %v during release; leaking %d pages", ErrCorruptVMA, v.Start, v.Pages)
			vs.tree.Delete(v)
			vs.pages -= v.Pages
			continue
		}
		vs.releaseLocked(v)
	}
}

// CloneInto duplicates every region into dst's tracker, backing each copy
// with fresh frames holding the same content.
func (vs *VMAs) CloneInto(dst *MemoryManager) {
	vs.mm.mu.Lock()
	defer vs.mm.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	vs.tree.Ascend(func(v *VMA) bool {
		phys := dst.mem.Allocate(v.Pages)
		length := v.Pages * hostarch.PageSize
		copy(dst.mem.Bytes(phys, length), vs.mm.mem.Bytes(v.Physical, length))
		dst.mapLocked(v.Start, length, phys, v.Perms)
		dst.vmas.tree.ReplaceOrInsert(&VMA{
			Start:    v.Start,
			Pages:    v.Pages,
			Physical: phys,
			Perms:    v.Perms,
			checksum: vmaChecksum(phys, v.Start),
		})
		dst.vmas.pages += v.Pages
		return true
	})
}
