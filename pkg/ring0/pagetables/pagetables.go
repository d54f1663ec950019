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

// Package pagetables provides a generic implementation of four-level x86-64
// style page tables. Every table occupies one physical frame obtained from an
// Allocator and holds 512 little-endian entries.
package pagetables

import (
	"fmt"

	"gvisor.dev/picokern/pkg/hostarch"
)

// flushTLBEntryFn flushes the translation cache entry for a virtual address.
// It is a variable so tests can observe flushes.
var flushTLBEntryFn = func(hostarch.Addr) {}

// PageTables is a page table tree rooted at a single top-level table.
//
// PageTables is not safe for concurrent use; callers serialize access.
type PageTables struct {
	// Allocator is used to allocate and address tables.
	Allocator Allocator

	// root is the physical address of the top-level table.
	root hostarch.PhysAddr

	// tables is the number of tables currently allocated, root included.
	tables uint64
}

// New returns new PageTables with a freshly allocated root.
func New(a Allocator) *PageTables {
	p := &PageTables{Allocator: a}
	p.root = a.NewPTEs()
	p.tables = 1
	return p
}

// Root returns the physical address of the top-level table. It is the value
// a CPU loads to switch to this address space.
func (p *PageTables) Root() hostarch.PhysAddr {
	return p.root
}

// Tables returns the number of table frames in use.
func (p *PageTables) Tables() uint64 {
	return p.tables
}

// path walks from the root to the leaf table covering addr and returns the
// table at each level, root first. Absent intermediate tables are allocated
// if alloc is set; otherwise ok is false when one is missing.
func (p *PageTables) path(addr hostarch.Addr, alloc bool) (tables [levels]hostarch.PhysAddr, ok bool) {
	tables[0] = p.root
	for level := 0; level < levels-1; level++ {
		entries := p.Allocator.LookupPTEs(tables[level])
		index := indexAt(addr, level)
		entry := entries.Get(index)
		if !entry.Valid() {
			if !alloc {
				return tables, false
			}
			next := p.Allocator.NewPTEs()
			p.tables++
			// Intermediate levels carry write and user so that the leaf
			// permissions alone decide access.
			entry = makeTableEntry(next)
			entries.Set(index, entry)
		}
		tables[level+1] = entry.Address()
	}
	return tables, true
}

// Map installs a mapping for [addr, addr+length) to physical. addr, length
// and physical must be page aligned. Existing mappings are replaced.
//
// It returns true if any existing mapping was replaced.
func (p *PageTables) Map(addr hostarch.Addr, length uint64, opts MapOpts, physical hostarch.PhysAddr) bool {
	checkAligned(addr, length)
	if !physical.IsPageAligned() {
		panic(fmt.Sprintf("physical address %v not page aligned", physical))
	}
	replaced := false
	for off := uint64(0); off < length; off += hostarch.PageSize {
		v := addr + hostarch.Addr(off)
		tables, _ := p.path(v, true)
		entries := p.Allocator.LookupPTEs(tables[levels-1])
		index := indexAt(v, levels-1)
		if entries.Get(index).Valid() {
			replaced = true
			flushTLBEntryFn(v)
		}
		entries.Set(index, makeLeaf(physical+hostarch.PhysAddr(off), opts))
	}
	return replaced
}

// Unmap removes the mappings in [addr, addr+length). Pages that are not
// mapped are skipped. A table left without any present entry is freed, the
// root excepted.
//
// It returns the number of pages that were actually unmapped.
func (p *PageTables) Unmap(addr hostarch.Addr, length uint64) uint64 {
	checkAligned(addr, length)
	var unmapped uint64
	for off := uint64(0); off < length; off += hostarch.PageSize {
		v := addr + hostarch.Addr(off)
		tables, ok := p.path(v, false)
		if !ok {
			continue
		}
		leaf := p.Allocator.LookupPTEs(tables[levels-1])
		index := indexAt(v, levels-1)
		if !leaf.Get(index).Valid() {
			continue
		}
		leaf.Set(index, 0)
		flushTLBEntryFn(v)
		unmapped++

		// Free tables from the bottom up while they are empty.
		for level := levels - 1; level > 0; level-- {
			if p.Allocator.LookupPTEs(tables[level]).ClearEntries() != entriesPerPage {
				break
			}
			p.Allocator.LookupPTEs(tables[level-1]).Set(indexAt(v, level-1), 0)
			p.Allocator.FreePTEs(tables[level])
			p.tables--
		}
	}
	return unmapped
}

// Lookup returns the physical address and options of the mapping for addr.
func (p *PageTables) Lookup(addr hostarch.Addr) (physical hostarch.PhysAddr, opts MapOpts, ok bool) {
	tables, ok := p.path(addr.RoundDown(), false)
	if !ok {
		return 0, MapOpts{}, false
	}
	entry := p.Allocator.LookupPTEs(tables[levels-1]).Get(indexAt(addr, levels-1))
	if !entry.Valid() {
		return 0, MapOpts{}, false
	}
	return entry.Address() + hostarch.PhysAddr(addr.PageOffset()), entry.Opts(), true
}

// Mapping is one present leaf entry.
type Mapping struct {
	Addr     hostarch.Addr
	Physical hostarch.PhysAddr
	Opts     MapOpts
}

// ForEach calls fn for every present leaf entry in address order.
func (p *PageTables) ForEach(fn func(m Mapping)) {
	p.forEach(p.root, 0, 0, fn)
}

func (p *PageTables) forEach(table hostarch.PhysAddr, level int, base hostarch.Addr, fn func(m Mapping)) {
	entries := p.Allocator.LookupPTEs(table)
	for i := 0; i < entriesPerPage; i++ {
		entry := entries.Get(i)
		if !entry.Valid() {
			continue
		}
		addr := canonical(base | hostarch.Addr(i)<<shiftAt(level))
		if level == levels-1 {
			fn(Mapping{Addr: addr, Physical: entry.Address(), Opts: entry.Opts()})
			continue
		}
		p.forEach(entry.Address(), level+1, addr, fn)
	}
}

// Release frees every table, the root included. Leaf frames belong to the
// caller and are not freed. The PageTables must not be used afterwards.
func (p *PageTables) Release() {
	if p.root == 0 {
		panic("release of page tables with a null root")
	}
	p.release(p.root, 0)
	p.root = 0
	p.tables = 0
}

func (p *PageTables) release(table hostarch.PhysAddr, level int) {
	if level < levels-1 {
		entries := p.Allocator.LookupPTEs(table)
		for i := 0; i < entriesPerPage; i++ {
			if entry := entries.Get(i); entry.Valid() {
				p.release(entry.Address(), level+1)
			}
		}
	}
	p.Allocator.FreePTEs(table)
}

func checkAligned(addr hostarch.Addr, length uint64) {
	if !addr.IsPageAligned() || length%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("unaligned range %v+%#x", addr, length))
	}
}
