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

// Package heap implements the per-task heap. Block headers live in simulated
// memory directly before each allocation and are chained into one circular
// list per chunk; chunks are anonymous regions of the kernel address space.
package heap

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/sentry/mm"
	"gvisor.dev/picokern/pkg/sync"
)

const (
	// Magic tags every block header.
	Magic = 0x48454150

	// HeaderSize is the size of a block header.
	HeaderSize = 32

	// Alignment is the granularity of allocation sizes.
	Alignment = 16

	// minChunkPages is the smallest chunk requested from the address space.
	minChunkPages = 4

	// minSplit is the smallest remainder worth splitting off a free block.
	minSplit = HeaderSize + Alignment
)

const flagFree = 1

var (
	allocations = metric.MustCreateNewUint64Metric("/heap/allocations", "Number of heap allocations.")
	corruptions = metric.MustCreateNewUint64Metric("/heap/corruptions", "Number of heap block headers found corrupted.")
)

// FatalFunc reports an unrecoverable heap corruption. It must not return.
type FatalFunc func(format string, v ...any)

func defaultFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	log.Warningf("%s", msg)
	panic(msg)
}

// header is the decoded form of a block header.
type header struct {
	magic uint32
	flags uint32
	size  uint64
	prev  hostarch.Addr
	next  hostarch.Addr
}

func (h *header) free() bool {
	return h.flags&flagFree != 0
}

type chunk struct {
	base  hostarch.Addr
	pages uint64
}

func (c chunk) end() hostarch.Addr {
	return c.base + hostarch.Addr(c.pages*hostarch.PageSize)
}

// whole is the payload size of a block spanning the entire chunk.
func (c chunk) whole() uint64 {
	return c.pages*hostarch.PageSize - HeaderSize
}

// Heap is a first-fit allocator with coalescing.
type Heap struct {
	// name identifies the owner in diagnostics. Immutable.
	name string

	// mm is the address space chunks are allocated from. Immutable.
	mm *mm.MemoryManager

	// fatal is called on corruption. Immutable.
	fatal FatalFunc

	mu sync.Mutex

	// chunks is every chunk, in allocation order. Protected by mu.
	chunks []chunk

	// used is the payload bytes of live blocks. Protected by mu.
	used uint64
}

// New returns an empty heap drawing chunks from as. If fatal is nil, a
// corruption logs and panics.
func New(name string, as *mm.MemoryManager, fatal FatalFunc) *Heap {
	if fatal == nil {
		fatal = defaultFatal
	}
	return &Heap{name: name, mm: as, fatal: fatal}
}

func (h *Heap) readHeader(addr hostarch.Addr) header {
	var buf [HeaderSize]byte
	if _, err := h.mm.CopyIn(addr, buf[:]); err != nil {
		h.fatal("heap %s: header at %v unreadable: %v", h.name, addr, err)
	}
	return header{
		magic: binary.LittleEndian.Uint32(buf[0:]),
		flags: binary.LittleEndian.Uint32(buf[4:]),
		size:  binary.LittleEndian.Uint64(buf[8:]),
		prev:  hostarch.Addr(binary.LittleEndian.Uint64(buf[16:])),
		next:  hostarch.Addr(binary.LittleEndian.Uint64(buf[24:])),
	}
}

func (h *Heap) writeHeader(addr hostarch.Addr, hd header) {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:], hd.magic)
	binary.LittleEndian.PutUint32(buf[4:], hd.flags)
	binary.LittleEndian.PutUint64(buf[8:], hd.size)
	binary.LittleEndian.PutUint64(buf[16:], uint64(hd.prev))
	binary.LittleEndian.PutUint64(buf[24:], uint64(hd.next))
	if _, err := h.mm.CopyOut(addr, buf[:]); err != nil {
		h.fatal("heap %s: header at %v unwritable: %v", h.name, addr, err)
	}
}

func (h *Heap) setNext(addr, next hostarch.Addr) {
	hd := h.readHeader(addr)
	hd.next = next
	h.writeHeader(addr, hd)
}

func (h *Heap) setPrev(addr, prev hostarch.Addr) {
	hd := h.readHeader(addr)
	hd.prev = prev
	h.writeHeader(addr, hd)
}

func roundUp(n uint64) uint64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Alloc returns a block of at least n bytes. The payload is zeroed.
func (h *Heap) Alloc(n int) (*Block, error) {
	if n <= 0 {
		n = 1
	}
	size := roundUp(uint64(n))
	h.mu.Lock()
	defer h.mu.Unlock()

	addr, ok := h.findLocked(size)
	if !ok {
		c, err := h.growLocked(size)
		if err != nil {
			return nil, err
		}
		addr = c.base
	}
	h.takeLocked(addr, size)
	if _, err := h.mm.ZeroOut(addr+HeaderSize, int(size)); err != nil {
		h.fatal("heap %s: block at %v unwritable: %v", h.name, addr, err)
	}
	h.used += size
	allocations.Increment()
	return &Block{heap: h, addr: addr + HeaderSize, len: n}, nil
}

// findLocked returns the first free block with room for size bytes.
//
// Preconditions: h.mu is locked.
func (h *Heap) findLocked(size uint64) (hostarch.Addr, bool) {
	for _, c := range h.chunks {
		addr := c.base
		for {
			hd := h.readHeader(addr)
			if hd.magic != Magic {
				h.corruptLocked(addr, hd)
			}
			if hd.free() && hd.size >= size {
				return addr, true
			}
			if addr = hd.next; addr == c.base {
				break
			}
		}
	}
	return 0, false
}

// growLocked adds a chunk with room for size bytes, holding one free block.
//
// Preconditions: h.mu is locked.
func (h *Heap) growLocked(size uint64) (chunk, error) {
	pages := max(hostarch.PagesFor(size+HeaderSize), minChunkPages)
	base, err := h.mm.VMAs().Allocate(pages, 0, false, hostarch.ReadWrite)
	if err != nil {
		return chunk{}, fmt.Errorf("heap %s: growing by %d pages: %w", h.name, pages, err)
	}
	c := chunk{base: base, pages: pages}
	h.writeHeader(base, header{magic: Magic, flags: flagFree, size: c.whole(), prev: base, next: base})
	h.chunks = append(h.chunks, c)
	return c, nil
}

// takeLocked marks the free block at addr used, splitting off the tail if it
// is large enough to hold another block.
//
// Preconditions: h.mu is locked.
func (h *Heap) takeLocked(addr hostarch.Addr, size uint64) {
	hd := h.readHeader(addr)
	if hd.size-size >= minSplit {
		rest := addr + HeaderSize + hostarch.Addr(size)
		h.writeHeader(rest, header{magic: Magic, flags: flagFree, size: hd.size - size - HeaderSize, prev: addr, next: hd.next})
		if hd.next == addr {
			hd.prev = rest
		} else {
			h.setPrev(hd.next, rest)
		}
		hd.next = rest
		hd.size = size
	}
	hd.flags &^= flagFree
	h.writeHeader(addr, hd)
}

func (h *Heap) corruptLocked(addr hostarch.Addr, hd header) {
	corruptions.Increment()
	h.fatal("heap %s: corrupted block at %v: magic %#x, want %#x", h.name, addr, hd.magic, Magic)
}

func (h *Heap) chunkOfLocked(addr hostarch.Addr) (int, bool) {
	for i, c := range h.chunks {
		if addr >= c.base && addr < c.end() {
			return i, true
		}
	}
	return 0, false
}

// Free releases the block whose payload starts at addr. A bad magic tag or a
// block that is already free is a fatal corruption.
func (h *Heap) Free(addr hostarch.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()

	at := addr - HeaderSize
	ci, ok := h.chunkOfLocked(at)
	if !ok {
		h.fatal("heap %s: free of foreign address %v", h.name, addr)
		return
	}
	hd := h.readHeader(at)
	if hd.magic != Magic {
		h.corruptLocked(at, hd)
		return
	}
	if hd.free() {
		corruptions.Increment()
		h.fatal("heap %s: double free of %v", h.name, addr)
		return
	}
	h.used -= hd.size
	hd.flags |= flagFree
	h.writeHeader(at, hd)

	c := h.chunks[ci]
	// Merge with the physically following block.
	if hd.next != c.base {
		if next := h.readHeader(hd.next); next.magic == Magic && next.free() {
			h.absorbLocked(at, hd.next)
		}
	}
	// Merge into the physically preceding block.
	hd = h.readHeader(at)
	if at != c.base {
		if prev := h.readHeader(hd.prev); prev.magic == Magic && prev.free() {
			h.absorbLocked(hd.prev, at)
			at = hd.prev
		}
	}

	if hd = h.readHeader(at); at == c.base && hd.size == c.whole() {
		h.chunks = append(h.chunks[:ci], h.chunks[ci+1:]...)
		if err := h.mm.VMAs().Unmap(c.base); err != nil {
			log.Warningf("heap %s: returning chunk %v: %v", h.name, c.base, err)
		}
	}
}

// absorbLocked merges block b into the block a directly before it.
//
// Preconditions: h.mu is locked. Both blocks are free and adjacent.
func (h *Heap) absorbLocked(a, b hostarch.Addr) {
	ha := h.readHeader(a)
	hb := h.readHeader(b)
	ha.size += HeaderSize + hb.size
	ha.next = hb.next
	if hb.next == a {
		ha.prev = a
	} else {
		h.setPrev(hb.next, a)
	}
	h.writeHeader(a, ha)
	// Scrub the absorbed header so a stale handle to it fails the tag check.
	h.writeHeader(b, header{})
}

// Used returns the payload bytes of live blocks.
func (h *Heap) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Pages returns the number of pages held by the heap.
func (h *Heap) Pages() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n uint64
	for _, c := range h.chunks {
		n += c.pages
	}
	return n
}

// Release returns every chunk to the address space, live blocks included.
func (h *Heap) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.chunks {
		if err := h.mm.VMAs().Unmap(c.base); err != nil {
			log.Warningf("heap %s: releasing chunk %v: %v", h.name, c.base, err)
		}
	}
	h.chunks = nil
	h.used = 0
}
