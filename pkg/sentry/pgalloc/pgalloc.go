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

// Package pgalloc contains the physical page allocator. It is the simulated
// machine's RAM: a contiguous range of frames starting at Base, tracked by a
// bitmap.
package pgalloc

import (
	"fmt"

	"gvisor.dev/picokern/pkg/bitmap"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sync"
)

// Base is the physical address of the first managed frame. Frames below it
// are never handed out, so the zero PhysAddr is never a valid allocation.
const Base = hostarch.PhysAddr(0x100000)

// Allocator allocates and frees contiguous physical frames.
type Allocator interface {
	// Allocate returns the base of n contiguous zeroed frames. Exhaustion is
	// fatal.
	Allocate(n uint64) hostarch.PhysAddr

	// Free releases n frames starting at base. Freeing outside the managed
	// range or freeing a free frame is fatal.
	Free(base hostarch.PhysAddr, n uint64)

	// MarkUsed reserves n frames starting at base.
	MarkUsed(base hostarch.PhysAddr, n uint64)

	// TotalPages returns the number of managed frames.
	TotalPages() uint64

	// UsedPages returns the number of allocated frames.
	UsedPages() uint64
}

// Memory is an Allocator whose frames can be addressed as bytes.
type Memory interface {
	Allocator

	// Bytes returns the length bytes of physical memory starting at addr.
	// The range must lie in allocated frames.
	Bytes(addr hostarch.PhysAddr, length uint64) []byte
}

// FatalError is the panic value raised on unrecoverable allocator misuse.
type FatalError struct {
	Msg string
}

// Error implements error.Error.
func (e *FatalError) Error() string {
	return "pgalloc: " + e.Msg
}

// MemoryFile is the Memory implementation backed by a byte slice.
type MemoryFile struct {
	// mu protects frames.
	mu sync.Mutex

	// frames has one bit per frame; set means allocated.
	frames bitmap.Bitmap

	// data is the simulated physical memory. The slice itself is immutable;
	// ranges in allocated frames are owned by whoever allocated them.
	data []byte
}

var _ Memory = (*MemoryFile)(nil)

// NewMemoryFile returns a MemoryFile managing pages frames.
func NewMemoryFile(pages uint64) (*MemoryFile, error) {
	if pages == 0 || pages > uint64(bitmap.MaxBitEntryLimit) {
		return nil, fmt.Errorf("invalid physical page count %d", pages)
	}
	return &MemoryFile{
		frames: bitmap.New(uint32(pages)),
		data:   make([]byte, pages*hostarch.PageSize),
	}, nil
}

func (f *MemoryFile) fatalf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	log.Warningf("pgalloc: %s", msg)
	panic(&FatalError{Msg: msg})
}

// frameRange converts [base, base+n pages) to frame indices, failing fatally
// if it is not inside the managed range.
func (f *MemoryFile) frameRange(base hostarch.PhysAddr, n uint64) (uint32, uint32) {
	if !base.IsPageAligned() || base < Base {
		f.fatalf("frame %v outside managed range", base)
	}
	first := uint64(base-Base) >> hostarch.PageShift
	if first+n > uint64(f.frames.Size()) || first+n < first {
		f.fatalf("frames [%v, +%d) outside managed range", base, n)
	}
	return uint32(first), uint32(first + n)
}

// Allocate implements Allocator.Allocate.
func (f *MemoryFile) Allocate(n uint64) hostarch.PhysAddr {
	if n == 0 {
		f.fatalf("zero length allocation")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > uint64(f.frames.Size()) {
		f.fatalf("out of physical memory: want %d pages, have %d", n, f.frames.Size()-f.frames.GetNumOnes())
	}
	first, err := f.frames.FirstZeroRun(uint32(n))
	if err != nil {
		f.fatalf("out of physical memory: want %d pages, %d of %d in use", n, f.frames.GetNumOnes(), f.frames.Size())
	}
	f.frames.AddRange(first, first+uint32(n))
	off := uint64(first) << hostarch.PageShift
	clear(f.data[off : off+n*hostarch.PageSize])
	return Base + hostarch.PhysAddr(off)
}

// Free implements Allocator.Free.
func (f *MemoryFile) Free(base hostarch.PhysAddr, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	first, end := f.frameRange(base, n)
	if !f.frames.AllSet(first, end) {
		f.fatalf("double free of frames [%v, +%d)", base, n)
	}
	f.frames.RemoveRange(first, end)
}

// MarkUsed implements Allocator.MarkUsed.
func (f *MemoryFile) MarkUsed(base hostarch.PhysAddr, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	first, end := f.frameRange(base, n)
	f.frames.AddRange(first, end)
}

// TotalPages implements Allocator.TotalPages.
func (f *MemoryFile) TotalPages() uint64 {
	return uint64(f.frames.Size())
}

// UsedPages implements Allocator.UsedPages.
func (f *MemoryFile) UsedPages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.frames.GetNumOnes())
}

// Bytes implements Memory.Bytes.
func (f *MemoryFile) Bytes(addr hostarch.PhysAddr, length uint64) []byte {
	if addr < Base || uint64(addr-Base)+length > uint64(len(f.data)) {
		f.fatalf("access to [%v, +%d) outside physical memory", addr, length)
	}
	off := uint64(addr - Base)
	return f.data[off : off+length : off+length]
}

// CopyPage copies the contents of frame src into frame dst.
func CopyPage(m Memory, dst, src hostarch.PhysAddr) {
	copy(m.Bytes(dst, hostarch.PageSize), m.Bytes(src, hostarch.PageSize))
}
