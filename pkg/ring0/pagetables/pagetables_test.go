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

package pagetables

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
)

const pteSize = hostarch.PageSize

func newTestTables(t *testing.T) (*PageTables, *pgalloc.MemoryFile) {
	t.Helper()
	mem, err := pgalloc.NewMemoryFile(256)
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	return New(NewPhysicalAllocator(mem)), mem
}

func collect(pt *PageTables) []Mapping {
	var ms []Mapping
	pt.ForEach(func(m Mapping) { ms = append(ms, m) })
	return ms
}

func checkMappings(t *testing.T, pt *PageTables, want []Mapping) {
	t.Helper()
	if diff := cmp.Diff(want, collect(pt)); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestMapLookup(t *testing.T) {
	pt, _ := newTestTables(t)
	rw := MapOpts{AccessType: hostarch.ReadWrite, User: true}
	rx := MapOpts{AccessType: hostarch.ReadExec, User: true}
	pt.Map(0x400000, 2*pteSize, rx, pgalloc.Base+0x10000)
	pt.Map(0x7fffffffe000, pteSize, rw, pgalloc.Base+0x20000)

	checkMappings(t, pt, []Mapping{
		{Addr: 0x400000, Physical: pgalloc.Base + 0x10000, Opts: rx},
		{Addr: 0x401000, Physical: pgalloc.Base + 0x11000, Opts: rx},
		{Addr: 0x7fffffffe000, Physical: pgalloc.Base + 0x20000, Opts: rw},
	})

	phys, opts, ok := pt.Lookup(0x401234)
	if !ok || phys != pgalloc.Base+0x11234 || opts != rx {
		t.Errorf("Lookup(0x401234) = (%v, %+v, %v)", phys, opts, ok)
	}
	if _, _, ok := pt.Lookup(0x402000); ok {
		t.Errorf("Lookup of unmapped page succeeded")
	}
}

func TestKernelHalfAddresses(t *testing.T) {
	pt, _ := newTestTables(t)
	const kaddr = hostarch.Addr(0xffff800000001000)
	opts := MapOpts{AccessType: hostarch.ReadWrite}
	pt.Map(kaddr, pteSize, opts, pgalloc.Base+0x30000)
	checkMappings(t, pt, []Mapping{{Addr: kaddr, Physical: pgalloc.Base + 0x30000, Opts: opts}})
}

func TestMapUnmapRoundTrip(t *testing.T) {
	pt, mem := newTestTables(t)
	opts := MapOpts{AccessType: hostarch.ReadWrite, User: true}
	pt.Map(0x600000, pteSize, opts, pgalloc.Base+0x40000)
	before := collect(pt)
	usedBefore := mem.UsedPages()
	tablesBefore := pt.Tables()

	// A page under a fresh top-level entry allocates three tables.
	pt.Map(0x8000000000, pteSize, opts, pgalloc.Base+0x50000)
	if got := pt.Tables(); got != tablesBefore+3 {
		t.Errorf("Tables() = %d after map, want %d", got, tablesBefore+3)
	}
	if n := pt.Unmap(0x8000000000, pteSize); n != 1 {
		t.Errorf("Unmap returned %d, want 1", n)
	}
	if diff := cmp.Diff(before, collect(pt)); diff != "" {
		t.Errorf("mappings not restored (-want +got):\n%s", diff)
	}
	if got := mem.UsedPages(); got != usedBefore {
		t.Errorf("UsedPages() = %d, want %d", got, usedBefore)
	}
	if got := pt.Tables(); got != tablesBefore {
		t.Errorf("Tables() = %d, want %d", got, tablesBefore)
	}

	// Unmapping again is a no-op.
	if n := pt.Unmap(0x8000000000, pteSize); n != 0 {
		t.Errorf("second Unmap returned %d, want 0", n)
	}
	if diff := cmp.Diff(before, collect(pt)); diff != "" {
		t.Errorf("second unmap changed mappings (-want +got):\n%s", diff)
	}
}

func TestUnmapKeepsSharedTables(t *testing.T) {
	pt, _ := newTestTables(t)
	opts := MapOpts{AccessType: hostarch.Read}
	pt.Map(0x400000, 2*pteSize, opts, pgalloc.Base)
	tables := pt.Tables()
	pt.Unmap(0x400000, pteSize)
	if got := pt.Tables(); got != tables {
		t.Errorf("Tables() = %d, want %d: a table with live entries was freed", got, tables)
	}
	pt.Unmap(0x401000, pteSize)
	if got := pt.Tables(); got != 1 {
		t.Errorf("Tables() = %d, want only the root", got)
	}
}

func TestFlushOnUnmap(t *testing.T) {
	var flushed []hostarch.Addr
	old := flushTLBEntryFn
	flushTLBEntryFn = func(addr hostarch.Addr) { flushed = append(flushed, addr) }
	defer func() { flushTLBEntryFn = old }()

	pt, _ := newTestTables(t)
	pt.Map(0x400000, 2*pteSize, MapOpts{AccessType: hostarch.Read}, pgalloc.Base)
	pt.Unmap(0x400000, 3*pteSize)
	if diff := cmp.Diff([]hostarch.Addr{0x400000, 0x401000}, flushed); diff != "" {
		t.Errorf("flushes mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	mem, err := pgalloc.NewMemoryFile(64)
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	base := mem.UsedPages()
	pt := New(NewPhysicalAllocator(mem))
	pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.Read}, pgalloc.Base+0x10000)
	pt.Map(0x7f0000000000, pteSize, MapOpts{AccessType: hostarch.Read}, pgalloc.Base+0x10000)
	pt.Release()
	if got := mem.UsedPages(); got != base {
		t.Errorf("UsedPages() = %d after Release, want %d", got, base)
	}
}
