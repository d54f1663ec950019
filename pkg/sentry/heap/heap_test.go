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

package heap

import (
	"fmt"
	"testing"

	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/mm"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
)

type fatalError string

func newTestHeap(t *testing.T) (*Heap, *pgalloc.MemoryFile) {
	t.Helper()
	mem, err := pgalloc.NewMemoryFile(256)
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	fatal := func(format string, v ...any) {
		panic(fatalError(fmt.Sprintf(format, v...)))
	}
	return New("test", mm.NewKernelMemoryManager(mem), fatal), mem
}

func expectFatal(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if _, ok := recover().(fatalError); !ok {
			t.Errorf("no fatal corruption reported")
		}
	}()
	fn()
}

func mustAlloc(t *testing.T, h *Heap, n int) *Block {
	t.Helper()
	b, err := h.Alloc(n)
	if err != nil {
		t.Fatalf("Alloc(%d) failed: %v", n, err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{1, 16, 100, 4000, 3 * hostarch.PageSize, 20 * hostarch.PageSize} {
		t.Run(fmt.Sprintf("size %d", n), func(t *testing.T) {
			h, mem := newTestHeap(t)
			before := mem.UsedPages()

			b := mustAlloc(t, h, n)
			first := b.Addr()
			b.Free()
			if got := mem.UsedPages(); got != before {
				t.Errorf("UsedPages() after Free = %d, want %d", got, before)
			}
			b = mustAlloc(t, h, n)
			if b.Addr() != first {
				t.Errorf("second Alloc at %v, want %v", b.Addr(), first)
			}
			b.Free()
			if h.Used() != 0 || h.Pages() != 0 {
				t.Errorf("heap holds %d bytes in %d pages after Free", h.Used(), h.Pages())
			}
			if got := mem.UsedPages(); got != before {
				t.Errorf("UsedPages() = %d, want %d", got, before)
			}
		})
	}
}

func TestSplitAndCoalesce(t *testing.T) {
	h, mem := newTestHeap(t)
	before := mem.UsedPages()
	a := mustAlloc(t, h, 64)
	b := mustAlloc(t, h, 64)
	c := mustAlloc(t, h, 64)
	if b.Addr() != a.Addr()+64+HeaderSize || c.Addr() != b.Addr()+64+HeaderSize {
		t.Fatalf("blocks at %v, %v, %v are not packed", a.Addr(), b.Addr(), c.Addr())
	}

	b.Free()
	a.Free()
	// a and b merged: a request for both fits at a.
	ab := mustAlloc(t, h, 128+HeaderSize)
	if ab.Addr() != a.Addr() {
		t.Errorf("merged Alloc at %v, want %v", ab.Addr(), a.Addr())
	}
	if got := h.Pages(); got != minChunkPages {
		t.Errorf("Pages() = %d, want %d", got, minChunkPages)
	}
	ab.Free()
	c.Free()
	if got := mem.UsedPages(); got != before {
		t.Errorf("UsedPages() = %d, want %d", got, before)
	}
}

func TestAllocZeroes(t *testing.T) {
	h, _ := newTestHeap(t)
	b := mustAlloc(t, h, 32)
	keep := mustAlloc(t, h, 8)
	if err := b.Write([]byte("0123456789abcdef0123456789abcdef")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	b.Free()
	b = mustAlloc(t, h, 32)
	buf, err := b.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, v)
		}
	}
	b.Free()
	keep.Free()
}

func TestStrings(t *testing.T) {
	h, _ := newTestHeap(t)
	b, err := h.AllocString("init")
	if err != nil {
		t.Fatalf("AllocString failed: %v", err)
	}
	defer b.Free()
	if got, err := ReadString(b); err != nil || got != "init" {
		t.Errorf("ReadString = (%q, %v), want (\"init\", nil)", got, err)
	}
}

func TestHandleDoubleFree(t *testing.T) {
	h, _ := newTestHeap(t)
	b := mustAlloc(t, h, 10)
	b.Free()
	b.Free()
}

func TestCorruption(t *testing.T) {
	for _, test := range []struct {
		name string
		fn   func(h *Heap)
	}{
		{
			name: "bad magic",
			fn: func(h *Heap) {
				b, _ := h.Alloc(24)
				keep, _ := h.Alloc(24)
				_ = keep
				if _, err := h.mm.CopyOut(b.Addr()-HeaderSize, []byte{0xde, 0xad}); err != nil {
					panic(err)
				}
				b.Free()
			},
		},
		{
			name: "double free through two handles",
			fn: func(h *Heap) {
				b, _ := h.Alloc(24)
				keep, _ := h.Alloc(24)
				_ = keep
				alias := *b
				b.Free()
				alias.Free()
			},
		},
		{
			name: "foreign address",
			fn: func(h *Heap) {
				h.Free(0x1000)
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			h, _ := newTestHeap(t)
			before := corruptions.Value()
			expectFatal(t, func() { test.fn(h) })
			if test.name != "foreign address" && corruptions.Value() != before+1 {
				t.Errorf("corruption counter = %d, want %d", corruptions.Value(), before+1)
			}
		})
	}
}

func TestRelease(t *testing.T) {
	h, mem := newTestHeap(t)
	before := mem.UsedPages()
	for i := 0; i < 10; i++ {
		mustAlloc(t, h, 1000)
	}
	h.Release()
	if got := mem.UsedPages(); got != before {
		t.Errorf("UsedPages() after Release = %d, want %d", got, before)
	}
}
