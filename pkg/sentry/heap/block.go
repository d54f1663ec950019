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
	"bytes"

	"gvisor.dev/picokern/pkg/hostarch"
)

// Block is an owned handle to one heap allocation. Freeing the handle twice
// is a no-op; freeing the same address through two handles is a corruption.
type Block struct {
	heap  *Heap
	addr  hostarch.Addr
	len   int
	freed bool
}

// Addr returns the payload address.
func (b *Block) Addr() hostarch.Addr {
	return b.addr
}

// Len returns the requested size.
func (b *Block) Len() int {
	return b.len
}

// Read returns a copy of the payload.
func (b *Block) Read() ([]byte, error) {
	buf := make([]byte, b.len)
	_, err := b.heap.mm.CopyIn(b.addr, buf)
	return buf, err
}

// Write copies src into the payload, truncated to the block length.
func (b *Block) Write(src []byte) error {
	if len(src) > b.len {
		src = src[:b.len]
	}
	_, err := b.heap.mm.CopyOut(b.addr, src)
	return err
}

// Free releases the block.
func (b *Block) Free() {
	if b == nil || b.freed {
		return
	}
	b.freed = true
	b.heap.Free(b.addr)
}

// AllocString stores s with a NUL terminator.
func (h *Heap) AllocString(s string) (*Block, error) {
	b, err := h.Alloc(len(s) + 1)
	if err != nil {
		return nil, err
	}
	if err := b.Write([]byte(s)); err != nil {
		b.Free()
		return nil, err
	}
	return b, nil
}

// ReadString returns the NUL-terminated string held by b.
func ReadString(b *Block) (string, error) {
	buf, err := b.Read()
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}
