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
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
)

// Allocator is used to allocate and map PTEs.
type Allocator interface {
	// NewPTEs returns the physical address of a new, zeroed table.
	NewPTEs() hostarch.PhysAddr

	// LookupPTEs returns the entries of the table at the given address.
	LookupPTEs(physical hostarch.PhysAddr) PTEs

	// FreePTEs frees a table.
	FreePTEs(physical hostarch.PhysAddr)
}

// PhysicalAllocator allocates tables as frames of simulated physical memory.
type PhysicalAllocator struct {
	mem pgalloc.Memory
}

// NewPhysicalAllocator returns an Allocator over mem.
func NewPhysicalAllocator(mem pgalloc.Memory) *PhysicalAllocator {
	return &PhysicalAllocator{mem: mem}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *PhysicalAllocator) NewPTEs() hostarch.PhysAddr {
	return a.mem.Allocate(1)
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *PhysicalAllocator) LookupPTEs(physical hostarch.PhysAddr) PTEs {
	return PTEs{b: a.mem.Bytes(physical, hostarch.PageSize)}
}

// FreePTEs implements Allocator.FreePTEs.
func (a *PhysicalAllocator) FreePTEs(physical hostarch.PhysAddr) {
	a.mem.Free(physical, 1)
}
