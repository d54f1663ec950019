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
	"encoding/binary"

	"gvisor.dev/picokern/pkg/hostarch"
)

const (
	levels         = 4
	entriesPerPage = 512
	pteShift       = 12
	pmdShift       = 21
	pudShift       = 30
	pgdShift       = 39
	indexMask      = entriesPerPage - 1
	entrySize      = 8
)

// Bits in page table entries.
const (
	present  = 0x001
	writable = 0x002
	user     = 0x004
	accessed = 0x020
	dirty    = 0x040
)

const (
	executeDisable PTE = 1 << 63
	addressMask    PTE = 0x000ffffffffff000
)

func shiftAt(level int) uint {
	switch level {
	case 0:
		return pgdShift
	case 1:
		return pudShift
	case 2:
		return pmdShift
	default:
		return pteShift
	}
}

func indexAt(addr hostarch.Addr, level int) int {
	return int(uint64(addr)>>shiftAt(level)) & indexMask
}

// canonical sign-extends bit 47 of a reassembled address.
func canonical(addr hostarch.Addr) hostarch.Addr {
	if addr&(1<<47) != 0 {
		return addr | ^hostarch.Addr(1<<48-1)
	}
	return addr
}

// MapOpts are x86 options.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// User indicates the page is a user page.
	User bool
}

// PTE is a page table entry.
type PTE uint64

// Valid returns true iff this entry is valid.
func (p PTE) Valid() bool {
	return p&present != 0
}

// Address extracts the address. This should only be called if Valid returns
// true.
func (p PTE) Address() hostarch.PhysAddr {
	return hostarch.PhysAddr(p & addressMask)
}

// Opts returns the PTE options.
//
// These are all options except Valid.
func (p PTE) Opts() MapOpts {
	return MapOpts{
		AccessType: hostarch.AccessType{
			Read:    true,
			Write:   p&writable != 0,
			Execute: p&executeDisable == 0,
		},
		User: p&user != 0,
	}
}

func makeLeaf(physical hostarch.PhysAddr, opts MapOpts) PTE {
	v := PTE(physical)&addressMask | present | accessed
	if opts.AccessType.Write {
		v |= writable | dirty
	}
	if !opts.AccessType.Execute {
		v |= executeDisable
	}
	if opts.User {
		v |= user
	}
	return v
}

func makeTableEntry(table hostarch.PhysAddr) PTE {
	return PTE(table)&addressMask | present | writable | user | accessed
}

// PTEs is a view of one table's entries in physical memory.
type PTEs struct {
	b []byte
}

// Get returns entry i.
func (t PTEs) Get(i int) PTE {
	return PTE(binary.LittleEndian.Uint64(t.b[i*entrySize:]))
}

// Set stores entry i.
func (t PTEs) Set(i int, v PTE) {
	binary.LittleEndian.PutUint64(t.b[i*entrySize:], uint64(v))
}

// ClearEntries returns the number of entries that are not present.
func (t PTEs) ClearEntries() int {
	n := 0
	for i := 0; i < entriesPerPage; i++ {
		if !t.Get(i).Valid() {
			n++
		}
	}
	return n
}
