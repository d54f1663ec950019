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
	"bytes"
	"encoding/binary"

	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
)

// forEachPage calls fn for each page-bounded piece of [addr, addr+length)
// after checking it is mapped with at least the permissions in need. It
// stops at the first piece that is not, returning the number of bytes
// handled and EFAULT.
//
// Preconditions: mm.mu is locked.
func (mm *MemoryManager) forEachPage(addr hostarch.Addr, length int, need hostarch.AccessType, fn func(b []byte, done int)) (int, error) {
	if _, ok := addr.AddLength(uint64(length)); !ok {
		return 0, linuxerr.EFAULT
	}
	done := 0
	for done < length {
		v := addr + hostarch.Addr(done)
		n := int(hostarch.PageSize - v.PageOffset())
		if n > length-done {
			n = length - done
		}
		phys, at, ok := mm.translateLocked(v)
		if !ok || !at.SupersetOf(need) {
			return done, linuxerr.EFAULT
		}
		fn(mm.mem.Bytes(phys, uint64(n)), done)
		done += n
	}
	return done, nil
}

// CopyIn copies len(dst) bytes from addr into dst. It requires read access.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.forEachPage(addr, len(dst), hostarch.Read, func(b []byte, done int) {
		copy(dst[done:], b)
	})
}

// CopyOut copies src to addr. It requires write access.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.forEachPage(addr, len(src), hostarch.Write, func(b []byte, done int) {
		copy(b, src[done:])
	})
}

// ZeroOut zeroes length bytes at addr. It requires write access.
func (mm *MemoryManager) ZeroOut(addr hostarch.Addr, length int) (int, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.forEachPage(addr, length, hostarch.Write, func(b []byte, _ int) {
		clear(b)
	})
}

// Fetch reads an instruction word at addr. It requires execute access.
func (mm *MemoryManager) Fetch(addr hostarch.Addr) (uint32, error) {
	var buf [4]byte
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, err := mm.forEachPage(addr, len(buf), hostarch.Execute, func(b []byte, done int) {
		copy(buf[done:], b)
	}); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// CopyInUint64 reads a native word.
func (mm *MemoryManager) CopyInUint64(addr hostarch.Addr) (uint64, error) {
	var buf [8]byte
	if _, err := mm.CopyIn(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// CopyOutUint64 writes a native word.
func (mm *MemoryManager) CopyOutUint64(addr hostarch.Addr, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := mm.CopyOut(addr, buf[:])
	return err
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes from
// addr. It returns ENAMETOOLONG if no terminator is found in time.
func (mm *MemoryManager) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	var out []byte
	for len(out) < maxlen {
		// Read up to the end of the current page at a time.
		chunk := int(hostarch.PageSize - (addr + hostarch.Addr(len(out))).PageOffset())
		if chunk > maxlen-len(out) {
			chunk = maxlen - len(out)
		}
		buf := make([]byte, chunk)
		n, err := mm.CopyIn(addr+hostarch.Addr(len(out)), buf)
		if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
			return string(append(out, buf[:i]...)), nil
		}
		if err != nil {
			return "", err
		}
		out = append(out, buf...)
	}
	return "", linuxerr.ENAMETOOLONG
}
