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

package kernel

import (
	"testing"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

func TestFDTable(t *testing.T) {
	f := NewFDTable()
	files := make([]*vfs.FileDescription, MaxFDs)
	for i := range files {
		files[i] = vfs.NewFileDescription(nil, linux.O_RDONLY)
		fd, err := f.NewFD(files[i])
		if err != nil {
			t.Fatalf("NewFD #%d: %v", i, err)
		}
		if fd != int32(i) {
			t.Fatalf("NewFD #%d = %d, want lowest free descriptor", i, fd)
		}
	}
	if _, err := f.NewFD(vfs.NewFileDescription(nil, 0)); !linuxerr.Equals(linuxerr.EMFILE, err) {
		t.Errorf("NewFD on a full table = %v, want EMFILE", err)
	}

	if err := f.Remove(5); err != nil {
		t.Fatalf("Remove(5): %v", err)
	}
	if err := f.Remove(5); !linuxerr.Equals(linuxerr.EBADF, err) {
		t.Errorf("second Remove(5) = %v, want EBADF", err)
	}
	if fd, err := f.NewFD(files[5]); err != nil || fd != 5 {
		t.Errorf("NewFD after Remove = %d, %v; want 5", fd, err)
	}

	for _, fd := range []int32{-1, MaxFDs} {
		if _, err := f.Get(fd); !linuxerr.Equals(linuxerr.EBADF, err) {
			t.Errorf("Get(%d) = %v, want EBADF", fd, err)
		}
		if err := f.NewFDAt(fd, files[0]); !linuxerr.Equals(linuxerr.EBADF, err) {
			t.Errorf("NewFDAt(%d) = %v, want EBADF", fd, err)
		}
	}

	f.RemoveAll()
	if got := f.Len(); got != 0 {
		t.Errorf("Len after RemoveAll = %d, want 0", got)
	}
}

func TestFDTableForkCopiesOffsets(t *testing.T) {
	f := NewFDTable()
	file := vfs.NewFileDescription(nil, linux.O_RDWR)
	file.Offset = 10
	if err := f.NewFDAt(3, file); err != nil {
		t.Fatalf("NewFDAt: %v", err)
	}
	clone := f.Fork()
	got, err := clone.Get(3)
	if err != nil {
		t.Fatalf("Get in clone: %v", err)
	}
	if got == file || got.Offset != 10 {
		t.Errorf("clone descriptor = %p offset %d, want a copy at offset 10", got, got.Offset)
	}
	got.Offset = 20
	if file.Offset != 10 {
		t.Errorf("parent offset changed to %d by the clone", file.Offset)
	}
	if clone.Len() != 1 {
		t.Errorf("clone Len = %d, want 1", clone.Len())
	}
}

func TestPIDAllocatorWraps(t *testing.T) {
	p := newPIDAllocator()
	first, err := p.alloc()
	if err != nil || first != 1 {
		t.Fatalf("first alloc = %d, %v; want 1", first, err)
	}
	p.last = PIDMax - 1
	if pid, _ := p.alloc(); pid != PIDMax {
		t.Errorf("alloc = %d, want %d", pid, PIDMax)
	}
	// 1 is still in use, so the allocator wraps to 2.
	if pid, _ := p.alloc(); pid != 2 {
		t.Errorf("alloc after wrap = %d, want 2", pid)
	}
	p.release(1)
	p.last = PIDMax
	if pid, _ := p.alloc(); pid != 1 {
		t.Errorf("alloc after release = %d, want 1", pid)
	}
}
