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
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/vfs"
	"gvisor.dev/picokern/pkg/sync"
)

// MaxFDs is the size of a descriptor table.
const MaxFDs = 64

// FDTable is a fixed-size table of open file descriptions.
type FDTable struct {
	mu sync.Mutex

	// files is indexed by descriptor. Protected by mu.
	files [MaxFDs]*vfs.FileDescription
}

// NewFDTable returns an empty table.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// NewFD installs file at the lowest free descriptor.
func (f *FDTable) NewFD(file *vfs.FileDescription) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd := range f.files {
		if f.files[fd] == nil {
			f.files[fd] = file
			return int32(fd), nil
		}
	}
	return -1, linuxerr.EMFILE
}

// NewFDAt installs file at fd, replacing any previous description.
func (f *FDTable) NewFDAt(fd int32, file *vfs.FileDescription) error {
	if fd < 0 || fd >= MaxFDs {
		return linuxerr.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fd] = file
	return nil
}

// Get returns the description at fd.
func (f *FDTable) Get(fd int32) (*vfs.FileDescription, error) {
	if fd < 0 || fd >= MaxFDs {
		return nil, linuxerr.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[fd] == nil {
		return nil, linuxerr.EBADF
	}
	return f.files[fd], nil
}

// Remove closes fd.
func (f *FDTable) Remove(fd int32) error {
	if fd < 0 || fd >= MaxFDs {
		return linuxerr.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[fd] == nil {
		return linuxerr.EBADF
	}
	f.files[fd] = nil
	return nil
}

// RemoveAll closes every descriptor.
func (f *FDTable) RemoveAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd := range f.files {
		f.files[fd] = nil
	}
}

// Len returns the number of open descriptors.
func (f *FDTable) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, file := range f.files {
		if file != nil {
			n++
		}
	}
	return n
}

// Fork returns a copy of f. Each description is copied by value, so the
// copies share nodes but not offsets.
func (f *FDTable) Fork() *FDTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := NewFDTable()
	for fd, file := range f.files {
		if file != nil {
			clone.files[fd] = file.Clone()
		}
	}
	return clone
}
