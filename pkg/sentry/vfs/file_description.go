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

package vfs

import (
	"context"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
)

// FileDescription is an open file: a shared node, the open flags and a
// private offset. Copying a FileDescription by value yields an independent
// offset over the same node.
type FileDescription struct {
	// Node is the open node.
	Node Node

	// Flags are the open(2) flags.
	Flags uint32

	// Offset is the current file position.
	Offset int64
}

// NewFileDescription returns a description of n opened with flags.
func NewFileDescription(n Node, flags uint32) *FileDescription {
	return &FileDescription{Node: n, Flags: flags}
}

func (fd *FileDescription) readable() bool {
	return fd.Flags&linux.O_ACCMODE != linux.O_WRONLY
}

func (fd *FileDescription) writable() bool {
	return fd.Flags&linux.O_ACCMODE != linux.O_RDONLY
}

// Read reads into dst at the current offset and advances it.
func (fd *FileDescription) Read(ctx context.Context, dst []byte) (int, error) {
	if !fd.readable() {
		return 0, linuxerr.EBADF
	}
	n, err := fd.Node.Read(ctx, dst, fd.Offset)
	fd.Offset += int64(n)
	return n, err
}

// Write writes src at the current offset, or at the end for O_APPEND, and
// advances the offset.
func (fd *FileDescription) Write(ctx context.Context, src []byte) (int, error) {
	if !fd.writable() {
		return 0, linuxerr.EBADF
	}
	if fd.Flags&linux.O_APPEND != 0 {
		fd.Offset = fd.Node.Stat().Size
	}
	n, err := fd.Node.Write(ctx, src, fd.Offset)
	fd.Offset += int64(n)
	return n, err
}

// Seek repositions the offset.
func (fd *FileDescription) Seek(offset int64, whence int32) (int64, error) {
	var base int64
	switch whence {
	case linux.SEEK_SET:
	case linux.SEEK_CUR:
		base = fd.Offset
	case linux.SEEK_END:
		base = fd.Node.Stat().Size
	default:
		return 0, linuxerr.EINVAL
	}
	off := base + offset
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	fd.Offset = off
	return off, nil
}

// Clone returns a copy of fd sharing its node.
func (fd *FileDescription) Clone() *FileDescription {
	c := *fd
	return &c
}
