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

// Package memfs provides an in-memory filesystem: the inode tree is the sole
// source of truth for the state of the filesystem.
//
// Lock order:
//
//	filesystem.mu
//	  regularFile.mu
package memfs

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/vfs"
	"gvisor.dev/picokern/pkg/sync"
)

// Filesystem implements vfs.Filesystem.
type Filesystem struct {
	// mu serializes changes to the inode tree.
	mu sync.RWMutex

	root *inode

	nextInoMinusOne atomic.Uint64
}

var _ vfs.Filesystem = (*Filesystem)(nil)

// New returns a filesystem holding an empty root directory.
func New() *Filesystem {
	fs := &Filesystem{}
	fs.root = fs.newInode(&directory{children: make(map[string]*inode)}, 0755)
	return fs
}

// inode represents a filesystem object.
type inode struct {
	mode uint32 // excluding file type bits, which are based on impl
	ino  uint64 // immutable

	impl any // immutable
}

func (fs *Filesystem) newInode(impl any, mode uint32) *inode {
	return &inode{
		mode: mode,
		ino:  fs.nextInoMinusOne.Add(1),
		impl: impl,
	}
}

type directory struct {
	// children is protected by filesystem.mu.
	children map[string]*inode
}

type regularFile struct {
	mu   sync.RWMutex
	data []byte
}

func (i *inode) stat() linux.Stat {
	stat := linux.Stat{
		Ino:   i.ino,
		Mode:  i.mode,
		Nlink: 1,
	}
	switch impl := i.impl.(type) {
	case *regularFile:
		stat.Mode |= linux.ModeRegular
		impl.mu.RLock()
		stat.Size = int64(len(impl.data))
		impl.mu.RUnlock()
	case *directory:
		stat.Mode |= linux.ModeDirectory
		stat.Nlink = 2
	default:
		panic(fmt.Sprintf("unknown inode type: %T", i.impl))
	}
	return stat
}

func split(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}

// walkLocked returns the directory holding the last component of p, and that
// component.
//
// Preconditions: fs.mu is locked.
func (fs *Filesystem) walkLocked(p string) (*directory, string, error) {
	parts := split(p)
	if len(parts) == 0 {
		return nil, "", nil
	}
	dir := fs.root.impl.(*directory)
	for _, name := range parts[:len(parts)-1] {
		child, ok := dir.children[name]
		if !ok {
			return nil, "", linuxerr.ENOENT
		}
		d, ok := child.impl.(*directory)
		if !ok {
			return nil, "", linuxerr.ENOTDIR
		}
		dir = d
	}
	return dir, parts[len(parts)-1], nil
}

// Open implements vfs.Filesystem.Open.
func (fs *Filesystem) Open(ctx context.Context, p string, flags uint32) (vfs.Node, error) {
	p, err := vfs.Clean(p)
	if err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.walkLocked(p)
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return &node{inode: fs.root, path: "/"}, nil
	}
	child, ok := dir.children[name]
	switch {
	case ok && flags&linux.O_CREAT != 0 && flags&linux.O_EXCL != 0:
		return nil, linuxerr.EEXIST
	case !ok && flags&linux.O_CREAT == 0:
		return nil, linuxerr.ENOENT
	case !ok:
		child = fs.newInode(&regularFile{}, 0644)
		dir.children[name] = child
	}
	if rf, ok := child.impl.(*regularFile); ok && flags&linux.O_TRUNC != 0 && flags&linux.O_ACCMODE != linux.O_RDONLY {
		rf.mu.Lock()
		rf.data = nil
		rf.mu.Unlock()
	}
	return &node{inode: child, path: p}, nil
}

// MkdirAll creates the directory p and any missing parents.
func (fs *Filesystem) MkdirAll(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir := fs.root.impl.(*directory)
	for _, name := range split(p) {
		child, ok := dir.children[name]
		if !ok {
			child = fs.newInode(&directory{children: make(map[string]*inode)}, 0755)
			dir.children[name] = child
		}
		d, ok := child.impl.(*directory)
		if !ok {
			return linuxerr.ENOTDIR
		}
		dir = d
	}
	return nil
}

// WriteFile creates or replaces the regular file at p, creating any missing
// parent directories, and sets its permission bits to mode.
func (fs *Filesystem) WriteFile(p string, data []byte, mode uint32) error {
	p, err := vfs.Clean(p)
	if err != nil {
		return err
	}
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		if err := fs.MkdirAll(p[:i]); err != nil {
			return err
		}
	}
	n, err := fs.Open(context.Background(), p, linux.O_RDWR|linux.O_CREAT|linux.O_TRUNC)
	if err != nil {
		return err
	}
	in := n.(*node).inode
	if _, ok := in.impl.(*regularFile); !ok {
		return linuxerr.EISDIR
	}
	in.mode = mode & linux.PermissionsMask
	_, err = n.Write(context.Background(), data, 0)
	return err
}

// node implements vfs.Node.
type node struct {
	inode *inode
	path  string
}

// Read implements vfs.Node.Read.
func (n *node) Read(ctx context.Context, dst []byte, off int64) (int, error) {
	rf, ok := n.inode.impl.(*regularFile)
	if !ok {
		return 0, linuxerr.EISDIR
	}
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	if off >= int64(len(rf.data)) {
		return 0, nil
	}
	return copy(dst, rf.data[off:]), nil
}

// Write implements vfs.Node.Write.
func (n *node) Write(ctx context.Context, src []byte, off int64) (int, error) {
	rf, ok := n.inode.impl.(*regularFile)
	if !ok {
		return 0, linuxerr.EISDIR
	}
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if end := off + int64(len(src)); end > int64(len(rf.data)) {
		rf.data = append(rf.data, make([]byte, end-int64(len(rf.data)))...)
	}
	return copy(rf.data[off:], src), nil
}

// Stat implements vfs.Node.Stat.
func (n *node) Stat() linux.Stat {
	return n.inode.stat()
}

// Path implements vfs.Node.Path.
func (n *node) Path() string {
	return n.path
}
