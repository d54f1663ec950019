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

// Package vfs provides the file interfaces the kernel consumes: nodes that
// can be read and written at an offset, filesystems that resolve paths to
// nodes, and device registration at fixed paths.
package vfs

import (
	"context"
	"path"
	"strings"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sync"
)

// Node is an open-able filesystem object.
type Node interface {
	// Read reads into dst from offset off. It returns 0, nil at end of
	// file.
	Read(ctx context.Context, dst []byte, off int64) (int, error)

	// Write writes src at offset off.
	Write(ctx context.Context, src []byte, off int64) (int, error)

	// Stat returns the node's metadata.
	Stat() linux.Stat

	// Path returns the absolute path the node was opened at.
	Path() string
}

// Terminal is implemented by nodes that are terminals.
type Terminal interface {
	Node

	// Termios returns the terminal attributes.
	Termios() linux.Termios

	// SetTermios replaces the terminal attributes.
	SetTermios(t linux.Termios) error

	// Winsize returns the window size.
	Winsize() linux.Winsize
}

// Filesystem resolves paths to nodes.
type Filesystem interface {
	// Open returns the node at path. Flags are the open(2) flags.
	Open(ctx context.Context, path string, flags uint32) (Node, error)
}

// Device is a node factory registered at a fixed path.
type Device interface {
	// Open returns a node for the device. Flags are the open(2) flags.
	Open(ctx context.Context, flags uint32) (Node, error)
}

// VirtualFilesystem dispatches opens to registered devices, and otherwise to
// the root filesystem.
type VirtualFilesystem struct {
	root Filesystem

	mu sync.RWMutex

	// devices maps a cleaned absolute path to its device. Protected by mu.
	devices map[string]Device
}

// New returns a VirtualFilesystem over root.
func New(root Filesystem) *VirtualFilesystem {
	return &VirtualFilesystem{
		root:    root,
		devices: make(map[string]Device),
	}
}

// Clean validates p and returns it in canonical absolute form.
func Clean(p string) (string, error) {
	if p == "" {
		return "", linuxerr.ENOENT
	}
	if len(p) >= linux.PathMax {
		return "", linuxerr.ENAMETOOLONG
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}

// RegisterDevice installs dev at p.
func (vfs *VirtualFilesystem) RegisterDevice(p string, dev Device) error {
	p, err := Clean(p)
	if err != nil {
		return err
	}
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	if _, ok := vfs.devices[p]; ok {
		return linuxerr.EEXIST
	}
	vfs.devices[p] = dev
	return nil
}

// Open resolves p to a node.
func (vfs *VirtualFilesystem) Open(ctx context.Context, p string, flags uint32) (Node, error) {
	p, err := Clean(p)
	if err != nil {
		return nil, err
	}
	vfs.mu.RLock()
	dev, ok := vfs.devices[p]
	vfs.mu.RUnlock()
	if ok {
		return dev.Open(ctx, flags)
	}
	return vfs.root.Open(ctx, p, flags)
}

// ReadFile returns the entire content of the node at p.
func (vfs *VirtualFilesystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	n, err := vfs.Open(ctx, p, linux.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return ReadAll(ctx, n)
}

// ReadAll reads n from offset zero until end of file.
func ReadAll(ctx context.Context, n Node) ([]byte, error) {
	var (
		out []byte
		buf [4096]byte
	)
	for {
		c, err := n.Read(ctx, buf[:], int64(len(out)))
		out = append(out, buf[:c]...)
		if err != nil {
			return out, err
		}
		if c == 0 {
			return out, nil
		}
	}
}
