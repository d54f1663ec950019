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

// Package memdev implements the memory-backed character devices: /dev/null
// and the kernel log device.
package memdev

import (
	"context"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

const (
	nullDevMinor = 3
	kmsgDevMinor = 11

	memDevMajor = 1
)

func makeRdev(major, minor uint64) uint64 {
	return major<<8 | minor
}

// NullDevice implements vfs.Device for /dev/null.
type NullDevice struct{}

// Open implements vfs.Device.Open.
func (NullDevice) Open(context.Context, uint32) (vfs.Node, error) {
	return nullNode{}, nil
}

// nullNode implements vfs.Node for /dev/null.
type nullNode struct{}

// Read implements vfs.Node.Read.
func (nullNode) Read(context.Context, []byte, int64) (int, error) {
	return 0, nil
}

// Write implements vfs.Node.Write.
func (nullNode) Write(_ context.Context, src []byte, _ int64) (int, error) {
	return len(src), nil
}

// Stat implements vfs.Node.Stat.
func (nullNode) Stat() linux.Stat {
	return linux.Stat{Mode: linux.ModeCharacter | 0666, Nlink: 1, Rdev: makeRdev(memDevMajor, nullDevMinor)}
}

// Path implements vfs.Node.Path.
func (nullNode) Path() string {
	return "/dev/null"
}

// Register registers all devices implemented by this package in vfsObj.
func Register(vfsObj *vfs.VirtualFilesystem, log *LogDevice) error {
	if err := vfsObj.RegisterDevice("/dev/null", NullDevice{}); err != nil {
		return err
	}
	return vfsObj.RegisterDevice(log.Path(), log)
}
