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

package memdev

import (
	"bytes"
	"context"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/vfs"
	"gvisor.dev/picokern/pkg/sync"
)

// LogDevice is the kernel log device. Each complete line written to it is
// emitted through pkg/log; a trailing partial line is held until completed.
type LogDevice struct {
	path string

	mu sync.Mutex

	// partial is an incomplete trailing line. Protected by mu.
	partial []byte
}

// NewLogDevice returns a log device to be registered at path.
func NewLogDevice(path string) *LogDevice {
	return &LogDevice{path: path}
}

// Open implements vfs.Device.Open.
func (d *LogDevice) Open(context.Context, uint32) (vfs.Node, error) {
	return d, nil
}

// Read implements vfs.Node.Read.
func (d *LogDevice) Read(context.Context, []byte, int64) (int, error) {
	return 0, nil
}

// Write implements vfs.Node.Write.
func (d *LogDevice) Write(ctx context.Context, src []byte, _ int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.partial = append(d.partial, src...)
	for {
		i := bytes.IndexByte(d.partial, '\n')
		if i < 0 {
			break
		}
		log.Infof("%s%s", prefix(ctx), d.partial[:i])
		d.partial = d.partial[i+1:]
	}
	if len(d.partial) == 0 {
		d.partial = nil
	}
	return len(src), nil
}

// Flush emits any partial line.
func (d *LogDevice) Flush(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.partial) > 0 {
		log.Infof("%s%s", prefix(ctx), d.partial)
		d.partial = nil
	}
}

func prefix(ctx context.Context) string {
	if s, ok := ctx.(interface{ LogPrefix() string }); ok {
		return s.LogPrefix()
	}
	return ""
}

// Stat implements vfs.Node.Stat.
func (d *LogDevice) Stat() linux.Stat {
	return linux.Stat{Mode: linux.ModeCharacter | 0622, Nlink: 1, Rdev: makeRdev(memDevMajor, kmsgDevMinor)}
}

// Path implements vfs.Node.Path.
func (d *LogDevice) Path() string {
	return d.path
}
