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
	"gvisor.dev/picokern/pkg/bitmap"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sync"
)

// ThreadID is a task's process id.
type ThreadID int32

// PIDMax is the largest pid handed out.
const PIDMax = 32768

// pidAllocator hands out pids in increasing order, wrapping at PIDMax and
// skipping pids that are still in use.
type pidAllocator struct {
	mu   sync.Spinlock
	used bitmap.Bitmap
	last ThreadID
}

func newPIDAllocator() pidAllocator {
	return pidAllocator{used: bitmap.New(PIDMax + 1)}
}

func (p *pidAllocator) alloc() (ThreadID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < PIDMax; i++ {
		p.last++
		if p.last > PIDMax {
			p.last = 1
		}
		if !p.used.IsSet(uint32(p.last)) {
			p.used.Add(uint32(p.last))
			return p.last, nil
		}
	}
	return 0, linuxerr.EAGAIN
}

func (p *pidAllocator) release(pid ThreadID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used.Remove(uint32(pid))
}
