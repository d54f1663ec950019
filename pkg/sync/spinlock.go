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

package sync

import (
	"runtime"
	"sync/atomic"
)

// spinsBeforeYield is how many failed acquisitions a Spinlock busy-loops
// through before giving the processor to another goroutine.
const spinsBeforeYield = 64

// Spinlock is a busy-waiting mutual exclusion lock. It must never be held
// across an operation that can block the holder, since waiters burn their
// processor until it is released.
//
// The zero value is an unlocked Spinlock.
type Spinlock struct {
	state atomic.Uint32
}

// Lock acquires l, spinning until it is available.
func (l *Spinlock) Lock() {
	for spins := 0; !l.TryLock(); spins++ {
		if spins >= spinsBeforeYield {
			// The holder may be descheduled; let it run.
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock tries to acquire l without spinning and reports whether it
// succeeded.
func (l *Spinlock) TryLock() bool {
	return l.state.Load() == 0 && l.state.CompareAndSwap(0, 1)
}

// Unlock releases l. It panics if l is not held.
func (l *Spinlock) Unlock() {
	if !l.state.CompareAndSwap(1, 0) {
		panic("sync: unlock of unlocked Spinlock")
	}
}

// Held reports whether l is currently held by anyone. It is only meaningful
// for assertions.
func (l *Spinlock) Held() bool {
	return l.state.Load() != 0
}
