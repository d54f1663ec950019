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
	"gvisor.dev/picokern/pkg/sync"
)

// taskArena owns every task record, indexed by SlotID. Run queues link
// slots rather than tasks.
type taskArena struct {
	mu    sync.Spinlock
	tasks []*Task
	free  []SlotID
}

func newTaskArena(capacity int) taskArena {
	a := taskArena{
		tasks: make([]*Task, capacity),
		free:  make([]SlotID, 0, capacity),
	}
	// Hand out low slots first.
	for s := capacity - 1; s >= 0; s-- {
		a.free = append(a.free, SlotID(s))
	}
	return a
}

// alloc stores t in a free slot and returns it.
func (a *taskArena) alloc(t *Task) (SlotID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return noSlot, linuxerr.EAGAIN
	}
	s := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.tasks[s] = t
	return s, nil
}

// get returns the task in slot s, or nil.
func (a *taskArena) get(s SlotID) *Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks[s]
}

// release frees slot s.
func (a *taskArena) release(s SlotID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tasks[s] == nil {
		panic("release of a free task slot")
	}
	a.tasks[s] = nil
	a.free = append(a.free, s)
}

// live returns the number of occupied slots.
func (a *taskArena) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks) - len(a.free)
}
