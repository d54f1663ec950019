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
	"fmt"
)

// SlotID is the stable index of a task in the kernel's task arena.
type SlotID int32

// noSlot is the SlotID of no task.
const noSlot SlotID = -1

// runQueue is a circular doubly-linked list of task slots threaded through
// arrays indexed by SlotID. Insert, remove and advance are O(1).
//
// runQueue is not synchronized; the owning CPU's lock protects it.
type runQueue struct {
	next []SlotID
	prev []SlotID

	// head is the oldest entry; new entries are inserted before it.
	head SlotID

	// cursor is the entry the CPU last selected, or noSlot.
	cursor SlotID

	len int
}

func newRunQueue(capacity int) runQueue {
	q := runQueue{
		next:   make([]SlotID, capacity),
		prev:   make([]SlotID, capacity),
		head:   noSlot,
		cursor: noSlot,
	}
	for i := range q.next {
		q.next[i] = noSlot
		q.prev[i] = noSlot
	}
	return q
}

// contains returns true if s is linked into q.
func (q *runQueue) contains(s SlotID) bool {
	return q.next[s] != noSlot
}

// insert links s at the tail of q.
func (q *runQueue) insert(s SlotID) {
	if q.contains(s) {
		panic(fmt.Sprintf("slot %d inserted twice", s))
	}
	if q.head == noSlot {
		q.head = s
		q.next[s] = s
		q.prev[s] = s
	} else {
		tail := q.prev[q.head]
		q.next[tail] = s
		q.prev[s] = tail
		q.next[s] = q.head
		q.prev[q.head] = s
	}
	q.len++
}

// remove unlinks s. It is a no-op if s is not in q. If s is the cursor, the
// cursor moves back to s's predecessor so that the next advance selects s's
// successor.
func (q *runQueue) remove(s SlotID) {
	if !q.contains(s) {
		return
	}
	if q.len == 1 {
		q.head = noSlot
		q.cursor = noSlot
	} else {
		n, p := q.next[s], q.prev[s]
		q.next[p] = n
		q.prev[n] = p
		if q.cursor == s {
			q.cursor = p
		}
		if q.head == s {
			q.head = n
		}
	}
	q.next[s] = noSlot
	q.prev[s] = noSlot
	q.len--
}

// advance moves the cursor to the next entry, wrapping to the head, and
// returns it. It returns noSlot if q is empty.
func (q *runQueue) advance() SlotID {
	if q.cursor == noSlot {
		q.cursor = q.head
	} else {
		q.cursor = q.next[q.cursor]
	}
	return q.cursor
}

// slots returns the entries of q starting at the head.
func (q *runQueue) slots() []SlotID {
	out := make([]SlotID, 0, q.len)
	for i, s := 0, q.head; i < q.len; i, s = i+1, q.next[s] {
		out = append(out, s)
	}
	return out
}

// check verifies that q forms one closed cycle of len entries with
// consistent links.
func (q *runQueue) check() error {
	if q.len == 0 {
		if q.head != noSlot {
			return fmt.Errorf("empty queue has head %d", q.head)
		}
		return nil
	}
	s := q.head
	for i := 0; i < q.len; i++ {
		n := q.next[s]
		if n == noSlot {
			return fmt.Errorf("slot %d has no successor", s)
		}
		if q.prev[n] != s {
			return fmt.Errorf("slot %d: next %d has prev %d", s, n, q.prev[n])
		}
		s = n
	}
	if s != q.head {
		return fmt.Errorf("walk of %d entries ended at %d, not head %d", q.len, s, q.head)
	}
	return nil
}
