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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRunQueue(t *testing.T) {
	q := newRunQueue(8)
	if got := q.advance(); got != noSlot {
		t.Fatalf("advance on empty queue = %d, want noSlot", got)
	}
	for _, s := range []SlotID{3, 1, 5, 0} {
		q.insert(s)
	}
	if diff := cmp.Diff([]SlotID{3, 1, 5, 0}, q.slots()); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}

	// Removing the cursor keeps the rotation going from its successor.
	if got := q.advance(); got != 3 {
		t.Fatalf("advance = %d, want 3", got)
	}
	q.advance()
	q.remove(1)
	q.remove(1)
	if got := q.advance(); got != 5 {
		t.Errorf("advance after removing the cursor = %d, want 5", got)
	}

	// Removing the head moves it forward; new entries go to the tail.
	q.remove(3)
	q.insert(7)
	if diff := cmp.Diff([]SlotID{5, 0, 7}, q.slots()); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
	var got []SlotID
	for i := 0; i < 4; i++ {
		got = append(got, q.advance())
	}
	if diff := cmp.Diff([]SlotID{0, 7, 5, 0}, got); diff != "" {
		t.Errorf("rotation mismatch (-want +got):\n%s", diff)
	}
	if err := q.check(); err != nil {
		t.Errorf("check: %v", err)
	}

	for _, s := range []SlotID{5, 0, 7} {
		q.remove(s)
	}
	if q.len != 0 || q.head != noSlot || q.cursor != noSlot {
		t.Errorf("drained queue: len=%d head=%d cursor=%d", q.len, q.head, q.cursor)
	}
	if err := q.check(); err != nil {
		t.Errorf("check on empty queue: %v", err)
	}
}

func TestRunQueueDoubleInsertPanics(t *testing.T) {
	q := newRunQueue(2)
	q.insert(1)
	defer func() {
		if recover() == nil {
			t.Errorf("second insert did not panic")
		}
	}()
	q.insert(1)
}

func TestRunQueueCheckDetectsCorruption(t *testing.T) {
	q := newRunQueue(4)
	q.insert(0)
	q.insert(1)
	q.insert(2)
	q.prev[2] = 0
	if err := q.check(); err == nil {
		t.Errorf("check accepted a broken prev link")
	}
}

func TestTaskArena(t *testing.T) {
	a := newTaskArena(2)
	x, y := &Task{}, &Task{}
	sx, err := a.alloc(x)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := a.alloc(y); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := a.alloc(&Task{}); err == nil {
		t.Errorf("alloc beyond capacity succeeded")
	}
	if a.get(sx) != x {
		t.Errorf("get(%d) did not return the allocated task", sx)
	}
	a.release(sx)
	if a.get(sx) != nil || a.live() != 1 {
		t.Errorf("after release: get=%v live=%d", a.get(sx), a.live())
	}
	if s, err := a.alloc(x); err != nil || s != sx {
		t.Errorf("alloc after release = %d, %v; want slot %d reused", s, err, sx)
	}
}
