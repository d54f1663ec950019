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

package ksync

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// deadWaiter refuses every wake.
type deadWaiter struct {
	ChannelWaiter
}

func (*deadWaiter) Wake() bool { return false }

func TestBasicLock(t *testing.T) {
	var m Mutex
	a, b := NewChannelWaiter(), NewChannelWaiter()
	m.Lock(a)

	// Try blocking lock the mutex from a different goroutine. This must
	// block because the mutex is held.
	ch := make(chan struct{}, 1)
	go func() {
		m.Lock(b)
		ch <- struct{}{}
		m.Unlock(b)
		ch <- struct{}{}
	}()

	select {
	case <-ch:
		t.Fatalf("Lock succeeded on locked mutex")
	case <-time.After(100 * time.Millisecond):
	}

	// Unlock the mutex and make sure that the goroutine waiting on Lock()
	// unblocks and succeeds.
	m.Unlock(a)

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("Lock failed to acquire unlocked mutex")
	}
	<-ch
	if m.Owner() != nil {
		t.Errorf("Owner() = %v, want nil", m.Owner())
	}
}

func TestOwnerRelock(t *testing.T) {
	var m Mutex
	a := NewChannelWaiter()
	m.Lock(a)
	m.Lock(a)
	if m.Owner() != a {
		t.Fatalf("Owner() != a after relock")
	}
	m.Unlock(a)
	if m.Owner() != nil {
		t.Errorf("relock nested: mutex still held after one Unlock")
	}
}

func TestTryLock(t *testing.T) {
	var m Mutex
	a, b := NewChannelWaiter(), NewChannelWaiter()
	if !m.TryLock(a) {
		t.Fatalf("TryLock failed on unlocked mutex")
	}
	if m.TryLock(b) {
		t.Fatalf("TryLock succeeded on locked mutex")
	}
	m.Unlock(a)
	if !m.TryLock(b) {
		t.Fatalf("TryLock failed after Unlock")
	}
}

func TestUnlockNotOwner(t *testing.T) {
	var m Mutex
	a, b := NewChannelWaiter(), NewChannelWaiter()
	m.Lock(a)
	defer func() {
		if recover() == nil {
			t.Errorf("Unlock by non-owner did not panic")
		}
	}()
	m.Unlock(b)
}

func TestFIFOHandoff(t *testing.T) {
	var m Mutex
	owner := NewChannelWaiter()
	m.Lock(owner)

	const n = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		w := NewChannelWaiter()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Lock(w)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			m.Unlock(w)
		}(i)
		// Wait for the goroutine to queue before starting the next one.
		for m.Waiters() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}
	m.Unlock(owner)
	wg.Wait()

	want := []int{0, 1, 2, 3, 4}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("acquisition order mismatch (-want +got):\n%s", diff)
	}
}

func TestHandoffSkipsDeadWaiters(t *testing.T) {
	var m Mutex
	a := NewChannelWaiter()
	m.Lock(a)
	dead := &deadWaiter{ChannelWaiter{ch: make(chan struct{}, 1)}}
	m.waiters = append(m.waiters, dead)
	live := NewChannelWaiter()
	done := make(chan struct{})
	go func() {
		m.Lock(live)
		close(done)
	}()
	for m.Waiters() != 2 {
		time.Sleep(time.Millisecond)
	}
	m.Unlock(a)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("live waiter never acquired the mutex")
	}
	if m.Owner() != live {
		t.Errorf("Owner() is not the live waiter")
	}
}

func TestMutualExclusion(t *testing.T) {
	var m Mutex

	// Test mutual exclusion by running "gr" goroutines concurrently, and
	// have each one increment a counter "iters" times within the critical
	// section established by the mutex.
	const gr = 50
	const iters = 1000
	v := 0
	var wg sync.WaitGroup
	for i := 0; i < gr; i++ {
		wg.Add(1)
		go func() {
			w := NewChannelWaiter()
			for j := 0; j < iters; j++ {
				m.Lock(w)
				v++
				m.Unlock(w)
			}
			wg.Done()
		}()
	}
	wg.Wait()
	if v != gr*iters {
		t.Fatalf("Bad count: got %v, want %v", v, gr*iters)
	}
}

// recordingHolder tracks the mutexes it was told to hold.
type recordingHolder struct {
	*ChannelWaiter
	held map[*Mutex]bool
}

func (h *recordingHolder) Hold(m *Mutex) { h.held[m] = true }
func (h *recordingHolder) Drop(m *Mutex) { delete(h.held, m) }

func TestHolderRecords(t *testing.T) {
	var m, n Mutex
	h := &recordingHolder{NewChannelWaiter(), make(map[*Mutex]bool)}
	m.Lock(h)
	if !h.held[&m] {
		t.Errorf("Lock did not record the mutex")
	}
	other := NewChannelWaiter()
	n.Lock(other)
	if n.TryLock(h) {
		t.Fatalf("TryLock succeeded on locked mutex")
	}
	if h.held[&n] {
		t.Errorf("failed TryLock left the mutex recorded")
	}
	m.Unlock(h)
	if len(h.held) != 0 {
		t.Errorf("held = %v after Unlock, want empty", h.held)
	}
}

func TestAbandonPassesHandoffOn(t *testing.T) {
	var m Mutex
	a, b, c := NewChannelWaiter(), NewChannelWaiter(), NewChannelWaiter()
	m.Lock(a)
	m.waiters = append(m.waiters, b, c)

	// b is handed m but never runs to take it.
	m.Unlock(a)
	if m.Owner() != b {
		t.Fatalf("Owner() is not the first waiter")
	}
	m.Abandon(b)
	if m.Owner() != c {
		t.Errorf("Owner() after abandoning the handoff is not the next waiter")
	}
	m.Abandon(c)
	if m.Owner() != nil {
		t.Errorf("Owner() = %v after abandoning the last owner, want nil", m.Owner())
	}
	if !m.TryLock(a) {
		t.Errorf("TryLock failed after every holder was abandoned")
	}
}

func TestAbandonQueued(t *testing.T) {
	var m Mutex
	a, b, c := NewChannelWaiter(), NewChannelWaiter(), NewChannelWaiter()
	m.Lock(a)
	m.waiters = append(m.waiters, b, c)
	m.Abandon(b)
	if got := m.Waiters(); got != 1 {
		t.Fatalf("Waiters() = %d after Abandon, want 1", got)
	}
	m.Unlock(a)
	if m.Owner() != c {
		t.Errorf("Owner() is not the remaining waiter")
	}
}
