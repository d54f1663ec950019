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

// Package ktime provides the monotonic tick counter the scheduler runs on.
package ktime

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Time is a point on a monotonic clock, in microseconds since the clock's
// zero.
type Time int64

// Forever is a deadline that never elapses.
const Forever = Time(math.MaxInt64)

// FromDuration returns the Time d after the zero time.
func FromDuration(d time.Duration) Time {
	return Time(d.Microseconds())
}

// Microseconds returns t in microseconds.
func (t Time) Microseconds() int64 {
	return int64(t)
}

// Add returns t+d, saturating at Forever.
func (t Time) Add(d time.Duration) Time {
	if t == Forever {
		return Forever
	}
	us := d.Microseconds()
	if us > 0 && int64(t) > math.MaxInt64-us {
		return Forever
	}
	return t + Time(us)
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	return time.Duration(t-u) * time.Microsecond
}

// Before returns true if t is before u.
func (t Time) Before(u Time) bool {
	return t < u
}

// String implements fmt.Stringer.String.
func (t Time) String() string {
	if t == Forever {
		return "forever"
	}
	return fmt.Sprintf("%dus", int64(t))
}

// Clock is the monotonic counter a CPU reads its deadlines against.
type Clock interface {
	// Now returns the current time.
	Now() Time

	// Elapse reports that a scheduling slot of d ran on some CPU.
	Elapse(d time.Duration)

	// Idle halts the calling CPU until wake fires or period passes.
	Idle(wake <-chan struct{}, period time.Duration)
}

// ManualClock is a deterministic Clock. Time only moves when a CPU reports a
// slot or halts.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a ManualClock at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now implements Clock.Now.
func (c *ManualClock) Now() Time {
	return Time(c.now.Load())
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(d.Microseconds())
}

// Elapse implements Clock.Elapse.
func (c *ManualClock) Elapse(d time.Duration) {
	c.Advance(d)
}

// Idle implements Clock.Idle. It never blocks; a halted CPU simply lets one
// period pass.
func (c *ManualClock) Idle(wake <-chan struct{}, period time.Duration) {
	select {
	case <-wake:
	default:
		c.Advance(period)
	}
}

// HostClock is a Clock backed by the host's monotonic time.
type HostClock struct {
	start time.Time
}

// NewHostClock returns a HostClock whose zero is now.
func NewHostClock() *HostClock {
	return &HostClock{start: time.Now()}
}

// Now implements Clock.Now.
func (c *HostClock) Now() Time {
	return FromDuration(time.Since(c.start))
}

// Elapse implements Clock.Elapse.
func (c *HostClock) Elapse(time.Duration) {}

// Idle implements Clock.Idle.
func (c *HostClock) Idle(wake <-chan struct{}, period time.Duration) {
	t := time.NewTimer(period)
	defer t.Stop()
	select {
	case <-wake:
	case <-t.C:
	}
}
