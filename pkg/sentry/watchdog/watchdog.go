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

// Package watchdog is responsible for monitoring the kernel for CPUs that
// stop making progress. Kernel tasks are only preempted at their yield and
// block points, so a kernel task that never reaches one holds its CPU
// forever; so does a task goroutine wedged on a host lock.
//
// The watchdog periodically samples every CPU. A CPU whose task goroutine
// has held it for longer than the task timeout is reported once per slot,
// together with the stacks of the stuck goroutines.
package watchdog

import (
	"bytes"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/sentry/kernel"
	"gvisor.dev/picokern/pkg/sync"
)

// DefaultTimeout is a reasonable timeout value for most workloads.
const DefaultTimeout = 10 * time.Second

var stuckTasks = metric.MustCreateNewUint64Metric("/watchdog/stuck_tasks_detected", "The number of times the watchdog found a CPU held by the same task for longer than the timeout.")

// Opts configures the watchdog.
type Opts struct {
	// TaskTimeout is the amount of time to allow a task goroutine to hold
	// its CPU before it's considered stuck.
	TaskTimeout time.Duration

	// TaskTimeoutAction indicates what action to take when a stuck task is
	// detected.
	TaskTimeoutAction Action

	// Period is how often the CPUs are sampled. Zero means a third of
	// TaskTimeout.
	Period time.Duration
}

// DefaultOpts is a default set of options for the watchdog.
var DefaultOpts = Opts{
	TaskTimeout:       DefaultTimeout,
	TaskTimeoutAction: LogWarning,
}

// stackDumpSameTaskPeriod is the minimum interval between stack dumps.
const stackDumpSameTaskPeriod = time.Minute

// Action defines what action to take when an issue is detected.
type Action int

const (
	// LogWarning logs warning message followed by stack trace.
	LogWarning Action = iota

	// Panic will do the same logging as LogWarning and panic().
	Panic
)

// Set implements flag.Value.
func (a *Action) Set(v string) error {
	switch v {
	case "log", "logwarning", "logWarning":
		*a = LogWarning
	case "panic":
		*a = Panic
	default:
		return fmt.Errorf("invalid watchdog action %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (a *Action) Get() any {
	return *a
}

// String returns Action's string representation.
func (a Action) String() string {
	switch a {
	case LogWarning:
		return "logWarning"
	case Panic:
		return "panic"
	default:
		panic(fmt.Sprintf("Invalid watchdog action: %d", a))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	return a.Set(string(b))
}

// Sampler is the view of a CPU the watchdog needs.
type Sampler interface {
	ID() int
	Slot() kernel.SlotInfo
}

// Watchdog is the main watchdog class. It controls a goroutine that
// periodically samples every CPU.
type Watchdog struct {
	// Configuration options are embedded.
	Opts

	// cpus are the sampled CPUs. Immutable.
	cpus []Sampler

	// stop is used to notify to watchdog should stop.
	stop chan struct{}

	// done is used to notify when the watchdog has stopped.
	done chan struct{}

	// reported is the slot last reported for each CPU. It is only accessed
	// by the watchdog goroutine.
	reported map[int]uint64

	// lastStackDump is the time of the last stack dump.
	lastStackDump time.Time

	// mu protects the fields below.
	mu sync.Mutex

	// running is true if the watchdog is running.
	running bool
}

// New creates a new watchdog over k's CPUs.
func New(k *kernel.Kernel, opts Opts) *Watchdog {
	cpus := make([]Sampler, 0, len(k.CPUs()))
	for _, c := range k.CPUs() {
		cpus = append(cpus, c)
	}
	return newWatchdog(cpus, opts)
}

func newWatchdog(cpus []Sampler, opts Opts) *Watchdog {
	if opts.Period == 0 {
		opts.Period = opts.TaskTimeout / 3
	}
	return &Watchdog{
		Opts:     opts,
		cpus:     cpus,
		reported: make(map[int]uint64),
	}
}

// Start starts the watchdog. A zero TaskTimeout disables it.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.TaskTimeout == 0 {
		log.Infof("Watchdog task timeout disabled")
		return
	}
	if w.running {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	log.Infof("Watchdog starting loop, cpus: %d, timeout: %v, period: %v", len(w.cpus), w.TaskTimeout, w.Period)
	go w.loop()
}

// Stop requests the watchdog to stop and wait for it.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stop)
	<-w.done
	w.running = false
	log.Infof("Watchdog stopped")
}

// loop is the main watchdog routine. It only returns when 'Stop()' is called.
func (w *Watchdog) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.Period)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			w.runTurn(now)
		}
	}
}

// runTurn samples every CPU once.
func (w *Watchdog) runTurn(now time.Time) {
	var stuck []stuckCPU
	for _, c := range w.cpus {
		s := c.Slot()
		if s.Task == nil || now.Sub(s.Since) < w.TaskTimeout {
			continue
		}
		if seq, ok := w.reported[c.ID()]; ok && seq == s.Seq {
			// Already reported.
			continue
		}
		w.reported[c.ID()] = s.Seq
		stuck = append(stuck, stuckCPU{cpu: c.ID(), slot: s, held: now.Sub(s.Since)})
	}
	if len(stuck) > 0 {
		w.report(now, stuck)
	}
}

type stuckCPU struct {
	cpu  int
	slot kernel.SlotInfo
	held time.Duration
}

// report takes appropriate action when stuck CPUs are detected.
func (w *Watchdog) report(now time.Time, stuck []stuckCPU) {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Watchdog found %d stuck CPUs:", len(stuck)))
	goroutines := make(map[int64]struct{})
	for _, s := range stuck {
		stuckTasks.Increment()
		t := s.slot.Task
		buf.WriteString(fmt.Sprintf("\n\tCPU %d: task %d (%s, goroutine %d) running for %v", s.cpu, t.PID(), t.Name(), t.GoroutineID(), s.held.Round(time.Millisecond)))
		if id := t.GoroutineID(); id != 0 {
			goroutines[id] = struct{}{}
		}
	}
	if now.Sub(w.lastStackDump) >= stackDumpSameTaskPeriod || w.TaskTimeoutAction == Panic {
		w.lastStackDump = now
		buf.WriteString("\nStuck goroutines:")
		buf.Write(stuckGoroutineStacks(allStacks(), goroutines))
	}
	msg := buf.String()
	log.Warningf("%s", msg)
	if w.TaskTimeoutAction == Panic {
		panic(msg)
	}
}

// allStacks returns the stacks of every goroutine.
func allStacks() []byte {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// goroutineHeader matches the first line of a goroutine dump and captures
// the goroutine id and its wait state.
var goroutineHeader = regexp.MustCompile(`^goroutine (\d+)[^\[]*\[([^,\]]*)`)

// stuckGoroutineStacks filters a full dump down to the goroutines of stuck
// tasks and goroutines waiting on a lock, which are likely to be what the
// stuck tasks wait for.
func stuckGoroutineStacks(stacks []byte, stuck map[int64]struct{}) []byte {
	var out bytes.Buffer
	first := true
	for _, g := range bytes.Split(stacks, []byte("\n\n")) {
		m := goroutineHeader.FindSubmatch(g)
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(string(m[1]), 10, 64)
		if err != nil {
			continue
		}
		_, isStuck := stuck[id]
		if !isStuck && !bytes.HasPrefix(m[2], []byte("sync.")) && !bytes.HasPrefix(m[2], []byte("semacquire")) {
			continue
		}
		if first {
			out.WriteByte('\n')
			first = false
		} else {
			out.WriteString("\n\n")
		}
		out.Write(bytes.TrimSuffix(g, []byte("\n")))
	}
	if !first {
		out.WriteByte('\n')
	}
	return out.Bytes()
}
