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

	"github.com/mohae/deepcopy"
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/metric"
)

var (
	signalsRaised     = metric.MustCreateNewUint64Metric("/kernel/signals_raised", "Number of signals raised.")
	signalsDispatched = metric.MustCreateNewUint64Metric("/kernel/signals_dispatched", "Number of signals dispatched to a handler.")
)

// SignalAction is the behavior a signal handler selects.
type SignalAction int

const (
	// SignalDefault selects the signal's default action.
	SignalDefault SignalAction = iota

	// SignalIgnore discards the signal.
	SignalIgnore

	// SignalTerminate kills the task.
	SignalTerminate

	// SignalReap records the signal's argument as the last child exit
	// status.
	SignalReap

	// SignalCallback invokes a registered callback.
	SignalCallback
)

func (a SignalAction) String() string {
	switch a {
	case SignalDefault:
		return "Default"
	case SignalIgnore:
		return "Ignore"
	case SignalTerminate:
		return "Terminate"
	case SignalReap:
		return "Reap"
	case SignalCallback:
		return "Callback"
	default:
		return fmt.Sprintf("SignalAction(%d)", int(a))
	}
}

// CallbackID names a callback registered with Kernel.RegisterSignalCallback.
type CallbackID int

// SignalHandler is one entry of a task's handler table.
type SignalHandler struct {
	Action SignalAction

	// Callback is the registered callback for SignalCallback.
	Callback CallbackID
}

// SignalFunc runs on behalf of t, before t resumes, on the CPU that
// schedules t. It must not block.
type SignalFunc func(t *Task, sig linux.Signal, arg int)

// ignoredByDefault are the signals whose default action is to do nothing.
var ignoredByDefault = linux.MakeSignalSet(linux.SIGCHLD, linux.SIGURG, linux.SIGWINCH, linux.SIGCONT)

func defaultAction(sig linux.Signal) SignalAction {
	if linux.MakeSignalSet(sig)&ignoredByDefault != 0 {
		return SignalIgnore
	}
	return SignalTerminate
}

// defaultHandlers is the handler table of a new task.
func defaultHandlers() map[linux.Signal]SignalHandler {
	return map[linux.Signal]SignalHandler{
		linux.SIGCHLD: {Action: SignalReap},
		linux.SIGINT:  {Action: SignalTerminate},
	}
}

// RegisterSignalCallback makes fn available to SignalCallback handlers.
func (k *Kernel) RegisterSignalCallback(fn SignalFunc) CallbackID {
	k.callbacksMu.Lock()
	defer k.callbacksMu.Unlock()
	k.callbacks = append(k.callbacks, fn)
	return CallbackID(len(k.callbacks) - 1)
}

func (k *Kernel) signalCallback(id CallbackID) SignalFunc {
	k.callbacksMu.RLock()
	defer k.callbacksMu.RUnlock()
	if id < 0 || int(id) >= len(k.callbacks) {
		return nil
	}
	return k.callbacks[id]
}

// SetSignalHandler installs h for sig. SIGKILL cannot be handled.
func (t *Task) SetSignalHandler(sig linux.Signal, h SignalHandler) error {
	if !sig.IsValid() || sig == linux.SIGKILL {
		return linuxerr.EINVAL
	}
	if h.Action == SignalCallback && t.k.signalCallback(h.Callback) == nil {
		return linuxerr.EINVAL
	}
	c := t.cpu
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.Action == SignalDefault {
		delete(t.handlers, sig)
	} else {
		t.handlers[sig] = h
	}
	return nil
}

// SignalHandler returns the handler installed for sig.
func (t *Task) SignalHandler(sig linux.Signal) SignalHandler {
	c := t.cpu
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.handlers[sig]
}

// copyHandlers returns a deep copy of t's handler table.
func (t *Task) copyHandlers() map[linux.Signal]SignalHandler {
	c := t.cpu
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepcopy.Copy(t.handlers).(map[linux.Signal]SignalHandler)
}

// Pending returns t's undelivered signals.
func (t *Task) Pending() linux.SignalSet {
	c := t.cpu
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.pending
}

// Raise marks sig pending on t with arg as its extra argument. The signal is
// dispatched on t's next scheduling slot, before t's own code resumes.
// Raise may be called from any goroutine.
func (t *Task) Raise(sig linux.Signal, arg int) error {
	if !sig.IsValid() {
		return linuxerr.EINVAL
	}
	if t.daemon {
		return linuxerr.EPERM
	}
	c := t.cpu
	c.mu.Lock()
	if t.state == TaskKilled {
		c.mu.Unlock()
		return nil
	}
	t.pending |= linux.MakeSignalSet(sig)
	t.sigArgs[sig.Index()] = arg
	if t.state != TaskFresh {
		t.state = TaskSignal
	}
	c.mu.Unlock()
	signalsRaised.Increment()
	c.Kick()
	return nil
}

// dispatchLocked delivers t's pending signals. Built-in actions run
// immediately; callbacks and the parent notification of a kill are queued
// on work.
//
// Preconditions: c.mu is locked.
func (c *CPU) dispatchLocked(t *Task, work *deferredWork) {
	pending := t.pending
	t.pending = 0
	linux.ForEachSignal(pending, func(sig linux.Signal) {
		arg := t.sigArgs[sig.Index()]
		t.sigArgs[sig.Index()] = 0
		if t.state == TaskKilled {
			return
		}
		signalsDispatched.Increment()
		h := t.handlers[sig]
		if sig == linux.SIGKILL {
			h = SignalHandler{Action: SignalTerminate}
		}
		action := h.Action
		if action == SignalDefault {
			action = defaultAction(sig)
		}
		switch action {
		case SignalIgnore:
		case SignalTerminate:
			status := linux.WaitStatusSignal(sig)
			if c.killLocked(t, status) {
				work.killed = append(work.killed, exitRecordOf{t: t, status: status})
			}
		case SignalReap:
			t.lastChildStatus = linux.WaitStatus(arg)
		case SignalCallback:
			fn := c.k.signalCallback(h.Callback)
			if fn == nil {
				log.Warningf("task %d: signal %d has unknown callback %d", t.pid, sig, h.Callback)
				return
			}
			work.callbacks = append(work.callbacks, callbackCall{t: t, fn: fn, sig: sig, arg: arg})
		default:
			panic(fmt.Sprintf("unknown signal action %v", action))
		}
	})
}
