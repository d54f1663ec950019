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

// Termination happens in two phases. Kill marks the task killed and
// unlinks it from its run queue at once. The CPU's reclaimer later frees its
// stacks, address space, heap and slot, once the task can no longer be
// running on them.

import (
	"runtime"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/metric"
)

var (
	tasksKilled    = metric.MustCreateNewUint64Metric("/kernel/tasks_killed", "Number of tasks killed.")
	tasksReclaimed = metric.MustCreateNewUint64Metric("/kernel/tasks_reclaimed", "Number of tasks whose resources were reclaimed.")
)

// killLocked moves t to the terminal state: it leaves the run queue, joins
// the terminated queue, and the reclaimer is woken. It returns false if t was
// already killed.
//
// Preconditions: c.mu is locked and c == t.cpu.
func (c *CPU) killLocked(t *Task, status linux.WaitStatus) bool {
	if t.state == TaskKilled {
		return false
	}
	t.state = TaskKilled
	t.killed.Store(true)
	t.exitStatus = status
	t.pending = 0
	c.rq.remove(t.slot)
	select {
	case c.terminated <- t:
	default:
		c.k.Panicf("cpu %d: terminated queue overflow", c.id)
	}
	close(t.exited)
	c.unblockLocked(c.reclaimer)
	tasksKilled.Increment()
	return true
}

// Kill terminates target with status on behalf of t, which may be nil. If
// t is target, Kill does not return. Killing a killed task is a no-op.
func (t *Task) Kill(target *Task, status linux.WaitStatus) error {
	if target.daemon {
		return linuxerr.EPERM
	}
	c := target.cpu
	c.mu.Lock()
	first := c.killLocked(target, status)
	c.mu.Unlock()
	if first {
		target.k.notifyParent(target, status)
		if t == nil || t.cpu != c {
			c.Kick()
		}
	}
	if t == target {
		t.exitKilled()
	}
	return nil
}

// Kill terminates target with status from outside any task.
func (k *Kernel) Kill(target *Task, status linux.WaitStatus) error {
	return (*Task)(nil).Kill(target, status)
}

// Exit kills t with an exit code. It does not return.
func (t *Task) Exit(code int32) {
	t.Kill(t, linux.WaitStatusExit(code))
}

// exitKilled gives up the CPU for good.
func (t *Task) exitKilled() {
	t.cpu.trap <- trap{kind: trapExit}
	runtime.Goexit()
}

// notifyParent records t's exit with its parent and raises SIGCHLD there
// carrying status. t's children are orphaned.
func (k *Kernel) notifyParent(t *Task, status linux.WaitStatus) {
	k.familyMu.Lock()
	p := t.parent
	if p != nil {
		p.exits = append(p.exits, exitRecord{pid: t.pid, status: status})
		delete(p.children, t)
		t.parent = nil
	}
	for child := range t.children {
		child.parent = nil
	}
	t.children = nil
	t.exits = nil
	k.familyMu.Unlock()

	if p != nil {
		p.Raise(linux.SIGCHLD, int(status))
	}
}

// Wait4 waits for a child to exit and returns its pid and status. pid -1 (or
// any pid <= 0) selects any child. With WNOHANG, Wait4 returns pid 0 if no
// matching child has exited yet.
func (t *Task) Wait4(pid ThreadID, options int) (ThreadID, linux.WaitStatus, error) {
	k := t.k
	for {
		k.familyMu.Lock()
		for i, e := range t.exits {
			if pid <= 0 || e.pid == pid {
				t.exits = append(t.exits[:i], t.exits[i+1:]...)
				k.familyMu.Unlock()
				return e.pid, e.status, nil
			}
		}
		if !t.hasChildLocked(pid) {
			k.familyMu.Unlock()
			return 0, 0, linuxerr.ECHILD
		}
		if options&linux.WNOHANG != 0 {
			k.familyMu.Unlock()
			return 0, 0, nil
		}
		// Block under familyMu: notifyParent appends under it and only then
		// raises SIGCHLD.
		t.prepareBlock(BlockWait)
		k.familyMu.Unlock()
		t.Park()
	}
}

// Preconditions: k.familyMu is locked.
func (t *Task) hasChildLocked(pid ThreadID) bool {
	if pid <= 0 {
		return len(t.children) > 0
	}
	for child := range t.children {
		if child.pid == pid {
			return true
		}
	}
	return false
}

// Children returns the pids of t's live children.
func (t *Task) Children() []ThreadID {
	t.k.familyMu.Lock()
	defer t.k.familyMu.Unlock()
	pids := make([]ThreadID, 0, len(t.children))
	for child := range t.children {
		pids = append(pids, child.pid)
	}
	return pids
}

// reclaimLoop is the body of a CPU's reclaimer task.
func (c *CPU) reclaimLoop(t *Task) int {
	for {
		select {
		case dead := <-c.terminated:
			c.reclaim(dead)
			continue
		default:
		}
		t.prepareBlock(BlockReclaim)
		// killLocked queues under c.mu, which prepareBlock just took.
		if len(c.terminated) > 0 {
			t.cancelBlock()
			continue
		}
		t.Park()
	}
}

// reclaim frees everything dead owns. Mutexes it held or was handed pass on.
// User tasks give back their user stack, kernel stack, sections, address
// space and heap; kernel tasks only their stack and heap. The task record
// goes last.
func (c *CPU) reclaim(dead *Task) {
	k := c.k
	if dead.user {
		dead.mm.UnmapAndFree(dead.ustack, k.userStackPages)
	}
	if err := k.kmm.VMAs().Unmap(dead.kstack); err != nil {
		dead.Warningf("releasing kernel stack %v: %v", dead.kstack, err)
	}
	dead.mu.Lock()
	sections := dead.sections
	nameBlock := dead.nameBlock
	locks := dead.locks
	dead.sections = nil
	dead.nameBlock = nil
	dead.locks = nil
	dead.mu.Unlock()
	for m := range locks {
		m.Abandon(dead)
	}
	if dead.user {
		for _, s := range sections {
			dead.mm.UnmapAndFree(s.Start, s.Pages)
		}
		// Never leave a CPU pointing at tables that are about to be freed.
		root := dead.mm.Root()
		for _, other := range k.cpus {
			other.mu.Lock()
			if other.loadedRoot == root {
				other.loadedRoot = k.kmm.Root()
				addressSpaceSwitches.Increment()
			}
			other.mu.Unlock()
		}
		dead.mm.Release()
	}
	if nameBlock != nil {
		nameBlock.Free()
	}
	dead.heap.Release()
	dead.fds.RemoveAll()
	k.pids.release(dead.pid)
	k.arena.release(dead.slot)
	close(dead.resume)
	tasksReclaimed.Increment()
	dead.Debugf("reclaimed")
}
