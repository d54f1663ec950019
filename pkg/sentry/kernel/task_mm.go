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
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/mm"
)

// Brk moves the program break and returns the new break. On failure, or for
// addr 0, it returns the current break.
//
// The break can only grow the last section, and never past the start of the
// mmap window. Growth that needs more frames than are free fails. Shrinking
// moves the break back but does not release pages.
func (t *Task) Brk(addr hostarch.Addr) hostarch.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr == 0 || len(t.sections) == 0 {
		return t.brk
	}
	last := &t.sections[len(t.sections)-1]
	if addr < last.Start || addr > mm.UserMmapStart {
		return t.brk
	}
	if end := last.End(); addr > end {
		pages := hostarch.PagesFor(uint64(addr - end))
		if mem := t.k.mem; pages > mem.TotalPages()-mem.UsedPages() {
			log.Debugf("task %d: brk to %v: %d pages exceed free memory", t.pid, addr, pages)
			return t.brk
		}
		if err := t.mm.MapAnonymous(end, pages, hostarch.ReadWrite); err != nil {
			log.Debugf("task %d: brk to %v: %v", t.pid, addr, err)
			return t.brk
		}
		last.Pages += pages
	}
	t.brk = addr
	return addr
}

// ProgramBreak returns the current break.
func (t *Task) ProgramBreak() hostarch.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.brk
}
