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

package linux

import (
	"time"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// Nanosleep implements linux syscall nanosleep(2). Sleeps are never
// interrupted, so the remaining time is always zero.
func Nanosleep(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	rem := args[1].Pointer()

	var ts linux.Timespec
	if err := copyInStruct(t, addr, &ts); err != nil {
		return 0, nil, err
	}
	if !ts.Valid() {
		return 0, nil, linuxerr.EINVAL
	}
	t.Sleep(time.Duration(ts.ToNsec()))
	if rem != 0 {
		return 0, nil, copyOutStruct(t, rem, &linux.Timespec{})
	}
	return 0, nil, nil
}
