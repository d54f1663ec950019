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
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// maxRWCount is the largest transfer one read or write performs; larger
// requests are short.
const maxRWCount = 1 << 20

// Read implements linux syscall read(2).
func Read(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	file, err := t.FDTable().Get(fd)
	if err != nil {
		return 0, nil, err
	}

	// Check that the size is legitimate.
	si := int(size)
	if si < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if si > maxRWCount {
		si = maxRWCount
	}

	buf := make([]byte, si)
	n, rerr := file.Read(t, buf)
	if n > 0 {
		if _, err := t.MemoryManager().CopyOut(addr, buf[:n]); err != nil {
			return 0, nil, err
		}
	}
	return uintptr(n), nil, handleIOError(t, n != 0, rerr, "read", file)
}
