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
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

// Open implements linux syscall open(2).
func Open(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	flags := args[1].Uint()

	path, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	n, err := t.Kernel().VFS().Open(t, path, flags)
	if err != nil {
		return 0, nil, err
	}
	fd, err := t.FDTable().NewFD(vfs.NewFileDescription(n, flags))
	if err != nil {
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// Close implements linux syscall close(2).
func Close(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	return 0, nil, t.FDTable().Remove(fd)
}
