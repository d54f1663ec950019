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
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/sentry/arch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// ArchPrctl implements linux syscall arch_prctl(2). Only the user thread
// pointer (FS) can be accessed.
func ArchPrctl(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	switch args[0].Int() {
	case linux.ARCH_GET_FS:
		addr := args[1].Pointer()
		fs := t.ThreadPointers().FS
		if err := t.MemoryManager().CopyOutUint64(addr, fs); err != nil {
			return 0, nil, err
		}
	case linux.ARCH_SET_FS:
		fs := args[1].Uint64()
		t.SetThreadPointer(fs)
	case linux.ARCH_GET_GS, linux.ARCH_SET_GS:
		return 0, nil, linuxerr.EPERM
	default:
		return 0, nil, linuxerr.EINVAL
	}
	return 0, nil, nil
}
