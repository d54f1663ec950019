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

// Kill implements linux syscall kill(2). Only single-task targets are
// supported; signal 0 checks that the target exists.
func Kill(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ThreadID(args[0].Int())
	sig := linux.Signal(args[1].Int())

	if pid <= 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if sig != 0 && !sig.IsValid() {
		return 0, nil, linuxerr.EINVAL
	}
	target := t.Kernel().FindTask(pid)
	if target == nil || target.Killed() {
		return 0, nil, linuxerr.ESRCH
	}
	if sig == 0 {
		return 0, nil, nil
	}
	t.Debugf("kill(%d, %v)", pid, sig)
	return 0, nil, target.Raise(sig, 0)
}
