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
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

// Ioctl implements linux syscall ioctl(2).
//
// FIOGETPATH takes a buffer and its size as the third and fourth arguments
// and returns the length of the path written, excluding the terminator.
func Ioctl(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	request := args[1].Uint()
	addr := args[2].Pointer()

	file, err := t.FDTable().Get(fd)
	if err != nil {
		return 0, nil, err
	}

	if request == linux.FIOGETPATH {
		path := file.Node.Path()
		size := args[3].SizeT()
		if uint(len(path))+1 > size {
			return 0, nil, linuxerr.ERANGE
		}
		if _, err := t.MemoryManager().CopyOut(addr, append([]byte(path), 0)); err != nil {
			return 0, nil, err
		}
		return uintptr(len(path)), nil, nil
	}

	term, ok := file.Node.(vfs.Terminal)
	if !ok {
		return 0, nil, linuxerr.ENOTTY
	}
	switch request {
	case linux.TCGETS:
		termios := term.Termios()
		return 0, nil, copyOutStruct(t, addr, &termios)
	case linux.TCSETS:
		var termios linux.Termios
		if err := copyInStruct(t, addr, &termios); err != nil {
			return 0, nil, err
		}
		return 0, nil, term.SetTermios(termios)
	case linux.TIOCGWINSZ:
		ws := term.Winsize()
		return 0, nil, copyOutStruct(t, addr, &ws)
	default:
		return 0, nil, linuxerr.ENOTTY
	}
}
