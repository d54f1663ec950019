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
	"encoding/binary"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// maxArgs bounds the argv and envp vectors execve copies in.
const maxArgs = 256

// copyOutStruct writes the little-endian encoding of v at addr.
func copyOutStruct(t *kernel.Task, addr hostarch.Addr, v any) error {
	buf, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		panic(err)
	}
	_, err = t.MemoryManager().CopyOut(addr, buf)
	return err
}

// copyInStruct fills v, which must be a pointer, from addr.
func copyInStruct(t *kernel.Task, addr hostarch.Addr, v any) error {
	buf := make([]byte, binary.Size(v))
	if _, err := t.MemoryManager().CopyIn(addr, buf); err != nil {
		return err
	}
	if _, err := binary.Decode(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return nil
}

// copyInPath reads a NUL-terminated path at addr.
func copyInPath(t *kernel.Task, addr hostarch.Addr) (string, error) {
	if addr == 0 {
		return "", linuxerr.EFAULT
	}
	return t.MemoryManager().CopyInString(addr, linux.PathMax)
}

// copyInVector reads a NULL-terminated vector of string pointers at addr. A
// zero addr is an empty vector.
func copyInVector(t *kernel.Task, addr hostarch.Addr) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var v []string
	for i := 0; ; i++ {
		if i == maxArgs {
			return nil, linuxerr.E2BIG
		}
		p, err := t.MemoryManager().CopyInUint64(addr + hostarch.Addr(i*8))
		if err != nil {
			return nil, err
		}
		if p == 0 {
			return v, nil
		}
		s, err := t.MemoryManager().CopyInString(hostarch.Addr(p), linux.PathMax)
		if err != nil {
			return nil, err
		}
		v = append(v, s)
	}
}
