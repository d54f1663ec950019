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

// WaitStatus is a wait(2) status word.
type WaitStatus uint32

// WaitStatusExit returns the status word of a task that exited with code.
func WaitStatusExit(code int32) WaitStatus {
	return WaitStatus(uint32(code&0xff) << 8)
}

// WaitStatusSignal returns the status word of a task killed by sig.
func WaitStatusSignal(sig Signal) WaitStatus {
	return WaitStatus(uint32(sig) & 0x7f)
}

// Exited returns true if the task exited normally.
func (ws WaitStatus) Exited() bool {
	return ws&0x7f == 0
}

// ExitStatus returns the exit code. It is only meaningful if Exited.
func (ws WaitStatus) ExitStatus() int {
	return int(ws>>8) & 0xff
}

// Signaled returns true if the task was terminated by a signal.
func (ws WaitStatus) Signaled() bool {
	return ws&0x7f != 0 && ws&0x7f != 0x7f
}

// TerminationSignal returns the signal that terminated the task.
func (ws WaitStatus) TerminationSignal() Signal {
	return Signal(ws & 0x7f)
}

// Timespec represents struct timespec in <time.h>.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// SizeOfTimespec is the encoded size of Timespec.
const SizeOfTimespec = 16

// ToNsec returns the nanosecond representation.
func (ts Timespec) ToNsec() int64 {
	return ts.Sec*1e9 + ts.Nsec
}

// Valid returns whether the timespec contains valid values.
func (ts Timespec) Valid() bool {
	return ts.Sec >= 0 && ts.Nsec >= 0 && ts.Nsec < 1e9
}

// wait4(2) options.
const (
	WNOHANG = 0x1
)
