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
	"errors"
	"io"
	"sync"

	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/metric"
	"gvisor.dev/picokern/pkg/sentry/kernel"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

var (
	partialResultMetric = metric.MustCreateNewUint64Metric("/syscalls/partial_result", "Whether or not a partial result has occurred.")
	partialResultOnce   sync.Once
)

// handleIOError handles special error cases for partial results. For some
// errors, we may consume the error and return only the partial read/write.
//
// op and f are used only for diagnostics.
func handleIOError(t *kernel.Task, partialResult bool, err error, op string, f *vfs.FileDescription) error {
	switch {
	case err == nil:
		// Typical successful syscall.
		return nil
	case errors.Is(err, io.EOF):
		// EOF is always consumed. If this is a partial read/write
		// (result != 0), the application will see that, otherwise
		// they will see 0.
		return nil
	case !partialResult:
		// Typical syscall error.
		return err
	}

	switch {
	case linuxerr.Equals(linuxerr.EINTR, err), linuxerr.Equals(linuxerr.EAGAIN, err):
		// Interrupted or would block after a partial transfer; the
		// caller sees the partial result.
		return nil
	case linuxerr.Equals(linuxerr.EFAULT, err):
		// EFAULT is only shown the user if nothing was
		// read/written. If we read something (this case), they see
		// a partial read/write. They will then presumably try again
		// with an incremented buffer, which will EFAULT with
		// result == 0.
		return nil
	case linuxerr.Equals(linuxerr.EPIPE, err):
		// The partial write is returned. EPIPE will be returned on
		// the next call.
		return nil
	}

	// An unknown error is encountered with a partial read/write.
	t.Warningf("Invalid request partialResult %v and err (type %T) %v for %s operation on %q", partialResult, err, err, op, f.Node.Path())
	partialResultOnce.Do(partialResultMetric.Increment)
	return nil
}
