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

package errors_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"gvisor.dev/picokern/pkg/abi/linux/errno"
	kerrors "gvisor.dev/picokern/pkg/errors"
)

func TestIs(t *testing.T) {
	ebadf := kerrors.New(errno.EBADF, "bad file number")
	other := kerrors.New(errno.EBADF, "another table's EBADF")
	einval := kerrors.New(errno.EINVAL, "invalid argument")
	wrapped := ebadf.Wrapf("fd %d", 3)

	for _, tc := range []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{name: "same", err: ebadf, target: ebadf, want: true},
		{name: "same errno", err: other, target: ebadf, want: true},
		{name: "different errno", err: einval, target: ebadf, want: false},
		{name: "wrapped", err: wrapped, target: ebadf, want: true},
		{name: "fmt wrapped", err: fmt.Errorf("read: %w", wrapped), target: other, want: true},
		{name: "foreign", err: io.EOF, target: ebadf, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := errors.Is(tc.err, tc.target); got != tc.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tc.err, tc.target, got, tc.want)
			}
		})
	}
}

func TestWrapf(t *testing.T) {
	enoent := kerrors.New(errno.ENOENT, "no such file or directory")
	err := enoent.Wrapf("open %q", "/etc/motd")
	if got, want := err.Error(), "open \"/etc/motd\": no such file or directory"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	var e kerrors.Errnoer
	if !errors.As(err, &e) || e.Errno() != errno.ENOENT {
		t.Errorf("wrapped error does not expose ENOENT")
	}
	if errors.Unwrap(err) != enoent {
		t.Errorf("Unwrap(%v) is not the original error", err)
	}
}

func TestErrnoOf(t *testing.T) {
	eio := kerrors.New(errno.EIO, "I/O error")
	for _, tc := range []struct {
		name   string
		err    error
		want   errno.Errno
		wantOK bool
	}{
		{name: "plain", err: eio, want: errno.EIO, wantOK: true},
		{name: "deep", err: fmt.Errorf("a: %w", fmt.Errorf("b: %w", eio.Wrapf("c"))), want: errno.EIO, wantOK: true},
		{name: "nil", err: nil, wantOK: false},
		{name: "foreign", err: io.ErrUnexpectedEOF, wantOK: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := kerrors.ErrnoOf(tc.err)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("ErrnoOf(%v) = (%d, %v), want (%d, %v)", tc.err, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
