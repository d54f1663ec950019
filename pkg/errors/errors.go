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

// Package errors defines the errno-carrying error returned across the
// syscall gate. Call bodies return an *Error, or wrap one with context;
// the gate recovers the errno with ErrnoOf and hands user space its
// negation.
package errors

import (
	"errors"
	"fmt"

	"gvisor.dev/picokern/pkg/abi/linux/errno"
)

// Errnoer is implemented by errors that map to a Linux errno.
type Errnoer interface {
	error
	Errno() errno.Errno
}

// Error is a Linux errno with a message. Values are shared, so compare them
// by pointer or with errors.Is.
type Error struct {
	errno   errno.Errno
	message string
}

// New returns an *Error for errno e.
func New(e errno.Errno, message string) *Error {
	return &Error{
		errno:   e,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno implements Errnoer.Errno.
func (e *Error) Errno() errno.Errno { return e.errno }

// Is reports whether target is an *Error for the same errno, so that two
// tables defining the same code agree under errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && t.errno == e.errno
}

// Wrapf returns e annotated with a formatted message. The result still
// unwraps to e.
func (e *Error) Wrapf(format string, v ...any) error {
	return &wrapped{msg: fmt.Sprintf(format, v...), err: e}
}

type wrapped struct {
	msg string
	err *Error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }

func (w *wrapped) Unwrap() error { return w.err }

// Errno implements Errnoer.Errno.
func (w *wrapped) Errno() errno.Errno { return w.err.errno }

// ErrnoOf returns the errno of the first Errnoer in err's chain.
func ErrnoOf(err error) (errno.Errno, bool) {
	var e Errnoer
	if errors.As(err, &e) {
		return e.Errno(), true
	}
	return 0, false
}
