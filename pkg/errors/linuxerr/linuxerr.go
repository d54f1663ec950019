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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	"errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/picokern/pkg/abi/linux/errno"
	kerrors "gvisor.dev/picokern/pkg/errors"
)

const maxErrno uint32 = errno.Maximum

// The following errors are semantically identical to Errno of type unix.Errno.
// Since the types are distinct (these are *errors.Error), they are not
// directly comparable, but the Errno method returns a number such that
// unix.Errno(EPERM.Errno()) == unix.EPERM.
var (
	noError *kerrors.Error = nil
	EPERM                  = kerrors.New(errno.EPERM, "operation not permitted")
	ENOENT                 = kerrors.New(errno.ENOENT, "no such file or directory")
	ESRCH                  = kerrors.New(errno.ESRCH, "no such process")
	EINTR                  = kerrors.New(errno.EINTR, "interrupted system call")
	EIO                    = kerrors.New(errno.EIO, "I/O error")
	ENXIO                  = kerrors.New(errno.ENXIO, "no such device or address")
	E2BIG                  = kerrors.New(errno.E2BIG, "argument list too long")
	ENOEXEC                = kerrors.New(errno.ENOEXEC, "exec format error")
	EBADF                  = kerrors.New(errno.EBADF, "bad file number")
	ECHILD                 = kerrors.New(errno.ECHILD, "no child processes")
	EAGAIN                 = kerrors.New(errno.EAGAIN, "try again")
	ENOMEM                 = kerrors.New(errno.ENOMEM, "out of memory")
	EACCES                 = kerrors.New(errno.EACCES, "permission denied")
	EFAULT                 = kerrors.New(errno.EFAULT, "bad address")
	ENOTBLK                = kerrors.New(errno.ENOTBLK, "block device required")
	EBUSY                  = kerrors.New(errno.EBUSY, "device or resource busy")
	EEXIST                 = kerrors.New(errno.EEXIST, "file exists")
	EXDEV                  = kerrors.New(errno.EXDEV, "cross-device link")
	ENODEV                 = kerrors.New(errno.ENODEV, "no such device")
	ENOTDIR                = kerrors.New(errno.ENOTDIR, "not a directory")
	EISDIR                 = kerrors.New(errno.EISDIR, "is a directory")
	EINVAL                 = kerrors.New(errno.EINVAL, "invalid argument")
	ENFILE                 = kerrors.New(errno.ENFILE, "file table overflow")
	EMFILE                 = kerrors.New(errno.EMFILE, "too many open files")
	ENOTTY                 = kerrors.New(errno.ENOTTY, "not a typewriter")
	ETXTBSY                = kerrors.New(errno.ETXTBSY, "text file busy")
	EFBIG                  = kerrors.New(errno.EFBIG, "file too large")
	ENOSPC                 = kerrors.New(errno.ENOSPC, "no space left on device")
	ESPIPE                 = kerrors.New(errno.ESPIPE, "illegal seek")
	EROFS                  = kerrors.New(errno.EROFS, "read-only file system")
	EMLINK                 = kerrors.New(errno.EMLINK, "too many links")
	EPIPE                  = kerrors.New(errno.EPIPE, "broken pipe")
	EDOM                   = kerrors.New(errno.EDOM, "math argument out of domain of func")
	ERANGE                 = kerrors.New(errno.ERANGE, "math result not representable")

	// Errno values from include/uapi/asm-generic/errno.h.
	EDEADLK      = kerrors.New(errno.EDEADLK, "resource deadlock would occur")
	ENAMETOOLONG = kerrors.New(errno.ENAMETOOLONG, "file name too long")
	ENOLCK       = kerrors.New(errno.ENOLCK, "no record locks available")
	ENOSYS       = kerrors.New(errno.ENOSYS, "invalid system call number")
	ENOTEMPTY    = kerrors.New(errno.ENOTEMPTY, "directory not empty")
)

// errorSlice is a slice of *errors.Error indexed by errno number.
var errorSlice = []*kerrors.Error{
	errno.NOERRNO:      noError,
	errno.EPERM:        EPERM,
	errno.ENOENT:       ENOENT,
	errno.ESRCH:        ESRCH,
	errno.EINTR:        EINTR,
	errno.EIO:          EIO,
	errno.ENXIO:        ENXIO,
	errno.E2BIG:        E2BIG,
	errno.ENOEXEC:      ENOEXEC,
	errno.EBADF:        EBADF,
	errno.ECHILD:       ECHILD,
	errno.EAGAIN:       EAGAIN,
	errno.ENOMEM:       ENOMEM,
	errno.EACCES:       EACCES,
	errno.EFAULT:       EFAULT,
	errno.ENOTBLK:      ENOTBLK,
	errno.EBUSY:        EBUSY,
	errno.EEXIST:       EEXIST,
	errno.EXDEV:        EXDEV,
	errno.ENODEV:       ENODEV,
	errno.ENOTDIR:      ENOTDIR,
	errno.EISDIR:       EISDIR,
	errno.EINVAL:       EINVAL,
	errno.ENFILE:       ENFILE,
	errno.EMFILE:       EMFILE,
	errno.ENOTTY:       ENOTTY,
	errno.ETXTBSY:      ETXTBSY,
	errno.EFBIG:        EFBIG,
	errno.ENOSPC:       ENOSPC,
	errno.ESPIPE:       ESPIPE,
	errno.EROFS:        EROFS,
	errno.EMLINK:       EMLINK,
	errno.EPIPE:        EPIPE,
	errno.EDOM:         EDOM,
	errno.ERANGE:       ERANGE,
	errno.EDEADLK:      EDEADLK,
	errno.ENAMETOOLONG: ENAMETOOLONG,
	errno.ENOLCK:       ENOLCK,
	errno.ENOSYS:       ENOSYS,
	errno.ENOTEMPTY:    ENOTEMPTY,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos this kernel does
// not model map to EIO.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	e := errorSlice[errno.EIO]
	if uint32(err) < maxErrno && errorSlice[err] != nil {
		e = errorSlice[err]
	}
	return e
}

// ToError converts a linuxerr to an error type.
func ToError(err *kerrors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *kerrors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *kerrors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}

// ErrnoOf extracts the errno carried by err. ok is false if err carries
// neither an errors.Errnoer nor a unix.Errno.
func ErrnoOf(err error) (errno.Errno, bool) {
	if e, ok := kerrors.ErrnoOf(err); ok {
		return e, true
	}
	var uerr unix.Errno
	if errors.As(err, &uerr) {
		return errno.Errno(uerr), true
	}
	return 0, false
}

// Wrap annotates err with a message while keeping its errno reachable via
// ErrnoOf.
func Wrap(err *kerrors.Error, format string, v ...any) error {
	return err.Wrapf(format, v...)
}
