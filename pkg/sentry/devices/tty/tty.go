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

// Package tty implements the system console.
package tty

import (
	"context"
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/ksync"
	"gvisor.dev/picokern/pkg/sentry/vfs"
	"gvisor.dev/picokern/pkg/sync"
)

const (
	// See drivers/tty/tty_io.c:tty_init().
	ttyAuxMajor     = 5
	consoleDevMinor = 1
)

// Default termios flags, from include/uapi/asm-generic/termbits.h.
const (
	defaultInputFlags   = 0x500  // ICRNL | IXON
	defaultOutputFlags  = 0x5    // OPOST | ONLCR
	defaultControlFlags = 0xbf   // B38400 | CS8 | CREAD
	defaultLocalFlags   = 0x8a3b // ISIG | ICANON | ECHO | ECHOE | ECHOK | ECHOCTL | ECHOKE | IEXTEN
)

// DefaultTermios is the initial console configuration.
var DefaultTermios = linux.Termios{
	InputFlags:   defaultInputFlags,
	OutputFlags:  defaultOutputFlags,
	ControlFlags: defaultControlFlags,
	LocalFlags:   defaultLocalFlags,
	ControlCharacters: [linux.NumControlCharacters]uint8{
		3, 28, 127, 21, 4, 0, 1, 0, 17, 19, 26, 0, 18, 15, 23, 22, 0, 0, 0,
	},
}

// Console is the system console. Writers are serialized with a blocking
// mutex, so a task that finds the console busy yields its CPU.
type Console struct {
	path string
	in   io.Reader
	out  io.Writer

	// writeMu serializes writers.
	writeMu ksync.Mutex

	// mu protects termios.
	mu      sync.Mutex
	termios linux.Termios
}

var _ vfs.Terminal = (*Console)(nil)

// NewConsole returns a console at path reading from in and writing to out.
// Either may be nil.
func NewConsole(path string, in io.Reader, out io.Writer) *Console {
	return &Console{
		path:    path,
		in:      in,
		out:     out,
		termios: DefaultTermios,
	}
}

// Open implements vfs.Device.Open.
func (c *Console) Open(context.Context, uint32) (vfs.Node, error) {
	return c, nil
}

// Read implements vfs.Node.Read.
func (c *Console) Read(_ context.Context, dst []byte, _ int64) (int, error) {
	if c.in == nil {
		return 0, nil
	}
	n, err := c.in.Read(dst)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, hostError(err)
}

// Write implements vfs.Node.Write.
func (c *Console) Write(ctx context.Context, src []byte, _ int64) (int, error) {
	if c.out == nil {
		return len(src), nil
	}
	w := ksync.WaiterFromContext(ctx)
	c.writeMu.Lock(w)
	defer c.writeMu.Unlock(w)
	n, err := c.out.Write(src)
	return n, hostError(err)
}

// hostError converts an error from the host side of the console.
func hostError(err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return linuxerr.ErrorFromUnix(errno)
	}
	log.Warningf("console: host I/O failed: %v", err)
	return linuxerr.EIO
}

// Stat implements vfs.Node.Stat.
func (c *Console) Stat() linux.Stat {
	return linux.Stat{Mode: linux.ModeCharacter | 0620, Nlink: 1, Rdev: ttyAuxMajor<<8 | consoleDevMinor}
}

// Path implements vfs.Node.Path.
func (c *Console) Path() string {
	return c.path
}

// Termios implements vfs.Terminal.Termios.
func (c *Console) Termios() linux.Termios {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termios
}

// SetTermios implements vfs.Terminal.SetTermios.
func (c *Console) SetTermios(t linux.Termios) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.termios = t
	return nil
}

// Winsize implements vfs.Terminal.Winsize. The host terminal's size is
// reported when the console writes to one.
func (c *Console) Winsize() linux.Winsize {
	if f, ok := c.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if cols, rows, err := term.GetSize(int(f.Fd())); err == nil {
			return linux.Winsize{Row: uint16(rows), Col: uint16(cols)}
		}
	}
	return linux.DefaultWinsize
}

// Register registers the console in vfsObj at its path.
func Register(vfsObj *vfs.VirtualFilesystem, c *Console) error {
	return vfsObj.RegisterDevice(c.path, c)
}
