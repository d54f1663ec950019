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

package tty

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
)

type failingWriter struct {
	err error
}

func (f failingWriter) Write([]byte) (int, error) {
	return 0, f.err
}

func TestConsoleIO(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole("/dev/console", strings.NewReader("ls\n"), &out)
	ctx := context.Background()
	if n, err := c.Write(ctx, []byte("$ "), 0); err != nil || n != 2 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if out.String() != "$ " {
		t.Errorf("output = %q, want %q", out.String(), "$ ")
	}
	buf := make([]byte, 16)
	n, err := c.Read(ctx, buf, 0)
	if err != nil || string(buf[:n]) != "ls\n" {
		t.Errorf("Read = (%q, %v)", buf[:n], err)
	}
	if n, err := c.Read(ctx, buf, 0); n != 0 || err != nil {
		t.Errorf("Read at EOF = (%d, %v), want (0, nil)", n, err)
	}
	if c.writeMu.Owner() != nil {
		t.Errorf("write lock still held")
	}
}

func TestConsoleHostErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		err  error
		want error
	}{
		{name: "errno", err: unix.EPIPE, want: linuxerr.EPIPE},
		{name: "untyped", err: bytes.ErrTooLarge, want: linuxerr.EIO},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := NewConsole("/dev/console", nil, failingWriter{test.err})
			if _, err := c.Write(context.Background(), []byte("x"), 0); err != test.want {
				t.Errorf("Write = %v, want %v", err, test.want)
			}
		})
	}
}

func TestTermios(t *testing.T) {
	c := NewConsole("/dev/console", nil, nil)
	if diff := cmp.Diff(DefaultTermios, c.Termios()); diff != "" {
		t.Errorf("initial termios mismatch (-want +got):\n%s", diff)
	}
	raw := DefaultTermios
	raw.LocalFlags = 0
	if err := c.SetTermios(raw); err != nil {
		t.Fatalf("SetTermios failed: %v", err)
	}
	if got := c.Termios(); got.LocalFlags != 0 {
		t.Errorf("LocalFlags = %#x after SetTermios, want 0", got.LocalFlags)
	}
	if got := c.Winsize(); got != linux.DefaultWinsize {
		t.Errorf("Winsize() = %+v, want %+v", got, linux.DefaultWinsize)
	}
}
