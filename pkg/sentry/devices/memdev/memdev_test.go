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

package memdev

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

type recorder struct {
	lines []string
}

func (r *recorder) Emit(_ int, _ log.Level, _ time.Time, format string, v ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

type prefixed struct {
	context.Context
}

func (prefixed) LogPrefix() string { return "[1:init] " }

func TestLogDevice(t *testing.T) {
	old := log.Log().Emitter
	r := &recorder{}
	log.SetTarget(r)
	defer log.SetTarget(old)

	d := NewLogDevice("/dev/log")
	ctx := prefixed{context.Background()}
	for _, s := range []string{"one\ntw", "o\n", "three"} {
		if n, err := d.Write(ctx, []byte(s), 0); err != nil || n != len(s) {
			t.Fatalf("Write(%q) = (%d, %v)", s, n, err)
		}
	}
	d.Flush(ctx)
	want := []string{"[1:init] one", "[1:init] two", "[1:init] three"}
	if diff := cmp.Diff(want, r.lines); diff != "" {
		t.Errorf("log lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRegister(t *testing.T) {
	v := vfs.New(memfs.New())
	if err := Register(v, NewLogDevice("/dev/log")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	n, err := v.Open(context.Background(), "/dev/null", 0)
	if err != nil {
		t.Fatalf("Open(/dev/null) failed: %v", err)
	}
	if c, err := n.Write(context.Background(), make([]byte, 100), 0); c != 100 || err != nil {
		t.Errorf("Write to /dev/null = (%d, %v), want (100, nil)", c, err)
	}
	if c, err := n.Read(context.Background(), make([]byte, 10), 0); c != 0 || err != nil {
		t.Errorf("Read from /dev/null = (%d, %v), want (0, nil)", c, err)
	}
}
