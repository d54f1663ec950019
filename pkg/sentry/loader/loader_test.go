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

package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
	"gvisor.dev/picokern/pkg/sentry/fsimpl/memfs"
)

var testSegments = []Segment{
	{Vaddr: 0x400000, Data: []byte{1, 0, 0, 0, 2, 0, 0, 0}, Memsz: 8, Perms: hostarch.ReadExec},
	{Vaddr: 0x600000, Data: []byte("data"), Memsz: 0x2000, Perms: hostarch.ReadWrite},
}

func mustBuild(t *testing.T, program string) []byte {
	t.Helper()
	b, err := BuildELF(program, 0x400000, testSegments)
	if err != nil {
		t.Fatalf("BuildELF failed: %v", err)
	}
	return b
}

func TestParse(t *testing.T) {
	img, err := Parse(mustBuild(t, "hello"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := &Image{Entry: 0x400000, Segments: testSegments, Program: "hello"}
	if diff := cmp.Diff(want, img); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	bad := mustBuild(t, "x")
	bad = bad[:70]
	for _, test := range []struct {
		name string
		data []byte
	}{
		{name: "truncated", data: bad},
		{name: "magic only", data: []byte("\x7fELF")},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(test.data)
			if errors.Is(err, errNotELF) {
				t.Fatalf("Parse = errNotELF for data with the ELF magic")
			}
			if errno, ok := linuxerr.ErrnoOf(err); !ok || errno != linuxerr.ENOEXEC.Errno() {
				t.Errorf("Parse = %v, want ENOEXEC", err)
			}
		})
	}
	if _, err := Parse([]byte("echo hi\n")); !errors.Is(err, errNotELF) {
		t.Errorf("Parse of text = %v, want errNotELF", err)
	}
}

func TestLoad(t *testing.T) {
	fs := memfs.New()
	for path, data := range map[string][]byte{
		"/bin/sh":      mustBuild(t, "sh"),
		"/bin/script":  []byte("#!/bin/sh -e\necho hi\n"),
		"/bin/nested":  []byte("#! /bin/script\n"),
		"/bin/plain":   []byte("echo plain\n"),
		"/bin/loop":    []byte("#!/bin/loop\n"),
		"/bin/nointrp": []byte("#!   \n"),
	} {
		if err := fs.WriteFile(path, data, 0755); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", path, err)
		}
	}
	ctx := context.Background()

	for _, test := range []struct {
		name     string
		args     LoadArgs
		wantPath string
		wantArgv []string
		wantErr  error
	}{
		{
			name:     "native",
			args:     LoadArgs{Filename: "/bin/sh", Argv: []string{"sh"}},
			wantPath: "/bin/sh",
			wantArgv: []string{"sh"},
		},
		{
			name:     "script",
			args:     LoadArgs{Filename: "/bin/script", Argv: []string{"script", "a"}},
			wantPath: "/bin/sh",
			wantArgv: []string{"/bin/sh", "-e", "/bin/script", "a"},
		},
		{
			name:     "nested script",
			args:     LoadArgs{Filename: "/bin/nested", Argv: []string{"nested"}},
			wantPath: "/bin/sh",
			wantArgv: []string{"/bin/sh", "-e", "/bin/script", "/bin/nested"},
		},
		{
			name:     "default interpreter",
			args:     LoadArgs{Filename: "/bin/plain", Argv: []string{"plain", "x"}, DefaultInterpreter: "/bin/sh"},
			wantPath: "/bin/sh",
			wantArgv: []string{"/bin/sh", "/bin/plain", "x"},
		},
		{
			name:    "no default interpreter",
			args:    LoadArgs{Filename: "/bin/plain", Argv: []string{"plain"}},
			wantErr: linuxerr.ENOEXEC,
		},
		{
			name:    "missing interpreter name",
			args:    LoadArgs{Filename: "/bin/nointrp"},
			wantErr: linuxerr.ENOEXEC,
		},
		{
			name:    "loop",
			args:    LoadArgs{Filename: "/bin/loop"},
			wantErr: linuxerr.ENOEXEC,
		},
		{
			name:    "missing file",
			args:    LoadArgs{Filename: "/bin/none"},
			wantErr: linuxerr.ENOENT,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			img, path, argv, err := Load(ctx, fs, test.args)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Load = %v, want %v", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if img.Program != "sh" || path != test.wantPath {
				t.Errorf("Load resolved %q (program %q), want %q", path, img.Program, test.wantPath)
			}
			if diff := cmp.Diff(test.wantArgv, argv); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
