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

// Package loader loads executable images: native ELF binaries, and anything
// else through an interpreter.
package loader

import (
	"context"
	"errors"

	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/vfs"
)

// maxLoaderAttempts is the maximum number of attempts to try to load an
// interpreter script, to prevent loops. 6 (initial + 5 changes) comes from
// fs/binfmt_script.c in Linux.
const maxLoaderAttempts = 6

// Opener resolves paths to nodes.
type Opener interface {
	Open(ctx context.Context, path string, flags uint32) (vfs.Node, error)
}

// LoadArgs holds the arguments to Load.
type LoadArgs struct {
	// Filename is the path of the executable.
	Filename string

	// Argv is the argument vector.
	Argv []string

	// DefaultInterpreter runs images that are neither ELF nor #! scripts.
	// If empty, such images fail with ENOEXEC.
	DefaultInterpreter string
}

// Load resolves args.Filename to a parsed ELF image, following interpreter
// scripts. It returns the image, the path of the ELF binary finally loaded,
// and the argument vector to run it with.
func Load(ctx context.Context, fs Opener, args LoadArgs) (*Image, string, []string, error) {
	filename, argv := args.Filename, args.Argv
	for i := 0; i < maxLoaderAttempts; i++ {
		n, err := fs.Open(ctx, filename, 0)
		if err != nil {
			log.Infof("Error opening %s: %v", filename, err)
			return nil, "", nil, err
		}
		data, err := vfs.ReadAll(ctx, n)
		if err != nil {
			return nil, "", nil, err
		}
		img, err := Parse(data)
		if err == nil {
			return img, filename, argv, nil
		}
		if !errors.Is(err, errNotELF) {
			log.Infof("Error loading ELF %s: %v", filename, err)
			return nil, "", nil, err
		}
		filename, argv, err = parseInterpreterScript(filename, data, argv, args.DefaultInterpreter)
		if err != nil {
			log.Infof("Error loading interpreter script %s: %v", args.Filename, err)
			return nil, "", nil, err
		}
	}
	return nil, "", nil, linuxerr.Wrap(linuxerr.ENOEXEC, "too many interpreter levels for %s", args.Filename)
}
