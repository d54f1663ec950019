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

// Package userland provides the built-in user programs of the boot image:
// init, a line-oriented shell and a few small utilities, and installs them
// into a filesystem as executables.
package userland

import (
	"fmt"

	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/picokern/pkg/sentry/kernel"
)

// Paths of the boot image.
const (
	InitPath  = "/sbin/init"
	ShellPath = "/bin/sh"
	RCPath    = "/etc/rc"
	MotdPath  = "/etc/motd"
)

// DefaultRC is the boot script init runs.
const DefaultRC = `#!/bin/sh
# Boot script run by init.
/bin/hello
/bin/echo picokern is up
/bin/cat /etc/motd
`

// Motd is the message of the day.
const Motd = "Welcome to picokern.\n"

// Programs returns the built-in programs keyed by install path.
func Programs() map[string]*kernel.Program {
	return map[string]*kernel.Program{
		InitPath:     Init(),
		ShellPath:    Shell(),
		"/bin/hello": Hello(),
		"/bin/echo":  Echo(),
		"/bin/cat":   Cat(),
		"/bin/false": False(),
	}
}

// Install registers every built-in program with k and writes its
// executable, the boot script rc and the message of the day into fs. An
// empty rc installs DefaultRC.
func Install(k *kernel.Kernel, fs *memfs.Filesystem, rc string) error {
	for path, prog := range Programs() {
		if err := k.RegisterProgram(prog); err != nil {
			return fmt.Errorf("registering %s: %w", prog.Name, err)
		}
		bin, err := prog.ELF()
		if err != nil {
			return fmt.Errorf("building %s: %w", prog.Name, err)
		}
		if err := fs.WriteFile(path, bin, 0755); err != nil {
			return fmt.Errorf("installing %s: %w", path, err)
		}
		log.Debugf("Installed %s (%d bytes)", path, len(bin))
	}
	if rc == "" {
		rc = DefaultRC
	}
	if err := fs.WriteFile(RCPath, []byte(rc), 0755); err != nil {
		return err
	}
	return fs.WriteFile(MotdPath, []byte(Motd), 0644)
}
