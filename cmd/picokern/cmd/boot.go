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

// Package cmd holds implementations of the picokern commands.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/picokern/cmd/picokern/boot"
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/config"
	"gvisor.dev/picokern/pkg/log"
)

// Boot implements subcommands.Command for the "boot" command, which boots
// the kernel and runs init until it exits.
type Boot struct {
	// script is a host file that replaces the default boot script.
	script string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run the boot workload"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boots the kernel, runs init and exits with init's status.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.script, "script", "", "host file to use as the boot script instead of the built-in one.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	waitStatus := args[1].(*linux.WaitStatus)

	ws, err := runBoot(ctx, conf, b.script, os.Stdout)
	if err != nil {
		Fatalf("%v", err)
	}
	*waitStatus = ws
	return subcommands.ExitSuccess
}

// runBoot boots a kernel with the console on out and returns init's
// status. SIGINT and SIGTERM stop the kernel.
func runBoot(ctx context.Context, conf *config.Config, scriptPath string, out io.Writer) (linux.WaitStatus, error) {
	var script string
	if scriptPath != "" {
		data, err := os.ReadFile(scriptPath)
		if err != nil {
			return 0, fmt.Errorf("reading boot script: %w", err)
		}
		script = string(data)
	}
	l, err := boot.New(boot.Args{
		Conf:   conf,
		Stdin:  os.Stdin,
		Stdout: out,
		Script: script,
	})
	if err != nil {
		return 0, fmt.Errorf("creating loader: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()
	ws, err := l.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running kernel: %w", err)
	}
	used, total := l.Usage()
	log.Infof("Physical memory: %d of %d pages in use after shutdown", used, total)
	return ws, nil
}
