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

package cmd

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/config"
	"gvisor.dev/picokern/pkg/metric"
)

// Metrics implements subcommands.Command for the "metrics" command, which
// boots the kernel like "boot" and then prints the kernel metrics.
type Metrics struct {
	script  string
	console bool
}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "boot the kernel, then print its metrics in Prometheus format"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics [flags] - boots the kernel, runs init and prints metric data in Prometheus metric format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Metrics) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.script, "script", "", "host file to use as the boot script instead of the built-in one.")
	f.BoolVar(&m.console, "console", false, "also show the console output.")
}

// Execute implements subcommands.Command.Execute.
func (m *Metrics) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	waitStatus := args[1].(*linux.WaitStatus)

	var out io.Writer = io.Discard
	if m.console {
		out = os.Stderr
	}
	ws, err := runBoot(ctx, conf, m.script, out)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := metric.WritePrometheus(os.Stdout); err != nil {
		Fatalf("Cannot write metrics to stdout: %v", err)
	}
	*waitStatus = ws
	return subcommands.ExitSuccess
}
