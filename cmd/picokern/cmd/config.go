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
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/picokern/pkg/config"
)

// Config implements subcommands.Command for the "config" command, which
// prints the effective configuration.
type Config struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Config) Name() string {
	return "config"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Config) Synopsis() string {
	return "print the effective configuration"
}

// Usage implements subcommands.Command.Usage.
func (*Config) Usage() string {
	return `config [-format=toml|yaml|flags] - prints the configuration that results from flags and the configuration file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Config) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "toml", "output format: toml (default), yaml, or flags.")
}

// Execute implements subcommands.Command.Execute.
func (c *Config) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	var err error
	switch c.format {
	case "toml":
		err = conf.WriteTOML(os.Stdout)
	case "yaml":
		err = conf.WriteYAML(os.Stdout)
	case "flags":
		_, err = fmt.Fprintln(os.Stdout, strings.Join(conf.ToFlags(), " "))
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err != nil {
		Fatalf("writing configuration: %v", err)
	}
	return subcommands.ExitSuccess
}
