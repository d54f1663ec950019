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

// Package config provides basic infrastructure to set configuration settings
// for picokern. Each setting that can be changed from the command line has a
// flag tag, and every setting can also be loaded from a TOML or YAML file.
package config

import (
	"fmt"
	"path"
	"time"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/watchdog"
)

// Config holds configuration that is not part of the workload.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register the new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// CPUs is the number of simulated cores.
	CPUs int `flag:"cpus" toml:"cpus" yaml:"cpus"`

	// Pages is the number of physical pages.
	Pages uint64 `flag:"pages" toml:"pages" yaml:"pages"`

	// Quantum is the number of user instructions in a preemption slot.
	Quantum int `flag:"quantum" toml:"quantum" yaml:"quantum"`

	// Tick is the length of one scheduling slot.
	Tick time.Duration `flag:"tick" toml:"tick" yaml:"tick"`

	// UserStackPages and KernelStackPages size the per-task stacks.
	UserStackPages   uint64 `flag:"user-stack-pages" toml:"user-stack-pages" yaml:"user-stack-pages"`
	KernelStackPages uint64 `flag:"kernel-stack-pages" toml:"kernel-stack-pages" yaml:"kernel-stack-pages"`

	// MaxTasks bounds the number of live tasks, CPU daemons included.
	MaxTasks int `flag:"max-tasks" toml:"max-tasks" yaml:"max-tasks"`

	// Interpreter runs executables that are neither ELF nor #! scripts.
	Interpreter string `flag:"interpreter" toml:"interpreter" yaml:"interpreter"`

	// Init is the path of the first user task.
	Init string `flag:"init" toml:"init" yaml:"init"`

	// Clock selects the tick source.
	Clock ClockType `flag:"clock" toml:"clock" yaml:"clock"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug" yaml:"debug"`

	// LogFilename is the file where logs are written. Empty means stderr.
	LogFilename string `flag:"log" toml:"log" yaml:"log"`

	// LogFormat is the log format: text, json or logrus.
	LogFormat string `flag:"log-format" toml:"log-format" yaml:"log-format"`

	// LogRate is the minimum interval between repeated warnings about
	// unimplemented system calls.
	LogRate time.Duration `flag:"log-rate" toml:"log-rate" yaml:"log-rate"`

	// WatchdogTimeout is how long a task may hold its CPU before the
	// watchdog reports it. Zero disables the watchdog.
	WatchdogTimeout time.Duration `flag:"watchdog-timeout" toml:"watchdog-timeout" yaml:"watchdog-timeout"`

	// WatchdogAction is what the watchdog does about a stuck task.
	WatchdogAction watchdog.Action `flag:"watchdog-action" toml:"watchdog-action" yaml:"watchdog-action"`
}

// Limits enforced by validate.
const (
	MaxCPUs  = 64
	MinPages = 256
)

func (c *Config) validate() error {
	if c.CPUs < 1 || c.CPUs > MaxCPUs {
		return fmt.Errorf("--cpus=%d must be between 1 and %d", c.CPUs, MaxCPUs)
	}
	if c.Pages < MinPages {
		return fmt.Errorf("--pages=%d must be at least %d", c.Pages, MinPages)
	}
	if c.Quantum <= 0 {
		return fmt.Errorf("--quantum=%d must be positive", c.Quantum)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("--tick=%v must be positive", c.Tick)
	}
	if c.UserStackPages == 0 || c.KernelStackPages == 0 {
		return fmt.Errorf("stack sizes must be positive, got --user-stack-pages=%d --kernel-stack-pages=%d", c.UserStackPages, c.KernelStackPages)
	}
	if c.MaxTasks <= 2*c.CPUs {
		return fmt.Errorf("--max-tasks=%d leaves no room beyond the %d CPU daemons", c.MaxTasks, 2*c.CPUs)
	}
	for name, p := range map[string]string{"interpreter": c.Interpreter, "init": c.Init} {
		if !path.IsAbs(p) {
			return fmt.Errorf("--%s=%q must be an absolute path", name, p)
		}
	}
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'logrus'", c.LogFormat)
	}
	if c.LogRate < 0 {
		return fmt.Errorf("--log-rate=%v must not be negative", c.LogRate)
	}
	if c.WatchdogTimeout < 0 {
		return fmt.Errorf("--watchdog-timeout=%v must not be negative", c.WatchdogTimeout)
	}
	return nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	return c.validate()
}

// Copy returns a deep copy of c.
func (c *Config) Copy() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.CPUs: %d, Config.Pages: %d", c.CPUs, c.Pages)
	log.Infof("Config.Quantum: %d, Config.Tick: %v", c.Quantum, c.Tick)
	log.Infof("Config.Stacks: user %d pages, kernel %d pages", c.UserStackPages, c.KernelStackPages)
	log.Infof("Config.MaxTasks: %d", c.MaxTasks)
	log.Infof("Config.Init: %s, Config.Interpreter: %s", c.Init, c.Interpreter)
	log.Infof("Config.Clock: %v", c.Clock)
	log.Infof("Config.Debug: %t, Config.LogFormat: %s", c.Debug, c.LogFormat)
	log.Infof("Config.Watchdog: timeout %v, action %v", c.WatchdogTimeout, c.WatchdogAction)
}

// ClockType tells which tick source the kernel uses.
type ClockType int

const (
	// ClockManual advances time by one tick per scheduling slot. Runs are
	// deterministic.
	ClockManual ClockType = iota

	// ClockHost follows the host's monotonic clock.
	ClockHost
)

func clockTypePtr(v ClockType) *ClockType {
	return &v
}

// Set implements flag.Value.
func (c *ClockType) Set(v string) error {
	switch v {
	case "manual":
		*c = ClockManual
	case "host":
		*c = ClockHost
	default:
		return fmt.Errorf("invalid clock type %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (c *ClockType) Get() any {
	return *c
}

// String implements flag.Value.
func (c ClockType) String() string {
	switch c {
	case ClockManual:
		return "manual"
	case ClockHost:
		return "host"
	}
	panic(fmt.Sprintf("Invalid clock type %d", c))
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockType) UnmarshalText(b []byte) error {
	return c.Set(string(b))
}

// MarshalYAML implements yaml.Marshaler.
func (c ClockType) MarshalYAML() (any, error) {
	return c.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ClockType) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return c.Set(s)
}
