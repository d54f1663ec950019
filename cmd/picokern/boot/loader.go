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

// Package boot loads the kernel and runs the boot workload.
package boot

import (
	"context"
	"fmt"
	"io"
	"time"

	"gvisor.dev/picokern/pkg/abi/linux"
	"gvisor.dev/picokern/pkg/config"
	"gvisor.dev/picokern/pkg/log"
	"gvisor.dev/picokern/pkg/sentry/devices/memdev"
	"gvisor.dev/picokern/pkg/sentry/devices/tty"
	"gvisor.dev/picokern/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/picokern/pkg/sentry/kernel"
	"gvisor.dev/picokern/pkg/sentry/ktime"
	"gvisor.dev/picokern/pkg/sentry/pgalloc"
	"gvisor.dev/picokern/pkg/sentry/syscalls"
	slinux "gvisor.dev/picokern/pkg/sentry/syscalls/linux"
	"gvisor.dev/picokern/pkg/sentry/vfs"
	"gvisor.dev/picokern/pkg/sentry/watchdog"
	"gvisor.dev/picokern/pkg/userland"
)

// shutdownTimeout bounds the wait for reclaimers after init exits.
const shutdownTimeout = 5 * time.Second

// DefaultEnv is the environment of the init task.
var DefaultEnv = []string{"PATH=/bin:/sbin", "HOME=/", "TERM=linux"}

// Args are the arguments to New.
type Args struct {
	// Conf is the configuration. It is not modified.
	Conf *config.Config

	// Stdin and Stdout back the console.
	Stdin  io.Reader
	Stdout io.Writer

	// Script replaces the default boot script if not empty.
	Script string
}

// Loader keeps state needed to start the kernel and run the boot workload.
type Loader struct {
	// k is the kernel.
	k *kernel.Kernel

	conf *config.Config

	mem *pgalloc.MemoryFile
	fs  *memfs.Filesystem

	// kmsg receives the standard error of every task.
	kmsg *memdev.LogDevice
}

// New initializes a new kernel loader configured by args.
func New(args Args) (*Loader, error) {
	conf := args.Conf.Copy()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	mem, err := pgalloc.NewMemoryFile(conf.Pages)
	if err != nil {
		return nil, fmt.Errorf("error creating physical memory: %w", err)
	}

	// Create the virtual filesystem and its devices.
	fs := memfs.New()
	vfsObj := vfs.New(fs)
	in := args.Stdin
	if in == nil {
		in = eofReader{}
	}
	out := args.Stdout
	if out == nil {
		out = io.Discard
	}
	if err := tty.Register(vfsObj, tty.NewConsole(kernel.DefaultConsolePath, in, out)); err != nil {
		return nil, fmt.Errorf("error creating console: %w", err)
	}
	kmsg := memdev.NewLogDevice(kernel.DefaultLogPath)
	if err := memdev.Register(vfsObj, kmsg); err != nil {
		return nil, fmt.Errorf("error creating devices: %w", err)
	}

	syscalls.SetUnimplementedLogRate(conf.LogRate)
	k, err := kernel.New(kernel.InitKernelArgs{
		CPUs:             conf.CPUs,
		Memory:           mem,
		Clock:            createClock(conf),
		Quantum:          conf.Quantum,
		Tick:             conf.Tick,
		UserStackPages:   conf.UserStackPages,
		KernelStackPages: conf.KernelStackPages,
		MaxTasks:         conf.MaxTasks,
		Interpreter:      conf.Interpreter,
		VFS:              vfsObj,
		SyscallTable:     slinux.AMD64,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing kernel: %w", err)
	}
	if err := userland.Install(k, fs, args.Script); err != nil {
		return nil, fmt.Errorf("error installing userland: %w", err)
	}
	return &Loader{
		k:    k,
		conf: conf,
		mem:  mem,
		fs:   fs,
		kmsg: kmsg,
	}, nil
}

func createClock(conf *config.Config) ktime.Clock {
	switch conf.Clock {
	case config.ClockHost:
		log.Infof("Clock: host")
		return ktime.NewHostClock()
	default:
		log.Infof("Clock: manual")
		return ktime.NewManualClock()
	}
}

// Kernel returns the loaded kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// Filesystem returns the root filesystem, so that callers can add files
// before Run.
func (l *Loader) Filesystem() *memfs.Filesystem {
	return l.fs
}

// Run creates the init task, drives every CPU until init exits and the
// reclaimers are drained, and returns init's exit status.
func (l *Loader) Run(ctx context.Context) (linux.WaitStatus, error) {
	initTask, err := l.k.Spawn(l.conf.Init, []string{l.conf.Init}, DefaultEnv)
	if err != nil {
		return 0, fmt.Errorf("failed to create init process: %w", err)
	}

	dog := watchdog.New(l.k, watchdog.Opts{
		TaskTimeout:       l.conf.WatchdogTimeout,
		TaskTimeoutAction: l.conf.WatchdogAction,
	})
	dog.Start()
	defer dog.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- l.k.Run(runCtx)
	}()

	select {
	case <-initTask.Exited():
	case err := <-errc:
		if err == nil {
			err = ctx.Err()
		}
		return 0, err
	}
	ws := initTask.ExitStatus()
	log.Infof("init exited with status %#x", uint32(ws))

	sctx, scancel := context.WithTimeout(ctx, shutdownTimeout)
	defer scancel()
	serr := l.k.Shutdown(sctx)
	l.kmsg.Flush(ctx)
	cancel()
	if err := <-errc; err != nil {
		return ws, err
	}
	if serr != nil {
		return ws, fmt.Errorf("shutdown: %w", serr)
	}
	return ws, nil
}

// Usage reports physical memory use.
func (l *Loader) Usage() (used, total uint64) {
	return l.mem.UsedPages(), l.mem.TotalPages()
}

// eofReader is an empty console input.
type eofReader struct{}

// Read implements io.Reader.Read.
func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}
