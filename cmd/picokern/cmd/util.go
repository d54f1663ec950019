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
	"fmt"
	"io"
	"os"

	"gvisor.dev/picokern/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller of picokern.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs the same message as Errorf and exits with code 128.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

// Errorf logs the message to the debug log and to ErrorLogger.
func Errorf(format string, args ...any) {
	// If debug is enabled, this will also be logged into debug log.
	log.Warningf(format, args...)
	fmt.Fprintf(ErrorLogger, "picokern: "+format+"\n", args...)
}
