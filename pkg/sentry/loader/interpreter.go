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
	"bytes"

	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/log"
)

const (
	// interpreterScriptMagic identifies an interpreter script.
	interpreterScriptMagic = "#!"

	// interpMaxLineLength is the maximum length for the first line of an
	// interpreter script.
	//
	// From execve(2): "A maximum line length of 127 characters is allowed
	// for the first line in a #! executable shell script."
	interpMaxLineLength = 127
)

// parseInterpreterScript returns the interpreter path and argv for the
// non-native image data found at filename. Scripts name their interpreter on
// a #! line; anything else runs under defaultInterp, if set.
func parseInterpreterScript(filename string, data []byte, argv []string, defaultInterp string) (newpath string, newargv []string, err error) {
	line := data
	if len(line) > interpMaxLineLength {
		line = line[:interpMaxLineLength]
	}

	var interp, arg []byte
	if bytes.HasPrefix(line, []byte(interpreterScriptMagic)) {
		// Ignore #!.
		line = line[2:]

		// Ignore everything after newline.
		// Linux silently truncates the remainder of the line if it exceeds
		// interpMaxLineLength.
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}

		// Skip any whitespace before the interpreter.
		line = bytes.TrimLeft(line, " \t")

		// Linux only looks for a space or tab delimiting the interpreter and
		// arg.
		//
		// execve(2): "On Linux, the entire string following the interpreter
		// name is passed as a single argument to the interpreter, and this
		// string can include white space."
		interp = line
		if i := bytes.IndexAny(line, " \t"); i >= 0 {
			interp = line[:i]
			if i+1 < len(line) {
				arg = line[i+1:]
			}
		}
		if len(interp) == 0 {
			log.Infof("Interpreter script contains no interpreter: %q", line)
			return "", nil, linuxerr.ENOEXEC
		}
	} else {
		if defaultInterp == "" {
			return "", nil, linuxerr.ENOEXEC
		}
		interp = []byte(defaultInterp)
	}

	// Build the new argument list:
	//
	// 1. The interpreter.
	newargv = append(newargv, string(interp))

	// 2. The optional interpreter argument.
	if len(arg) > 0 {
		newargv = append(newargv, string(arg))
	}

	// 3. The original arguments. The original argv[0] is replaced with the
	// full script filename.
	newargv = append(newargv, filename)
	if len(argv) > 1 {
		newargv = append(newargv, argv[1:]...)
	}

	return string(interp), newargv, nil
}
