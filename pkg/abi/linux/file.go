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

package linux

// Constants for open(2).
const (
	O_ACCMODE = 000000003
	O_RDONLY  = 000000000
	O_WRONLY  = 000000001
	O_RDWR    = 000000002
	O_CREAT   = 000000100
	O_EXCL    = 000000200
	O_TRUNC   = 000001000
	O_APPEND  = 000002000
	O_CLOEXEC = 002000000
)

// Constants for lseek(2).
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// File mode bits.
const (
	ModeTypeMask    = 0170000
	ModeRegular     = 0100000
	ModeDirectory   = 040000
	ModeCharacter   = 020000
	ModeFIFO        = 010000
	PermissionsMask = 0777
)

// Stat represents struct stat. Only the fields this kernel fills in are
// modeled; the layout is little-endian and packed.
type Stat struct {
	Ino   uint64
	Mode  uint32
	Nlink uint32
	Size  int64
	Rdev  uint64
}

// SizeOfStat is the encoded size of Stat.
const SizeOfStat = 8 + 4 + 4 + 8 + 8

// PathMax is the maximum length of a path, including the terminator.
const PathMax = 4096
