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

// ioctl(2) requests provided by asm-generic/ioctls.h.
const (
	TCGETS     = 0x00005401
	TCSETS     = 0x00005402
	TIOCGWINSZ = 0x00005413
	TIOCSWINSZ = 0x00005414

	// FIOGETPATH resolves a descriptor to the path of the node it refers to.
	// It has no Linux counterpart; the number is taken from an unassigned
	// slot of the FIO range.
	FIOGETPATH = 0x0000545f
)

// NumControlCharacters is the number of control characters in Termios.
const NumControlCharacters = 19

// Termios is struct termios, defined in uapi/asm-generic/termbits.h.
type Termios struct {
	InputFlags        uint32
	OutputFlags       uint32
	ControlFlags      uint32
	LocalFlags        uint32
	LineDiscipline    uint8
	ControlCharacters [NumControlCharacters]uint8
}

// SizeOfTermios is the encoded size of Termios.
const SizeOfTermios = 4*4 + 1 + NumControlCharacters

// Winsize is struct winsize, defined in uapi/asm-generic/termios.h.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// SizeOfWinsize is the encoded size of Winsize.
const SizeOfWinsize = 8

// DefaultWinsize is reported when the console has no host terminal.
var DefaultWinsize = Winsize{Row: 25, Col: 80}
