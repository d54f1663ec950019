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
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gvisor.dev/picokern/pkg/errors/linuxerr"
	"gvisor.dev/picokern/pkg/hostarch"
)

const (
	// NoteName is the owner of the note naming the program an image runs.
	NoteName = "PICOKERN"

	// NoteTypeProgram is the note type holding the program name.
	NoteTypeProgram = 1
)

// errNotELF is returned by Parse for data without the ELF magic.
var errNotELF = errors.New("not an ELF image")

// Segment is one loadable segment.
type Segment struct {
	// Vaddr is the page-aligned virtual address of the segment.
	Vaddr hostarch.Addr

	// Data is the file-backed content.
	Data []byte

	// Memsz is the in-memory size; bytes past len(Data) are zero.
	Memsz uint64

	// Perms are the mapping permissions.
	Perms hostarch.AccessType
}

// End returns the first address after the segment.
func (s Segment) End() hostarch.Addr {
	return s.Vaddr + hostarch.Addr(s.Memsz)
}

// Image is a parsed executable.
type Image struct {
	// Entry is the initial instruction pointer.
	Entry hostarch.Addr

	// Segments are the PT_LOAD segments in file order.
	Segments []Segment

	// Program is the name recorded in the image's program note, or empty.
	Program string
}

func progPerms(f elf.ProgFlag) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    f&elf.PF_R != 0,
		Write:   f&elf.PF_W != 0,
		Execute: f&elf.PF_X != 0,
	}
}

// Parse parses an ELF64 x86-64 executable.
func Parse(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		return nil, errNotELF
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, linuxerr.Wrap(linuxerr.ENOEXEC, "parsing ELF: %v", err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 || f.Type != elf.ET_EXEC {
		return nil, linuxerr.Wrap(linuxerr.ENOEXEC, "unsupported ELF %v %v %v", f.Class, f.Machine, f.Type)
	}

	img := &Image{Entry: hostarch.Addr(f.Entry)}
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			if p.Filesz > p.Memsz || !hostarch.Addr(p.Vaddr).IsPageAligned() {
				return nil, linuxerr.Wrap(linuxerr.ENOEXEC, "bad PT_LOAD at %#x", p.Vaddr)
			}
			seg := Segment{
				Vaddr: hostarch.Addr(p.Vaddr),
				Data:  make([]byte, p.Filesz),
				Memsz: p.Memsz,
				Perms: progPerms(p.Flags),
			}
			if _, err := io.ReadFull(p.Open(), seg.Data); err != nil {
				return nil, linuxerr.Wrap(linuxerr.ENOEXEC, "reading segment at %#x: %v", p.Vaddr, err)
			}
			img.Segments = append(img.Segments, seg)
		case elf.PT_NOTE:
			note := make([]byte, p.Filesz)
			if _, err := io.ReadFull(p.Open(), note); err != nil {
				return nil, linuxerr.Wrap(linuxerr.ENOEXEC, "reading note: %v", err)
			}
			if name, ok := findNote(note, NoteName, NoteTypeProgram); ok {
				img.Program = string(bytes.TrimRight(name, "\x00"))
			}
		}
	}
	if len(img.Segments) == 0 {
		return nil, linuxerr.Wrap(linuxerr.ENOEXEC, "no loadable segments")
	}
	return img, nil
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// findNote returns the descriptor of the first note of the given owner and
// type in data.
func findNote(data []byte, owner string, typ uint32) ([]byte, bool) {
	for len(data) >= 12 {
		namesz := binary.LittleEndian.Uint32(data[0:])
		descsz := binary.LittleEndian.Uint32(data[4:])
		ntype := binary.LittleEndian.Uint32(data[8:])
		data = data[12:]
		if uint64(align4(namesz))+uint64(align4(descsz)) > uint64(len(data)) {
			return nil, false
		}
		name := bytes.TrimRight(data[:namesz], "\x00")
		desc := data[align4(namesz) : align4(namesz)+descsz]
		if string(name) == owner && ntype == typ {
			return desc, true
		}
		data = data[align4(namesz)+align4(descsz):]
	}
	return nil, false
}

func appendNote(b []byte, owner string, typ uint32, desc []byte) []byte {
	name := append([]byte(owner), 0)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(name)))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(desc)))
	b = binary.LittleEndian.AppendUint32(b, typ)
	b = append(b, name...)
	b = append(b, make([]byte, align4(uint32(len(name)))-uint32(len(name)))...)
	b = append(b, desc...)
	return append(b, make([]byte, align4(uint32(len(desc)))-uint32(len(desc)))...)
}

// BuildELF returns an ELF64 x86-64 executable with the given entry point and
// segments, carrying a note naming program.
func BuildELF(program string, entry hostarch.Addr, segs []Segment) ([]byte, error) {
	const (
		ehsize    = 64
		phentsize = 56
	)
	note := appendNote(nil, NoteName, NoteTypeProgram, []byte(program))
	phnum := 1 + len(segs)
	off := uint64(ehsize + phentsize*phnum)

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     uint64(entry),
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(phnum),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	progs := []elf.Prog64{{
		Type:   uint32(elf.PT_NOTE),
		Flags:  uint32(elf.PF_R),
		Off:    off,
		Filesz: uint64(len(note)),
		Memsz:  uint64(len(note)),
		Align:  4,
	}}
	off += uint64(len(note))
	for _, s := range segs {
		if !s.Vaddr.IsPageAligned() || uint64(len(s.Data)) > s.Memsz {
			return nil, fmt.Errorf("bad segment at %v", s.Vaddr)
		}
		var flags elf.ProgFlag
		if s.Perms.Read {
			flags |= elf.PF_R
		}
		if s.Perms.Write {
			flags |= elf.PF_W
		}
		if s.Perms.Execute {
			flags |= elf.PF_X
		}
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(flags),
			Off:    off,
			Vaddr:  uint64(s.Vaddr),
			Paddr:  uint64(s.Vaddr),
			Filesz: uint64(len(s.Data)),
			Memsz:  s.Memsz,
			Align:  hostarch.PageSize,
		})
		off += uint64(len(s.Data))
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, progs); err != nil {
		return nil, err
	}
	buf.Write(note)
	for _, s := range segs {
		buf.Write(s.Data)
	}
	return buf.Bytes(), nil
}
