package test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	elf32HeaderSize  = 52
	elf32SectionSize = 40
)

// ELFSection describes one section of a generated ELF32 fixture. NoBits
// sections occupy Size bytes in memory and none in the file.
type ELFSection struct {
	Name   string
	Addr   uint32
	Data   []byte
	NoBits bool
	Size   uint32
}

// LittleEndianWords encodes words the way a little-endian RISC-V object
// stores them.
func LittleEndianWords(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// BuildELF32 returns an ET_EXEC RISC-V ELF32 image containing the given
// sections followed by a section name table.
func BuildELF32(order binary.ByteOrder, sections ...ELFSection) []byte {
	var (
		body    bytes.Buffer
		names   bytes.Buffer
		headers bytes.Buffer
	)
	names.WriteByte(0)
	nameIndex := func(name string) uint32 {
		idx := uint32(names.Len())
		names.WriteString(name)
		names.WriteByte(0)
		return idx
	}
	writeSection := func(name, typ, flags, addr, offset, size, align uint32) {
		for _, v := range []uint32{name, typ, flags, addr, offset, size, 0, 0, align, 0} {
			_ = binary.Write(&headers, order, v)
		}
	}

	// SHN_UNDEF
	writeSection(0, 0, 0, 0, 0, 0, 0)
	for _, s := range sections {
		offset := uint32(elf32HeaderSize + body.Len())
		name := nameIndex(s.Name)
		flags := uint32(elf.SHF_ALLOC)
		if s.Name == ".text" || s.Name == ".reset" || s.Name == ".illegal_instruction" {
			flags |= uint32(elf.SHF_EXECINSTR)
		} else {
			flags |= uint32(elf.SHF_WRITE)
		}
		if s.NoBits {
			writeSection(name, uint32(elf.SHT_NOBITS), flags, s.Addr, offset, s.Size, 4)
			continue
		}
		body.Write(s.Data)
		writeSection(name, uint32(elf.SHT_PROGBITS), flags, s.Addr, offset, uint32(len(s.Data)), 4)
	}
	shstrndx := uint16(len(sections) + 1)
	shstrtabName := nameIndex(".shstrtab")
	shstrtabOffset := uint32(elf32HeaderSize + body.Len())
	writeSection(shstrtabName, uint32(elf.SHT_STRTAB), 0, 0, shstrtabOffset, uint32(names.Len()), 1)
	body.Write(names.Bytes())
	for body.Len()%4 != 0 {
		body.WriteByte(0)
	}
	shoff := uint32(elf32HeaderSize + body.Len())

	var out bytes.Buffer
	ident := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	if order == binary.BigEndian {
		ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	}
	_ = binary.Write(&out, order, elf.Header32{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    elf32HeaderSize,
		Phentsize: 32,
		Shentsize: elf32SectionSize,
		Shnum:     shstrndx + 1,
		Shstrndx:  shstrndx,
	})
	out.Write(body.Bytes())
	out.Write(headers.Bytes())
	return out.Bytes()
}

// BuildELF64 returns a section-less ELF64 header.
func BuildELF64() []byte {
	var out bytes.Buffer
	ident := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Ehsize:    64,
		Phentsize: 56,
		Shentsize: 64,
	}
	_ = binary.Write(&out, binary.LittleEndian, hdr)
	return out.Bytes()
}

// WriteELF32 writes a fixture into dir and returns its path.
func WriteELF32(t testing.TB, dir, name string, order binary.ByteOrder, sections ...ELFSection) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, BuildELF32(order, sections...), 0o644))
	return path
}
