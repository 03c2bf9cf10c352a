package elf

import (
	"encoding/binary"
	"encoding/hex"
	"slices"

	"github.com/samber/lo"
)

// WordSize is the size in bytes of a memory word.
const WordSize = 4

var (
	// InstructionSections are searched, in this order, for instruction memory contents.
	InstructionSections = []string{".reset", ".illegal_instruction", ".text"}
	// DataSections are searched, in this order, for data memory contents.
	DataSections = []string{".rodata", ".bss", ".data"}
)

// Section is the content of one named ELF section as a sequence of 32-bit
// words, each formatted as 8 lowercase hex digits.
type Section struct {
	Name  string
	Start uint32 // word address, sh_addr / 4
	Words []string
}

// End returns the word address right past the last word.
func (s Section) End() uint32 {
	return s.Start + uint32(len(s.Words))
}

// Lookup returns the named section, or nil if the object has no such section.
func (f *File) Lookup(name string) (*Section, error) {
	hdr := f.Section(name)
	if hdr == nil {
		return nil, nil
	}
	data, err := f.SectionData(hdr)
	if err != nil {
		return nil, err
	}
	return &Section{
		Name:  name,
		Start: uint32(hdr.Addr / WordSize),
		Words: Words(data, f.ByteOrder),
	}, nil
}

// ExtractSections returns the named sections in the order requested. Missing
// sections are skipped.
func ExtractSections(f *File, names []string) ([]Section, error) {
	res := make([]Section, 0, len(names))
	for _, name := range names {
		s, err := f.Lookup(name)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		res = append(res, *s)
	}
	return res, nil
}

// Words splits data into 32-bit words. For little-endian objects the buffer
// is reversed, hex encoded and cut into 8 digit chunks whose order is then
// reversed back, leaving every word in value order. A trailing partial word
// is padded with zero bytes.
func Words(data []byte, order binary.ByteOrder) []string {
	if len(data) == 0 {
		return []string{}
	}
	if rem := len(data) % WordSize; rem != 0 {
		data = append(slices.Clone(data), make([]byte, WordSize-rem)...)
	}
	if order == binary.BigEndian {
		return lo.ChunkString(hex.EncodeToString(data), 2*WordSize)
	}
	words := lo.ChunkString(hex.EncodeToString(ReverseBytes(data)), 2*WordSize)
	slices.Reverse(words)
	return words
}

// ReverseBytes returns a reversed copy of b.
func ReverseBytes(b []byte) []byte {
	r := slices.Clone(b)
	slices.Reverse(r)
	return r
}
