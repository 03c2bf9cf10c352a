package elf

import (
	"debug/elf"
	"io"
	"os"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedClass is returned for objects that are not ELFCLASS32.
	ErrUnsupportedClass = errors.New("only 32-bit ELF objects are supported")
	// ErrUnsupportedMachine is returned for objects not built for RISC-V.
	ErrUnsupportedMachine = errors.New("only RISC-V ELF objects are supported")
)

// File keeps the headers of an ELF object and reads section contents on
// demand from the underlying reader.
type File struct {
	elf.FileHeader
	Sections []elf.SectionHeader

	reader io.ReaderAt
	closer io.Closer
	fpath  string
}

// Open opens the named file and parses its ELF headers.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := NewFile(fd)
	if err != nil {
		fd.Close()
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	f.closer = fd
	f.fpath = path
	return f, nil
}

// NewFile parses the headers of a RISC-V ELF32 object read from r.
func NewFile(r io.ReaderAt) (*File, error) {
	elfFile, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	if elfFile.Class != elf.ELFCLASS32 {
		return nil, errors.Wrapf(ErrUnsupportedClass, "got %s", elfFile.Class)
	}
	if elfFile.Machine != elf.EM_RISCV {
		return nil, errors.Wrapf(ErrUnsupportedMachine, "got %s", elfFile.Machine)
	}
	sections := make([]elf.SectionHeader, 0, len(elfFile.Sections))
	for i := range elfFile.Sections {
		sections = append(sections, elfFile.Sections[i].SectionHeader)
	}
	return &File{
		FileHeader: elfFile.FileHeader,
		Sections:   sections,
		reader:     r,
	}, nil
}

// Close closes the file opened by Open. It is a no-op for NewFile.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

// Path is the name passed to Open.
func (f *File) Path() string {
	return f.fpath
}

// Section returns the header of the named section or nil.
func (f *File) Section(name string) *elf.SectionHeader {
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SectionData returns the section contents. SHT_NOBITS sections occupy no
// file space and read back as zeros.
func (f *File) SectionData(s *elf.SectionHeader) ([]byte, error) {
	res := make([]byte, s.Size)
	if s.Type == elf.SHT_NOBITS || s.Size == 0 {
		return res, nil
	}
	if _, err := f.reader.ReadAt(res, int64(s.Offset)); err != nil {
		return nil, errors.Wrapf(err, "reading section %s", s.Name)
	}
	return res, nil
}
