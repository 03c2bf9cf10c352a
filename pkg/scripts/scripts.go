package scripts

import (
	"path/filepath"
	"strconv"

	"github.com/grafana/shiji/pkg/templates"
)

// File names of the generated scripts.
const (
	BootFile = "boot.S"
	LinkFile = "link.ld"
)

// Layout is the memory map the benchmark is linked for.
type Layout struct {
	ProgramStart       uint32
	DataStart          uint32
	InstructionMemSize uint64
	DataMemSize        uint64
	StackSize          uint64
}

// Scripts are the paths of the generated startup code and linker script.
type Scripts struct {
	Boot string
	Link string
}

type bootData struct {
	ProgramStart string
	StackPointer int64
}

type linkData struct {
	ProgramStart       string
	DataStart          string
	InstructionMemSize uint64
	DataMemSize        uint64
	StackSize          uint64
}

// HexFormat formats an address the way the templates expect it: 0x prefix,
// lowercase, no padding.
func HexFormat(v uint32) string {
	return "0x" + strconv.FormatUint(uint64(v), 16)
}

// StackPointer is the initial stack pointer: the last word below the end of
// data memory plus stack.
func StackPointer(dataMemSize, stackSize uint64) int64 {
	return int64(dataMemSize) + int64(stackSize) - 4
}

// Generate renders the boot and link templates into dir.
func Generate(set *templates.Set, dir string, layout Layout) (*Scripts, error) {
	res := &Scripts{
		Boot: filepath.Join(dir, BootFile),
		Link: filepath.Join(dir, LinkFile),
	}
	if err := set.WriteFile(res.Boot, templates.Boot, bootData{
		ProgramStart: HexFormat(layout.ProgramStart),
		StackPointer: StackPointer(layout.DataMemSize, layout.StackSize),
	}); err != nil {
		return nil, err
	}
	if err := set.WriteFile(res.Link, templates.Link, linkData{
		ProgramStart:       HexFormat(layout.ProgramStart),
		DataStart:          HexFormat(layout.DataStart),
		InstructionMemSize: layout.InstructionMemSize,
		DataMemSize:        layout.DataMemSize,
		StackSize:          layout.StackSize,
	}); err != nil {
		return nil, err
	}
	return res, nil
}
