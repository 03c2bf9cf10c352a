package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"
	"github.com/xlab/treeprint"

	"github.com/grafana/shiji/pkg/elf"
	"github.com/grafana/shiji/pkg/memory"
	shijicontext "github.com/grafana/shiji/pkg/shiji/context"
)

const (
	formatTable = "table"
	formatTree  = "tree"
)

type sectionsParams struct {
	executable  string
	instruction bool
	data        bool
	format      string
}

func addSectionsParams(cmd commander) *sectionsParams {
	params := &sectionsParams{}
	cmd.Flag("instruction", "List the instruction memory sections.").Default("false").BoolVar(&params.instruction)
	cmd.Flag("data", "List the data memory sections.").Default("false").BoolVar(&params.data)
	cmd.Flag("format", "How to print the sections.").Default(formatTable).EnumVar(&params.format, formatTable, formatTree)
	cmd.Arg("executable", "RISC-V ELF32 executable.").Required().ExistingFileVar(&params.executable)
	return params
}

type sectionGroup struct {
	kind     memory.Kind
	sections []elf.Section
}

func (p *sectionsParams) groups() []sectionGroup {
	both := p.instruction == p.data
	var groups []sectionGroup
	if both || p.instruction {
		groups = append(groups, sectionGroup{kind: memory.Instruction})
	}
	if both || p.data {
		groups = append(groups, sectionGroup{kind: memory.Data})
	}
	return groups
}

func sectionNames(kind memory.Kind) []string {
	if kind == memory.Instruction {
		return elf.InstructionSections
	}
	return elf.DataSections
}

func sections(ctx context.Context, params *sectionsParams) (err error) {
	f, err := elf.Open(params.executable)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	groups := params.groups()
	for i := range groups {
		if groups[i].sections, err = elf.ExtractSections(f, sectionNames(groups[i].kind)); err != nil {
			return err
		}
		level.Debug(shijicontext.Logger(ctx)).Log("msg", "extracted sections", "path", f.Path(), "memory", groups[i].kind, "found", len(groups[i].sections))
	}

	if params.format == formatTree {
		return printSectionTree(output(ctx), f.Path(), groups)
	}
	printSectionTable(output(ctx), groups)
	return nil
}

func sectionSize(s elf.Section) string {
	return humanize.IBytes(uint64(len(s.Words)) * elf.WordSize)
}

func printSectionTable(w io.Writer, groups []sectionGroup) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Memory", "Section", "Start word", "Address", "Words", "Size"})
	for _, g := range groups {
		for _, s := range g.sections {
			table.Append([]string{
				string(g.kind),
				s.Name,
				fmt.Sprintf("0x%x", s.Start),
				fmt.Sprintf("0x%08x", uint64(s.Start)*elf.WordSize),
				strconv.Itoa(len(s.Words)),
				sectionSize(s),
			})
		}
	}
	table.Render()
}

func printSectionTree(w io.Writer, path string, groups []sectionGroup) error {
	tree := treeprint.New()
	tree.SetValue(path)
	for _, g := range groups {
		branch := tree.AddBranch(fmt.Sprintf("%s memory", g.kind))
		for _, s := range g.sections {
			branch.AddNode(fmt.Sprintf("%s: %d words (%s) at 0x%08x", s.Name, len(s.Words), sectionSize(s), uint64(s.Start)*elf.WordSize))
		}
	}
	_, err := io.WriteString(w, tree.String())
	return err
}
