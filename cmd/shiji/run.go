package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/grafana/dskit/multierror"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/shiji/pkg/memory"
	"github.com/grafana/shiji/pkg/shiji"
	shijicontext "github.com/grafana/shiji/pkg/shiji/context"
	"github.com/grafana/shiji/pkg/toolchain"
	"github.com/grafana/shiji/pkg/util/atexit"
)

type runParams struct {
	benchmarks []string
	toolchain  toolchain.Toolchain
}

func addRunParams(cmd commander) *runParams {
	params := &runParams{}
	cmd.Arg("benchmark", "C source files of the benchmarks.").Required().ExistingFilesVar(&params.benchmarks)
	return params
}

func run(ctx context.Context, flags *configFlags, params *runParams) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	// Runs unregister their cleanups; anything left over runs before exit.
	defer atexit.Wait()

	reg := prometheus.NewRegistry()
	ctx = shijicontext.WithRegistry(ctx, reg)

	tc := params.toolchain
	if tc == nil {
		tc = toolchain.NewGNU(cfg.Toolchain, shijicontext.Logger(ctx))
	}
	s, err := shiji.New(ctx, *cfg, tc)
	if err != nil {
		return err
	}

	results, err := s.RunAll(ctx, params.benchmarks)
	if len(results) > 0 {
		if printErr := printRunSummary(output(ctx), results); printErr != nil {
			err = multierror.New(err, printErr).Err()
		}
	}
	if cfg.MetricsTextfile != "" {
		if writeErr := prometheus.WriteToTextfile(cfg.MetricsTextfile, reg); writeErr != nil {
			err = multierror.New(err, errors.Wrap(writeErr, "writing metrics")).Err()
		}
	}
	return err
}

func trapAddress(img *memory.Image) string {
	if !img.HasTrap {
		return "-"
	}
	return fmt.Sprintf("0x%08x", img.TrapAddress)
}

func printRunSummary(w io.Writer, results []*shiji.Result) error {
	if f, ok := w.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		// One tab separated line per benchmark when piped.
		for _, r := range results {
			if _, err := fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
				r.Stem, r.Instruction.NumWords, r.Data.NumWords, trapAddress(r.Instruction),
				r.InstructionOutput, r.DataOutput,
			); err != nil {
				return err
			}
		}
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Benchmark", "Instruction words", "Instruction used", "Data words", "Data used", "Trap", "Outputs"})
	for _, r := range results {
		table.Append([]string{
			color.GreenString(r.Stem),
			strconv.FormatUint(uint64(r.Instruction.NumWords), 10),
			usage(r.Instruction),
			strconv.FormatUint(uint64(r.Data.NumWords), 10),
			usage(r.Data),
			trapAddress(r.Instruction),
			r.InstructionOutput + "\n" + r.DataOutput,
		})
	}
	table.Render()
	return nil
}

func usage(img *memory.Image) string {
	return fmt.Sprintf("%s / %s", humanize.IBytes(img.Span), humanize.IBytes(img.Size))
}
