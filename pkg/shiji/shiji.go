package shiji

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/multierror"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/common/version"

	"github.com/grafana/shiji/pkg/config"
	"github.com/grafana/shiji/pkg/elf"
	"github.com/grafana/shiji/pkg/memory"
	"github.com/grafana/shiji/pkg/scripts"
	shijicontext "github.com/grafana/shiji/pkg/shiji/context"
	"github.com/grafana/shiji/pkg/templates"
	"github.com/grafana/shiji/pkg/toolchain"
	"github.com/grafana/shiji/pkg/util/atexit"
)

// Result describes the outputs of one benchmark run.
type Result struct {
	Benchmark string
	Stem      string

	Instruction *memory.Image
	Data        *memory.Image

	InstructionOutput string
	DataOutput        string
	// Disassembly is empty when disassembling failed.
	Disassembly string
	// TempDir no longer exists unless temporary files are kept.
	TempDir string
}

// Shiji turns C benchmarks into instruction and data memory mocks.
type Shiji struct {
	cfg       config.Config
	toolchain toolchain.Toolchain
	templates *templates.Set
	metrics   *metrics
}

// New loads the templates and registers metrics with the registry found in
// ctx.
func New(ctx context.Context, cfg config.Config, tc toolchain.Toolchain) (*Shiji, error) {
	set, err := templates.Load(cfg.TemplatePath)
	if err != nil {
		return nil, err
	}
	logger := shijicontext.Logger(ctx)
	for _, name := range templates.Names {
		level.Debug(logger).Log("msg", "loaded template", "template", name, "source", set.Source(name))
	}
	return &Shiji{
		cfg:       cfg,
		toolchain: tc,
		templates: set,
		metrics:   newMetrics(shijicontext.Registry(ctx)),
	}, nil
}

// Templates returns the template set in use.
func (s *Shiji) Templates() *templates.Set {
	return s.templates
}

// Stem is the benchmark file name up to its first dot.
func Stem(benchmark string) string {
	base := filepath.Base(benchmark)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

func InstructionOutputFile(stem string) string {
	return fmt.Sprintf("instruction_memory_mock_%s.sv", stem)
}

func DataOutputFile(stem string) string {
	return fmt.Sprintf("data_memory_mock_%s.sv", stem)
}

func DisassemblyFile(stem string) string {
	return stem + "-disassembled.txt"
}

// RunAll runs every benchmark in order. A failed benchmark does not stop the
// following ones; the returned error aggregates all failures.
func (s *Shiji) RunAll(ctx context.Context, benchmarks []string) ([]*Result, error) {
	var (
		results = make([]*Result, 0, len(benchmarks))
		errs    multierror.MultiError
	)
	for _, benchmark := range benchmarks {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}
		res, err := s.Run(ctx, benchmark)
		if err != nil {
			errs.Add(errors.Wrap(err, benchmark))
			continue
		}
		results = append(results, res)
	}
	return results, errs.Err()
}

// Run compiles benchmark and writes its memory mocks and disassembly.
func (s *Shiji) Run(ctx context.Context, benchmark string) (res *Result, err error) {
	stem := Stem(benchmark)
	ctx = shijicontext.WrapBenchmark(ctx, stem)
	logger := shijicontext.Logger(ctx)

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.runs.WithLabelValues(outcome).Inc()
	}()

	if _, err := os.Stat(benchmark); err != nil {
		return nil, errors.Wrap(err, "benchmark")
	}
	for _, dir := range []string{s.cfg.OutputPath, s.cfg.LogPath, s.cfg.TemporaryPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}

	tempDir := filepath.Join(s.cfg.TemporaryPath, stem+"-"+ulid.Make().String())
	if err := os.Mkdir(tempDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating temporary directory")
	}
	res = &Result{Benchmark: benchmark, Stem: stem, TempDir: tempDir}
	if !s.cfg.KeepTemporaryFiles {
		unregister := atexit.Register(func() { _ = os.RemoveAll(tempDir) })
		defer func() {
			unregister()
			if rmErr := os.RemoveAll(tempDir); rmErr != nil {
				err = multierror.New(err, errors.Wrap(rmErr, "removing temporary directory")).Err()
			}
		}()
	}
	level.Debug(logger).Log("msg", "created temporary directory", "path", tempDir)

	var scr *scripts.Scripts
	if err := s.stage(stageScripts, func() (err error) {
		scr, err = scripts.Generate(s.templates, tempDir, s.cfg.Layout())
		return err
	}); err != nil {
		return nil, err
	}

	var executable string
	if err := s.stage(stageCompile, func() (err error) {
		executable, err = s.toolchain.Compile(ctx, []string{scr.Boot, benchmark}, scr.Link, filepath.Join(tempDir, stem))
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "compiling")
	}

	var instr, data []elf.Section
	if err := s.stage(stageExtract, func() error {
		var err error
		instr, data, err = extract(executable)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.stage(stageRender, func() error {
		return s.render(logger, res, instr, data)
	}); err != nil {
		return nil, err
	}

	_ = s.stage(stageDisassemble, func() error {
		path, err := s.disassemble(ctx, executable, stem)
		if err != nil {
			level.Warn(logger).Log("msg", "disassembly failed", "err", err)
			return err
		}
		res.Disassembly = path
		return nil
	})

	level.Info(logger).Log(
		"msg", "memory mocks generated",
		"instruction_words", res.Instruction.NumWords,
		"data_words", res.Data.NumWords,
		"instruction_output", res.InstructionOutput,
		"data_output", res.DataOutput,
	)
	return res, nil
}

func (s *Shiji) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

func extract(executable string) (instr, data []elf.Section, err error) {
	f, err := elf.Open(executable)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		err = multierror.New(err, f.Close()).Err()
	}()
	if instr, err = elf.ExtractSections(f, elf.InstructionSections); err != nil {
		return nil, nil, err
	}
	if data, err = elf.ExtractSections(f, elf.DataSections); err != nil {
		return nil, nil, err
	}
	return instr, data, nil
}

func (s *Shiji) render(logger log.Logger, res *Result, instr, data []elf.Section) error {
	var err error
	res.Instruction, err = memory.Build(memory.Instruction, instr,
		uint32(s.cfg.ProgramStart), uint64(s.cfg.InstructionMemSize),
		memory.WithTrapAddress(), memory.WithFill(s.cfg.FillWord))
	if err != nil {
		return errors.Wrap(err, "instruction memory")
	}
	res.Data, err = memory.Build(memory.Data, data,
		uint32(s.cfg.DataStart), uint64(s.cfg.DataMemSize+s.cfg.StackSize),
		memory.WithFill(s.cfg.FillWord))
	if err != nil {
		return errors.Wrap(err, "data memory")
	}

	res.InstructionOutput = filepath.Join(s.cfg.OutputPath, InstructionOutputFile(res.Stem))
	res.DataOutput = filepath.Join(s.cfg.OutputPath, DataOutputFile(res.Stem))
	for _, out := range []struct {
		path string
		img  *memory.Image
	}{
		{res.InstructionOutput, res.Instruction},
		{res.DataOutput, res.Data},
	} {
		if err := s.templates.RenderMemory(out.path, templates.MemoryData{
			Image:     out.img,
			Benchmark: res.Stem,
			Version:   version.Version,
		}); err != nil {
			return err
		}
		kind := string(out.img.Kind)
		s.metrics.memoryWords.WithLabelValues(res.Stem, kind).Set(float64(out.img.NumWords))
		s.metrics.utilization.WithLabelValues(res.Stem, kind).Set(out.img.Utilization())
		level.Debug(logger).Log(
			"msg", "rendered memory",
			"memory", kind,
			"sections", len(out.img.Sections),
			"span", humanize.IBytes(out.img.Span),
			"size", humanize.IBytes(out.img.Size),
			"path", out.path,
		)
	}
	return nil
}

func (s *Shiji) disassemble(ctx context.Context, executable, stem string) (string, error) {
	listing, err := s.toolchain.Disassemble(ctx, executable)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.LogPath, DisassemblyFile(stem))
	if err := os.WriteFile(path, listing, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	return path, nil
}
