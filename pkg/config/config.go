package config

import (
	"bytes"
	"encoding/hex"
	"flag"
	"io"
	"os"
	"slices"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/grafana/shiji/pkg/memory"
	"github.com/grafana/shiji/pkg/scripts"
	"github.com/grafana/shiji/pkg/toolchain"
)

type Config struct {
	// TemplatePath overrides the embedded templates by file name. Empty
	// keeps the embedded ones.
	TemplatePath       string `yaml:"template_path"`
	LogPath            string `yaml:"log_path"`
	OutputPath         string `yaml:"output_path"`
	TemporaryPath      string `yaml:"temporary_path"`
	KeepTemporaryFiles bool   `yaml:"keep_temporary_files"`

	ProgramStart       Address  `yaml:"program_start"`
	DataStart          Address  `yaml:"data_start"`
	InstructionMemSize ByteSize `yaml:"instruction_mem_size"`
	DataMemSize        ByteSize `yaml:"data_mem_size"`
	StackSize          ByteSize `yaml:"stack_size"`
	FillWord           string   `yaml:"fill_word"`

	Toolchain       toolchain.Config `yaml:"toolchain"`
	MetricsTextfile string           `yaml:"metrics_textfile"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.TemplatePath, "shiji.template-path", "", "Directory with boot.template, link.template, instruction_memory.template and data_memory.template. Missing files fall back to the embedded templates.")
	f.StringVar(&cfg.LogPath, "shiji.log-path", "logs", "Directory receiving the disassembly listings.")
	f.StringVar(&cfg.OutputPath, "shiji.output-path", "output", "Directory receiving the generated memory mocks.")
	f.StringVar(&cfg.TemporaryPath, "shiji.temporary-path", "temp", "Parent of the per-run temporary directories.")
	f.BoolVar(&cfg.KeepTemporaryFiles, "shiji.keep-temporary-files", false, "Keep the generated scripts and executable after a run.")

	cfg.ProgramStart = 0x100
	f.Var(&cfg.ProgramStart, "shiji.program-start", "Byte address of the first instruction.")
	cfg.DataStart = 0x10000
	f.Var(&cfg.DataStart, "shiji.data-start", "Byte address of the data memory.")
	cfg.InstructionMemSize = 32 * 1024
	f.Var(&cfg.InstructionMemSize, "shiji.instruction-mem-size", "Size of the instruction memory.")
	cfg.DataMemSize = 16 * 1024
	f.Var(&cfg.DataMemSize, "shiji.data-mem-size", "Size of the data memory, without the stack.")
	cfg.StackSize = 4 * 1024
	f.Var(&cfg.StackSize, "shiji.stack-size", "Size of the stack placed after the data memory.")
	f.StringVar(&cfg.FillWord, "shiji.fill-word", memory.DefaultFill, "Value, as 8 hex digits, of memory words no section populates.")

	cfg.Toolchain.RegisterFlags(f)
	f.StringVar(&cfg.MetricsTextfile, "metrics.textfile", "", "Write run metrics in the Prometheus text format to this file.")
}

func (cfg *Config) Validate() error {
	if cfg.ProgramStart%4 != 0 {
		return errors.Errorf("program start %s is not word aligned", cfg.ProgramStart)
	}
	if cfg.DataStart%4 != 0 {
		return errors.Errorf("data start %s is not word aligned", cfg.DataStart)
	}
	for name, size := range map[string]ByteSize{
		"instruction memory size": cfg.InstructionMemSize,
		"data memory size":        cfg.DataMemSize,
	} {
		if size == 0 {
			return errors.Errorf("%s must be greater than zero", name)
		}
	}
	if (cfg.DataMemSize+cfg.StackSize)%4 != 0 {
		return errors.Errorf("data memory size plus stack size (%d bytes) is not a multiple of 4", cfg.DataMemSize+cfg.StackSize)
	}
	if b, err := hex.DecodeString(cfg.FillWord); err != nil || len(b) != 4 {
		return errors.Errorf("fill word %q is not 8 hex digits", cfg.FillWord)
	}
	if cfg.LogPath == "" || cfg.OutputPath == "" || cfg.TemporaryPath == "" {
		return errors.New("log, output and temporary paths must be set")
	}
	if cfg.Toolchain.CompileTimeout < 0 {
		return errors.New("toolchain compile timeout must not be negative")
	}
	return nil
}

// Layout returns the memory map used for the boot and linker scripts.
func (cfg *Config) Layout() scripts.Layout {
	return scripts.Layout{
		ProgramStart:       uint32(cfg.ProgramStart),
		DataStart:          uint32(cfg.DataStart),
		InstructionMemSize: uint64(cfg.InstructionMemSize),
		DataMemSize:        uint64(cfg.DataMemSize),
		StackSize:          uint64(cfg.StackSize),
	}
}

// Source populates a Config. Sources are applied in order, later ones
// override earlier ones.
type Source func(*Config) error

// Unmarshal applies sources to cfg and validates the result.
func Unmarshal(cfg *Config, sources ...Source) error {
	for _, source := range sources {
		if err := source(cfg); err != nil {
			return err
		}
	}
	return cfg.Validate()
}

// Defaults registers the flags of cfg with fs, which sets every default.
func Defaults(fs *flag.FlagSet) Source {
	return func(cfg *Config) error {
		cfg.RegisterFlags(fs)
		return nil
	}
}

// YAML loads a config file. With expandEnv, ${VAR} references are replaced
// by environment values before parsing. Unknown keys are rejected.
func YAML(path string, expandEnv bool) Source {
	return func(cfg *Config) error {
		if path == "" {
			return nil
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "reading config file")
		}
		if expandEnv {
			s, err := envsubst.EvalEnv(string(buf))
			if err != nil {
				return errors.Wrapf(err, "expanding environment in %s", path)
			}
			buf = []byte(s)
		}
		dec := yaml.NewDecoder(bytes.NewReader(buf))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrapf(err, "parsing config file %s", path)
		}
		return nil
	}
}

// Overrides sets flags of fs, which must be registered against the same
// Config, from name/value pairs.
func Overrides(fs *flag.FlagSet, values map[string]string) Source {
	return func(_ *Config) error {
		names := lo.Keys(values)
		slices.Sort(names)
		for _, name := range names {
			if err := fs.Set(name, values[name]); err != nil {
				return errors.Wrapf(err, "flag --%s", name)
			}
		}
		return nil
	}
}
