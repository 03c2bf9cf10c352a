package toolchain

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Binary names, prefixed with Config.Prefix.
const (
	CompilerName     = "riscv32-unknown-elf-gcc"
	DisassemblerName = "riscv32-unknown-elf-objdump"
)

// Toolchain builds a benchmark and disassembles the result.
type Toolchain interface {
	// Compile links sources with linkerScript into output and returns the
	// path of the executable.
	Compile(ctx context.Context, sources []string, linkerScript, output string) (string, error)
	// Disassemble returns a human readable listing of executable.
	Disassemble(ctx context.Context, executable string) ([]byte, error)
}

type Config struct {
	Prefix         string        `yaml:"prefix"`
	CompileTimeout time.Duration `yaml:"compile_timeout"`
	ExtraFlags     string        `yaml:"extra_flags"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Prefix, "toolchain.prefix", "/opt/riscv/bin/", "Prepended to the compiler and objdump binary names. Either a directory ending in / or empty to use $PATH.")
	f.DurationVar(&cfg.CompileTimeout, "toolchain.compile-timeout", 2*time.Minute, "Upper limit for a single compiler or disassembler invocation. 0 disables the limit.")
	f.StringVar(&cfg.ExtraFlags, "toolchain.extra-flags", "", "Additional space separated compiler flags, e.g. -march=rv32imc -O2.")
}

// Error is returned when a toolchain binary cannot be started or exits
// with a non-zero status.
type Error struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed (exit code %d): %v", filepath.Base(e.Tool), e.ExitCode, e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GNU drives the riscv32-unknown-elf GCC and binutils.
type GNU struct {
	cfg    Config
	logger log.Logger
}

func NewGNU(cfg Config, logger log.Logger) *GNU {
	return &GNU{cfg: cfg, logger: logger}
}

func (g *GNU) Compile(ctx context.Context, sources []string, linkerScript, output string) (string, error) {
	args := []string{"-nostartfiles"}
	args = append(args, strings.Fields(g.cfg.ExtraFlags)...)
	args = append(args, sources...)
	args = append(args, "-T", linkerScript, "-o", output)
	if _, err := g.run(ctx, g.cfg.Prefix+CompilerName, args); err != nil {
		return "", err
	}
	return output, nil
}

func (g *GNU) Disassemble(ctx context.Context, executable string) ([]byte, error) {
	return g.run(ctx, g.cfg.Prefix+DisassemblerName, []string{"-D", "-S", executable})
}

func (g *GNU) run(ctx context.Context, tool string, args []string) ([]byte, error) {
	if g.cfg.CompileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CompileTimeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	level.Debug(g.logger).Log("msg", "toolchain invocation", "tool", tool, "args", strings.Join(args, " "), "duration", time.Since(start), "err", err)
	if err == nil {
		return stdout.Bytes(), nil
	}

	res := &Error{Tool: tool, Args: args, ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Err = ctxErr
	}
	return nil, res
}
