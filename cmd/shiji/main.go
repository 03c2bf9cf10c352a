package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	shijicontext "github.com/grafana/shiji/pkg/shiji/context"
)

var cfg struct {
	verbose bool
}

var consoleOutput = os.Stderr

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Generates SystemVerilog instruction and data memory mocks from C benchmarks for RISC-V testbenches.").UsageWriter(os.Stdout)
	app.Version(version.Print("shiji"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	flags := addConfigFlags(app)

	runCmd := app.Command("run", "Compile benchmarks and write their memory mocks.")
	runParams := addRunParams(runCmd)

	sectionsCmd := app.Command("sections", "List the memory sections of a RISC-V executable.")
	sectionsParams := addSectionsParams(sectionsCmd)

	scriptsCmd := app.Command("scripts", "Write only the boot and linker scripts.")
	scriptsParams := addScriptsParams(scriptsCmd)

	configCmd := app.Command("config", "Print the effective configuration as YAML.")

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := log.NewLogfmtLogger(log.NewSyncWriter(consoleOutput))
	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	ctx := shijicontext.WithLogger(context.Background(), logger)
	ctx = withOutput(ctx, os.Stdout)

	switch parsedCmd {
	case runCmd.FullCommand():
		os.Exit(checkError(run(ctx, flags, runParams)))
	case sectionsCmd.FullCommand():
		os.Exit(checkError(sections(ctx, sectionsParams)))
	case scriptsCmd.FullCommand():
		os.Exit(checkError(generateScripts(ctx, flags, scriptsParams)))
	case configCmd.FullCommand():
		os.Exit(checkError(printConfig(ctx, flags)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
		os.Exit(1)
	}
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(consoleOutput, "%s %v\n", color.RedString("error:"), err)
	return 1
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}

type commander interface {
	Flag(name, help string) *kingpin.FlagClause
	Arg(name, help string) *kingpin.ArgClause
}
