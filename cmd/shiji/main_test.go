package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/alecthomas/kingpin.v2"

	shijicontext "github.com/grafana/shiji/pkg/shiji/context"
	"github.com/grafana/shiji/pkg/test"
	"github.com/grafana/shiji/pkg/toolchain"
	"github.com/grafana/shiji/pkg/util/atexit"
)

var fixtureSections = []test.ELFSection{
	{Name: ".text", Addr: 0x100, Data: test.LittleEndianWords(0x00000013, 0x00008067)},
	{Name: ".data", Addr: 0x10000, Data: test.LittleEndianWords(0x2a)},
}

type fakeToolchain struct{}

func (fakeToolchain) Compile(_ context.Context, _ []string, _, output string) (string, error) {
	return output, os.WriteFile(output, test.BuildELF32(binary.LittleEndian, fixtureSections...), 0o755)
}

func (fakeToolchain) Disassemble(context.Context, string) ([]byte, error) {
	return []byte("disassembly\n"), nil
}

var _ toolchain.Toolchain = fakeToolchain{}

type testApp struct {
	app      *kingpin.Application
	flags    *configFlags
	run      *runParams
	sections *sectionsParams
	scripts  *scriptsParams
}

func newTestApp() *testApp {
	app := kingpin.New("shiji", "")
	a := &testApp{app: app, flags: addConfigFlags(app)}
	a.run = addRunParams(app.Command("run", ""))
	a.sections = addSectionsParams(app.Command("sections", ""))
	a.scripts = addScriptsParams(app.Command("scripts", ""))
	app.Command("config", "")
	return a
}

func testContext(t *testing.T, out *bytes.Buffer) context.Context {
	ctx := shijicontext.WithLogger(context.Background(), test.NewTestingLogger(t))
	return withOutput(ctx, out)
}

func TestConfigFlags(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "shiji.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("stack_size: 8KiB\ndata_mem_size: 8KiB\nlog_path: from-file\n"), 0o644))

	a := newTestApp()
	cmd, err := a.app.Parse([]string{
		"--config.file", cfgFile,
		"--shiji.stack-size=1KiB",
		"--shiji.keep-temporary-files",
		"--toolchain.prefix=/usr/local/bin/",
		"scripts", dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "scripts", cmd)

	cfg, err := a.flags.load()
	require.NoError(t, err)
	assert.EqualValues(t, 1024, cfg.StackSize)
	assert.EqualValues(t, 8192, cfg.DataMemSize)
	assert.EqualValues(t, 32768, cfg.InstructionMemSize)
	assert.Equal(t, "from-file", cfg.LogPath)
	assert.True(t, cfg.KeepTemporaryFiles)
	assert.Equal(t, "/usr/local/bin/", cfg.Toolchain.Prefix)
}

func TestConfigFlagsInvalid(t *testing.T) {
	a := newTestApp()
	_, err := a.app.Parse([]string{"--shiji.program-start=0x102", "scripts", t.TempDir()})
	require.NoError(t, err)

	_, err = a.flags.load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not word aligned")
}

func TestPrintConfig(t *testing.T) {
	a := newTestApp()
	_, err := a.app.Parse([]string{"--shiji.program-start=512", "--toolchain.extra-flags=-O2", "config"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printConfig(testContext(t, &out), a.flags))
	assert.Contains(t, out.String(), "0x200")
	assert.Contains(t, out.String(), "-O2")
	assert.Contains(t, out.String(), "stack_size: 4.0 KiB")
}

func TestGenerateScripts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scripts")
	a := newTestApp()
	_, err := a.app.Parse([]string{"--shiji.data-mem-size=1KiB", "--shiji.stack-size=1KiB", "scripts", dir})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, generateScripts(testContext(t, &out), a.flags, a.scripts))
	assert.Equal(t, filepath.Join(dir, "boot.S")+"\n"+filepath.Join(dir, "link.ld")+"\n", out.String())

	boot, err := os.ReadFile(filepath.Join(dir, "boot.S"))
	require.NoError(t, err)
	assert.Contains(t, string(boot), "li sp, 2044")
}

func TestSections(t *testing.T) {
	path := test.WriteELF32(t, t.TempDir(), "fdct", binary.LittleEndian, fixtureSections...)

	for _, tc := range []struct {
		name     string
		args     []string
		contains []string
		missing  []string
	}{
		{name: "all", contains: []string{".text", ".data", "0x00000100", "0x00010000"}},
		{name: "instruction", args: []string{"--instruction"}, contains: []string{".text", "0x40"}, missing: []string{".data"}},
		{name: "data", args: []string{"--data"}, contains: []string{".data", "0x4000", "4 B"}, missing: []string{".text"}},
		{name: "tree", args: []string{"--format=tree"}, contains: []string{
			"instruction memory",
			"data memory",
			".text: 2 words (8 B) at 0x00000100",
			".data: 1 words (4 B) at 0x00010000",
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestApp()
			_, err := a.app.Parse(append(append([]string{"sections"}, tc.args...), path))
			require.NoError(t, err)

			var out bytes.Buffer
			require.NoError(t, sections(testContext(t, &out), a.sections))
			for _, s := range tc.contains {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tc.missing {
				assert.NotContains(t, out.String(), s)
			}
		})
	}
}

func TestSectionsNotELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fdct.c")
	require.NoError(t, os.WriteFile(path, []byte("int main;"), 0o644))
	a := newTestApp()
	_, err := a.app.Parse([]string{"sections", path})
	require.NoError(t, err)

	var out bytes.Buffer
	require.Error(t, sections(testContext(t, &out), a.sections))
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	benchmark := filepath.Join(dir, "fdct.c")
	require.NoError(t, os.WriteFile(benchmark, []byte("int main(void) { return 0; }\n"), 0o644))
	metricsFile := filepath.Join(dir, "metrics.prom")

	a := newTestApp()
	_, err := a.app.Parse([]string{
		"--shiji.output-path=" + filepath.Join(dir, "output"),
		"--shiji.log-path=" + filepath.Join(dir, "logs"),
		"--shiji.temporary-path=" + filepath.Join(dir, "temp"),
		"--metrics.textfile=" + metricsFile,
		"run", benchmark,
	})
	require.NoError(t, err)
	a.run.toolchain = fakeToolchain{}

	leftover := false
	atexit.Register(func() { leftover = true })

	var out bytes.Buffer
	require.NoError(t, run(testContext(t, &out), a.flags, a.run))
	assert.True(t, leftover, "pending exit callbacks run when the command returns")

	fields := strings.Split(strings.TrimSpace(out.String()), "\t")
	require.Len(t, fields, 6)
	assert.Equal(t, []string{"fdct", "2", "1", "0x00000104"}, fields[:4])
	assert.FileExists(t, fields[4])
	assert.FileExists(t, fields[5])
	assert.FileExists(t, filepath.Join(dir, "logs", "fdct-disassembled.txt"))

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `shiji_runs_total{outcome="success"} 1`)
	assert.Contains(t, string(metrics), `shiji_memory_words{benchmark="fdct",memory="instruction"} 2`)
}

func TestCheckError(t *testing.T) {
	assert.Equal(t, 0, checkError(nil))
	assert.Equal(t, 1, checkError(errors.New("boom")))
}
