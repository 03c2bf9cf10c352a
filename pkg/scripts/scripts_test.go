package scripts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/shiji/pkg/templates"
)

func TestStackPointer(t *testing.T) {
	for _, tc := range []struct {
		data, stack uint64
		want        int64
	}{
		{0, 0, -4},
		{4, 0, 0},
		{32 * 1024, 4 * 1024, 36*1024 - 4},
		{65536, 1024, 66556},
		{1 << 31, 1 << 31, 1<<32 - 4},
	} {
		assert.Equal(t, tc.want, StackPointer(tc.data, tc.stack), "data=%d stack=%d", tc.data, tc.stack)
	}
}

func TestHexFormat(t *testing.T) {
	assert.Equal(t, "0x0", HexFormat(0))
	assert.Equal(t, "0x100", HexFormat(256))
	assert.Equal(t, "0x10000", HexFormat(65536))
	assert.Equal(t, "0xdeadbeef", HexFormat(0xdeadbeef))
}

func TestGenerate(t *testing.T) {
	set, err := templates.Load("")
	require.NoError(t, err)
	dir := t.TempDir()

	res, err := Generate(set, dir, Layout{
		ProgramStart:       256,
		DataStart:          65536,
		InstructionMemSize: 16384,
		DataMemSize:        8192,
		StackSize:          1024,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, BootFile), res.Boot)
	assert.Equal(t, filepath.Join(dir, LinkFile), res.Link)

	boot, err := os.ReadFile(res.Boot)
	require.NoError(t, err)
	assert.Contains(t, string(boot), "li sp, 9212")
	assert.Contains(t, string(boot), "# Program start: 0x100")

	link, err := os.ReadFile(res.Link)
	require.NoError(t, err)
	assert.Contains(t, string(link), "instrs (rx) : ORIGIN = 0x100, LENGTH = 16384")
	assert.Contains(t, string(link), "data (rw)   : ORIGIN = 0x10000, LENGTH = 8192")
	assert.Contains(t, string(link), "__stack_size = 1024;")
}

func TestGenerateCustomTemplates(t *testing.T) {
	tmplDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmplDir, string(templates.Boot)),
		[]byte("{{ .ProgramStart }} {{ .StackPointer }}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmplDir, string(templates.Link)),
		[]byte("{{ .ProgramStart }} {{ .DataStart }} {{ .InstructionMemSize }} {{ .DataMemSize }} {{ .StackSize }}"), 0o644))
	set, err := templates.Load(tmplDir)
	require.NoError(t, err)

	res, err := Generate(set, t.TempDir(), Layout{ProgramStart: 0x80, DataStart: 0x2000, InstructionMemSize: 1, DataMemSize: 2, StackSize: 6})
	require.NoError(t, err)

	boot, err := os.ReadFile(res.Boot)
	require.NoError(t, err)
	assert.Equal(t, "0x80 4", string(boot))
	link, err := os.ReadFile(res.Link)
	require.NoError(t, err)
	assert.Equal(t, "0x80 0x2000 1 2 6", string(link))
}

func TestGenerateMissingDir(t *testing.T) {
	set, err := templates.Load("")
	require.NoError(t, err)
	_, err = Generate(set, filepath.Join(t.TempDir(), "nope"), Layout{DataMemSize: 4})
	require.Error(t, err)
}
