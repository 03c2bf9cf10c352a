package memory

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/shiji/pkg/elf"
)

func words(n int) []string {
	res := make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("%08x", i+1)
	}
	return res
}

func TestBuild(t *testing.T) {
	img, err := Build(Data, []elf.Section{
		{Name: ".data", Start: 0, Words: []string{"00000001", "00000002"}},
	}, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.NumWords)
	assert.Equal(t, uint64(8), img.Span)
	assert.Equal(t, uint32(0), img.ArrayOffset)
	assert.Equal(t, []Placement{{0, "00000001"}, {1, "00000002"}}, img.Placements)
	assert.False(t, img.HasTrap)
	assert.Equal(t, 0.125, img.Utilization())
}

func TestBuildExceedsMemorySize(t *testing.T) {
	_, err := Build(Instruction, []elf.Section{
		{Name: ".text", Start: 0, Words: words(17)},
	}, 0, 32)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMemorySizeExceeded), "got %v", err)
}

func TestBuildExactBoundary(t *testing.T) {
	img, err := Build(Instruction, []elf.Section{
		{Name: ".text", Start: 0, Words: words(8)},
	}, 0, 32)
	require.NoError(t, err)
	assert.Equal(t, uint64(32), img.Span)
	assert.Equal(t, uint32(8), img.NumWords)

	_, err = Build(Instruction, []elf.Section{
		{Name: ".text", Start: 0, Words: words(9)},
	}, 0, 32)
	require.True(t, errors.Is(err, ErrMemorySizeExceeded))
}

func TestBuildNoSections(t *testing.T) {
	img, err := Build(Data, nil, 0x10000, 4, WithTrapAddress())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), img.NumWords)
	assert.Equal(t, uint64(4), img.Span)
	assert.Empty(t, img.Placements)
	assert.False(t, img.HasTrap)
	assert.Equal(t, []string{DefaultFill}, img.Words())
}

func TestBuildRelativeToBase(t *testing.T) {
	const base = 0x100
	img, err := Build(Instruction, []elf.Section{
		{Name: ".reset", Start: base / 4, Words: []string{"0080006f"}},
		{Name: ".illegal_instruction", Start: base/4 + 1, Words: []string{"0000006f"}},
		{Name: ".text", Start: base/4 + 2, Words: words(3)},
	}, base, 1024, WithTrapAddress(), WithFill("00000013"))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x40), img.ArrayOffset)
	assert.Equal(t, uint64(20), img.Span)
	assert.Equal(t, uint32(8), img.NumWords)
	assert.True(t, img.HasTrap)
	assert.Equal(t, uint32(0x110), img.TrapAddress)
	assert.Equal(t, []string{
		"0080006f", "0000006f", "00000001", "00000002", "00000003",
		"00000013", "00000013", "00000013",
	}, img.Words())
}

func TestBuildSectionBelowBase(t *testing.T) {
	_, err := Build(Instruction, []elf.Section{
		{Name: ".reset", Start: 0, Words: words(1)},
	}, 0x100, 1024)
	require.True(t, errors.Is(err, ErrSectionBelowBase), "got %v", err)
}

func TestBuildEmptySectionBelowBase(t *testing.T) {
	img, err := Build(Data, []elf.Section{
		{Name: ".rodata", Start: 0, Words: []string{}},
		{Name: ".data", Start: 0x4000, Words: []string{"00000001"}},
	}, 0x10000, 64)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), img.NumWords)
	assert.Equal(t, uint64(4), img.Span)
	assert.Len(t, img.Sections, 2)
	assert.Equal(t, []Placement{{Index: 0, Word: "00000001"}}, img.Placements)

	// An empty section past the end of memory does not count towards the span.
	img, err = Build(Instruction, []elf.Section{
		{Name: ".text", Start: 0x40, Words: words(2)},
		{Name: ".illegal_instruction", Start: 0x10000, Words: nil},
	}, 0x100, 8, WithTrapAddress())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.NumWords)
	assert.Equal(t, uint32(0x104), img.TrapAddress)
}

func TestBuildGapBetweenSections(t *testing.T) {
	img, err := Build(Data, []elf.Section{
		{Name: ".rodata", Start: 0x4000, Words: []string{"aaaaaaaa"}},
		{Name: ".data", Start: 0x4004, Words: []string{"bbbbbbbb"}},
	}, 0x10000, 0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), img.NumWords)
	assert.Equal(t, []string{
		"aaaaaaaa", DefaultFill, DefaultFill, DefaultFill,
		"bbbbbbbb", DefaultFill, DefaultFill, DefaultFill,
	}, img.Words())
}

func TestNumWordsIsCoveringPowerOfTwo(t *testing.T) {
	for n := 0; n <= 130; n++ {
		img, err := Build(Data, []elf.Section{{Name: ".data", Words: words(n)}}, 0, 1<<20)
		require.NoError(t, err)
		got := img.NumWords
		assert.Equal(t, uint32(0), got&(got-1), "n=%d num_words=%d is not a power of two", n, got)
		assert.GreaterOrEqual(t, got, uint32(n))
		if n > 1 {
			assert.Less(t, got/2, uint32(n), "n=%d num_words=%d is not minimal", n, got)
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	for in, want := range map[uint32]uint32{0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 1023: 1024, 1024: 1024, 1025: 2048} {
		assert.Equal(t, want, NextPowerOfTwo(in), "n=%d", in)
	}
}

func TestDigest(t *testing.T) {
	sections := []elf.Section{{Name: ".data", Words: words(3)}}
	a, err := Build(Data, sections, 0, 64)
	require.NoError(t, err)
	b, err := Build(Data, sections, 0, 1024)
	require.NoError(t, err)
	c, err := Build(Data, sections, 0, 64, WithFill("ffffffff"))
	require.NoError(t, err)

	assert.Len(t, a.Digest(), 16)
	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
}
