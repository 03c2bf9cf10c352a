package memory

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/grafana/shiji/pkg/elf"
)

type Kind string

const (
	Instruction Kind = "instruction"
	Data        Kind = "data"
)

// DefaultFill is the value of words no section populates.
const DefaultFill = "00000000"

var (
	ErrMemorySizeExceeded = errors.New("memory size exceeded")
	ErrSectionBelowBase   = errors.New("section starts below the memory base address")
)

// Placement is a single populated word of the memory array.
type Placement struct {
	Index uint32
	Word  string
}

// Image is the layout of one memory mock: a power of two sized array of
// 32-bit words holding the extracted sections relative to BaseAddress.
type Image struct {
	Kind        Kind
	BaseAddress uint32
	Size        uint64 // declared, in bytes
	Span        uint64 // required by the sections, in bytes
	NumWords    uint32
	ArrayOffset uint32
	Fill        string

	Sections   []elf.Section
	Placements []Placement

	// TrapAddress is the byte address of the last populated word. Only set
	// when requested with WithTrapAddress and at least one word is present.
	TrapAddress uint32
	HasTrap     bool
}

type options struct {
	trap bool
	fill string
}

type Option func(*options)

// WithTrapAddress computes the highest populated byte address, used by
// instruction memories to catch execution running past the program.
func WithTrapAddress() Option {
	return func(o *options) { o.trap = true }
}

// WithFill sets the word used for unpopulated array entries.
func WithFill(word string) Option {
	return func(o *options) { o.fill = word }
}

// Build sizes a memory for sections placed relative to base. It fails with
// ErrMemorySizeExceeded when the sections need more than memSize bytes.
func Build(kind Kind, sections []elf.Section, base uint32, memSize uint64, opts ...Option) (*Image, error) {
	o := options{fill: DefaultFill}
	for _, opt := range opts {
		opt(&o)
	}

	arrayOffset := base / elf.WordSize
	// Empty sections occupy no words, wherever they are linked.
	populated := lo.Filter(sections, func(s elf.Section, _ int) bool { return len(s.Words) > 0 })
	for _, s := range populated {
		if s.Start < arrayOffset {
			return nil, errors.Wrapf(ErrSectionBelowBase, "%s memory: section %s at 0x%x, base 0x%x",
				kind, s.Name, uint64(s.Start)*elf.WordSize, base)
		}
	}

	maxEnd := lo.Max(append(lo.Map(populated, func(s elf.Section, _ int) uint32 {
		return s.End() - arrayOffset
	}), 1))
	span := uint64(maxEnd) * elf.WordSize
	if span > memSize {
		return nil, errors.Wrapf(ErrMemorySizeExceeded, "%s memory needs %s (%d bytes) but only %s (%d bytes) are declared",
			kind, humanize.IBytes(span), span, humanize.IBytes(memSize), memSize)
	}

	img := &Image{
		Kind:        kind,
		BaseAddress: base,
		Size:        memSize,
		Span:        span,
		NumWords:    NextPowerOfTwo(maxEnd),
		ArrayOffset: arrayOffset,
		Fill:        o.fill,
		Sections:    sections,
	}
	for _, s := range sections {
		for i, w := range s.Words {
			img.Placements = append(img.Placements, Placement{
				Index: s.Start - arrayOffset + uint32(i),
				Word:  w,
			})
		}
		if o.trap && len(s.Words) > 0 {
			last := (s.End() - 1) * elf.WordSize
			if !img.HasTrap || last > img.TrapAddress {
				img.TrapAddress = last
				img.HasTrap = true
			}
		}
	}
	return img, nil
}

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n == 0.
func NextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}

// Words materializes the whole array. Later placements overwrite earlier
// ones at the same index.
func (img *Image) Words() []string {
	words := make([]string, img.NumWords)
	for i := range words {
		words[i] = img.Fill
	}
	for _, p := range img.Placements {
		words[p.Index] = p.Word
	}
	return words
}

// Utilization is the share of the declared size taken by the sections.
func (img *Image) Utilization() float64 {
	if img.Size == 0 {
		return 0
	}
	return float64(img.Span) / float64(img.Size)
}

// Digest identifies the array contents independently of the template used
// to render them.
func (img *Image) Digest() string {
	h := xxhash.New()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], img.NumWords)
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(img.Fill)
	for _, p := range img.Placements {
		binary.LittleEndian.PutUint32(buf[:], p.Index)
		_, _ = h.Write(buf[:])
		_, _ = h.WriteString(p.Word)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
