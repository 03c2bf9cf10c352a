package config

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Address is a 32-bit byte address. It accepts decimal, 0x hex and 0o
// octal notation.
type Address uint32

func (a *Address) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid address %q", s)
	}
	*a = Address(v)
	return nil
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint32(a))
}

func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	return a.Set(value.Value)
}

func (a Address) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// ByteSize is a size in bytes that accepts humanized values such as 64KiB.
type ByteSize uint64

func (b *ByteSize) Set(s string) error {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", s)
	}
	*b = ByteSize(v)
	return nil
}

// String prefers the humanized form and falls back to plain bytes when
// that form would not parse back to the same value.
func (b ByteSize) String() string {
	s := humanize.IBytes(uint64(b))
	if v, err := humanize.ParseBytes(s); err == nil && v == uint64(b) {
		return s
	}
	return strconv.FormatUint(uint64(b), 10)
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	return b.Set(value.Value)
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}
