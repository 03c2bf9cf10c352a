package templates

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"

	"github.com/pkg/errors"

	"github.com/grafana/shiji/pkg/memory"
)

var (
	//go:embed resources/*
	resources embed.FS
)

// Name identifies one template of a Set. It is also the file name looked up
// in a template directory.
type Name string

const (
	Boot              Name = "boot.template"
	Link              Name = "link.template"
	InstructionMemory Name = "instruction_memory.template"
	DataMemory        Name = "data_memory.template"
)

var Names = []Name{Boot, Link, InstructionMemory, DataMemory}

var funcs = template.FuncMap{
	// byteaddr formats a word address as a byte address.
	"byteaddr": func(word uint32) string {
		return fmt.Sprintf("0x%08x", uint64(word)*4)
	},
}

// Set holds the four templates used for one run.
type Set struct {
	templates map[Name]*template.Template
	sources   map[Name]string
}

// Load parses the embedded defaults and replaces each one that has a file
// of the same name in dir. An empty dir keeps the defaults.
func Load(dir string) (*Set, error) {
	s := &Set{
		templates: make(map[Name]*template.Template, len(Names)),
		sources:   make(map[Name]string, len(Names)),
	}
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, errors.Wrap(err, "template directory")
		}
		if !info.IsDir() {
			return nil, errors.Errorf("template path %s is not a directory", dir)
		}
	}
	for _, name := range Names {
		text, source, err := read(dir, name)
		if err != nil {
			return nil, err
		}
		t, err := template.New(string(name)).Funcs(funcs).Option("missingkey=error").Parse(string(text))
		if err != nil {
			return nil, errors.Wrapf(err, "parsing template %s", source)
		}
		s.templates[name] = t
		s.sources[name] = source
	}
	return s, nil
}

func read(dir string, name Name) ([]byte, string, error) {
	if dir != "" {
		path := filepath.Join(dir, string(name))
		text, err := os.ReadFile(path)
		if err == nil {
			return text, path, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", errors.Wrapf(err, "reading template %s", path)
		}
	}
	text, err := resources.ReadFile("resources/" + string(name))
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading embedded template %s", name)
	}
	return text, "embedded:" + string(name), nil
}

// Source tells where a template was loaded from.
func (s *Set) Source(name Name) string {
	return s.sources[name]
}

func (s *Set) Execute(w io.Writer, name Name, data any) error {
	t, ok := s.templates[name]
	if !ok {
		return errors.Errorf("unknown template %s", name)
	}
	if err := t.Execute(w, data); err != nil {
		return errors.Wrapf(err, "executing template %s", s.sources[name])
	}
	return nil
}

// WriteFile renders name into path. Nothing is written when rendering fails.
func (s *Set) WriteFile(path string, name Name, data any) error {
	var buf bytes.Buffer
	if err := s.Execute(&buf, name, data); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// MemoryData is passed to the memory templates.
type MemoryData struct {
	*memory.Image
	Benchmark string
	Version   string
}

// RenderMemory renders img with the template matching its kind.
func (s *Set) RenderMemory(path string, data MemoryData) error {
	name := DataMemory
	if data.Kind == memory.Instruction {
		name = InstructionMemory
	}
	return s.WriteFile(path, name, data)
}
