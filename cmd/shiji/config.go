package main

import (
	"context"
	"flag"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/shiji/pkg/config"
)

// overrideValue records a config flag given on the command line. Unset
// flags keep the value from the config file or the default.
type overrideValue struct {
	value  string
	set    bool
	isBool bool
}

func (v *overrideValue) Set(s string) error {
	v.value = s
	v.set = true
	return nil
}

func (v *overrideValue) String() string { return v.value }

func (v *overrideValue) IsBoolFlag() bool { return v.isBool }

type configFlags struct {
	file      string
	expandEnv bool
	values    map[string]*overrideValue
}

// addConfigFlags exposes every config.Config flag on cmd.
func addConfigFlags(cmd commander) *configFlags {
	c := &configFlags{values: map[string]*overrideValue{}}
	cmd.Flag("config.file", "Configuration file to load.").Default("").StringVar(&c.file)
	cmd.Flag("config.expand-env", "Expands ${var} or $var in the config file according to the values of the environment variables.").Default("false").BoolVar(&c.expandEnv)

	var proto config.Config
	fs := flag.NewFlagSet("shiji", flag.ContinueOnError)
	proto.RegisterFlags(fs)
	fs.VisitAll(func(f *flag.Flag) {
		v := &overrideValue{value: f.DefValue}
		if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok {
			v.isBool = b.IsBoolFlag()
		}
		c.values[f.Name] = v
		clause := cmd.Flag(f.Name, f.Usage)
		if f.DefValue != "" && !v.isBool {
			clause = clause.PlaceHolder(f.DefValue)
		}
		clause.SetValue(v)
	})
	return c
}

// load builds the configuration: defaults, then the config file, then the
// flags given on the command line.
func (c *configFlags) load() (*config.Config, error) {
	overrides := make(map[string]string)
	for name, v := range c.values {
		if v.set {
			overrides[name] = v.value
		}
	}
	var cfg config.Config
	fs := flag.NewFlagSet("shiji", flag.ContinueOnError)
	if err := config.Unmarshal(&cfg,
		config.Defaults(fs),
		config.YAML(c.file, c.expandEnv),
		config.Overrides(fs, overrides),
	); err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	return &cfg, nil
}

// printConfig writes the effective configuration as YAML.
func printConfig(ctx context.Context, flags *configFlags) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encoding configuration")
	}
	_, err = output(ctx).Write(out)
	return err
}
