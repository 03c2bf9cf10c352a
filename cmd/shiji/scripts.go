package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/shiji/pkg/scripts"
	shijicontext "github.com/grafana/shiji/pkg/shiji/context"
	"github.com/grafana/shiji/pkg/templates"
)

type scriptsParams struct {
	dir string
}

func addScriptsParams(cmd commander) *scriptsParams {
	params := &scriptsParams{}
	cmd.Arg("dir", "Directory receiving boot.S and link.ld.").Required().StringVar(&params.dir)
	return params
}

func generateScripts(ctx context.Context, flags *configFlags, params *scriptsParams) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	set, err := templates.Load(cfg.TemplatePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(params.dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", params.dir)
	}
	layout := cfg.Layout()
	res, err := scripts.Generate(set, params.dir, layout)
	if err != nil {
		return err
	}
	level.Info(shijicontext.Logger(ctx)).Log(
		"msg", "scripts generated",
		"program_start", scripts.HexFormat(layout.ProgramStart),
		"data_start", scripts.HexFormat(layout.DataStart),
		"stack_pointer", scripts.StackPointer(layout.DataMemSize, layout.StackSize),
	)
	_, err = fmt.Fprintf(output(ctx), "%s\n%s\n", res.Boot, res.Link)
	return err
}
