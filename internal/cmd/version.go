// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"github.com/juju/gnuflag"
)

// versionCommand is a cmd.Command that prints the current version.
type versionCommand struct {
	CommandBase
	out     Output
	version string
}

func newVersionCommand(version string) *versionCommand {
	return &versionCommand{version: version}
}

func (v *versionCommand) Info() *Info {
	return &Info{
		Name:    "version",
		Purpose: "Print the current version.",
	}
}

func (v *versionCommand) SetFlags(f *gnuflag.FlagSet) {
	v.out.AddFlags(f, "yaml", DefaultFormatters)
}

func (v *versionCommand) Run(ctx *Context) error {
	return v.out.Write(ctx, v.version)
}
