// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

type helpCommand struct {
	CommandBase
	super  *SuperCommand
	target *commandReference
}

func (c *helpCommand) Info() *Info {
	return &Info{
		Name:    "help",
		Args:    "[command]",
		Purpose: helpPurpose,
	}
}

func (c *helpCommand) Init(args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 1:
	default:
		return errors.Errorf("extra arguments to command help: %q", args[1:])
	}
	ref, ok := c.super.subcmds[args[0]]
	if !ok {
		return errors.Errorf("unknown command or topic for %s", args[0])
	}
	c.target = &ref
	return nil
}

func (c *helpCommand) commandHelp(command Command, name string) []byte {
	info := command.Info()
	if command != c.super {
		info.Name = fmt.Sprintf("%s %s", c.super.Name, name)
	}
	f := gnuflag.NewFlagSet(info.Name, gnuflag.ContinueOnError)
	command.SetFlags(f)
	return info.Help(f)
}

func (c *helpCommand) Run(ctx *Context) error {
	if c.target != nil {
		_, err := ctx.Stdout.Write(c.commandHelp(c.target.command, c.target.name))
		return errors.Trace(err)
	}
	// Help is the selected action, but the info printed is the
	// SuperCommand's own.
	c.super.action.command = nil
	_, err := ctx.Stdout.Write(c.commandHelp(c.super, c.super.Name))
	return errors.Trace(err)
}
