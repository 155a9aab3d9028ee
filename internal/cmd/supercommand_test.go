// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/cmd/cmdtesting"
)

type superCommandSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&superCommandSuite{})

func newSuperCommand() *cmd.SuperCommand {
	sc := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "jujutest",
		Purpose: "to be purposeful",
		Doc:     "doc\nblah\ndoc",
		Version: "1.2.3",
	})
	sc.Register(&TestCommand{Name: "flip"})
	sc.Register(&TestCommand{Name: "flapbabble", Aliases: []string{"flap"}})
	return sc
}

func (s *superCommandSuite) TestDispatch(c *gc.C) {
	ctx := cmdtesting.Context(c)
	code := cmd.Main(newSuperCommand(), ctx, []string{"flip", "--option", "flipped"})
	c.Check(code, gc.Equals, 0)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "flipped\n")
}

func (s *superCommandSuite) TestAlias(c *gc.C) {
	ctx := cmdtesting.Context(c)
	code := cmd.Main(newSuperCommand(), ctx, []string{"flap", "--option", "flapped"})
	c.Check(code, gc.Equals, 0)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "flapped\n")
}

func (s *superCommandSuite) TestUnknownCommand(c *gc.C) {
	ctx := cmdtesting.Context(c)
	code := cmd.Main(newSuperCommand(), ctx, []string{"flop"})
	c.Check(code, gc.Equals, 2)
	c.Check(cmdtesting.Stderr(ctx), gc.Equals, "ERROR unrecognized command: jujutest flop\n")
}

func (s *superCommandSuite) TestRunErrorWrittenOnce(c *gc.C) {
	ctx := cmdtesting.Context(c)
	code := cmd.Main(newSuperCommand(), ctx, []string{"flip", "--option", "error"})
	c.Check(code, gc.Equals, 1)
	c.Check(cmdtesting.Stderr(ctx), gc.Equals, "ERROR BAM!\n")
}

func (s *superCommandSuite) TestHelp(c *gc.C) {
	ctx := cmdtesting.Context(c)
	code := cmd.Main(newSuperCommand(), ctx, []string{"help"})
	c.Check(code, gc.Equals, 0)
	out := cmdtesting.Stdout(ctx)
	c.Check(out, jc.HasPrefix, "Usage: jujutest")
	c.Check(out, jc.Contains, "to be purposeful")
	c.Check(out, jc.Contains, "flapbabble - flapbabble the juju")
	c.Check(out, jc.Contains, "flap       - Alias for 'flapbabble'.")
}

func (s *superCommandSuite) TestHelpCommand(c *gc.C) {
	for _, args := range [][]string{{"help", "flip"}, {"flip", "--help"}} {
		ctx := cmdtesting.Context(c)
		code := cmd.Main(newSuperCommand(), ctx, args)
		c.Check(code, gc.Equals, 0)
		c.Check(cmdtesting.Stdout(ctx), jc.HasPrefix, "Usage: jujutest flip [options] <something>\n")
	}
}

func (s *superCommandSuite) TestVersion(c *gc.C) {
	for _, args := range [][]string{{"version"}, {"--version"}} {
		ctx := cmdtesting.Context(c)
		code := cmd.Main(newSuperCommand(), ctx, args)
		c.Check(code, gc.Equals, 0)
		c.Check(cmdtesting.Stdout(ctx), gc.Equals, "1.2.3\n")
	}
}
