// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/cmd/cmdtesting"
)

type cmdSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&cmdSuite{})

func (s *cmdSuite) TestContext(c *gc.C) {
	ctx := cmdtesting.Context(c)
	c.Check(ctx.AbsPath("/foo/bar"), gc.Equals, "/foo/bar")
	c.Check(ctx.AbsPath("foo/bar"), gc.Equals, filepath.Join(ctx.Dir, "foo/bar"))
}

func (s *cmdSuite) TestMainInitError(c *gc.C) {
	ctx := cmdtesting.Context(c)
	result := cmd.Main(&TestCommand{Name: "verb"}, ctx, []string{"--unknown"})
	c.Check(result, gc.Equals, 2)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "")
	c.Check(cmdtesting.Stderr(ctx), gc.Matches, "ERROR .* provided but not defined: --unknown\n")
}

func (s *cmdSuite) TestMainRunError(c *gc.C) {
	ctx := cmdtesting.Context(c)
	result := cmd.Main(&TestCommand{Name: "verb"}, ctx, []string{"--option", "error"})
	c.Check(result, gc.Equals, 1)
	c.Check(cmdtesting.Stderr(ctx), gc.Equals, "ERROR BAM!\n")
}

func (s *cmdSuite) TestMainRunSilentError(c *gc.C) {
	ctx := cmdtesting.Context(c)
	result := cmd.Main(&TestCommand{Name: "verb"}, ctx, []string{"--option", "silent-error"})
	c.Check(result, gc.Equals, 1)
	c.Check(cmdtesting.Stderr(ctx), gc.Equals, "")
}

func (s *cmdSuite) TestMainSuccess(c *gc.C) {
	ctx := cmdtesting.Context(c)
	result := cmd.Main(&TestCommand{Name: "verb"}, ctx, []string{"--option", "success!"})
	c.Check(result, gc.Equals, 0)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "success!\n")
}

func (s *cmdSuite) TestStdin(c *gc.C) {
	const phrase = "Do you, Juju?"
	ctx := cmdtesting.Context(c)
	ctx.Stdin = bytes.NewBuffer([]byte(phrase))
	result := cmd.Main(&TestCommand{Name: "verb"}, ctx, []string{"--option", "echo"})
	c.Check(result, gc.Equals, 0)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, phrase)
}

func (s *cmdSuite) TestMainHelp(c *gc.C) {
	for _, arg := range []string{"-h", "--help"} {
		ctx := cmdtesting.Context(c)
		result := cmd.Main(&TestCommand{Name: "verb"}, ctx, []string{arg})
		c.Check(result, gc.Equals, 0)
		out := cmdtesting.Stdout(ctx)
		c.Check(out, jc.HasPrefix, "Usage: verb [options] <something>\n")
		c.Check(out, jc.Contains, "verb the juju")
		c.Check(out, jc.Contains, "--option")
		c.Check(out, jc.Contains, "verb-doc")
	}
}

func (s *cmdSuite) TestCheckEmpty(c *gc.C) {
	c.Assert(cmd.CheckEmpty(nil), jc.ErrorIsNil)
	c.Assert(cmd.CheckEmpty([]string{"boo!"}), gc.ErrorMatches, `unrecognized args: \["boo!"\]`)
}

func (s *cmdSuite) TestFileVar(c *gc.C) {
	ctx := cmdtesting.Context(c)
	path := filepath.Join(ctx.Dir, "config.yaml")
	c.Assert(os.WriteFile(path, []byte("hello"), 0644), jc.ErrorIsNil)

	var f cmd.FileVar
	c.Assert(f.Set("config.yaml"), jc.ErrorIsNil)
	data, err := f.Read(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "hello")

	f.SetStdin()
	c.Assert(f.Set("-"), jc.ErrorIsNil)
	ctx.Stdin = bytes.NewBufferString("from stdin")
	data, err = f.Read(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "from stdin")

	var unset cmd.FileVar
	_, err = unset.Read(ctx)
	c.Check(err, gc.ErrorMatches, "path not set")
}
