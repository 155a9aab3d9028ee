// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd_test

import (
	"os"
	"path/filepath"

	"github.com/juju/gnuflag"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/cmd/cmdtesting"
)

// OutputCommand is a command that uses the output.go formatters.
type OutputCommand struct {
	cmd.CommandBase
	out   cmd.Output
	value any
}

func (c *OutputCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "output",
		Args:    "<something>",
		Purpose: "I like to output",
		Doc:     "output",
	}
}

func (c *OutputCommand) SetFlags(f *gnuflag.FlagSet) {
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
}

func (c *OutputCommand) Run(ctx *cmd.Context) error {
	return c.out.Write(ctx, c.value)
}

type outputSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&outputSuite{})

type unit struct {
	Name    string `yaml:"name" json:"name"`
	Started bool   `yaml:"started" json:"started"`
}

var outputTests = []struct {
	format string
	value  any
	output string
}{
	{"yaml", nil, ""},
	{"yaml", "hello", "hello\n"},
	{"yaml", []string{"a", "b"}, "- a\n- b\n"},
	{"yaml", unit{Name: "etcd/0", Started: true}, "name: etcd/0\nstarted: true\n"},
	{"json", "hello", `"hello"` + "\n"},
	{"json", unit{Name: "etcd/0"}, `{"name":"etcd/0","started":false}` + "\n"},
}

func (s *outputSuite) TestOutputFormat(c *gc.C) {
	for i, t := range outputTests {
		c.Logf("test %d: %s %#v", i, t.format, t.value)
		ctx := cmdtesting.Context(c)
		result := cmd.Main(&OutputCommand{value: t.value}, ctx, []string{"--format", t.format})
		c.Check(result, gc.Equals, 0)
		c.Check(cmdtesting.Stdout(ctx), gc.Equals, t.output)
		c.Check(cmdtesting.Stderr(ctx), gc.Equals, "")
	}
}

func (s *outputSuite) TestUnknownFormat(c *gc.C) {
	ctx := cmdtesting.Context(c)
	result := cmd.Main(&OutputCommand{}, ctx, []string{"--format", "cuneiform"})
	c.Check(result, gc.Equals, 2)
	c.Check(cmdtesting.Stderr(ctx), jc.Contains, `unknown format "cuneiform"`)
}

func (s *outputSuite) TestOutputToFile(c *gc.C) {
	ctx := cmdtesting.Context(c)
	result := cmd.Main(&OutputCommand{value: "hello"}, ctx, []string{"-o", "out.yaml"})
	c.Assert(result, gc.Equals, 0)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "")
	data, err := os.ReadFile(filepath.Join(ctx.Dir, "out.yaml"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "hello\n")
}
