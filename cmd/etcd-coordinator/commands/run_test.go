// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/cmd/cmdtesting"
	coretesting "github.com/juju/etcd-coordinator/internal/testing"
)

// startRun runs the run command in the background. Cancelling the
// returned func stops it the way a signal would.
func (s *commandsSuite) startRun(c *gc.C) (context.CancelFunc, <-chan error) {
	command := s.command()
	c.Assert(cmdtesting.InitCommand(command, []string{"run", "--config", s.configPath}), jc.ErrorIsNil)
	ctx := cmdtesting.Context(c)
	var cancel context.CancelFunc
	ctx.Context, cancel = context.WithCancel(ctx.Context)
	done := make(chan error, 1)
	go func() {
		done <- command.Run(ctx)
	}()
	return cancel, done
}

func (s *commandsSuite) waitFor(c *gc.C, what string, cond func() bool) {
	timeout := time.After(coretesting.LongWait)
	for !cond() {
		select {
		case <-timeout:
			c.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *commandsSuite) TestRunStartsUnitUntilStopped(c *gc.C) {
	cancel, done := s.startRun(c)
	defer cancel()

	s.waitFor(c, "identity published", func() bool {
		fields, err := s.hub.Bus("etcd/0").UnitRecord(s.ctx, "etcd/0")
		if err != nil {
			return false
		}
		rec := cluster.ParseUnitRecord("etcd/0", fields)
		return rec.MemberName == "etcd0" && rec.IP == "10.0.0.1" && rec.Hostname == "host0" && rec.Started
	})
	// Let the leader settle before stopping it.
	writes := -1
	s.waitFor(c, "bus to settle", func() bool {
		last := writes
		writes = s.hub.Writes()
		time.Sleep(coretesting.ShortWait)
		return writes == last && writes == s.hub.Writes()
	})
	for _, path := range []string{
		filepath.Join(s.dir, "certs", "relations", "cluster"),
		filepath.Join(s.dir, "state", "deferred.db"),
	} {
		_, err := os.Stat(path)
		c.Check(err, jc.ErrorIsNil)
	}

	cancel()
	select {
	case err := <-done:
		c.Check(err, jc.ErrorIsNil)
	case <-time.After(coretesting.LongWait):
		c.Fatalf("run did not stop")
	}
	c.Check(s.released, gc.Equals, 1)
}

func (s *commandsSuite) TestRunInvalidConfig(c *gc.C) {
	err := os.WriteFile(s.configPath, []byte("unit: etcd/0\n"), 0600)
	c.Assert(err, jc.ErrorIsNil)

	ctx, err := s.run(c, "run", "--config", s.configPath)
	c.Check(err, gc.Equals, cmd.ErrSilent)
	c.Check(cmdtesting.Stderr(ctx), gc.Matches, `ERROR validating ".*agent.yaml": address "" not valid\n`)
	c.Check(s.released, gc.Equals, 0)
}
