// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/cmd/etcd-coordinator/commands"
	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/cmd/cmdtesting"
	"github.com/juju/etcd-coordinator/internal/config"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
	"github.com/juju/etcd-coordinator/internal/etcdadmin/etcdadmintest"
	"github.com/juju/etcd-coordinator/internal/peerbus/memory"
	"github.com/juju/etcd-coordinator/internal/workload"
	"github.com/juju/etcd-coordinator/internal/workload/workloadtest"
)

const agentConfig = `
unit: etcd/0
address: 10.0.0.1
hostname: host0
data-dir: %[1]s/data
state-dir: %[1]s/state
tls-dir: %[1]s/tls
certificate-dir: %[1]s/certs
metrics-address: 127.0.0.1:0
redis:
  address: 127.0.0.1:6379
workload:
  start: "true"
  stop: "true"
  restart: "true"
  status: "true"
`

type commandsSuite struct {
	testing.IsolationSuite

	ctx        context.Context
	dir        string
	configPath string
	hub        *memory.Hub
	cluster    *etcdadmintest.Cluster
	released   int
	workload   *workloadtest.Workload
}

var _ = gc.Suite(&commandsSuite{})

func (s *commandsSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.ctx = context.Background()
	s.dir = c.MkDir()
	s.configPath = filepath.Join(s.dir, "agent.yaml")
	err := os.WriteFile(s.configPath, []byte(fmt.Sprintf(agentConfig, s.dir)), 0600)
	c.Assert(err, jc.ErrorIsNil)
	s.hub = memory.NewHub()
	s.hub.SetLeader("etcd/0")
	s.cluster = etcdadmintest.NewCluster()
	s.released = 0
	s.workload = nil
}

func (s *commandsSuite) command() *cmd.SuperCommand {
	return commands.NewSuperCommandForTest(
		func(cfg config.Config) (commands.PeerBus, func() error, error) {
			return s.hub.Bus(cfg.Unit), func() error {
				s.released++
				return nil
			}, nil
		},
		func(config.Config) (etcdadmin.Dialer, error) {
			return s.cluster, nil
		},
		func(cfg config.Config) (workload.Workload, error) {
			s.workload = workloadtest.New(s.cluster, cfg.EtcdConfigFile)
			return s.workload, nil
		},
	)
}

func (s *commandsSuite) run(c *gc.C, args ...string) (*cmd.Context, error) {
	return cmdtesting.RunCommand(c, s.command(), args...)
}

// deploy registers unit n with its identity published.
func (s *commandsSuite) deploy(c *gc.C, n int) {
	bus := s.hub.Bus(fmt.Sprintf("etcd/%d", n))
	c.Assert(bus.Join(s.ctx), jc.ErrorIsNil)
	patch := cluster.NewUnitPatch().
		SetIdentity(fmt.Sprintf("etcd%d", n), fmt.Sprintf("host%d", n), fmt.Sprintf("10.0.0.%d", n+1))
	c.Assert(peerbus.NewUnitWriter(bus).Write(s.ctx, patch), jc.ErrorIsNil)
}

func (s *commandsSuite) writeCluster(c *gc.C, patch *cluster.ClusterPatch) {
	bus := s.hub.Bus(s.hub.Leader())
	c.Assert(peerbus.NewLeaderWriter(bus, bus).Write(s.ctx, patch), jc.ErrorIsNil)
}

func (s *commandsSuite) clusterRecord(c *gc.C) cluster.ClusterRecord {
	fields, err := s.hub.Bus("etcd/0").ClusterRecord(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	rec, err := cluster.ParseClusterRecord(fields)
	c.Assert(err, jc.ErrorIsNil)
	return rec
}

func (s *commandsSuite) TestHelpListsCommands(c *gc.C) {
	ctx, err := s.run(c, "help")
	c.Assert(err, jc.ErrorIsNil)
	out := cmdtesting.Stdout(ctx)
	for _, name := range []string{"run", "status", "get-password", "set-password", "version"} {
		c.Check(out, jc.Contains, "    "+name+" ")
	}
}

func (s *commandsSuite) TestVersion(c *gc.C) {
	ctx, err := s.run(c, "version")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, commands.Version+"\n")
}

func (s *commandsSuite) TestMissingConfig(c *gc.C) {
	ctx, err := s.run(c, "get-password", "--config", filepath.Join(s.dir, "missing.yaml"))
	c.Check(err, gc.Equals, cmd.ErrSilent)
	c.Check(cmdtesting.Stderr(ctx), gc.Matches, `ERROR config file ".*missing.yaml" not found\n`)
	c.Check(s.released, gc.Equals, 0)
}

func (s *commandsSuite) TestUnexpectedArguments(c *gc.C) {
	for _, name := range []string{"run", "status", "get-password", "set-password"} {
		_, err := s.run(c, name, "--config", s.configPath, "extra")
		c.Check(err, gc.ErrorMatches, `unrecognized args: \["extra"\]`, gc.Commentf("%s", name))
	}
}
