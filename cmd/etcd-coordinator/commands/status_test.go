// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/status"
	"github.com/juju/etcd-coordinator/internal/cmd/cmdtesting"
	"github.com/juju/etcd-coordinator/internal/config"
	"github.com/juju/etcd-coordinator/internal/worker/coordinator"
)

func (s *commandsSuite) TestStatus(c *gc.C) {
	s.deploy(c, 0)
	s.deploy(c, 1)
	s.writeCluster(c, cluster.NewClusterPatch().
		SetState(cluster.StateExisting).
		SetMembers(cluster.MemberEntries{{Name: "etcd0", PeerURL: "http://10.0.0.1:2380"}}).
		SetLearningMember("8e9e05c52164694d"))
	cfg, err := config.Read(s.configPath)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(os.MkdirAll(cfg.StateDir, 0755), jc.ErrorIsNil)
	statusFile := coordinator.NewStatusFile(cfg.StatusFilePath())
	c.Assert(statusFile.SetStatus(status.StatusInfo{Status: status.Active}), jc.ErrorIsNil)

	ctx, err := s.run(c, "status", "--config", s.configPath, "--format", "json")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.released, gc.Equals, 1)

	var out map[string]any
	c.Assert(json.Unmarshal([]byte(cmdtesting.Stdout(ctx)), &out), jc.ErrorIsNil)
	c.Check(out["unit"], gc.Equals, "etcd/0")
	c.Check(out["leader"], gc.Equals, "etcd/0")
	c.Check(out["workload"], jc.DeepEquals, map[string]any{"status": "active"})
	c.Check(out["cluster"], jc.DeepEquals, map[string]any{
		"state":           "existing",
		"members":         []any{"etcd0=http://10.0.0.1:2380"},
		"learning-member": "8e9e05c52164694d",
		"authentication":  false,
	})
	units := out["units"].(map[string]any)
	c.Assert(units, gc.HasLen, 2)
	c.Check(units["etcd/1"], jc.DeepEquals, map[string]any{
		"member-name": "etcd1",
		"hostname":    "host1",
		"ip":          "10.0.0.2",
		"started":     false,
		"links": map[string]any{
			"peer":   map[string]any{"tls": "no_tls", "ca-rotation": "no_rotation"},
			"client": map[string]any{"tls": "no_tls", "ca-rotation": "no_rotation"},
		},
	})
}

func (s *commandsSuite) TestStatusBeforeAnyStatusRecorded(c *gc.C) {
	s.hub.SetLeader("")
	s.deploy(c, 0)

	ctx, err := s.run(c, "status", "--config", s.configPath)
	c.Assert(err, jc.ErrorIsNil)
	out := cmdtesting.Stdout(ctx)
	c.Check(out, jc.Contains, "unit: etcd/0\n")
	c.Check(out, jc.Contains, "status: unknown\n")
	c.Check(out, gc.Not(jc.Contains), "leader:")
	// Reading the status never elects anyone.
	c.Check(s.hub.Leader(), gc.Equals, "")
}

func (s *commandsSuite) TestStatusToFile(c *gc.C) {
	s.deploy(c, 0)
	path := filepath.Join(s.dir, "status.yaml")

	ctx, err := s.run(c, "status", "--config", s.configPath, "-o", path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "")
	c.Check(path, jc.IsNonEmptyFile)
}
