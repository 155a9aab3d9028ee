// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator_test

import (
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/status"
	"github.com/juju/etcd-coordinator/internal/worker/coordinator"
)

type statusFileSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&statusFileSuite{})

func (s *statusFileSuite) TestMissingFileIsUnknown(c *gc.C) {
	f := coordinator.NewStatusFile(filepath.Join(c.MkDir(), "status.yaml"))
	info, err := f.Status()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.Unknown)
}

func (s *statusFileSuite) TestRoundTrip(c *gc.C) {
	f := coordinator.NewStatusFile(filepath.Join(c.MkDir(), "status.yaml"))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := f.SetStatus(status.ClusterNotHealthy.Info(now))
	c.Assert(err, jc.ErrorIsNil)

	info, err := f.Status()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Status, gc.Equals, status.ClusterNotHealthy.Status)
	c.Check(info.Message, gc.Equals, status.ClusterNotHealthy.Message)
	c.Assert(info.Since, gc.NotNil)
	c.Check(info.Since.Equal(now), jc.IsTrue)
}

func (s *statusFileSuite) TestInvalidStatus(c *gc.C) {
	f := coordinator.NewStatusFile(filepath.Join(c.MkDir(), "status.yaml"))
	err := f.SetStatus(status.StatusInfo{Status: status.Status("bogus")})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}
