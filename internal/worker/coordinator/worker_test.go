// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator_test

import (
	"strings"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/status"
	"github.com/juju/etcd-coordinator/internal/pki/pkitest"
	"github.com/juju/etcd-coordinator/internal/worker/coordinator"
)

type workerSuite struct {
	fixture
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) TestValidate(c *gc.C) {
	u := s.newUnit(c, 0)
	valid := s.config(c, u)
	c.Assert(valid.Validate(), jc.ErrorIsNil)

	for i, mutate := range []func(*coordinator.Config){
		func(cfg *coordinator.Config) { cfg.Bus = nil },
		func(cfg *coordinator.Config) { cfg.Membership = nil },
		func(cfg *coordinator.Config) { cfg.TLS = nil },
		func(cfg *coordinator.Config) { cfg.Queue = nil },
		func(cfg *coordinator.Config) { cfg.Status = nil },
		func(cfg *coordinator.Config) { cfg.Metrics = nil },
		func(cfg *coordinator.Config) { cfg.Address = "" },
		func(cfg *coordinator.Config) { cfg.EtcdConfigFile = "" },
		func(cfg *coordinator.Config) { cfg.UpdateStatusInterval = 0 },
	} {
		c.Logf("test %d", i)
		cfg := valid
		mutate(&cfg)
		c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)
	}
}

func (s *workerSuite) TestStartAndJoin(c *gc.C) {
	s.startUnits(c, 3)
	s.waitJoined(c)

	s.waitFor(c, "authentication", s.cluster.AuthEnabled)
	snap := s.snapshot(c, s.units[0])
	c.Check(snap.Cluster.Authentication, jc.IsTrue)
	c.Check(snap.Cluster.State, gc.Equals, cluster.StateExisting)
	for _, u := range s.units {
		r, ok := snap.Unit(u.name)
		c.Assert(ok, jc.IsTrue)
		c.Check(r.Started, jc.IsTrue, gc.Commentf("%s", u.name))
		c.Check(snap.IsMember(r.MemberName), jc.IsTrue)
		c.Check(u.workload.Starts(), gc.Equals, 1)
		c.Check(u.workload.Restarts(), gc.Equals, 0)
	}

	s.waitFor(c, "units to report active", func() bool {
		for _, u := range s.units {
			if u.status.last().Status != status.Active {
				return false
			}
		}
		return true
	})
}

func (s *workerSuite) TestJoinedUnitConfig(c *gc.C) {
	s.startUnits(c, 2)
	s.waitJoined(c)

	first, ok := s.units[0].workload.LastConfig()
	c.Assert(ok, jc.IsTrue)
	c.Check(first.InitialClusterState, gc.Equals, string(cluster.StateNew))
	c.Check(first.InitialAdvertisePeerURLs, gc.Equals, "http://10.0.0.1:2380")

	second, ok := s.units[1].workload.LastConfig()
	c.Assert(ok, jc.IsTrue)
	c.Check(second.InitialClusterState, gc.Equals, string(cluster.StateExisting))
	c.Check(second.InitialCluster, jc.Contains, "etcd0=http://10.0.0.1:2380")
	c.Check(second.InitialCluster, jc.Contains, "etcd1=http://10.0.0.2:2380")
}

func (s *workerSuite) TestNotLeaderWaitsToJoin(c *gc.C) {
	s.hub.SetLeader("")
	u := s.newUnit(c, 1)
	s.startUnit(c, u)

	s.waitFor(c, "start to be deferred", func() bool {
		return u.status.last().Status == status.Waiting
	})
	c.Check(u.status.last().Message, gc.Equals, status.ClusterNotJoined.Message)

	pending, err := u.queue.Pending()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pending, jc.DeepEquals, []event.Event{{Kind: event.Start}})
	c.Check(u.workload.Starts(), gc.Equals, 0)
	c.Check(s.cluster.Members(), gc.HasLen, 0)

	// The identity is published regardless.
	r, ok := s.snapshot(c, u).Unit(u.name)
	c.Assert(ok, jc.IsTrue)
	c.Check(r.MemberName, gc.Equals, "etcd1")
	c.Check(r.IP, gc.Equals, "10.0.0.2")
	c.Check(r.Hostname, gc.Equals, "host1")
}

func (s *workerSuite) TestEnablePeerAndClientTLS(c *gc.C) {
	s.startUnits(c, 3)
	s.waitJoined(c)

	s.enableTLS(c, cluster.Peer, cluster.Client)

	snap := s.snapshot(c, s.units[0])
	for _, u := range s.units {
		c.Check(u.workload.Restarts(), gc.Equals, 1, gc.Commentf("%s", u.name))
		r, _ := snap.Unit(u.name)
		c.Check(strings.HasPrefix(r.PeerURL(), "https://"), jc.IsTrue)
		c.Check(strings.HasPrefix(r.ClientURL(), "https://"), jc.IsTrue)

		cfg, ok := u.workload.LastConfig()
		c.Assert(ok, jc.IsTrue)
		c.Check(cfg.PeerTransportSecurity.CertFile, gc.Not(gc.Equals), "")
		c.Check(cfg.ClientTransportSecurity.CertFile, gc.Not(gc.Equals), "")
	}
	for _, m := range s.cluster.Members() {
		c.Check(strings.HasPrefix(m.PeerURLs[0], "https://"), jc.IsTrue, gc.Commentf("%s", m.Name))
	}
}

func (s *workerSuite) TestRotatePeerCA(c *gc.C) {
	s.startUnits(c, 3)
	s.waitJoined(c)
	s.enableTLS(c, cluster.Peer)

	before := make(map[string]int)
	next := pkitest.MustNewAuthority("next-ca")
	for _, u := range s.units {
		before[u.name] = u.workload.Restarts()
		u.authority.Rotate(next)
		_, err := u.authority.Issue(cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		u.send(c, event.Event{Kind: event.CAChanged, Link: cluster.Peer})
	}

	s.waitFor(c, "rotation to finish", func() bool {
		snap := s.snapshot(c, s.units[0])
		for _, u := range s.units {
			cas, err := u.store.TrustedCAs(cluster.Peer)
			if err != nil || len(cas) != 1 || cas[0].Subject.CommonName != "next-ca" {
				return false
			}
			r, ok := snap.Unit(u.name)
			if !ok || r.Rotation(cluster.Peer) != cluster.NoRotation {
				return false
			}
			if u.workload.Restarts()-before[u.name] < 2 {
				return false
			}
		}
		return s.linksSettled(c, cluster.TLS, cluster.Peer)
	})

	for _, u := range s.units {
		cas, err := u.store.TrustedCAs(cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(cas[0].Subject.CommonName, gc.Equals, "next-ca")
		cert, err := u.store.Certificate(cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(cert.Issuer.CommonName, gc.Equals, "next-ca")
		// One restart loads the new CA, one drops the old one.
		c.Check(u.workload.Restarts()-before[u.name], gc.Equals, 2, gc.Commentf("%s", u.name))
	}
}

func (s *workerSuite) TestRemoveUnit(c *gc.C) {
	s.startUnits(c, 3)
	s.waitJoined(c)

	gone := s.units[2]
	gone.send(c, event.Event{Kind: event.Remove})
	err := workertest.CheckKilled(c, gone.worker)
	c.Assert(err, jc.ErrorIsNil)
	gone.worker = nil

	c.Check(gone.workload.Alive(s.ctx), jc.IsFalse)
	s.waitFor(c, "members to be pruned", func() bool {
		snap := s.snapshot(c, s.units[0])
		return len(s.cluster.Members()) == 2 && len(snap.Cluster.Members) == 2
	})
	snap := s.snapshot(c, s.units[0])
	c.Check(snap.IsMember("etcd2"), jc.IsFalse)
	_, ok := snap.Unit(gone.name)
	c.Check(ok, jc.IsFalse)
}

func (s *workerSuite) TestRemoveFailureStaysQueued(c *gc.C) {
	s.startUnits(c, 3)
	s.waitJoined(c)

	gone := s.units[2]
	s.cluster.SetError("RemoveMember", errors.New("boom"))
	gone.send(c, event.Event{Kind: event.Remove})

	s.waitFor(c, "removal failure", func() bool {
		return gone.status.last().Status == status.Blocked
	})
	c.Check(gone.status.last().Message, gc.Equals, status.MemberRemovalFailed.Message)
	pending, err := gone.queue.Pending()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pending, jc.DeepEquals, []event.Event{{Kind: event.Remove}})
	workertest.CheckAlive(c, gone.worker)

	s.cluster.SetError("RemoveMember", nil)
	s.waitFor(c, "the unit to leave", func() bool {
		return len(s.cluster.Members()) == 2
	})
	c.Assert(workertest.CheckKilled(c, gone.worker), jc.ErrorIsNil)
	gone.worker = nil
}

func (s *workerSuite) TestMetrics(c *gc.C) {
	s.startUnits(c, 1)
	s.waitJoined(c)

	u := s.units[0]
	s.waitFor(c, "start to be counted", func() bool {
		return testutil.CollectAndCount(u.metrics, "etcd_coordinator_events_total") > 0
	})
	c.Check(testutil.CollectAndCount(u.metrics, "etcd_coordinator_membership_operations_total") > 0, jc.IsTrue)

	expected := `
# HELP etcd_coordinator_deferred_events The number of events waiting to be delivered again.
# TYPE etcd_coordinator_deferred_events gauge
etcd_coordinator_deferred_events 0
`
	err := testutil.CollectAndCompare(u.metrics, strings.NewReader(expected), "etcd_coordinator_deferred_events")
	c.Check(err, jc.ErrorIsNil)
}
