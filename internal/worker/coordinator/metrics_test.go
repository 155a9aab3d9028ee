// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
)

type metricsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&metricsSuite{})

func (s *metricsSuite) TestObserveEvent(c *gc.C) {
	collector := NewMetricsCollector()
	collector.observeEvent("start", "deferred")
	collector.observeEvent("start", "deferred")
	collector.observeEvent("start", "handled")

	c.Check(testutil.ToFloat64(collector.events.WithLabelValues("start", "deferred")), gc.Equals, float64(2))
	c.Check(testutil.ToFloat64(collector.events.WithLabelValues("start", "handled")), gc.Equals, float64(1))
}

func (s *metricsSuite) TestObserveMembership(c *gc.C) {
	collector := NewMetricsCollector()
	collector.observeMembership("add-member", nil)
	collector.observeMembership("add-member", errors.New("boom"))

	c.Check(testutil.ToFloat64(collector.membership.WithLabelValues("add-member", "success")), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(collector.membership.WithLabelValues("add-member", "failure")), gc.Equals, float64(1))
}

func (s *metricsSuite) TestRestartsAndDeferred(c *gc.C) {
	collector := NewMetricsCollector()
	collector.observeRestart()
	collector.setDeferred(3)

	c.Check(testutil.ToFloat64(collector.restarts), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(collector.deferred), gc.Equals, float64(3))
}

func (s *metricsSuite) TestObserveLocal(c *gc.C) {
	collector := NewMetricsCollector()
	patch := cluster.NewUnitPatch().
		SetTLSState(cluster.Peer, cluster.TLS).
		SetRotation(cluster.Peer, cluster.NewCAAdded)
	record := cluster.ParseUnitRecord("etcd/0", patch.Fields())
	collector.observeLocal(record)

	tls := func(link cluster.LinkType, state cluster.TLSState) float64 {
		return testutil.ToFloat64(collector.tlsState.WithLabelValues(string(link), string(state)))
	}
	c.Check(tls(cluster.Peer, cluster.TLS), gc.Equals, float64(1))
	c.Check(tls(cluster.Peer, cluster.NoTLS), gc.Equals, float64(0))
	c.Check(tls(cluster.Client, cluster.NoTLS), gc.Equals, float64(1))

	rotation := testutil.ToFloat64(collector.rotation.WithLabelValues(string(cluster.Peer), string(cluster.NewCAAdded)))
	c.Check(rotation, gc.Equals, float64(1))

	// Every state of every link is exported.
	c.Check(testutil.CollectAndCount(collector, "etcd_coordinator_tls_state"), gc.Equals, 8)
	c.Check(testutil.CollectAndCount(collector, "etcd_coordinator_ca_rotation_state"), gc.Equals, 8)
}
