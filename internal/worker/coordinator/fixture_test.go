// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/core/status"
	"github.com/juju/etcd-coordinator/internal/carotation"
	"github.com/juju/etcd-coordinator/internal/certdir"
	"github.com/juju/etcd-coordinator/internal/deferred"
	"github.com/juju/etcd-coordinator/internal/etcdadmin/etcdadmintest"
	"github.com/juju/etcd-coordinator/internal/etcdconfig"
	"github.com/juju/etcd-coordinator/internal/externalclients"
	"github.com/juju/etcd-coordinator/internal/membership"
	"github.com/juju/etcd-coordinator/internal/peerbus/memory"
	"github.com/juju/etcd-coordinator/internal/pki/pkitest"
	"github.com/juju/etcd-coordinator/internal/rollingops"
	coretesting "github.com/juju/etcd-coordinator/internal/testing"
	"github.com/juju/etcd-coordinator/internal/tlslink"
	"github.com/juju/etcd-coordinator/internal/tlslink/tlslinktest"
	"github.com/juju/etcd-coordinator/internal/truststore"
	"github.com/juju/etcd-coordinator/internal/worker/coordinator"
	"github.com/juju/etcd-coordinator/internal/workload/workloadtest"
)

const updateStatusInterval = time.Minute

type statusRecorder struct {
	mu    sync.Mutex
	infos []status.StatusInfo
}

func (r *statusRecorder) SetStatus(info status.StatusInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, info)
	return nil
}

func (r *statusRecorder) last() status.StatusInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.infos) == 0 {
		return status.StatusInfo{Status: status.Unknown}
	}
	return r.infos[len(r.infos)-1]
}

type unit struct {
	name       string
	configFile string
	bus        *memory.Bus
	store      *truststore.Store
	authority  *tlslinktest.Authority
	relations  *certdir.Dir
	workload   *workloadtest.Workload
	queue      *deferred.MemoryQueue
	status     *statusRecorder
	metrics    *coordinator.Collector
	clock      *testclock.Clock
	events     chan event.Event
	worker     *coordinator.Worker
}

func (u *unit) send(c *gc.C, ev event.Event) {
	select {
	case u.events <- ev:
	case <-time.After(coretesting.LongWait):
		c.Fatalf("%s did not accept %s", u.name, ev)
	}
}

type fixture struct {
	testing.IsolationSuite

	ctx     context.Context
	hub     *memory.Hub
	cluster *etcdadmintest.Cluster
	ca      *pkitest.Authority
	units   []*unit
}

func (s *fixture) SetUpSuite(c *gc.C) {
	s.IsolationSuite.SetUpSuite(c)
	s.ca = pkitest.MustNewAuthority("etcd-ca")
}

func (s *fixture) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.ctx = context.Background()
	s.hub = memory.NewHub()
	s.hub.SetLeader("etcd/0")
	s.cluster = etcdadmintest.NewCluster()
	s.units = nil
}

func (s *fixture) TearDownTest(c *gc.C) {
	for _, u := range s.units {
		if u.worker != nil {
			workertest.DirtyKill(c, u.worker)
		}
	}
	s.IsolationSuite.TearDownTest(c)
}

// newUnit wires a unit the way the run command does, over the shared
// hub and fake cluster. The worker is not started.
func (s *fixture) newUnit(c *gc.C, n int) *unit {
	name := fmt.Sprintf("etcd/%d", n)
	logger := coretesting.NewCheckLogger(c).Child(name)
	dir := c.MkDir()

	u := &unit{
		name:      name,
		bus:       s.hub.Bus(name),
		authority: tlslinktest.NewAuthority(s.ca),
		queue:     deferred.NewMemoryQueue(),
		status:    &statusRecorder{},
		metrics:   coordinator.NewMetricsCollector(),
		clock:     testclock.NewClock(time.Now()),
		events:    make(chan event.Event, 16),
	}
	var err error
	u.store, err = truststore.New(filepath.Join(dir, "tls"), logger)
	c.Assert(err, jc.ErrorIsNil)
	u.relations, err = certdir.New(filepath.Join(dir, "certs"), logger)
	c.Assert(err, jc.ErrorIsNil)
	u.configFile = filepath.Join(dir, "etcd.conf.yml")
	u.workload = workloadtest.New(s.cluster, u.configFile)
	s.units = append(s.units, u)
	return u
}

func (s *fixture) config(c *gc.C, u *unit) coordinator.Config {
	logger := coretesting.NewCheckLogger(c).Child(u.name)
	rolling, err := rollingops.NewManager(rollingops.Config{
		Bus:        u.bus,
		Leadership: u.bus,
		Logger:     logger,
	})
	c.Assert(err, jc.ErrorIsNil)
	rotation, err := carotation.NewProtocol(carotation.Config{
		Bus:       u.bus,
		Store:     u.store,
		Restarter: rolling,
		Logger:    logger,
	})
	c.Assert(err, jc.ErrorIsNil)
	emitter := coordinator.NewQueueEmitter(u.queue)
	machine, err := tlslink.NewMachine(tlslink.Config{
		Bus:       u.bus,
		Store:     u.store,
		Authority: u.authority,
		Rotation:  rotation,
		Restarter: rolling,
		Emitter:   emitter,
		Logger:    logger,
		Model:     "test",
	})
	c.Assert(err, jc.ErrorIsNil)
	members, err := membership.NewCoordinator(membership.Config{
		Bus:            u.bus,
		Leadership:     u.bus,
		Dialer:         s.cluster,
		Clock:          clock.WallClock,
		Logger:         logger,
		RemoveAttempts: 2,
		RemoveDelay:    time.Millisecond,
		RemoveMaxDelay: time.Millisecond,
		HealthAttempts: 1,
		HealthDelay:    time.Millisecond,
	})
	c.Assert(err, jc.ErrorIsNil)
	clients, err := externalclients.NewManager(externalclients.Config{
		Bus:        u.bus,
		Leadership: u.bus,
		Dialer:     s.cluster,
		Relations:  u.relations,
		Store:      u.store,
		Restarter:  rolling,
		Logger:     logger,
	})
	c.Assert(err, jc.ErrorIsNil)

	n := cluster.UnitNumber(u.name)
	return coordinator.Config{
		Bus:        u.bus,
		Leadership: u.bus,
		Membership: members,
		TLS:        machine,
		Rotation:   rotation,
		Restarts:   rolling,
		Clients:    clients,
		Workload:   u.workload,
		Queue:      u.queue,
		Status:     u.status,
		Metrics:    u.metrics,
		Clock:      u.clock,
		Logger:     logger,
		Events:     u.events,
		Emitted:    emitter.Emitted(),
		Hostname:   fmt.Sprintf("host%d", n),
		Address:    fmt.Sprintf("10.0.0.%d", n+1),

		EtcdConfigFile: u.configFile,
		EtcdParams: etcdconfig.Params{
			DataDir: "/var/lib/etcd",
			Paths: map[cluster.LinkType]truststore.Paths{
				cluster.Peer:   u.store.Paths(cluster.Peer),
				cluster.Client: u.store.Paths(cluster.Client),
			},
		},
		UpdateStatusInterval: updateStatusInterval,
	}
}

func (s *fixture) startUnit(c *gc.C, u *unit) {
	w, err := coordinator.NewWorker(s.config(c, u))
	c.Assert(err, jc.ErrorIsNil)
	u.worker = w
}

// startUnits creates and starts n units.
func (s *fixture) startUnits(c *gc.C, n int) {
	for i := 0; i < n; i++ {
		s.startUnit(c, s.newUnit(c, i))
	}
}

func (s *fixture) snapshot(c *gc.C, u *unit) cluster.Snapshot {
	snap, err := peerbus.Observe(s.ctx, u.bus, u.bus)
	c.Assert(err, jc.ErrorIsNil)
	return snap
}

// waitFor polls cond, ticking every unit's update-status timer between
// polls, until cond holds.
func (s *fixture) waitFor(c *gc.C, what string, cond func() bool) {
	timeout := time.After(coretesting.LongWait)
	for !cond() {
		select {
		case <-timeout:
			c.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
		for _, u := range s.units {
			if u.worker != nil {
				u.clock.Advance(updateStatusInterval)
			}
		}
	}
}

// waitJoined waits until every started unit is a running voter.
func (s *fixture) waitJoined(c *gc.C) {
	s.waitFor(c, "all units to join", func() bool {
		members := s.cluster.Members()
		if len(members) != len(s.units) {
			return false
		}
		for _, m := range members {
			if m.IsLearner {
				return false
			}
		}
		snap, err := peerbus.Observe(s.ctx, s.units[0].bus, s.units[0].bus)
		if err != nil {
			return false
		}
		return snap.Cluster.LearningMember == "" && len(snap.Cluster.Members) == len(s.units)
	})
}

// linksSettled reports whether every unit has link in the given TLS state
// with no rotation or restart pending.
func (s *fixture) linksSettled(c *gc.C, state cluster.TLSState, links ...cluster.LinkType) bool {
	snap := s.snapshot(c, s.units[0])
	for _, u := range s.units {
		r, ok := snap.Unit(u.name)
		if !ok || len(r.RestartRequest) > 0 {
			return false
		}
		for _, link := range links {
			if r.TLSState(link) != state || r.Rotation(link) != cluster.NoRotation {
				return false
			}
		}
	}
	return true
}

// enableTLS drives the given links of every unit to TLS.
func (s *fixture) enableTLS(c *gc.C, links ...cluster.LinkType) {
	for _, u := range s.units {
		for _, link := range links {
			u.send(c, event.Event{Kind: event.TLSRelationCreated, Link: link})
		}
	}
	for _, u := range s.units {
		for _, link := range links {
			s.waitFor(c, fmt.Sprintf("%s %s request", u.name, link), func() bool {
				_, ok := u.authority.Requested(link)
				return ok
			})
			_, err := u.authority.Issue(link)
			c.Assert(err, jc.ErrorIsNil)
		}
		for _, link := range links {
			u.send(c, event.Event{Kind: event.CertificateAvailable, Link: link})
		}
	}
	s.waitFor(c, "links to switch to TLS", func() bool {
		return s.linksSettled(c, cluster.TLS, links...)
	})
}
