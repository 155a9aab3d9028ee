// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package etcdadmin

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	clientv3 "go.etcd.io/etcd/client/v3"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	coretesting "github.com/juju/etcd-coordinator/internal/testing"
)

type clientSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&clientSuite{})

func (s *clientSuite) validConfig() Config {
	return Config{
		Endpoints:      []string{"http://10.0.0.1:2379"},
		DialTimeout:    time.Second,
		RequestTimeout: time.Second,
		Logger:         coretesting.NoopLogger{},
	}
}

func (s *clientSuite) TestConfigValidate(c *gc.C) {
	c.Check(s.validConfig().Validate(), jc.ErrorIsNil)

	for _, t := range []struct {
		mutate func(*Config)
		err    string
	}{
		{func(c *Config) { c.Endpoints = nil }, "empty Endpoints not valid"},
		{func(c *Config) { c.DialTimeout = 0 }, "non-positive DialTimeout not valid"},
		{func(c *Config) { c.RequestTimeout = 0 }, "non-positive RequestTimeout not valid"},
		{func(c *Config) { c.Logger = nil }, "nil Logger not valid"},
	} {
		cfg := s.validConfig()
		t.mutate(&cfg)
		c.Check(cfg.Validate(), gc.ErrorMatches, t.err)
	}
}

func (s *clientSuite) TestNewClientPassesCredentials(c *gc.C) {
	cfg := s.validConfig()
	cfg.Username = "root"
	cfg.Password = "secret"

	var seen clientv3.Config
	_, err := newClient(cfg, func(cc clientv3.Config) (*clientv3.Client, error) {
		seen = cc
		return nil, errors.New("boom")
	})
	c.Assert(err, gc.ErrorMatches, "connecting to etcd: boom")
	c.Check(seen.Endpoints, jc.DeepEquals, cfg.Endpoints)
	c.Check(seen.Username, gc.Equals, "root")
	c.Check(seen.Password, gc.Equals, "secret")
	c.Check(seen.DialTimeout, gc.Equals, time.Second)
	c.Check(seen.Logger, gc.NotNil)
}

func (s *clientSuite) TestMemberIDs(c *gc.C) {
	c.Check(FormatID(4477466968462020105), gc.Equals, "3e23287c34b94e09")
	id, err := ParseID("3e23287c34b94e09")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(id, gc.Equals, uint64(4477466968462020105))

	_, err = ParseID("not-hex")
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *clientSuite) TestFindMembers(c *gc.C) {
	members := []Member{
		{ID: "a", Name: "etcd0"},
		{ID: "b", Name: "etcd1", IsLearner: true},
	}
	m, ok := FindByName(members, "etcd1")
	c.Check(ok, jc.IsTrue)
	c.Check(m.ID, gc.Equals, "b")
	_, ok = FindByName(members, "etcd2")
	c.Check(ok, jc.IsFalse)
	m, ok = FindByID(members, "a")
	c.Check(ok, jc.IsTrue)
	c.Check(m.Name, gc.Equals, "etcd0")
}

func (s *clientSuite) TestEndpointStatusIsLeader(c *gc.C) {
	c.Check(EndpointStatus{MemberID: "a", LeaderID: "a"}.IsLeader(), jc.IsTrue)
	c.Check(EndpointStatus{MemberID: "a", LeaderID: "b"}.IsLeader(), jc.IsFalse)
	c.Check(EndpointStatus{}.IsLeader(), jc.IsFalse)
}

func (s *clientSuite) TestDialOptsFor(c *gc.C) {
	snap := cluster.Snapshot{
		Self: "etcd/0",
		Units: map[string]cluster.UnitRecord{
			"etcd/0": cluster.ParseUnitRecord("etcd/0", map[string]string{
				"ip": "10.0.0.1", "state": "started", "tls_client_state": "tls",
			}),
			"etcd/1": cluster.ParseUnitRecord("etcd/1", map[string]string{
				"ip": "10.0.0.2", "state": "started",
			}),
			"etcd/2": cluster.ParseUnitRecord("etcd/2", map[string]string{
				"ip": "10.0.0.3", "state": "started", "departing": "True",
			}),
		},
	}
	opts := DialOptsFor(snap)
	c.Check(opts, jc.DeepEquals, DialOpts{
		Endpoints: []string{"https://10.0.0.1:2379", "http://10.0.0.2:2379"},
	})

	snap.Cluster.Authentication = true
	snap.Cluster.AdminPassword = "pw"
	opts = DialOptsFor(snap)
	c.Check(opts.Username, gc.Equals, "root")
	c.Check(opts.Password, gc.Equals, "pw")
}

func (s *clientSuite) TestDialerRejectsEmptyEndpoints(c *gc.C) {
	d, err := NewDialer(DialerConfig{
		DialTimeout:    time.Second,
		RequestTimeout: time.Second,
		Logger:         coretesting.NoopLogger{},
	})
	c.Assert(err, jc.ErrorIsNil)
	_, err = d.Dial(context.Background(), DialOpts{})
	c.Check(err, gc.ErrorMatches, "empty endpoints not valid")
}
