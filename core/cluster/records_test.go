// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
)

type recordsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&recordsSuite{})

func (s *recordsSuite) TestParseUnitRecordDefaults(c *gc.C) {
	r := cluster.ParseUnitRecord("etcd/1", nil)
	c.Check(r.Unit, gc.Equals, "etcd/1")
	c.Check(r.Started, jc.IsFalse)
	for _, link := range cluster.Links {
		c.Check(r.TLSState(link), gc.Equals, cluster.NoTLS)
		c.Check(r.Rotation(link), gc.Equals, cluster.NoRotation)
		c.Check(r.CertReady(link), jc.IsFalse)
	}
	c.Check(r.HasIdentity(), jc.IsFalse)
}

func (s *recordsSuite) TestUnitPatchRoundTrip(c *gc.C) {
	patch := cluster.NewUnitPatch().
		SetIdentity("etcd1", "host-1", "10.0.0.2").
		SetStarted().
		SetTLSState(cluster.Peer, cluster.TLS).
		SetCertReady(cluster.Peer, true).
		SetRotation(cluster.Client, cluster.NewCAAdded).
		SetRestartRequest([]string{"enable-tls", "ca-rotation", "enable-tls"})

	fields := map[string]string{}
	cluster.Merge(fields, patch.Fields())
	c.Check(fields, jc.DeepEquals, map[string]string{
		"member_name":            "etcd1",
		"hostname":               "host-1",
		"ip":                     "10.0.0.2",
		"state":                  "started",
		"tls_peer_state":         "tls",
		"peer_cert_ready":        "True",
		"tls_client_ca_rotation": "new_ca_added",
		"restart_request":        "ca-rotation,enable-tls",
	})

	r := cluster.ParseUnitRecord("etcd/1", fields)
	c.Check(r.Started, jc.IsTrue)
	c.Check(r.PeerURL(), gc.Equals, "https://10.0.0.2:2380")
	c.Check(r.ClientURL(), gc.Equals, "http://10.0.0.2:2379")
	c.Check(r.Rotation(cluster.Client), gc.Equals, cluster.NewCAAdded)
	c.Check(r.RestartRequest, jc.DeepEquals, []string{"ca-rotation", "enable-tls"})
}

func (s *recordsSuite) TestMergeDeletesEmptyValues(c *gc.C) {
	fields := map[string]string{"a": "1", "b": "2"}
	cluster.Merge(fields, map[string]string{"a": "", "c": "3"})
	c.Check(fields, jc.DeepEquals, map[string]string{"b": "2", "c": "3"})
}

func (s *recordsSuite) TestClusterRecordRoundTrip(c *gc.C) {
	members := cluster.MemberEntries{{Name: "etcd0", PeerURL: "http://10.0.0.1:2380"}}
	patch, err := cluster.NewClusterPatch().
		SetState(cluster.StateExisting).
		SetMembers(members).
		SetLearningMember("3e23287c34b94e09").
		SetAuthenticationEnabled().
		SetManagedUsers(map[int]cluster.ManagedUser{
			7: {RelationID: 7, CommonName: "app-7", KeysPrefix: "/app/"},
			3: {RelationID: 3, CommonName: "app-3", KeysPrefix: "/other/"},
		})
	c.Assert(err, jc.ErrorIsNil)

	fields := map[string]string{}
	cluster.Merge(fields, patch.Fields())
	c.Check(fields["managed_users"], gc.Equals,
		`[{"relation_id":3,"common_name":"app-3","keys_prefix":"/other/","ca_chain":""},`+
			`{"relation_id":7,"common_name":"app-7","keys_prefix":"/app/","ca_chain":""}]`)

	r, err := cluster.ParseClusterRecord(fields)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(r.State, gc.Equals, cluster.StateExisting)
	c.Check(r.Members, jc.DeepEquals, members)
	c.Check(r.LearningMember, gc.Equals, "3e23287c34b94e09")
	c.Check(r.Authentication, jc.IsTrue)
	c.Check(r.ManagedUsers, gc.HasLen, 2)
	c.Check(r.ManagedUsers[7].CommonName, gc.Equals, "app-7")
}

func (s *recordsSuite) TestParseClusterRecordDefaultsToNew(c *gc.C) {
	r, err := cluster.ParseClusterRecord(nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(r.State, gc.Equals, cluster.StateNew)
	c.Check(r.Members, gc.HasLen, 0)
}

func (s *recordsSuite) TestParseClusterRecordBadMembers(c *gc.C) {
	_, err := cluster.ParseClusterRecord(map[string]string{"cluster_members": "etcd0"})
	c.Assert(err, gc.ErrorMatches, `cluster member "etcd0" not valid`)
}

func (s *recordsSuite) TestStateNeverRegresses(c *gc.C) {
	c.Check(cluster.StateNew.Advance(cluster.StateExisting), gc.Equals, cluster.StateExisting)
	c.Check(cluster.StateExisting.Advance(cluster.StateNew), gc.Equals, cluster.StateExisting)
}

func (s *recordsSuite) TestRotationOrder(c *gc.C) {
	c.Check(cluster.CertUpdated.AtLeast(cluster.NewCAAdded), jc.IsTrue)
	c.Check(cluster.NewCAAdded.AtLeast(cluster.NewCAAdded), jc.IsTrue)
	c.Check(cluster.NewCADetected.AtLeast(cluster.NewCAAdded), jc.IsFalse)
	c.Check(cluster.NoRotation.AtLeast(cluster.NewCADetected), jc.IsFalse)
}
