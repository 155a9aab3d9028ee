// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package carotation_test

import (
	"context"
	"fmt"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/carotation"
	"github.com/juju/etcd-coordinator/internal/peerbus/memory"
	"github.com/juju/etcd-coordinator/internal/pki"
	"github.com/juju/etcd-coordinator/internal/pki/pkitest"
	coretesting "github.com/juju/etcd-coordinator/internal/testing"
	"github.com/juju/etcd-coordinator/internal/truststore"
)

type recordingRestarter struct {
	reasons []string
}

func (r *recordingRestarter) Request(_ context.Context, reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

type unit struct {
	bus       *memory.Bus
	store     *truststore.Store
	restarter *recordingRestarter
	protocol  *carotation.Protocol
}

type protocolSuite struct {
	testing.IsolationSuite

	hub   *memory.Hub
	units []*unit
	old   *pkitest.Authority
	new   *pkitest.Authority
}

var _ = gc.Suite(&protocolSuite{})

func (s *protocolSuite) SetUpSuite(c *gc.C) {
	s.IsolationSuite.SetUpSuite(c)
	s.old = pkitest.MustNewAuthority("old-ca")
	s.new = pkitest.MustNewAuthority("new-ca")
}

func (s *protocolSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	ctx := context.Background()
	s.hub = memory.NewHub()
	s.units = nil
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("etcd/%d", i)
		bus := s.hub.Bus(name)
		c.Assert(bus.Join(ctx), jc.ErrorIsNil)
		store, err := truststore.New(c.MkDir(), coretesting.NoopLogger{})
		c.Assert(err, jc.ErrorIsNil)
		_, err = store.AddTrustedCA(cluster.Peer, s.old.CA())
		c.Assert(err, jc.ErrorIsNil)
		patch := cluster.NewUnitPatch().
			SetIdentity(fmt.Sprintf("etcd%d", i), fmt.Sprintf("host%d", i), fmt.Sprintf("10.0.0.%d", i+1)).
			SetStarted().
			SetTLSState(cluster.Peer, cluster.TLS).
			SetCertReady(cluster.Peer, true).
			SetRotation(cluster.Peer, cluster.NoRotation).
			SetCAPrint(cluster.Peer, s.old.Fingerprint())
		c.Assert(bus.SetUnitRecord(ctx, patch.Fields()), jc.ErrorIsNil)

		restarter := &recordingRestarter{}
		protocol, err := carotation.NewProtocol(carotation.Config{
			Bus:       bus,
			Store:     store,
			Restarter: restarter,
			Logger:    coretesting.NewCheckLogger(c).Child(name),
		})
		c.Assert(err, jc.ErrorIsNil)
		s.units = append(s.units, &unit{
			bus:       bus,
			store:     store,
			restarter: restarter,
			protocol:  protocol,
		})
	}
}

func (s *protocolSuite) observe(c *gc.C, u *unit) cluster.Snapshot {
	snap, err := peerbus.Observe(context.Background(), u.bus, u.bus)
	c.Assert(err, jc.ErrorIsNil)
	return snap
}

func (s *protocolSuite) rotation(c *gc.C, u *unit) cluster.RotationState {
	return s.observe(c, u).Local().Rotation(cluster.Peer)
}

func (s *protocolSuite) detectAndRestart(c *gc.C, u *unit) {
	ctx := context.Background()
	detected, err := u.protocol.Detect(ctx, s.observe(c, u), cluster.Peer, s.new.CA())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(detected, jc.IsTrue)
	c.Assert(u.protocol.AfterRestart(ctx, s.observe(c, u)), jc.ErrorIsNil)
}

func (s *protocolSuite) TestConfigValidate(c *gc.C) {
	_, err := carotation.NewProtocol(carotation.Config{})
	c.Assert(err, gc.ErrorMatches, "nil Bus not valid")
}

func (s *protocolSuite) TestDetect(c *gc.C) {
	u := s.units[0]
	ctx := context.Background()

	detected, err := u.protocol.Detect(ctx, s.observe(c, u), cluster.Peer, s.old.CA())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(detected, jc.IsFalse)

	detected, err = u.protocol.Detect(ctx, s.observe(c, u), cluster.Peer, s.new.CA())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(detected, jc.IsTrue)

	local := s.observe(c, u).Local()
	c.Check(local.Rotation(cluster.Peer), gc.Equals, cluster.NewCADetected)
	c.Check(local.Link(cluster.Peer).CAPrint, gc.Equals, s.new.Fingerprint())
	c.Check(u.restarter.reasons, jc.DeepEquals, []string{carotation.ReasonRotation})

	cas, err := u.store.TrustedCAs(cluster.Peer)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cas, gc.HasLen, 2)

	// A second delivery while the rotation is underway changes nothing.
	detected, err = u.protocol.Detect(ctx, s.observe(c, u), cluster.Peer, s.new.CA())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(detected, jc.IsFalse)
	c.Check(u.restarter.reasons, gc.HasLen, 1)
}

func (s *protocolSuite) TestDetectIgnoresLinkNotInTLS(c *gc.C) {
	u := s.units[0]
	detected, err := u.protocol.Detect(context.Background(), s.observe(c, u), cluster.Client, s.new.CA())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(detected, jc.IsFalse)
}

func (s *protocolSuite) TestAfterRestartOnlyAdvancesDetected(c *gc.C) {
	u := s.units[0]
	c.Assert(u.protocol.AfterRestart(context.Background(), s.observe(c, u)), jc.ErrorIsNil)
	c.Check(s.rotation(c, u), gc.Equals, cluster.NoRotation)

	s.detectAndRestart(c, u)
	c.Check(s.rotation(c, u), gc.Equals, cluster.NewCAAdded)
}

func (s *protocolSuite) TestStalledUnitBlocksRotation(c *gc.C) {
	ctx := context.Background()
	u0, u1, u2 := s.units[0], s.units[1], s.units[2]

	s.detectAndRestart(c, u0)
	s.detectAndRestart(c, u1)
	// etcd/2 sees the new CA but never gets to restart.
	_, err := u2.protocol.Detect(ctx, s.observe(c, u2), cluster.Peer, s.new.CA())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.rotation(c, u2), gc.Equals, cluster.NewCADetected)

	// Every redelivery reaches the same decision.
	for i := 0; i < 5; i++ {
		for _, u := range []*unit{u0, u1} {
			c.Check(u.protocol.CanWriteCertificate(s.observe(c, u), cluster.Peer), jc.IsFalse)
			result, err := u.protocol.CleanCA(ctx, s.observe(c, u), cluster.Peer)
			c.Assert(err, jc.ErrorIsNil)
			c.Check(result, gc.Equals, event.Deferred)
			c.Assert(u.protocol.Cleanup(ctx, s.observe(c, u), nil), jc.ErrorIsNil)
		}
	}
	c.Check(s.rotation(c, u0), gc.Equals, cluster.NewCAAdded)
	c.Check(s.rotation(c, u1), gc.Equals, cluster.NewCAAdded)

	// Even a unit that got ahead cannot drop the old CA.
	ok, err := u0.protocol.CertificateWritten(ctx, s.observe(c, u0), cluster.Peer)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	for i := 0; i < 5; i++ {
		result, err := u0.protocol.CleanCA(ctx, s.observe(c, u0), cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(result, gc.Equals, event.Deferred)
		c.Assert(u0.protocol.Cleanup(ctx, s.observe(c, u0), nil), jc.ErrorIsNil)
	}
	c.Check(s.rotation(c, u0), gc.Equals, cluster.CertUpdated)
	c.Check(s.rotation(c, u1), gc.Equals, cluster.NewCAAdded)
	for _, u := range []*unit{u0, u1} {
		cas, err := u.store.TrustedCAs(cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(cas, gc.HasLen, 2)
		c.Check(u.restarter.reasons, jc.DeepEquals, []string{carotation.ReasonRotation})
	}
}

func (s *protocolSuite) TestFullRotation(c *gc.C) {
	ctx := context.Background()

	for _, u := range s.units {
		s.detectAndRestart(c, u)
	}
	for _, u := range s.units {
		c.Assert(u.protocol.CanWriteCertificate(s.observe(c, u), cluster.Peer), jc.IsTrue)
	}

	// Units 0 and 1 write their new certificates; 2 has not yet.
	for _, u := range s.units[:2] {
		ok, err := u.protocol.CertificateWritten(ctx, s.observe(c, u), cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(ok, jc.IsTrue)
		result, err := u.protocol.CleanCA(ctx, s.observe(c, u), cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(result, gc.Equals, event.Deferred)
	}

	ok, err := s.units[2].protocol.CertificateWritten(ctx, s.observe(c, s.units[2]), cluster.Peer)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)

	for _, u := range s.units {
		result, err := u.protocol.CleanCA(ctx, s.observe(c, u), cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(result, gc.Equals, event.Handled)
		c.Check(u.restarter.reasons, jc.DeepEquals, []string{carotation.ReasonRotation, carotation.ReasonCleanCAs})
	}

	// Restarts run one unit at a time; later units still see the earlier
	// ones as done.
	for _, u := range s.units {
		c.Assert(u.protocol.Cleanup(ctx, s.observe(c, u), nil), jc.ErrorIsNil)
		local := s.observe(c, u).Local()
		c.Check(local.Rotation(cluster.Peer), gc.Equals, cluster.NoRotation)
		c.Check(local.Link(cluster.Peer).CAPrint, gc.Equals, s.new.Fingerprint())
		cas, err := u.store.TrustedCAs(cluster.Peer)
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(cas, gc.HasLen, 1)
		c.Check(pki.CertificateFingerprint(cas[0]), gc.Equals, s.new.Fingerprint())
	}

	// A redelivered clean-ca after the rotation is a no-op.
	result, err := s.units[0].protocol.CleanCA(ctx, s.observe(c, s.units[0]), cluster.Peer)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, event.Handled)
	c.Check(s.units[0].restarter.reasons, gc.HasLen, 2)
}

func (s *protocolSuite) TestCleanupKeepsExternalCAs(c *gc.C) {
	ctx := context.Background()
	external := pkitest.MustNewAuthority("external-ca")
	u := s.units[0]
	_, err := u.store.AddTrustedCA(cluster.Client, s.old.CA())
	c.Assert(err, jc.ErrorIsNil)
	_, err = u.store.AddTrustedCA(cluster.Client, external.CA())
	c.Assert(err, jc.ErrorIsNil)
	_, err = u.store.AddTrustedCA(cluster.Client, s.new.CA())
	c.Assert(err, jc.ErrorIsNil)

	for _, other := range s.units {
		patch := cluster.NewUnitPatch().
			SetTLSState(cluster.Client, cluster.TLS).
			SetRotation(cluster.Client, cluster.CertUpdated).
			SetCAPrint(cluster.Client, s.new.Fingerprint())
		c.Assert(other.bus.SetUnitRecord(ctx, patch.Fields()), jc.ErrorIsNil)
	}

	err = u.protocol.Cleanup(ctx, s.observe(c, u), map[cluster.LinkType][]string{
		cluster.Client: {external.CA()},
	})
	c.Assert(err, jc.ErrorIsNil)

	cas, err := u.store.TrustedCAs(cluster.Client)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cas, gc.HasLen, 2)
	c.Check(pki.CertificateFingerprint(cas[0]), gc.Equals, external.Fingerprint())
	c.Check(pki.CertificateFingerprint(cas[1]), gc.Equals, s.new.Fingerprint())
	c.Check(s.rotation(c, u), gc.Equals, cluster.NoRotation)
}
