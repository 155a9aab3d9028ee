// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package carotation moves a link of a unit through a CA rotation:
// trusting the new CA next to the old one, replacing the unit's own
// certificate, and finally dropping the old CA. Every step past detection
// waits on a barrier over the records of all units, so that the old CA is
// never dropped by any unit while another unit still presents a
// certificate signed by it.
package carotation

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/peerbus"
)

const (
	// ReasonRotation is the restart reason loading a newly trusted CA.
	ReasonRotation = "ca-rotation"
	// ReasonCleanCAs is the restart reason loading the pruned trust store.
	ReasonCleanCAs = "clean-cas"
)

// TrustStore is the part of the local trust store the protocol needs.
type TrustStore interface {
	IsNewCA(link cluster.LinkType, caPEM string) (bool, error)
	AddTrustedCA(link cluster.LinkType, caPEM string) (bool, error)
	NewestCA(link cluster.LinkType) (string, error)
	PruneCAs(link cluster.LinkType, fingerprint string, keep ...string) error
}

// Restarter queues a rolling restart of the local workload.
type Restarter interface {
	Request(ctx context.Context, reason string) error
}

// Logger represents the logging methods called.
type Logger interface {
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies of a Protocol.
type Config struct {
	Bus       peerbus.Bus
	Store     TrustStore
	Restarter Restarter
	Logger    Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Restarter == nil {
		return errors.NotValidf("nil Restarter")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Protocol drives the rotation state of the local unit.
type Protocol struct {
	config Config
	unit   *peerbus.UnitWriter
}

// NewProtocol returns a Protocol for the given config.
func NewProtocol(config Config) (*Protocol, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Protocol{
		config: config,
		unit:   peerbus.NewUnitWriter(config.Bus),
	}, nil
}

// Detect starts a rotation of link if caPEM is a CA the unit does not
// trust yet and the link is settled in TLS. The CA is added to the trust
// store and a restart is queued to load it. It reports whether a rotation
// was started.
func (p *Protocol) Detect(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType, caPEM string) (bool, error) {
	local := snap.Local()
	if local.TLSState(link) != cluster.TLS || local.Rotation(link) != cluster.NoRotation {
		return false, nil
	}
	isNew, err := p.config.Store.IsNewCA(link, caPEM)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !isNew {
		return false, nil
	}
	p.config.Logger.Infof("new %s CA detected, updating trusted CAs", link)
	if _, err := p.config.Store.AddTrustedCA(link, caPEM); err != nil {
		return false, errors.Trace(err)
	}
	newest, err := p.config.Store.NewestCA(link)
	if err != nil {
		return false, errors.Trace(err)
	}
	patch := cluster.NewUnitPatch().
		SetRotation(link, cluster.NewCADetected).
		SetCAPrint(link, newest)
	if err := p.unit.Write(ctx, patch); err != nil {
		return false, errors.Trace(err)
	}
	return true, errors.Trace(p.config.Restarter.Request(ctx, ReasonRotation))
}

// AfterRestart records that the restarted workload now trusts every CA in
// the trust store. Links in NewCADetected move on to NewCAAdded.
func (p *Protocol) AfterRestart(ctx context.Context, snap cluster.Snapshot) error {
	patch := cluster.NewUnitPatch()
	for _, link := range cluster.Links {
		if snap.Local().Rotation(link) == cluster.NewCADetected {
			p.config.Logger.Debugf("new %s CA loaded", link)
			patch.SetRotation(link, cluster.NewCAAdded)
		}
	}
	return errors.Trace(p.unit.Write(ctx, patch))
}

// CanWriteCertificate reports whether a certificate for link may be
// written now. While a rotation is underway the certificate signed by the
// new CA is held back until every unit trusts that CA.
func (p *Protocol) CanWriteCertificate(snap cluster.Snapshot, link cluster.LinkType) bool {
	switch snap.Local().Rotation(link) {
	case cluster.NewCADetected, cluster.NewCAAdded:
		if !IsNewCASavedOnAllServers(snap, link) {
			p.config.Logger.Debugf("waiting for all units to trust the new %s CA", link)
			return false
		}
	}
	return true
}

// CertificateWritten records that the unit's own certificate for link is
// now signed by the new CA. It reports whether the old CA can be cleaned
// up once every unit gets here, in which case the caller raises a clean-ca
// event for link.
func (p *Protocol) CertificateWritten(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (bool, error) {
	local := snap.Local()
	if local.TLSState(link) != cluster.TLS || local.Rotation(link) != cluster.NewCAAdded {
		return false, nil
	}
	p.config.Logger.Infof("updated %s certificate with new CA", link)
	patch := cluster.NewUnitPatch().SetRotation(link, cluster.CertUpdated)
	if err := p.unit.Write(ctx, patch); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

// CleanCA queues the restart dropping the old CA of link once every unit
// has updated its certificate. The event is deferred until then.
func (p *Protocol) CleanCA(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error) {
	switch snap.Local().Rotation(link) {
	case cluster.CertUpdated:
	case cluster.NoRotation:
		// Already cleaned by an earlier delivery.
		return event.Handled, nil
	default:
		return event.Deferred, nil
	}
	if !IsCertUpdatedOnAllServers(snap, link) {
		p.config.Logger.Debugf("waiting for all units to update %s certificates, pending %v",
			link, Pending(snap, link, cluster.CertUpdated))
		return event.Deferred, nil
	}
	if err := p.config.Restarter.Request(ctx, ReasonCleanCAs); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	return event.Handled, nil
}

// Cleanup prunes the trust store of every link in CertUpdated down to the
// newest CA plus keep, and ends the rotation. It runs while the restart
// lock is held, immediately before the workload restarts. A link whose
// barrier no longer holds is left alone.
func (p *Protocol) Cleanup(ctx context.Context, snap cluster.Snapshot, keep map[cluster.LinkType][]string) error {
	patch := cluster.NewUnitPatch()
	for _, link := range cluster.Links {
		if snap.Local().Rotation(link) != cluster.CertUpdated {
			continue
		}
		if !IsCertUpdatedOnAllServers(snap, link) {
			continue
		}
		newest, err := p.config.Store.NewestCA(link)
		if err != nil {
			return errors.Trace(err)
		}
		if err := p.config.Store.PruneCAs(link, newest, keep[link]...); err != nil {
			return errors.Annotatef(err, "pruning %s CAs", link)
		}
		p.config.Logger.Infof("old %s CAs removed", link)
		patch.SetRotation(link, cluster.NoRotation).SetCAPrint(link, newest)
	}
	return errors.Trace(p.unit.Write(ctx, patch))
}
