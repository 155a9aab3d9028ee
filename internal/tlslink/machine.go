// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tlslink tracks, per unit and per link, whether the link is
// encrypted. A link goes from no_tls to to_tls when a certificate is
// requested, to tls once the certificate is installed and the workload
// restarted with it, and straight back to no_tls when the certificate
// provider goes away.
package tlslink

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/carotation"
	"github.com/juju/etcd-coordinator/internal/pki"
)

const (
	// ReasonEnableTLS is the restart reason switching links to TLS.
	ReasonEnableTLS = "enable-tls"
	// ReasonDisableTLS is the restart reason switching links to plaintext.
	ReasonDisableTLS = "disable-tls"

	// ErrInvalidPrivateKey is returned when the private key for a link
	// does not match the certificate issued for it.
	ErrInvalidPrivateKey = errors.ConstError("invalid private key")
)

// Certificate is the material issued for one link.
type Certificate struct {
	Certificate string `yaml:"certificate"`
	CA          string `yaml:"ca"`
	Chain       string `yaml:"chain,omitempty"`
	PrivateKey  string `yaml:"private-key,omitempty"`
}

// Authority is the certificate authority boundary. Requests are answered
// asynchronously; the answer is announced with a certificate-available
// event and read back with Certificate.
type Authority interface {
	Request(ctx context.Context, link cluster.LinkType, req pki.Request) error
	Certificate(ctx context.Context, link cluster.LinkType) (Certificate, error)
}

// TrustStore is the local store of TLS material.
type TrustStore interface {
	carotation.TrustStore
	WriteCertificate(link cluster.LinkType, certPEM, keyPEM string) error
	CertificateReady(link cluster.LinkType) bool
	Delete(link cluster.LinkType) error
}

// Rotation is the CA rotation protocol the machine consults before
// installing a certificate.
type Rotation interface {
	Detect(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType, caPEM string) (bool, error)
	CanWriteCertificate(snap cluster.Snapshot, link cluster.LinkType) bool
	CertificateWritten(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (bool, error)
}

// Restarter queues a rolling restart of the local workload.
type Restarter interface {
	Request(ctx context.Context, reason string) error
}

// Emitter raises a follow up event.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

// Logger represents the logging methods called.
type Logger interface {
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies of a Machine.
type Config struct {
	Bus       peerbus.Bus
	Store     TrustStore
	Authority Authority
	Rotation  Rotation
	Restarter Restarter
	Emitter   Emitter
	Logger    Logger

	// Model is appended to the unit name to form certificate common
	// names.
	Model string

	// PrivateKeys optionally holds an operator supplied private key per
	// link, used instead of the key the authority hands out. Keys are PEM
	// or base64 encoded PEM.
	PrivateKeys map[cluster.LinkType]string
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Authority == nil {
		return errors.NotValidf("nil Authority")
	}
	if c.Rotation == nil {
		return errors.NotValidf("nil Rotation")
	}
	if c.Restarter == nil {
		return errors.NotValidf("nil Restarter")
	}
	if c.Emitter == nil {
		return errors.NotValidf("nil Emitter")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Model == "" {
		return errors.NotValidf("empty Model")
	}
	for link, key := range c.PrivateKeys {
		if err := link.Validate(); err != nil {
			return errors.Trace(err)
		}
		keyPEM, err := pki.PrivateKeyPEM(key)
		if err == nil {
			_, err = pki.ParsePrivateKey([]byte(keyPEM))
		}
		if err != nil {
			return errors.WithType(errors.Annotatef(err, "%s private key", link), ErrInvalidPrivateKey)
		}
	}
	return nil
}

// Machine drives both links of the local unit.
type Machine struct {
	config Config
	unit   *peerbus.UnitWriter
}

// NewMachine returns a Machine for the given config.
func NewMachine(config Config) (*Machine, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	keys := make(map[cluster.LinkType]string, len(config.PrivateKeys))
	for link, key := range config.PrivateKeys {
		// Validate has already decoded every key once.
		keys[link], _ = pki.PrivateKeyPEM(key)
	}
	config.PrivateKeys = keys
	return &Machine{
		config: config,
		unit:   peerbus.NewUnitWriter(config.Bus),
	}, nil
}

// CertificateRequest returns what the unit asks the authority for on
// link.
func (m *Machine) CertificateRequest(local cluster.UnitRecord, link cluster.LinkType) pki.Request {
	unit := strings.ReplaceAll(local.Unit, "/", "-")
	return pki.Request{
		CommonName:   fmt.Sprintf("%s-%s", unit, m.config.Model),
		Organization: string(link),
		IPAddresses:  []string{local.IP},
		DNSNames:     []string{unit, local.Hostname},
	}.Normalize()
}

// Created handles a new certificate provider on link: the link moves to
// to_tls and a certificate is requested. The event is deferred until the
// unit has published its address, which the request needs.
func (m *Machine) Created(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error) {
	local := snap.Local()
	if !local.HasIdentity() {
		m.config.Logger.Debugf("unit identity unknown, deferring %s certificate request", link)
		return event.Deferred, nil
	}
	from := local.TLSState(link)
	to, err := Transition(from, Created)
	if err != nil {
		return event.Handled, errors.Trace(err)
	}
	if to != from {
		if err := m.unit.Write(ctx, cluster.NewUnitPatch().SetTLSState(link, to)); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		m.config.Logger.Infof("%s link %s -> %s", link, from, to)
	}
	if to != cluster.ToTLS {
		return event.Handled, nil
	}
	if err := m.config.Authority.Request(ctx, link, m.CertificateRequest(local, link)); err != nil {
		return event.Deferred, errors.Annotatef(err, "requesting %s certificate", link)
	}
	return event.Handled, nil
}

// CertificateAvailable installs the certificate issued for link.
//
// A certificate signed by a CA the unit does not trust yet starts a CA
// rotation instead, and during a rotation the certificate waits until
// every unit trusts the new CA. A link still in to_tls is switched over
// with a restart, shared with the other link when that one is also
// switching, so that enabling both links costs a single restart.
func (m *Machine) CertificateAvailable(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error) {
	local := snap.Local()
	state := local.TLSState(link)
	if state == cluster.NoTLS || state == cluster.ToNoTLS {
		m.config.Logger.Debugf("ignoring %s certificate, link is %s", link, state)
		return event.Handled, nil
	}
	cert, err := m.config.Authority.Certificate(ctx, link)
	if errors.Is(err, errors.NotFound) {
		m.config.Logger.Debugf("no %s certificate issued yet", link)
		return event.Handled, nil
	} else if err != nil {
		return event.Deferred, errors.Annotatef(err, "reading %s certificate", link)
	}

	detected, err := m.config.Rotation.Detect(ctx, snap, link, cert.CA)
	if err != nil {
		return event.Deferred, errors.Trace(err)
	}
	if detected || !m.config.Rotation.CanWriteCertificate(snap, link) {
		return event.Deferred, nil
	}

	if err := m.install(ctx, link, cert); err != nil {
		return event.Deferred, errors.Trace(err)
	}

	if state == cluster.TLS {
		if local.Rotation(link) == cluster.NewCAAdded {
			updated, err := m.config.Rotation.CertificateWritten(ctx, snap, link)
			if err != nil {
				return event.Deferred, errors.Trace(err)
			}
			if updated {
				return event.Handled, errors.Trace(m.config.Emitter.Emit(ctx, event.Event{Kind: event.CleanCA, Link: link}))
			}
		}
		m.config.Logger.Infof("renewed %s certificate", link)
		return event.Handled, nil
	}

	if !local.Started {
		// Nothing to restart; the first start picks the certificate up.
		patch := cluster.NewUnitPatch().SetTLSState(link, cluster.TLS)
		if err := m.unit.Write(ctx, patch); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		m.config.Logger.Infof("%s link %s -> %s before first start", link, state, cluster.TLS)
		return event.Handled, nil
	}

	other := otherLink(link)
	if local.TLSState(other) == cluster.ToTLS && !local.CertReady(other) {
		m.config.Logger.Debugf("%s certificate installed, waiting for the %s certificate before restarting", link, other)
		return event.Deferred, nil
	}
	if err := m.config.Restarter.Request(ctx, ReasonEnableTLS); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	return event.Handled, nil
}

func (m *Machine) install(ctx context.Context, link cluster.LinkType, cert Certificate) error {
	key := cert.PrivateKey
	if configured, ok := m.config.PrivateKeys[link]; ok {
		key = configured
	}
	if err := m.config.Store.WriteCertificate(link, cert.Certificate, key); errors.Is(err, errors.NotValid) {
		return errors.WithType(err, ErrInvalidPrivateKey)
	} else if err != nil {
		return errors.Trace(err)
	}
	if _, err := m.config.Store.AddTrustedCA(link, cert.CA); err != nil {
		return errors.Trace(err)
	}
	newest, err := m.config.Store.NewestCA(link)
	if err != nil {
		return errors.Trace(err)
	}
	patch := cluster.NewUnitPatch().
		SetCertReady(link, true).
		SetCAPrint(link, newest)
	return errors.Trace(m.unit.Write(ctx, patch))
}

// Broken strips the TLS material of link and drops it to no_tls. A
// workload serving TLS on the link is restarted in plaintext.
func (m *Machine) Broken(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error) {
	local := snap.Local()
	from := local.TLSState(link)
	to, err := Transition(from, Broken)
	if err != nil {
		return event.Handled, errors.Trace(err)
	}
	if err := m.config.Store.Delete(link); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	patch := cluster.NewUnitPatch().
		SetTLSState(link, to).
		SetCertReady(link, false).
		SetRotation(link, cluster.NoRotation).
		SetCAPrint(link, "")
	if err := m.unit.Write(ctx, patch); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	m.config.Logger.Infof("%s link %s -> %s", link, from, to)
	if from != cluster.TLS || !local.Started {
		return event.Handled, nil
	}
	if err := m.config.Restarter.Request(ctx, ReasonDisableTLS); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	return event.Handled, nil
}

// PrepareRestart switches every link in to_tls whose certificate is
// installed to tls. It runs while the restart lock is held, right before
// the workload is restarted with the new configuration, and reports the
// links it switched.
func (m *Machine) PrepareRestart(ctx context.Context, snap cluster.Snapshot) ([]cluster.LinkType, error) {
	local := snap.Local()
	patch := cluster.NewUnitPatch()
	var switched []cluster.LinkType
	for _, link := range cluster.Links {
		if local.TLSState(link) != cluster.ToTLS || !local.CertReady(link) {
			continue
		}
		if !m.config.Store.CertificateReady(link) {
			m.config.Logger.Debugf("%s certificate missing on disk, not switching", link)
			continue
		}
		to, err := Transition(cluster.ToTLS, CertificateAvailable)
		if err != nil {
			return nil, errors.Trace(err)
		}
		patch.SetTLSState(link, to)
		switched = append(switched, link)
		m.config.Logger.Infof("%s link %s -> %s", link, cluster.ToTLS, to)
	}
	if err := m.unit.Write(ctx, patch); err != nil {
		return nil, errors.Trace(err)
	}
	return switched, nil
}

func otherLink(link cluster.LinkType) cluster.LinkType {
	if link == cluster.Peer {
		return cluster.Client
	}
	return cluster.Peer
}
