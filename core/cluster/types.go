// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cluster holds the records the coordinator exchanges over the peer
// bus, in typed form, and the snapshot a unit observes them through.
package cluster

import (
	"github.com/juju/errors"
)

const (
	// PeerPort is the port etcd members use to talk to each other.
	PeerPort = 2380

	// ClientPort is the port etcd serves client requests on.
	ClientPort = 2379

	// InternalUser is the privileged etcd user the coordinator manages the
	// cluster with once authentication is enabled.
	InternalUser = "root"
)

// LinkType identifies one of the two connection categories of an etcd
// member, each of which has its own independent TLS lifecycle.
type LinkType string

const (
	// Peer is the member to member link.
	Peer LinkType = "peer"
	// Client is the link external callers and the admin client use.
	Client LinkType = "client"
)

// Links holds every link type, peer first.
var Links = []LinkType{Peer, Client}

// String implements fmt.Stringer.
func (l LinkType) String() string {
	return string(l)
}

// Validate returns an error if the link type is not known.
func (l LinkType) Validate() error {
	switch l {
	case Peer, Client:
		return nil
	}
	return errors.NotValidf("link type %q", string(l))
}

// TLSState is the state of a single link of a unit.
type TLSState string

const (
	// NoTLS means the link is unencrypted and no certificate is tracked.
	NoTLS TLSState = "no_tls"
	// ToTLS means a certificate was requested but is not yet in use.
	ToTLS TLSState = "to_tls"
	// TLS means the certificate is installed and the link is encrypted.
	TLS TLSState = "tls"
	// ToNoTLS means the certificate is being stripped from the link.
	ToNoTLS TLSState = "to_no_tls"
)

// String implements fmt.Stringer.
func (s TLSState) String() string {
	return string(s)
}

// RotationState is the CA rotation state of a single link of a unit.
type RotationState string

const (
	// NoRotation is the steady state.
	NoRotation RotationState = "no_rotation"
	// NewCADetected means a certificate signed by an unknown CA arrived and
	// the new CA is on its way into the trust store.
	NewCADetected RotationState = "new_ca_detected"
	// NewCAAdded means the new CA is trusted alongside the old one.
	NewCAAdded RotationState = "new_ca_added"
	// CertUpdated means the unit's own certificate was replaced by one
	// signed with the new CA.
	CertUpdated RotationState = "cert_updated"
)

var rotationOrder = map[RotationState]int{
	NoRotation:    0,
	NewCADetected: 1,
	NewCAAdded:    2,
	CertUpdated:   3,
}

// String implements fmt.Stringer.
func (s RotationState) String() string {
	return string(s)
}

// AtLeast reports whether s is at or past other in the rotation sequence.
// NoRotation is treated as the start of the sequence.
func (s RotationState) AtLeast(other RotationState) bool {
	return rotationOrder[s] >= rotationOrder[other]
}

// State is the bootstrap state of the whole etcd cluster.
type State string

const (
	// StateNew is used until the first member has started.
	StateNew State = "new"
	// StateExisting is used once the first member has started. It is
	// never reverted.
	StateExisting State = "existing"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Advance returns the state after applying to. Once the cluster is
// existing it stays existing.
func (s State) Advance(to State) State {
	if s == StateExisting {
		return StateExisting
	}
	return to
}

// ManagedUser is an etcd user created for an external client relation.
// The user authenticates with a client certificate whose common name
// matches the user name.
type ManagedUser struct {
	RelationID int    `json:"relation_id"`
	CommonName string `json:"common_name"`
	KeysPrefix string `json:"keys_prefix"`
	CAChain    string `json:"ca_chain"`
}
