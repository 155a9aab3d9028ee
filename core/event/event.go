// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package event defines the events delivered to a unit's coordinator.
package event

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
)

// Kind identifies what happened.
type Kind string

const (
	Start                 Kind = "start"
	PeerChanged           Kind = "peer-changed"
	PeerDeparted          Kind = "peer-departed"
	LeaderElected         Kind = "leader-elected"
	UpdateStatus          Kind = "update-status"
	Remove                Kind = "remove"
	TLSRelationCreated    Kind = "tls-relation-created"
	TLSRelationBroken     Kind = "tls-relation-broken"
	CertificateAvailable  Kind = "certificate-available"
	CAChanged             Kind = "ca-changed"
	CleanCA               Kind = "clean-ca"
	ClientRelationUpdated Kind = "client-relation-updated"
	ClientRelationBroken  Kind = "client-relation-broken"
)

// Event is a single trigger for the coordinator. Only the fields relevant
// to the kind are set. Events carry identifiers only; handlers re-read
// certificate material and peer state when they run so that a redelivered
// event always acts on current data.
type Event struct {
	Kind       Kind             `json:"kind"`
	Link       cluster.LinkType `json:"link,omitempty"`
	Unit       string           `json:"unit,omitempty"`
	RelationID int              `json:"relation-id,omitempty"`
}

// Key identifies the event for deferral. Deferring an event whose key is
// already queued replaces the queued one.
func (e Event) Key() string {
	switch e.Kind {
	case TLSRelationCreated, TLSRelationBroken, CertificateAvailable, CAChanged, CleanCA:
		return fmt.Sprintf("%s/%s", e.Kind, e.Link)
	case ClientRelationUpdated, ClientRelationBroken:
		return fmt.Sprintf("%s/%d", e.Kind, e.RelationID)
	case PeerDeparted:
		return fmt.Sprintf("%s/%s", e.Kind, e.Unit)
	}
	return string(e.Kind)
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return e.Key()
}

// Validate returns an error if fields required by the kind are missing.
func (e Event) Validate() error {
	switch e.Kind {
	case TLSRelationCreated, TLSRelationBroken, CertificateAvailable, CAChanged, CleanCA:
		return errors.Annotatef(e.Link.Validate(), "%s event", e.Kind)
	case PeerDeparted:
		if e.Unit == "" {
			return errors.NotValidf("%s event without unit", e.Kind)
		}
	case Start, PeerChanged, LeaderElected, UpdateStatus, Remove,
		ClientRelationUpdated, ClientRelationBroken:
	default:
		return errors.NotValidf("event kind %q", string(e.Kind))
	}
	return nil
}

// Result is the outcome of handling an event.
type Result int

const (
	// Handled means the event is done with.
	Handled Result = iota
	// Deferred means a precondition does not hold yet and the event must
	// be delivered again on a later trigger.
	Deferred
)

// String implements fmt.Stringer.
func (r Result) String() string {
	if r == Deferred {
		return "deferred"
	}
	return "handled"
}
