// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tlslink

import (
	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
)

// Trigger is something that moves a link between TLS states.
type Trigger string

const (
	// Created is raised when a certificate providing relation appears.
	Created Trigger = "created"
	// CertificateAvailable is raised when the certificate for the link has
	// been installed and is in use.
	CertificateAvailable Trigger = "certificate-available"
	// Broken is raised when the certificate providing relation goes away.
	Broken Trigger = "broken"
)

var transitions = map[cluster.TLSState]map[Trigger]cluster.TLSState{
	cluster.NoTLS: {
		Created: cluster.ToTLS,
		Broken:  cluster.NoTLS,
	},
	cluster.ToTLS: {
		Created:              cluster.ToTLS,
		CertificateAvailable: cluster.TLS,
		Broken:               cluster.NoTLS,
	},
	cluster.TLS: {
		Created:              cluster.TLS,
		CertificateAvailable: cluster.TLS,
		Broken:               cluster.NoTLS,
	},
	cluster.ToNoTLS: {
		Created: cluster.ToTLS,
		Broken:  cluster.NoTLS,
	},
}

// Transition returns the state a link in from moves to on trigger.
// Repeating a trigger is harmless: the state a trigger leads to is stable
// under the same trigger.
func Transition(from cluster.TLSState, trigger Trigger) (cluster.TLSState, error) {
	to, ok := transitions[from][trigger]
	if !ok {
		return from, errors.NotValidf("%s in state %s", trigger, from)
	}
	return to, nil
}
