// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package carotation

import (
	"github.com/juju/etcd-coordinator/core/cluster"
)

// IsNewCASavedOnAllServers reports whether every unit, the observer
// included, trusts the new CA of link in its running workload. A unit
// qualifies once its rotation state is at least NewCAAdded, or once it has
// finished the rotation and is back to NoRotation trusting the same newest
// CA as the observer.
func IsNewCASavedOnAllServers(snap cluster.Snapshot, link cluster.LinkType) bool {
	return allAtLeast(snap, link, cluster.NewCAAdded)
}

// IsCertUpdatedOnAllServers reports whether every unit, the observer
// included, holds a certificate for link signed by the new CA.
func IsCertUpdatedOnAllServers(snap cluster.Snapshot, link cluster.LinkType) bool {
	return allAtLeast(snap, link, cluster.CertUpdated)
}

func allAtLeast(snap cluster.Snapshot, link cluster.LinkType, target cluster.RotationState) bool {
	newest := snap.Local().Link(link).CAPrint
	units := snap.All()
	if len(units) == 0 {
		return false
	}
	for _, r := range units {
		if !reached(r.Link(link), target, newest) {
			return false
		}
	}
	return true
}

func reached(ls cluster.LinkState, target cluster.RotationState, newest string) bool {
	if ls.Rotation != cluster.NoRotation {
		return ls.Rotation.AtLeast(target)
	}
	return newest != "" && ls.CAPrint == newest
}

// Pending returns the units, in unit order, holding the barrier of link at
// target back. It is used for status reporting.
func Pending(snap cluster.Snapshot, link cluster.LinkType, target cluster.RotationState) []string {
	newest := snap.Local().Link(link).CAPrint
	var pending []string
	for _, r := range snap.All() {
		if !reached(r.Link(link), target, newest) {
			pending = append(pending, r.Unit)
		}
	}
	return pending
}
