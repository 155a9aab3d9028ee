// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package peerbus

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
)

// Observe reads every unit record and the cluster record into a snapshot
// as seen by the bus owner.
func Observe(ctx context.Context, bus Bus, leadership Leadership) (cluster.Snapshot, error) {
	units, err := bus.Units(ctx)
	if err != nil {
		return cluster.Snapshot{}, errors.Annotate(err, "listing units")
	}
	snap := cluster.Snapshot{
		Self:  bus.Unit(),
		Units: make(map[string]cluster.UnitRecord, len(units)),
	}
	for _, unit := range units {
		fields, err := bus.UnitRecord(ctx, unit)
		if errors.Is(err, errors.NotFound) {
			continue
		} else if err != nil {
			return cluster.Snapshot{}, errors.Annotatef(err, "reading unit %q", unit)
		}
		snap.Units[unit] = cluster.ParseUnitRecord(unit, fields)
	}

	fields, err := bus.ClusterRecord(ctx)
	if err != nil {
		return cluster.Snapshot{}, errors.Annotate(err, "reading cluster record")
	}
	if snap.Cluster, err = cluster.ParseClusterRecord(fields); err != nil {
		return cluster.Snapshot{}, errors.Trace(err)
	}

	if leadership != nil {
		if snap.Leader, err = leadership.IsLeader(ctx); err != nil {
			return cluster.Snapshot{}, errors.Annotate(err, "checking leadership")
		}
	}
	return snap, nil
}
