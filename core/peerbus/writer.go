// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package peerbus

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	coreerrors "github.com/juju/etcd-coordinator/core/errors"
)

// LeaderWriter writes the cluster record, checking leadership immediately
// before each write.
type LeaderWriter struct {
	bus        Bus
	leadership Leadership
}

// NewLeaderWriter returns a LeaderWriter for the given bus.
func NewLeaderWriter(bus Bus, leadership Leadership) *LeaderWriter {
	return &LeaderWriter{bus: bus, leadership: leadership}
}

// IsLeader asks the leadership source whether the unit leads right now.
func (w *LeaderWriter) IsLeader(ctx context.Context) (bool, error) {
	leader, err := w.leadership.IsLeader(ctx)
	return leader, errors.Trace(err)
}

// Write applies patch to the cluster record. It fails with NotLeader if
// the unit does not lead at the time of the write. A patch moving the
// cluster state back to new is dropped once the cluster is existing.
func (w *LeaderWriter) Write(ctx context.Context, patch *cluster.ClusterPatch) error {
	if patch.Empty() {
		return nil
	}
	leader, err := w.leadership.IsLeader(ctx)
	if err != nil {
		return errors.Annotate(err, "checking leadership")
	}
	if !leader {
		return coreerrors.New(coreerrors.NotLeader, "unit %q cannot write the cluster record", w.bus.Unit())
	}

	fields := patch.Fields()
	if state, ok := fields[cluster.KeyClusterState]; ok {
		current, err := w.bus.ClusterRecord(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		next := cluster.State(current[cluster.KeyClusterState]).Advance(cluster.State(state))
		if string(next) == current[cluster.KeyClusterState] {
			delete(fields, cluster.KeyClusterState)
		} else {
			fields[cluster.KeyClusterState] = string(next)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return errors.Trace(w.bus.SetClusterRecord(ctx, fields))
}

// UnitWriter writes the owning unit's record.
type UnitWriter struct {
	bus Bus
}

// NewUnitWriter returns a UnitWriter for the given bus.
func NewUnitWriter(bus Bus) *UnitWriter {
	return &UnitWriter{bus: bus}
}

// Write applies patch to the owning unit's record.
func (w *UnitWriter) Write(ctx context.Context, patch *cluster.UnitPatch) error {
	if patch.Empty() {
		return nil
	}
	return errors.Trace(w.bus.SetUnitRecord(ctx, patch.Fields()))
}
