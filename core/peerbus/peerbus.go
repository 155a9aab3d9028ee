// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package peerbus describes the shared key/value store units coordinate
// through. Every unit owns its own record; the cluster record is owned by
// the elected leader. The bus gives no ordering or atomicity across keys.
package peerbus

import (
	"context"

	"github.com/juju/worker/v4"
)

// Watcher notifies of changes anywhere on the bus. Changes are coalesced:
// several writes may produce a single notification.
type Watcher interface {
	worker.Worker
	Changes() <-chan struct{}
}

// Bus is one unit's handle on the peer bus.
type Bus interface {
	// Unit returns the name of the unit owning this handle.
	Unit() string

	// Join registers the unit with the application.
	Join(ctx context.Context) error

	// Leave deregisters the unit and drops its record.
	Leave(ctx context.Context) error

	// Units returns the names of every registered unit.
	Units(ctx context.Context) ([]string, error)

	// UnitRecord returns the raw record of the named unit.
	UnitRecord(ctx context.Context, unit string) (map[string]string, error)

	// SetUnitRecord patches the record of the owning unit. An empty value
	// deletes the key.
	SetUnitRecord(ctx context.Context, fields map[string]string) error

	// ClusterRecord returns the raw application record.
	ClusterRecord(ctx context.Context) (map[string]string, error)

	// SetClusterRecord patches the application record. It fails with
	// NotLeader if the owning unit is not the leader.
	SetClusterRecord(ctx context.Context, fields map[string]string) error

	// Watch returns a watcher notifying of any change on the bus.
	Watch(ctx context.Context) (Watcher, error)
}

// Leadership tells a unit whether it is currently the elected leader.
// The answer is only good for the moment it is given.
type Leadership interface {
	IsLeader(ctx context.Context) (bool, error)
}

// LeaderReader reports the current leader without taking part in the
// election.
type LeaderReader interface {
	Leader(ctx context.Context) (string, error)
}

// Observing returns a Leadership answering for unit from reader. Unlike
// the bus's own Leadership, asking never claims or extends the lease.
func Observing(reader LeaderReader, unit string) Leadership {
	return observing{reader: reader, unit: unit}
}

type observing struct {
	reader LeaderReader
	unit   string
}

func (o observing) IsLeader(ctx context.Context) (bool, error) {
	leader, err := o.reader.Leader(ctx)
	if err != nil {
		return false, err
	}
	return leader == o.unit, nil
}
