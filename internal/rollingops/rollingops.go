// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rollingops restarts the workload of one unit at a time.
//
// Units publish the reasons they need a restart for in their own record.
// The leader hands a single restart lock to the lowest numbered unit with
// a pending request, and takes it back only once that unit has cleared its
// request, so no two units are ever restarting together.
package rollingops

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/peerbus"
)

// Callback restarts the local workload for the given reasons.
type Callback func(ctx context.Context, reasons []string) error

// Logger represents the logging methods called.
type Logger interface {
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies of a Manager.
type Config struct {
	Bus        peerbus.Bus
	Leadership peerbus.Leadership
	Logger     Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Leadership == nil {
		return errors.NotValidf("nil Leadership")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Manager takes part in rolling restarts on behalf of one unit.
type Manager struct {
	config Config
	unit   *peerbus.UnitWriter
	leader *peerbus.LeaderWriter
}

// NewManager returns a Manager for the unit owning config.Bus.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Manager{
		config: config,
		unit:   peerbus.NewUnitWriter(config.Bus),
		leader: peerbus.NewLeaderWriter(config.Bus, config.Leadership),
	}, nil
}

// Request adds reason to the local unit's pending restart reasons.
// Requesting a reason already pending changes nothing.
func (m *Manager) Request(ctx context.Context, reason string) error {
	if reason == "" {
		return errors.NotValidf("empty restart reason")
	}
	fields, err := m.config.Bus.UnitRecord(ctx, m.config.Bus.Unit())
	if err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	local := cluster.ParseUnitRecord(m.config.Bus.Unit(), fields)
	reasons := set.NewStrings(local.RestartRequest...)
	if reasons.Contains(reason) {
		return nil
	}
	reasons.Add(reason)
	m.config.Logger.Debugf("requesting restart for %v", reasons.SortedValues())
	return errors.Trace(m.unit.Write(ctx, cluster.NewUnitPatch().SetRestartRequest(reasons.Values())))
}

// Grant hands the restart lock to the next unit if it is free. It does
// nothing unless the local unit leads. It returns the unit holding the
// lock afterwards, or "" when no unit needs it.
func (m *Manager) Grant(ctx context.Context, snap cluster.Snapshot) (string, error) {
	if !snap.Leader {
		return snap.Cluster.RestartGranted, nil
	}
	holder := snap.Cluster.RestartGranted
	if r, ok := snap.Unit(holder); ok && len(r.RestartRequest) > 0 {
		return holder, nil
	}
	next := ""
	for _, r := range snap.All() {
		if len(r.RestartRequest) > 0 {
			next = r.Unit
			break
		}
	}
	if next == holder {
		return holder, nil
	}
	if err := m.leader.Write(ctx, cluster.NewClusterPatch().SetRestartGranted(next)); err != nil {
		return holder, errors.Trace(err)
	}
	if next != "" {
		m.config.Logger.Infof("restart lock granted to %s", next)
	} else {
		m.config.Logger.Debugf("restart lock released by %s", holder)
	}
	return next, nil
}

// Run restarts the local workload through fn if the local unit holds the
// restart lock and has a pending request. Every reason pending when fn
// started is cleared once fn succeeds; reasons requested while fn ran stay
// pending. It reports whether fn was called.
func (m *Manager) Run(ctx context.Context, snap cluster.Snapshot, fn Callback) (bool, error) {
	local := snap.Local()
	if snap.Cluster.RestartGranted != local.Unit || len(local.RestartRequest) == 0 {
		return false, nil
	}
	m.config.Logger.Infof("restarting for %v", local.RestartRequest)
	if err := fn(ctx, local.RestartRequest); err != nil {
		return true, errors.Annotate(err, "restarting workload")
	}

	fields, err := m.config.Bus.UnitRecord(ctx, local.Unit)
	if err != nil {
		return true, errors.Trace(err)
	}
	remaining := set.NewStrings(cluster.ParseUnitRecord(local.Unit, fields).RestartRequest...).
		Difference(set.NewStrings(local.RestartRequest...))
	return true, errors.Trace(m.unit.Write(ctx, cluster.NewUnitPatch().SetRestartRequest(remaining.Values())))
}

// Pending reports whether the local unit waits for a restart.
func Pending(snap cluster.Snapshot) bool {
	return len(snap.Local().RestartRequest) > 0
}
