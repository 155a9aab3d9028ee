// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package memory provides an in-process peer bus shared by several units.
// It backs the scenario tests and single host runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/etcd-coordinator/core/cluster"
	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/core/peerbus"
)

const changedTopic = "peerbus.changed"

// Hub holds the application and unit records for every unit using it.
type Hub struct {
	mu     sync.Mutex
	app    map[string]string
	units  map[string]map[string]string
	leader string
	hub    *pubsub.SimpleHub
	writes int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		app:   make(map[string]string),
		units: make(map[string]map[string]string),
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("etcd.peerbus.memory"),
		}),
	}
}

// Bus returns the handle for the named unit.
func (h *Hub) Bus(unit string) *Bus {
	return &Bus{hub: h, unit: unit}
}

// SetLeader makes unit the elected leader. An empty name leaves the
// application without a leader.
func (h *Hub) SetLeader(unit string) {
	h.mu.Lock()
	h.leader = unit
	h.mu.Unlock()
	h.notify()
}

// Leader returns the current leader.
func (h *Hub) Leader() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leader
}

// Writes returns the number of writes that changed any record.
func (h *Hub) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

func (h *Hub) notify() {
	h.hub.Publish(changedTopic, nil)
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Bus is one unit's view of a Hub.
type Bus struct {
	hub  *Hub
	unit string
}

var _ peerbus.Bus = (*Bus)(nil)
var _ peerbus.Leadership = (*Bus)(nil)

// Unit is part of peerbus.Bus.
func (b *Bus) Unit() string {
	return b.unit
}

// Join is part of peerbus.Bus.
func (b *Bus) Join(_ context.Context) error {
	b.hub.mu.Lock()
	_, ok := b.hub.units[b.unit]
	if !ok {
		b.hub.units[b.unit] = make(map[string]string)
		b.hub.writes++
	}
	b.hub.mu.Unlock()
	if !ok {
		b.hub.notify()
	}
	return nil
}

// Leave is part of peerbus.Bus.
func (b *Bus) Leave(_ context.Context) error {
	b.hub.mu.Lock()
	delete(b.hub.units, b.unit)
	b.hub.writes++
	b.hub.mu.Unlock()
	b.hub.notify()
	return nil
}

// Units is part of peerbus.Bus.
func (b *Bus) Units(_ context.Context) ([]string, error) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	units := make([]string, 0, len(b.hub.units))
	for unit := range b.hub.units {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units, nil
}

// UnitRecord is part of peerbus.Bus.
func (b *Bus) UnitRecord(_ context.Context, unit string) (map[string]string, error) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	fields, ok := b.hub.units[unit]
	if !ok {
		return nil, errors.NotFoundf("unit %q", unit)
	}
	return copyFields(fields), nil
}

// SetUnitRecord is part of peerbus.Bus.
func (b *Bus) SetUnitRecord(_ context.Context, fields map[string]string) error {
	b.hub.mu.Lock()
	record, ok := b.hub.units[b.unit]
	if !ok {
		b.hub.mu.Unlock()
		return errors.NotFoundf("unit %q", b.unit)
	}
	changed := cluster.Merge(record, fields)
	if changed {
		b.hub.writes++
	}
	b.hub.mu.Unlock()
	if changed {
		b.hub.notify()
	}
	return nil
}

// ClusterRecord is part of peerbus.Bus.
func (b *Bus) ClusterRecord(_ context.Context) (map[string]string, error) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	return copyFields(b.hub.app), nil
}

// SetClusterRecord is part of peerbus.Bus.
func (b *Bus) SetClusterRecord(_ context.Context, fields map[string]string) error {
	b.hub.mu.Lock()
	if b.hub.leader != b.unit {
		b.hub.mu.Unlock()
		return coreerrors.New(coreerrors.NotLeader, "unit %q cannot write the cluster record", b.unit)
	}
	changed := cluster.Merge(b.hub.app, fields)
	if changed {
		b.hub.writes++
	}
	b.hub.mu.Unlock()
	if changed {
		b.hub.notify()
	}
	return nil
}

// IsLeader is part of peerbus.Leadership.
func (b *Bus) IsLeader(_ context.Context) (bool, error) {
	return b.hub.Leader() == b.unit, nil
}

// Leader is part of peerbus.LeaderReader.
func (b *Bus) Leader(_ context.Context) (string, error) {
	return b.hub.Leader(), nil
}

// Watch is part of peerbus.Bus.
func (b *Bus) Watch(_ context.Context) (peerbus.Watcher, error) {
	w := &watcher{
		changes: make(chan struct{}, 1),
	}
	w.changes <- struct{}{}
	w.unsubscribe = b.hub.hub.Subscribe(changedTopic, func(string, interface{}) {
		select {
		case w.changes <- struct{}{}:
		default:
		}
	})
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		w.unsubscribe()
		return nil, errors.Trace(err)
	}
	return w, nil
}

type watcher struct {
	catacomb    catacomb.Catacomb
	changes     chan struct{}
	unsubscribe func()
}

func (w *watcher) loop() error {
	defer w.unsubscribe()
	<-w.catacomb.Dying()
	return w.catacomb.ErrDying()
}

// Changes is part of peerbus.Watcher.
func (w *watcher) Changes() <-chan struct{} {
	return w.changes
}

// Kill is part of the worker.Worker interface.
func (w *watcher) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *watcher) Wait() error {
	return w.catacomb.Wait()
}
