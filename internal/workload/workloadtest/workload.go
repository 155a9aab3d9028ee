// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workloadtest provides a Workload that runs a member of a fake
// etcd cluster from the unit's rendered configuration.
package workloadtest

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/etcdadmin/etcdadmintest"
	"github.com/juju/etcd-coordinator/internal/etcdconfig"
	"github.com/juju/etcd-coordinator/internal/workload"
)

// Workload starts and stops a member of an etcdadmintest.Cluster.
type Workload struct {
	cluster    *etcdadmintest.Cluster
	configPath string

	mu       sync.Mutex
	running  string
	starts   int
	restarts int
	started  []etcdconfig.Config
}

var _ workload.Workload = (*Workload)(nil)

// New returns a Workload reading its configuration from configPath.
func New(c *etcdadmintest.Cluster, configPath string) *Workload {
	return &Workload{cluster: c, configPath: configPath}
}

func (w *Workload) start() error {
	cfg, err := etcdconfig.Read(w.configPath)
	if err != nil {
		return errors.Trace(err)
	}
	if err := w.cluster.StartMember(
		cfg.Name,
		cfg.InitialAdvertisePeerURLs,
		cfg.AdvertiseClientURLs,
		cluster.State(cfg.InitialClusterState),
	); err != nil {
		return errors.Trace(err)
	}
	w.running = cfg.Name
	w.started = append(w.started, cfg)
	return nil
}

// Install implements workload.Workload.
func (w *Workload) Install(context.Context) error {
	return nil
}

// Start implements workload.Workload.
func (w *Workload) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	return w.start()
}

// Stop implements workload.Workload.
func (w *Workload) Stop(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running != "" {
		w.cluster.StopMember(w.running)
		w.running = ""
	}
	return nil
}

// Restart implements workload.Workload.
func (w *Workload) Restart(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restarts++
	if w.running != "" {
		w.cluster.StopMember(w.running)
		w.running = ""
	}
	return w.start()
}

// Alive implements workload.Workload.
func (w *Workload) Alive(context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running != ""
}

// Starts returns how many times Start was called.
func (w *Workload) Starts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.starts
}

// Restarts returns how many times Restart was called.
func (w *Workload) Restarts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restarts
}

// LastConfig returns the configuration the member last started with.
func (w *Workload) LastConfig() (etcdconfig.Config, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.started) == 0 {
		return etcdconfig.Config{}, false
	}
	return w.started[len(w.started)-1], true
}
