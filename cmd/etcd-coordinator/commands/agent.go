// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/internal/carotation"
	"github.com/juju/etcd-coordinator/internal/certdir"
	"github.com/juju/etcd-coordinator/internal/config"
	"github.com/juju/etcd-coordinator/internal/deferred"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
	"github.com/juju/etcd-coordinator/internal/etcdconfig"
	"github.com/juju/etcd-coordinator/internal/externalclients"
	"github.com/juju/etcd-coordinator/internal/membership"
	"github.com/juju/etcd-coordinator/internal/rollingops"
	"github.com/juju/etcd-coordinator/internal/tlslink"
	"github.com/juju/etcd-coordinator/internal/truststore"
	"github.com/juju/etcd-coordinator/internal/worker/coordinator"
	"github.com/juju/etcd-coordinator/internal/worker/leasekeeper"
	"github.com/juju/etcd-coordinator/internal/workload"
)

// agentParams holds what an agent is assembled from.
type agentParams struct {
	Config   config.Config
	Hostname string
	Bus      PeerBus
	Dialer   etcdadmin.Dialer
	Workload workload.Workload
}

// agent runs the coordinator of one unit along with the certificate
// directory watcher feeding it events and the metrics server.
type agent struct {
	catacomb catacomb.Catacomb

	queue   deferred.Queue
	watcher *certdir.Watcher
	worker  *coordinator.Worker
	keeper  *leasekeeper.Keeper
	metrics *metricsServer

	// initial holds events to deliver before any from the watcher.
	initial []event.Event
	events  chan event.Event
	done    chan error
}

func newAgent(ctx context.Context, p agentParams) (_ *agent, err error) {
	cfg := p.Config
	for _, dir := range []string{cfg.DataDir, cfg.StateDir, filepath.Dir(cfg.EtcdConfigFile)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Annotatef(err, "creating %s", dir)
		}
	}
	a := &agent{
		events: make(chan event.Event),
		done:   make(chan error, 1),
	}
	var cleanup []worker.Worker
	defer func() {
		if err == nil {
			return
		}
		for _, w := range cleanup {
			w.Kill()
			_ = w.Wait()
		}
		if a.queue != nil {
			_ = a.queue.Close()
		}
	}()

	store, err := truststore.New(cfg.TLSDir, loggo.GetLogger("etcd.truststore"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	relations, err := certdir.New(cfg.CertificateDir, loggo.GetLogger("etcd.certdir"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !relations.Joined() {
		units, err := p.Bus.Units(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if registered(units, cfg.Unit) {
			// Asked to leave while the agent was not running.
			a.initial = append(a.initial, event.Event{Kind: event.Remove})
		} else if err := relations.Join(); err != nil {
			return nil, errors.Annotate(err, "joining cluster")
		}
	}
	privateKeys, err := cfg.PrivateKeys()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if a.queue, err = deferred.OpenBoltQueue(cfg.DeferredQueuePath()); err != nil {
		return nil, errors.Trace(err)
	}

	rolling, err := rollingops.NewManager(rollingops.Config{
		Bus:        p.Bus,
		Leadership: p.Bus,
		Logger:     loggo.GetLogger("etcd.rollingops"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	rotation, err := carotation.NewProtocol(carotation.Config{
		Bus:       p.Bus,
		Store:     store,
		Restarter: rolling,
		Logger:    loggo.GetLogger("etcd.carotation"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	emitter := coordinator.NewQueueEmitter(a.queue)
	links, err := tlslink.NewMachine(tlslink.Config{
		Bus:         p.Bus,
		Store:       store,
		Authority:   relations,
		Rotation:    rotation,
		Restarter:   rolling,
		Emitter:     emitter,
		Logger:      loggo.GetLogger("etcd.tlslink"),
		Model:       cfg.Model,
		PrivateKeys: privateKeys,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	members, err := membership.NewCoordinator(membershipConfig(
		cfg, p.Bus, p.Bus, p.Dialer, loggo.GetLogger("etcd.membership"),
	))
	if err != nil {
		return nil, errors.Trace(err)
	}
	clients, err := externalclients.NewManager(externalclients.Config{
		Bus:        p.Bus,
		Leadership: p.Bus,
		Dialer:     p.Dialer,
		Relations:  relations,
		Store:      store,
		Restarter:  rolling,
		Logger:     loggo.GetLogger("etcd.externalclients"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	collector := coordinator.NewMetricsCollector()
	registry, err := newRegistry(collector)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if a.metrics, err = newMetricsServer(cfg.MetricsAddress, registry); err != nil {
		return nil, errors.Trace(err)
	}
	cleanup = append(cleanup, a.metrics)

	if a.keeper, err = leasekeeper.NewKeeper(leasekeeper.Config{
		Leadership: p.Bus,
		Clock:      clock.WallClock,
		Logger:     loggo.GetLogger("etcd.leasekeeper"),
		Interval:   cfg.Redis.LeaseTTL / 3,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	cleanup = append(cleanup, a.keeper)

	if a.watcher, err = relations.Watch(); err != nil {
		return nil, errors.Trace(err)
	}
	cleanup = append(cleanup, a.watcher)

	a.worker, err = coordinator.NewWorker(coordinator.Config{
		Bus:        p.Bus,
		Leadership: p.Bus,
		Membership: members,
		TLS:        links,
		Rotation:   rotation,
		Restarts:   rolling,
		Clients:    clients,
		Workload:   p.Workload,
		Queue:      a.queue,
		Status:     coordinator.NewStatusFile(cfg.StatusFilePath()),
		Metrics:    collector,
		Clock:      clock.WallClock,
		Logger:     loggo.GetLogger("etcd.coordinator"),
		Events:     a.events,
		Emitted:    emitter.Emitted(),
		Hostname:   p.Hostname,
		Address:    cfg.Address,

		EtcdConfigFile: cfg.EtcdConfigFile,
		EtcdParams: etcdconfig.Params{
			DataDir:  cfg.DataDir,
			LogLevel: cfg.EtcdLogLevel,
			Paths: map[cluster.LinkType]truststore.Paths{
				cluster.Peer:   store.Paths(cluster.Peer),
				cluster.Client: store.Paths(cluster.Client),
			},
		},
		UpdateStatusInterval: cfg.UpdateStatusInterval,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	cleanup = append(cleanup, a.worker)

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &a.catacomb,
		Work: a.loop,
		Init: []worker.Worker{a.metrics, a.keeper, a.watcher, a.worker},
	}); err != nil {
		return nil, errors.Trace(err)
	}
	go func() {
		a.done <- a.worker.Wait()
	}()
	return a, nil
}

func registered(units []string, unit string) bool {
	for _, u := range units {
		if u == unit {
			return true
		}
	}
	return false
}

// Kill is part of worker.Worker.
func (a *agent) Kill() {
	a.catacomb.Kill(nil)
}

// Wait is part of worker.Worker.
func (a *agent) Wait() error {
	err := a.catacomb.Wait()
	if closeErr := a.queue.Close(); closeErr != nil && err == nil {
		err = errors.Annotate(closeErr, "closing deferred queue")
	}
	return err
}

// loop forwards directory events to the coordinator until it finishes.
func (a *agent) loop() error {
	pending := a.initial
	for {
		var (
			out  chan<- event.Event
			next event.Event
		)
		if len(pending) > 0 {
			out, next = a.events, pending[0]
		}
		select {
		case <-a.catacomb.Dying():
			return a.catacomb.ErrDying()
		case ev := <-a.watcher.Events():
			pending = append(pending, ev)
		case out <- next:
			pending = pending[1:]
		case err := <-a.done:
			return errors.Trace(err)
		}
	}
}
