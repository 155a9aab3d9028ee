// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package coordinator runs the event loop of one etcd unit. Events come
// from peer bus changes, from the outside world (certificates, client
// relations, removal) and from a periodic status tick. They are handled
// one at a time; an event whose preconditions do not hold yet is queued
// and delivered again before every later event.
package coordinator

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/etcd-coordinator/core/cluster"
	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/core/status"
	"github.com/juju/etcd-coordinator/internal/carotation"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
	"github.com/juju/etcd-coordinator/internal/etcdconfig"
	"github.com/juju/etcd-coordinator/internal/tlslink"
)

// Worker coordinates the local unit with its peers.
type Worker struct {
	catacomb catacomb.Catacomb

	config Config
	unit   *peerbus.UnitWriter

	units          set.Strings
	wasLeader      bool
	learnerPending bool
	removed        bool
	current        status.Level
}

// NewWorker starts a coordinator worker.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config: config,
		unit:   peerbus.NewUnitWriter(config.Bus),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}

func (w *Worker) loop() error {
	ctx, cancel := w.scopedContext()
	defer cancel()

	if err := w.config.Bus.Join(ctx); err != nil {
		return errors.Annotate(err, "joining peer bus")
	}
	watcher, err := w.config.Bus.Watch(ctx)
	if err != nil {
		return errors.Annotate(err, "watching peer bus")
	}
	if err := w.catacomb.Add(watcher); err != nil {
		return errors.Trace(err)
	}
	if err := w.config.Workload.Install(ctx); err != nil {
		w.setStatus(status.ServiceNotInstalled)
		return errors.Annotate(err, "installing workload")
	}

	timer := w.config.Clock.NewTimer(w.config.UpdateStatusInterval)
	defer timer.Stop()

	if err := w.dispatch(ctx, event.Event{Kind: event.Start}); err != nil {
		return errors.Trace(err)
	}
	events := w.config.Events
	for !w.removed {
		var err error
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case _, ok := <-watcher.Changes():
			if !ok {
				return errors.New("peer bus watcher closed")
			}
			err = w.peersChanged(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			err = w.dispatch(ctx, ev)
		case <-w.config.Emitted:
			err = w.redeliver(ctx)
		case <-timer.Chan():
			err = w.dispatch(ctx, event.Event{Kind: event.UpdateStatus})
			timer.Reset(w.config.UpdateStatusInterval)
		}
		if err != nil {
			return errors.Trace(err)
		}
	}
	w.config.Logger.Infof("unit %s left the cluster", w.config.Bus.Unit())
	return nil
}

// peersChanged raises the events implied by a change on the bus: leader
// election, departed units and the change itself.
func (w *Worker) peersChanged(ctx context.Context) error {
	snap, err := w.observe(ctx)
	if err != nil {
		w.config.Logger.Warningf("observing peers: %v", err)
		return nil
	}
	var raised []event.Event
	if snap.Leader && !w.wasLeader {
		raised = append(raised, event.Event{Kind: event.LeaderElected})
	}
	w.wasLeader = snap.Leader

	units := set.NewStrings()
	for name := range snap.Units {
		units.Add(name)
	}
	if w.units != nil {
		for _, gone := range w.units.Difference(units).SortedValues() {
			raised = append(raised, event.Event{Kind: event.PeerDeparted, Unit: gone})
		}
	}
	w.units = units

	raised = append(raised, event.Event{Kind: event.PeerChanged})
	for _, ev := range raised {
		if err := w.dispatch(ctx, ev); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// dispatch delivers every queued event again, then ev.
func (w *Worker) dispatch(ctx context.Context, ev event.Event) error {
	if err := w.redeliver(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.deliver(ctx, ev))
}

func (w *Worker) redeliver(ctx context.Context) error {
	pending, err := w.config.Queue.Pending()
	if err != nil {
		return errors.Annotate(err, "reading deferred events")
	}
	for _, ev := range pending {
		if w.removed {
			return nil
		}
		if err := w.deliver(ctx, ev); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// deliver handles ev and queues it when it is deferred. Handler failures
// are logged; only failures of the queue itself stop the worker.
func (w *Worker) deliver(ctx context.Context, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		w.config.Logger.Errorf("dropping event: %v", err)
		return errors.Trace(w.config.Queue.Remove(ev.Key()))
	}
	result, err := w.handle(ctx, ev)
	if err != nil {
		w.config.Logger.Errorf("handling %s: %v", ev, err)
	}
	w.config.Metrics.observeEvent(string(ev.Kind), result.String())
	if result == event.Deferred {
		w.config.Logger.Debugf("deferring %s", ev)
		err = w.config.Queue.Defer(ev)
	} else {
		err = w.config.Queue.Remove(ev.Key())
	}
	if err != nil {
		return errors.Annotatef(err, "updating deferred %s", ev)
	}
	if n, err := w.config.Queue.Len(); err == nil {
		w.config.Metrics.setDeferred(n)
	}
	return nil
}

func (w *Worker) observe(ctx context.Context) (cluster.Snapshot, error) {
	snap, err := peerbus.Observe(ctx, w.config.Bus, w.config.Leadership)
	if err != nil {
		return cluster.Snapshot{}, errors.Trace(err)
	}
	w.config.Metrics.observeLocal(snap.Local())
	return snap, nil
}

func (w *Worker) handle(ctx context.Context, ev event.Event) (event.Result, error) {
	snap, err := w.observe(ctx)
	if err != nil {
		return event.Deferred, errors.Annotate(err, "observing peers")
	}
	switch ev.Kind {
	case event.Start:
		return w.start(ctx, snap)
	case event.PeerChanged:
		return w.peerChanged(ctx, snap)
	case event.PeerDeparted:
		return w.peerDeparted(ctx, snap, ev.Unit)
	case event.LeaderElected:
		return w.leaderElected(ctx, snap)
	case event.UpdateStatus:
		return w.updateStatus(ctx, snap)
	case event.Remove:
		return w.remove(ctx, snap)
	case event.TLSRelationCreated:
		return w.config.TLS.Created(ctx, snap, ev.Link)
	case event.TLSRelationBroken:
		return w.config.TLS.Broken(ctx, snap, ev.Link)
	case event.CertificateAvailable, event.CAChanged:
		result, err := w.config.TLS.CertificateAvailable(ctx, snap, ev.Link)
		if errors.Is(err, tlslink.ErrInvalidPrivateKey) {
			w.setStatus(status.TLSInvalidKey)
		}
		return result, err
	case event.CleanCA:
		return w.config.Rotation.CleanCA(ctx, snap, ev.Link)
	case event.ClientRelationUpdated:
		result, err := w.config.Clients.Updated(ctx, snap, ev.RelationID)
		if result == event.Deferred && snap.Local().TLSState(cluster.Client) != cluster.TLS {
			w.setStatus(status.TLSNotEnabledClient)
		}
		return result, err
	case event.ClientRelationBroken:
		return w.config.Clients.Broken(ctx, snap, ev.RelationID)
	}
	return event.Handled, errors.NotValidf("event kind %q", string(ev.Kind))
}

// start publishes the unit's identity and starts the workload once the
// unit is a member of the cluster record. It stays deferred until then.
func (w *Worker) start(ctx context.Context, snap cluster.Snapshot) (event.Result, error) {
	local := snap.Local()
	if !local.HasIdentity() {
		memberName, err := cluster.MemberName(snap.Self)
		if err != nil {
			return event.Handled, errors.Trace(err)
		}
		patch := cluster.NewUnitPatch().SetIdentity(memberName, w.config.Hostname, w.config.Address)
		if err := w.unit.Write(ctx, patch); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		if snap, err = w.observe(ctx); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		local = snap.Local()
	}

	if local.Started {
		if w.config.Workload.Alive(ctx) {
			return event.Handled, nil
		}
		w.config.Logger.Infof("workload not running, starting it again")
		return w.startWorkload(ctx, snap)
	}

	if snap.Leader {
		err := w.config.Membership.Bootstrap(ctx)
		w.config.Metrics.observeMembership("bootstrap", err)
		if err != nil {
			return event.Deferred, errors.Trace(err)
		}
		if snap, err = w.observe(ctx); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		if !snap.IsMember(local.MemberName) && anyStarted(snap) {
			// A leader elected among joining units adds itself.
			if _, err := w.addMember(ctx, snap.Self); err != nil {
				w.setStatus(status.ClusterNotJoined)
				return event.Deferred, errors.Trace(err)
			}
			if snap, err = w.observe(ctx); err != nil {
				return event.Deferred, errors.Trace(err)
			}
		}
	}
	if !snap.IsMember(local.MemberName) {
		w.setStatus(status.ClusterNotJoined)
		return event.Deferred, nil
	}
	return w.startWorkload(ctx, snap)
}

func (w *Worker) startWorkload(ctx context.Context, snap cluster.Snapshot) (event.Result, error) {
	if _, err := w.writeConfig(snap); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	if err := w.config.Workload.Start(ctx); err != nil {
		w.setStatus(status.ServiceNotRunning)
		return event.Deferred, errors.Annotate(err, "starting workload")
	}
	if !snap.Local().Started {
		if err := w.unit.Write(ctx, cluster.NewUnitPatch().SetStarted()); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		w.config.Logger.Infof("started member %s", snap.Local().MemberName)
	}

	snap, err := w.observe(ctx)
	if err != nil {
		return event.Handled, errors.Trace(err)
	}
	if snap.Leader {
		w.leaderDuties(ctx, snap)
	}
	w.promote(ctx)
	w.reportStatus(ctx, snap, false)
	return event.Handled, nil
}

func (w *Worker) writeConfig(snap cluster.Snapshot) (bool, error) {
	cfg, err := etcdconfig.Build(snap, w.config.EtcdParams)
	if err != nil {
		return false, errors.Annotate(err, "building etcd config")
	}
	changed, err := etcdconfig.Write(w.config.EtcdConfigFile, cfg)
	if err != nil {
		return false, errors.Trace(err)
	}
	if changed {
		w.config.Logger.Debugf("etcd config %q updated", w.config.EtcdConfigFile)
	}
	return changed, nil
}

// peerChanged keeps the cluster moving: the leader admits the next unit,
// settles learners and hands out the restart lock, and the unit holding
// the lock restarts.
func (w *Worker) peerChanged(ctx context.Context, snap cluster.Snapshot) (event.Result, error) {
	if snap.Leader {
		w.leaderDuties(ctx, snap)
		var err error
		if snap, err = w.observe(ctx); err != nil {
			return event.Handled, errors.Trace(err)
		}
	}
	ran, err := w.config.Restarts.Run(ctx, snap, w.restart)
	if err != nil {
		w.config.Logger.Errorf("rolling restart: %v", err)
	} else if ran {
		w.config.Logger.Infof("restart complete")
	}

	local := snap.Local()
	if local.Started && snap.Cluster.LearningMember != "" {
		w.promote(ctx)
	}
	if local.Started {
		if _, err := w.config.Clients.SyncTrust(ctx, snap); err != nil {
			w.config.Logger.Warningf("syncing client trust: %v", err)
		}
	}
	return event.Handled, nil
}

// leaderDuties runs the leader's share of every change. Failures are
// logged and retried on the next change.
func (w *Worker) leaderDuties(ctx context.Context, snap cluster.Snapshot) {
	err := w.config.Membership.Bootstrap(ctx)
	w.config.Metrics.observeMembership("bootstrap", err)
	if err != nil {
		w.config.Logger.Warningf("bootstrapping cluster record: %v", err)
	}
	if _, err := w.config.Restarts.Grant(ctx, snap); err != nil {
		w.config.Logger.Warningf("granting restart lock: %v", err)
	}
	if !anyStarted(snap) {
		return
	}
	w.admitNext(ctx, snap)
	if snap.Local().Started && !snap.Cluster.Authentication {
		err := w.config.Membership.EnableAuthentication(ctx)
		w.config.Metrics.observeMembership("enable-authentication", err)
		if err != nil {
			w.config.Logger.Errorf("enabling authentication: %v", err)
			w.setStatus(status.AuthenticationNotEnabled)
		}
	}
}

// admitNext settles the pending learner, or adds the next unit waiting to
// join as a learner. Only one learner is ever pending.
func (w *Worker) admitNext(ctx context.Context, snap cluster.Snapshot) {
	if snap.Cluster.LearningMember != "" {
		settled, err := w.config.Membership.ReconcileLearner(ctx)
		w.config.Metrics.observeMembership("reconcile-learner", err)
		if err != nil {
			w.config.Logger.Warningf("reconciling learner: %v", err)
		} else if settled {
			w.config.Logger.Infof("learner %s settled", snap.Cluster.LearningMember)
		}
		return
	}
	for _, peer := range snap.Peers() {
		if !peer.HasIdentity() || peer.Departing || snap.IsMember(peer.MemberName) {
			continue
		}
		if _, err := w.addMember(ctx, peer.Unit); err != nil && !errors.Is(err, coreerrors.LearnerPending) {
			w.config.Logger.Warningf("adding %s: %v", peer.Unit, err)
		}
		return
	}
}

func (w *Worker) addMember(ctx context.Context, unit string) (string, error) {
	id, err := w.config.Membership.AddMember(ctx, unit)
	w.config.Metrics.observeMembership("add-member", err)
	if err == nil {
		w.config.Logger.Infof("unit %s joining as learner %s", unit, id)
	}
	return id, errors.Trace(err)
}

// promote asks the cluster to make the local learner a voter.
func (w *Worker) promote(ctx context.Context) {
	promoted, err := w.config.Membership.PromoteLearner(ctx)
	w.config.Metrics.observeMembership("promote-learner", err)
	switch {
	case errors.Is(err, etcdadmin.ErrLearnerNotReady):
		w.config.Logger.Debugf("learner not ready for promotion: %v", err)
		w.learnerPending = true
	case err != nil:
		w.config.Logger.Warningf("promoting learner: %v", err)
	case promoted:
		w.learnerPending = false
	}
}

// restart is run while the unit holds the restart lock. Old CAs are
// pruned and links switched before the configuration is rewritten, so
// that the single workload restart picks up every pending change. The
// peer URL is broadcast only once the workload serves it.
func (w *Worker) restart(ctx context.Context, reasons []string) error {
	snap, err := w.observe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if set.NewStrings(reasons...).Contains(carotation.ReasonCleanCAs) {
		if err := w.config.Rotation.Cleanup(ctx, snap, nil); err != nil {
			return errors.Trace(err)
		}
	}
	switched, err := w.config.TLS.PrepareRestart(ctx, snap)
	if err != nil {
		return errors.Trace(err)
	}
	if len(switched) > 0 {
		w.config.Logger.Infof("switching %v to TLS", switched)
	}
	if snap, err = w.observe(ctx); err != nil {
		return errors.Trace(err)
	}
	if _, err := w.writeConfig(snap); err != nil {
		return errors.Trace(err)
	}
	if !snap.Local().Started {
		w.config.Logger.Debugf("workload not started, nothing to restart")
		return nil
	}
	if err := w.config.Workload.Restart(ctx); err != nil {
		w.setStatus(status.ServiceNotRunning)
		return errors.Annotate(err, "restarting workload")
	}
	w.config.Metrics.observeRestart()

	if err := w.config.Rotation.AfterRestart(ctx, snap); err != nil {
		return errors.Trace(err)
	}
	err = w.config.Membership.BroadcastPeerURL(ctx)
	w.config.Metrics.observeMembership("broadcast-peer-url", err)
	if err != nil {
		w.config.Logger.Warningf("broadcasting peer url: %v", err)
	}
	if !w.config.Membership.IsHealthy(ctx, false) {
		w.setStatus(status.HealthCheckFailed)
	}
	return nil
}

func (w *Worker) peerDeparted(ctx context.Context, snap cluster.Snapshot, unit string) (event.Result, error) {
	w.config.Logger.Infof("unit %s departed", unit)
	if !snap.Leader {
		return event.Handled, nil
	}
	w.prune(ctx, snap)
	w.leaderDuties(ctx, snap)
	return event.Handled, nil
}

func (w *Worker) prune(ctx context.Context, snap cluster.Snapshot) {
	if !anyStarted(snap) {
		return
	}
	dropped, err := w.config.Membership.PruneMembers(ctx)
	w.config.Metrics.observeMembership("prune-members", err)
	if err != nil {
		w.config.Logger.Warningf("pruning members: %v", err)
	} else if len(dropped) > 0 {
		w.config.Logger.Infof("pruned departed members %v", dropped)
	}
}

func (w *Worker) leaderElected(ctx context.Context, snap cluster.Snapshot) (event.Result, error) {
	if !snap.Leader {
		return event.Handled, nil
	}
	w.config.Logger.Infof("unit %s is the leader", snap.Self)
	w.leaderDuties(ctx, snap)
	return event.Handled, nil
}

func (w *Worker) updateStatus(ctx context.Context, snap cluster.Snapshot) (event.Result, error) {
	if snap.Leader {
		w.prune(ctx, snap)
		w.leaderDuties(ctx, snap)
	}
	if snap.Local().Started && snap.Cluster.LearningMember != "" {
		w.promote(ctx)
	}
	w.reportStatus(ctx, snap, true)
	return event.Handled, nil
}

// remove takes the unit out of the cluster. If the member cannot be
// removed the event stays queued and the failure is surfaced.
func (w *Worker) remove(ctx context.Context, snap cluster.Snapshot) (event.Result, error) {
	local := snap.Local()
	if err := w.unit.Write(ctx, cluster.NewUnitPatch().SetDeparting(true)); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	if local.Started {
		err := w.config.Membership.RemoveMember(ctx)
		w.config.Metrics.observeMembership("remove-member", err)
		if err != nil {
			w.setStatus(status.MemberRemovalFailed)
			return event.Deferred, errors.Annotate(err, "removing member")
		}
		if err := w.config.Workload.Stop(ctx); err != nil {
			w.config.Logger.Warningf("stopping workload: %v", err)
		}
	}
	if err := w.config.Bus.Leave(ctx); err != nil {
		return event.Deferred, errors.Annotate(err, "leaving peer bus")
	}
	w.removed = true
	return event.Handled, nil
}

var (
	enabling = map[cluster.LinkType]status.Level{
		cluster.Peer:   status.EnablingPeerTLS,
		cluster.Client: status.EnablingClientTLS,
	}
	disabling = map[cluster.LinkType]status.Level{
		cluster.Peer:   status.DisablingPeerTLS,
		cluster.Client: status.DisablingClientTLS,
	}
	rotating = map[cluster.LinkType]status.Level{
		cluster.Peer:   status.RotatingPeerCA,
		cluster.Client: status.RotatingClientCA,
	}
)

// reportStatus sets the status summarising the unit. The cluster wide
// health check runs only when checkHealth is set.
func (w *Worker) reportStatus(ctx context.Context, snap cluster.Snapshot, checkHealth bool) {
	w.setStatus(w.assess(ctx, snap, checkHealth))
}

func (w *Worker) assess(ctx context.Context, snap cluster.Snapshot, checkHealth bool) status.Level {
	local := snap.Local()
	if !local.Started {
		return status.ClusterNotJoined
	}
	if !w.config.Workload.Alive(ctx) {
		return status.ServiceNotRunning
	}
	if w.learnerPending {
		return status.LearnerNotPromoted
	}
	for _, link := range cluster.Links {
		switch local.TLSState(link) {
		case cluster.ToTLS:
			return enabling[link]
		case cluster.ToNoTLS:
			return disabling[link]
		}
		if local.Rotation(link) != cluster.NoRotation {
			return rotating[link]
		}
	}
	if len(local.RestartRequest) > 0 {
		return status.RestartPending
	}
	if checkHealth && !w.config.Membership.IsHealthy(ctx, true) {
		return status.ClusterNotHealthy
	}
	return status.Ready
}

func (w *Worker) setStatus(level status.Level) {
	if level == w.current {
		return
	}
	w.current = level
	if level.Message != "" {
		w.config.Logger.Logf(level.LogLevel, "status %s: %s", level.Status, level.Message)
	} else {
		w.config.Logger.Logf(level.LogLevel, "status %s", level.Status)
	}
	if err := w.config.Status.SetStatus(level.Info(w.config.Clock.Now())); err != nil {
		w.config.Logger.Warningf("setting status: %v", err)
	}
}

func anyStarted(snap cluster.Snapshot) bool {
	for _, r := range snap.All() {
		if r.Started {
			return true
		}
	}
	return false
}
