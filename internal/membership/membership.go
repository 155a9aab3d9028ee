// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package membership grows, promotes and shrinks the etcd member set.
//
// Members join as learners, one at a time: the cluster record's
// learning_member field holds the id of the pending learner and no other
// member is added until it is cleared. The joining unit promotes itself
// once its workload is healthy. A unit leaving the cluster removes itself,
// handing raft leadership to another voter first if it holds it.
package membership

import (
	"context"
	"net/url"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/juju/utils/v4"

	"github.com/juju/etcd-coordinator/core/cluster"
	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
)

// Coordinator runs membership operations on behalf of one unit.
type Coordinator struct {
	config Config
	writer *peerbus.LeaderWriter
}

// NewCoordinator returns a Coordinator for the unit owning config.Bus.
func NewCoordinator(config Config) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Coordinator{
		config: config,
		writer: peerbus.NewLeaderWriter(config.Bus, config.Leadership),
	}, nil
}

func (c *Coordinator) observe(ctx context.Context) (cluster.Snapshot, error) {
	snap, err := peerbus.Observe(ctx, c.config.Bus, c.config.Leadership)
	return snap, errors.Trace(err)
}

func (c *Coordinator) withClient(ctx context.Context, opts etcdadmin.DialOpts, fn func(etcdadmin.Client) error) error {
	client, err := c.config.Dialer.Dial(ctx, opts)
	if err != nil {
		return errors.Annotate(err, "dialing etcd")
	}
	defer func() {
		if err := client.Close(); err != nil {
			c.config.Logger.Debugf("closing admin client: %v", err)
		}
	}()
	return fn(client)
}

func notLeader(snap cluster.Snapshot, op string) error {
	return coreerrors.New(coreerrors.NotLeader, "unit %q cannot %s", snap.Self, op)
}

// Bootstrap seeds the cluster record. The first unit becomes the only
// member of a new cluster, and the cluster is marked existing once any
// unit has started. The internal admin password is created here if it
// does not exist yet.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	snap, err := c.observe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !snap.Leader {
		return notLeader(snap, "bootstrap the cluster")
	}

	patch := cluster.NewClusterPatch()
	if snap.Cluster.AdminPassword == "" {
		password, err := utils.RandomPassword()
		if err != nil {
			return errors.Annotate(err, "generating admin password")
		}
		patch.SetAdminPassword(password)
	}
	if len(snap.Cluster.Members) == 0 && snap.Cluster.State == cluster.StateNew {
		local := snap.Local()
		if !local.HasIdentity() {
			return coreerrors.New(coreerrors.MissingUnitData, "unit %q has no member name or address", snap.Self)
		}
		patch.SetMembers(cluster.MemberEntries{}.With(entryFor(local)))
		patch.SetState(cluster.StateNew)
	}
	for _, r := range snap.All() {
		if r.Started {
			patch.SetState(cluster.StateExisting)
			break
		}
	}
	return errors.Trace(c.writer.Write(ctx, patch))
}

// AddMember adds the named unit to the cluster as a learner and records it
// in the cluster record. It returns the new member's id.
//
// The unit must have published its member name and address, otherwise
// MissingUnitData is returned without contacting the cluster. While another
// learner is pending LearnerPending is returned. Adding a unit that is
// already a member only brings the cluster record up to date.
func (c *Coordinator) AddMember(ctx context.Context, unit string) (string, error) {
	snap, err := c.observe(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	if !snap.Leader {
		return "", notLeader(snap, "add members")
	}
	rec, ok := snap.Unit(unit)
	if !ok || !rec.HasIdentity() {
		return "", coreerrors.New(coreerrors.MissingUnitData, "unit %q has no member name or address", unit)
	}
	entry := entryFor(rec)
	learning := snap.Cluster.LearningMember

	var id string
	err = c.withClient(ctx, etcdadmin.DialOptsFor(snap), func(client etcdadmin.Client) error {
		members, err := client.MemberList(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if m, ok := findByPeerHost(members, entry.PeerURL); ok {
			if learning != "" && learning != m.ID {
				return coreerrors.New(coreerrors.LearnerPending, "member %s is still learning", learning)
			}
			c.config.Logger.Debugf("unit %q is already member %s", unit, m.ID)
			id = m.ID
			if !m.IsLearner {
				learning = ""
			} else {
				learning = m.ID
			}
			return nil
		}
		if learning != "" {
			return coreerrors.New(coreerrors.LearnerPending, "member %s is still learning", learning)
		}
		m, err := client.AddLearner(ctx, entry.Name, entry.PeerURL)
		if err != nil {
			return errors.Trace(err)
		}
		c.config.Logger.Infof("added %s as learner %s", entry, m.ID)
		id, learning = m.ID, m.ID
		return nil
	})
	if err != nil {
		return "", errors.Trace(err)
	}

	patch := cluster.NewClusterPatch().
		SetMembers(snap.Cluster.Members.With(entry)).
		SetLearningMember(learning)
	if err := c.writer.Write(ctx, patch); err != nil {
		return "", errors.Trace(err)
	}
	return id, nil
}

// PromoteLearner promotes the pending learner to a voter if the learner is
// the local member. It reports whether the learner is now a voter. The
// local member must pass a health check first; a learner which is not
// healthy, or has not caught up with the leader yet, fails with
// etcdadmin.ErrLearnerNotReady.
//
// The learning_member field is cleared straight away if the local unit is
// the leader; otherwise ReconcileLearner on the leader clears it.
func (c *Coordinator) PromoteLearner(ctx context.Context) (bool, error) {
	snap, err := c.observe(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	id := snap.Cluster.LearningMember
	if id == "" {
		return false, nil
	}
	local := snap.Local()
	if !local.HasIdentity() {
		return false, nil
	}

	opts := etcdadmin.DialOptsFor(snap)
	var found, learner bool
	err = c.withClient(ctx, opts, func(client etcdadmin.Client) error {
		members, err := client.MemberList(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		m, ok := etcdadmin.FindByID(members, id)
		if !ok {
			c.config.Logger.Debugf("learner %s is no longer a member", id)
			return nil
		}
		if m.Name != local.MemberName && !samePeerHost(m.PeerURLs, local.PeerURL()) {
			return nil
		}
		found, learner = true, m.IsLearner
		return nil
	})
	if err != nil || !found {
		return false, errors.Trace(err)
	}

	if learner {
		if !c.IsHealthy(ctx, false) {
			return false, errors.WithType(
				errors.Errorf("learner %s (%s) is not healthy", id, local.MemberName),
				etcdadmin.ErrLearnerNotReady,
			)
		}
		err = c.withClient(ctx, opts, func(client etcdadmin.Client) error {
			err := client.PromoteMember(ctx, id)
			if err != nil && !errors.Is(err, etcdadmin.ErrMemberNotLearner) {
				return errors.Trace(err)
			}
			c.config.Logger.Infof("promoted learner %s (%s)", id, local.MemberName)
			return nil
		})
		if err != nil {
			return false, errors.Trace(err)
		}
	}
	if snap.Leader {
		if err := c.writer.Write(ctx, cluster.NewClusterPatch().SetLearningMember("")); err != nil {
			return true, errors.Trace(err)
		}
	}
	return true, nil
}

// ReconcileLearner clears learning_member once the member it names is a
// voter or has left the cluster. It reports whether the field was cleared.
func (c *Coordinator) ReconcileLearner(ctx context.Context) (bool, error) {
	snap, err := c.observe(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !snap.Leader {
		return false, notLeader(snap, "reconcile the learner")
	}
	id := snap.Cluster.LearningMember
	if id == "" {
		return false, nil
	}
	settled := false
	err = c.withClient(ctx, etcdadmin.DialOptsFor(snap), func(client etcdadmin.Client) error {
		members, err := client.MemberList(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		m, ok := etcdadmin.FindByID(members, id)
		settled = !ok || !m.IsLearner
		return nil
	})
	if err != nil || !settled {
		return false, errors.Trace(err)
	}
	if err := c.writer.Write(ctx, cluster.NewClusterPatch().SetLearningMember("")); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

// PruneMembers drops cluster record entries whose member is no longer part
// of the cluster. It returns the names of the dropped entries.
func (c *Coordinator) PruneMembers(ctx context.Context) ([]string, error) {
	snap, err := c.observe(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !snap.Leader {
		return nil, notLeader(snap, "prune members")
	}
	if len(snap.Cluster.Members) == 0 {
		return nil, nil
	}
	var members []etcdadmin.Member
	err = c.withClient(ctx, etcdadmin.DialOptsFor(snap), func(client etcdadmin.Client) error {
		members, err = client.MemberList(ctx)
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var dropped []string
	kept := snap.Cluster.Members
	for _, e := range snap.Cluster.Members {
		if _, ok := etcdadmin.FindByName(members, e.Name); ok {
			continue
		}
		if _, ok := findByPeerHost(members, e.PeerURL); ok {
			continue
		}
		dropped = append(dropped, e.Name)
		kept = kept.Without(e.Name)
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	c.config.Logger.Infof("dropping departed members %v", dropped)
	if err := c.writer.Write(ctx, cluster.NewClusterPatch().SetMembers(kept)); err != nil {
		return nil, errors.Trace(err)
	}
	return dropped, nil
}

// RemoveMember removes the local member from the cluster, retrying with a
// capped exponential backoff. If the local member leads raft, leadership
// is moved to another voter first. The removal names the local member's
// own id, which can only be resolved while the cluster has quorum.
//
// Once the attempts are exhausted the last failure is returned; the member
// is never removed by other means.
func (c *Coordinator) RemoveMember(ctx context.Context) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return c.removeSelf(ctx)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, coreerrors.MissingUnitData)
		},
		NotifyFunc: func(err error, attempt int) {
			c.config.Logger.Warningf("removing member (attempt %d): %v", attempt, err)
		},
		Attempts:    c.config.RemoveAttempts,
		Delay:       c.config.RemoveDelay,
		MaxDelay:    c.config.RemoveMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.config.Clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	return errors.Trace(err)
}

func (c *Coordinator) removeSelf(ctx context.Context) error {
	snap, err := c.observe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	local := snap.Local()
	if !local.HasIdentity() {
		return coreerrors.New(coreerrors.MissingUnitData, "unit %q has no member name or address", snap.Self)
	}
	opts := etcdadmin.DialOptsFor(snap)
	if !contains(opts.Endpoints, local.ClientURL()) {
		opts.Endpoints = append(opts.Endpoints, local.ClientURL())
	}

	var selfID string
	err = c.withClient(ctx, opts, func(client etcdadmin.Client) error {
		members, err := client.MemberList(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		self, ok := etcdadmin.FindByName(members, local.MemberName)
		if !ok {
			if self, ok = findByPeerHost(members, local.PeerURL()); !ok {
				c.config.Logger.Infof("member %s already removed", local.MemberName)
				return nil
			}
		}
		selfID = self.ID

		leader, err := client.Leader(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if leader == self.ID {
			if next, ok := nextLeader(members, self.ID); ok {
				c.config.Logger.Infof("moving raft leadership from %s to %s", local.MemberName, next.Name)
				if err := client.MoveLeader(ctx, next.ID); err != nil {
					return errors.Trace(err)
				}
			}
		}
		err = client.RemoveMember(ctx, self.ID)
		if errors.Is(err, etcdadmin.ErrMemberNotFound) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return errors.Trace(err)
	}
	c.config.Logger.Infof("removed member %s", local.MemberName)

	if !snap.Leader {
		return nil
	}
	patch := cluster.NewClusterPatch()
	if snap.IsMember(local.MemberName) {
		patch.SetMembers(snap.Cluster.Members.Without(local.MemberName))
	}
	if selfID != "" && snap.Cluster.LearningMember == selfID {
		patch.SetLearningMember("")
	}
	err = c.writer.Write(ctx, patch)
	if errors.Is(err, coreerrors.NotLeader) {
		return nil
	}
	return errors.Trace(err)
}

// IsHealthy checks the local member, or every voter when clusterWide is
// set, a fixed number of times with a fixed delay. Failures are logged and
// reported as false.
func (c *Coordinator) IsHealthy(ctx context.Context, clusterWide bool) bool {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return c.checkHealth(ctx, clusterWide)
		},
		NotifyFunc: func(err error, attempt int) {
			c.config.Logger.Debugf("health check (attempt %d): %v", attempt, err)
		},
		Attempts: c.config.HealthAttempts,
		Delay:    c.config.HealthDelay,
		Clock:    c.config.Clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
			err = retry.LastError(err)
		}
		c.config.Logger.Warningf("health check failed: %v", err)
		return false
	}
	return true
}

func (c *Coordinator) checkHealth(ctx context.Context, clusterWide bool) error {
	snap, err := c.observe(ctx)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.HealthCheckFailed, "observing peers")
	}
	opts := etcdadmin.DialOptsFor(snap)
	if !clusterWide {
		local := snap.Local()
		if local.IP == "" {
			return coreerrors.New(coreerrors.HealthCheckFailed, "unit %q has no address", snap.Self)
		}
		opts.Endpoints = []string{local.ClientURL()}
	}
	if len(opts.Endpoints) == 0 {
		return coreerrors.New(coreerrors.HealthCheckFailed, "no endpoints")
	}
	return c.withClient(ctx, opts, func(client etcdadmin.Client) error {
		return errors.Trace(client.Health(ctx, clusterWide))
	})
}

// EnableAuthentication creates the internal admin user with the stored
// password, grants it the root role and turns authentication on. It is
// safe to call again after a partial failure.
func (c *Coordinator) EnableAuthentication(ctx context.Context) error {
	snap, err := c.observe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !snap.Leader {
		return notLeader(snap, "enable authentication")
	}
	if snap.Cluster.Authentication {
		return nil
	}
	password := snap.Cluster.AdminPassword
	if password == "" {
		return coreerrors.New(coreerrors.MissingUnitData, "no admin password")
	}
	// The etcd client accepts credentials before authentication is on, so
	// a retry after AuthEnable succeeded still gets through.
	opts := etcdadmin.DialOptsFor(snap)
	opts.Username = cluster.InternalUser
	opts.Password = password

	err = c.withClient(ctx, opts, func(client etcdadmin.Client) error {
		err := client.UserAdd(ctx, cluster.InternalUser, password)
		if errors.Is(err, errors.AlreadyExists) {
			err = client.UserChangePassword(ctx, cluster.InternalUser, password)
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := client.UserGrantRole(ctx, cluster.InternalUser, cluster.InternalUser); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(client.AuthEnable(ctx))
	})
	if err != nil {
		return errors.Trace(err)
	}
	c.config.Logger.Infof("authentication enabled")
	return errors.Trace(c.writer.Write(ctx, cluster.NewClusterPatch().SetAuthenticationEnabled()))
}

// UpdateCredentials sets a new password for the internal admin user.
func (c *Coordinator) UpdateCredentials(ctx context.Context, password string) error {
	if password == "" {
		return errors.NotValidf("empty password")
	}
	snap, err := c.observe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !snap.Leader {
		return notLeader(snap, "update credentials")
	}
	if password == snap.Cluster.AdminPassword {
		return nil
	}
	if snap.Cluster.Authentication {
		err := c.withClient(ctx, etcdadmin.DialOptsFor(snap), func(client etcdadmin.Client) error {
			return errors.Trace(client.UserChangePassword(ctx, cluster.InternalUser, password))
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(c.writer.Write(ctx, cluster.NewClusterPatch().SetAdminPassword(password)))
}

// BroadcastPeerURL tells the cluster the local member's current peer URL.
// It is a no-op when the cluster already has it.
func (c *Coordinator) BroadcastPeerURL(ctx context.Context) error {
	snap, err := c.observe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	local := snap.Local()
	if !local.HasIdentity() {
		return coreerrors.New(coreerrors.MissingUnitData, "unit %q has no member name or address", snap.Self)
	}
	peerURL := local.PeerURL()
	return c.withClient(ctx, etcdadmin.DialOptsFor(snap), func(client etcdadmin.Client) error {
		members, err := client.MemberList(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		self, ok := etcdadmin.FindByName(members, local.MemberName)
		if !ok {
			return errors.NotFoundf("member %s", local.MemberName)
		}
		if len(self.PeerURLs) == 1 && self.PeerURLs[0] == peerURL {
			return nil
		}
		c.config.Logger.Infof("broadcasting peer url %s for %s", peerURL, local.MemberName)
		return errors.Trace(client.UpdatePeerURLs(ctx, self.ID, []string{peerURL}))
	})
}

// ClusterMembers returns the live member list.
func (c *Coordinator) ClusterMembers(ctx context.Context) ([]etcdadmin.Member, error) {
	snap, err := c.observe(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var members []etcdadmin.Member
	err = c.withClient(ctx, etcdadmin.DialOptsFor(snap), func(client etcdadmin.Client) error {
		members, err = client.MemberList(ctx)
		return errors.Trace(err)
	})
	return members, errors.Trace(err)
}

// nextLeader picks the voter to hand raft leadership to: the first member
// other than self when ordered by name, descending.
func nextLeader(members []etcdadmin.Member, selfID string) (etcdadmin.Member, bool) {
	var candidates []etcdadmin.Member
	for _, m := range members {
		if m.ID != selfID && !m.IsLearner && m.Name != "" {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return etcdadmin.Member{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Name > candidates[j].Name
	})
	return candidates[0], true
}

func entryFor(r cluster.UnitRecord) cluster.MemberEntry {
	return cluster.MemberEntry{Name: r.MemberName, PeerURL: r.PeerURL()}
}

func findByPeerHost(members []etcdadmin.Member, peerURL string) (etcdadmin.Member, bool) {
	for _, m := range members {
		if samePeerHost(m.PeerURLs, peerURL) {
			return m, true
		}
	}
	return etcdadmin.Member{}, false
}

// samePeerHost reports whether any of urls names the host and port of
// peerURL, whatever the scheme.
func samePeerHost(urls []string, peerURL string) bool {
	want := hostOf(peerURL)
	for _, u := range urls {
		if hostOf(u) == want {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
