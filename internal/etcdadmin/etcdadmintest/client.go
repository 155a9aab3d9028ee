// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package etcdadmintest

import (
	"context"

	"github.com/juju/errors"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/juju/etcd-coordinator/core/cluster"
	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
)

// Client is an admin client dialled against a fake Cluster.
type Client struct {
	cluster *Cluster
	opts    etcdadmin.DialOpts
	closed  bool
}

var _ etcdadmin.Client = (*Client)(nil)

// Opts returns the options the client was dialled with.
func (cl *Client) Opts() etcdadmin.DialOpts {
	return cl.opts
}

// enter records the call and returns the error the call must fail with,
// if any. The cluster lock must be held.
func (cl *Client) enter(method string, errType errors.ConstError, needQuorum bool) error {
	c := cl.cluster
	c.calls[method]++
	if queued := c.failNext[method]; len(queued) > 0 {
		c.failNext[method] = queued[1:]
		return coreerrors.Wrap(queued[0], errType, "%s", method)
	}
	if err := c.errs[method]; err != nil {
		return coreerrors.Wrap(err, errType, "%s", method)
	}
	if cl.closed {
		return coreerrors.New(errType, "%s: client closed", method)
	}
	reachable := false
	for _, ep := range cl.opts.Endpoints {
		if c.serving(ep) != nil {
			reachable = true
			break
		}
	}
	if !reachable {
		return coreerrors.New(errType, "%s: no endpoint of %v reachable", method, cl.opts.Endpoints)
	}
	if c.authEnabled {
		root, ok := c.users[cluster.InternalUser]
		if cl.opts.Username != cluster.InternalUser || !ok || root.password != cl.opts.Password {
			return coreerrors.Wrap(errors.Unauthorizedf("user %q", cl.opts.Username), errType, "%s", method)
		}
	}
	if needQuorum && !c.hasQuorum() {
		return coreerrors.New(errType, "%s: etcdserver: request timed out", method)
	}
	return nil
}

// Close is part of etcdadmin.Client.
func (cl *Client) Close() error {
	cl.cluster.mu.Lock()
	defer cl.cluster.mu.Unlock()
	cl.cluster.calls["Close"]++
	cl.closed = true
	return nil
}

// MemberList is part of etcdadmin.Client.
func (cl *Client) MemberList(_ context.Context) ([]etcdadmin.Member, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("MemberList", coreerrors.ClusterManagement, true); err != nil {
		return nil, err
	}
	return c.memberList(), nil
}

// AddLearner is part of etcdadmin.Client.
func (cl *Client) AddLearner(_ context.Context, name, peerURL string) (etcdadmin.Member, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("AddLearner", coreerrors.ClusterManagement, true); err != nil {
		return etcdadmin.Member{}, err
	}
	if c.byPeerHost(peerURL) != nil {
		return etcdadmin.Member{}, coreerrors.New(coreerrors.ClusterManagement, "adding %s as learner: etcdserver: Peer URLs already exists", name)
	}
	for _, m := range c.members {
		if m.learner {
			return etcdadmin.Member{}, coreerrors.New(coreerrors.ClusterManagement, "adding %s as learner: etcdserver: too many learner members in cluster", name)
		}
	}
	m := &member{
		id:       c.allocateID(),
		peerURLs: []string{peerURL},
		learner:  true,
	}
	c.members[m.id] = m
	return etcdadmin.Member{
		ID:        etcdadmin.FormatID(m.id),
		Name:      name,
		PeerURLs:  []string{peerURL},
		IsLearner: true,
	}, nil
}

func (cl *Client) member(id string) (*member, error) {
	raw, err := etcdadmin.ParseID(id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m, ok := cl.cluster.members[raw]
	if !ok {
		return nil, errors.WithType(errors.Errorf("etcdserver: member not found"), etcdadmin.ErrMemberNotFound)
	}
	return m, nil
}

// PromoteMember is part of etcdadmin.Client.
func (cl *Client) PromoteMember(_ context.Context, id string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("PromoteMember", coreerrors.ClusterManagement, true); err != nil {
		return err
	}
	m, err := cl.member(id)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.ClusterManagement, "promoting member %s", id)
	}
	if !m.learner {
		err := errors.WithType(errors.Errorf("etcdserver: can only promote a learner member"), etcdadmin.ErrMemberNotLearner)
		return coreerrors.Wrap(err, coreerrors.ClusterManagement, "promoting member %s", id)
	}
	if !m.running {
		err := errors.WithType(errors.Errorf("etcdserver: can only promote a learner member which is in sync with leader"), etcdadmin.ErrLearnerNotReady)
		return coreerrors.Wrap(err, coreerrors.ClusterManagement, "promoting member %s", id)
	}
	m.learner = false
	return nil
}

// RemoveMember is part of etcdadmin.Client.
func (cl *Client) RemoveMember(_ context.Context, id string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("RemoveMember", coreerrors.ClusterManagement, true); err != nil {
		return err
	}
	m, err := cl.member(id)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.ClusterManagement, "removing member %s", id)
	}
	delete(c.members, m.id)
	if c.leader == m.id {
		c.leader = 0
		c.electIfNeeded()
	}
	return nil
}

// UpdatePeerURLs is part of etcdadmin.Client.
func (cl *Client) UpdatePeerURLs(_ context.Context, id string, peerURLs []string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("UpdatePeerURLs", coreerrors.ClusterManagement, true); err != nil {
		return err
	}
	m, err := cl.member(id)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.ClusterManagement, "updating member %s", id)
	}
	m.peerURLs = append([]string(nil), peerURLs...)
	return nil
}

// MoveLeader is part of etcdadmin.Client.
func (cl *Client) MoveLeader(_ context.Context, id string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("MoveLeader", coreerrors.ClusterManagement, true); err != nil {
		return err
	}
	leader, ok := c.members[c.leader]
	if !ok {
		return coreerrors.New(coreerrors.RaftLeaderNotFound, "no leader")
	}
	leaderReachable := false
	for _, ep := range cl.opts.Endpoints {
		if c.serving(ep) == leader {
			leaderReachable = true
		}
	}
	if !leaderReachable {
		return coreerrors.New(coreerrors.RaftLeaderNotFound, "no endpoint of %v is the leader", cl.opts.Endpoints)
	}
	m, err := cl.member(id)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.ClusterManagement, "moving leadership to %s", id)
	}
	if m.learner || !m.running {
		return coreerrors.New(coreerrors.ClusterManagement, "moving leadership to %s: etcdserver: bad leader transferee", id)
	}
	if m.id != c.leader {
		c.setLeader(m.id)
	}
	return nil
}

// EndpointStatus is part of etcdadmin.Client.
func (cl *Client) EndpointStatus(_ context.Context, endpoint string) (etcdadmin.EndpointStatus, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["EndpointStatus"]++
	m := c.serving(endpoint)
	if m == nil {
		return etcdadmin.EndpointStatus{}, errors.Errorf("status of %s: context deadline exceeded", endpoint)
	}
	status := etcdadmin.EndpointStatus{
		Endpoint: endpoint,
		MemberID: etcdadmin.FormatID(m.id),
		Version:  Version,
	}
	if _, ok := c.members[c.leader]; ok {
		status.LeaderID = etcdadmin.FormatID(c.leader)
	}
	return status, nil
}

// Leader is part of etcdadmin.Client.
func (cl *Client) Leader(_ context.Context) (string, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("Leader", coreerrors.RaftLeaderNotFound, false); err != nil {
		return "", err
	}
	if _, ok := c.members[c.leader]; !ok {
		return "", coreerrors.New(coreerrors.RaftLeaderNotFound, "no leader reported by %v", cl.opts.Endpoints)
	}
	return etcdadmin.FormatID(c.leader), nil
}

// Health is part of etcdadmin.Client.
func (cl *Client) Health(_ context.Context, clusterWide bool) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["Health"]++
	if queued := c.failNext["Health"]; len(queued) > 0 {
		c.failNext["Health"] = queued[1:]
		return coreerrors.Wrap(queued[0], coreerrors.HealthCheckFailed, "health")
	}
	if err := c.errs["Health"]; err != nil {
		return coreerrors.Wrap(err, coreerrors.HealthCheckFailed, "health")
	}
	if clusterWide {
		if !c.hasQuorum() {
			return coreerrors.New(coreerrors.HealthCheckFailed, "cluster has no quorum")
		}
		for _, m := range c.members {
			if !m.learner && !m.running {
				return coreerrors.New(coreerrors.HealthCheckFailed, "member %s unhealthy", m.name)
			}
		}
		return nil
	}
	for _, ep := range cl.opts.Endpoints {
		if c.serving(ep) == nil {
			return coreerrors.New(coreerrors.HealthCheckFailed, "endpoint %s unhealthy", ep)
		}
	}
	return nil
}

// Version is part of etcdadmin.Client.
func (cl *Client) Version(_ context.Context) (string, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("Version", coreerrors.ClusterManagement, false); err != nil {
		return "", err
	}
	return Version, nil
}

// AuthEnable is part of etcdadmin.Client.
func (cl *Client) AuthEnable(_ context.Context) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("AuthEnable", coreerrors.AuthNotEnabled, true); err != nil {
		return err
	}
	root, ok := c.users[cluster.InternalUser]
	if !ok {
		return coreerrors.New(coreerrors.AuthNotEnabled, "enabling authentication: etcdserver: root user does not exist")
	}
	hasRole := false
	for _, r := range root.roles {
		if r == cluster.InternalUser {
			hasRole = true
		}
	}
	if !hasRole {
		return coreerrors.New(coreerrors.AuthNotEnabled, "enabling authentication: etcdserver: root user does not have root role")
	}
	c.authEnabled = true
	return nil
}

// UserAdd is part of etcdadmin.Client.
func (cl *Client) UserAdd(_ context.Context, name, password string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("UserAdd", coreerrors.UserManagement, true); err != nil {
		return err
	}
	if _, ok := c.users[name]; ok {
		return coreerrors.Wrap(errors.AlreadyExistsf("user %s", name), coreerrors.UserManagement, "adding user %s", name)
	}
	c.users[name] = &user{password: password}
	return nil
}

// UserGet is part of etcdadmin.Client.
func (cl *Client) UserGet(_ context.Context, name string) (etcdadmin.User, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("UserGet", coreerrors.UserManagement, true); err != nil {
		return etcdadmin.User{}, err
	}
	u, ok := c.users[name]
	if !ok {
		return etcdadmin.User{}, coreerrors.Wrap(errors.NotFoundf("user %s", name), coreerrors.UserManagement, "getting user %s", name)
	}
	return etcdadmin.User{Name: name, Roles: append([]string(nil), u.roles...)}, nil
}

// UserDelete is part of etcdadmin.Client.
func (cl *Client) UserDelete(_ context.Context, name string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("UserDelete", coreerrors.UserManagement, true); err != nil {
		return err
	}
	if _, ok := c.users[name]; !ok {
		return coreerrors.Wrap(errors.NotFoundf("user %s", name), coreerrors.UserManagement, "deleting user %s", name)
	}
	delete(c.users, name)
	return nil
}

// UserChangePassword is part of etcdadmin.Client.
func (cl *Client) UserChangePassword(_ context.Context, name, password string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("UserChangePassword", coreerrors.UserManagement, true); err != nil {
		return err
	}
	u, ok := c.users[name]
	if !ok {
		return coreerrors.Wrap(errors.NotFoundf("user %s", name), coreerrors.UserManagement, "changing password of %s", name)
	}
	u.password = password
	return nil
}

// UserGrantRole is part of etcdadmin.Client.
func (cl *Client) UserGrantRole(_ context.Context, name, role string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("UserGrantRole", coreerrors.UserManagement, true); err != nil {
		return err
	}
	u, ok := c.users[name]
	if !ok {
		return coreerrors.Wrap(errors.NotFoundf("user %s", name), coreerrors.UserManagement, "granting role %s", role)
	}
	if _, ok := c.roles[role]; !ok && role != cluster.InternalUser {
		return coreerrors.Wrap(errors.NotFoundf("role %s", role), coreerrors.UserManagement, "granting role %s", role)
	}
	for _, r := range u.roles {
		if r == role {
			return nil
		}
	}
	u.roles = append(u.roles, role)
	return nil
}

// RoleAdd is part of etcdadmin.Client.
func (cl *Client) RoleAdd(_ context.Context, name string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("RoleAdd", coreerrors.UserManagement, true); err != nil {
		return err
	}
	if _, ok := c.roles[name]; ok {
		return coreerrors.Wrap(errors.AlreadyExistsf("role %s", name), coreerrors.UserManagement, "adding role %s", name)
	}
	c.roles[name] = nil
	return nil
}

// RoleGet is part of etcdadmin.Client.
func (cl *Client) RoleGet(_ context.Context, name string) ([]etcdadmin.Permission, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("RoleGet", coreerrors.UserManagement, true); err != nil {
		return nil, err
	}
	perms, ok := c.roles[name]
	if !ok {
		return nil, coreerrors.Wrap(errors.NotFoundf("role %s", name), coreerrors.UserManagement, "getting role %s", name)
	}
	return append([]etcdadmin.Permission(nil), perms...), nil
}

// RoleDelete is part of etcdadmin.Client.
func (cl *Client) RoleDelete(_ context.Context, name string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("RoleDelete", coreerrors.UserManagement, true); err != nil {
		return err
	}
	if _, ok := c.roles[name]; !ok {
		return coreerrors.Wrap(errors.NotFoundf("role %s", name), coreerrors.UserManagement, "deleting role %s", name)
	}
	delete(c.roles, name)
	for _, u := range c.users {
		kept := u.roles[:0]
		for _, r := range u.roles {
			if r != name {
				kept = append(kept, r)
			}
		}
		u.roles = kept
	}
	return nil
}

// RoleGrantPermission is part of etcdadmin.Client.
func (cl *Client) RoleGrantPermission(_ context.Context, role, prefix string) error {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := cl.enter("RoleGrantPermission", coreerrors.UserManagement, true); err != nil {
		return err
	}
	perms, ok := c.roles[role]
	if !ok {
		return coreerrors.Wrap(errors.NotFoundf("role %s", role), coreerrors.UserManagement, "granting %s", prefix)
	}
	perm := etcdadmin.Permission{Key: prefix, RangeEnd: clientv3.GetPrefixRangeEnd(prefix)}
	for _, p := range perms {
		if p == perm {
			return nil
		}
	}
	c.roles[role] = append(perms, perm)
	return nil
}
