// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package etcdadmin issues cluster administration calls against a running
// etcd cluster: membership changes, leader moves, health checks and the
// management of users and roles.
package etcdadmin

import (
	"context"
	"strconv"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
)

const (
	// ErrMemberNotLearner is returned when promoting a member that is
	// already a voter.
	ErrMemberNotLearner = errors.ConstError("member is not a learner")

	// ErrLearnerNotReady is returned when promoting a learner which has not
	// yet caught up with the leader.
	ErrLearnerNotReady = errors.ConstError("learner not ready")

	// ErrMemberNotFound is returned when a member id is not part of the
	// cluster.
	ErrMemberNotFound = errors.ConstError("member not found")
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Debugf(message string, args ...any)
}

// Member is one etcd cluster member as reported by a member list. It is
// only good for the operation that fetched it.
type Member struct {
	// ID is the member id in lower case hex, without prefix.
	ID         string
	Name       string
	PeerURLs   []string
	ClientURLs []string
	IsLearner  bool
}

// EndpointStatus is the status reported by a single endpoint.
type EndpointStatus struct {
	Endpoint string
	MemberID string
	LeaderID string
	Version  string
}

// IsLeader reports whether the endpoint's member leads the cluster.
func (s EndpointStatus) IsLeader() bool {
	return s.MemberID != "" && s.MemberID == s.LeaderID
}

// User is an etcd user.
type User struct {
	Name  string
	Roles []string
}

// Permission is a read-write permission on a key range.
type Permission struct {
	Key      string
	RangeEnd string
}

// Client issues admin calls against the cluster. Every call runs under
// the client's request timeout and returns a typed error on failure.
type Client interface {
	// MemberList returns every cluster member.
	MemberList(ctx context.Context) ([]Member, error)

	// AddLearner adds a non voting member with the given peer URL.
	AddLearner(ctx context.Context, name, peerURL string) (Member, error)

	// PromoteMember promotes the learner with id to a voter.
	PromoteMember(ctx context.Context, id string) error

	// RemoveMember removes the member with id.
	RemoveMember(ctx context.Context, id string) error

	// UpdatePeerURLs replaces the peer URLs of the member with id.
	UpdatePeerURLs(ctx context.Context, id string, peerURLs []string) error

	// MoveLeader transfers raft leadership to the member with id.
	MoveLeader(ctx context.Context, id string) error

	// EndpointStatus returns the status of a single endpoint.
	EndpointStatus(ctx context.Context, endpoint string) (EndpointStatus, error)

	// Leader returns the id of the raft leader.
	Leader(ctx context.Context) (string, error)

	// Health checks the configured endpoints, or every member's client
	// endpoints when clusterWide is set.
	Health(ctx context.Context, clusterWide bool) error

	// Version returns the server version.
	Version(ctx context.Context) (string, error)

	// AuthEnable turns on authentication.
	AuthEnable(ctx context.Context) error

	// UserAdd adds a user. An empty password creates a user which can
	// only authenticate with a client certificate.
	UserAdd(ctx context.Context, name, password string) error

	// UserGet returns the named user, or a NotFound error.
	UserGet(ctx context.Context, name string) (User, error)

	// UserDelete removes the named user.
	UserDelete(ctx context.Context, name string) error

	// UserChangePassword sets the password of the named user.
	UserChangePassword(ctx context.Context, name, password string) error

	// UserGrantRole grants role to user.
	UserGrantRole(ctx context.Context, user, role string) error

	// RoleAdd adds a role.
	RoleAdd(ctx context.Context, name string) error

	// RoleGet returns the permissions of the named role, or a NotFound
	// error.
	RoleGet(ctx context.Context, name string) ([]Permission, error)

	// RoleDelete removes the named role.
	RoleDelete(ctx context.Context, name string) error

	// RoleGrantPermission grants role read-write access to every key
	// under prefix.
	RoleGrantPermission(ctx context.Context, role, prefix string) error

	// Close releases the client's connections.
	Close() error
}

// DialOpts describe how to reach the cluster.
type DialOpts struct {
	Endpoints []string
	Username  string
	Password  string
}

// Dialer opens admin clients.
type Dialer interface {
	Dial(ctx context.Context, opts DialOpts) (Client, error)
}

// DialOptsFor returns the dial options for a unit observing snap: the
// client endpoints of every usable unit, with the internal user's
// credentials once authentication is enabled.
func DialOptsFor(snap cluster.Snapshot) DialOpts {
	opts := DialOpts{Endpoints: snap.ClientEndpoints()}
	if snap.Cluster.Authentication {
		opts.Username = cluster.InternalUser
		opts.Password = snap.Cluster.AdminPassword
	}
	return opts
}

// FormatID renders a raw member id the way the coordinator stores it.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 16)
}

// ParseID parses a hex member id.
func ParseID(id string) (uint64, error) {
	raw, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return 0, errors.NotValidf("member id %q", id)
	}
	return raw, nil
}

// FindByName returns the member with the given name.
func FindByName(members []Member, name string) (Member, bool) {
	for _, m := range members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// FindByID returns the member with the given id.
func FindByID(members []Member, id string) (Member, bool) {
	for _, m := range members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}
