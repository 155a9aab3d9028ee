// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package etcdadmin

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/juju/errors"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	coreerrors "github.com/juju/etcd-coordinator/core/errors"
)

// healthKey is read to check an endpoint, the way etcdctl does.
const healthKey = "health"

// Config holds what is needed to talk to the cluster.
type Config struct {
	Endpoints      []string
	Username       string
	Password       string
	TLS            *tls.Config
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Logger         Logger
}

// Validate returns an error if the config cannot create a client.
func (c Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.NotValidf("empty Endpoints")
	}
	if c.DialTimeout <= 0 {
		return errors.NotValidf("non-positive DialTimeout")
	}
	if c.RequestTimeout <= 0 {
		return errors.NotValidf("non-positive RequestTimeout")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// EtcdClient is a Client backed by the etcd v3 client.
type EtcdClient struct {
	config    Config
	client    *clientv3.Client
	newClient func(clientv3.Config) (*clientv3.Client, error)
}

var _ Client = (*EtcdClient)(nil)

// NewClient connects to the cluster described by config.
func NewClient(config Config) (*EtcdClient, error) {
	return newClient(config, clientv3.New)
}

func newClient(config Config, newFn func(clientv3.Config) (*clientv3.Client, error)) (*EtcdClient, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	c := &EtcdClient{config: config, newClient: newFn}
	client, err := newFn(c.clientConfig(config.Endpoints))
	if err != nil {
		return nil, errors.Annotate(err, "connecting to etcd")
	}
	c.client = client
	return c, nil
}

func (c *EtcdClient) clientConfig(endpoints []string) clientv3.Config {
	return clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: c.config.DialTimeout,
		TLS:         c.config.TLS,
		Username:    c.config.Username,
		Password:    c.config.Password,
		Logger:      zap.NewNop(),
	}
}

// withEndpoint runs fn with a client talking to endpoint only.
func (c *EtcdClient) withEndpoint(endpoint string, fn func(*clientv3.Client) error) error {
	client, err := c.newClient(c.clientConfig([]string{endpoint}))
	if err != nil {
		return errors.Annotatef(err, "connecting to %s", endpoint)
	}
	defer func() {
		if err := client.Close(); err != nil {
			c.config.Logger.Debugf("closing client for %s: %v", endpoint, err)
		}
	}()
	return fn(client)
}

func (c *EtcdClient) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.RequestTimeout)
}

// Close is part of Client.
func (c *EtcdClient) Close() error {
	return errors.Trace(c.client.Close())
}

// MemberList is part of Client.
func (c *EtcdClient) MemberList(ctx context.Context) ([]Member, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	resp, err := c.client.MemberList(ctx)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.ClusterManagement, "listing members")
	}
	members := make([]Member, 0, len(resp.Members))
	for _, m := range resp.Members {
		members = append(members, Member{
			ID:         FormatID(m.ID),
			Name:       m.Name,
			PeerURLs:   m.PeerURLs,
			ClientURLs: m.ClientURLs,
			IsLearner:  m.IsLearner,
		})
	}
	return members, nil
}

// AddLearner is part of Client.
func (c *EtcdClient) AddLearner(ctx context.Context, name, peerURL string) (Member, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	resp, err := c.client.MemberAddAsLearner(ctx, []string{peerURL})
	if err != nil {
		return Member{}, coreerrors.Wrap(err, coreerrors.ClusterManagement, "adding %s as learner", name)
	}
	c.config.Logger.Debugf("added learner %s (%x) at %s", name, resp.Member.ID, peerURL)
	return Member{
		ID:        FormatID(resp.Member.ID),
		Name:      name,
		PeerURLs:  resp.Member.PeerURLs,
		IsLearner: true,
	}, nil
}

// PromoteMember is part of Client.
func (c *EtcdClient) PromoteMember(ctx context.Context, id string) error {
	raw, err := ParseID(id)
	if err != nil {
		return errors.Trace(err)
	}
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.MemberPromote(ctx, raw); err != nil {
		return coreerrors.Wrap(memberError(err), coreerrors.ClusterManagement, "promoting member %s", id)
	}
	return nil
}

// RemoveMember is part of Client.
func (c *EtcdClient) RemoveMember(ctx context.Context, id string) error {
	raw, err := ParseID(id)
	if err != nil {
		return errors.Trace(err)
	}
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.MemberRemove(ctx, raw); err != nil {
		return coreerrors.Wrap(memberError(err), coreerrors.ClusterManagement, "removing member %s", id)
	}
	return nil
}

// UpdatePeerURLs is part of Client.
func (c *EtcdClient) UpdatePeerURLs(ctx context.Context, id string, peerURLs []string) error {
	raw, err := ParseID(id)
	if err != nil {
		return errors.Trace(err)
	}
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.MemberUpdate(ctx, raw, peerURLs); err != nil {
		return coreerrors.Wrap(memberError(err), coreerrors.ClusterManagement, "updating peer URLs of member %s", id)
	}
	return nil
}

// MoveLeader is part of Client. The request has to reach the current
// leader, so the leader's endpoint is looked up first.
func (c *EtcdClient) MoveLeader(ctx context.Context, id string) error {
	raw, err := ParseID(id)
	if err != nil {
		return errors.Trace(err)
	}
	leaderEndpoint := ""
	for _, ep := range c.config.Endpoints {
		status, err := c.EndpointStatus(ctx, ep)
		if err != nil {
			c.config.Logger.Debugf("skipping %s: %v", ep, err)
			continue
		}
		if status.IsLeader() {
			leaderEndpoint = ep
			break
		}
	}
	if leaderEndpoint == "" {
		return coreerrors.New(coreerrors.RaftLeaderNotFound, "no endpoint of %v is the leader", c.config.Endpoints)
	}
	err = c.withEndpoint(leaderEndpoint, func(client *clientv3.Client) error {
		ctx, cancel := c.timeout(ctx)
		defer cancel()
		_, err := client.MoveLeader(ctx, raw)
		return err
	})
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.ClusterManagement, "moving leadership to %s", id)
	}
	return nil
}

// EndpointStatus is part of Client.
func (c *EtcdClient) EndpointStatus(ctx context.Context, endpoint string) (EndpointStatus, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	resp, err := c.client.Status(ctx, endpoint)
	if err != nil {
		return EndpointStatus{}, errors.Annotatef(err, "status of %s", endpoint)
	}
	status := EndpointStatus{
		Endpoint: endpoint,
		Version:  resp.Version,
	}
	if resp.Header != nil {
		status.MemberID = FormatID(resp.Header.MemberId)
	}
	if resp.Leader != 0 {
		status.LeaderID = FormatID(resp.Leader)
	}
	return status, nil
}

// Leader is part of Client.
func (c *EtcdClient) Leader(ctx context.Context) (string, error) {
	for _, ep := range c.config.Endpoints {
		status, err := c.EndpointStatus(ctx, ep)
		if err != nil {
			c.config.Logger.Debugf("no status from %s: %v", ep, err)
			continue
		}
		if status.LeaderID != "" {
			return status.LeaderID, nil
		}
	}
	return "", coreerrors.New(coreerrors.RaftLeaderNotFound, "no leader reported by %v", c.config.Endpoints)
}

// Health is part of Client. A cluster wide check covers the client URLs
// of every voting member with a linearizable read; a local check only
// asks the configured endpoints for a serializable read, which a learner
// can also answer.
func (c *EtcdClient) Health(ctx context.Context, clusterWide bool) error {
	endpoints := c.config.Endpoints
	var opts []clientv3.OpOption
	if clusterWide {
		members, err := c.MemberList(ctx)
		if err != nil {
			return coreerrors.Wrap(err, coreerrors.HealthCheckFailed, "listing members")
		}
		endpoints = nil
		for _, m := range members {
			if !m.IsLearner {
				endpoints = append(endpoints, m.ClientURLs...)
			}
		}
	} else {
		opts = append(opts, clientv3.WithSerializable())
	}
	if len(endpoints) == 0 {
		return coreerrors.New(coreerrors.HealthCheckFailed, "no endpoints to check")
	}
	for _, ep := range endpoints {
		err := c.withEndpoint(ep, func(client *clientv3.Client) error {
			ctx, cancel := c.timeout(ctx)
			defer cancel()
			_, err := client.Get(ctx, healthKey, opts...)
			// Permission denied still means the request went through raft.
			if errors.Is(err, rpctypes.ErrPermissionDenied) {
				return nil
			}
			return err
		})
		if err != nil {
			return coreerrors.Wrap(err, coreerrors.HealthCheckFailed, "endpoint %s unhealthy", ep)
		}
	}
	return nil
}

// Version is part of Client.
func (c *EtcdClient) Version(ctx context.Context) (string, error) {
	var lastErr error
	for _, ep := range c.config.Endpoints {
		status, err := c.EndpointStatus(ctx, ep)
		if err != nil {
			lastErr = err
			continue
		}
		return status.Version, nil
	}
	return "", coreerrors.Wrap(lastErr, coreerrors.ClusterManagement, "getting version")
}

// AuthEnable is part of Client.
func (c *EtcdClient) AuthEnable(ctx context.Context) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.AuthEnable(ctx); err != nil {
		return coreerrors.Wrap(err, coreerrors.AuthNotEnabled, "enabling authentication")
	}
	return nil
}

// UserAdd is part of Client.
func (c *EtcdClient) UserAdd(ctx context.Context, name, password string) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	_, err := c.client.UserAddWithOptions(ctx, name, password, &clientv3.UserAddOptions{
		NoPassword: password == "",
	})
	if err != nil {
		return coreerrors.Wrap(authError(err, "user", name), coreerrors.UserManagement, "adding user %s", name)
	}
	return nil
}

// UserGet is part of Client.
func (c *EtcdClient) UserGet(ctx context.Context, name string) (User, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	resp, err := c.client.UserGet(ctx, name)
	if err != nil {
		return User{}, coreerrors.Wrap(authError(err, "user", name), coreerrors.UserManagement, "getting user %s", name)
	}
	return User{Name: name, Roles: resp.Roles}, nil
}

// UserDelete is part of Client.
func (c *EtcdClient) UserDelete(ctx context.Context, name string) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.UserDelete(ctx, name); err != nil {
		return coreerrors.Wrap(authError(err, "user", name), coreerrors.UserManagement, "deleting user %s", name)
	}
	return nil
}

// UserChangePassword is part of Client.
func (c *EtcdClient) UserChangePassword(ctx context.Context, name, password string) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.UserChangePassword(ctx, name, password); err != nil {
		return coreerrors.Wrap(authError(err, "user", name), coreerrors.UserManagement, "changing password of %s", name)
	}
	return nil
}

// UserGrantRole is part of Client.
func (c *EtcdClient) UserGrantRole(ctx context.Context, user, role string) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.UserGrantRole(ctx, user, role); err != nil {
		return coreerrors.Wrap(authError(err, "user", user), coreerrors.UserManagement, "granting role %s to %s", role, user)
	}
	return nil
}

// RoleAdd is part of Client.
func (c *EtcdClient) RoleAdd(ctx context.Context, name string) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.RoleAdd(ctx, name); err != nil {
		return coreerrors.Wrap(authError(err, "role", name), coreerrors.UserManagement, "adding role %s", name)
	}
	return nil
}

// RoleGet is part of Client.
func (c *EtcdClient) RoleGet(ctx context.Context, name string) ([]Permission, error) {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	resp, err := c.client.RoleGet(ctx, name)
	if err != nil {
		return nil, coreerrors.Wrap(authError(err, "role", name), coreerrors.UserManagement, "getting role %s", name)
	}
	perms := make([]Permission, 0, len(resp.Perm))
	for _, p := range resp.Perm {
		perms = append(perms, Permission{Key: string(p.Key), RangeEnd: string(p.RangeEnd)})
	}
	return perms, nil
}

// RoleDelete is part of Client.
func (c *EtcdClient) RoleDelete(ctx context.Context, name string) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	if _, err := c.client.RoleDelete(ctx, name); err != nil {
		return coreerrors.Wrap(authError(err, "role", name), coreerrors.UserManagement, "deleting role %s", name)
	}
	return nil
}

// RoleGrantPermission is part of Client.
func (c *EtcdClient) RoleGrantPermission(ctx context.Context, role, prefix string) error {
	ctx, cancel := c.timeout(ctx)
	defer cancel()
	_, err := c.client.RoleGrantPermission(ctx, role, prefix, clientv3.GetPrefixRangeEnd(prefix),
		clientv3.PermissionType(clientv3.PermReadWrite))
	if err != nil {
		return coreerrors.Wrap(authError(err, "role", role), coreerrors.UserManagement, "granting %s to role %s", prefix, role)
	}
	return nil
}

func memberError(err error) error {
	switch {
	case errors.Is(err, rpctypes.ErrMemberNotLearner):
		return errors.WithType(err, ErrMemberNotLearner)
	case errors.Is(err, rpctypes.ErrMemberLearnerNotReady):
		return errors.WithType(err, ErrLearnerNotReady)
	case errors.Is(err, rpctypes.ErrMemberNotFound):
		return errors.WithType(err, ErrMemberNotFound)
	}
	return err
}

func authError(err error, kind, name string) error {
	switch {
	case errors.Is(err, rpctypes.ErrUserNotFound), errors.Is(err, rpctypes.ErrRoleNotFound):
		return errors.NewNotFound(err, kind+" "+name)
	case errors.Is(err, rpctypes.ErrUserAlreadyExist), errors.Is(err, rpctypes.ErrRoleAlreadyExist):
		return errors.NewAlreadyExists(err, kind+" "+name)
	}
	return err
}
