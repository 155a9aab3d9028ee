// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package externalclients manages the etcd users of external client
// relations. Each relation gets one user named after the common name of
// its client certificate, and a role of the same name with read-write
// access to the relation's key prefix. The leader creates and removes
// users and records them in the cluster record; every unit trusts the CA
// chains of the recorded users on its client link.
package externalclients

import (
	"context"
	"sort"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/carotation"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
)

// Request is what the client side of a relation asks for.
type Request struct {
	CommonName string `yaml:"common-name"`
	KeysPrefix string `yaml:"keys-prefix"`
	CAChain    string `yaml:"ca-chain"`
}

// Complete reports whether every field is set.
func (r Request) Complete() bool {
	return r.CommonName != "" && r.KeysPrefix != "" && r.CAChain != ""
}

// Relations reads the requests of external client relations.
type Relations interface {
	// ClientRelation returns the current request of the relation, or a
	// NotFound error once the relation is gone.
	ClientRelation(ctx context.Context, relationID int) (Request, error)
}

// TrustStore holds the external CAs trusted by the unit.
type TrustStore interface {
	SetExternalCAs(link cluster.LinkType, chains []string) (bool, error)
}

// Restarter queues a workload restart.
type Restarter interface {
	Request(ctx context.Context, reason string) error
}

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies of a Manager.
type Config struct {
	Bus        peerbus.Bus
	Leadership peerbus.Leadership
	Dialer     etcdadmin.Dialer
	Relations  Relations
	Store      TrustStore
	Restarter  Restarter
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
	if c.Dialer == nil {
		return errors.NotValidf("nil Dialer")
	}
	if c.Relations == nil {
		return errors.NotValidf("nil Relations")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Restarter == nil {
		return errors.NotValidf("nil Restarter")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Manager handles the external client relation events of one unit.
type Manager struct {
	config Config
	writer *peerbus.LeaderWriter
}

// NewManager returns a Manager for the given config.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Manager{
		config: config,
		writer: peerbus.NewLeaderWriter(config.Bus, config.Leadership),
	}, nil
}

// Updated handles a change to the relation. It is deferred until the
// request is complete, client TLS is on and no client CA rotation is in
// progress. Non-leaders wait for the leader to record the user.
func (m *Manager) Updated(ctx context.Context, snap cluster.Snapshot, relationID int) (event.Result, error) {
	req, err := m.config.Relations.ClientRelation(ctx, relationID)
	if errors.Is(err, errors.NotFound) {
		m.config.Logger.Debugf("client relation %d gone", relationID)
		return event.Handled, nil
	} else if err != nil {
		return event.Deferred, errors.Trace(err)
	}
	if !req.Complete() {
		m.config.Logger.Errorf("client relation %d: common name, keys prefix or CA chain not provided", relationID)
		return event.Deferred, nil
	}
	local := snap.Local()
	if local.TLSState(cluster.Client) != cluster.TLS {
		m.config.Logger.Debugf("client relation %d waiting for client TLS", relationID)
		return event.Deferred, nil
	}
	if local.Rotation(cluster.Client) != cluster.NoRotation {
		m.config.Logger.Debugf("client relation %d waiting for client CA rotation", relationID)
		return event.Deferred, nil
	}

	current, known := snap.Cluster.ManagedUsers[relationID]
	wanted := cluster.ManagedUser{
		RelationID: relationID,
		CommonName: req.CommonName,
		KeysPrefix: req.KeysPrefix,
		CAChain:    req.CAChain,
	}
	if !known || current != wanted {
		if !snap.Leader {
			return event.Deferred, nil
		}
		for id, u := range snap.Cluster.ManagedUsers {
			if id != relationID && u.CommonName == req.CommonName {
				m.config.Logger.Errorf("user %q already belongs to relation %d", req.CommonName, id)
				return event.Handled, nil
			}
		}
		if err := m.applyUser(ctx, snap, current, wanted); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		users := copyUsers(snap.Cluster.ManagedUsers)
		users[relationID] = wanted
		if err := m.recordUsers(ctx, users); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		snap.Cluster.ManagedUsers = users
	}
	return m.SyncTrust(ctx, snap)
}

// Broken handles the removal of the relation. The leader deletes the
// user; every unit stops trusting its CA chain.
func (m *Manager) Broken(ctx context.Context, snap cluster.Snapshot, relationID int) (event.Result, error) {
	current, known := snap.Cluster.ManagedUsers[relationID]
	if known && snap.Leader {
		if err := m.withClient(ctx, snap, func(client etcdadmin.Client) error {
			return removeUser(ctx, client, current.CommonName)
		}); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		users := copyUsers(snap.Cluster.ManagedUsers)
		delete(users, relationID)
		if err := m.recordUsers(ctx, users); err != nil {
			return event.Deferred, errors.Trace(err)
		}
		snap.Cluster.ManagedUsers = users
		m.config.Logger.Infof("removed user %q of client relation %d", current.CommonName, relationID)
	}
	return m.SyncTrust(ctx, snap)
}

// SyncTrust makes the unit trust exactly the CA chains of the recorded
// users on its client link. A change needs a restart to take effect,
// which shares its reason with the CA cleanup restart.
func (m *Manager) SyncTrust(ctx context.Context, snap cluster.Snapshot) (event.Result, error) {
	local := snap.Local()
	if local.TLSState(cluster.Client) != cluster.TLS {
		return event.Handled, nil
	}
	if local.Rotation(cluster.Client) != cluster.NoRotation {
		return event.Deferred, nil
	}
	changed, err := m.config.Store.SetExternalCAs(cluster.Client, Chains(snap.Cluster.ManagedUsers))
	if err != nil {
		return event.Deferred, errors.Trace(err)
	}
	if !changed || !local.Started {
		return event.Handled, nil
	}
	m.config.Logger.Infof("external client CAs changed")
	if err := m.config.Restarter.Request(ctx, carotation.ReasonCleanCAs); err != nil {
		return event.Deferred, errors.Trace(err)
	}
	return event.Handled, nil
}

// Chains returns the CA chains of users ordered by relation id.
func Chains(users map[int]cluster.ManagedUser) []string {
	ids := make([]int, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	chains := make([]string, 0, len(ids))
	for _, id := range ids {
		if chain := users[id].CAChain; chain != "" {
			chains = append(chains, chain)
		}
	}
	return chains
}

func (m *Manager) applyUser(ctx context.Context, snap cluster.Snapshot, current, wanted cluster.ManagedUser) error {
	if current.CommonName == wanted.CommonName && current.KeysPrefix == wanted.KeysPrefix {
		return nil
	}
	return m.withClient(ctx, snap, func(client etcdadmin.Client) error {
		if current.CommonName != "" {
			m.config.Logger.Infof("removing old user %q of client relation %d", current.CommonName, current.RelationID)
			if err := removeUser(ctx, client, current.CommonName); err != nil {
				return errors.Trace(err)
			}
		}
		m.config.Logger.Infof("creating user %q for client relation %d", wanted.CommonName, wanted.RelationID)
		return errors.Trace(addUser(ctx, client, wanted.CommonName, wanted.KeysPrefix))
	})
}

func (m *Manager) recordUsers(ctx context.Context, users map[int]cluster.ManagedUser) error {
	patch, err := cluster.NewClusterPatch().SetManagedUsers(users)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.writer.Write(ctx, patch))
}

func (m *Manager) withClient(ctx context.Context, snap cluster.Snapshot, fn func(etcdadmin.Client) error) error {
	client, err := m.config.Dialer.Dial(ctx, etcdadmin.DialOptsFor(snap))
	if err != nil {
		return errors.Annotate(err, "dialing etcd")
	}
	defer func() {
		if err := client.Close(); err != nil {
			m.config.Logger.Debugf("closing admin client: %v", err)
		}
	}()
	return fn(client)
}

// addUser creates a password-less user authenticated by its certificate
// common name, with a role of the same name granted the key prefix. It
// tolerates a partial earlier attempt.
func addUser(ctx context.Context, client etcdadmin.Client, name, prefix string) error {
	if err := client.UserAdd(ctx, name, ""); err != nil && !errors.Is(err, errors.AlreadyExists) {
		return errors.Trace(err)
	}
	if err := client.RoleAdd(ctx, name); err != nil && !errors.Is(err, errors.AlreadyExists) {
		return errors.Trace(err)
	}
	if err := client.RoleGrantPermission(ctx, name, prefix); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(client.UserGrantRole(ctx, name, name))
}

func removeUser(ctx context.Context, client etcdadmin.Client, name string) error {
	if err := client.UserDelete(ctx, name); err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	if err := client.RoleDelete(ctx, name); err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	return nil
}

func copyUsers(users map[int]cluster.ManagedUser) map[int]cluster.ManagedUser {
	out := make(map[int]cluster.ManagedUser, len(users)+1)
	for id, u := range users {
		out[id] = u
	}
	return out
}
