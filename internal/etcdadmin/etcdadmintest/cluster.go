// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package etcdadmintest provides an in-memory etcd cluster that admin
// clients can be dialled against. It models membership, learners, the
// raft leader, authentication, users and roles closely enough for the
// coordinator's scenario tests.
package etcdadmintest

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
)

// Version is reported by every member.
const Version = "3.6.7"

const firstID = 0x8e9e05c52164694d

type member struct {
	id         uint64
	name       string
	peerURLs   []string
	clientURLs []string
	learner    bool
	running    bool
}

type user struct {
	password string
	roles    []string
}

// Cluster is a fake etcd cluster.
type Cluster struct {
	mu sync.Mutex

	nextID  uint64
	members map[uint64]*member
	leader  uint64

	authEnabled bool
	users       map[string]*user
	roles       map[string][]etcdadmin.Permission

	errs      map[string]error
	failNext  map[string][]error
	calls     map[string]int
	leaderLog []string
}

var _ etcdadmin.Dialer = (*Cluster)(nil)

// NewCluster returns an empty cluster.
func NewCluster() *Cluster {
	return &Cluster{
		nextID:   firstID,
		members:  make(map[uint64]*member),
		users:    make(map[string]*user),
		roles:    make(map[string][]etcdadmin.Permission),
		errs:     make(map[string]error),
		failNext: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// Dial is part of etcdadmin.Dialer.
func (c *Cluster) Dial(_ context.Context, opts etcdadmin.DialOpts) (etcdadmin.Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.NotValidf("empty endpoints")
	}
	return &Client{cluster: c, opts: opts}, nil
}

// SetError makes every call of method fail with err until it is called
// again with a nil error.
func (c *Cluster) SetError(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errs, method)
		return
	}
	c.errs[method] = err
}

// FailNext makes the next calls of method fail with errs, one each.
func (c *Cluster) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[method] = append(c.failNext[method], errs...)
}

// Calls returns how many times method was called.
func (c *Cluster) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// StartMember runs the member with the given peer URL. A member added as
// a learner is matched by its peer address; the first member of a new
// cluster bootstraps it and becomes leader.
func (c *Cluster) StartMember(name, peerURL, clientURL string, state cluster.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m := c.byPeerHost(peerURL); m != nil {
		m.name = name
		m.peerURLs = []string{peerURL}
		m.clientURLs = []string{clientURL}
		m.running = true
		c.electIfNeeded()
		return nil
	}
	if state == cluster.StateNew && len(c.members) == 0 {
		m := &member{
			id:         c.allocateID(),
			name:       name,
			peerURLs:   []string{peerURL},
			clientURLs: []string{clientURL},
			running:    true,
		}
		c.members[m.id] = m
		c.setLeader(m.id)
		return nil
	}
	return errors.NotFoundf("member %s at %s in cluster", name, peerURL)
}

// StopMember stops the named member. It stays part of the cluster.
func (c *Cluster) StopMember(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.members {
		if m.name == name {
			m.running = false
		}
	}
	if l, ok := c.members[c.leader]; ok && !l.running {
		c.leader = 0
	}
	c.electIfNeeded()
}

// Members returns the current members ordered by id.
func (c *Cluster) Members() []etcdadmin.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memberList()
}

// LeaderName returns the name of the raft leader, or "" if there is none.
func (c *Cluster) LeaderName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.members[c.leader]; ok {
		return m.name
	}
	return ""
}

// SetLeader makes the named member leader.
func (c *Cluster) SetLeader(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.members {
		if m.name == name {
			c.setLeader(m.id)
		}
	}
}

// LeaderHistory returns the names of every member that became leader, in
// order.
func (c *Cluster) LeaderHistory() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.leaderLog...)
}

// AuthEnabled reports whether authentication is on.
func (c *Cluster) AuthEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authEnabled
}

// UserPassword returns the password of the named user.
func (c *Cluster) UserPassword(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[name]
	if !ok {
		return "", false
	}
	return u.password, true
}

// Users returns the names of every user, sorted.
func (c *Cluster) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for name := range c.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roles returns the names of every role, sorted.
func (c *Cluster) Roles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for name := range c.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Cluster) allocateID() uint64 {
	id := c.nextID
	c.nextID++
	return id
}

func (c *Cluster) setLeader(id uint64) {
	c.leader = id
	c.leaderLog = append(c.leaderLog, c.members[id].name)
}

func (c *Cluster) voters() (total, running int) {
	for _, m := range c.members {
		if m.learner {
			continue
		}
		total++
		if m.running {
			running++
		}
	}
	return total, running
}

func (c *Cluster) hasQuorum() bool {
	total, running := c.voters()
	return total > 0 && running > total/2
}

// electIfNeeded picks the running voter with the lowest id when there is
// no leader and the voters have quorum.
func (c *Cluster) electIfNeeded() {
	if _, ok := c.members[c.leader]; ok {
		return
	}
	c.leader = 0
	if !c.hasQuorum() {
		return
	}
	for _, id := range c.sortedIDs() {
		m := c.members[id]
		if !m.learner && m.running {
			c.setLeader(id)
			return
		}
	}
}

func (c *Cluster) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Cluster) memberList() []etcdadmin.Member {
	var out []etcdadmin.Member
	for _, id := range c.sortedIDs() {
		m := c.members[id]
		out = append(out, etcdadmin.Member{
			ID:         etcdadmin.FormatID(m.id),
			Name:       m.name,
			PeerURLs:   append([]string(nil), m.peerURLs...),
			ClientURLs: append([]string(nil), m.clientURLs...),
			IsLearner:  m.learner,
		})
	}
	return out
}

func (c *Cluster) byPeerHost(peerURL string) *member {
	host := hostPort(peerURL)
	for _, m := range c.members {
		for _, u := range m.peerURLs {
			if hostPort(u) == host {
				return m
			}
		}
	}
	return nil
}

// serving returns the running member answering on endpoint.
func (c *Cluster) serving(endpoint string) *member {
	host := hostPort(endpoint)
	for _, m := range c.members {
		if !m.running {
			continue
		}
		for _, u := range m.clientURLs {
			if hostPort(u) == host {
				return m
			}
		}
	}
	return nil
}

func hostPort(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	}
	return u.Host
}
