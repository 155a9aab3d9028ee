// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/core/status"
	"github.com/juju/etcd-coordinator/internal/deferred"
	"github.com/juju/etcd-coordinator/internal/etcdconfig"
	"github.com/juju/etcd-coordinator/internal/rollingops"
	"github.com/juju/etcd-coordinator/internal/workload"
)

// Membership grows and shrinks the etcd member set.
type Membership interface {
	Bootstrap(ctx context.Context) error
	AddMember(ctx context.Context, unit string) (string, error)
	PromoteLearner(ctx context.Context) (bool, error)
	ReconcileLearner(ctx context.Context) (bool, error)
	PruneMembers(ctx context.Context) ([]string, error)
	RemoveMember(ctx context.Context) error
	IsHealthy(ctx context.Context, clusterWide bool) bool
	EnableAuthentication(ctx context.Context) error
	BroadcastPeerURL(ctx context.Context) error
}

// TLSLinks drives the TLS state of the unit's links.
type TLSLinks interface {
	Created(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error)
	CertificateAvailable(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error)
	Broken(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error)
	PrepareRestart(ctx context.Context, snap cluster.Snapshot) ([]cluster.LinkType, error)
}

// Rotation drives CA rotations.
type Rotation interface {
	CleanCA(ctx context.Context, snap cluster.Snapshot, link cluster.LinkType) (event.Result, error)
	Cleanup(ctx context.Context, snap cluster.Snapshot, keep map[cluster.LinkType][]string) error
	AfterRestart(ctx context.Context, snap cluster.Snapshot) error
}

// Restarts hands out and runs rolling restarts.
type Restarts interface {
	Grant(ctx context.Context, snap cluster.Snapshot) (string, error)
	Run(ctx context.Context, snap cluster.Snapshot, fn rollingops.Callback) (bool, error)
}

// Clients manages the users of external client relations.
type Clients interface {
	Updated(ctx context.Context, snap cluster.Snapshot, relationID int) (event.Result, error)
	Broken(ctx context.Context, snap cluster.Snapshot, relationID int) (event.Result, error)
	SyncTrust(ctx context.Context, snap cluster.Snapshot) (event.Result, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
	Logf(level loggo.Level, message string, args ...any)
}

// Config holds the dependencies and parameters of a coordinator worker.
type Config struct {
	Bus        peerbus.Bus
	Leadership peerbus.Leadership
	Membership Membership
	TLS        TLSLinks
	Rotation   Rotation
	Restarts   Restarts
	Clients    Clients
	Workload   workload.Workload
	Queue      deferred.Queue
	Status     status.StatusSetter
	Metrics    *Collector
	Clock      clock.Clock
	Logger     Logger

	// Events delivers events raised outside the peer bus, such as
	// certificates being issued or the unit being asked to leave.
	Events <-chan event.Event

	// Emitted signals that a follow up event was queued and the queue
	// should be worked through.
	Emitted <-chan struct{}

	// Hostname and Address identify the unit to its peers.
	Hostname string
	Address  string

	EtcdConfigFile string
	EtcdParams     etcdconfig.Params

	UpdateStatusInterval time.Duration
}

// Validate returns an error if the config cannot be used to start a
// worker.
func (c Config) Validate() error {
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Leadership == nil {
		return errors.NotValidf("nil Leadership")
	}
	if c.Membership == nil {
		return errors.NotValidf("nil Membership")
	}
	if c.TLS == nil {
		return errors.NotValidf("nil TLS")
	}
	if c.Rotation == nil {
		return errors.NotValidf("nil Rotation")
	}
	if c.Restarts == nil {
		return errors.NotValidf("nil Restarts")
	}
	if c.Clients == nil {
		return errors.NotValidf("nil Clients")
	}
	if c.Workload == nil {
		return errors.NotValidf("nil Workload")
	}
	if c.Queue == nil {
		return errors.NotValidf("nil Queue")
	}
	if c.Status == nil {
		return errors.NotValidf("nil Status")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Address == "" {
		return errors.NotValidf("empty Address")
	}
	if c.Hostname == "" {
		return errors.NotValidf("empty Hostname")
	}
	if c.EtcdConfigFile == "" {
		return errors.NotValidf("empty EtcdConfigFile")
	}
	if c.UpdateStatusInterval <= 0 {
		return errors.NotValidf("non-positive UpdateStatusInterval")
	}
	return nil
}
