// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/redis/go-redis/v9"
	"go.etcd.io/etcd/client/pkg/v3/transport"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/config"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
	"github.com/juju/etcd-coordinator/internal/peerbus/redisbus"
	"github.com/juju/etcd-coordinator/internal/truststore"
	"github.com/juju/etcd-coordinator/internal/workload"
)

// DefaultConfigPath is where the agent configuration is read from unless
// --config says otherwise.
const DefaultConfigPath = "/etc/etcd-coordinator/agent.yaml"

// PeerBus is a unit's handle on the peer bus together with the two ways
// of asking about leadership.
type PeerBus interface {
	peerbus.Bus
	peerbus.Leadership
	peerbus.LeaderReader
}

// environment opens the resources a command talks to.
type environment struct {
	// openBus returns the unit's bus and a func releasing it.
	openBus func(cfg config.Config) (PeerBus, func() error, error)

	// dialer returns the dialer used to reach the etcd cluster.
	dialer func(cfg config.Config) (etcdadmin.Dialer, error)

	// workload returns the etcd service of the unit.
	workload func(cfg config.Config) (workload.Workload, error)
}

var defaultEnvironment = environment{
	openBus:  openRedisBus,
	dialer:   netDialer,
	workload: commandWorkload,
}

func openRedisBus(cfg config.Config) (PeerBus, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	bus, err := redisbus.NewBus(redisbus.Config{
		Client:   client,
		Prefix:   cfg.Redis.Prefix,
		Unit:     cfg.Unit,
		LeaseTTL: cfg.Redis.LeaseTTL,
		Logger:   loggo.GetLogger("etcd.peerbus.redis"),
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Trace(err)
	}
	return bus, client.Close, nil
}

func netDialer(cfg config.Config) (etcdadmin.Dialer, error) {
	store, err := truststore.New(cfg.TLSDir, loggo.GetLogger("etcd.truststore"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	paths := store.Paths(cluster.Client)
	dialer, err := etcdadmin.NewDialer(etcdadmin.DialerConfig{
		DialTimeout:    cfg.Admin.DialTimeout,
		RequestTimeout: cfg.Admin.RequestTimeout,
		ClientTLS: transport.TLSInfo{
			CertFile:      paths.Certificate,
			KeyFile:       paths.Key,
			TrustedCAFile: paths.CA,
		},
		Logger: loggo.GetLogger("etcd.admin"),
	})
	return dialer, errors.Trace(err)
}

func commandWorkload(cfg config.Config) (workload.Workload, error) {
	service, err := workload.NewService(workload.Config{
		Commands:    cfg.Workload,
		Environment: append(os.Environ(), "ETCD_CONFIG_FILE="+cfg.EtcdConfigFile),
		Runner:      workload.DefaultRunner,
		Logger:      loggo.GetLogger("etcd.workload"),
	})
	return service, errors.Trace(err)
}

// agentCommand is embedded by every command that acts for the unit named
// in the agent configuration.
type agentCommand struct {
	cmd.CommandBase
	env environment

	configFile cmd.FileVar
}

// SetFlags implements cmd.Command.
func (c *agentCommand) SetFlags(f *gnuflag.FlagSet) {
	c.configFile.Path = DefaultConfigPath
	f.Var(&c.configFile, "config", "Path to the agent configuration file")
}

// readConfig reads and validates the agent configuration.
func (c *agentCommand) readConfig(ctx *cmd.Context) (config.Config, error) {
	cfg, err := config.Read(ctx.AbsPath(c.configFile.Path))
	return cfg, errors.Trace(err)
}

// withBus reads the configuration and calls fn with the unit's bus open.
func (c *agentCommand) withBus(ctx *cmd.Context, fn func(config.Config, PeerBus) error) error {
	cfg, err := c.readConfig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	bus, release, err := c.env.openBus(cfg)
	if err != nil {
		return errors.Annotate(err, "opening peer bus")
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warningf("closing peer bus: %v", err)
		}
	}()
	return fn(cfg, bus)
}

// observe reads a snapshot of the bus as seen by the unit without
// claiming leadership.
func observe(ctx *cmd.Context, bus PeerBus) (cluster.Snapshot, error) {
	snap, err := peerbus.Observe(ctx, bus, peerbus.Observing(bus, bus.Unit()))
	return snap, errors.Trace(err)
}
