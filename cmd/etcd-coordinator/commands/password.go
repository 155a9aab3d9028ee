// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"

	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/config"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
	"github.com/juju/etcd-coordinator/internal/membership"
)

type getPasswordCommand struct {
	agentCommand
}

func newGetPasswordCommand(env environment) *getPasswordCommand {
	return &getPasswordCommand{agentCommand{env: env}}
}

// Info implements cmd.Command.
func (c *getPasswordCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "get-password",
		Purpose: "Print the password of the internal admin user.",
	}
}

// Init implements cmd.Command.
func (c *getPasswordCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *getPasswordCommand) Run(ctx *cmd.Context) error {
	return c.withBus(ctx, func(_ config.Config, bus PeerBus) error {
		snap, err := observe(ctx, bus)
		if err != nil {
			return errors.Trace(err)
		}
		if snap.Cluster.AdminPassword == "" {
			return errors.NotFoundf("admin password")
		}
		_, err = fmt.Fprintln(ctx.Stdout, snap.Cluster.AdminPassword)
		return errors.Trace(err)
	})
}

const setPasswordDoc = `
Set the password of the internal admin user, on etcd and on the peer bus.
A random password is generated when --password is not given. Only the
leader unit can change the password.
`

type setPasswordCommand struct {
	agentCommand
	password string
}

func newSetPasswordCommand(env environment) *setPasswordCommand {
	return &setPasswordCommand{agentCommand: agentCommand{env: env}}
}

// Info implements cmd.Command.
func (c *setPasswordCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "set-password",
		Purpose: "Set the password of the internal admin user.",
		Doc:     setPasswordDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *setPasswordCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	f.StringVar(&c.password, "password", "", "The new password")
}

// Init implements cmd.Command.
func (c *setPasswordCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *setPasswordCommand) Run(ctx *cmd.Context) error {
	password := c.password
	if password == "" {
		var err error
		if password, err = utils.RandomPassword(); err != nil {
			return errors.Annotate(err, "generating password")
		}
	}
	return c.withBus(ctx, func(cfg config.Config, bus PeerBus) error {
		dialer, err := c.env.dialer(cfg)
		if err != nil {
			return errors.Trace(err)
		}
		members, err := membership.NewCoordinator(membershipConfig(cfg, bus, peerbus.Observing(bus, cfg.Unit), dialer,
			loggo.GetLogger("etcd.membership")))
		if err != nil {
			return errors.Trace(err)
		}
		err = members.UpdateCredentials(ctx, password)
		if errors.Is(err, coreerrors.NotLeader) {
			return errors.Errorf("unit %s is not the leader, run set-password on the leader", cfg.Unit)
		} else if err != nil {
			return errors.Trace(err)
		}
		ctx.Infof("admin password updated")
		return nil
	})
}

// membershipConfig returns the membership configuration of the agent,
// filling unset retry tunables with the package defaults.
func membershipConfig(
	cfg config.Config, bus peerbus.Bus, leadership peerbus.Leadership, dialer etcdadmin.Dialer, logger membership.Logger,
) membership.Config {
	result := membership.Config{
		Bus:            bus,
		Leadership:     leadership,
		Dialer:         dialer,
		Clock:          clock.WallClock,
		Logger:         logger,
		RemoveAttempts: cfg.Membership.RemoveAttempts,
		RemoveDelay:    cfg.Membership.RemoveDelay,
		RemoveMaxDelay: cfg.Membership.RemoveMaxDelay,
		HealthAttempts: cfg.Membership.HealthAttempts,
		HealthDelay:    cfg.Membership.HealthDelay,
	}
	if result.RemoveAttempts == 0 {
		result.RemoveAttempts = membership.DefaultRemoveAttempts
	}
	if result.RemoveDelay == 0 {
		result.RemoveDelay = membership.DefaultRemoveDelay
	}
	if result.RemoveMaxDelay == 0 {
		result.RemoveMaxDelay = membership.DefaultRemoveMaxDelay
	}
	if result.HealthAttempts == 0 {
		result.HealthAttempts = membership.DefaultHealthAttempts
	}
	if result.HealthDelay == 0 {
		result.HealthDelay = membership.DefaultHealthDelay
	}
	return result
}
