// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/etcd-coordinator/internal/cmd"
)

const runDoc = `
Run the coordinator of the unit named in the agent configuration until
the unit leaves the cluster or the process is interrupted.

The unit leaves the cluster when the "relations/cluster" marker is
removed from the certificate directory.
`

type runCommand struct {
	agentCommand
}

func newRunCommand(env environment) *runCommand {
	return &runCommand{agentCommand{env: env}}
}

// Info implements cmd.Command.
func (c *runCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "run",
		Purpose: "Run the coordinator for this unit.",
		Doc:     runDoc,
	}
}

// Init implements cmd.Command.
func (c *runCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *runCommand) Run(ctx *cmd.Context) error {
	cfg, err := c.readConfig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
		return errors.Annotate(err, "configuring logging")
	}
	hostname := cfg.Hostname
	if hostname == "" {
		if hostname, err = os.Hostname(); err != nil {
			return errors.Annotate(err, "reading hostname")
		}
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
	dialer, err := c.env.dialer(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	service, err := c.env.workload(cfg)
	if err != nil {
		return errors.Trace(err)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(stopCtx, agentParams{
		Config:   cfg,
		Hostname: hostname,
		Bus:      bus,
		Dialer:   dialer,
		Workload: service,
	})
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("coordinator for %s started, metrics on %s", cfg.Unit, a.metrics.Addr())

	finished := make(chan error, 1)
	go func() {
		finished <- a.Wait()
	}()
	select {
	case <-stopCtx.Done():
		logger.Infof("stopping coordinator for %s", cfg.Unit)
		a.Kill()
		return errors.Trace(<-finished)
	case err := <-finished:
		return errors.Trace(err)
	}
}
