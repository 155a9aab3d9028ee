// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/config"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
	"github.com/juju/etcd-coordinator/internal/workload"
)

// NewSuperCommandForTest returns the command line with its outside
// resources supplied by the given funcs.
func NewSuperCommandForTest(
	openBus func(config.Config) (PeerBus, func() error, error),
	dialer func(config.Config) (etcdadmin.Dialer, error),
	newWorkload func(config.Config) (workload.Workload, error),
) *cmd.SuperCommand {
	return newSuperCommand(environment{
		openBus:  openBus,
		dialer:   dialer,
		workload: newWorkload,
	})
}
