// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package commands holds the etcd-coordinator command line.
package commands

import (
	"github.com/juju/loggo/v2"

	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/config"
)

var logger = loggo.GetLogger("etcd.cmd.coordinator")

// Version is the version of the etcd-coordinator binary.
const Version = "0.1.0"

const superDoc = `
etcd-coordinator runs next to an etcd member and coordinates it with the
other units of the application: membership, TLS on the peer and client
links, CA rotation, rolling restarts and external client users.

Units coordinate through a shared Redis peer bus. Certificates and client
relation requests are exchanged through the certificate directory.
`

// NewSuperCommand returns the etcd-coordinator command with every
// subcommand registered.
func NewSuperCommand() *cmd.SuperCommand {
	return newSuperCommand(defaultEnvironment)
}

func newSuperCommand(env environment) *cmd.SuperCommand {
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "etcd-coordinator",
		Purpose: "Coordinate an etcd cluster across units.",
		Doc:     superDoc,
		Log:     &cmd.Log{DefaultConfig: config.DefaultLoggingConfig},
		Version: Version,
		NotifyRun: func(name string) {
			logger.Debugf("running %s", name)
		},
	})
	super.Register(newRunCommand(env))
	super.Register(newStatusCommand(env))
	super.Register(newGetPasswordCommand(env))
	super.Register(newSetPasswordCommand(env))
	return super
}
