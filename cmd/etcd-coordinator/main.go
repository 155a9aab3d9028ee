// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/etcd-coordinator/cmd/etcd-coordinator/commands"
	"github.com/juju/etcd-coordinator/internal/cmd"
)

func main() {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(cmd.Main(commands.NewSuperCommand(), ctx, os.Args[1:]))
}
