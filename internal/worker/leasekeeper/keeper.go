// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package leasekeeper keeps a unit's leadership lease alive between
// events. Leadership leases expire unless their holder extends them, and
// a quiet cluster may go much longer than a lease term without any event
// that checks leadership.
package leasekeeper

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/etcd-coordinator/core/peerbus"
)

// Logger represents the logging methods called.
type Logger interface {
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies and parameters of a Keeper.
type Config struct {
	// Leadership claims the lease when it is vacant and extends it when
	// the unit already holds it.
	Leadership peerbus.Leadership
	Clock      clock.Clock
	Logger     Logger

	// Interval must be well inside the lease term; a third of it leaves
	// room for one failed refresh.
	Interval time.Duration
}

// Validate returns an error if the config cannot start a Keeper.
func (c Config) Validate() error {
	if c.Leadership == nil {
		return errors.NotValidf("nil Leadership")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	return nil
}

// Keeper refreshes the leadership lease on a fixed interval.
type Keeper struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewKeeper starts a Keeper.
func NewKeeper(config Config) (*Keeper, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	k := &Keeper{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &k.catacomb,
		Work: k.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return k, nil
}

func (k *Keeper) loop() error {
	ctx, cancel := context.WithCancel(k.catacomb.Context(context.Background()))
	defer cancel()

	leader := false
	for {
		// A failed refresh is retried on the next tick; the lease outlives
		// a single miss.
		held, err := k.config.Leadership.IsLeader(ctx)
		switch {
		case err != nil:
			k.config.Logger.Warningf("refreshing leadership: %v", err)
		case held != leader:
			leader = held
			if held {
				k.config.Logger.Infof("holding leadership")
			} else {
				k.config.Logger.Infof("leadership held elsewhere")
			}
		}
		select {
		case <-k.catacomb.Dying():
			return k.catacomb.ErrDying()
		case <-k.config.Clock.After(k.config.Interval):
		}
	}
}

// Kill is part of the worker.Worker interface.
func (k *Keeper) Kill() {
	k.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (k *Keeper) Wait() error {
	return k.catacomb.Wait()
}
