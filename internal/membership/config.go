// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package membership

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/peerbus"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
)

const (
	// DefaultRemoveAttempts is how often a self removal is tried before
	// the failure is surfaced.
	DefaultRemoveAttempts = 10

	// DefaultRemoveDelay is the delay before the first removal retry. It
	// doubles on every attempt up to DefaultRemoveMaxDelay.
	DefaultRemoveDelay = time.Second

	// DefaultRemoveMaxDelay caps the removal backoff.
	DefaultRemoveMaxDelay = 10 * time.Second

	// DefaultHealthAttempts is how often a health check is tried.
	DefaultHealthAttempts = 5

	// DefaultHealthDelay is the fixed delay between health checks.
	DefaultHealthDelay = 5 * time.Second
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies and tunables of a Coordinator.
type Config struct {
	Bus        peerbus.Bus
	Leadership peerbus.Leadership
	Dialer     etcdadmin.Dialer
	Clock      clock.Clock
	Logger     Logger

	RemoveAttempts int
	RemoveDelay    time.Duration
	RemoveMaxDelay time.Duration

	HealthAttempts int
	HealthDelay    time.Duration
}

// Validate returns an error if the config cannot be used to start a
// Coordinator.
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
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.RemoveAttempts <= 0 {
		return errors.NotValidf("non-positive RemoveAttempts")
	}
	if c.RemoveDelay <= 0 {
		return errors.NotValidf("non-positive RemoveDelay")
	}
	if c.RemoveMaxDelay < c.RemoveDelay {
		return errors.NotValidf("RemoveMaxDelay shorter than RemoveDelay")
	}
	if c.HealthAttempts <= 0 {
		return errors.NotValidf("non-positive HealthAttempts")
	}
	if c.HealthDelay <= 0 {
		return errors.NotValidf("non-positive HealthDelay")
	}
	return nil
}

// WithDefaults returns a copy of the config with every unset tunable set
// to its default.
func (c Config) WithDefaults() Config {
	if c.RemoveAttempts == 0 {
		c.RemoveAttempts = DefaultRemoveAttempts
	}
	if c.RemoveDelay == 0 {
		c.RemoveDelay = DefaultRemoveDelay
	}
	if c.RemoveMaxDelay == 0 {
		c.RemoveMaxDelay = DefaultRemoveMaxDelay
	}
	if c.HealthAttempts == 0 {
		c.HealthAttempts = DefaultHealthAttempts
	}
	if c.HealthDelay == 0 {
		c.HealthDelay = DefaultHealthDelay
	}
	return c
}
