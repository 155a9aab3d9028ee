// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package errors holds the error types shared by the cluster coordinator.
// Each is an errors.ConstError so that callers can test with errors.Is,
// regardless of how many annotations were added on the way up.
package errors

import (
	"github.com/juju/errors"
)

const (
	// ClusterManagement is raised when an admin call that changes cluster
	// membership (member add/promote/remove/update, leader move) fails.
	ClusterManagement = errors.ConstError("cluster management failed")

	// RaftLeaderNotFound is raised when no endpoint reports a usable raft
	// leader id.
	RaftLeaderNotFound = errors.ConstError("raft leader not found")

	// UserManagement is raised when an auth, user or role call fails.
	UserManagement = errors.ConstError("user management failed")

	// AuthNotEnabled is raised when authentication could not be enabled.
	AuthNotEnabled = errors.ConstError("authentication not enabled")

	// MissingUnitData is raised when a unit's record lacks the fields
	// required for an operation, usually because the unit has not yet
	// published its identity.
	MissingUnitData = errors.ConstError("missing unit data")

	// HealthCheckFailed is used inside the health check retries. It never
	// escapes IsHealthy.
	HealthCheckFailed = errors.ConstError("health check failed")

	// LearnerPending is raised when a member add is attempted while a
	// learner is still waiting to be promoted.
	LearnerPending = errors.ConstError("learner pending")

	// NotLeader is raised when a unit which is not the elected leader
	// attempts to write application data.
	NotLeader = errors.ConstError("not the leader")
)

// Wrap annotates err with msg and marks the result as being of the given
// type, keeping err as the cause.
func Wrap(err error, errType errors.ConstError, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Annotatef(errors.WithType(err, errType), format, args...)
}

// New returns a new error of the given type with a formatted message.
func New(errType errors.ConstError, format string, args ...any) error {
	return errors.WithType(errors.Errorf(format, args...), errType)
}
