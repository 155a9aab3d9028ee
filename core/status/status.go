// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"time"

	"github.com/juju/loggo/v2"
)

// Status represents the workload status of a unit as reported by the
// coordinator.
type Status string

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

const (
	// Unknown is set before the coordinator has evaluated anything.
	Unknown Status = "unknown"

	// Maintenance is set when:
	// The unit is not yet providing services, but is actively doing stuff
	// in preparation for providing those services.
	// This is a "spinning" state, not an error state.
	Maintenance Status = "maintenance"

	// Waiting is set when:
	// The unit is unable to progress because it depends on peer state
	// that has not been observed yet.
	Waiting Status = "waiting"

	// Blocked is set when:
	// The unit needs manual intervention to get back to the Active state.
	Blocked Status = "blocked"

	// Active is set when:
	// The unit believes it is correctly offering all the services it has
	// been asked to offer.
	Active Status = "active"
)

// ValidWorkloadStatus returns true if status has a valid value (that is to
// say, a value that it's OK to set) for units.
func ValidWorkloadStatus(status Status) bool {
	switch status {
	case
		Blocked,
		Maintenance,
		Waiting,
		Active,
		Unknown:
		return true
	default:
		return false
	}
}

// StatusInfo holds a Status and associated information.
type StatusInfo struct {
	Status  Status
	Message string
	Since   *time.Time
}

// StatusSetter represents a type whose status can be set.
type StatusSetter interface {
	SetStatus(StatusInfo) error
}

// Level pairs a status with the log level used when the coordinator enters
// it, so that persistent failures are visible in the logs as well as in
// the status output.
type Level struct {
	Status   Status
	Message  string
	LogLevel loggo.Level
}

// Info returns the StatusInfo for the level, stamped with now.
func (l Level) Info(now time.Time) StatusInfo {
	return StatusInfo{
		Status:  l.Status,
		Message: l.Message,
		Since:   &now,
	}
}

var (
	Ready = Level{Active, "", loggo.DEBUG}

	AuthenticationNotEnabled = Level{Blocked, "failed to enable authentication in etcd", loggo.ERROR}
	ServiceNotInstalled      = Level{Blocked, "unable to install etcd", loggo.ERROR}
	ServiceNotRunning        = Level{Blocked, "etcd service not running", loggo.ERROR}
	NoPeerRelation           = Level{Maintenance, "no peer relation available", loggo.DEBUG}
	ClusterNotJoined         = Level{Waiting, "waiting to join the cluster", loggo.DEBUG}
	LearnerNotPromoted       = Level{Maintenance, "waiting for promotion to voting member", loggo.DEBUG}
	HealthCheckFailed        = Level{Maintenance, "cluster health check failed", loggo.WARNING}
	ClusterNotHealthy        = Level{Blocked, "etcd cluster is not healthy", loggo.ERROR}
	MemberRemovalFailed      = Level{Blocked, "unable to remove member from the cluster", loggo.ERROR}

	EnablingPeerTLS     = Level{Maintenance, "enabling peer TLS", loggo.DEBUG}
	EnablingClientTLS   = Level{Maintenance, "enabling client TLS", loggo.DEBUG}
	DisablingPeerTLS    = Level{Maintenance, "disabling peer TLS", loggo.DEBUG}
	DisablingClientTLS  = Level{Maintenance, "disabling client TLS", loggo.DEBUG}
	RotatingPeerCA      = Level{Maintenance, "rotating peer CA", loggo.DEBUG}
	RotatingClientCA    = Level{Maintenance, "rotating client CA", loggo.DEBUG}
	TLSInvalidKey       = Level{Blocked, "invalid private key provided for TLS", loggo.ERROR}
	TLSNotEnabledClient = Level{Blocked, "client TLS must be enabled for managed users", loggo.ERROR}
	RestartPending      = Level{Maintenance, "waiting for restart", loggo.DEBUG}
)
