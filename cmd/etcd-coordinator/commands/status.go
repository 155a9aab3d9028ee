// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"sort"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/cmd"
	"github.com/juju/etcd-coordinator/internal/config"
	"github.com/juju/etcd-coordinator/internal/worker/coordinator"
)

const statusDoc = `
Show the unit's workload status together with the cluster as recorded on
the peer bus. Reading the status never takes part in leader election.
`

type statusCommand struct {
	agentCommand
	out cmd.Output
}

func newStatusCommand(env environment) *statusCommand {
	return &statusCommand{agentCommand: agentCommand{env: env}}
}

// Info implements cmd.Command.
func (c *statusCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "status",
		Purpose: "Show the unit and cluster status.",
		Doc:     statusDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *statusCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
}

// Init implements cmd.Command.
func (c *statusCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

type workloadStatus struct {
	Status  string     `yaml:"status" json:"status"`
	Message string     `yaml:"message,omitempty" json:"message,omitempty"`
	Since   *time.Time `yaml:"since,omitempty" json:"since,omitempty"`
}

type linkStatus struct {
	TLS       string `yaml:"tls" json:"tls"`
	CertReady bool   `yaml:"cert-ready,omitempty" json:"cert-ready,omitempty"`
	Rotation  string `yaml:"ca-rotation" json:"ca-rotation"`
}

type unitStatus struct {
	MemberName     string                `yaml:"member-name,omitempty" json:"member-name,omitempty"`
	Hostname       string                `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	IP             string                `yaml:"ip,omitempty" json:"ip,omitempty"`
	Started        bool                  `yaml:"started" json:"started"`
	Departing      bool                  `yaml:"departing,omitempty" json:"departing,omitempty"`
	Links          map[string]linkStatus `yaml:"links,omitempty" json:"links,omitempty"`
	RestartRequest []string              `yaml:"restart-request,omitempty" json:"restart-request,omitempty"`
}

type clusterStatus struct {
	State          string   `yaml:"state" json:"state"`
	Members        []string `yaml:"members,omitempty" json:"members,omitempty"`
	LearningMember string   `yaml:"learning-member,omitempty" json:"learning-member,omitempty"`
	Authentication bool     `yaml:"authentication" json:"authentication"`
	RestartGranted string   `yaml:"restart-granted,omitempty" json:"restart-granted,omitempty"`
	ClientUsers    []string `yaml:"client-users,omitempty" json:"client-users,omitempty"`
}

type statusOutput struct {
	Unit     string                `yaml:"unit" json:"unit"`
	Leader   string                `yaml:"leader,omitempty" json:"leader,omitempty"`
	Workload workloadStatus        `yaml:"workload" json:"workload"`
	Cluster  clusterStatus         `yaml:"cluster" json:"cluster"`
	Units    map[string]unitStatus `yaml:"units" json:"units"`
}

// Run implements cmd.Command.
func (c *statusCommand) Run(ctx *cmd.Context) error {
	return c.withBus(ctx, func(cfg config.Config, bus PeerBus) error {
		snap, err := observe(ctx, bus)
		if err != nil {
			return errors.Trace(err)
		}
		leader, err := bus.Leader(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		info, err := coordinator.NewStatusFile(cfg.StatusFilePath()).Status()
		if err != nil {
			return errors.Trace(err)
		}
		out := formatStatus(snap)
		out.Leader = leader
		out.Workload = workloadStatus{
			Status:  info.Status.String(),
			Message: info.Message,
			Since:   info.Since,
		}
		return c.out.Write(ctx, out)
	})
}

func formatStatus(snap cluster.Snapshot) statusOutput {
	out := statusOutput{
		Unit: snap.Self,
		Cluster: clusterStatus{
			State:          snap.Cluster.State.String(),
			LearningMember: snap.Cluster.LearningMember,
			Authentication: snap.Cluster.Authentication,
			RestartGranted: snap.Cluster.RestartGranted,
		},
		Units: make(map[string]unitStatus, len(snap.Units)),
	}
	for _, member := range snap.Cluster.Members {
		out.Cluster.Members = append(out.Cluster.Members, member.String())
	}
	for _, user := range snap.Cluster.ManagedUsers {
		out.Cluster.ClientUsers = append(out.Cluster.ClientUsers, user.CommonName)
	}
	sort.Strings(out.Cluster.ClientUsers)

	for name, rec := range snap.Units {
		unit := unitStatus{
			MemberName:     rec.MemberName,
			Hostname:       rec.Hostname,
			IP:             rec.IP,
			Started:        rec.Started,
			Departing:      rec.Departing,
			RestartRequest: rec.RestartRequest,
		}
		if len(rec.Links) > 0 {
			unit.Links = make(map[string]linkStatus, len(rec.Links))
			for link, state := range rec.Links {
				unit.Links[link.String()] = linkStatus{
					TLS:       state.TLS.String(),
					CertReady: state.CertReady,
					Rotation:  state.Rotation.String(),
				}
			}
		}
		out.Units[name] = unit
	}
	return out
}
