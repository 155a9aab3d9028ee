// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workload drives the etcd service of a unit through shell
// commands.
package workload

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/exec"
)

// Workload is the etcd service on the unit's host.
type Workload interface {
	// Install makes the service available on the host.
	Install(ctx context.Context) error
	// Start starts the service.
	Start(ctx context.Context) error
	// Stop stops the service.
	Stop(ctx context.Context) error
	// Restart restarts the service so that it reads its configuration
	// again.
	Restart(ctx context.Context) error
	// Alive reports whether the service is running.
	Alive(ctx context.Context) bool
}

// CommandRunner runs commands on the underlying system.
type CommandRunner interface {
	RunCommands(run exec.RunParams) (*exec.ExecResponse, error)
}

type defaultRunner struct{}

// RunCommands executes the Commands specified in the RunParams using
// '/bin/bash -s', passing the commands through as stdin, and collecting
// stdout and stderr.
func (defaultRunner) RunCommands(run exec.RunParams) (*exec.ExecResponse, error) {
	return exec.RunCommands(run)
}

// DefaultRunner runs commands with utils/exec.
var DefaultRunner CommandRunner = defaultRunner{}

// Commands holds the shell commands for each service operation. An
// empty Install command means there is nothing to install.
type Commands struct {
	Install string `yaml:"install,omitempty"`
	Start   string `yaml:"start"`
	Stop    string `yaml:"stop"`
	Restart string `yaml:"restart"`
	Status  string `yaml:"status"`
}

// Validate checks that every required command is set.
func (c Commands) Validate() error {
	for name, cmd := range map[string]string{
		"start":   c.Start,
		"stop":    c.Stop,
		"restart": c.Restart,
		"status":  c.Status,
	} {
		if strings.TrimSpace(cmd) == "" {
			return errors.NotValidf("empty %s command", name)
		}
	}
	return nil
}

// Logger is the logging interface used by the service.
type Logger interface {
	Debugf(string, ...any)
	Warningf(string, ...any)
}

// Config holds the dependencies of a Service.
type Config struct {
	Commands    Commands
	Environment []string
	Runner      CommandRunner
	Logger      Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if err := c.Commands.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Service is a Workload driven by shell commands.
type Service struct {
	config Config
}

var _ Workload = (*Service)(nil)

// NewService returns a Service for the given config.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Service{config: config}, nil
}

func (s *Service) run(ctx context.Context, name, commands string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	s.config.Logger.Debugf("running workload %s command", name)
	result, err := s.config.Runner.RunCommands(exec.RunParams{
		Commands:    commands,
		Environment: s.config.Environment,
	})
	if err != nil {
		return errors.Annotatef(err, "running %s command", name)
	}
	if result.Code != 0 {
		return errors.Errorf("%s command failed with code %d: %s",
			name, result.Code, strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}

// Install implements Workload.
func (s *Service) Install(ctx context.Context) error {
	if s.config.Commands.Install == "" {
		return nil
	}
	return s.run(ctx, "install", s.config.Commands.Install)
}

// Start implements Workload.
func (s *Service) Start(ctx context.Context) error {
	return s.run(ctx, "start", s.config.Commands.Start)
}

// Stop implements Workload.
func (s *Service) Stop(ctx context.Context) error {
	return s.run(ctx, "stop", s.config.Commands.Stop)
}

// Restart implements Workload.
func (s *Service) Restart(ctx context.Context) error {
	return s.run(ctx, "restart", s.config.Commands.Restart)
}

// Alive implements Workload. A failing status command means the service
// is not running.
func (s *Service) Alive(ctx context.Context) bool {
	if err := s.run(ctx, "status", s.config.Commands.Status); err != nil {
		s.config.Logger.Debugf("workload not alive: %v", err)
		return false
	}
	return true
}
