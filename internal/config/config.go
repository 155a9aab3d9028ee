// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the coordinator's agent configuration file.
package config

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"gopkg.in/yaml.v3"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/workload"
)

const (
	DefaultRedisPrefix          = "etcd"
	DefaultLeaseTTL             = 15 * time.Second
	DefaultDialTimeout          = 5 * time.Second
	DefaultRequestTimeout       = 10 * time.Second
	DefaultUpdateStatusInterval = 5 * time.Minute
	DefaultMetricsAddress       = "127.0.0.1:9187"
	DefaultLoggingConfig        = "<root>=INFO"
	DefaultModel                = "default"

	deferredQueueFile = "deferred.db"
	statusFile        = "status.yaml"
)

// Redis locates the peer bus.
type Redis struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
	LeaseTTL time.Duration `yaml:"lease-ttl,omitempty"`
}

// Admin tunes the etcd admin client.
type Admin struct {
	DialTimeout    time.Duration `yaml:"dial-timeout,omitempty"`
	RequestTimeout time.Duration `yaml:"request-timeout,omitempty"`
}

// Membership tunes the bounded retries of membership operations. Zero
// values take the membership package defaults.
type Membership struct {
	RemoveAttempts int           `yaml:"remove-attempts,omitempty"`
	RemoveDelay    time.Duration `yaml:"remove-delay,omitempty"`
	RemoveMaxDelay time.Duration `yaml:"remove-max-delay,omitempty"`
	HealthAttempts int           `yaml:"health-attempts,omitempty"`
	HealthDelay    time.Duration `yaml:"health-delay,omitempty"`
}

// Config is the agent configuration of one unit.
type Config struct {
	Unit  string `yaml:"unit"`
	Model string `yaml:"model,omitempty"`

	// Address is the IP address peers and clients reach the unit on.
	Address string `yaml:"address"`
	// Hostname defaults to the host's name.
	Hostname string `yaml:"hostname,omitempty"`

	DataDir        string `yaml:"data-dir"`
	StateDir       string `yaml:"state-dir"`
	TLSDir         string `yaml:"tls-dir"`
	CertificateDir string `yaml:"certificate-dir"`
	EtcdConfigFile string `yaml:"etcd-config-file"`
	EtcdLogLevel   string `yaml:"etcd-log-level,omitempty"`

	// PrivateKeyFiles optionally names, per link, a file holding the
	// private key to use instead of the one the authority hands out.
	PrivateKeyFiles map[cluster.LinkType]string `yaml:"private-key-files,omitempty"`

	Redis      Redis             `yaml:"redis"`
	Admin      Admin             `yaml:"admin,omitempty"`
	Membership Membership        `yaml:"membership,omitempty"`
	Workload   workload.Commands `yaml:"workload"`

	UpdateStatusInterval time.Duration `yaml:"update-status-interval,omitempty"`
	MetricsAddress       string        `yaml:"metrics-address,omitempty"`
	LoggingConfig        string        `yaml:"logging-config,omitempty"`
}

// Read parses, defaults and validates the configuration file at path.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, errors.NotFoundf("config file %q", path)
	} else if err != nil {
		return Config{}, errors.Trace(err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing %q", path)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Annotatef(err, "validating %q", path)
	}
	return cfg, nil
}

// WithDefaults returns a copy of the config with unset optional values
// defaulted.
func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Redis.LeaseTTL == 0 {
		c.Redis.LeaseTTL = DefaultLeaseTTL
	}
	if c.Admin.DialTimeout == 0 {
		c.Admin.DialTimeout = DefaultDialTimeout
	}
	if c.Admin.RequestTimeout == 0 {
		c.Admin.RequestTimeout = DefaultRequestTimeout
	}
	if c.UpdateStatusInterval == 0 {
		c.UpdateStatusInterval = DefaultUpdateStatusInterval
	}
	if c.MetricsAddress == "" {
		c.MetricsAddress = DefaultMetricsAddress
	}
	if c.LoggingConfig == "" {
		c.LoggingConfig = DefaultLoggingConfig
	}
	if c.EtcdConfigFile == "" && c.DataDir != "" {
		c.EtcdConfigFile = filepath.Join(c.DataDir, "etcd.conf.yml")
	}
	return c
}

// Validate returns an error if the config cannot run a coordinator.
func (c Config) Validate() error {
	if !names.IsValidUnit(c.Unit) {
		return errors.NotValidf("unit name %q", c.Unit)
	}
	if net.ParseIP(c.Address) == nil {
		return errors.NotValidf("address %q", c.Address)
	}
	for name, dir := range map[string]string{
		"data-dir":         c.DataDir,
		"state-dir":        c.StateDir,
		"tls-dir":          c.TLSDir,
		"certificate-dir":  c.CertificateDir,
		"etcd-config-file": c.EtcdConfigFile,
	} {
		if dir == "" {
			return errors.NotValidf("empty %s", name)
		}
	}
	for link := range c.PrivateKeyFiles {
		if err := link.Validate(); err != nil {
			return errors.Annotate(err, "private-key-files")
		}
	}
	if c.Redis.Address == "" {
		return errors.NotValidf("empty redis address")
	}
	if c.Redis.LeaseTTL <= 0 {
		return errors.NotValidf("non-positive redis lease-ttl")
	}
	if c.Admin.DialTimeout <= 0 || c.Admin.RequestTimeout <= 0 {
		return errors.NotValidf("non-positive admin timeout")
	}
	if c.Membership.RemoveAttempts < 0 || c.Membership.HealthAttempts < 0 {
		return errors.NotValidf("negative membership attempts")
	}
	if c.UpdateStatusInterval <= 0 {
		return errors.NotValidf("non-positive update-status-interval")
	}
	return errors.Annotate(c.Workload.Validate(), "workload")
}

// DeferredQueuePath is where the deferred event queue is persisted.
func (c Config) DeferredQueuePath() string {
	return filepath.Join(c.StateDir, deferredQueueFile)
}

// StatusFilePath is where the unit's workload status is published.
func (c Config) StatusFilePath() string {
	return filepath.Join(c.StateDir, statusFile)
}

// PrivateKeys reads the configured private key files.
func (c Config) PrivateKeys() (map[cluster.LinkType]string, error) {
	keys := make(map[cluster.LinkType]string, len(c.PrivateKeyFiles))
	for link, path := range c.PrivateKeyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "reading %s private key", link)
		}
		keys[link] = string(data)
	}
	return keys, nil
}
