// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package etcdconfig renders the etcd configuration file of a unit from
// what the unit observes on the peer bus.
package etcdconfig

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"

	"github.com/juju/etcd-coordinator/core/cluster"
	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/internal/truststore"
)

const (
	// ClusterToken is shared by every member of the cluster.
	ClusterToken = "etcd-cluster"

	tlsMinVersion = "TLS1.2"
	tlsMaxVersion = "TLS1.3"
)

var cipherSuites = []string{
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
}

// TransportSecurity is the TLS section for one link.
type TransportSecurity struct {
	CertFile       string `yaml:"cert-file"`
	KeyFile        string `yaml:"key-file"`
	TrustedCAFile  string `yaml:"trusted-ca-file"`
	ClientCertAuth bool   `yaml:"client-cert-auth"`
	AutoTLS        bool   `yaml:"auto-tls"`
}

// Config is the etcd configuration file.
type Config struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data-dir,omitempty"`

	InitialAdvertisePeerURLs string `yaml:"initial-advertise-peer-urls"`
	InitialClusterState      string `yaml:"initial-cluster-state"`
	InitialCluster           string `yaml:"initial-cluster"`
	InitialClusterToken      string `yaml:"initial-cluster-token"`
	ListenPeerURLs           string `yaml:"listen-peer-urls"`
	ListenClientURLs         string `yaml:"listen-client-urls"`
	AdvertiseClientURLs      string `yaml:"advertise-client-urls"`

	SnapshotCount           int    `yaml:"snapshot-count"`
	HeartbeatInterval       int    `yaml:"heartbeat-interval"`
	ElectionTimeout         int    `yaml:"election-timeout"`
	QuotaBackendBytes       int64  `yaml:"quota-backend-bytes"`
	MaxSnapshots            int    `yaml:"max-snapshots"`
	MaxWALs                 int    `yaml:"max-wals"`
	StrictReconfigCheck     bool   `yaml:"strict-reconfig-check"`
	EnablePprof             bool   `yaml:"enable-pprof"`
	AutoCompactionMode      string `yaml:"auto-compaction-mode"`
	AutoCompactionRetention string `yaml:"auto-compaction-retention"`
	LogLevel                string `yaml:"log-level,omitempty"`

	ClientTransportSecurity *TransportSecurity `yaml:"client-transport-security,omitempty"`
	PeerTransportSecurity   *TransportSecurity `yaml:"peer-transport-security,omitempty"`
	CipherSuites            []string           `yaml:"cipher-suites,omitempty"`
	TLSMinVersion           string             `yaml:"tls-min-version,omitempty"`
	TLSMaxVersion           string             `yaml:"tls-max-version,omitempty"`
}

// Params is what a configuration is built from besides the snapshot.
type Params struct {
	DataDir  string
	LogLevel string
	// Paths locates the TLS material of each link.
	Paths map[cluster.LinkType]truststore.Paths
}

// Build returns the configuration of the observing unit. The unit must
// have published its identity and be listed in the cluster members,
// otherwise MissingUnitData is returned.
func Build(snap cluster.Snapshot, params Params) (Config, error) {
	local := snap.Local()
	if !local.HasIdentity() {
		return Config{}, coreerrors.New(coreerrors.MissingUnitData, "unit %q has no identity", local.Unit)
	}
	if _, ok := snap.Cluster.Members.Get(local.MemberName); !ok {
		return Config{}, coreerrors.New(coreerrors.MissingUnitData, "member %q not in cluster members", local.MemberName)
	}
	members := snap.Cluster.Members.With(cluster.MemberEntry{
		Name:    local.MemberName,
		PeerURL: local.PeerURL(),
	})

	cfg := Config{
		Name:    local.MemberName,
		DataDir: params.DataDir,

		InitialAdvertisePeerURLs: local.PeerURL(),
		InitialClusterState:      string(snap.Cluster.State),
		InitialCluster:           members.String(),
		InitialClusterToken:      ClusterToken,
		ListenPeerURLs:           local.PeerURL(),
		ListenClientURLs:         local.ClientURL(),
		AdvertiseClientURLs:      local.ClientURL(),

		SnapshotCount:           10000,
		HeartbeatInterval:       100,
		ElectionTimeout:         1000,
		MaxSnapshots:            5,
		MaxWALs:                 5,
		EnablePprof:             true,
		AutoCompactionMode:      "periodic",
		AutoCompactionRetention: "1",
		LogLevel:                params.LogLevel,
	}

	secure := false
	for _, link := range cluster.Links {
		if local.TLSState(link) != cluster.TLS {
			continue
		}
		paths, ok := params.Paths[link]
		if !ok {
			return Config{}, errors.NotFoundf("%s certificate paths", link)
		}
		ts := &TransportSecurity{
			CertFile:       paths.Certificate,
			KeyFile:        paths.Key,
			TrustedCAFile:  paths.Bundle,
			ClientCertAuth: true,
		}
		if link == cluster.Peer {
			cfg.PeerTransportSecurity = ts
		} else {
			cfg.ClientTransportSecurity = ts
		}
		secure = true
	}
	if secure {
		cfg.CipherSuites = cipherSuites
		cfg.TLSMinVersion = tlsMinVersion
		cfg.TLSMaxVersion = tlsMaxVersion
	}
	return cfg, nil
}

// Write renders cfg to path. It reports whether the file changed.
func Write(path string, cfg Config) (bool, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return false, errors.Trace(err)
	}
	current, err := os.ReadFile(path)
	if err == nil && string(current) == string(data) {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return false, errors.Annotatef(err, "writing etcd config %q", path)
	}
	return true, nil
}

// Read parses the configuration file at path.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, errors.NotFoundf("etcd config %q", path)
	} else if err != nil {
		return Config{}, errors.Trace(err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing etcd config %q", path)
	}
	return cfg, nil
}
