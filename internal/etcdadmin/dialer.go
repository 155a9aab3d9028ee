// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package etcdadmin

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"go.etcd.io/etcd/client/pkg/v3/transport"
)

// DialerConfig holds the settings shared by every client a NetDialer
// opens.
type DialerConfig struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration

	// ClientTLS locates the unit's client certificate, key and CA bundle.
	// It is used whenever an endpoint is https.
	ClientTLS transport.TLSInfo

	Logger Logger
}

// Validate returns an error if the config cannot create a NetDialer.
func (c DialerConfig) Validate() error {
	if c.DialTimeout <= 0 {
		return errors.NotValidf("non-positive DialTimeout")
	}
	if c.RequestTimeout <= 0 {
		return errors.NotValidf("non-positive RequestTimeout")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// NetDialer opens EtcdClients over the network.
type NetDialer struct {
	config DialerConfig
}

var _ Dialer = (*NetDialer)(nil)

// NewDialer returns a NetDialer.
func NewDialer(config DialerConfig) (*NetDialer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &NetDialer{config: config}, nil
}

// Dial is part of Dialer.
func (d *NetDialer) Dial(_ context.Context, opts DialOpts) (Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.NotValidf("empty endpoints")
	}
	config := Config{
		Endpoints:      opts.Endpoints,
		Username:       opts.Username,
		Password:       opts.Password,
		DialTimeout:    d.config.DialTimeout,
		RequestTimeout: d.config.RequestTimeout,
		Logger:         d.config.Logger,
	}
	if anySecure(opts.Endpoints) {
		tlsConfig, err := d.config.ClientTLS.ClientConfig()
		if err != nil {
			return nil, errors.Annotate(err, "loading client TLS material")
		}
		config.TLS = tlsConfig
	}
	client, err := NewClient(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return client, nil
}

func anySecure(endpoints []string) bool {
	for _, ep := range endpoints {
		if strings.HasPrefix(ep, "https://") {
			return true
		}
	}
	return false
}
