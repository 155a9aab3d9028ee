// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pki handles the certificate material a unit receives from its
// certificate authority: PEM parsing, CA fingerprints, private key checks
// and the request a unit sends for a link certificate.
package pki

import (
	"net"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Request is what a unit asks its certificate authority for. Organization
// names the link the certificate is for.
type Request struct {
	CommonName   string   `yaml:"common_name"`
	Organization string   `yaml:"organization"`
	IPAddresses  []string `yaml:"ip_addresses,omitempty"`
	DNSNames     []string `yaml:"dns_names,omitempty"`
}

// Validate returns an error if the request cannot be signed.
func (r Request) Validate() error {
	if r.CommonName == "" {
		return errors.NotValidf("empty common name")
	}
	if len(r.CommonName) > 64 {
		return errors.NotValidf("common name %q longer than 64 characters", r.CommonName)
	}
	for _, ip := range r.IPAddresses {
		if net.ParseIP(ip) == nil {
			return errors.NotValidf("ip address %q", ip)
		}
	}
	return nil
}

// Normalize returns the request with duplicate and empty SANs dropped and
// the rest sorted, so that equal requests compare equal.
func (r Request) Normalize() Request {
	r.IPAddresses = sortedNonEmpty(r.IPAddresses)
	r.DNSNames = sortedNonEmpty(r.DNSNames)
	return r
}

// IPs returns the parsed IP SANs. Unparseable values are skipped.
func (r Request) IPs() []net.IP {
	var ips []net.IP
	for _, s := range r.IPAddresses {
		if ip := net.ParseIP(s); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

func sortedNonEmpty(values []string) []string {
	s := set.NewStrings(values...)
	s.Remove("")
	if s.IsEmpty() {
		return nil
	}
	return s.SortedValues()
}
