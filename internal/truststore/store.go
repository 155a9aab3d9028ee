// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package truststore keeps a unit's TLS material on disk: one certificate
// and private key per link, and a CA bundle per link holding every CA the
// unit currently trusts, oldest first. The CA chains of external clients
// are kept apart from the unit's own CAs; the bundle handed to etcd is
// the union of both.
package truststore

import (
	"bytes"
	"crypto/x509"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/pki"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(message string, args ...any)
}

// Paths locates the material of one link.
type Paths struct {
	Certificate string
	Key         string
	// CA holds the CAs that issued the unit's own certificates.
	CA string
	// External holds the CA chains of external clients.
	External string
	// Bundle is CA followed by External.
	Bundle string
}

// Store is the on disk trust store of a unit.
type Store struct {
	dir    string
	logger Logger
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string, logger Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.NotValidf("empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Annotatef(err, "creating trust store %q", dir)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Paths returns where the material of link is kept.
func (s *Store) Paths(link cluster.LinkType) Paths {
	return Paths{
		Certificate: filepath.Join(s.dir, string(link)+".pem"),
		Key:         filepath.Join(s.dir, string(link)+".key"),
		CA:          filepath.Join(s.dir, string(link)+"_ca.pem"),
		External:    filepath.Join(s.dir, string(link)+"_external_ca.pem"),
		Bundle:      filepath.Join(s.dir, string(link)+"_bundle.pem"),
	}
}

// WriteCertificate stores the certificate and private key of link. The key
// must match the certificate.
func (s *Store) WriteCertificate(link cluster.LinkType, certPEM, keyPEM string) error {
	certs, err := pki.ParseCertificates([]byte(certPEM))
	if err != nil {
		return errors.Annotatef(err, "%s certificate", link)
	}
	if len(certs) == 0 {
		return errors.NotValidf("%s certificate without pem data", link)
	}
	key, err := pki.ParsePrivateKey([]byte(keyPEM))
	if err != nil {
		return errors.Annotatef(err, "%s private key", link)
	}
	if !pki.PublicKeysEqual(certs[0].PublicKey, key.Public()) {
		return errors.NotValidf("%s private key not matching certificate", link)
	}
	paths := s.Paths(link)
	if err := utils.AtomicWriteFile(paths.Key, []byte(keyPEM), 0600); err != nil {
		return errors.Annotatef(err, "writing %s key", link)
	}
	if err := utils.AtomicWriteFile(paths.Certificate, []byte(certPEM), 0644); err != nil {
		return errors.Annotatef(err, "writing %s certificate", link)
	}
	s.logger.Debugf("wrote %s certificate %s", link, pki.CertificateFingerprint(certs[0]))
	return nil
}

// Certificate returns the stored certificate of link, or a NotFound error.
func (s *Store) Certificate(link cluster.LinkType) (*x509.Certificate, error) {
	data, err := os.ReadFile(s.Paths(link).Certificate)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("%s certificate", link)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	certs, err := pki.ParseCertificates(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(certs) == 0 {
		return nil, errors.NotFoundf("%s certificate", link)
	}
	return certs[0], nil
}

// CertificateReady reports whether link has a certificate and a matching
// private key on disk.
func (s *Store) CertificateReady(link cluster.LinkType) bool {
	cert, err := s.Certificate(link)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(s.Paths(link).Key)
	if err != nil {
		return false
	}
	key, err := pki.ParsePrivateKey(data)
	if err != nil {
		return false
	}
	return pki.PublicKeysEqual(cert.PublicKey, key.Public())
}

// TrustedCAs returns the CAs trusted for link, oldest first.
func (s *Store) TrustedCAs(link cluster.LinkType) ([]*x509.Certificate, error) {
	return readCertificates(s.Paths(link).CA)
}

func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	certs, err := pki.ParseCertificates(data)
	return certs, errors.Trace(err)
}

// IsNewCA reports whether the first certificate of caPEM is not yet
// trusted for link.
func (s *Store) IsNewCA(link cluster.LinkType, caPEM string) (bool, error) {
	print, _, err := pki.Fingerprint([]byte(caPEM))
	if err != nil {
		return false, errors.Annotatef(err, "%s CA", link)
	}
	cas, err := s.TrustedCAs(link)
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, ca := range cas {
		if pki.CertificateFingerprint(ca) == print {
			return false, nil
		}
	}
	return true, nil
}

// AddTrustedCA appends every certificate of caPEM not yet trusted for link
// to the bundle. It reports whether the bundle changed.
func (s *Store) AddTrustedCA(link cluster.LinkType, caPEM string) (bool, error) {
	add, err := pki.ParseCertificates([]byte(caPEM))
	if err != nil {
		return false, errors.Annotatef(err, "%s CA", link)
	}
	if len(add) == 0 {
		return false, errors.NotValidf("%s CA without pem data", link)
	}
	cas, err := s.TrustedCAs(link)
	if err != nil {
		return false, errors.Trace(err)
	}
	known := make(map[string]bool, len(cas))
	for _, ca := range cas {
		known[pki.CertificateFingerprint(ca)] = true
	}
	changed := false
	for _, ca := range add {
		print := pki.CertificateFingerprint(ca)
		if known[print] {
			continue
		}
		known[print] = true
		cas = append(cas, ca)
		changed = true
		s.logger.Debugf("trusting %s CA %s", link, print)
	}
	if !changed {
		return false, nil
	}
	return true, errors.Trace(s.writeCAs(link, cas))
}

// NewestCA returns the fingerprint of the most recently trusted CA of
// link, or "" if none is trusted.
func (s *Store) NewestCA(link cluster.LinkType) (string, error) {
	cas, err := s.TrustedCAs(link)
	if err != nil || len(cas) == 0 {
		return "", errors.Trace(err)
	}
	return pki.CertificateFingerprint(cas[len(cas)-1]), nil
}

// PruneCAs drops every trusted CA of link except the one with the given
// fingerprint and those in keep, which is usually the CA chains of
// external clients.
func (s *Store) PruneCAs(link cluster.LinkType, fingerprint string, keep ...string) error {
	cas, err := s.TrustedCAs(link)
	if err != nil {
		return errors.Trace(err)
	}
	wanted := map[string]bool{fingerprint: true}
	for _, k := range keep {
		certs, err := pki.ParseCertificates([]byte(k))
		if err != nil {
			return errors.Annotate(err, "parsing kept CA")
		}
		for _, c := range certs {
			wanted[pki.CertificateFingerprint(c)] = true
		}
	}
	var kept []*x509.Certificate
	for _, ca := range cas {
		print := pki.CertificateFingerprint(ca)
		if wanted[print] {
			kept = append(kept, ca)
			continue
		}
		s.logger.Debugf("no longer trusting %s CA %s", link, print)
	}
	if len(kept) == 0 {
		return errors.NotFoundf("%s CA %s", link, fingerprint)
	}
	if len(kept) == len(cas) {
		return nil
	}
	return errors.Trace(s.writeCAs(link, kept))
}

func (s *Store) writeCAs(link cluster.LinkType, cas []*x509.Certificate) error {
	data := pki.EncodeCertificates(cas...)
	if err := utils.AtomicWriteFile(s.Paths(link).CA, data, 0644); err != nil {
		return errors.Annotatef(err, "writing %s CAs", link)
	}
	return errors.Trace(s.writeBundle(link))
}

func (s *Store) writeBundle(link cluster.LinkType) error {
	paths := s.Paths(link)
	own, err := readCertificates(paths.CA)
	if err != nil {
		return errors.Trace(err)
	}
	external, err := readCertificates(paths.External)
	if err != nil {
		return errors.Trace(err)
	}
	seen := make(map[string]bool)
	var all []*x509.Certificate
	for _, ca := range append(own, external...) {
		print := pki.CertificateFingerprint(ca)
		if seen[print] {
			continue
		}
		seen[print] = true
		all = append(all, ca)
	}
	if err := utils.AtomicWriteFile(paths.Bundle, pki.EncodeCertificates(all...), 0644); err != nil {
		return errors.Annotatef(err, "writing %s CA bundle", link)
	}
	return nil
}

// ExternalCAs returns the external client CAs trusted for link.
func (s *Store) ExternalCAs(link cluster.LinkType) ([]*x509.Certificate, error) {
	return readCertificates(s.Paths(link).External)
}

// SetExternalCAs replaces the external client CAs trusted for link with
// the certificates of chains. It reports whether the set changed.
func (s *Store) SetExternalCAs(link cluster.LinkType, chains []string) (bool, error) {
	var want []*x509.Certificate
	wanted := make(map[string]bool)
	for _, chain := range chains {
		certs, err := pki.ParseCertificates([]byte(chain))
		if err != nil {
			return false, errors.Annotatef(err, "%s external CA", link)
		}
		for _, ca := range certs {
			print := pki.CertificateFingerprint(ca)
			if wanted[print] {
				continue
			}
			wanted[print] = true
			want = append(want, ca)
		}
	}
	current, err := s.ExternalCAs(link)
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(current) == len(want) {
		same := true
		for _, ca := range current {
			if !wanted[pki.CertificateFingerprint(ca)] {
				same = false
				break
			}
		}
		if same {
			return false, nil
		}
	}
	path := s.Paths(link).External
	if len(want) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return false, errors.Annotatef(err, "removing %s", path)
		}
	} else if err := utils.AtomicWriteFile(path, pki.EncodeCertificates(want...), 0644); err != nil {
		return false, errors.Annotatef(err, "writing %s external CAs", link)
	}
	s.logger.Debugf("trusting %d external %s CAs", len(want), link)
	return true, errors.Trace(s.writeBundle(link))
}

// Delete removes every piece of material of link.
func (s *Store) Delete(link cluster.LinkType) error {
	paths := s.Paths(link)
	for _, path := range []string{paths.Certificate, paths.Key, paths.CA, paths.External, paths.Bundle} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Annotatef(err, "removing %s", path)
		}
	}
	s.logger.Debugf("deleted %s material", link)
	return nil
}

// SameCertificate reports whether certPEM is the certificate stored for
// link.
func (s *Store) SameCertificate(link cluster.LinkType, certPEM string) bool {
	data, err := os.ReadFile(s.Paths(link).Certificate)
	if err != nil {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(data), bytes.TrimSpace([]byte(certPEM)))
}
