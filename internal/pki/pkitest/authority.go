// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pkitest provides a throwaway certificate authority, and the
// signing helpers behind it, for tests. The coordinator itself never
// signs certificates.
package pkitest

import (
	"crypto"
	"crypto/x509"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/internal/pki"
)

// Issued is the PEM material issued for one request.
type Issued struct {
	Certificate string
	PrivateKey  string
	CA          string
	Chain       string
}

// Authority is a self signed CA able to issue link certificates.
type Authority struct {
	ca     *x509.Certificate
	signer crypto.Signer
}

// NewAuthority returns a new CA with the given common name. ECDSA keys are
// used throughout to keep tests fast.
func NewAuthority(commonName string) (*Authority, error) {
	signer, err := ECDSAP256()
	if err != nil {
		return nil, errors.Trace(err)
	}
	ca, err := NewCA(commonName, signer)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Authority{ca: ca, signer: signer}, nil
}

// CA returns the CA certificate as PEM.
func (a *Authority) CA() string {
	return string(pki.EncodeCertificates(a.ca))
}

// Fingerprint returns the fingerprint of the CA certificate.
func (a *Authority) Fingerprint() string {
	return pki.CertificateFingerprint(a.ca)
}

// Issue signs req, generating a new key.
func (a *Authority) Issue(req pki.Request) (Issued, error) {
	key, err := ECDSAP256()
	if err != nil {
		return Issued{}, errors.Trace(err)
	}
	return a.IssueWithKey(req, key)
}

// IssueWithKey signs req for the given key.
func (a *Authority) IssueWithKey(req pki.Request, key crypto.Signer) (Issued, error) {
	leaf, err := NewLeafRequest(req, NewDefaultRequestSigner(a.ca, nil, a.signer)).
		WithSigner(key).
		Commit()
	if err != nil {
		return Issued{}, errors.Trace(err)
	}
	keyPEM, err := SignerToPemString(leaf.Signer())
	if err != nil {
		return Issued{}, errors.Trace(err)
	}
	return Issued{
		Certificate: string(pki.EncodeCertificates(leaf.Certificate())),
		PrivateKey:  keyPEM,
		CA:          a.CA(),
		Chain:       string(pki.EncodeCertificates(append([]*x509.Certificate{leaf.Certificate()}, leaf.Chain()...)...)),
	}, nil
}

// MustNewAuthority is NewAuthority for test setup, panicking on error.
func MustNewAuthority(commonName string) *Authority {
	a, err := NewAuthority(commonName)
	if err != nil {
		panic(err)
	}
	return a
}

// MustIssue is Issue for test setup, panicking on error.
func (a *Authority) MustIssue(req pki.Request) Issued {
	issued, err := a.Issue(req)
	if err != nil {
		panic(err)
	}
	return issued
}
