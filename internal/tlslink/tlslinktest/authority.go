// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tlslinktest provides an in-process certificate authority for
// tests driving TLS links.
package tlslinktest

import (
	"context"
	"crypto"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/pki"
	"github.com/juju/etcd-coordinator/internal/pki/pkitest"
	"github.com/juju/etcd-coordinator/internal/tlslink"
)

// Authority records certificate requests and answers them on demand with
// certificates signed by the current CA.
type Authority struct {
	mu       sync.Mutex
	ca       *pkitest.Authority
	requests map[cluster.LinkType]pki.Request
	issued   map[cluster.LinkType]tlslink.Certificate
}

// NewAuthority returns an Authority signing with ca.
func NewAuthority(ca *pkitest.Authority) *Authority {
	return &Authority{
		ca:       ca,
		requests: make(map[cluster.LinkType]pki.Request),
		issued:   make(map[cluster.LinkType]tlslink.Certificate),
	}
}

// Request implements tlslink.Authority.
func (a *Authority) Request(_ context.Context, link cluster.LinkType, req pki.Request) error {
	if err := req.Validate(); err != nil {
		return errors.Trace(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests[link] = req
	return nil
}

// Certificate implements tlslink.Authority.
func (a *Authority) Certificate(_ context.Context, link cluster.LinkType) (tlslink.Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cert, ok := a.issued[link]
	if !ok {
		return tlslink.Certificate{}, errors.NotFoundf("%s certificate", link)
	}
	return cert, nil
}

// Requested returns the last request made for link.
func (a *Authority) Requested(link cluster.LinkType) (pki.Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.requests[link]
	return req, ok
}

// Issue signs the last request for link with the current CA. It fails if
// nothing was requested.
func (a *Authority) Issue(link cluster.LinkType) (tlslink.Certificate, error) {
	return a.issue(link, nil)
}

// IssueWithKey is Issue for a certificate over the given key. The
// delivered certificate carries no private key of its own.
func (a *Authority) IssueWithKey(link cluster.LinkType, key crypto.Signer) (tlslink.Certificate, error) {
	return a.issue(link, key)
}

func (a *Authority) issue(link cluster.LinkType, key crypto.Signer) (tlslink.Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.requests[link]
	if !ok {
		return tlslink.Certificate{}, errors.NotFoundf("%s request", link)
	}
	var (
		issued pkitest.Issued
		err    error
	)
	if key == nil {
		issued, err = a.ca.Issue(req)
	} else {
		issued, err = a.ca.IssueWithKey(req, key)
		issued.PrivateKey = ""
	}
	if err != nil {
		return tlslink.Certificate{}, errors.Trace(err)
	}
	cert := tlslink.Certificate{
		Certificate: issued.Certificate,
		CA:          issued.CA,
		Chain:       issued.Chain,
		PrivateKey:  issued.PrivateKey,
	}
	a.issued[link] = cert
	return cert, nil
}

// Rotate replaces the signing CA. Certificates issued afterwards are
// signed by ca.
func (a *Authority) Rotate(ca *pkitest.Authority) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ca = ca
}

// Forget drops the issued certificate of link, as a removed provider
// would.
func (a *Authority) Forget(link cluster.LinkType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.issued, link)
	delete(a.requests, link)
}
