// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pkitest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/internal/pki"
)

const (
	// DefaultValidity is how long certificates made here are valid for.
	DefaultValidity = 10 * 365 * 24 * time.Hour

	// clockSkew is subtracted from NotBefore so that freshly issued
	// certificates are valid on hosts running slightly behind.
	clockSkew = 5 * time.Minute
)

// KeyProfile is a convience way of getting a crypto private key with a default
// set of attributes
type KeyProfile func() (crypto.Signer, error)

// ECDSAP256 returns a ECDSA 256 private key
func ECDSAP256() (crypto.Signer, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ECDSAP384 returns a ECDSA 384 private key
func ECDSAP384() (crypto.Signer, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}

// RSA2048 returns a RSA 2048 private key
func RSA2048() (crypto.Signer, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// CertificateRequestSigner signs certificate requests.
type CertificateRequestSigner interface {
	SignCSR(*x509.CertificateRequest) (*x509.Certificate, []*x509.Certificate, error)
}

// NewCA returns a self signed CA certificate for signer.
func NewCA(commonName string, signer crypto.Signer) (*x509.Certificate, error) {
	serial, err := newSerialNumber()
	if err != nil {
		return nil, errors.Trace(err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"etcd"},
		},
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(DefaultValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, errors.Annotate(err, "creating CA certificate")
	}
	return x509.ParseCertificate(der)
}

// DefaultRequestSigner signs requests with a CA certificate and its key.
type DefaultRequestSigner struct {
	ca     *x509.Certificate
	chain  []*x509.Certificate
	signer crypto.Signer
}

// NewDefaultRequestSigner returns a request signer for the given CA.
func NewDefaultRequestSigner(ca *x509.Certificate, chain []*x509.Certificate, signer crypto.Signer) *DefaultRequestSigner {
	return &DefaultRequestSigner{ca: ca, chain: chain, signer: signer}
}

// SignCSR implements CertificateRequestSigner. The returned chain holds
// the CA and any intermediates above it.
func (d *DefaultRequestSigner) SignCSR(csr *x509.CertificateRequest) (*x509.Certificate, []*x509.Certificate, error) {
	serial, err := newSerialNumber()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        csr.Subject,
		DNSNames:       csr.DNSNames,
		IPAddresses:    csr.IPAddresses,
		NotBefore:      now.Add(-clockSkew),
		NotAfter:       now.Add(DefaultValidity),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		AuthorityKeyId: d.ca.SubjectKeyId,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, d.ca, csr.PublicKey, d.signer)
	if err != nil {
		return nil, nil, errors.Annotate(err, "signing certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return cert, append([]*x509.Certificate{d.ca}, d.chain...), nil
}

func newSerialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	return serial, errors.Annotate(err, "generating serial number")
}

// Leaf is a link certificate with its chain and private key.
type Leaf struct {
	link        string
	certificate *x509.Certificate
	chain       []*x509.Certificate
	signer      crypto.Signer
}

// NewLeafPem constructs a Leaf from a PEM bundle holding the certificate,
// its chain and exactly one private key matching the certificate.
func NewLeafPem(link string, pemBlock []byte) (*Leaf, error) {
	certs, signers, err := pki.UnmarshalPemData(pemBlock)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(certs) == 0 {
		return nil, errors.New("found zero certificates in pem bundle")
	}
	if len(signers) != 1 {
		return nil, errors.New("expected exactly one private key in bundle")
	}
	if !pki.PublicKeysEqual(signers[0].Public(), certs[0].PublicKey) {
		return nil, errors.New("public keys of first certificate and key do not match")
	}
	return &Leaf{link: link, certificate: certs[0], chain: certs[1:], signer: signers[0]}, nil
}

// Link returns the link the leaf was issued for.
func (l *Leaf) Link() string {
	return l.link
}

// Certificate returns the x509 certificate of this leaf.
func (l *Leaf) Certificate() *x509.Certificate {
	return l.certificate
}

// Chain is the signing chain of the leaf, issuing CA first.
func (l *Leaf) Chain() []*x509.Certificate {
	return l.chain
}

// Signer is the private key of the leaf.
func (l *Leaf) Signer() crypto.Signer {
	return l.signer
}

// ToPemParts returns the certificate with its chain, and the private key,
// as PEM.
func (l *Leaf) ToPemParts() (cert, key []byte, err error) {
	cert = pki.EncodeCertificates(append([]*x509.Certificate{l.certificate}, l.chain...)...)
	keyPEM, err := SignerToPemString(l.signer)
	if err != nil {
		return nil, nil, errors.Annotate(err, "turning leaf key to pem")
	}
	return cert, []byte(keyPEM), nil
}

// HasDNSNames reports whether the leaf carries every one of dnsNames.
func (l *Leaf) HasDNSNames(dnsNames []string) bool {
	have := make(map[string]bool, len(l.certificate.DNSNames))
	for _, n := range l.certificate.DNSNames {
		have[n] = true
	}
	for _, n := range dnsNames {
		if !have[n] {
			return false
		}
	}
	return true
}

// LeafRequest turns a pki.Request into a signed Leaf.
type LeafRequest struct {
	request       pki.Request
	requestSigner CertificateRequestSigner
	signer        crypto.Signer
}

// NewLeafRequest returns a LeafRequest that generates an ECDSA key when
// committed.
func NewLeafRequest(request pki.Request, requestSigner CertificateRequestSigner) *LeafRequest {
	return &LeafRequest{
		request:       request.Normalize(),
		requestSigner: requestSigner,
	}
}

// WithSigner makes the request use signer instead of a generated key.
func (r *LeafRequest) WithSigner(signer crypto.Signer) *LeafRequest {
	r.signer = signer
	return r
}

// Commit signs the request and returns the resulting Leaf.
func (r *LeafRequest) Commit() (*Leaf, error) {
	if err := r.request.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	signer := r.signer
	if signer == nil {
		var err error
		if signer, err = ECDSAP256(); err != nil {
			return nil, errors.Trace(err)
		}
	}

	subject := pkix.Name{CommonName: r.request.CommonName}
	if r.request.Organization != "" {
		subject.Organization = []string{r.request.Organization}
	}
	csr := &x509.CertificateRequest{
		DNSNames:    r.request.DNSNames,
		IPAddresses: r.request.IPs(),
		PublicKey:   signer.Public(),
		Subject:     subject,
	}

	cert, chain, err := r.requestSigner.SignCSR(csr)
	if err != nil {
		return nil, errors.Annotate(err, "signing CSR for leaf")
	}
	return &Leaf{link: r.request.Organization, certificate: cert, chain: chain, signer: signer}, nil
}

// CertificateToPemString encodes cert and its chain as PEM. Headers are
// not written as some TLS stacks reject them.
func CertificateToPemString(_ map[string]string, cert *x509.Certificate, chain ...*x509.Certificate) string {
	return string(pki.EncodeCertificates(append([]*x509.Certificate{cert}, chain...)...))
}

// SignerToPemString encodes signer as a PKCS8 PEM block.
func SignerToPemString(signer crypto.Signer) (string, error) {
	var buf strings.Builder
	if err := signerToPemWriter(&buf, signer); err != nil {
		return "", errors.Trace(err)
	}
	return buf.String(), nil
}

func signerToPemWriter(out io.Writer, signer crypto.Signer) error {
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return errors.Annotate(err, "marshalling private key")
	}
	return errors.Trace(pem.Encode(out, &pem.Block{
		Type:  pki.PEMTypePKCS8,
		Bytes: der,
	}))
}

// IsPemCA reports whether the first certificate in pemData is a CA.
func IsPemCA(pemData []byte) (bool, error) {
	certs, err := pki.ParseCertificates(pemData)
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(certs) == 0 {
		return false, errors.NotFoundf("pem block")
	}
	return certs[0].IsCA, nil
}
