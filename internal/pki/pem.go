// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pki

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

const (
	// PEMTypeCertificate is the PEM block type of an x509 certificate.
	PEMTypeCertificate = "CERTIFICATE"
	// PEMTypePKCS1 is the PEM block type of a PKCS1 RSA private key.
	PEMTypePKCS1 = "RSA PRIVATE KEY"
	// PEMTypePKCS8 is the PEM block type of a PKCS8 private key.
	PEMTypePKCS8 = "PRIVATE KEY"
	// PEMTypeEC is the PEM block type of a SEC1 EC private key.
	PEMTypeEC = "EC PRIVATE KEY"
)

// UnmarshalSignerFromPemBlock parses the private key held in block.
func UnmarshalSignerFromPemBlock(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case PEMTypePKCS1:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		return key, errors.Trace(err)
	case PEMTypeEC:
		key, err := x509.ParseECPrivateKey(block.Bytes)
		return key, errors.Trace(err)
	case PEMTypePKCS8:
		raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Trace(err)
		}
		switch key := raw.(type) {
		case *rsa.PrivateKey:
			return key, nil
		case *ecdsa.PrivateKey:
			return key, nil
		case ed25519.PrivateKey:
			return key, nil
		}
		return nil, errors.NotSupportedf("private key type %T", raw)
	}
	return nil, errors.NotSupportedf("pem block type %q", block.Type)
}

// UnmarshalPemData splits a PEM bundle into its certificates and private
// keys. Blocks of other types are ignored.
func UnmarshalPemData(data []byte) ([]*x509.Certificate, []crypto.Signer, error) {
	var (
		certs   []*x509.Certificate
		signers []crypto.Signer
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case PEMTypeCertificate:
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, errors.Annotate(err, "parsing certificate")
			}
			certs = append(certs, cert)
		case PEMTypePKCS1, PEMTypePKCS8, PEMTypeEC:
			signer, err := UnmarshalSignerFromPemBlock(block)
			if err != nil {
				return nil, nil, errors.Annotate(err, "parsing private key")
			}
			signers = append(signers, signer)
		}
	}
	return certs, signers, nil
}

// ParseCertificates returns every certificate in a PEM bundle, in order.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	certs, _, err := UnmarshalPemData(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return certs, nil
}

// ParsePrivateKey returns the single private key held in data.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	_, signers, err := UnmarshalPemData(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(signers) != 1 {
		return nil, errors.NotValidf("pem data with %d private keys", len(signers))
	}
	return signers[0], nil
}

// PrivateKeyPEM returns data as PEM. Operators may hand keys over either
// as PEM or as base64 encoded PEM; the latter is decoded.
func PrivateKeyPEM(data string) (string, error) {
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		return data, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(trimmed), ""))
	if err != nil {
		return "", errors.NewNotValid(err, "private key is neither pem nor base64 encoded pem")
	}
	return string(decoded), nil
}

// EncodeCertificates encodes certs as a PEM bundle.
func EncodeCertificates(certs ...*x509.Certificate) []byte {
	var buf bytes.Buffer
	for _, c := range certs {
		_ = pem.Encode(&buf, &pem.Block{Type: PEMTypeCertificate, Bytes: c.Raw})
	}
	return buf.Bytes()
}

// Fingerprint returns the colon separated sha256 fingerprint of the first
// certificate in pemData, along with whatever data follows it.
func Fingerprint(pemData []byte) (string, []byte, error) {
	block, remain := pem.Decode(pemData)
	if block == nil {
		return "", remain, errors.NotFoundf("pem block")
	}
	if block.Type != PEMTypeCertificate {
		return "", remain, errors.NotValidf("pem block type %q", block.Type)
	}
	return fingerprint(block.Bytes), remain, nil
}

// PublicKeysEqual reports whether the two public keys are the same key.
func PublicKeysEqual(key1, key2 crypto.PublicKey) bool {
	k, ok := key1.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return k.Equal(key2)
}

// CertificateFingerprint returns the colon separated sha256 fingerprint of
// cert.
func CertificateFingerprint(cert *x509.Certificate) string {
	return fingerprint(cert.Raw)
}

func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
