// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package certdir exchanges certificates and client relation data with
// the outside world through a directory:
//
//	relations/<link>      present while the TLS relation of link exists
//	relations/cluster     present while the unit belongs to the cluster
//	requests/<link>.yaml  certificate request written by the unit
//	issued/<link>.yaml    certificate, CA, chain and key handed back
//	clients/<id>.yaml     request of external client relation id
//
// The directory is watched so that changes turn into events.
package certdir

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/internal/externalclients"
	"github.com/juju/etcd-coordinator/internal/pki"
	"github.com/juju/etcd-coordinator/internal/tlslink"
)

const (
	relationsDir = "relations"
	requestsDir  = "requests"
	issuedDir    = "issued"
	clientsDir   = "clients"

	peerRelation = "cluster"

	yamlSuffix = ".yaml"
)

// Logger represents the logging methods called.
type Logger interface {
	Warningf(message string, args ...any)
	Debugf(message string, args ...any)
}

// Dir is a certificate directory.
type Dir struct {
	root   string
	logger Logger
}

var (
	_ tlslink.Authority         = (*Dir)(nil)
	_ externalclients.Relations = (*Dir)(nil)
)

// New returns the Dir rooted at root, creating its layout if needed.
func New(root string, logger Logger) (*Dir, error) {
	if root == "" {
		return nil, errors.NotValidf("empty certificate directory")
	}
	if logger == nil {
		return nil, errors.NotValidf("nil Logger")
	}
	for _, sub := range []string{relationsDir, requestsDir, issuedDir, clientsDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0700); err != nil {
			return nil, errors.Annotatef(err, "creating %s", sub)
		}
	}
	return &Dir{root: root, logger: logger}, nil
}

func (d *Dir) path(sub, name string) string {
	return filepath.Join(d.root, sub, name)
}

// Related reports whether the TLS relation of link exists.
func (d *Dir) Related(link cluster.LinkType) bool {
	_, err := os.Stat(d.path(relationsDir, string(link)))
	return err == nil
}

// Request implements tlslink.Authority. It replaces any earlier request
// for link.
func (d *Dir) Request(_ context.Context, link cluster.LinkType, req pki.Request) error {
	if err := req.Validate(); err != nil {
		return errors.Trace(err)
	}
	data, err := yaml.Marshal(req)
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(d.path(requestsDir, string(link)+yamlSuffix), data, 0644); err != nil {
		return errors.Annotatef(err, "writing %s certificate request", link)
	}
	d.logger.Debugf("requested %s certificate for %q", link, req.CommonName)
	return nil
}

// Joined reports whether the unit still belongs to the cluster. Removing
// the marker asks the unit to leave.
func (d *Dir) Joined() bool {
	_, err := os.Stat(d.path(relationsDir, peerRelation))
	return err == nil
}

// Join marks the unit as belonging to the cluster.
func (d *Dir) Join() error {
	path := d.path(relationsDir, peerRelation)
	return errors.Trace(utils.AtomicWriteFile(path, nil, 0644))
}

// PendingRequest returns the request last written for link.
func (d *Dir) PendingRequest(link cluster.LinkType) (pki.Request, error) {
	var req pki.Request
	err := readYAML(d.path(requestsDir, string(link)+yamlSuffix), &req)
	return req, errors.Annotatef(err, "%s certificate request", link)
}

// Certificate implements tlslink.Authority.
func (d *Dir) Certificate(_ context.Context, link cluster.LinkType) (tlslink.Certificate, error) {
	var cert tlslink.Certificate
	if err := readYAML(d.path(issuedDir, string(link)+yamlSuffix), &cert); err != nil {
		return tlslink.Certificate{}, errors.Annotatef(err, "%s certificate", link)
	}
	if cert.Certificate == "" || cert.CA == "" {
		return tlslink.Certificate{}, errors.NotFoundf("%s certificate", link)
	}
	return cert, nil
}

// ClientRelation implements externalclients.Relations.
func (d *Dir) ClientRelation(_ context.Context, relationID int) (externalclients.Request, error) {
	var req externalclients.Request
	err := readYAML(d.path(clientsDir, strconv.Itoa(relationID)+yamlSuffix), &req)
	return req, errors.Annotatef(err, "client relation %d", relationID)
}

// ClientRelations returns the ids of every external client relation.
func (d *Dir) ClientRelations() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, clientsDir))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var ids []int
	for _, e := range entries {
		if id, ok := relationID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errors.NotFoundf("%s", filepath.Base(path))
	} else if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(yaml.Unmarshal(data, out))
}

func linkFile(name, suffix string) (cluster.LinkType, bool) {
	if !strings.HasSuffix(name, suffix) {
		return "", false
	}
	link := cluster.LinkType(strings.TrimSuffix(name, suffix))
	if link.Validate() != nil {
		return "", false
	}
	return link, true
}

func relationID(name string) (int, bool) {
	if !strings.HasSuffix(name, yamlSuffix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(name, yamlSuffix))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
