// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package certdir

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/internal/pki"
)

// Watcher turns changes to a Dir into events.
type Watcher struct {
	catacomb catacomb.Catacomb

	dir     *Dir
	fs      *fsnotify.Watcher
	out     chan event.Event
	lastCAs map[cluster.LinkType]string
}

// Watch starts a Watcher on the directory. Material already issued when
// the watch starts is remembered but not announced.
func (d *Dir) Watch() (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "creating file watcher")
	}
	for _, sub := range []string{relationsDir, issuedDir, clientsDir} {
		if err := fs.Add(filepath.Join(d.root, sub)); err != nil {
			_ = fs.Close()
			return nil, errors.Annotatef(err, "watching %s", sub)
		}
	}
	w := &Watcher{
		dir:     d,
		fs:      fs,
		out:     make(chan event.Event),
		lastCAs: make(map[cluster.LinkType]string),
	}
	for _, link := range cluster.Links {
		w.lastCAs[link] = d.caFingerprint(link)
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		_ = fs.Close()
		return nil, errors.Trace(err)
	}
	return w, nil
}

func (d *Dir) caFingerprint(link cluster.LinkType) string {
	var cert struct {
		CA string `yaml:"ca"`
	}
	if err := readYAML(d.path(issuedDir, string(link)+yamlSuffix), &cert); err != nil {
		return ""
	}
	fp, _, err := pki.Fingerprint([]byte(cert.CA))
	if err != nil {
		return ""
	}
	return fp
}

// Events returns the channel events are delivered on.
func (w *Watcher) Events() <-chan event.Event {
	return w.out
}

// Kill is part of the worker.Worker interface.
func (w *Watcher) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Watcher) Wait() error {
	return w.catacomb.Wait()
}

func (w *Watcher) loop() error {
	defer func() { _ = w.fs.Close() }()
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			return errors.Annotate(err, "watching certificate directory")
		case fsEvent, ok := <-w.fs.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			ev, ok := w.translate(fsEvent)
			if !ok {
				continue
			}
			select {
			case w.out <- ev:
			case <-w.catacomb.Dying():
				return w.catacomb.ErrDying()
			}
		}
	}
}

func (w *Watcher) translate(fsEvent fsnotify.Event) (event.Event, bool) {
	name := filepath.Base(fsEvent.Name)
	removed := fsEvent.Has(fsnotify.Remove) || fsEvent.Has(fsnotify.Rename)
	written := fsEvent.Has(fsnotify.Create) || fsEvent.Has(fsnotify.Write)

	switch filepath.Base(filepath.Dir(fsEvent.Name)) {
	case relationsDir:
		if name == peerRelation {
			if removed {
				return event.Event{Kind: event.Remove}, true
			}
			break
		}
		link, ok := linkFile(name, "")
		switch {
		case !ok:
		case removed:
			return event.Event{Kind: event.TLSRelationBroken, Link: link}, true
		case fsEvent.Has(fsnotify.Create):
			return event.Event{Kind: event.TLSRelationCreated, Link: link}, true
		}
	case issuedDir:
		link, ok := linkFile(name, yamlSuffix)
		if !ok || !written {
			break
		}
		fp := w.dir.caFingerprint(link)
		if fp == "" {
			// Partially written or unparseable; a later write follows.
			w.dir.logger.Debugf("ignoring unreadable %s material", link)
			break
		}
		last := w.lastCAs[link]
		w.lastCAs[link] = fp
		if last != "" && last != fp {
			return event.Event{Kind: event.CAChanged, Link: link}, true
		}
		return event.Event{Kind: event.CertificateAvailable, Link: link}, true
	case clientsDir:
		id, ok := relationID(name)
		switch {
		case !ok:
		case removed:
			return event.Event{Kind: event.ClientRelationBroken, RelationID: id}, true
		case written:
			return event.Event{Kind: event.ClientRelationUpdated, RelationID: id}, true
		}
	}
	return event.Event{}, false
}
