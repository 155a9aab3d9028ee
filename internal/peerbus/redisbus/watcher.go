// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package redisbus

import (
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
	"github.com/redis/go-redis/v9"
)

type watcher struct {
	catacomb catacomb.Catacomb
	sub      *redis.PubSub
	changes  chan struct{}
	logger   Logger
}

func newWatcher(sub *redis.PubSub, logger Logger) (*watcher, error) {
	w := &watcher{
		sub:     sub,
		changes: make(chan struct{}, 1),
		logger:  logger,
	}
	w.changes <- struct{}{}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		_ = sub.Close()
		return nil, errors.Trace(err)
	}
	return w, nil
}

func (w *watcher) loop() error {
	defer func() {
		if err := w.sub.Close(); err != nil {
			w.logger.Debugf("closing subscription: %v", err)
		}
	}()
	messages := w.sub.Channel()
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case _, ok := <-messages:
			if !ok {
				return errors.New("change subscription closed")
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

// Changes is part of peerbus.Watcher.
func (w *watcher) Changes() <-chan struct{} {
	return w.changes
}

// Kill is part of the worker.Worker interface.
func (w *watcher) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *watcher) Wait() error {
	return w.catacomb.Wait()
}
