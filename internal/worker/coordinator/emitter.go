// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/internal/deferred"
)

// QueueEmitter raises follow up events by queueing them, so that they
// survive a restart of the process like any deferred event.
type QueueEmitter struct {
	queue   deferred.Queue
	emitted chan struct{}
}

// NewQueueEmitter returns an emitter queueing onto queue.
func NewQueueEmitter(queue deferred.Queue) *QueueEmitter {
	return &QueueEmitter{
		queue:   queue,
		emitted: make(chan struct{}, 1),
	}
}

// Emit is part of tlslink.Emitter.
func (e *QueueEmitter) Emit(_ context.Context, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return errors.Trace(err)
	}
	if err := e.queue.Defer(ev); err != nil {
		return errors.Annotatef(err, "queueing %s", ev)
	}
	select {
	case e.emitted <- struct{}{}:
	default:
	}
	return nil
}

// Emitted signals after events were queued.
func (e *QueueEmitter) Emitted() <-chan struct{} {
	return e.emitted
}
