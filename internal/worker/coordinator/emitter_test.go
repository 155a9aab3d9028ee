// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator_test

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	"github.com/juju/etcd-coordinator/core/event"
	"github.com/juju/etcd-coordinator/internal/deferred"
	"github.com/juju/etcd-coordinator/internal/worker/coordinator"
)

type emitterSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&emitterSuite{})

func (s *emitterSuite) TestEmitQueuesAndSignals(c *gc.C) {
	queue := deferred.NewMemoryQueue()
	emitter := coordinator.NewQueueEmitter(queue)

	ev := event.Event{Kind: event.CleanCA, Link: cluster.Peer}
	c.Assert(emitter.Emit(context.Background(), ev), jc.ErrorIsNil)
	c.Assert(emitter.Emit(context.Background(), ev), jc.ErrorIsNil)

	pending, err := queue.Pending()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pending, jc.DeepEquals, []event.Event{ev})

	select {
	case <-emitter.Emitted():
	default:
		c.Fatalf("no signal after emit")
	}
	// Signals coalesce.
	select {
	case <-emitter.Emitted():
		c.Fatalf("unexpected second signal")
	default:
	}
}

func (s *emitterSuite) TestEmitInvalid(c *gc.C) {
	queue := deferred.NewMemoryQueue()
	emitter := coordinator.NewQueueEmitter(queue)

	err := emitter.Emit(context.Background(), event.Event{Kind: event.CleanCA})
	c.Check(err, jc.ErrorIs, errors.NotValid)
	n, err := queue.Len()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(n, gc.Equals, 0)
}
