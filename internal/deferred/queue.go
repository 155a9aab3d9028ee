// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package deferred holds the events a unit could not handle yet. Events
// are keyed by event.Event.Key: deferring an event whose key is already
// queued replaces the queued event but keeps its place in the queue.
package deferred

import (
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/etcd-coordinator/core/event"
)

// ErrClosed is returned by every operation on a closed queue.
const ErrClosed = errors.ConstError("deferred queue closed")

// Queue is an ordered set of deferred events.
type Queue interface {
	// Defer queues ev, replacing any queued event with the same key.
	Defer(ev event.Event) error
	// Remove drops the queued event with the given key, if any.
	Remove(key string) error
	// Pending returns the queued events in the order they were first
	// deferred.
	Pending() ([]event.Event, error)
	// Len returns the number of queued events.
	Len() (int, error)
	// Close releases the queue.
	Close() error
}

type entry struct {
	Seq   uint64      `json:"seq"`
	Event event.Event `json:"event"`
}

func sortEntries(entries []entry) []event.Event {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})
	events := make([]event.Event, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	return events
}

// MemoryQueue is a Queue that lives as long as the process.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]entry
	closed  bool
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]entry)}
}

// Defer implements Queue.
func (q *MemoryQueue) Defer(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return errors.Trace(err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	key := ev.Key()
	if existing, ok := q.entries[key]; ok {
		q.entries[key] = entry{Seq: existing.Seq, Event: ev}
		return nil
	}
	q.seq++
	q.entries[key] = entry{Seq: q.seq, Event: ev}
	return nil
}

// Remove implements Queue.
func (q *MemoryQueue) Remove(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	delete(q.entries, key)
	return nil
}

// Pending implements Queue.
func (q *MemoryQueue) Pending() ([]event.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	entries := make([]entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	return sortEntries(entries), nil
}

// Len implements Queue.
func (q *MemoryQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return len(q.entries), nil
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
