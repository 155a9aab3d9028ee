// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package deferred

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	bbolt "go.etcd.io/bbolt"

	"github.com/juju/etcd-coordinator/core/event"
)

const (
	boltFileMode os.FileMode = 0600
	boltTimeout              = 5 * time.Second
)

var bucketName = []byte("deferred-events")

// BoltQueue is a Queue persisted in a bbolt database, so that deferred
// events survive a restart of the coordinator.
type BoltQueue struct {
	db     *bbolt.DB
	closed atomic.Bool
}

// OpenBoltQueue opens, creating it if needed, the queue stored at path.
func OpenBoltQueue(path string) (*BoltQueue, error) {
	db, err := bbolt.Open(path, boltFileMode, &bbolt.Options{Timeout: boltTimeout})
	if err != nil {
		return nil, errors.Annotatef(err, "opening deferred queue %q", path)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Annotate(err, "creating deferred bucket")
	}
	return &BoltQueue{db: db}, nil
}

func (q *BoltQueue) update(fn func(*bbolt.Bucket) error) error {
	if q.closed.Load() {
		return ErrClosed
	}
	return q.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
}

func (q *BoltQueue) view(fn func(*bbolt.Bucket) error) error {
	if q.closed.Load() {
		return ErrClosed
	}
	return q.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
}

// Defer implements Queue.
func (q *BoltQueue) Defer(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return errors.Trace(err)
	}
	key := []byte(ev.Key())
	err := q.update(func(b *bbolt.Bucket) error {
		e := entry{Event: ev}
		if raw := b.Get(key); raw != nil {
			var existing entry
			if err := json.Unmarshal(raw, &existing); err != nil {
				return errors.Annotatef(err, "decoding deferred %q", key)
			}
			e.Seq = existing.Seq
		} else {
			seq, err := b.NextSequence()
			if err != nil {
				return errors.Trace(err)
			}
			e.Seq = seq
		}
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Trace(err)
		}
		return b.Put(key, data)
	})
	return errors.Trace(err)
}

// Remove implements Queue.
func (q *BoltQueue) Remove(key string) error {
	return errors.Trace(q.update(func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	}))
}

// Pending implements Queue.
func (q *BoltQueue) Pending() ([]event.Event, error) {
	var entries []entry
	err := q.view(func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return errors.Annotatef(err, "decoding deferred %q", k)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return sortEntries(entries), nil
}

// Len implements Queue.
func (q *BoltQueue) Len() (int, error) {
	var n int
	err := q.view(func(b *bbolt.Bucket) error {
		n = b.Stats().KeyN
		return nil
	})
	return n, errors.Trace(err)
}

// Close implements Queue.
func (q *BoltQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return errors.Trace(q.db.Close())
}
