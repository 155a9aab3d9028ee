// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package leasekeeper_test

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	coretesting "github.com/juju/etcd-coordinator/internal/testing"
	"github.com/juju/etcd-coordinator/internal/worker/leasekeeper"
)

const (
	leaseTTL = 15 * time.Second
	interval = leaseTTL / 3
)

// lease is a single expiring leadership lease, claimed when vacant and
// extended by its holder, the same way the Redis lease behaves.
type lease struct {
	mu     sync.Mutex
	clock  clock.Clock
	holder string
	expiry time.Time
	err    error
	calls  int
}

func (l *lease) claim(unit string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	now := l.clock.Now()
	if l.holder != "" && l.holder != unit && now.Before(l.expiry) {
		return false, nil
	}
	l.holder = unit
	l.expiry = now.Add(leaseTTL)
	return true, nil
}

func (l *lease) currentHolder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.clock.Now().Before(l.expiry) {
		return ""
	}
	return l.holder
}

func (l *lease) setError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *lease) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type unitLeadership struct {
	lease *lease
	unit  string
}

func (u unitLeadership) IsLeader(context.Context) (bool, error) {
	return u.lease.claim(u.unit)
}

type keeperSuite struct {
	testing.IsolationSuite

	clock *testclock.Clock
	lease *lease
}

var _ = gc.Suite(&keeperSuite{})

func (s *keeperSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Now())
	s.lease = &lease{clock: s.clock}
}

func (s *keeperSuite) config(c *gc.C, unit string) leasekeeper.Config {
	return leasekeeper.Config{
		Leadership: unitLeadership{lease: s.lease, unit: unit},
		Clock:      s.clock,
		Logger:     coretesting.NewCheckLogger(c),
		Interval:   interval,
	}
}

func (s *keeperSuite) start(c *gc.C, unit string) *leasekeeper.Keeper {
	k, err := leasekeeper.NewKeeper(s.config(c, unit))
	c.Assert(err, jc.ErrorIsNil)
	return k
}

// tick waits for the keeper to be idle on its timer, then fires it.
func (s *keeperSuite) tick(c *gc.C) {
	err := s.clock.WaitAdvance(interval, coretesting.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *keeperSuite) TestValidate(c *gc.C) {
	cfg := s.config(c, "etcd/0")
	cfg.Leadership = nil
	c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)

	cfg = s.config(c, "etcd/0")
	cfg.Interval = 0
	c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)

	_, err := leasekeeper.NewKeeper(leasekeeper.Config{})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *keeperSuite) TestLeadershipSurvivesQuietPeriod(c *gc.C) {
	k := s.start(c, "etcd/0")
	defer workertest.CleanKill(c, k)

	// Three lease terms without any other activity.
	for i := 0; i < 9; i++ {
		s.tick(c)
	}
	// The last refresh has run once the keeper waits on its timer again.
	c.Assert(s.clock.WaitAdvance(0, coretesting.LongWait, 1), jc.ErrorIsNil)

	c.Check(s.lease.currentHolder(), gc.Equals, "etcd/0")
	claimed, err := s.lease.claim("etcd/1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(claimed, jc.IsFalse)
	c.Check(s.lease.callCount(), gc.Equals, 11)
}

func (s *keeperSuite) TestLeaseLapsesWithoutKeeper(c *gc.C) {
	k := s.start(c, "etcd/0")
	s.tick(c)
	workertest.CleanKill(c, k)

	s.clock.Advance(leaseTTL)
	c.Check(s.lease.currentHolder(), gc.Equals, "")
	claimed, err := s.lease.claim("etcd/1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(claimed, jc.IsTrue)
}

func (s *keeperSuite) TestFollowerTakesOverVacantLease(c *gc.C) {
	claimed, err := s.lease.claim("etcd/1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(claimed, jc.IsTrue)

	k := s.start(c, "etcd/0")
	defer workertest.CleanKill(c, k)
	s.tick(c)
	c.Check(s.lease.currentHolder(), gc.Equals, "etcd/1")

	// etcd/1 went away without refreshing; the next tick past its term
	// hands the lease over.
	s.tick(c)
	s.tick(c)
	c.Assert(s.clock.WaitAdvance(0, coretesting.LongWait, 1), jc.ErrorIsNil)
	c.Check(s.lease.currentHolder(), gc.Equals, "etcd/0")
}

func (s *keeperSuite) TestRefreshErrorIsRetried(c *gc.C) {
	s.lease.setError(errors.New("connection refused"))
	k := s.start(c, "etcd/0")
	defer workertest.CleanKill(c, k)
	s.tick(c)
	c.Assert(s.clock.WaitAdvance(0, coretesting.LongWait, 1), jc.ErrorIsNil)
	c.Check(s.lease.currentHolder(), gc.Equals, "")

	s.lease.setError(nil)
	s.tick(c)
	c.Assert(s.clock.WaitAdvance(0, coretesting.LongWait, 1), jc.ErrorIsNil)
	c.Check(s.lease.currentHolder(), gc.Equals, "etcd/0")
	workertest.CheckAlive(c, k)
}
