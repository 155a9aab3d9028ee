// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package membership_test

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/etcd-coordinator/core/cluster"
	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/internal/etcdadmin"
	"github.com/juju/etcd-coordinator/internal/etcdadmin/mocks"
	"github.com/juju/etcd-coordinator/internal/membership"
	"github.com/juju/etcd-coordinator/internal/peerbus/memory"
	coretesting "github.com/juju/etcd-coordinator/internal/testing"
)

type removeSuite struct {
	testing.IsolationSuite

	dialer *mocks.MockDialer
	client *mocks.MockClient
}

var _ = gc.Suite(&removeSuite{})

var removeMembers = []etcdadmin.Member{
	{ID: "a1", Name: "etcd0", PeerURLs: []string{"http://10.0.0.1:2380"}},
	{ID: "b2", Name: "etcd1", PeerURLs: []string{"http://10.0.0.2:2380"}},
	{ID: "c3", Name: "etcd2", PeerURLs: []string{"http://10.0.0.3:2380"}},
	{ID: "d4", Name: "", PeerURLs: []string{"http://10.0.0.4:2380"}, IsLearner: true},
}

func (s *removeSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.dialer = mocks.NewMockDialer(ctrl)
	s.client = mocks.NewMockClient(ctrl)
	s.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(s.client, nil).AnyTimes()
	s.client.EXPECT().Close().Return(nil).AnyTimes()
	return ctrl
}

func (s *removeSuite) coordinator(c *gc.C) *membership.Coordinator {
	ctx := context.Background()
	hub := memory.NewHub()
	bus := hub.Bus("etcd/0")
	c.Assert(bus.Join(ctx), jc.ErrorIsNil)
	patch := cluster.NewUnitPatch().SetIdentity("etcd0", "host0", "10.0.0.1").SetStarted()
	c.Assert(bus.SetUnitRecord(ctx, patch.Fields()), jc.ErrorIsNil)

	coord, err := membership.NewCoordinator(membership.Config{
		Bus:            bus,
		Leadership:     bus,
		Dialer:         s.dialer,
		Clock:          testclock.NewDilatedWallClock(10 * time.Millisecond),
		Logger:         coretesting.NewCheckLogger(c),
		RemoveAttempts: 4,
		RemoveDelay:    time.Second,
		RemoveMaxDelay: 2 * time.Second,
		HealthAttempts: 1,
		HealthDelay:    time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)
	return coord
}

func (s *removeSuite) TestRetriesLeaderMove(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.client.EXPECT().MemberList(gomock.Any()).Return(removeMembers, nil).Times(2)
	s.client.EXPECT().Leader(gomock.Any()).Return("a1", nil).Times(2)
	gomock.InOrder(
		s.client.EXPECT().MoveLeader(gomock.Any(), "c3").Return(coreerrors.New(coreerrors.ClusterManagement, "leader changed")),
		s.client.EXPECT().MoveLeader(gomock.Any(), "c3").Return(nil),
		s.client.EXPECT().RemoveMember(gomock.Any(), "a1").Return(nil),
	)

	err := s.coordinator(c).RemoveMember(context.Background())
	c.Assert(err, jc.ErrorIsNil)
}

func (s *removeSuite) TestReselectsLeaderOnRetry(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.client.EXPECT().MemberList(gomock.Any()).Return(removeMembers, nil).Times(2)
	gomock.InOrder(
		s.client.EXPECT().Leader(gomock.Any()).Return("a1", nil),
		s.client.EXPECT().MoveLeader(gomock.Any(), "c3").Return(nil),
		s.client.EXPECT().RemoveMember(gomock.Any(), "a1").Return(coreerrors.New(coreerrors.ClusterManagement, "timed out")),
		// Leadership moved away; no further transfer is needed.
		s.client.EXPECT().Leader(gomock.Any()).Return("c3", nil),
		s.client.EXPECT().RemoveMember(gomock.Any(), "a1").Return(nil),
	)

	err := s.coordinator(c).RemoveMember(context.Background())
	c.Assert(err, jc.ErrorIsNil)
}

func (s *removeSuite) TestLastMemberSkipsLeaderMove(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.client.EXPECT().MemberList(gomock.Any()).Return(removeMembers[:1], nil)
	s.client.EXPECT().Leader(gomock.Any()).Return("a1", nil)
	s.client.EXPECT().RemoveMember(gomock.Any(), "a1").Return(nil)

	err := s.coordinator(c).RemoveMember(context.Background())
	c.Assert(err, jc.ErrorIsNil)
}

func (s *removeSuite) TestAttemptsExhausted(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.client.EXPECT().MemberList(gomock.Any()).Return(nil, coreerrors.New(coreerrors.ClusterManagement, "no quorum")).Times(4)

	err := s.coordinator(c).RemoveMember(context.Background())
	c.Check(err, jc.ErrorIs, coreerrors.ClusterManagement)
	c.Check(err, gc.ErrorMatches, "no quorum")
}

func (s *removeSuite) TestStoppedByContext(c *gc.C) {
	defer s.setupMocks(c).Finish()

	ctx, cancel := context.WithCancel(context.Background())
	s.client.EXPECT().MemberList(gomock.Any()).DoAndReturn(func(context.Context) ([]etcdadmin.Member, error) {
		cancel()
		return nil, errors.New("boom")
	})

	err := s.coordinator(c).RemoveMember(ctx)
	c.Check(err, gc.ErrorMatches, "boom")
}
