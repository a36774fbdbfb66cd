package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/overlay/advert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		RendezvousWait:          120 * time.Second,
		GroupJoinRendezvousWait: 60 * time.Second,
		PollInterval:            time.Second,
		GroupLifetime:           time.Hour,
		AdvertisementExpiration: 6 * time.Minute,
	}
}

type fixture struct {
	clock     *clock.Mock
	substrate *mockSubstrate
	hooks     *mockHooks
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	sub := newMockSubstrate(mock)
	hooks := &mockHooks{}
	m := NewManager(sub, testConfig(), mock, hooks)
	require.NoError(t, m.Configure(advert.PeerInfo{ID: "self", Name: "alice"}))
	return &fixture{clock: mock, substrate: sub, hooks: hooks, manager: m}
}

// connected returns a fixture already connected to the network.
func connected(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.substrate.rdv(f.substrate.root).setConnected(true)
	require.NoError(t, f.manager.Connect(context.Background()))
	return f
}

// advance runs fn while moving the mock clock forward until it returns.
func advance[T any](t *testing.T, mock *clock.Mock, fn func() T) T {
	t.Helper()
	done := make(chan T, 1)
	go func() { done <- fn() }()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-done:
			return v
		case <-deadline:
			t.Fatal("operation did not finish")
		default:
			mock.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestConnectRequiresConfiguration(t *testing.T) {
	m := NewManager(newMockSubstrate(clock.NewMock()), testConfig(), clock.NewMock(), nil)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrNotConfigured)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectSucceeds(t *testing.T) {
	f := connected(t)

	assert.Equal(t, StateConnected, f.manager.State())
	assert.True(t, f.manager.IsConnectedToNetwork())
	assert.False(t, f.manager.HasJoinedGroup())
	assert.Equal(t, f.substrate.root, f.manager.CurrentGroup())
	assert.True(t, f.substrate.rdv(f.substrate.root).autoStart, "edge peers allow auto promotion")

	assert.NoError(t, f.manager.Connect(context.Background()), "second connect is a no-op")
	assert.Equal(t, 1, f.substrate.started)

	assert.ErrorIs(t, f.manager.Configure(advert.PeerInfo{ID: "other"}), ErrAlreadyStarted)
}

func TestConnectTimesOutWithoutSelfPromotion(t *testing.T) {
	f := newFixture(t)

	err := advance(t, f.clock, func() error { return f.manager.Connect(context.Background()) })

	assert.ErrorIs(t, err, ErrNoRendezvous)
	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Equal(t, 1, f.substrate.stopped, "network is stopped after the timeout")
	assert.Equal(t, 0, f.substrate.rdv(f.substrate.root).starts, "no self promotion at network level")
}

func TestConnectRendezvousMode(t *testing.T) {
	mock := clock.NewMock()
	sub := newMockSubstrate(mock)
	cfg := testConfig()
	cfg.Rendezvous = true
	m := NewManager(sub, cfg, mock, nil)
	require.NoError(t, m.Configure(advert.PeerInfo{ID: "self"}))

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, sub.rdv(sub.root).rendezvous)
	assert.False(t, sub.rdv(sub.root).autoStart)
}

func TestConnectCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.manager.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDisconnected, f.manager.State())
}

func TestGroupOperationsRequireConnection(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.CreateGroup(context.Background(), "g", "", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g"}, nil, false)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCreateGroup(t *testing.T) {
	f := connected(t)

	g, err := f.manager.CreateGroup(context.Background(), "team", "our team", &Credential{Secret: []byte("pw")})
	require.NoError(t, err)

	assert.True(t, g.Info.Private)
	assert.Equal(t, StateJoined, f.manager.State())
	assert.True(t, f.manager.HasJoinedGroup())
	assert.True(t, f.manager.IsGroupRendezvous(), "creator becomes rendezvous")
	assert.True(t, f.manager.IsConnectedToGroup())
	assert.Equal(t, RoleRendezvous, g.Role())
	assert.Equal(t, []string{g.ID()}, f.hooks.entered)

	groups := f.manager.KnownGroups()
	require.Len(t, groups, 1)
	assert.Equal(t, "team", groups[0].Name)

	peers, _ := g.Store.LocalAdvertisements(advert.KindPeer, advert.AttrID, "self")
	assert.Len(t, peers, 1, "own peer advertisement is published in the group")
}

func TestAuthenticationFailure(t *testing.T) {
	f := connected(t)
	f.substrate.rejectNew = true

	_, err := f.manager.CreateGroup(context.Background(), "locked", "", &Credential{Secret: []byte("x")})
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.False(t, f.manager.HasJoinedGroup())
	created := f.substrate.groups["locked-id"]
	require.NotNil(t, created)
	assert.Equal(t, 1, f.substrate.auth(created).resigns, "a rejected new group is abandoned")
	assert.Equal(t, 1, f.substrate.rdv(created).stops)
	assert.Equal(t, 0, f.substrate.rdv(created).starts)

	info := advert.GroupInfo{ID: "g1"}
	g, _ := f.substrate.OpenGroup(info)
	f.substrate.auth(g).reject = true

	_, err = f.manager.JoinGroup(context.Background(), info, nil, true)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.False(t, f.manager.HasJoinedGroup())
	assert.Equal(t, 0, f.substrate.rdv(g).starts, "rejected peers never take the rendezvous role")
	assert.Equal(t, 1, f.substrate.auth(g).resigns)
	assert.Empty(t, f.hooks.entered)
}

func TestJoinGroupIsIdempotent(t *testing.T) {
	f := connected(t)
	info := advert.GroupInfo{ID: "g1", Name: "g1"}

	g1, err := f.manager.JoinGroup(context.Background(), info, nil, true)
	require.NoError(t, err)
	g2, err := f.manager.JoinGroup(context.Background(), info, nil, true)
	require.NoError(t, err)

	assert.Same(t, g1, g2)
	assert.Equal(t, 1, f.substrate.auth(g1).authCalls, "no re-authentication")
	assert.Len(t, f.hooks.entered, 1)
}

func TestJoinRootIsNoop(t *testing.T) {
	f := connected(t)
	g, err := f.manager.JoinGroup(context.Background(), f.substrate.root.Info, nil, false)
	require.NoError(t, err)
	assert.Same(t, f.substrate.root, g)
	assert.False(t, f.manager.HasJoinedGroup())
	assert.Empty(t, f.hooks.entered)
}

func TestJoinGroupWithExistingRendezvous(t *testing.T) {
	f := connected(t)
	info := advert.GroupInfo{ID: "g1", Name: "g1"}
	g, err := f.substrate.OpenGroup(info)
	require.NoError(t, err)
	f.substrate.rdv(g).setConnected(true)

	joined, err := f.manager.JoinGroup(context.Background(), info, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.substrate.rdv(joined).starts)
	assert.True(t, f.substrate.rdv(joined).autoStart)
	assert.Equal(t, RoleEdge, joined.Role())
	assert.True(t, f.manager.IsConnectedToGroup())
}

func TestJoinGroupSelfPromotesAfterWait(t *testing.T) {
	f := connected(t)
	info := advert.GroupInfo{ID: "g1", Name: "g1"}

	type result struct {
		g   *Group
		err error
	}
	res := advance(t, f.clock, func() result {
		g, err := f.manager.JoinGroup(context.Background(), info, nil, false)
		return result{g, err}
	})

	require.NoError(t, res.err)
	assert.Equal(t, 1, f.substrate.rdv(res.g).starts, "promoted after the join wait")
	assert.True(t, f.substrate.rdv(res.g).autoStart)
	assert.True(t, f.manager.IsGroupRendezvous())
}

func TestJoinGroupCancelledKeepsPreviousGroup(t *testing.T) {
	f := connected(t)
	first, err := f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g1"}, nil, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.manager.JoinGroup(ctx, advert.GroupInfo{ID: "g2"}, nil, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, first, f.manager.CurrentGroup())

	g2, _ := f.substrate.OpenGroup(advert.GroupInfo{ID: "g2"})
	assert.Equal(t, 1, f.substrate.auth(g2).resigns)
}

func TestJoinFlushesCachedAdvertisements(t *testing.T) {
	f := connected(t)
	info := advert.GroupInfo{ID: "g1"}
	g, _ := f.substrate.OpenGroup(info)
	stale := advert.NewPeerAdvertisement(&advert.PeerInfo{ID: "ghost", Name: "ghost"})
	require.NoError(t, g.Store.Publish(stale, time.Hour, time.Hour))

	_, err := f.manager.JoinGroup(context.Background(), info, nil, true)
	require.NoError(t, err)

	left, _ := g.Store.LocalAdvertisements(advert.KindPeer, advert.AttrID, "ghost")
	assert.Empty(t, left)
}

func TestSwitchingGroupsLeavesPrevious(t *testing.T) {
	f := connected(t)
	g1, err := f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g1"}, nil, true)
	require.NoError(t, err)
	g2, err := f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g2"}, nil, true)
	require.NoError(t, err)

	assert.Same(t, g2, f.manager.CurrentGroup())
	assert.Equal(t, []string{"g1"}, f.hooks.leaving)
	assert.Equal(t, 1, f.substrate.auth(g1).resigns)
	assert.Equal(t, 1, f.substrate.rdv(g1).stops)
}

func TestLeaveGroupNoops(t *testing.T) {
	f := connected(t)
	g, err := f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g1"}, nil, true)
	require.NoError(t, err)

	require.NoError(t, f.manager.LeaveGroup(nil))
	require.NoError(t, f.manager.LeaveGroup(f.substrate.root))

	assert.Same(t, g, f.manager.CurrentGroup())
	assert.Empty(t, f.hooks.leaving)
	assert.Equal(t, 0, f.substrate.rdv(f.substrate.root).stops)
	assert.Equal(t, 0, f.substrate.auth(f.substrate.root).resigns)

	disconnected := newFixture(t)
	require.NoError(t, disconnected.manager.LeaveGroup(g))
	assert.Empty(t, disconnected.hooks.leaving)
}

func TestLeaveGroupIsBestEffort(t *testing.T) {
	f := connected(t)
	g, err := f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g1"}, nil, true)
	require.NoError(t, err)
	f.substrate.rdv(g).stopErr = errors.New("rdv stuck")
	f.substrate.auth(g).resignErr = errors.New("authority offline")

	err = f.manager.LeaveGroup(g)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rdv stuck")
	assert.Contains(t, err.Error(), "authority offline")
	assert.Equal(t, []string{"g1"}, f.hooks.leaving, "later steps still run")
	assert.Equal(t, StateConnected, f.manager.State())
	assert.False(t, f.manager.HasJoinedGroup())
	assert.Same(t, f.substrate.root, f.manager.CurrentGroup())
}

func TestGroupEnteredFailureRollsBack(t *testing.T) {
	f := connected(t)
	f.hooks.enterErr = errors.New("bind failed")

	_, err := f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g1"}, nil, true)
	require.Error(t, err)
	assert.False(t, f.manager.HasJoinedGroup())
	assert.Equal(t, []string{"g1"}, f.hooks.leaving)
}

func TestStop(t *testing.T) {
	f := connected(t)
	_, err := f.manager.JoinGroup(context.Background(), advert.GroupInfo{ID: "g1"}, nil, true)
	require.NoError(t, err)

	require.NoError(t, f.manager.Stop())
	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Nil(t, f.manager.CurrentGroup())
	assert.Equal(t, 1, f.substrate.stopped)
	assert.Equal(t, []string{"g1"}, f.hooks.leaving)

	assert.NoError(t, f.manager.Stop(), "stopping twice is harmless")
}

func TestWaitForRendezvous(t *testing.T) {
	f := newFixture(t)
	g := f.substrate.makeGroup(advert.GroupInfo{ID: "g"})
	rdv := f.substrate.rdv(g)

	ok := advance(t, f.clock, func() bool {
		return f.manager.WaitForRendezvous(context.Background(), g, 10*time.Second)
	})
	assert.False(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		rdv.setConnected(true)
	}()
	ok = advance(t, f.clock, func() bool {
		return f.manager.WaitForRendezvous(context.Background(), g, 0)
	})
	assert.True(t, ok, "zero timeout waits until connected")

	rdv.setConnected(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, f.manager.WaitForRendezvous(ctx, g, 0))
}
