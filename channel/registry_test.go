package channel

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/overlay/advert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		PresenceInterval: 5 * time.Minute,
		Expiration:       6 * time.Minute,
	}
}

func testOwner() Owner {
	return Owner{ID: "peer-1", Name: "alice", PublicKey: []byte{1, 2, 3}}
}

func TestRegistryStartPublishesChannel(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1700000000000))
	store := &recordingStore{}
	reg := New(store, testOwner(), testConfig(), mock)

	ln, err := reg.Start(true)
	require.NoError(t, err)
	require.NotNil(t, ln)
	defer reg.Stop()

	calls := store.snapshot()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].remote)
	assert.True(t, calls[1].remote)
	assert.Equal(t, 6*time.Minute, calls[0].lifetime)
	assert.Equal(t, 6*time.Minute, calls[1].lifetime)

	ch := reg.Channel()
	require.NotNil(t, ch)
	assert.Equal(t, ln.Addr().String(), ch.Addr)
	assert.Equal(t, []byte{1, 2, 3}, ch.PublicKey)

	owner, err := ch.Owner()
	require.NoError(t, err)
	assert.Equal(t, advert.ChannelName{OwnerName: "alice", OwnerID: "peer-1", CreatedAt: 1700000000000}, owner)

	_, err = reg.Start(true)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestRegistryZeroConfigUsesDefaults(t *testing.T) {
	mock := clock.NewMock()
	store := &recordingStore{}
	reg := New(store, testOwner(), Config{PresenceInterval: -time.Second}, mock)

	ln, err := reg.Start(true)
	require.NoError(t, err)
	require.NotNil(t, ln)
	defer reg.Stop()

	calls := store.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, DefaultExpiration, calls[0].lifetime)

	mock.Add(DefaultPresenceInterval)
	assert.Eventually(t, func() bool { return len(store.snapshot()) >= 4 }, time.Second, 5*time.Millisecond)
}

func TestRegistryWithoutReceiver(t *testing.T) {
	store := &recordingStore{}
	reg := New(store, testOwner(), testConfig(), clock.NewMock())

	ln, err := reg.Start(false)
	require.NoError(t, err)
	assert.Nil(t, ln)

	ch := reg.Channel()
	require.NotNil(t, ch, "identity is tracked without a listener")
	assert.Empty(t, ch.Addr)

	before := len(store.snapshot())
	require.NoError(t, reg.Republish())
	assert.Len(t, store.snapshot(), before, "unserved channel is not republished")

	require.NoError(t, reg.Stop())
}

func TestRegistryPresenceRepublish(t *testing.T) {
	mock := clock.NewMock()
	store := &recordingStore{}
	reg := New(store, testOwner(), testConfig(), mock)

	_, err := reg.Start(true)
	require.NoError(t, err)
	defer reg.Stop()
	id := reg.Channel().ID

	mock.Add(5 * time.Minute)
	assert.Eventually(t, func() bool { return len(store.snapshot()) >= 4 }, time.Second, 5*time.Millisecond)

	mock.Add(5 * time.Minute)
	assert.Eventually(t, func() bool { return len(store.snapshot()) >= 6 }, time.Second, 5*time.Millisecond)

	for _, c := range store.snapshot() {
		assert.Equal(t, id, c.adv.ID(), "republish reuses the same advertisement")
		assert.Equal(t, 6*time.Minute, c.lifetime)
	}
}

func TestRegistryStopTombstones(t *testing.T) {
	mock := clock.NewMock()
	store := &recordingStore{}
	reg := New(store, testOwner(), testConfig(), mock)

	ln, err := reg.Start(true)
	require.NoError(t, err)
	id := reg.Channel().ID

	require.NoError(t, reg.Stop())
	assert.Nil(t, reg.Channel())

	calls := store.snapshot()
	require.Len(t, calls, 4)
	for _, c := range calls[2:] {
		assert.Equal(t, id, c.adv.ID())
		assert.Equal(t, TombstoneLifetime, c.lifetime)
	}

	_, err = ln.Accept()
	assert.Error(t, err, "listener is closed")

	mock.Add(10 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, store.snapshot(), 4, "presence task is cancelled")

	assert.NoError(t, reg.Stop(), "second stop is a no-op")
}

func TestRegistryRestartGetsFreshChannel(t *testing.T) {
	mock := clock.NewMock()
	reg := New(&recordingStore{}, testOwner(), testConfig(), mock)

	_, err := reg.Start(false)
	require.NoError(t, err)
	first := reg.Channel()
	require.NoError(t, reg.Stop())

	mock.Add(time.Second)
	_, err = reg.Start(false)
	require.NoError(t, err)
	second := reg.Channel()
	require.NoError(t, reg.Stop())

	assert.NotEqual(t, first.ID, second.ID)
	a, _ := first.Owner()
	b, _ := second.Owner()
	assert.Less(t, a.CreatedAt, b.CreatedAt)
}

func TestRegistryStartFailsWhenStoreFails(t *testing.T) {
	store := &recordingStore{failLocal: true}
	reg := New(store, testOwner(), testConfig(), clock.NewMock())

	_, err := reg.Start(true)
	assert.Error(t, err)
	assert.Nil(t, reg.Channel())
}
