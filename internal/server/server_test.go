package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/groupchat/internal/database"
	"github.com/mwhitfield/groupchat/internal/types"
)

func Test_handleRegister_presence(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db)

	bob := newTestClient(t, "conn-b", types.User{Id: 2, Username: "bob"}, cs)
	cs.handleRegister(bob)
	assertNoEvent(t, bob)

	alice := newTestClient(t, "conn-a1", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(alice)

	ev := nextEvent(t, bob)
	require.NotNil(t, ev.Notification, "expected a notification event")
	require.NotNil(t, ev.Notification.Presence, "expected a presence notice")
	assert.Equal(t, 1, ev.Notification.Presence.UserId, "expected notice about the new user")
	assert.True(t, ev.Notification.Presence.Online, "expected an online notice")
	assert.Nil(t, ev.Notification.Presence.LastSeen, "expected no last seen on an online notice")

	// a user's own connections are not notified about themselves
	assertNoEvent(t, alice)

	// a second device is not a presence transition
	alice2 := newTestClient(t, "conn-a2", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(alice2)
	assertNoEvent(t, bob)
	assert.Len(t, cs.registry.ConnectionsFor(1), 2, "expected two connections for alice")
}

func Test_handleRegister_evicts_duplicate(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db)

	stale := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(stale)

	fresh := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(fresh)

	select {
	case <-stale.stop:
	default:
		t.Fatal("expected stale connection to be stopped")
	}

	got, ok := cs.registry.LookupUser("conn-1")
	require.True(t, ok, "expected connection to be registered")
	assert.Equal(t, fresh, got, "expected the new connection to win the id")
}

func Test_handleDeregister_evicted_client(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db)

	bob := newTestClient(t, "conn-b", types.User{Id: 2, Username: "bob"}, cs)
	cs.handleRegister(bob)

	stale := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(stale)
	nextEvent(t, bob) // alice's online notice

	fresh := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(fresh)
	nextEvent(t, bob) // eviction made this a fresh online transition

	// the evicted client's disconnect cascade still deregisters; the
	// fresh connection must survive it and alice must stay online
	cs.handleDeregister(stale)

	got, ok := cs.registry.LookupUser("conn-1")
	require.True(t, ok, "expected fresh connection to still be registered")
	assert.Equal(t, fresh, got, "expected fresh connection to keep the id")
	assert.Len(t, cs.registry.ConnectionsFor(1), 1, "expected alice to still have a connection")
	assertNoEvent(t, bob)
}

func Test_handleDeregister_presence(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db)

	bob := newTestClient(t, "conn-b", types.User{Id: 2, Username: "bob"}, cs)
	alice := newTestClient(t, "conn-a1", types.User{Id: 1, Username: "alice"}, cs)
	alice2 := newTestClient(t, "conn-a2", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(bob)
	cs.handleRegister(alice)
	cs.handleRegister(alice2)
	nextEvent(t, bob) // alice's online notice

	cs.handleDeregister(alice)
	assertNoEvent(t, bob)

	cs.handleDeregister(alice2)
	ev := nextEvent(t, bob)
	require.NotNil(t, ev.Notification, "expected a notification event")
	require.NotNil(t, ev.Notification.Presence, "expected a presence notice")
	assert.False(t, ev.Notification.Presence.Online, "expected an offline notice")
	require.NotNil(t, ev.Notification.Presence.LastSeen, "expected a last seen timestamp")

	// deregistering twice is a no-op
	cs.handleDeregister(alice2)
	assertNoEvent(t, bob)
}

func Test_relaySignal(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db)

	alice := newTestClient(t, "conn-a", types.User{Id: 1, Username: "alice"}, cs)
	bob1 := newTestClient(t, "conn-b1", types.User{Id: 2, Username: "bob"}, cs)
	bob2 := newTestClient(t, "conn-b2", types.User{Id: 2, Username: "bob"}, cs)
	cs.handleRegister(alice)
	cs.handleRegister(bob1)
	nextEvent(t, alice) // bob's online notice
	cs.handleRegister(bob2)

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	cs.relaySignal(&ClientEvent{
		BaseEvent: BaseEvent{Id: 9, Timestamp: Now()},
		Signal:    &Signal{Kind: "offer", TargetUserId: 2, Payload: payload},
		UserId:    1,
		client:    alice,
	})

	for _, c := range []*Client{bob1, bob2} {
		ev := nextEvent(t, c)
		require.NotNil(t, ev.Signal, "expected a signal event")
		assert.Equal(t, "offer", ev.Signal.Kind, "expected the signal kind")
		assert.Equal(t, 1, ev.Signal.FromUserId, "expected the sender's user id")
		assert.Equal(t, payload, ev.Signal.Payload, "expected the payload to pass through untouched")
	}

	assertNoEvent(t, alice)
}

func Test_relaySignal_target_offline(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db)

	alice := newTestClient(t, "conn-a", types.User{Id: 1, Username: "alice"}, cs)
	cs.handleRegister(alice)

	cs.relaySignal(&ClientEvent{
		BaseEvent: BaseEvent{Id: 9},
		Signal:    &Signal{Kind: "offer", TargetUserId: 404},
		UserId:    1,
		client:    alice,
	})

	ev := nextEvent(t, alice)
	require.NotNil(t, ev.Response, "expected a response event")
	assert.Equal(t, 9, ev.Id, "expected response to echo event id")
	assert.Equal(t, http.StatusNotFound, ev.Response.ResponseCode, "expected an unavailable-target response")
}

func Test_routeEvent_unknown_channel(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetChannelByExternalId", "nowhere").Return(database.Channel{}, sql.ErrNoRows)

	cs := newTestChatServer(t, db)
	alice := newTestClient(t, "conn-a", types.User{Id: 1, Username: "alice"}, cs)

	cs.routeEvent(&ClientEvent{
		BaseEvent: BaseEvent{Id: 4},
		Join:      &Join{ChannelId: "nowhere"},
		UserId:    1,
		client:    alice,
	})

	ev := nextEvent(t, alice)
	require.NotNil(t, ev.Response, "expected a response event")
	assert.Equal(t, http.StatusNotFound, ev.Response.ResponseCode, "expected an unknown channel response")
	assert.Empty(t, cs.rooms, "expected no room to be loaded")
}

func Test_routeEvent_loads_room(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetChannelByExternalId", "general").Return(database.Channel{Id: 1, ExternalId: "general"}, nil)
	db.On("IsChannelMember", 1, 1).Return(true, nil)

	cs := newTestChatServer(t, db)
	alice := newTestClient(t, "conn-a", types.User{Id: 1, Username: "alice"}, cs)

	cs.routeEvent(&ClientEvent{
		BaseEvent: BaseEvent{Id: 4, Timestamp: Now()},
		Join:      &Join{ChannelId: "general"},
		UserId:    1,
		client:    alice,
	})

	require.Contains(t, cs.rooms, "general", "expected the room to be loaded on demand")

	ev := nextEvent(t, alice)
	require.NotNil(t, ev.Response, "expected a response event")
	assert.Equal(t, http.StatusOK, ev.Response.ResponseCode, "expected the forwarded join to succeed")
}

func Test_Shutdown(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	db.On("GetChannelByExternalId", "general").Return(database.Channel{Id: 1, ExternalId: "general"}, nil)
	db.On("IsChannelMember", 1, 1).Return(true, nil)

	cs := newTestChatServer(t, db)
	go cs.Run()

	alice := newTestClient(t, "conn-a", types.User{Id: 1, Username: "alice"}, cs)
	cs.RegisterClient(alice)

	cs.routeChan <- &ClientEvent{
		BaseEvent: BaseEvent{Id: 1, Timestamp: Now()},
		Join:      &Join{ChannelId: "general"},
		UserId:    1,
		client:    alice,
	}
	ev := nextEvent(t, alice)
	require.NotNil(t, ev.Response, "expected a join acknowledgement")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx), "expected shutdown to complete")

	select {
	case <-alice.stop:
	default:
		t.Fatal("expected client to be stopped on shutdown")
	}
}
