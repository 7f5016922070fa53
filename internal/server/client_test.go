package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/groupchat/internal/database"
	"github.com/mwhitfield/groupchat/internal/stats"
	"github.com/mwhitfield/groupchat/internal/testutil"
	"github.com/mwhitfield/groupchat/internal/types"
)

func Test_queueEvent_drops_when_full(t *testing.T) {
	c := &Client{
		id:    "conn-1",
		log:   testutil.TestLogger(t),
		stats: &stats.MockStatsUpdater{},
		send:  make(chan *ServerEvent, 1),
	}

	assert.True(t, c.queueEvent(NoErrOK(1, nil)), "expected event to be queued")
	assert.False(t, c.queueEvent(NoErrOK(2, nil)), "expected event to be dropped on a full buffer")

	ev := <-c.send
	assert.Equal(t, 1, ev.Id, "expected the first event to survive")
}

func Test_room_tracking(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestChatServer(t, db)
	c := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)
	room := newTestRoom(cs, 1, "general")

	assert.Nil(t, c.getRoom("general"), "expected no joined room")

	c.addRoom(room)
	assert.Equal(t, room, c.getRoom("general"), "expected room in joined set")

	c.delRoom("general")
	assert.Nil(t, c.getRoom("general"), "expected room removed from joined set")
}

func Test_leaveAllRooms(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestChatServer(t, db)
	c := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)
	room := newTestRoom(cs, 1, "general")
	c.addRoom(room)

	c.leaveAllRooms()

	select {
	case ev := <-room.leaveChan:
		require.NotNil(t, ev.Leave, "expected a leave event")
		assert.Equal(t, "general", ev.Leave.ChannelId, "expected a leave for the joined room")
		assert.True(t, ev.silent, "expected disconnect leaves to be silent")
		assert.Equal(t, 1, ev.UserId, "expected the client's user id")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for leave event")
	}
}

func Test_cleanup_runs_once(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestChatServer(t, db)
	c := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)

	deregistered := make(chan *Client, 1)
	go func() {
		deregistered <- <-cs.DeregisterChan
	}()

	c.cleanup()

	select {
	case got := <-deregistered:
		assert.Equal(t, c, got, "expected client to deregister itself")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deregistration")
	}

	select {
	case <-c.stop:
	default:
		t.Fatal("expected client to be stopped")
	}

	// a second cleanup must not deregister again
	c.cleanup()
	select {
	case <-cs.DeregisterChan:
		t.Fatal("expected repeated cleanup to be a no-op")
	case <-time.After(50 * time.Millisecond):
	}
}

func Test_cleanup_after_shutdown(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db)
	go cs.Run()

	c := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)
	cs.RegisterClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx), "expected shutdown to complete")

	// a read pump unwinding after shutdown must not block forever on
	// deregistration
	finished := make(chan struct{})
	go func() {
		c.cleanup()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cleanup after shutdown")
	}
}

func Test_dispatch_leave_not_joined(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestChatServer(t, db)
	c := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)

	c.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 3},
		Leave:     &Leave{ChannelId: "general"},
		UserId:    1,
		client:    c,
	})

	ev := nextEvent(t, c)
	require.NotNil(t, ev.Response, "expected a response event")
	assert.Equal(t, http.StatusOK, ev.Response.ResponseCode, "expected leaving an unjoined room to succeed")
}

func Test_dispatch_typing_not_joined(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestChatServer(t, db)
	c := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)

	c.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		Typing:    &Typing{ChannelId: "general", Started: true},
		UserId:    1,
		client:    c,
	})

	// typing outside a joined room is dropped without a reply
	assertNoEvent(t, c)
	assert.Empty(t, cs.routeChan, "expected nothing routed to the server")
}

func Test_dispatch_routing(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestChatServer(t, db)
	c := newTestClient(t, "conn-1", types.User{Id: 1, Username: "alice"}, cs)

	c.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 1},
		Join:      &Join{ChannelId: "general"},
		UserId:    1,
		client:    c,
	})
	select {
	case ev := <-cs.routeChan:
		assert.NotNil(t, ev.Join, "expected the join to be routed to the server")
	default:
		t.Fatal("expected an event on the server route channel")
	}

	// a publish outside a joined room also goes through the server
	c.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 2},
		Publish:   &Publish{ChannelId: "general", Content: "hi", Type: types.MessageTypeText},
		UserId:    1,
		client:    c,
	})
	select {
	case ev := <-cs.routeChan:
		assert.NotNil(t, ev.Publish, "expected the publish to be routed to the server")
	default:
		t.Fatal("expected an event on the server route channel")
	}

	c.dispatch(&ClientEvent{
		BaseEvent: BaseEvent{Id: 3},
		Signal:    &Signal{Kind: "offer", TargetUserId: 2},
		UserId:    1,
		client:    c,
	})
	select {
	case ev := <-cs.relayChan:
		assert.NotNil(t, ev.Signal, "expected the signal on the relay channel")
	default:
		t.Fatal("expected an event on the relay channel")
	}

	db.AssertNotCalled(t, "GetChannelByExternalId", mock.Anything)
}
