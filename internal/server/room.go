package server

import (
	"log"
	"time"

	"github.com/samber/lo"

	"github.com/mwhitfield/groupchat/internal/database"
	"github.com/mwhitfield/groupchat/internal/stats"
	"github.com/mwhitfield/groupchat/internal/types"
)

// idleRoomTimeout is how long an empty room stays loaded before it is
// unloaded. The grace period absorbs rejoin races after network blips.
const idleRoomTimeout = time.Second * 5

type exitReq struct {
	// force skips the occupancy check during server shutdown.
	force bool
	done  chan bool
}

// Room is the live counterpart of one channel: the set of connections
// currently subscribed to its broadcasts plus the channel's typing
// state. All state is owned by the room's goroutine; other goroutines
// talk to it over its channels only. The room performs this channel's
// store calls itself, so a slow write stalls no other channel.
type Room struct {
	id         int
	externalId string
	cs         *ChatServer
	db         database.ChatRepository
	oracle     *MembershipOracle
	stats      stats.StatsProvider
	log        *log.Logger

	joinChan  chan *ClientEvent
	leaveChan chan *ClientEvent
	eventChan chan *ClientEvent
	exit      chan exitReq

	clients map[*Client]struct{}
	userMap map[int]map[*Client]struct{}
	typing  *typingSet
	// killTimer unloads the room once it has been empty for idleRoomTimeout.
	killTimer *time.Timer
}

func (r *Room) run() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case ev := <-r.joinChan:
			r.handleJoin(ev)
		case ev := <-r.leaveChan:
			r.handleLeave(ev)
		case ev := <-r.eventChan:
			switch {
			case ev.Publish != nil:
				r.handlePublish(ev)
			case ev.Typing != nil:
				r.handleTyping(ev)
			}
		case <-r.killTimer.C:
			r.handleTimeout()
		case req := <-r.exit:
			if !req.force && (r.drainBacklog() || len(r.clients) > 0) {
				// a join slipped in after the idle timeout fired
				req.done <- false
				continue
			}
			r.handleExit()
			req.done <- true
			return
		}
	}
}

// handleJoin admits a connection after re-checking store membership.
// Re-joining while already joined is a no-op that still succeeds and
// returns a fresh snapshot, so clients can retry after network blips.
func (r *Room) handleJoin(ev *ClientEvent) {
	r.killTimer.Stop()
	c := ev.client

	if !r.oracle.CanAccess(c.user.Id, r.id) {
		c.queueEvent(responseFor(ev.Id, errForbidden))
		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	newJoin := r.addClient(c)

	c.queueEvent(NoErrOK(ev.Id, &ChannelUsers{
		ChannelId: r.externalId,
		Users:     r.presentUsers(),
	}))

	if newJoin {
		r.broadcast(&ServerEvent{
			BaseEvent: BaseEvent{Timestamp: Now()},
			Notification: &Notification{
				ChannelPresence: &ChannelPresence{
					ChannelId: r.externalId,
					User:      types.User{Id: c.user.Id, Username: c.user.Username},
					Joined:    true,
				},
			},
			SkipClient: c,
		})
	}
}

// handleLeave removes a connection from the room. Leaving a room the
// connection is not in is a no-op success. Room departure does not
// touch store membership; the user can still send to the channel.
func (r *Room) handleLeave(ev *ClientEvent) {
	c := ev.client
	removed := r.removeClient(c)

	if !ev.silent {
		c.queueEvent(NoErrOK(ev.Id, nil))
	}

	if removed && r.userMap[c.user.Id] == nil {
		// last of the user's connections left: drop their typing flag
		// and announce the departure
		if r.typing.clear(c.user.Id) {
			r.broadcastTyping(c.user.Id, c.user.Username, false, c)
		}

		r.broadcast(&ServerEvent{
			BaseEvent: BaseEvent{Timestamp: Now()},
			Notification: &Notification{
				ChannelPresence: &ChannelPresence{
					ChannelId: r.externalId,
					User:      types.User{Id: c.user.Id, Username: c.user.Username},
					Joined:    false,
				},
			},
			SkipClient: c,
		})
	}

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handlePublish runs the message pipeline: authorize against the store,
// persist, then fan out the canonical message to whoever is in the room
// at commit time. Nothing is broadcast unless the write succeeded.
func (r *Room) handlePublish(ev *ClientEvent) {
	if !r.oracle.CanAccess(ev.UserId, r.id) {
		ev.client.queueEvent(responseFor(ev.Id, errForbidden))
		return
	}

	dbMsg, err := r.db.CreateMessage(messageParams(r.id, ev))
	if err != nil {
		r.log.Println("create message:", err)
		ev.client.queueEvent(responseFor(ev.Id, errStorage))
		return
	}

	// best effort; an activity-bump failure does not fail the send
	if err := r.db.UpdateChannelActivity(r.id, dbMsg.CreatedAt); err != nil {
		r.log.Println("update channel activity:", err)
	}

	r.stats.Incr(statMessagesSent)
	ev.client.queueEvent(NoErrAccepted(ev.Id))

	msg := WireMessage(r.externalId, dbMsg)
	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Timestamp: dbMsg.CreatedAt},
		Message:   &msg,
	})

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleTyping applies a typing transition. Only joined connections
// count, and repeated starts are suppressed so the room is not flooded.
func (r *Room) handleTyping(ev *ClientEvent) {
	if _, ok := r.clients[ev.client]; !ok {
		return
	}

	if ev.Typing.Started {
		if r.typing.start(ev.UserId, ev.client.user.Username) {
			r.broadcastTyping(ev.UserId, ev.client.user.Username, true, ev.client)
		}
	} else if r.typing.stop(ev.UserId) {
		r.broadcastTyping(ev.UserId, ev.client.user.Username, false, ev.client)
	}
}

func (r *Room) handleTimeout() {
	if len(r.clients) > 0 {
		return
	}

	r.log.Printf("room %q idle, requesting unload", r.externalId)
	select {
	case r.cs.unloadRoomChan <- r.externalId:
	default:
		// server busy; try again after another idle period
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// drainBacklog processes any events that were already buffered when an
// exit request arrived and reports whether there were any. An event
// behind the exit request still gets handled and answered; it must not
// vanish with the room.
func (r *Room) drainBacklog() bool {
	var pending bool
	for {
		select {
		case ev := <-r.joinChan:
			pending = true
			r.handleJoin(ev)
		case ev := <-r.leaveChan:
			pending = true
			r.handleLeave(ev)
		case ev := <-r.eventChan:
			pending = true
			switch {
			case ev.Publish != nil:
				r.handlePublish(ev)
			case ev.Typing != nil:
				r.handleTyping(ev)
			}
		default:
			return pending
		}
	}
}

func (r *Room) handleExit() {
	r.log.Printf("room %q is exiting", r.externalId)
	r.killTimer.Stop()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	r.clients = make(map[*Client]struct{})
	r.userMap = make(map[int]map[*Client]struct{})
}

// addClient reports whether this was a new join for the connection.
func (r *Room) addClient(c *Client) bool {
	if _, ok := r.clients[c]; ok {
		return false
	}

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
	return true
}

// removeClient reports whether the connection was in the room. Both
// the room's member set and the connection's joined-set are updated in
// the same step.
func (r *Room) removeClient(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	return true
}

// presentUsers returns the distinct users currently in the room.
func (r *Room) presentUsers() []types.User {
	return lo.MapToSlice(r.userMap, func(userId int, conns map[*Client]struct{}) types.User {
		var username string
		for c := range conns {
			username = c.user.Username
			break
		}
		return types.User{Id: userId, Username: username, Online: true}
	})
}

func (r *Room) broadcastTyping(userId int, username string, started bool, skip *Client) {
	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		Notification: &Notification{
			Typing: &TypingNotice{
				ChannelId: r.externalId,
				UserId:    userId,
				Username:  username,
				Started:   started,
			},
		},
		SkipClient: skip,
	})
}

// broadcast fans an event out to every connection in the room at this
// moment. Connections that joined after the triggering commit simply
// do not receive it; history is served separately.
func (r *Room) broadcast(ev *ServerEvent) {
	for client := range r.clients {
		if client == ev.SkipClient {
			continue
		}

		client.queueEvent(ev)
	}
}
