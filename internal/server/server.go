package server

import (
	"context"
	"log"
	"time"

	"github.com/mwhitfield/groupchat/internal/database"
	"github.com/mwhitfield/groupchat/internal/stats"
)

const (
	statActiveConnections = "ActiveConnections"
	statActiveRooms       = "ActiveRooms"
	statOnlineUsers       = "OnlineUsers"
	statMessagesSent      = "MessagesSent"
	statEventsDropped     = "EventsDropped"
	statSignalsRelayed    = "SignalsRelayed"
)

// ChatServer coordinates the real-time subsystem. Its run loop is the
// single owner of the connection registry, the room table and presence
// transitions; every mutation of that state funnels through the loop's
// channels. Per-channel state lives in Room goroutines.
type ChatServer struct {
	log    *log.Logger
	db     database.ChatRepository
	oracle *MembershipOracle
	stats  stats.StatsProvider

	registry *ConnectionRegistry
	rooms    map[string]*Room

	RegisterChan   chan *Client
	DeregisterChan chan *Client
	routeChan      chan *ClientEvent
	relayChan      chan *ClientEvent
	unloadRoomChan chan string
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, oracle *MembershipOracle, st stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		oracle:         oracle,
		stats:          st,
		registry:       newConnectionRegistry(),
		rooms:          make(map[string]*Room),
		RegisterChan:   make(chan *Client),
		DeregisterChan: make(chan *Client),
		routeChan:      make(chan *ClientEvent, 256),
		relayChan:      make(chan *ClientEvent, 256),
		unloadRoomChan: make(chan string, 64),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, name := range []string{
		statActiveConnections,
		statActiveRooms,
		statOnlineUsers,
		statMessagesSent,
		statEventsDropped,
		statSignalsRelayed,
	} {
		st.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.RegisterChan:
			cs.handleRegister(c)
		case c := <-cs.DeregisterChan:
			cs.handleDeregister(c)
		case ev := <-cs.routeChan:
			cs.routeEvent(ev)
		case ev := <-cs.relayChan:
			cs.relaySignal(ev)
		case externalId := <-cs.unloadRoomChan:
			cs.unloadRoom(externalId)
		case <-cs.stop:
			cs.shutdown()
			return
		}
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

// handleRegister records the connection and, when it is the user's
// first, flips their persisted presence and tells everyone else.
func (cs *ChatServer) handleRegister(c *Client) {
	cs.log.Printf("adding connection %q for user %q", c.id, c.user.Username)

	first, evicted := cs.registry.Register(c)
	if evicted != nil {
		// duplicate connection ids mean a broken transport layer
		cs.log.Printf("evicted stale connection %q for user %q", evicted.id, evicted.user.Username)
		evicted.stopClient()
	}

	cs.stats.Incr(statActiveConnections)

	if first {
		cs.stats.Incr(statOnlineUsers)
		go cs.persistPresence(c.user.Id, true, Now())
		cs.broadcastPresence(c.user.Id, true, nil)
	}
}

// handleDeregister is the tail of the disconnect cascade: the client
// has already left its rooms by the time it deregisters. Deregistering
// twice is safe.
func (cs *ChatServer) handleDeregister(c *Client) {
	last, ok := cs.registry.Unregister(c)
	if !ok {
		return
	}

	cs.log.Printf("removed connection %q for user %q", c.id, c.user.Username)
	cs.stats.Decr(statActiveConnections)

	if last {
		cs.stats.Decr(statOnlineUsers)
		now := Now()
		go cs.persistPresence(c.user.Id, false, now)
		cs.broadcastPresence(c.user.Id, false, &now)
	}
}

// routeEvent delivers a join, or a publish from a connection that has
// not joined the room, loading the room first if needed. A channel
// with no loaded room is a valid state, not an error.
func (cs *ChatServer) routeEvent(ev *ClientEvent) {
	var externalId string
	switch {
	case ev.Join != nil:
		externalId = ev.Join.ChannelId
	case ev.Publish != nil:
		externalId = ev.Publish.ChannelId
	default:
		return
	}

	room, ok := cs.rooms[externalId]
	if !ok {
		dbChannel, err := cs.db.GetChannelByExternalId(externalId)
		if err != nil {
			ev.client.queueEvent(responseFor(ev.Id, errChannelNotFound))
			return
		}

		room = cs.newRoom(dbChannel)
		cs.rooms[externalId] = room
		cs.stats.Incr(statActiveRooms)
		go room.run()
	}

	target := room.eventChan
	if ev.Join != nil {
		target = room.joinChan
	}

	select {
	case target <- ev:
	default:
		cs.log.Printf("event channel full for room %q", externalId)
		ev.client.queueEvent(ErrServiceUnavailable(ev.Id))
	}
}

// relaySignal forwards an opaque call-setup payload to every live
// connection of the target user. An offline target fails fast back to
// the sender; media negotiation cannot wait on silence.
func (cs *ChatServer) relaySignal(ev *ClientEvent) {
	conns := cs.registry.ConnectionsFor(ev.Signal.TargetUserId)
	if len(conns) == 0 {
		ev.client.queueEvent(responseFor(ev.Id, errTargetUnavailable))
		return
	}

	out := &ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		Signal: &Signal{
			Kind:       ev.Signal.Kind,
			FromUserId: ev.UserId,
			Payload:    ev.Signal.Payload,
		},
	}

	for _, c := range conns {
		c.queueEvent(out)
	}

	cs.stats.Incr(statSignalsRelayed)
}

func (cs *ChatServer) newRoom(dbChannel database.Channel) *Room {
	return &Room{
		id:         dbChannel.Id,
		externalId: dbChannel.ExternalId,
		cs:         cs,
		db:         cs.db,
		oracle:     cs.oracle,
		stats:      cs.stats,
		log:        cs.log,
		joinChan:   make(chan *ClientEvent, 256),
		leaveChan:  make(chan *ClientEvent, 256),
		eventChan:  make(chan *ClientEvent, 256),
		exit:       make(chan exitReq),
		clients:    make(map[*Client]struct{}),
		userMap:    make(map[int]map[*Client]struct{}),
		typing:     newTypingSet(),
	}
}

func (cs *ChatServer) unloadRoom(externalId string) {
	r, ok := cs.rooms[externalId]
	if !ok {
		return
	}

	done := make(chan bool)
	r.exit <- exitReq{done: done}
	if <-done {
		cs.log.Printf("unloaded room %q", externalId)
		delete(cs.rooms, externalId)
		cs.stats.Decr(statActiveRooms)
	}
}

// broadcastPresence notifies every connection except the user's own.
func (cs *ChatServer) broadcastPresence(userId int, online bool, lastSeen *time.Time) {
	ev := &ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		Notification: &Notification{
			Presence: &Presence{
				UserId:   userId,
				Online:   online,
				LastSeen: lastSeen,
			},
		},
	}

	for _, c := range cs.registry.conns {
		if c.user.Id == userId {
			continue
		}

		c.queueEvent(ev)
	}
}

func (cs *ChatServer) persistPresence(userId int, online bool, lastSeen time.Time) {
	if err := cs.db.SetPresence(userId, online, lastSeen); err != nil {
		cs.log.Printf("set presence for user %d: %v", userId, err)
	}
}

func (cs *ChatServer) shutdown() {
	cs.log.Println("shutting down rooms")
	for externalId, r := range cs.rooms {
		done := make(chan bool)
		r.exit <- exitReq{force: true, done: done}
		<-done
		delete(cs.rooms, externalId)
	}

	for _, c := range cs.registry.conns {
		c.stopClient()
	}

	close(cs.done)
}

// Shutdown stops the run loop and waits for rooms and clients to wind
// down, or for ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
