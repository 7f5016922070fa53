package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/mwhitfield/groupchat/internal/stats"
	"github.com/mwhitfield/groupchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one transport-level session: an opaque connection id bound
// to an authenticated user, plus the set of rooms the connection has
// joined. It is destroyed on disconnect; nothing here is persisted.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	stats      stats.StatsProvider
	user       types.User
	send       chan *ServerEvent
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}

	stopOnce    sync.Once
	cleanupOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger, st stats.StatsProvider) *Client {
	return &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		stats:      st,
		user:       user,
		send:       make(chan *ServerEvent, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(ErrInvalidEvent(ev.Id))
			continue
		}

		ev.client = c
		ev.UserId = c.user.Id
		ev.Timestamp = Now()

		if err := ev.validatePayload(); err != nil {
			c.queueEvent(responseFor(ev.Id, err))
			continue
		}

		c.dispatch(&ev)
	}
}

// dispatch routes a validated event. Per-channel events go straight to
// the owning room when this connection has it joined; everything else
// goes through the server loop.
func (c *Client) dispatch(ev *ClientEvent) {
	switch {
	case ev.Join != nil:
		c.sendToServer(ev, c.chatServer.routeChan)
	case ev.Leave != nil:
		if r := c.getRoom(ev.Leave.ChannelId); r != nil {
			c.sendToRoom(ev, r.leaveChan, r)
		} else {
			// already left; idempotent success
			c.queueEvent(NoErrOK(ev.Id, nil))
		}
	case ev.Publish != nil:
		if r := c.getRoom(ev.Publish.ChannelId); r != nil {
			c.sendToRoom(ev, r.eventChan, r)
		} else {
			// sending does not require room presence, only store
			// membership; the server loads the room if needed
			c.sendToServer(ev, c.chatServer.routeChan)
		}
	case ev.Typing != nil:
		if r := c.getRoom(ev.Typing.ChannelId); r != nil {
			c.sendToRoom(ev, r.eventChan, r)
		}
	case ev.Signal != nil:
		c.sendToServer(ev, c.chatServer.relayChan)
	}
}

func (c *Client) sendToServer(ev *ClientEvent, ch chan *ClientEvent) {
	select {
	case ch <- ev:
	default:
		c.log.Println("server event channel full")
		c.queueEvent(ErrServiceUnavailable(ev.Id))
	}
}

func (c *Client) sendToRoom(ev *ClientEvent, ch chan *ClientEvent, r *Room) {
	select {
	case ch <- ev:
	default:
		c.log.Printf("event channel full for room %q", r.externalId)
		c.queueEvent(ErrServiceUnavailable(ev.Id))
	}
}

// queueEvent never blocks: a client that cannot drain its send buffer
// drops frames rather than stalling a room's fan-out.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("send buffer full for connection %q, dropping event", c.id)
		if c.stats != nil {
			c.stats.Incr(statEventsDropped)
		}
		return false
	}

	return true
}

func (c *Client) writeFrame(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup unwinds all ephemeral state for this connection: room
// memberships and typing flags first, then the registry entry and any
// presence transition. Each step is attempted independently and the
// whole routine is safe to run more than once.
func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.leaveAllRooms()
		select {
		case c.chatServer.DeregisterChan <- c:
		case <-c.chatServer.done:
			// run loop has exited; the registry is gone with it
		}
		c.stopClient()
	})
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.roomsLock.RUnlock()

	for _, room := range rooms {
		ev := &ClientEvent{
			BaseEvent: BaseEvent{Timestamp: Now()},
			Leave:     &Leave{ChannelId: room.externalId},
			UserId:    c.user.Id,
			client:    c,
			silent:    true,
		}

		select {
		case room.leaveChan <- ev:
		case <-time.After(writeWait):
			c.log.Printf("timed out leaving room %q during cleanup", room.externalId)
		}
	}
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) delRoom(externalId string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, externalId)
}

func (c *Client) getRoom(externalId string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[externalId]
}
