package server

// ConnectionRegistry maps live connections to user identities and back.
// A user is online while they have at least one registered connection.
// It is owned by the ChatServer run loop and accessed from no other
// goroutine, so it carries no lock.
type ConnectionRegistry struct {
	conns map[string]*Client
	users map[int]map[string]*Client
}

func newConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Client),
		users: make(map[int]map[string]*Client),
	}
}

// Register records a live connection. It reports whether this is the
// user's first connection (a presence transition) and returns any
// evicted client registered under the same connection id. A duplicate
// id means a broken transport layer; the stale entry is evicted so the
// new connection wins.
func (r *ConnectionRegistry) Register(c *Client) (first bool, evicted *Client) {
	if old, ok := r.conns[c.id]; ok {
		evicted = old
		r.remove(old)
	}

	first = len(r.users[c.user.Id]) == 0

	r.conns[c.id] = c
	if r.users[c.user.Id] == nil {
		r.users[c.user.Id] = make(map[string]*Client)
	}
	r.users[c.user.Id][c.id] = c

	return first, evicted
}

// LookupUser resolves a connection id to its authenticated user.
func (r *ConnectionRegistry) LookupUser(connId string) (*Client, bool) {
	c, ok := r.conns[connId]
	return c, ok
}

// ConnectionsFor returns every live connection for a user; empty when
// the user is offline.
func (r *ConnectionRegistry) ConnectionsFor(userId int) []*Client {
	clients := make([]*Client, 0, len(r.users[userId]))
	for _, c := range r.users[userId] {
		clients = append(clients, c)
	}
	return clients
}

// Unregister removes a connection and reports whether it was the
// user's last one. The entry is removed only when it still belongs to
// this client; a stale evicted client deregistering after its id was
// reclaimed must not knock out the fresh connection.
func (r *ConnectionRegistry) Unregister(c *Client) (last bool, ok bool) {
	cur, ok := r.conns[c.id]
	if !ok || cur != c {
		return false, false
	}

	r.remove(c)
	return len(r.users[c.user.Id]) == 0, true
}

func (r *ConnectionRegistry) remove(c *Client) {
	delete(r.conns, c.id)
	if userConns, ok := r.users[c.user.Id]; ok {
		delete(userConns, c.id)
		if len(userConns) == 0 {
			delete(r.users, c.user.Id)
		}
	}
}

func (r *ConnectionRegistry) len() int {
	return len(r.conns)
}
