package server

// typingSet tracks which users are currently signaling "typing" in one
// channel. It is owned by that channel's Room goroutine. Transitions
// are idempotent: a repeated start or stop reports no transition, which
// suppresses duplicate broadcasts to the room.
type typingSet struct {
	users map[int]string
}

func newTypingSet() *typingSet {
	return &typingSet{users: make(map[int]string)}
}

// start records a user as typing and reports whether that is a new
// transition.
func (t *typingSet) start(userId int, username string) bool {
	if _, ok := t.users[userId]; ok {
		return false
	}

	t.users[userId] = username
	return true
}

// stop clears a user's typing flag and reports whether the user was
// typing. Stopping a user who never started is a no-op.
func (t *typingSet) stop(userId int) bool {
	if _, ok := t.users[userId]; !ok {
		return false
	}

	delete(t.users, userId)
	return true
}

// clear is stop for cleanup paths (leave, disconnect): same transition
// semantics, safe to call regardless of state.
func (t *typingSet) clear(userId int) bool {
	return t.stop(userId)
}

func (t *typingSet) typing(userId int) bool {
	_, ok := t.users[userId]
	return ok
}
