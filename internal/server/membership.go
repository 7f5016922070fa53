package server

import (
	"log"
	"sync"
	"time"

	"github.com/mwhitfield/groupchat/internal/database"
)

// MembershipOracle answers whether a user may currently read or write a
// channel. The store is authoritative: the check runs on every join and
// every send, so membership changes made through the admin surface take
// effect on the next action. Any lookup failure denies access.
type MembershipOracle struct {
	db  database.ChatRepository
	log *log.Logger

	// cacheTTL bounds the staleness of cached verdicts. Zero disables
	// the cache entirely.
	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[memberKey]memberEntry
}

type memberKey struct {
	userId    int
	channelId int
}

type memberEntry struct {
	allowed bool
	expires time.Time
}

func NewMembershipOracle(db database.ChatRepository, logger *log.Logger, cacheTTL time.Duration) *MembershipOracle {
	return &MembershipOracle{
		db:       db,
		log:      logger,
		cacheTTL: cacheTTL,
		cache:    make(map[memberKey]memberEntry),
	}
}

// CanAccess reports whether the user is a member of the channel or a
// super-administrator. Read and write use the same rule.
func (o *MembershipOracle) CanAccess(userId, channelId int) bool {
	key := memberKey{userId: userId, channelId: channelId}

	if o.cacheTTL > 0 {
		o.mu.Lock()
		entry, ok := o.cache[key]
		o.mu.Unlock()
		if ok && time.Now().Before(entry.expires) {
			return entry.allowed
		}
	}

	allowed := o.lookup(userId, channelId)

	if o.cacheTTL > 0 {
		o.mu.Lock()
		o.cache[key] = memberEntry{allowed: allowed, expires: time.Now().Add(o.cacheTTL)}
		o.mu.Unlock()
	}

	return allowed
}

func (o *MembershipOracle) lookup(userId, channelId int) bool {
	member, err := o.db.IsChannelMember(userId, channelId)
	if err != nil {
		o.log.Printf("membership lookup for user %d in channel %d: %v", userId, channelId, err)
		return false
	}
	if member {
		return true
	}

	user, err := o.db.GetAccountById(userId)
	if err != nil {
		o.log.Printf("account lookup for user %d: %v", userId, err)
		return false
	}

	return user.IsAdmin
}
