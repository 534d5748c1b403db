package securetransport

import (
	"crypto/tls"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheCapacity is the capacity NewSessionCache uses for values <= 0.
const DefaultCacheCapacity = 64

// SessionCache is an in-memory LRU tls.ClientSessionCache safe for
// concurrent use.
type SessionCache struct {
	entries *lru.Cache[string, *tls.ClientSessionState]
}

var _ tls.ClientSessionCache = (*SessionCache)(nil)

// NewSessionCache returns a cache holding at most capacity sessions.
func NewSessionCache(capacity int) *SessionCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, *tls.ClientSessionState](capacity)
	return &SessionCache{entries: entries}
}

func (c *SessionCache) Get(key string) (*tls.ClientSessionState, bool) {
	return c.entries.Get(key)
}

// Put stores cs under key. A nil cs removes the entry.
func (c *SessionCache) Put(key string, cs *tls.ClientSessionState) {
	if cs == nil {
		c.entries.Remove(key)
		return
	}
	c.entries.Add(key, cs)
}

// Remove drops the session stored under key.
func (c *SessionCache) Remove(key string) {
	c.entries.Remove(key)
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	return c.entries.Len()
}
