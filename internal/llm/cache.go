package llm

import (
	"sync"
	"time"
)

type cacheEntry struct {
	expiry time.Time
	answer Answer
}

// answerCache memoizes oracle answers per merchant for the life of a process,
// so concurrent lookups for the same merchant hit the API once.
type answerCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	ttl     time.Duration
	mu      sync.RWMutex
}

func newAnswerCache(ttl time.Duration) *answerCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &answerCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *answerCache) get(key string) (Answer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiry) {
		return Answer{}, false
	}
	return entry.answer, true
}

func (c *answerCache) set(key string, answer Answer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{answer: answer, expiry: now.Add(c.ttl)}
}

func (c *answerCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
