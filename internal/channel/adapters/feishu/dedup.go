package feishu

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	messageDedupCacheSize = 2048
	messageDedupTTL       = 10 * time.Minute
)

// messageDeduper drops events the platform redelivers after a slow ack.
type messageDeduper struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

func newMessageDeduper(size int, ttl time.Duration) *messageDeduper {
	if size <= 0 {
		size = messageDedupCacheSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, time.Time](size)
	return &messageDeduper{cache: cache, ttl: ttl, now: time.Now}
}

// Seen records key and reports whether it was already recorded within the TTL.
// Blank keys are never duplicates.
func (d *messageDeduper) Seen(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.cache.Get(key); ok {
		if now.Sub(ts) <= d.ttl {
			return true
		}
		d.cache.Remove(key)
	}
	d.cache.Add(key, now)
	return false
}
