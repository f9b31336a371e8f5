// Package dedup suppresses duplicate submissions of the same message.
package dedup

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"chat-relay/internal/models"
)

// DefaultCapacity is the number of fingerprints remembered.
const DefaultCapacity = 1000

// Cache is a bounded set of recently seen fingerprints. When full, the oldest
// fingerprint is evicted. Lookups never refresh an entry, so eviction order is
// insertion order.
type Cache struct {
	entries *lru.Cache[models.Fingerprint, struct{}]
}

// New builds a cache holding up to capacity fingerprints.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[models.Fingerprint, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Seen records fp and reports whether it was already present. The check and
// the insert happen atomically.
func (c *Cache) Seen(fp models.Fingerprint) bool {
	seen, _ := c.entries.ContainsOrAdd(fp, struct{}{})
	return seen
}

// Forget drops fp so that a later submission is treated as new.
func (c *Cache) Forget(fp models.Fingerprint) {
	c.entries.Remove(fp)
}

// Len returns the number of remembered fingerprints.
func (c *Cache) Len() int {
	return c.entries.Len()
}
