package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/patrickmn/go-cache"
)

type Cache interface {
	Get(key string) (*database.Case, bool)
	Set(key string, value *database.Case)
	Delete(key string)
	Clear()
	Stats() CacheStats
}

type CacheStats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Size       int       `json:"size"`
	LastAccess time.Time `json:"last_access"`
}

// CaseCache is a size-bounded TTL cache of stored cases. Cases are never
// deleted from the store, so a cached entry also proves existence.
type CaseCache struct {
	cache   *cache.Cache
	mu      sync.Mutex
	stats   CacheStats
	maxSize int
}

func NewCache(maxSize int, ttl time.Duration) Cache {
	return &CaseCache{
		cache:   cache.New(ttl, ttl*2),
		maxSize: maxSize,
	}
}

func (c *CaseCache) Get(key string) (*database.Case, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastAccess = time.Now()

	if data, found := c.cache.Get(key); found {
		if caseInfo, ok := data.(*database.Case); ok {
			c.stats.Hits++
			return caseInfo, true
		}
	}

	c.stats.Misses++
	return nil, false
}

func (c *CaseCache) Set(key string, value *database.Case) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache.Get(key); !exists && c.maxSize > 0 && c.cache.ItemCount() >= c.maxSize {
		c.removeOldest()
	}

	c.cache.Set(key, value, cache.DefaultExpiration)
}

func (c *CaseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Delete(key)
}

func (c *CaseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Flush()
	c.stats = CacheStats{}
}

func (c *CaseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Size = c.cache.ItemCount()
	return c.stats
}

// removeOldest evicts the entry closest to expiry, which is the one set first
func (c *CaseCache) removeOldest() {
	var oldestKey string
	var oldest int64

	for key, item := range c.cache.Items() {
		if oldestKey == "" || item.Expiration < oldest {
			oldestKey = key
			oldest = item.Expiration
		}
	}

	if oldestKey != "" {
		c.cache.Delete(oldestKey)
	}
}

func CaseKey(caseID string) string {
	return fmt.Sprintf("case:%s", caseID)
}
