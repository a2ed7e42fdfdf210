package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// ResponseCache memoizes raw critic responses keyed by model+prompt hash.
// Critic calls run at temperature 0, so a repeated prompt yields the same
// analysis; caching them makes repeated batch runs over the same headlines
// cheap during development.
type ResponseCache interface {
	Get(key string) (string, bool)
	Put(key, value string)
}

// responseCacheKey derives a stable cache key from model and prompt.
func responseCacheKey(modelName, prompt string) string {
	sum := sha256.Sum256([]byte(modelName + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// MemoryResponseCache is a process-local ResponseCache.
type MemoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryResponseCache creates an empty in-memory response cache.
func NewMemoryResponseCache() *MemoryResponseCache {
	return &MemoryResponseCache{entries: make(map[string]string)}
}

func (c *MemoryResponseCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *MemoryResponseCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}
