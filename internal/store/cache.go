package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache keeps recently used decoded objects in memory.
type Cache interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte)
	Has(key string) bool
	Remove(key string)
	Clear()
}

// LRUCache is a fixed-size Cache evicting the least recently used object.
type LRUCache struct {
	items *lru.Cache[string, []byte]
}

// NewLRUCache returns a cache holding up to size objects.
func NewLRUCache(size int) *LRUCache {
	if size < 1 {
		size = 1
	}
	items, _ := lru.New[string, []byte](size) // only fails for size <= 0
	return &LRUCache{items: items}
}

func (c *LRUCache) Get(key string) ([]byte, bool) { return c.items.Get(key) }
func (c *LRUCache) Add(key string, value []byte)  { c.items.Add(key, value) }
func (c *LRUCache) Has(key string) bool           { return c.items.Contains(key) }
func (c *LRUCache) Remove(key string)             { c.items.Remove(key) }
func (c *LRUCache) Clear()                        { c.items.Purge() }
