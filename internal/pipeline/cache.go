package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type Loader func(ctx context.Context) (*Prepared, error)

type Hooks struct {
	OnHit  func()
	OnMiss func()
}

// Cache is a read-through store of prepared sets. Keys are content hashes,
// so a changed upload always misses. When MaxEntries is reached the oldest
// entry is evicted. Errors are not cached.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]*Prepared
	order      []string
	maxEntries int
	hooks      Hooks
	sf         singleflight.Group
}

func NewCache(maxEntries int, hooks Hooks) *Cache {
	return &Cache{
		items:      make(map[string]*Prepared),
		maxEntries: maxEntries,
		hooks:      hooks,
	}
}

// Load returns the cached set for key or runs loader once, even when
// several callers ask for the same key concurrently.
func (c *Cache) Load(ctx context.Context, key string, loader Loader) (*Prepared, error) {
	c.mu.RLock()
	p, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		if c.hooks.OnHit != nil {
			c.hooks.OnHit()
		}
		return p, nil
	}
	// Only the caller whose loader actually runs counts as a miss. Callers
	// that join an in-flight load or find it stored on the re-check are hits.
	var loaded bool
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		p, ok := c.items[key]
		c.mu.RUnlock()
		if ok {
			return p, nil
		}

		loaded = true
		if c.hooks.OnMiss != nil {
			c.hooks.OnMiss()
		}
		p, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if !loaded && c.hooks.OnHit != nil {
		c.hooks.OnHit()
	}
	return v.(*Prepared), nil
}

func (c *Cache) store(key string, p *Prepared) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = p

	for c.maxEntries > 0 && len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Invalidate drops a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
