package requestqueue

import "container/list"

// cacheEntry is what a lruCache value maps a key to.
type cacheEntry struct {
	key   string
	value any
}

// lruCache is a bounded least-recently-used map, used for both
// recently_handled (value ignored, used as a set) and request_cache
// (value is a *cachedRequest). Eviction happens on insert once the
// capacity is exceeded; a Get promotes the entry to most-recently-used.
type lruCache struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (c *lruCache) Set(key string, value any) {
	if el, ok := c.index[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, value: value})
	c.index[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*cacheEntry).key)
	}
}

func (c *lruCache) Get(key string) (any, bool) {
	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (c *lruCache) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

func (c *lruCache) Delete(key string) {
	el, ok := c.index[key]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.index, key)
}

func (c *lruCache) Len() int { return c.order.Len() }
