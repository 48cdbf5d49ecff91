package script

import (
	"container/list"
	"sync"
)

type (
	// lruCache memoizes compiled scripts by key, evicting the least
	// recently used entry once maxSize is exceeded.
	lruCache[T any] struct {
		mu      sync.Mutex
		entries map[string]*list.Element
		order   *list.List
		maxSize int
	}

	cacheEntry[T any] struct {
		key   string
		value T
	}
)

func newLRUCache[T any](maxSize int) *lruCache[T] {
	return &lruCache[T]{
		entries: map[string]*list.Element{},
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached value for key, building it with create on a miss.
// Failed builds are not cached.
func (c *lruCache[T]) Get(key string, create func() (T, error)) (T, error) {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		return elem.Value.(*cacheEntry[T]).value, nil
	}
	c.mu.Unlock()

	value, err := create()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry[T]).value, nil
	}
	c.entries[key] = c.order.PushFront(&cacheEntry[T]{key: key, value: value})
	if c.order.Len() > c.maxSize {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry[T]).key)
	}
	return value, nil
}

// Len returns the number of cached entries.
func (c *lruCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
