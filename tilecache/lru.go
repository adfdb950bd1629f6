// Package tilecache is a least recently used cache of tiles with a soft capacity, the
// high-water mark, above which ExpireCache evicts.
package tilecache

import (
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/tiler/mapslicehelp"
)

// DefaultHighWaterMark is the capacity of a cache created with a zero high-water mark.
const DefaultHighWaterMark = 2048

var (
	ErrDuplicateKey = errors.New("key already in cache")
	ErrMissingKey   = errors.New("key not in cache")
)

// Releaser values are told when they leave the cache through expiry or Clear.
type Releaser interface {
	Release()
}

// LRU maps keys to values ordered by use, oldest first.
// It is not safe for concurrent use; its owner serializes access.
type LRU[V Releaser] struct {
	highWaterMark int
	entries       *orderedmap.OrderedMap[string, V]
}

func NewLRU[V Releaser](highWaterMark int) *LRU[V] {
	if highWaterMark == 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &LRU[V]{
		highWaterMark: highWaterMark,
		entries:       orderedmap.New[string, V](),
	}
}

// CanExpireCache reports whether the cache holds more than its high-water mark.
// A negative high-water mark never expires.
func (c *LRU[V]) CanExpireCache() bool {
	return c.highWaterMark > 0 && c.Len() > c.highWaterMark
}

func (c *LRU[V]) HighWaterMark() int {
	return c.highWaterMark
}

func (c *LRU[V]) SetHighWaterMark(highWaterMark int) {
	c.highWaterMark = highWaterMark
}

// Clear removes and releases every value.
func (c *LRU[V]) Clear() {
	for _, v := range c.RemoveAll() {
		v.Release()
	}
}

// RemoveAll empties the cache and returns the removed values, least recently used
// first. They are not released.
func (c *LRU[V]) RemoveAll() []V {
	removed := make([]V, 0, c.Len())
	for c.Len() > 0 {
		v, _ := c.Pop()
		removed = append(removed, v)
	}
	return removed
}

func (c *LRU[V]) ContainsKey(key string) bool {
	_, ok := c.entries.Get(key)
	return ok
}

// ForEach visits values oldest first. f may not modify the cache.
func (c *LRU[V]) ForEach(f func(key string, value V)) {
	for p := c.entries.Oldest(); p != nil; p = p.Next() {
		f(p.Key, p.Value)
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	v, ok := c.entries.Get(key)
	if ok {
		_ = c.entries.MoveToBack(key)
	}
	return v, ok
}

// Peek returns the value for key without touching the order.
func (c *LRU[V]) Peek(key string) (V, bool) {
	return c.entries.Get(key)
}

// Keys returns the keys most recently used first.
func (c *LRU[V]) Keys() []string {
	return mapslicehelp.ReverseClone(mapslicehelp.OrderedMapKeys(c.entries))
}

// Values returns the values most recently used first.
func (c *LRU[V]) Values() []V {
	return mapslicehelp.ReverseClone(mapslicehelp.OrderedMapValues(c.entries))
}

func (c *LRU[V]) Len() int {
	return c.entries.Len()
}

// PeekLast returns the least recently used value.
func (c *LRU[V]) PeekLast() (V, bool) {
	p := c.entries.Oldest()
	if p == nil {
		var zero V
		return zero, false
	}
	return p.Value, true
}

// PeekLastKey returns the least recently used key.
func (c *LRU[V]) PeekLastKey() (string, bool) {
	p := c.entries.Oldest()
	if p == nil {
		return "", false
	}
	return p.Key, true
}

// PeekFirstKey returns the most recently used key.
func (c *LRU[V]) PeekFirstKey() (string, bool) {
	p := c.entries.Newest()
	if p == nil {
		return "", false
	}
	return p.Key, true
}

// Pop removes and returns the least recently used value. It is not released.
func (c *LRU[V]) Pop() (V, bool) {
	p := c.entries.Oldest()
	if p == nil {
		var zero V
		return zero, false
	}
	c.entries.Delete(p.Key)
	return p.Value, true
}

// Remove drops key without releasing its value.
func (c *LRU[V]) Remove(key string) (V, bool) {
	return c.entries.Delete(key)
}

// Replace swaps the value of an existing key and marks it most recently used.
// The entry keeps its identity; nothing is released.
func (c *LRU[V]) Replace(key string, value V) error {
	if _, ok := c.entries.Get(key); !ok {
		return fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	c.entries.Set(key, value)
	return c.entries.MoveToBack(key)
}

// Set adds a new key as most recently used.
func (c *LRU[V]) Set(key string, value V) error {
	if _, ok := c.entries.Get(key); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	c.entries.Set(key, value)
	return nil
}
