package tilecache

import (
	"github.com/pdok/tiler/tile"
)

// TileCache is an LRU of tiles keyed by tile coordinate key.
type TileCache struct {
	*LRU[tile.Tile]
}

func New(highWaterMark int) *TileCache {
	return &TileCache{LRU: NewLRU[tile.Tile](highWaterMark)}
}

// ExpireCache evicts and releases least recently used tiles while the cache is over its
// high-water mark. It stops at the first tile whose key is in used, even when younger
// tiles could still go.
func (c *TileCache) ExpireCache(used map[string]struct{}) {
	Release(c.Expire(used))
}

// Expire evicts like ExpireCache but leaves releasing the evicted tiles to the caller.
func (c *TileCache) Expire(used map[string]struct{}) []tile.Tile {
	var evicted []tile.Tile
	for c.CanExpireCache() {
		key, _ := c.PeekLastKey()
		if _, ok := used[key]; ok {
			break
		}
		t, _ := c.Pop()
		evicted = append(evicted, t)
	}
	return evicted
}

// PruneExceptNewestZ removes and releases all tiles that are not at the zoom level
// of the most recently used tile.
func (c *TileCache) PruneExceptNewestZ() {
	Release(c.RemoveExceptNewestZ())
}

// RemoveExceptNewestZ removes like PruneExceptNewestZ and returns the removed tiles
// unreleased.
func (c *TileCache) RemoveExceptNewestZ() []tile.Tile {
	key, ok := c.PeekFirstKey()
	if !ok {
		return nil
	}
	newest, _ := c.Peek(key)
	z := newest.Coord().Z
	var stale []string
	c.ForEach(func(key string, t tile.Tile) {
		if t.Coord().Z != z {
			stale = append(stale, key)
		}
	})
	removed := make([]tile.Tile, 0, len(stale))
	for _, key := range stale {
		t, _ := c.Remove(key)
		removed = append(removed, t)
	}
	return removed
}

// Release releases every tile. Callers holding a lock that tile listeners may take
// should call it after unlocking.
func Release(tiles []tile.Tile) {
	for _, t := range tiles {
		t.Release()
	}
}
