// Package queue decides which tiles load next, keeping the number of tiles loading
// at once bounded.
package queue

import (
	"math"
	"sync"

	"github.com/go-spatial/geom"
	"github.com/umpc/go-sortedmap"

	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilegrid"
)

// Drop is the priority of tiles that should not be loaded at all.
var Drop = math.Inf(1)

// PriorityFunc ranks a tile; lower loads first.
type PriorityFunc func(t tile.Tile) float64

// DistancePriority prefers fine tiles, then tiles close to center.
func DistancePriority(grid *tilegrid.TileGrid, center geom.Point) PriorityFunc {
	return func(t tile.Tile) float64 {
		c := t.Coord()
		if c.Z < grid.MinZoom() || c.Z > grid.MaxZoom() {
			return Drop
		}
		res := grid.Resolution(c.Z)
		tileCenter := grid.TileCoordCenter(c)
		return 65536*math.Log(res) + math.Hypot(tileCenter[0]-center[0], tileCenter[1]-center[1])/res
	}
}

type entry struct {
	tile     tile.Tile
	priority float64
	seq      uint64
}

func less(x, y interface{}) bool {
	a, b := x.(*entry), y.(*entry)
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

// Queue is safe for concurrent use.
type Queue struct {
	priority PriorityFunc
	onChange func()

	mu          sync.Mutex
	queued      *sortedmap.SortedMap
	seq         uint64
	listening   map[tile.Tile]tile.ListenerKey
	loadingKeys map[string]struct{}
}

// New creates a queue. onChange, when set, is called whenever a tracked tile finishes.
func New(priority PriorityFunc, onChange func()) *Queue {
	return &Queue{
		priority:    priority,
		onChange:    onChange,
		queued:      sortedmap.New(64, less),
		listening:   make(map[tile.Tile]tile.ListenerKey),
		loadingKeys: make(map[string]struct{}),
	}
}

// key tells apart tiles of the same coordinate made for another source configuration.
func key(t tile.Tile) string {
	return t.Key() + "/" + t.Coord().Key()
}

// Enqueue adds t unless it is already queued or its priority is Drop.
func (q *Queue) Enqueue(t tile.Tile) bool {
	priority := q.priority(t)
	if priority == Drop {
		return false
	}
	q.mu.Lock()
	k := key(t)
	if q.queued.Has(k) {
		q.mu.Unlock()
		return false
	}
	q.seq++
	q.queued.Insert(k, &entry{tile: t, priority: priority, seq: q.seq})
	_, listening := q.listening[t]
	q.mu.Unlock()

	if !listening {
		lk := t.AddListener(q.handleTileChange)
		q.mu.Lock()
		q.listening[t] = lk
		q.mu.Unlock()
	}
	return true
}

// Reprioritize recomputes every priority, dropping tiles that became Drop.
func (q *Queue) Reprioritize() {
	q.mu.Lock()
	defer q.mu.Unlock()
	reordered := sortedmap.New(q.queued.Len(), less)
	for _, k := range q.queued.Keys() {
		v, _ := q.queued.Get(k)
		e := v.(*entry)
		e.priority = q.priority(e.tile)
		if e.priority != Drop {
			reordered.Insert(k, e)
		}
	}
	q.queued = reordered
}

// Len is the number of queued tiles.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued.Len()
}

// TilesLoading is the number of tiles started by the queue that have not finished.
func (q *Queue) TilesLoading() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.loadingKeys)
}

// IsQueued reports whether t waits in the queue.
func (q *Queue) IsQueued(t tile.Tile) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued.Has(key(t))
}

// Clear empties the queue. Tiles already loading are still tracked.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = sortedmap.New(64, less)
}

// LoadMoreTiles starts loading queued idle tiles in priority order, until
// maxTotalLoading tiles load at once or maxNewLoads were started.
func (q *Queue) LoadMoreTiles(maxTotalLoading, maxNewLoads int) {
	var toLoad []tile.Tile
	q.mu.Lock()
	for len(q.loadingKeys) < maxTotalLoading && len(toLoad) < maxNewLoads && q.queued.Len() > 0 {
		k := q.queued.Keys()[0]
		v, _ := q.queued.Get(k)
		q.queued.Delete(k)
		t := v.(*entry).tile
		if _, loading := q.loadingKeys[k.(string)]; t.State() == tile.Idle && !loading {
			q.loadingKeys[k.(string)] = struct{}{}
			toLoad = append(toLoad, t)
		}
	}
	q.mu.Unlock()
	// loads may finish right away, which calls back into the queue
	for _, t := range toLoad {
		t.Load()
	}
}

// handleTileChange stops tracking finished tiles. Errored tiles stay listened to
// until they are released from their cache, which moves them to Empty.
func (q *Queue) handleTileChange(t tile.Tile) {
	state := t.State()
	if !state.Terminal() {
		return
	}
	var remove tile.ListenerKey
	q.mu.Lock()
	if state != tile.Error {
		if lk, ok := q.listening[t]; ok {
			remove = lk
			delete(q.listening, t)
		}
	}
	delete(q.loadingKeys, key(t))
	q.mu.Unlock()
	if remove != 0 {
		t.RemoveListener(remove)
	}
	if q.onChange != nil {
		q.onChange()
	}
}
