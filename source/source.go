// Package source coordinates tile grids, tile caches and tile creation for one tile
// service, reprojecting tiles when they are requested in another projection.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/maps"

	"github.com/pdok/tiler/loader"
	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecache"
	"github.com/pdok/tiler/tilecoord"
	"github.com/pdok/tiler/tilegrid"
	"github.com/pdok/tiler/urlfunc"
)

var ErrOptions = errors.New("invalid source options")

// Source hands out tiles by coordinate and projection. It is safe for concurrent use.
type Source struct {
	ctx    context.Context
	cancel context.CancelFunc

	projection     *proj.Projection
	tileGrid       *tilegrid.TileGrid
	grids          *tilegrid.Registry
	kind           Kind
	tileOptions    tile.Options
	wrapX          bool
	tilePixelRatio float64
	errorThreshold float64
	maxSourceTiles int

	mu                     sync.Mutex
	tileCache              *tilecache.TileCache
	tileCacheForProjection map[string]*tilecache.TileCache
	key                    string
	urls                   []string
	urlFunc                urlfunc.Func
	urlKind                urlfunc.Kind
	loadFunc               tile.LoadFunc

	// a cached tile was replaced since the last GetTile returned
	replaced bool

	eventMu sync.Mutex
	events  events
}

// New creates a source. Tiles load with ctx; Close cancels it.
func New(ctx context.Context, options Options) (*Source, error) {
	if err := defaults.Set(&options); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOptions, err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(options); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOptions, err)
	}
	if options.Grids == nil {
		options.Grids = tilegrid.NewRegistry()
	}
	if options.TileGrid == nil {
		g, err := options.Grids.ForProjection(options.Projection)
		if err != nil {
			return nil, fmt.Errorf("%w: no tile grid for %s: %w", ErrOptions, options.Projection, err)
		}
		options.TileGrid = g
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Source{
		ctx:                    ctx,
		cancel:                 cancel,
		projection:             options.Projection,
		tileGrid:               options.TileGrid,
		grids:                  options.Grids,
		kind:                   options.Kind,
		tileOptions:            tile.Options{Transition: options.Transition},
		wrapX:                  *options.WrapX,
		tilePixelRatio:         options.TilePixelRatio,
		errorThreshold:         options.ReprojectionErrorThreshold,
		maxSourceTiles:         options.MaxSourceTiles,
		tileCache:              tilecache.New(options.CacheSize),
		tileCacheForProjection: make(map[string]*tilecache.TileCache),
		key:                    options.Key,
		urlFunc:                urlfunc.Nil,
		urlKind:                urlfunc.Default,
		loadFunc:               options.TileLoadFunc,
		events:                 newEvents(),
	}
	if s.loadFunc == nil {
		l := options.Loader
		if l == nil {
			l = loader.NewHTTP(nil)
		}
		s.loadFunc = loader.LoadFunc(l)
	}
	if options.TileURLFunc != nil {
		s.urlFunc = options.TileURLFunc
		s.urlKind = urlfunc.Custom
	}
	switch {
	case len(options.URLs) > 0:
		s.setURLs(options.URLs)
	case options.URL != "":
		s.setURLs(urlfunc.ExpandURL(options.URL))
	}
	return s, nil
}

func (s *Source) Projection() *proj.Projection {
	return s.projection
}

func (s *Source) TileGrid() *tilegrid.TileGrid {
	return s.tileGrid
}

func (s *Source) Kind() Kind {
	return s.kind
}

// Key identifies the current configuration. Tiles carrying another key are stale.
func (s *Source) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Source) SetKey(key string) {
	s.mu.Lock()
	changed := s.setKey(key)
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

func (s *Source) setKey(key string) bool {
	if s.key == key {
		return false
	}
	s.key = key
	return true
}

func (s *Source) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...)
}

// TileURLFunc returns the current URL function and whether it was generated from
// the URLs or set by the user.
func (s *Source) TileURLFunc() (urlfunc.Func, urlfunc.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlFunc, s.urlKind
}

// SetURL sets the URL template, expanding {a-c} and {1-4} ranges.
func (s *Source) SetURL(url string) {
	s.SetURLs(urlfunc.ExpandURL(url))
}

// SetURLs sets the URL templates. The key becomes the templates joined by newlines,
// so tiles already handed out become stale.
func (s *Source) SetURLs(urls []string) {
	s.mu.Lock()
	pruned := s.setURLs(urls)
	s.mu.Unlock()
	tilecache.Release(pruned)
	s.changed()
}

// setURLs returns the tiles it pruned. They still need releasing.
func (s *Source) setURLs(urls []string) []tile.Tile {
	s.urls = append([]string(nil), urls...)
	key := strings.Join(urls, "\n")
	var pruned []tile.Tile
	if s.urlKind == urlfunc.Default {
		pruned = s.setTileURLFunc(urlfunc.FromTemplates(s.urls, s.tileGrid), urlfunc.Default)
	}
	s.setKey(key)
	return pruned
}

// SetTileURLFunc replaces the URL function and drops cached tiles of all but the
// newest zoom level. A non-empty key becomes the new key.
func (s *Source) SetTileURLFunc(f urlfunc.Func, key string) {
	s.mu.Lock()
	pruned := s.setTileURLFunc(f, urlfunc.Custom)
	if key != "" {
		s.setKey(key)
	}
	s.mu.Unlock()
	tilecache.Release(pruned)
	s.changed()
}

func (s *Source) setTileURLFunc(f urlfunc.Func, kind urlfunc.Kind) []tile.Tile {
	if f == nil {
		f = urlfunc.Nil
	}
	s.urlFunc = f
	s.urlKind = kind
	return s.tileCache.RemoveExceptNewestZ()
}

// SetTileLoadFunc replaces the load function and clears the cache.
func (s *Source) SetTileLoadFunc(f tile.LoadFunc) {
	s.mu.Lock()
	removed := s.tileCache.RemoveAll()
	s.loadFunc = f
	s.mu.Unlock()
	tilecache.Release(removed)
	s.changed()
}

// TileGridForProjection is the source grid for the source projection, and a
// memoized default grid for any other. A nil p means the source projection.
func (s *Source) TileGridForProjection(p *proj.Projection) (*tilegrid.TileGrid, error) {
	if p == nil || proj.Equivalent(s.projection, p) {
		return s.tileGrid, nil
	}
	return s.grids.ForProjection(p)
}

// SetTileGridForProjection sets the grid reprojected tiles in p use, unless p
// already has one.
func (s *Source) SetTileGridForProjection(p *proj.Projection, g *tilegrid.TileGrid) {
	if p == nil {
		return
	}
	if _, ok := s.grids.Get(p); !ok {
		s.grids.Set(p, g)
	}
}

// TileCacheForProjection is the main cache for the source projection, and a
// separate cache per projection tiles get reprojected to. A nil p means the source
// projection.
func (s *Source) TileCacheForProjection(p *proj.Projection) *tilecache.TileCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tileCacheFor(p)
}

func (s *Source) tileCacheFor(p *proj.Projection) *tilecache.TileCache {
	if p == nil || proj.Equivalent(s.projection, p) {
		return s.tileCache
	}
	c, ok := s.tileCacheForProjection[p.Code]
	if !ok {
		c = tilecache.New(s.tileCache.HighWaterMark())
		s.tileCacheForProjection[p.Code] = c
	}
	return c
}

func (s *Source) allCaches() []*tilecache.TileCache {
	return append([]*tilecache.TileCache{s.tileCache}, maps.Values(s.tileCacheForProjection)...)
}

// ExpireCache evicts least recently used tiles from every cache over its high-water
// mark. used protects tiles in the cache of p only. Listeners get a Change event
// when anything was evicted.
func (s *Source) ExpireCache(p *proj.Projection, used map[string]struct{}) {
	s.mu.Lock()
	usedCache := s.tileCacheFor(p)
	var evicted []tile.Tile
	for _, c := range s.allCaches() {
		if c == usedCache {
			evicted = append(evicted, c.Expire(used)...)
		} else {
			evicted = append(evicted, c.Expire(nil)...)
		}
	}
	s.mu.Unlock()
	if len(evicted) == 0 {
		return
	}
	tilecache.Release(evicted)
	s.changed()
}

func (s *Source) CanExpireCache() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.allCaches() {
		if c.CanExpireCache() {
			return true
		}
	}
	return false
}

// Clear releases every cached tile.
func (s *Source) Clear() {
	tilecache.Release(s.removeAll())
	s.changed()
}

func (s *Source) removeAll() []tile.Tile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []tile.Tile
	for _, c := range s.allCaches() {
		removed = append(removed, c.RemoveAll()...)
	}
	return removed
}

// UpdateCacheSize grows the cache of p to hold tileCount tiles. Reprojected tiles
// keep their source tiles alive, so the main cache then grows to twice that.
func (s *Source) UpdateCacheSize(tileCount int, p *proj.Projection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grow := func(c *tilecache.TileCache, n int) {
		if n > c.HighWaterMark() {
			c.SetHighWaterMark(n)
		}
	}
	c := s.tileCacheFor(p)
	grow(c, tileCount)
	if c != s.tileCache {
		grow(s.tileCache, 2*tileCount)
	}
}

// Close cancels in-flight loads and releases all tiles.
func (s *Source) Close() {
	s.cancel()
	tilecache.Release(s.removeAll())
}

func logLoadError(t tile.Tile) {
	if e, ok := t.(interface{ Err() error }); ok && e.Err() != nil {
		log.Printf("could not load tile %s: %v", t.Coord(), e.Err())
	}
}

// tileCoordForURL wraps coord into the world for global projections, and reports
// false for coordinates outside the grid.
func (s *Source) tileCoordForURL(coord tilecoord.Coord, p *proj.Projection) (tilecoord.Coord, bool) {
	g, err := s.TileGridForProjection(p)
	if err != nil || coord.Z < g.MinZoom() || coord.Z > g.MaxZoom() {
		return coord, false
	}
	if s.wrapX && p.Global {
		coord = tilegrid.WrapX(g, coord, p)
	}
	return coord, tilegrid.WithinExtentAndZ(coord, g)
}
