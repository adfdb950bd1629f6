package source

import (
	"log"

	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/reproj"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecoord"
)

// GetTile returns the tile at z/x/y for p. When p differs from the source projection
// the tile is a *reproj.Tile composed of source tiles. A tile whose key no longer
// matches the source key is replaced by a new one that keeps the old tile as its
// interim tile. Listeners get a Change event when a cached tile was replaced.
func (s *Source) GetTile(z, x, y int, pixelRatio float64, p *proj.Projection) tile.Tile {
	s.mu.Lock()
	t := s.getTile(z, x, y, pixelRatio, p)
	replaced := s.replaced
	s.replaced = false
	s.mu.Unlock()
	if replaced {
		s.changed()
	}
	return t
}

func (s *Source) getTile(z, x, y int, pixelRatio float64, p *proj.Projection) tile.Tile {
	if p == nil || proj.Equivalent(s.projection, p) {
		return s.getTileInternal(z, x, y, pixelRatio, s.projection)
	}

	cache := s.tileCacheFor(p)
	coord := tilecoord.New(z, x, y)
	coordKey := coord.Key()
	existing, ok := cache.Get(coordKey)
	if ok && existing.Key() == s.key {
		return existing
	}

	newTile := s.createReprojTile(coord, p)
	newTile.SetKey(s.key)
	if ok {
		newTile.SetInterimTile(existing)
		newTile.RefreshInterimChain()
		_ = cache.Replace(coordKey, newTile)
		s.replaced = true
	} else {
		_ = cache.Set(coordKey, newTile)
	}
	return newTile
}

func (s *Source) createReprojTile(coord tilecoord.Coord, p *proj.Projection) tile.Tile {
	rt, err := s.newReprojTile(coord, p)
	if err != nil {
		log.Printf("could not reproject tile %s from %s to %s: %v", coord, s.projection, p, err)
		return tile.New(coord, tile.Error, s.tileOptions)
	}
	return rt
}

func (s *Source) newReprojTile(coord tilecoord.Coord, p *proj.Projection) (*reproj.Tile, error) {
	targetGrid, err := s.TileGridForProjection(p)
	if err != nil {
		return nil, err
	}
	wrapped, _ := s.tileCoordForURL(coord, p)
	return reproj.New(reproj.Options{
		SourceProj:   s.projection,
		SourceGrid:   s.tileGrid,
		TargetProj:   p,
		TargetGrid:   targetGrid,
		Coord:        coord,
		WrappedCoord: &wrapped,
		PixelRatio:   s.tilePixelRatio,
		GetTile: func(z, x, y int, pixelRatio float64) tile.Tile {
			// called from GetTile, which holds the source lock
			return s.getTileInternal(z, x, y, pixelRatio, s.projection)
		},
		ErrorThreshold: s.errorThreshold,
		MaxSourceTiles: s.maxSourceTiles,
		Tile:           s.tileOptions,
	})
}

// getTileInternal serves tiles in the source projection from the main cache. The
// caller holds s.mu.
func (s *Source) getTileInternal(z, x, y int, pixelRatio float64, p *proj.Projection) tile.Tile {
	coordKey := tilecoord.KeyZXY(z, x, y)
	existing, ok := s.tileCache.Get(coordKey)
	if !ok {
		t := s.createTile(z, x, y, pixelRatio, p)
		_ = s.tileCache.Set(coordKey, t)
		return t
	}
	if existing.Key() == s.key {
		return existing
	}
	t := s.createTile(z, x, y, pixelRatio, p)
	if existing.State() == tile.Idle {
		// never started, nothing worth showing
		t.SetInterimTile(existing.InterimTile())
	} else {
		t.SetInterimTile(existing)
	}
	t.RefreshInterimChain()
	_ = s.tileCache.Replace(coordKey, t)
	s.replaced = true
	return t
}

// createTile resolves the URL of the tile; tiles without one start Empty.
func (s *Source) createTile(z, x, y int, pixelRatio float64, p *proj.Projection) tile.Tile {
	coord := tilecoord.New(z, x, y)
	var url string
	ok := false
	if urlCoord, within := s.tileCoordForURL(coord, p); within {
		url, ok = s.urlFunc(urlCoord, pixelRatio, p)
	}
	state := tile.Idle
	if !ok {
		state = tile.Empty
		url = ""
	}

	var t tile.Tile
	switch s.kind {
	case DataKind:
		t = tile.NewDataTile(s.ctx, coord, state, url, s.loadFunc, s.tileOptions)
	default:
		t = tile.NewImageTile(s.ctx, coord, state, url, s.loadFunc, s.tileOptions)
	}
	t.SetKey(s.key)
	t.AddListener(s.handleTileChange)
	return t
}
