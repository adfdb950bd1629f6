// Package batch loads every tile covering an extent at one zoom level through a
// source and a load queue.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"

	"github.com/pdok/tiler/export"
	"github.com/pdok/tiler/mapslicehelp"
	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/queue"
	"github.com/pdok/tiler/source"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecoord"
	"github.com/pdok/tiler/tilegrid"
)

type Options struct {
	Extent geom.Extent
	Zoom   int `validate:"gte=0"`
	// Projection tiles are requested in, the projection of the source when nil.
	Projection      *proj.Projection
	PixelRatio      float64 `default:"1" validate:"gt=0"`
	MaxTotalLoading int     `default:"16" validate:"gt=0"`
	MaxNewLoads     int     `default:"8" validate:"gt=0"`
}

// Result holds the tiles in the order they were requested, and the grid they belong to.
type Result struct {
	Tiles []tile.Tile
	Grid  *tilegrid.TileGrid
}

// Fetch requests the tiles covering the extent and loads them closest to the center
// first. It returns once every tile is Loaded, Error or Empty, or ctx is done.
func Fetch(ctx context.Context, s *source.Source, options Options) (*Result, error) {
	if err := defaults.Set(&options); err != nil {
		return nil, err
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(options); err != nil {
		return nil, err
	}
	p := options.Projection
	if p == nil {
		p = s.Projection()
	}
	grid, err := s.TileGridForProjection(p)
	if err != nil {
		return nil, err
	}
	if options.Zoom < grid.MinZoom() || options.Zoom > grid.MaxZoom() {
		return nil, fmt.Errorf("zoom %d outside of %d..%d", options.Zoom, grid.MinZoom(), grid.MaxZoom())
	}

	wake := make(chan struct{}, 1)
	center := geom.Point{(options.Extent.MinX() + options.Extent.MaxX()) / 2, (options.Extent.MinY() + options.Extent.MaxY()) / 2}
	q := queue.New(queue.DistancePriority(grid, center), func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	result := &Result{Grid: grid}
	grid.ForEachTileCoord(options.Extent, options.Zoom, func(c tilecoord.Coord) {
		t := s.GetTile(c.Z, c.X, c.Y, options.PixelRatio, p)
		result.Tiles = append(result.Tiles, t)
		q.Enqueue(t)
	})
	s.UpdateCacheSize(len(result.Tiles), p)

	for {
		q.LoadMoreTiles(options.MaxTotalLoading, options.MaxNewLoads)
		if q.Len() == 0 && q.TilesLoading() == 0 {
			keys := make([]string, len(result.Tiles))
			for i, t := range result.Tiles {
				keys[i] = t.Coord().Key()
			}
			s.ExpireCache(p, mapslicehelp.AsKeys(keys))
			return result, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
}

// Summary counts the tiles per state.
func (r *Result) Summary() map[tile.State]int {
	counts := make(map[tile.State]int)
	for _, t := range r.Tiles {
		counts[t.State()]++
	}
	return counts
}

type imager interface {
	Image() image.Image
}

type dataer interface {
	Data() []byte
}

// Records converts the tiles into export records. Images are encoded as PNG.
func (r *Result) Records() ([]export.Record, error) {
	records := make([]export.Record, 0, len(r.Tiles))
	for _, t := range r.Tiles {
		record := export.Record{
			Coord:  t.Coord(),
			Extent: r.Grid.TileCoordExtent(t.Coord()),
			State:  t.State(),
		}
		if record.State == tile.Loaded {
			payload, err := payloadOf(t)
			if err != nil {
				return nil, fmt.Errorf("tile %s: %w", t.Coord(), err)
			}
			record.Data = payload
		}
		records = append(records, record)
	}
	return records, nil
}

func payloadOf(t tile.Tile) ([]byte, error) {
	switch v := t.(type) {
	case dataer:
		return v.Data(), nil
	case imager:
		img := v.Image()
		if img == nil {
			return nil, nil
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}
