// Package reproj serves tiles of one projection by resampling the tiles of a source
// in another projection.
package reproj

import (
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"

	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecoord"
	"github.com/pdok/tiler/tilegrid"
)

var ErrOptions = errors.New("invalid reprojection options")

// GetTileFunc returns the source tile at z/x/y, nil when there is none.
type GetTileFunc func(z, x, y int, pixelRatio float64) tile.Tile

type Options struct {
	SourceProj *proj.Projection   `validate:"required"`
	SourceGrid *tilegrid.TileGrid `validate:"required"`
	TargetProj *proj.Projection   `validate:"required"`
	TargetGrid *tilegrid.TileGrid `validate:"required"`

	Coord tilecoord.Coord
	// WrappedCoord is Coord moved back into the world, defaults to Coord.
	WrappedCoord *tilecoord.Coord
	PixelRatio   float64     `default:"1" validate:"gt=0"`
	GetTile      GetTileFunc `validate:"required"`

	// ErrorThreshold is the largest resampling error, in source pixels, accepted
	// from interpolating transformed coordinates instead of transforming every pixel.
	ErrorThreshold float64 `default:"0.5" validate:"gte=0"`
	// MaxSourceTiles caps the number of source tiles one target tile may need.
	MaxSourceTiles int `default:"100" validate:"gt=0"`

	Tile tile.Options
}

// Tile is a tile of the target grid composed of source tiles.
type Tile struct {
	tile.Base

	options       Options
	toSource      proj.TransformFunc
	wrapped       tilecoord.Coord
	targetExtent  geom.Extent
	limitedExtent geom.Extent
	sourceZ       int
	sourceRes     float64

	mu           sync.Mutex
	sourceTiles  []tile.Tile
	resolved     []bool
	pending      int
	listenerKeys []tile.ListenerKey
	image        *image.RGBA
	degraded     bool
}

// New works out which source tiles cover the target tile and requests them through
// options.GetTile. A target tile that needs no source tiles starts out Empty.
func New(options Options) (*Tile, error) {
	if err := defaults.Set(&options); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOptions, err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(options); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOptions, err)
	}
	wrapped := options.Coord
	if options.WrappedCoord != nil {
		wrapped = *options.WrappedCoord
	}
	toSource, err := proj.Transform(options.TargetProj, options.SourceProj)
	if err != nil {
		return nil, err
	}

	t := &Tile{options: options, toSource: toSource, wrapped: wrapped}
	t.Init(t, options.Coord, tile.Idle, options.Tile)
	if !t.plan() {
		t.SetState(tile.Empty)
	}
	return t, nil
}

// plan collects the source tiles, reporting false when there is nothing to compose.
func (t *Tile) plan() bool {
	o, wrapped := t.options, t.wrapped
	t.targetExtent = o.TargetGrid.TileCoordExtent(wrapped)
	t.limitedExtent = t.targetExtent
	if maxExtent := o.TargetGrid.Extent(); maxExtent != nil {
		var ok bool
		if t.limitedExtent, ok = intersection(t.targetExtent, *maxExtent); !ok {
			return false
		}
	}

	targetRes := o.TargetGrid.Resolution(wrapped.Z)
	t.sourceRes = sourceExtentResolution(t.toSource, t.limitedExtent, targetRes)
	if math.IsInf(t.sourceRes, 0) || math.IsNaN(t.sourceRes) || t.sourceRes <= 0 {
		return false
	}
	t.sourceZ = o.SourceGrid.ZForResolution(t.sourceRes, tilegrid.Nearest)

	sourceExtent := proj.TransformExtent(t.limitedExtent, t.toSource, 8)
	if maxSource, ok := maxSourceExtent(o.SourceProj, o.SourceGrid); ok {
		if sourceExtent, ok = intersection(sourceExtent, maxSource); !ok {
			return false
		}
	}
	if !(sourceExtent.XSpan() > 0 && sourceExtent.YSpan() > 0) {
		return false
	}

	r := o.SourceGrid.TileRangeForExtentAndZ(sourceExtent, t.sourceZ, nil)
	if r.Count() > o.MaxSourceTiles {
		log.Printf("reprojecting %s needs %d source tiles at z %d, more than %d", o.Coord, r.Count(), t.sourceZ, o.MaxSourceTiles)
		return false
	}
	r.ForEach(func(x, y int) bool {
		if src := o.GetTile(t.sourceZ, x, y, o.PixelRatio); src != nil {
			t.sourceTiles = append(t.sourceTiles, src)
		}
		return true
	})
	return len(t.sourceTiles) > 0
}

func maxSourceExtent(p *proj.Projection, g *tilegrid.TileGrid) (geom.Extent, bool) {
	gridExtent := g.Extent()
	switch {
	case gridExtent != nil && p.HasExtent():
		return intersection(*gridExtent, p.Extent)
	case gridExtent != nil:
		return *gridExtent, true
	case p.HasExtent():
		return p.Extent, true
	}
	return geom.Extent{}, false
}

func intersection(a, b geom.Extent) (geom.Extent, bool) {
	e := geom.Extent{
		math.Max(a.MinX(), b.MinX()), math.Max(a.MinY(), b.MinY()),
		math.Min(a.MaxX(), b.MaxX()), math.Min(a.MaxY(), b.MaxY()),
	}
	return e, e.MinX() < e.MaxX() && e.MinY() < e.MaxY()
}

// SourceTiles are the tiles the target is composed of, until it has been rendered.
func (t *Tile) SourceTiles() []tile.Tile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]tile.Tile(nil), t.sourceTiles...)
}

// SourceZ is the source zoom level the tile is composed from.
func (t *Tile) SourceZ() int {
	return t.sourceZ
}

// Image is nil until the tile is Loaded.
func (t *Tile) Image() image.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.image == nil {
		return nil
	}
	return t.image
}

// Degraded reports a Loaded tile for which some source tiles could not be used.
func (t *Tile) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

// Load waits for all source tiles to finish, starting the idle ones, then renders.
func (t *Tile) Load() {
	if !t.SetStateFrom(tile.Idle, tile.Loading) {
		return
	}
	t.mu.Lock()
	sources := t.sourceTiles
	t.pending = len(sources)
	t.resolved = make([]bool, len(sources))
	t.mu.Unlock()

	for i, src := range sources {
		i := i
		key := src.AddListener(func(changed tile.Tile) {
			if changed.State().Terminal() {
				t.resolve(i)
			}
		})
		t.mu.Lock()
		t.listenerKeys = append(t.listenerKeys, key)
		t.mu.Unlock()
	}
	for i, src := range sources {
		switch state := src.State(); {
		case state.Terminal():
			t.resolve(i)
		case state == tile.Idle:
			src.Load()
		}
	}
}

func (t *Tile) resolve(i int) {
	t.mu.Lock()
	if t.resolved == nil || t.resolved[i] {
		t.mu.Unlock()
		return
	}
	t.resolved[i] = true
	t.pending--
	done := t.pending == 0
	t.mu.Unlock()
	if done {
		t.unlistenSources()
		t.reproject()
	}
}

func (t *Tile) unlistenSources() {
	t.mu.Lock()
	keys := t.listenerKeys
	sources := t.sourceTiles
	t.listenerKeys = nil
	t.mu.Unlock()
	for i, key := range keys {
		sources[i].RemoveListener(key)
	}
}

type imager interface {
	Image() image.Image
}

// usableImage returns the image of src, or of its newest loaded interim tile.
func usableImage(src tile.Tile) image.Image {
	if src.State() != tile.Loaded {
		src = src.GetInterimTile()
		if src.State() != tile.Loaded {
			return nil
		}
	}
	if im, ok := src.(imager); ok {
		return im.Image()
	}
	return nil
}

func (t *Tile) reproject() {
	t.mu.Lock()
	sources := t.sourceTiles
	t.sourceTiles = nil
	t.resolved = nil
	t.mu.Unlock()

	images := make(map[string]image.Image, len(sources))
	for _, src := range sources {
		if img := usableImage(src); img != nil {
			images[src.Coord().Key()] = img
		}
	}
	if len(images) == 0 {
		t.SetStateFrom(tile.Loading, tile.Error)
		return
	}
	img := t.render(images)

	t.mu.Lock()
	t.image = img
	t.degraded = len(images) < len(sources)
	t.mu.Unlock()
	t.SetStateFrom(tile.Loading, tile.Loaded)
}

// Release stops waiting for source tiles and drops the image.
func (t *Tile) Release() {
	t.unlistenSources()
	t.mu.Lock()
	t.image = nil
	t.sourceTiles = nil
	t.resolved = nil
	t.mu.Unlock()
	t.SetStateFrom(tile.Loading, tile.Error)
	t.Base.Release()
}
