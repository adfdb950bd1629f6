// Package tilegrid maps zoom levels to resolutions, origins and tile sizes, and converts
// between map coordinates and tile coordinates.
//
// Tile rows count downwards from the origin, which is the top-left corner of tile (z, 0, 0).
package tilegrid

import (
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/tiler/mathhelp"
	"github.com/pdok/tiler/tilecoord"
)

// TileGrid is immutable after New and safe for concurrent use.
type TileGrid struct {
	minZoom     int
	maxZoom     int
	resolutions []float64
	// zoomFactor is the constant ratio between successive resolutions, 0 when there is none.
	zoomFactor float64

	origin    *geom.Point
	origins   []geom.Point
	tileSize  *Size
	tileSizes []Size

	extent         *geom.Extent
	fullTileRanges []*tilecoord.Range
}

// New validates the options and builds the grid, computing the full tile range
// of every level up front when an extent or sizes are known.
func New(options Options) (*TileGrid, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	g := &TileGrid{
		minZoom:     options.MinZoom,
		maxZoom:     len(options.Resolutions) - 1,
		resolutions: append([]float64(nil), options.Resolutions...),
		origins:     options.Origins,
		tileSize:    options.TileSize,
		tileSizes:   options.TileSizes,
	}
	if options.Extent != nil {
		e := *options.Extent
		g.extent = &e
	}
	g.origin = options.Origin
	if g.origin == nil && g.origins == nil {
		g.origin = &geom.Point{g.extent.MinX(), g.extent.MaxY()}
	}
	if g.origins == nil {
		g.zoomFactor = constantRatio(g.resolutions)
	}

	switch {
	case options.Sizes != nil:
		g.fullTileRanges = make([]*tilecoord.Range, len(options.Sizes))
		for z, size := range options.Sizes {
			r := tilecoord.NewRange(0, size[0]-1, 0, size[1]-1)
			if g.extent != nil {
				restricted := g.TileRangeForExtentAndZ(*g.extent, z, nil)
				r.MinX = max(r.MinX, restricted.MinX)
				r.MaxX = min(r.MaxX, restricted.MaxX)
				r.MinY = max(r.MinY, restricted.MinY)
				r.MaxY = min(r.MaxY, restricted.MaxY)
			}
			g.fullTileRanges[z] = r
		}
	case g.extent != nil:
		g.fullTileRanges = make([]*tilecoord.Range, len(g.resolutions))
		for z := range g.resolutions {
			g.fullTileRanges[z] = g.TileRangeForExtentAndZ(*g.extent, z, nil)
		}
	}
	return g, nil
}

// MustNew is New for statically known options.
func MustNew(options Options) *TileGrid {
	g, err := New(options)
	if err != nil {
		panic(err)
	}
	return g
}

func constantRatio(resolutions []float64) float64 {
	if len(resolutions) < 2 {
		return 0
	}
	ratio := resolutions[0] / resolutions[1]
	for i := 1; i < len(resolutions)-1; i++ {
		r := resolutions[i] / resolutions[i+1]
		if math.Abs(r-ratio) > 1e-9*ratio {
			return 0
		}
	}
	return ratio
}

func (g *TileGrid) MinZoom() int { return g.minZoom }

func (g *TileGrid) MaxZoom() int { return g.maxZoom }

// Extent is nil for an unbounded grid.
func (g *TileGrid) Extent() *geom.Extent {
	if g.extent == nil {
		return nil
	}
	e := *g.extent
	return &e
}

// ZoomFactor is the ratio between successive resolutions, or 0 when it varies.
func (g *TileGrid) ZoomFactor() float64 { return g.zoomFactor }

func (g *TileGrid) Resolutions() []float64 {
	return append([]float64(nil), g.resolutions...)
}

func (g *TileGrid) Resolution(z int) float64 {
	return g.resolutions[z]
}

func (g *TileGrid) Origin(z int) geom.Point {
	if g.origin != nil {
		return *g.origin
	}
	return g.origins[z]
}

func (g *TileGrid) TileSize(z int) Size {
	if g.tileSize != nil {
		return *g.tileSize
	}
	return g.tileSizes[z]
}

// integerZoomFactor is the factor for integer parent/child arithmetic, 0 when the
// general extent based path has to be taken.
func (g *TileGrid) integerZoomFactor() int {
	if g.zoomFactor < 2 || !mathhelp.IsIntegral(g.zoomFactor) || g.origins != nil {
		return 0
	}
	if g.tileSizes != nil {
		first := g.tileSizes[0]
		for _, s := range g.tileSizes[1:] {
			if s != first {
				return 0
			}
		}
	}
	return int(math.Round(g.zoomFactor))
}

// FullTileRange is the range of the grid's extent at z, nil when the grid is unbounded.
func (g *TileGrid) FullTileRange(z int) *tilecoord.Range {
	if g.fullTileRanges == nil {
		if g.extent == nil {
			return nil
		}
		return g.TileRangeForExtentAndZ(*g.extent, z, nil)
	}
	if z < 0 || z >= len(g.fullTileRanges) {
		return nil
	}
	r := *g.fullTileRanges[z]
	return &r
}

// TileCoordExtent is the extent covered by a tile. Rows grow downwards from the origin.
func (g *TileGrid) TileCoordExtent(c tilecoord.Coord) geom.Extent {
	origin := g.Origin(c.Z)
	resolution := g.Resolution(c.Z)
	tileSize := g.TileSize(c.Z)
	minX := origin[0] + float64(c.X)*float64(tileSize[0])*resolution
	minY := origin[1] - float64(c.Y+1)*float64(tileSize[1])*resolution
	maxX := minX + float64(tileSize[0])*resolution
	maxY := minY + float64(tileSize[1])*resolution
	return geom.Extent{minX, minY, maxX, maxY}
}

func (g *TileGrid) TileCoordCenter(c tilecoord.Coord) geom.Point {
	origin := g.Origin(c.Z)
	resolution := g.Resolution(c.Z)
	tileSize := g.TileSize(c.Z)
	return geom.Point{
		origin[0] + (float64(c.X)+0.5)*float64(tileSize[0])*resolution,
		origin[1] - (float64(c.Y)+0.5)*float64(tileSize[1])*resolution,
	}
}

func (g *TileGrid) TileCoordResolution(c tilecoord.Coord) float64 {
	return g.resolutions[c.Z]
}

// TileRangeExtent is the extent covered by all tiles of r at z.
func (g *TileGrid) TileRangeExtent(z int, r *tilecoord.Range) geom.Extent {
	origin := g.Origin(z)
	resolution := g.Resolution(z)
	tileSize := g.TileSize(z)
	minX := origin[0] + float64(r.MinX)*float64(tileSize[0])*resolution
	maxX := origin[0] + float64(r.MaxX+1)*float64(tileSize[0])*resolution
	maxY := origin[1] - float64(r.MinY)*float64(tileSize[1])*resolution
	minY := origin[1] - float64(r.MaxY+1)*float64(tileSize[1])*resolution
	return geom.Extent{minX, minY, maxX, maxY}
}

// TileRangeForExtentAndZ returns the tiles covering extent at z. The top-left corner is
// floored, the bottom-right corner uses the reverse policy so that an extent edge that
// touches a tile edge does not pull in the neighbouring tile.
func (g *TileGrid) TileRangeForExtentAndZ(extent geom.Extent, z int, r *tilecoord.Range) *tilecoord.Range {
	topLeft := g.tileCoordForXYAndZ(extent.MinX(), extent.MaxY(), z, false)
	bottomRight := g.tileCoordForXYAndZ(extent.MaxX(), extent.MinY(), z, true)
	return tilecoord.CreateOrUpdate(topLeft.X, bottomRight.X, topLeft.Y, bottomRight.Y, r)
}

func (g *TileGrid) TileCoordForCoordAndZ(pt geom.Point, z int) tilecoord.Coord {
	return g.tileCoordForXYAndZ(pt[0], pt[1], z, false)
}

// TileCoordForCoordAndResolution picks the nearest level for resolution first.
func (g *TileGrid) TileCoordForCoordAndResolution(pt geom.Point, resolution float64) tilecoord.Coord {
	return g.tileCoordForXYAndResolution(pt[0], pt[1], resolution, false)
}

func (g *TileGrid) tileCoordForXYAndResolution(x, y, resolution float64, reverse bool) tilecoord.Coord {
	z := g.ZForResolution(resolution, 0)
	scale := resolution / g.Resolution(z)
	origin := g.Origin(z)
	tileSize := g.TileSize(z)
	tileX := scale * (x - origin[0]) / resolution / float64(tileSize[0])
	tileY := scale * (origin[1] - y) / resolution / float64(tileSize[1])
	return snap(z, tileX, tileY, reverse)
}

func (g *TileGrid) tileCoordForXYAndZ(x, y float64, z int, reverse bool) tilecoord.Coord {
	origin := g.Origin(z)
	resolution := g.Resolution(z)
	tileSize := g.TileSize(z)
	tileX := (x - origin[0]) / resolution / float64(tileSize[0])
	tileY := (origin[1] - y) / resolution / float64(tileSize[1])
	return snap(z, tileX, tileY, reverse)
}

func snap(z int, tileX, tileY float64, reverse bool) tilecoord.Coord {
	if reverse {
		return tilecoord.New(z,
			mathhelp.CeilPrecision(tileX, mathhelp.Decimals)-1,
			mathhelp.CeilPrecision(tileY, mathhelp.Decimals)-1)
	}
	return tilecoord.New(z,
		mathhelp.FloorPrecision(tileX, mathhelp.Decimals),
		mathhelp.FloorPrecision(tileY, mathhelp.Decimals))
}

// ForEachTileCoord calls f for every tile covering extent at z.
func (g *TileGrid) ForEachTileCoord(extent geom.Extent, z int, f func(tilecoord.Coord)) {
	r := g.TileRangeForExtentAndZ(extent, z, nil)
	r.ForEach(func(x, y int) bool {
		f(tilecoord.New(z, x, y))
		return true
	})
}

// ForEachTileCoordParentTileRange calls f with the range covering c on every lower level,
// from z-1 up to MinZoom. It stops early when f returns true, and reports whether it did.
func (g *TileGrid) ForEachTileCoordParentTileRange(c tilecoord.Coord, f func(z int, r *tilecoord.Range) bool) bool {
	factor := g.integerZoomFactor()
	var extent geom.Extent
	if factor == 0 {
		extent = g.TileCoordExtent(c)
	}
	x, y := c.X, c.Y
	r := &tilecoord.Range{}
	for z := c.Z - 1; z >= g.minZoom; z-- {
		if factor != 0 {
			x = floorDiv(x, factor)
			y = floorDiv(y, factor)
			tilecoord.CreateOrUpdate(x, x, y, y, r)
		} else {
			g.TileRangeForExtentAndZ(extent, z, r)
		}
		if f(z, r) {
			return true
		}
	}
	return false
}

// TileCoordChildTileRange is the range covering c one level deeper, nil at MaxZoom.
func (g *TileGrid) TileCoordChildTileRange(c tilecoord.Coord, r *tilecoord.Range) *tilecoord.Range {
	if c.Z >= g.maxZoom {
		return nil
	}
	if factor := g.integerZoomFactor(); factor != 0 {
		minX := c.X * factor
		minY := c.Y * factor
		return tilecoord.CreateOrUpdate(minX, minX+factor-1, minY, minY+factor-1, r)
	}
	return g.TileRangeForExtentAndZ(g.TileCoordExtent(c), c.Z+1, r)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
