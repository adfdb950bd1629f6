package tilegrid

import (
	"math"

	"github.com/creasty/defaults"
	"github.com/go-spatial/geom"

	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tilecoord"
)

// Corner selects where the origin of a grid derived from an extent is placed.
type Corner string

const (
	TopLeft     Corner = "top-left"
	TopRight    Corner = "top-right"
	BottomLeft  Corner = "bottom-left"
	BottomRight Corner = "bottom-right"
)

func cornerOf(extent geom.Extent, corner Corner) geom.Point {
	switch corner {
	case TopRight:
		return geom.Point{extent.MaxX(), extent.MaxY()}
	case BottomLeft:
		return geom.Point{extent.MinX(), extent.MinY()}
	case BottomRight:
		return geom.Point{extent.MaxX(), extent.MinY()}
	default:
		return geom.Point{extent.MinX(), extent.MaxY()}
	}
}

// ExtentFromProjection returns the projection's extent, or for projections without
// one a square of 360 degrees worth of the projection's units.
func ExtentFromProjection(p *proj.Projection) geom.Extent {
	if p.HasExtent() {
		return p.Extent
	}
	mpu := p.MetersPerUnit()
	if mpu == 0 {
		mpu = 1
	}
	half := 180 * proj.WGS84().MetersPerUnit() / mpu
	return geom.Extent{-half, -half, half, half}
}

// ResolutionsFromExtent halves the resolution every level, starting from the one at
// which the whole extent fits a single tile (or from maxResolution when positive).
func ResolutionsFromExtent(extent geom.Extent, maxZoom int, tileSize Size, maxResolution float64) []float64 {
	if maxResolution <= 0 {
		maxResolution = math.Max(extent.XSpan()/float64(tileSize[0]), extent.YSpan()/float64(tileSize[1]))
	}
	resolutions := make([]float64, maxZoom+1)
	for z := range resolutions {
		resolutions[z] = maxResolution / math.Pow(2, float64(z))
	}
	return resolutions
}

// ForExtent builds a quad tree grid covering extent, with the origin at corner.
func ForExtent(extent geom.Extent, maxZoom int, tileSize Size, corner Corner) (*TileGrid, error) {
	origin := cornerOf(extent, corner)
	return New(Options{
		Extent:      &extent,
		Origin:      &origin,
		Resolutions: ResolutionsFromExtent(extent, maxZoom, tileSize, 0),
		TileSize:    &tileSize,
	})
}

// ForProjection builds the default grid of a projection: a top-left quad tree over its extent.
func ForProjection(p *proj.Projection, maxZoom int, tileSize Size) (*TileGrid, error) {
	return ForExtent(ExtentFromProjection(p), maxZoom, tileSize, TopLeft)
}

// XYZOptions describe the common "slippy map" grid.
type XYZOptions struct {
	// Extent defaults to the extent of EPSG:3857.
	Extent        *geom.Extent
	MaxResolution float64
	MinZoom       int `default:"0"`
	MaxZoom       int `default:"42"`
	TileSize      int `default:"256"`
}

// CreateXYZ creates a grid with a top-left origin and resolutions halving per level.
func CreateXYZ(options XYZOptions) (*TileGrid, error) {
	if err := defaults.Set(&options); err != nil {
		return nil, err
	}
	var extent geom.Extent
	if options.Extent != nil {
		extent = *options.Extent
	} else {
		extent = ExtentFromProjection(proj.WebMercator())
	}
	tileSize := Size{options.TileSize, options.TileSize}
	origin := cornerOf(extent, TopLeft)
	return New(Options{
		Extent:      &extent,
		Origin:      &origin,
		MinZoom:     options.MinZoom,
		Resolutions: ResolutionsFromExtent(extent, options.MaxZoom, tileSize, options.MaxResolution),
		TileSize:    &tileSize,
	})
}

// WithinExtentAndZ reports whether c lies within the grid's zoom levels and full tile range.
func WithinExtentAndZ(c tilecoord.Coord, g *TileGrid) bool {
	if c.Z < g.MinZoom() || c.Z > g.MaxZoom() {
		return false
	}
	r := g.FullTileRange(c.Z)
	if r == nil {
		return true
	}
	return r.Contains(c)
}

// WrapX moves a tile that lies left or right of the projection's extent back into the world.
func WrapX(g *TileGrid, c tilecoord.Coord, p *proj.Projection) tilecoord.Coord {
	center := g.TileCoordCenter(c)
	extent := ExtentFromProjection(p)
	if center[0] >= extent.MinX() && center[0] <= extent.MaxX() {
		return c
	}
	worldWidth := extent.XSpan()
	worldsAway := math.Ceil((extent.MinX() - center[0]) / worldWidth)
	center[0] += worldWidth * worldsAway
	return g.TileCoordForCoordAndZ(center, c.Z)
}
