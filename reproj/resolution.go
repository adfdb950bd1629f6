package reproj

import (
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/tiler/proj"
)

// sourceResolution measures how long one target pixel at center is in the source
// projection, averaging the horizontal and vertical directions.
func sourceResolution(toSource proj.TransformFunc, center geom.Point, targetRes float64) float64 {
	h := targetRes / 2
	ax, ay := toSource(center[0]-h, center[1])
	bx, by := toSource(center[0]+h, center[1])
	cx, cy := toSource(center[0], center[1]-h)
	dx, dy := toSource(center[0], center[1]+h)
	return (math.Hypot(bx-ax, by-ay) + math.Hypot(dx-cx, dy-cy)) / 2
}

func valid(res float64) bool {
	return !math.IsNaN(res) && !math.IsInf(res, 0) && res > 0
}

// sourceExtentResolution tries the centre of extent first, then its corners.
func sourceExtentResolution(toSource proj.TransformFunc, extent geom.Extent, targetRes float64) float64 {
	center := geom.Point{(extent.MinX() + extent.MaxX()) / 2, (extent.MinY() + extent.MaxY()) / 2}
	res := sourceResolution(toSource, center, targetRes)
	if valid(res) {
		return res
	}
	corners := []geom.Point{
		{extent.MinX(), extent.MinY()},
		{extent.MaxX(), extent.MinY()},
		{extent.MaxX(), extent.MaxY()},
		{extent.MinX(), extent.MaxY()},
	}
	for _, corner := range corners {
		if res = sourceResolution(toSource, corner, targetRes); valid(res) {
			return res
		}
	}
	return res
}
