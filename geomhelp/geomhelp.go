// Package geomhelp converts tile and grid extents into geometries for display.
package geomhelp

import (
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"

	"github.com/pdok/tiler/proj"
)

// https://en.wikipedia.org/wiki/Shoelace_formula
func Shoelace(pts [][2]float64) float64 {
	sum := 0.
	if len(pts) == 0 {
		return 0.
	}

	p0 := pts[len(pts)-1]
	for _, p1 := range pts {
		sum += p0[1]*p1[0] - p0[0]*p1[1]
		p0 = p1
	}
	return math.Abs(sum / 2)
}

// ExtentPolygon returns e as a counter-clockwise polygon starting at the bottom-left corner.
func ExtentPolygon(e geom.Extent) geom.Polygon {
	return geom.Polygon{{
		{e.MinX(), e.MinY()},
		{e.MaxX(), e.MinY()},
		{e.MaxX(), e.MaxY()},
		{e.MinX(), e.MaxY()},
	}}
}

// TransformPolygon transforms every ring of p, adding n-1 points on each edge first
// so that edges curving in the target projection keep their shape.
func TransformPolygon(p geom.Polygon, f proj.TransformFunc, n int) geom.Polygon {
	if n < 1 {
		n = 1
	}
	out := make(geom.Polygon, len(p))
	for r, ring := range p {
		for i, start := range ring {
			end := ring[(i+1)%len(ring)]
			for j := 0; j < n; j++ {
				t := float64(j) / float64(n)
				x, y := f(start[0]+(end[0]-start[0])*t, start[1]+(end[1]-start[1])*t)
				out[r] = append(out[r], [2]float64{x, y})
			}
		}
	}
	return out
}

// Area of the outer ring minus the holes.
func Area(p geom.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	area := Shoelace(p[0])
	for _, hole := range p[1:] {
		area -= Shoelace(hole)
	}
	return area
}

// WktMustEncode encodes g as WKT, cut off at maxLen characters unless maxLen is 0.
func WktMustEncode(g geom.Geometry, maxLen uint) string {
	if maxLen == 0 {
		return wkt.MustEncode(g)
	}
	return truncate.StringWithTail(wkt.MustEncode(g), maxLen, "...")
}

func WktMustEncodeSlice(geoms []geom.Polygon, maxLen uint) string {
	s := ""
	for i := range geoms {
		s += WktMustEncode(geoms[i], maxLen) + "\n"
	}
	return s
}
