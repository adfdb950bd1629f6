package reproj

import (
	"image"
	"image/color"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/tiler/mathhelp"
)

// blockSize is the edge in pixels of the squares whose transformed coordinates are
// interpolated from their corners when that stays within the error threshold.
const blockSize = 16

// sampler picks source pixels by nearest neighbour.
type sampler struct {
	t       *Tile
	images  map[string]image.Image
	extents map[string]geom.Extent
}

func (s *sampler) at(sx, sy float64) (color.Color, bool) {
	if math.IsNaN(sx) || math.IsNaN(sy) {
		return nil, false
	}
	o := s.t.options
	c := o.SourceGrid.TileCoordForCoordAndZ(geom.Point{sx, sy}, s.t.sourceZ)
	key := c.Key()
	img, ok := s.images[key]
	if !ok {
		return nil, false
	}
	ext, ok := s.extents[key]
	if !ok {
		ext = o.SourceGrid.TileCoordExtent(c)
		s.extents[key] = ext
	}
	b := img.Bounds()
	ix := b.Min.X + int((sx-ext.MinX())/ext.XSpan()*float64(b.Dx()))
	iy := b.Min.Y + int((ext.MaxY()-sy)/ext.YSpan()*float64(b.Dy()))
	ix = mathhelp.Clamp(ix, b.Min.X, b.Max.X-1)
	iy = mathhelp.Clamp(iy, b.Min.Y, b.Max.Y-1)
	return img.At(ix, iy), true
}

// render resamples the source images into the target tile. Pixels outside the
// target grid's extent or without a source image stay transparent.
func (t *Tile) render(images map[string]image.Image) *image.RGBA {
	o := t.options
	size := o.TargetGrid.TileSize(t.wrapped.Z)
	width := int(math.Round(float64(size[0]) * o.PixelRatio))
	height := int(math.Round(float64(size[1]) * o.PixelRatio))
	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	pxWidth := t.targetExtent.XSpan() / float64(width)
	pxHeight := t.targetExtent.YSpan() / float64(height)
	center := func(px, py int) (float64, float64) {
		return t.targetExtent.MinX() + (float64(px)+0.5)*pxWidth, t.targetExtent.MaxY() - (float64(py)+0.5)*pxHeight
	}
	inside := func(x, y float64) bool {
		e := t.limitedExtent
		return x >= e.MinX() && x <= e.MaxX() && y >= e.MinY() && y <= e.MaxY()
	}
	s := &sampler{t: t, images: images, extents: make(map[string]geom.Extent)}

	for by := 0; by < height; by += blockSize {
		for bx := 0; bx < width; bx += blockSize {
			x1 := min(bx+blockSize, width) - 1
			y1 := min(by+blockSize, height) - 1
			locate := t.blockLocator(bx, by, x1, y1, center)
			for py := by; py <= y1; py++ {
				for px := bx; px <= x1; px++ {
					x, y := center(px, py)
					if !inside(x, y) {
						continue
					}
					sx, sy := locate(px, py)
					if c, ok := s.at(sx, sy); ok {
						dst.Set(px, py, c)
					}
				}
			}
		}
	}
	return dst
}

// blockLocator returns how to find the source coordinate of a pixel in the block
// (x0, y0)..(x1, y1): interpolated between the transformed corners when the error at
// the block centre is small enough, transformed pixel by pixel otherwise.
func (t *Tile) blockLocator(x0, y0, x1, y1 int, center func(px, py int) (float64, float64)) func(px, py int) (float64, float64) {
	exact := func(px, py int) (float64, float64) {
		return t.toSource(center(px, py))
	}
	if x1 == x0 || y1 == y0 {
		return exact
	}
	var corners [4][2]float64
	for i, p := range [4][2]int{{x0, y0}, {x1, y0}, {x0, y1}, {x1, y1}} {
		corners[i][0], corners[i][1] = exact(p[0], p[1])
		if math.IsNaN(corners[i][0]) || math.IsNaN(corners[i][1]) || math.IsInf(corners[i][0], 0) || math.IsInf(corners[i][1], 0) {
			return exact
		}
	}
	interpolate := func(px, py int) (float64, float64) {
		u := float64(px-x0) / float64(x1-x0)
		v := float64(py-y0) / float64(y1-y0)
		var out [2]float64
		for i := range out {
			top := corners[0][i] + (corners[1][i]-corners[0][i])*u
			bottom := corners[2][i] + (corners[3][i]-corners[2][i])*u
			out[i] = top + (bottom-top)*v
		}
		return out[0], out[1]
	}
	mx, my := (x0+x1)/2, (y0+y1)/2
	ex, ey := exact(mx, my)
	ix, iy := interpolate(mx, my)
	if math.Hypot(ex-ix, ey-iy)/t.sourceRes > t.options.ErrorThreshold {
		return exact
	}
	return interpolate
}
