package tilecoord

import "fmt"

// Range is an inclusive rectangle of tile columns and rows.
// Callers must keep MinX <= MaxX and MinY <= MaxY for a non-empty range.
type Range struct {
	MinX int
	MaxX int
	MinY int
	MaxY int
}

func NewRange(minX, maxX, minY, maxY int) *Range {
	return &Range{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}
}

// CreateOrUpdate fills r when given, so hot loops can reuse one Range.
func CreateOrUpdate(minX, maxX, minY, maxY int, r *Range) *Range {
	if r == nil {
		return NewRange(minX, maxX, minY, maxY)
	}
	r.MinX = minX
	r.MaxX = maxX
	r.MinY = minY
	r.MaxY = maxY
	return r
}

func (r *Range) Contains(c Coord) bool {
	return r.ContainsXY(c.X, c.Y)
}

func (r *Range) ContainsXY(x, y int) bool {
	return r.MinX <= x && x <= r.MaxX && r.MinY <= y && y <= r.MaxY
}

func (r *Range) ContainsRange(o *Range) bool {
	return r.MinX <= o.MinX && o.MaxX <= r.MaxX && r.MinY <= o.MinY && o.MaxY <= r.MaxY
}

func (r *Range) Intersects(o *Range) bool {
	return r.MinX <= o.MaxX && r.MaxX >= o.MinX && r.MinY <= o.MaxY && r.MaxY >= o.MinY
}

// Extend grows r in place to also cover o.
func (r *Range) Extend(o *Range) {
	r.MinX = min(r.MinX, o.MinX)
	r.MaxX = max(r.MaxX, o.MaxX)
	r.MinY = min(r.MinY, o.MinY)
	r.MaxY = max(r.MaxY, o.MaxY)
}

func (r *Range) Equals(o *Range) bool {
	return r.MinX == o.MinX && r.MaxX == o.MaxX && r.MinY == o.MinY && r.MaxY == o.MaxY
}

func (r *Range) Width() int {
	return r.MaxX - r.MinX + 1
}

func (r *Range) Height() int {
	return r.MaxY - r.MinY + 1
}

// Count is the number of tiles in the range.
func (r *Range) Count() int {
	return r.Width() * r.Height()
}

// ForEach visits every column/row, row by row. Returning false stops the walk.
func (r *Range) ForEach(f func(x, y int) bool) {
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			if !f(x, y) {
				return
			}
		}
	}
}

func (r *Range) String() string {
	return fmt.Sprintf("x[%d..%d] y[%d..%d]", r.MinX, r.MaxX, r.MinY, r.MaxY)
}
