// Package tilecoord holds the (z, x, y) tile coordinate and inclusive tile ranges.
package tilecoord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-spatial/geom/slippy"

	"github.com/pdok/tiler/morton"
)

var ErrInvalidKey = errors.New("invalid tile coord key")

// Coord is a zoom level plus column and row. X and Y may be negative or exceed
// the nominal matrix size before wrapping.
type Coord struct {
	Z int
	X int
	Y int
}

func New(z, x, y int) Coord {
	return Coord{Z: z, X: x, Y: y}
}

// Key is the canonical "z/x/y" encoding, used as cache key.
func (c Coord) Key() string {
	return KeyZXY(c.Z, c.X, c.Y)
}

func (c Coord) String() string {
	return c.Key()
}

// Hash mixes the coordinate into a single int, used to spread tiles over multiple URLs.
func (c Coord) Hash() int {
	return (c.X << c.Z) + c.Y
}

// Morton returns the Z-order code of the column and row, false for negative ones.
func (c Coord) Morton() (morton.Z, bool) {
	return morton.ToZ(c.X, c.Y)
}

// Slippy converts to a go-spatial slippy tile. Only valid for non-negative coords.
func (c Coord) Slippy() (*slippy.Tile, bool) {
	if c.Z < 0 || c.X < 0 || c.Y < 0 {
		return nil, false
	}
	return slippy.NewTile(uint(c.Z), uint(c.X), uint(c.Y)), true
}

func FromSlippy(t *slippy.Tile) Coord {
	return Coord{Z: int(t.Z), X: int(t.X), Y: int(t.Y)}
}

func KeyZXY(z, x, y int) string {
	return strconv.Itoa(z) + "/" + strconv.Itoa(x) + "/" + strconv.Itoa(y)
}

// FromKey parses a "z/x/y" key.
func FromKey(key string) (Coord, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	var ints [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return Coord{}, fmt.Errorf("%w: %q: %w", ErrInvalidKey, key, err)
		}
		ints[i] = v
	}
	return Coord{Z: ints[0], X: ints[1], Y: ints[2]}, nil
}

// MustFromKey is FromKey for keys produced by Key.
func MustFromKey(key string) Coord {
	c, err := FromKey(key)
	if err != nil {
		panic(err)
	}
	return c
}
