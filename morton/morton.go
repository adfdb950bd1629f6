// Package morton interleaves tile column and row bits into a Z-order code,
// so that tiles close to each other on the grid sort close to each other.
package morton

import (
	"fmt"
	"math"
)

type Z = uint64

var (
	masks = [...]uint64{
		0b0101010101010101010101010101010101010101010101010101010101010101,
		0b0011001100110011001100110011001100110011001100110011001100110011,
		0b0000111100001111000011110000111100001111000011110000111100001111,
		0b0000000011111111000000001111111100000000111111110000000011111111,
		0b0000000000000000111111111111111100000000000000001111111111111111,
		0b0000000000000000000000000000000011111111111111111111111111111111,
	}
	shifts = [...]uint64{0, 1, 2, 4, 8, 16}
)

// ToZ encodes a tile column and row. ok is false when either does not fit in 32 bits
// (negative or too large), in which case z is meaningless.
func ToZ(x, y int) (z Z, ok bool) {
	if x < 0 || y < 0 || x > math.MaxUint32 || y > math.MaxUint32 {
		return 0, false
	}
	ux, uy := uint64(x), uint64(y)
	for i := 4; i >= 0; i-- {
		ux = (ux | (ux << shifts[i+1])) & masks[i]
		uy = (uy | (uy << shifts[i+1])) & masks[i]
	}
	return ux | (uy << 1), true
}

func MustToZ(x, y int) Z {
	z, ok := ToZ(x, y)
	if !ok {
		panic(fmt.Errorf(`cannot make Z out of %v and %v`, x, y))
	}
	return z
}

// FromZ decodes a Z-order code back into column and row.
func FromZ(z Z) (x, y int) {
	ux := z
	uy := z >> 1
	for i := 0; i <= 5; i++ {
		ux = (ux | (ux >> shifts[i])) & masks[i]
		uy = (uy | (uy >> shifts[i])) & masks[i]
	}
	return int(ux), int(uy)
}
