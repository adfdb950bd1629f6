package mathhelp

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Decimals is the precision at which tile coordinates are snapped before truncation.
const Decimals = 5

func Pow2(n uint) uint {
	return 1 << n
}

func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func EuclidianMod(d, m int) int {
	r := d % m
	if (r < 0 && m > 0) || (r > 0 && m < 0) {
		return r + m
	}
	return r
}

// ToFixed rounds n to the given number of decimals.
func ToFixed(n float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(n*factor) / factor
}

// FloorPrecision floors n after rounding away noise beyond the given decimals,
// so 2.9999999999 floors to 3 and not to 2.
func FloorPrecision(n float64, decimals int) int {
	return int(math.Floor(ToFixed(n, decimals)))
}

// CeilPrecision is the ceiling counterpart of FloorPrecision.
func CeilPrecision(n float64, decimals int) int {
	return int(math.Ceil(ToFixed(n, decimals)))
}

// EaseIn starts slow and speeds up.
func EaseIn(t float64) float64 {
	return math.Pow(t, 3)
}

// IsIntegral reports whether f is (within float noise) a whole number.
func IsIntegral(f float64) bool {
	return math.Abs(f-math.Round(f)) < 1e-9
}
