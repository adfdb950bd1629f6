package tilegrid

import "github.com/pdok/tiler/mathhelp"

// Direction selects how ZForResolution snaps a resolution between two levels.
const (
	// Nearest picks the level whose resolution is closest.
	Nearest = 0
	// Lower picks the lower zoom level (the higher resolution value).
	Lower = 1
	// Higher picks the higher zoom level (the lower resolution value).
	Higher = -1
)

// NearestDirectionFunc decides between two neighbouring resolutions high > value > low.
// A positive result picks high (the lower z), anything else picks low.
type NearestDirectionFunc func(value, high, low float64) float64

// ZForResolution returns the level for resolution, clamped to [MinZoom, MaxZoom].
func (g *TileGrid) ZForResolution(resolution float64, direction int) int {
	z := linearFindNearest(g.resolutions, resolution, direction)
	return mathhelp.Clamp(z, g.minZoom, g.maxZoom)
}

// ZForResolutionFunc is ZForResolution with a custom snapping policy.
func (g *TileGrid) ZForResolutionFunc(resolution float64, f NearestDirectionFunc) int {
	z := linearFindNearestFunc(g.resolutions, resolution, f)
	return mathhelp.Clamp(z, g.minZoom, g.maxZoom)
}

// linearFindNearest searches a descending slice.
func linearFindNearest(arr []float64, target float64, direction int) int {
	n := len(arr)
	if arr[0] <= target {
		return 0
	}
	if target <= arr[n-1] {
		return n - 1
	}
	switch {
	case direction > 0:
		for i := 1; i < n; i++ {
			if arr[i] < target {
				return i - 1
			}
		}
	case direction < 0:
		for i := 1; i < n; i++ {
			if arr[i] <= target {
				return i
			}
		}
	default:
		for i := 1; i < n; i++ {
			if arr[i] == target {
				return i
			}
			if arr[i] < target {
				if arr[i-1]-target < target-arr[i] {
					return i - 1
				}
				return i
			}
		}
	}
	return n - 1
}

func linearFindNearestFunc(arr []float64, target float64, f NearestDirectionFunc) int {
	n := len(arr)
	if arr[0] <= target {
		return 0
	}
	if target <= arr[n-1] {
		return n - 1
	}
	for i := 1; i < n; i++ {
		candidate := arr[i]
		if candidate == target {
			return i
		}
		if candidate < target {
			if f(target, arr[i-1], candidate) > 0 {
				return i - 1
			}
			return i
		}
	}
	return n - 1
}
