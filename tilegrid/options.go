package tilegrid

import (
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
)

// DefaultTileSize is used by the helpers that build grids from an extent.
const DefaultTileSize = 256

// DefaultMaxZoom is the deepest level of grids derived from a projection.
const DefaultMaxZoom = 42

var ErrConfiguration = errors.New("invalid tile grid configuration")

// ConfigurationError reports malformed grid options. It matches ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Size is a width/height pair in pixels or tiles.
type Size [2]int

// Options configure a TileGrid. Exactly one of Origin/Origins and exactly one of
// TileSize/TileSizes must be set. Without an origin, the top-left corner of Extent is used.
type Options struct {
	// Resolutions in map units per pixel, strictly descending. Index is zoom level.
	Resolutions []float64 `validate:"required,min=1,dive,gt=0"`
	// Origin of all levels. Mutually exclusive with Origins.
	Origin *geom.Point
	// Origins per level. Mutually exclusive with Origin.
	Origins []geom.Point
	// TileSize of all levels. Mutually exclusive with TileSizes.
	TileSize *Size
	// TileSizes per level. Mutually exclusive with TileSize.
	TileSizes []Size
	// Extent limits the tile ranges of every level. Optional.
	Extent *geom.Extent
	// Sizes are the number of tiles (columns, rows) per level. Optional, restricts full tile ranges.
	Sizes   []Size
	MinZoom int `default:"0" validate:"min=0"`
}

func (o *Options) validate() error {
	if err := defaults.Set(o); err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(o); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	for i := 0; i < len(o.Resolutions)-1; i++ {
		if !(o.Resolutions[i] > o.Resolutions[i+1]) {
			return configErrorf("resolutions must be sorted in descending order, got %v at %d and %v at %d",
				o.Resolutions[i], i, o.Resolutions[i+1], i+1)
		}
	}
	if o.MinZoom > len(o.Resolutions)-1 {
		return configErrorf("minZoom %d beyond maxZoom %d", o.MinZoom, len(o.Resolutions)-1)
	}
	hasOrigin := o.Origin != nil || (o.Origins == nil && o.Extent != nil)
	if hasOrigin == (o.Origins != nil) {
		return configErrorf("either origin or origins must be configured, never both")
	}
	if o.Origins != nil && len(o.Origins) != len(o.Resolutions) {
		return configErrorf("number of origins (%d) and resolutions (%d) must be equal", len(o.Origins), len(o.Resolutions))
	}
	if (o.TileSize != nil) == (o.TileSizes != nil) {
		return configErrorf("either tileSize or tileSizes must be configured, never both")
	}
	if o.TileSizes != nil && len(o.TileSizes) != len(o.Resolutions) {
		return configErrorf("number of tileSizes (%d) and resolutions (%d) must be equal", len(o.TileSizes), len(o.Resolutions))
	}
	for _, s := range tileSizesOf(o) {
		if s[0] <= 0 || s[1] <= 0 {
			return configErrorf("tile sizes must be positive, got %v", s)
		}
	}
	for _, s := range o.Sizes {
		if s[0] < 0 || s[1] < 0 {
			return configErrorf("sizes must not be negative, got %v", s)
		}
	}
	if o.Sizes != nil && len(o.Sizes) != len(o.Resolutions) {
		return configErrorf("number of sizes (%d) and resolutions (%d) must be equal", len(o.Sizes), len(o.Resolutions))
	}
	return nil
}

func tileSizesOf(o *Options) []Size {
	if o.TileSize != nil {
		return []Size{*o.TileSize}
	}
	return o.TileSizes
}

// SquareSize is a convenience for square tiles.
func SquareSize(n int) *Size {
	return &Size{n, n}
}
