package source

import (
	"time"

	"github.com/pdok/tiler/loader"
	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilegrid"
	"github.com/pdok/tiler/urlfunc"
)

// Kind is the kind of tile a source creates.
type Kind string

const (
	ImageKind Kind = "image"
	DataKind  Kind = "data"
)

type Options struct {
	Projection *proj.Projection `validate:"required"`
	// TileGrid defaults to the grid the registry holds for Projection.
	TileGrid *tilegrid.TileGrid
	// Grids memoizes the grids of the projections tiles get reprojected to.
	Grids *tilegrid.Registry

	// URL is expanded into URLs with urlfunc.ExpandURL.
	URL  string
	URLs []string `validate:"dive,required"`
	// TileURLFunc replaces the function generated from the URLs.
	TileURLFunc urlfunc.Func

	// TileLoadFunc wins over Loader. Without either tiles are fetched over HTTP.
	TileLoadFunc tile.LoadFunc
	Loader       loader.Loader

	Kind       Kind           `default:"image" validate:"oneof=image data"`
	Transition *time.Duration `default:"250ms"`
	CacheSize  int            `default:"2048"`
	// WrapX wraps tile columns of global projections back into the world.
	WrapX          *bool   `default:"true"`
	TilePixelRatio float64 `default:"1" validate:"gt=0"`

	ReprojectionErrorThreshold float64 `default:"0.5" validate:"gte=0"`
	MaxSourceTiles             int     `default:"100" validate:"gt=0"`

	// Key identifies the configuration of the source. Setting URLs replaces it.
	Key string
}
