// Package config reads the YAML description of a tile source and the grid tiles are
// requested in.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pdok/tiler/loader"
	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/source"
	"github.com/pdok/tiler/tilegrid"
	"github.com/pdok/tiler/tms20"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Source Source `yaml:"source" validate:"required"`
	// Target is the grid tiles are requested in. Without it tiles are requested in
	// the grid of the source.
	Target *Grid  `yaml:"target"`
	Queue  Queue  `yaml:"queue"`
}

// Grid is a projection with an optional tile matrix set. Without a set the default
// grid of the projection is used.
type Grid struct {
	Projection        string `yaml:"projection" validate:"required"`
	TileMatrixSet     string `yaml:"tileMatrixSet"`
	TileMatrixSetFile string `yaml:"tileMatrixSetFile" validate:"excluded_with=TileMatrixSet"`
}

type Source struct {
	Grid `yaml:",inline"`

	URL  string   `yaml:"url"`
	URLs []string `yaml:"urls" validate:"dive,required"`
	// Location is where payloads are read from: an http(s) URL, a directory pattern,
	// an MBTiles file or a GeoPackage (path#table). Defaults to URL.
	Location string `yaml:"location"`

	Kind                       string         `yaml:"kind" default:"image" validate:"oneof=image data"`
	Transition                 *time.Duration `yaml:"transition" default:"250ms"`
	CacheSize                  int            `yaml:"cacheSize" default:"2048"`
	WrapX                      *bool          `yaml:"wrapX" default:"true"`
	TilePixelRatio             float64        `yaml:"tilePixelRatio" default:"1" validate:"gt=0"`
	ReprojectionErrorThreshold float64        `yaml:"reprojectionErrorThreshold" default:"0.5" validate:"gte=0"`
	MaxSourceTiles             int            `yaml:"maxSourceTiles" default:"100" validate:"gt=0"`
	Key                        string         `yaml:"key"`
}

type Queue struct {
	MaxTotalLoading int `yaml:"maxTotalLoading" default:"16" validate:"gt=0"`
	MaxNewLoads     int `yaml:"maxNewLoads" default:"8" validate:"gt=0,ltefield=MaxTotalLoading"`
}

// Load reads, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	s := c.Source
	if s.URL == "" && len(s.URLs) == 0 && s.Location == "" {
		return fmt.Errorf("%w: source needs a url, urls or a location", ErrInvalid)
	}
	return nil
}

// TileGrid resolves the projection and grid. The grid is nil when no tile matrix set
// is configured.
func (g *Grid) TileGrid(r *proj.Registry) (*proj.Projection, *tilegrid.TileGrid, error) {
	p, err := r.Get(g.Projection)
	if err != nil {
		return nil, nil, err
	}
	var tms tms20.TileMatrixSet
	switch {
	case g.TileMatrixSet != "":
		tms, err = tms20.LoadEmbeddedTileMatrixSet(g.TileMatrixSet)
	case g.TileMatrixSetFile != "":
		tms, err = tms20.LoadJSONTileMatrixSet(g.TileMatrixSetFile)
	default:
		return p, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading tile matrix set: %w", err)
	}
	tmsProj, err := tms.Projection(r)
	if err != nil {
		return nil, nil, fmt.Errorf("tile matrix set %s: %w", tms.ID, err)
	}
	if !proj.Equivalent(p, tmsProj) {
		return nil, nil, fmt.Errorf("%w: tile matrix set %s is in %s, not %s", ErrInvalid, tms.ID, tmsProj.Code, p.Code)
	}
	grid, err := tms.TileGrid()
	if err != nil {
		return nil, nil, err
	}
	return p, grid, nil
}

// Options builds the options of the source. The returned loader must be closed with
// loader.Close once the source is no longer used.
func (s *Source) Options(r *proj.Registry) (source.Options, loader.Loader, error) {
	p, grid, err := s.TileGrid(r)
	if err != nil {
		return source.Options{}, nil, err
	}
	location := s.Location
	url := s.URL
	if location == "" {
		location = url
		if location == "" {
			location = s.URLs[0]
		}
	} else if url == "" && len(s.URLs) == 0 {
		// tiles without a URL are never loaded, so address them by location
		url = location
	}
	l, err := loader.Open(location)
	if err != nil {
		return source.Options{}, nil, err
	}
	return source.Options{
		Projection:                 p,
		TileGrid:                   grid,
		URL:                        url,
		URLs:                       s.URLs,
		Loader:                     l,
		Kind:                       source.Kind(s.Kind),
		Transition:                 s.Transition,
		CacheSize:                  s.CacheSize,
		WrapX:                      s.WrapX,
		TilePixelRatio:             s.TilePixelRatio,
		ReprojectionErrorThreshold: s.ReprojectionErrorThreshold,
		MaxSourceTiles:             s.MaxSourceTiles,
		Key:                        s.Key,
	}, l, nil
}
