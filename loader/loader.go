// Package loader fetches raw tile payloads from HTTP servers, tile directories,
// MBTiles files and GeoPackages. An empty payload without an error means there is no
// tile at the requested coordinate.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecoord"
)

var (
	ErrNotFound         = errors.New("tile store not found")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

type Loader interface {
	Load(ctx context.Context, coord tilecoord.Coord, url string) ([]byte, error)
}

// Func adapts a plain function to a Loader.
type Func func(ctx context.Context, coord tilecoord.Coord, url string) ([]byte, error)

func (f Func) Load(ctx context.Context, coord tilecoord.Coord, url string) ([]byte, error) {
	return f(ctx, coord, url)
}

// LoadFunc turns a Loader into the function tiles load their payload with.
func LoadFunc(l Loader) tile.LoadFunc {
	if l == nil {
		return nil
	}
	return l.Load
}

// Open picks a loader for location: http(s) URLs are fetched (the tile URL is used as
// is), *.mbtiles and *.gpkg files are read by coordinate, anything else is treated as
// a directory pattern with {z}, {x} and {y} placeholders. Close the returned loader
// when it implements io.Closer.
func Open(location string) (Loader, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTTP(nil), nil
	case strings.HasSuffix(location, ".mbtiles"):
		if err := exists(location); err != nil {
			return nil, err
		}
		return OpenMBTiles(location)
	case strings.HasSuffix(location, ".gpkg"):
		path, table, _ := strings.Cut(location, "#")
		if err := exists(path); err != nil {
			return nil, err
		}
		return OpenGeoPackage(path, table)
	}
	return NewDir(location)
}

func exists(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	return nil
}

// Close closes l when it holds resources.
func Close(l Loader) error {
	if c, ok := l.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
