package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-spatial/geom/encoding/gpkg"

	"github.com/pdok/tiler/tilecoord"
)

const DefaultGeoPackageTable = "tiles"

var (
	ErrInvalidTable = errors.New("invalid GeoPackage tile table name")

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// GeoPackage reads a tile pyramid user data table of a GeoPackage. Unlike MBTiles,
// tile_row counts from the top.
type GeoPackage struct {
	handle *gpkg.Handle
	stmt   *sql.Stmt
	table  string
}

// OpenGeoPackage opens the tile table of the GeoPackage at path, DefaultGeoPackageTable when empty.
func OpenGeoPackage(path, table string) (*GeoPackage, error) {
	if table == "" {
		table = DefaultGeoPackageTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	handle, err := gpkg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open GeoPackage %s: %w", path, err)
	}
	stmt, err := handle.Prepare(fmt.Sprintf(
		"SELECT tile_data FROM %s WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?", table))
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("could not prepare tile query on %s of %s: %w", table, path, err)
	}
	return &GeoPackage{handle: handle, stmt: stmt, table: table}, nil
}

func (g *GeoPackage) Table() string {
	return g.table
}

func (g *GeoPackage) Close() error {
	return errors.Join(g.stmt.Close(), g.handle.Close())
}

func (g *GeoPackage) Load(ctx context.Context, coord tilecoord.Coord, _ string) ([]byte, error) {
	return queryTile(ctx, g.stmt, coord.Z, coord.X, coord.Y)
}
