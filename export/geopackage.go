package export

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"

	"github.com/pdok/tiler/geomhelp"
	"github.com/pdok/tiler/proj"
)

const (
	TilesTable      = "tiles"
	FootprintsTable = "footprints"
	footprintColumn = "geom"
)

// GeoPackage writes tile payloads to a tile pyramid table and the extent of every
// record, whatever its state, to a polygon feature table.
type GeoPackage struct {
	handle   *gpkg.Handle
	srs      gpkg.SpatialReferenceSystem
	pagesize int
}

// CreateGeoPackage creates the tables in the GeoPackage at file, which should not
// hold them yet. Records are committed per pagesize.
func CreateGeoPackage(file string, p *proj.Projection, pagesize int) (*GeoPackage, error) {
	srid, err := SRID(p)
	if err != nil {
		return nil, err
	}
	if pagesize < 1 {
		pagesize = 1
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage: %w", err)
	}
	g := &GeoPackage{
		handle: handle,
		srs: gpkg.SpatialReferenceSystem{
			Name:                   p.Code,
			ID:                     int(srid),
			Organization:           "EPSG",
			OrganizationCoordsysID: int(srid),
			Definition:             "undefined",
		},
		pagesize: pagesize,
	}
	if err := g.createTables(); err != nil {
		handle.Close()
		return nil, err
	}
	return g, nil
}

func (g *GeoPackage) Close() error {
	return g.handle.Close()
}

func (g *GeoPackage) createTables() error {
	if err := g.handle.UpdateSRS(g.srs); err != nil {
		return fmt.Errorf("error adding SRS %d: %w", g.srs.ID, err)
	}
	if _, err := g.handle.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		zoom_level INTEGER NOT NULL,
		tile_column INTEGER NOT NULL,
		tile_row INTEGER NOT NULL,
		tile_data BLOB NOT NULL,
		UNIQUE (zoom_level, tile_column, tile_row))`, TilesTable)); err != nil {
		return fmt.Errorf("error building tile table in target GeoPackage: %w", err)
	}
	if _, err := g.handle.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
		fid INTEGER PRIMARY KEY AUTOINCREMENT,
		zoom_level INTEGER NOT NULL,
		tile_column INTEGER NOT NULL,
		tile_row INTEGER NOT NULL,
		state TEXT NOT NULL,
		%s POLYGON)`, FootprintsTable, footprintColumn)); err != nil {
		return fmt.Errorf("error building footprint table in target GeoPackage: %w", err)
	}
	return g.handle.AddGeometryTable(gpkg.TableDescription{
		Name:          FootprintsTable,
		ShortName:     FootprintsTable,
		Description:   "extents of fetched tiles",
		GeometryField: footprintColumn,
		GeometryType:  gpkg.Polygon,
		SRS:           int32(g.srs.ID),
		Z:             gpkg.Prohibited,
		M:             gpkg.Prohibited,
	})
}

// WriteRecords writes records in transactions of pagesize until the channel closes.
func (g *GeoPackage) WriteRecords(records <-chan Record) error {
	var page []Record
	for r := range records {
		page = append(page, r)
		if len(page)%g.pagesize == 0 {
			if err := g.writePage(page); err != nil {
				return err
			}
			page = nil
		}
	}
	if len(page) > 0 {
		return g.writePage(page)
	}
	return nil
}

func (g *GeoPackage) writePage(page []Record) (err error) {
	sortPage(page)
	tx, err := g.handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	tiles, err := tx.Prepare(fmt.Sprintf(
		`INSERT OR REPLACE INTO "%s" (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`, TilesTable))
	if err != nil {
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer tiles.Close()
	footprints, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO "%s" (zoom_level, tile_column, tile_row, state, %s) VALUES (?, ?, ?, ?, ?)`, FootprintsTable, footprintColumn))
	if err != nil {
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer footprints.Close()

	var ext *geom.Extent
	for _, r := range page {
		if err = g.writeRecord(tiles, footprints, r); err != nil {
			return err
		}
		if ext == nil {
			e := r.Extent
			ext = &e
		} else {
			ext.Add(&r.Extent)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	if err := g.handle.UpdateGeometryExtent(FootprintsTable, ext); err != nil {
		log.Println("failed to update extent:", err)
	}
	return nil
}

func (g *GeoPackage) writeRecord(tiles, footprints *sql.Stmt, r Record) error {
	if len(r.Data) > 0 {
		if _, err := tiles.Exec(r.Coord.Z, r.Coord.X, r.Coord.Y, r.Data); err != nil {
			return fmt.Errorf("could not write tile %s: %w", r.Coord, err)
		}
	}
	sb, err := gpkg.NewBinary(int32(g.srs.ID), geomhelp.ExtentPolygon(r.Extent))
	if err != nil {
		return fmt.Errorf("could not create a binary geometry: %w", err)
	}
	if _, err := footprints.Exec(r.Coord.Z, r.Coord.X, r.Coord.Y, r.State.String(), sb); err != nil {
		return fmt.Errorf("could not write footprint of %s: %w", r.Coord, err)
	}
	return nil
}
