package export

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"golang.org/x/exp/maps"
)

// MBTiles writes tile payloads to a new MBTiles file. Only records with data are kept.
type MBTiles struct {
	db       *sql.DB
	pagesize int
}

// CreateMBTiles creates the schema in file and stores metadata, e.g. name and format.
func CreateMBTiles(file string, metadata map[string]string, pagesize int) (*MBTiles, error) {
	if pagesize < 1 {
		pagesize = 1
	}
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, err
	}
	m := &MBTiles{db: db, pagesize: pagesize}
	if err := m.createTables(metadata); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MBTiles) createTables(metadata map[string]string) error {
	for _, stmt := range []string{
		"CREATE TABLE metadata (name TEXT, value TEXT)",
		"CREATE UNIQUE INDEX metadata_name ON metadata (name)",
		"CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)",
		"CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row)",
	} {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("error creating MBTiles schema: %w", err)
		}
	}
	names := maps.Keys(metadata)
	sort.Strings(names)
	for _, name := range names {
		if _, err := m.db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", name, metadata[name]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MBTiles) Close() error {
	return m.db.Close()
}

func (m *MBTiles) WriteRecords(records <-chan Record) error {
	var page []Record
	for r := range records {
		if len(r.Data) == 0 {
			continue
		}
		page = append(page, r)
		if len(page)%m.pagesize == 0 {
			if err := m.writePage(page); err != nil {
				return err
			}
			page = nil
		}
	}
	if len(page) > 0 {
		return m.writePage(page)
	}
	return nil
}

func (m *MBTiles) writePage(page []Record) (err error) {
	sortPage(page)
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	stmt, err := tx.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer stmt.Close()
	for _, r := range page {
		// MBTiles rows count from the bottom
		row := (1 << r.Coord.Z) - 1 - r.Coord.Y
		if _, err = stmt.Exec(r.Coord.Z, r.Coord.X, row, r.Data); err != nil {
			return fmt.Errorf("could not write tile %s: %w", r.Coord, err)
		}
	}
	return tx.Commit()
}
