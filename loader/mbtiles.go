package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/pdok/tiler/tilecoord"
)

// MBTiles reads tiles from an MBTiles file. Rows are stored bottom-up and flipped on read.
type MBTiles struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// OpenMBTiles opens path read-only. Close it after use.
func OpenMBTiles(path string) (*MBTiles, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}
	stmt, err := db.Prepare("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not prepare tile query for %s: %w", path, err)
	}
	return &MBTiles{db: db, stmt: stmt}, nil
}

func (m *MBTiles) Close() error {
	return errors.Join(m.stmt.Close(), m.db.Close())
}

// Metadata returns the name/value pairs of the metadata table.
func (m *MBTiles) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metadata := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata[name] = value
	}
	return metadata, rows.Err()
}

func (m *MBTiles) Load(ctx context.Context, coord tilecoord.Coord, _ string) ([]byte, error) {
	if coord.Z < 0 || coord.Y < 0 || coord.Y >= 1<<coord.Z {
		return []byte{}, nil
	}
	return queryTile(ctx, m.stmt, coord.Z, coord.X, tmsRow(coord))
}

func queryTile(ctx context.Context, stmt *sql.Stmt, z, x, y int) ([]byte, error) {
	var data []byte
	if err := stmt.QueryRowContext(ctx, z, x, y).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []byte{}, nil
		}
		return nil, err
	}
	return data, nil
}
