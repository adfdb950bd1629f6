package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/tiler/tilecoord"
)

func TestHTTP_Load(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/1/0/0.png":
			_, _ = w.Write([]byte("tile100"))
		case "/nocontent":
			w.WriteHeader(http.StatusNoContent)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tests := []struct {
		path    string
		want    []byte
		wantErr error
	}{
		{path: "/1/0/0.png", want: []byte("tile100")},
		{path: "/nocontent", want: []byte{}},
		{path: "/9/9/9.png", want: []byte{}},
		{path: "/broken", wantErr: ErrUnexpectedStatus},
	}
	h := NewHTTP(srv.Client())
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := h.Load(context.Background(), tilecoord.New(1, 0, 0), srv.URL+tt.path)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if !cmp.Equal(got, tt.want) {
				t.Errorf("Load(%s) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestHTTP_SharesInflightRequests(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		_, _ = w.Write([]byte("shared"))
	}))
	defer srv.Close()

	h := NewHTTP(srv.Client())
	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = h.Load(context.Background(), tilecoord.New(0, 0, 0), srv.URL+"/0/0/0")
		}(i)
	}
	require.Eventually(t, func() bool { return requests.Load() >= 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, []byte("shared"), r)
	}
	assert.LessOrEqual(t, requests.Load(), int32(4))
}

func TestHTTP_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTP(nil).Load(ctx, tilecoord.New(0, 0, 0), srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDir(t *testing.T) {
	rootDir := t.TempDir()
	tiles := map[tilecoord.Coord][]byte{
		tilecoord.New(0, 0, 0): []byte("tile000"),
		tilecoord.New(1, 1, 0): []byte("tile110"),
		tilecoord.New(6, 6, 6): []byte("tile666"),
	}
	pattern := filepath.Join(rootDir, "{z}", "{x}", "{y}.png")
	d, err := NewDir(pattern)
	require.NoError(t, err)
	for coord, data := range tiles {
		path := d.Path(coord)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	for coord, want := range tiles {
		got, err := d.Load(context.Background(), coord, "")
		require.NoError(t, err)
		if !cmp.Equal(got, want) {
			t.Errorf("Load(%s) = %q, want %q", coord, got, want)
		}
	}
	got, err := d.Load(context.Background(), tilecoord.New(9, 9, 9), "")
	require.NoError(t, err)
	assert.Empty(t, got)

	tms, err := NewDir(filepath.Join(rootDir, "{z}", "{x}", "{-y}.png"))
	require.NoError(t, err)
	got, err = tms.Load(context.Background(), tilecoord.New(1, 1, 1), "")
	require.NoError(t, err)
	assert.Equal(t, []byte("tile110"), got)
}

func TestNewDir_InvalidPattern(t *testing.T) {
	for _, pattern := range []string{"/tiles/{z}/{x}.png", "/tiles/{x}/{y}.png", "/tiles/{z}/{y}.png"} {
		_, err := NewDir(pattern)
		assert.ErrorIs(t, err, ErrInvalidPattern, pattern)
	}
}

func writeTilesTable(t *testing.T, db *sql.DB, table string, rows map[[3]int][]byte) {
	t.Helper()
	_, err := db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		zoom_level INTEGER NOT NULL,
		tile_column INTEGER NOT NULL,
		tile_row INTEGER NOT NULL,
		tile_data BLOB NOT NULL,
		UNIQUE (zoom_level, tile_column, tile_row))`, table))
	require.NoError(t, err)
	for zxy, data := range rows {
		_, err := db.Exec(fmt.Sprintf("INSERT INTO %s (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)", table),
			zxy[0], zxy[1], zxy[2], data)
		require.NoError(t, err)
	}
}

func TestMBTiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE metadata (name TEXT, value TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO metadata (name, value) VALUES ('format', 'png')")
	require.NoError(t, err)
	// stored bottom-up
	writeTilesTable(t, db, "tiles", map[[3]int][]byte{
		{0, 0, 0}: []byte("tile000"),
		{2, 1, 3}: []byte("tile210"),
	})
	require.NoError(t, db.Close())

	m, err := OpenMBTiles(path)
	require.NoError(t, err)
	defer m.Close()

	tests := []struct {
		coord tilecoord.Coord
		want  []byte
	}{
		{coord: tilecoord.New(0, 0, 0), want: []byte("tile000")},
		{coord: tilecoord.New(2, 1, 0), want: []byte("tile210")},
		{coord: tilecoord.New(2, 1, 3), want: []byte{}},
		{coord: tilecoord.New(2, 1, -1), want: []byte{}},
		{coord: tilecoord.New(2, 1, 4), want: []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.coord.Key(), func(t *testing.T) {
			got, err := m.Load(context.Background(), tt.coord, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	metadata, err := m.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"format": "png"}, metadata)
}

func TestGeoPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.gpkg")
	h, err := gpkg.Open(path)
	require.NoError(t, err)
	writeTilesTable(t, h.DB, "basemap", map[[3]int][]byte{
		{1, 1, 0}: []byte("tile110"),
	})
	require.NoError(t, h.Close())

	g, err := OpenGeoPackage(path, "basemap")
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, "basemap", g.Table())

	got, err := g.Load(context.Background(), tilecoord.New(1, 1, 0), "")
	require.NoError(t, err)
	assert.Equal(t, []byte("tile110"), got)
	got, err = g.Load(context.Background(), tilecoord.New(1, 1, 1), "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = OpenGeoPackage(path, "tiles; DROP TABLE basemap")
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestOpen(t *testing.T) {
	l, err := Open("https://tiles.example.org/{z}/{x}/{y}.png")
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, l)

	l, err = Open(filepath.Join(t.TempDir(), "{z}", "{x}", "{y}.png"))
	require.NoError(t, err)
	assert.IsType(t, &Dir{}, l)
	assert.NoError(t, Close(l))

	_, err = Open(filepath.Join(t.TempDir(), "missing.mbtiles"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = Open(filepath.Join(t.TempDir(), "missing.gpkg#tiles"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFunc(t *testing.T) {
	errBoom := errors.New("boom")
	f := Func(func(context.Context, tilecoord.Coord, string) ([]byte, error) { return nil, errBoom })
	_, err := LoadFunc(f)(context.Background(), tilecoord.New(0, 0, 0), "")
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, LoadFunc(nil))
}
