package tms20

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tilecoord"
	"github.com/pdok/tiler/tilegrid"
)

func TestLoadEmbeddedTileMatrixSet(t *testing.T) {
	tests := []struct {
		id      string
		srid    uint
		sridErr bool
		zooms   int
	}{
		{id: "NetherlandsRDNewQuad", srid: 28992, zooms: 17},
		{id: "WebMercatorQuad", srid: 3857, zooms: 25},
		{id: "WorldCRS84Quad", sridErr: true, zooms: 18},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := LoadEmbeddedTileMatrixSet(tt.id)
			require.NoErrorf(t, err, "LoadEmbeddedTileMatrixSet() error = %v", err)
			assert.Len(t, got.Zooms(), tt.zooms)

			remarshalled, err := json.Marshal(&got)
			require.NoError(t, err)
			rawJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + tt.id + ".json")
			require.NoError(t, err)
			require.JSONEq(t, string(rawJSON), string(remarshalled))

			srid, err := got.SRID()
			if tt.sridErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.srid, srid)
			}
		})
	}
}

func TestEmbeddedIDs(t *testing.T) {
	assert.Equal(t, []string{"NetherlandsRDNewQuad", "WebMercatorQuad", "WorldCRS84Quad"}, EmbeddedIDs())
}

func TestLoadJSONTileMatrixSet(t *testing.T) {
	jsonFilePath, err := filepath.Abs(path.Join("testdata", "LocalBottomLeftDoubleHeight.json"))
	require.NoError(t, err)
	got, err := LoadJSONTileMatrixSet(jsonFilePath)
	require.NoErrorf(t, err, "LoadJSONTileMatrixSet() error = %v", err)

	remarshalled, err := json.Marshal(&got)
	require.NoError(t, err)
	rawJSON, err := os.ReadFile(jsonFilePath)
	require.NoError(t, err)
	require.JSONEq(t, string(rawJSON), string(remarshalled))

	assert.Equal(t, "EPSG:1", got.CRS.Code())
	assert.Equal(t, "local engineering crs", got.CRS.Description)
	assert.Equal(t, BottomLeft, got.TileMatrices[0].CornerOfOrigin)
}

func TestLoadJSONTileMatrixSet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "no crs", json: `{"tileMatrices": []}`},
		{name: "unparsable crs", json: `{"crs": "EPSG:3857", "tileMatrices": []}`},
		{name: "wkt crs", json: `{"crs": {"wkt": {}}, "tileMatrices": []}`},
		{name: "no tile matrices", json: `{"crs": "http://www.opengis.net/def/crs/EPSG/0/3857"}`},
		{name: "empty tile matrices", json: `{"crs": "http://www.opengis.net/def/crs/EPSG/0/3857", "tileMatrices": []}`},
		{name: "non integer id", json: `{"crs": "http://www.opengis.net/def/crs/EPSG/0/3857", "tileMatrices": [
			{"id": "a", "scaleDenominator": 1, "cellSize": 1, "pointOfOrigin": [0, 0],
			 "tileWidth": 256, "tileHeight": 256, "matrixWidth": 1, "matrixHeight": 1}]}`},
		{name: "zero cell size", json: `{"crs": "http://www.opengis.net/def/crs/EPSG/0/3857", "tileMatrices": [
			{"id": "0", "scaleDenominator": 1, "cellSize": 0, "pointOfOrigin": [0, 0],
			 "tileWidth": 256, "tileHeight": 256, "matrixWidth": 1, "matrixHeight": 1}]}`},
		{name: "unknown corner", json: `{"crs": "http://www.opengis.net/def/crs/EPSG/0/3857", "tileMatrices": [
			{"id": "0", "scaleDenominator": 1, "cellSize": 1, "cornerOfOrigin": "middle", "pointOfOrigin": [0, 0],
			 "tileWidth": 256, "tileHeight": 256, "matrixWidth": 1, "matrixHeight": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "tms.json")
			require.NoError(t, os.WriteFile(p, []byte(tt.json), 0o600))
			_, err := LoadJSONTileMatrixSet(p)
			require.Error(t, err)
		})
	}
}

func TestTileMatrixSet_Size(t *testing.T) {
	type args struct {
		zoom uint
	}
	type want struct {
		ok   bool
		tile *slippy.Tile
	}
	tests := []struct {
		id string
		args
		want
	}{
		{id: "NetherlandsRDNewQuad",
			args: args{0},
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 1, Y: 1}}},
		{id: "NetherlandsRDNewQuad",
			args: args{1},
			want: want{ok: true, tile: &slippy.Tile{Z: 1, X: 2, Y: 2}}},
		{id: "NetherlandsRDNewQuad",
			args: args{99},
			want: want{ok: false, tile: nil}},
		{id: "LocalBottomLeftDoubleHeight",
			args: args{0},
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 2, Y: 4}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v.Size(%v)", tt.id, tt.zoom), func(t *testing.T) {
			tms, err := loadTestOrEmbeddedTileMatrix(tt.id)
			require.NoError(t, err)
			tile, ok := tms.Size(tt.args.zoom)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.tile, tile)
			}
		})
	}
}

func TestTileMatrixSet_FromNative(t *testing.T) {
	type args struct {
		zoom uint
		pt   geom.Point
	}
	type want struct {
		ok   bool
		tile *slippy.Tile
	}
	tests := []struct {
		id string
		args
		want
	}{
		{id: "NetherlandsRDNewQuad",
			args: args{1, geom.Point{155000, 463000.0}}, // centroid of extent
			want: want{ok: true, tile: &slippy.Tile{Z: 1, X: 1, Y: 1}}},
		{"NetherlandsRDNewQuad",
			args{100, geom.Point{}}, // zoom too large
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{-285401.92 - 1, 903401.92}}, // x too small
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{-285401.92, 903401.92 + 1}}, // y too large
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{595401.92 + 1, 22598.08}}, // x too large
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{595401.92, 22598.08 - 1}}, // y too small
			want{false, nil}},
		{id: "LocalBottomLeftDoubleHeight",
			args: args{0, geom.Point{300, 10}}, // bottom row
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 1, Y: 0}}},
		{id: "LocalBottomLeftDoubleHeight",
			args: args{0, geom.Point{10, 1000}}, // top row
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 0, Y: 3}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v.FromNative(%v, %v)", tt.id, tt.zoom, tt.pt.XY()), func(t *testing.T) {
			tms, err := loadTestOrEmbeddedTileMatrix(tt.id)
			require.NoError(t, err)
			tile, ok := tms.FromNative(tt.args.zoom, tt.args.pt)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.tile, tile)
			}
		})
	}
}

func TestTileMatrixSet_ToNative(t *testing.T) {
	type args struct {
		tile *slippy.Tile
	}
	type want struct {
		ok bool
		pt geom.Point
	}
	tests := []struct {
		id string
		args
		want
	}{
		{"NetherlandsRDNewQuad",
			args{&slippy.Tile{Z: 1, X: 1, Y: 1}},
			want{ok: true, pt: geom.Point{155000, 463000.0}}}, // centroid of extent, top
		{"NetherlandsRDNewQuad",
			args{&slippy.Tile{Z: 1, X: 3, Y: 1}},
			want{ok: false}},
		{"LocalBottomLeftDoubleHeight",
			args{&slippy.Tile{Z: 0, X: 1, Y: 1}},
			want{ok: true, pt: geom.Point{256.0, 512.0}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v.ToNative(%v)", tt.id, tt.tile), func(t *testing.T) {
			tms, err := loadTestOrEmbeddedTileMatrix(tt.id)
			require.NoError(t, err)
			point, ok := tms.ToNative(tt.tile)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.InDelta(t, tt.pt[0], point[0], 1e-6)
				assert.InDelta(t, tt.pt[1], point[1], 1e-6)
			}
		})
	}
}

func TestTileMatrixSet_NativeRange(t *testing.T) {
	tests := []struct {
		id       string
		zoom     uint
		extent   geom.Extent
		ok       bool
		from, to *slippy.Tile
	}{
		{id: "NetherlandsRDNewQuad", zoom: 1, extent: geom.Extent{0, 300000, 200000, 500000},
			ok: true, from: &slippy.Tile{Z: 1, X: 0, Y: 0}, to: &slippy.Tile{Z: 1, X: 1, Y: 1}},
		{id: "NetherlandsRDNewQuad", zoom: 1, extent: geom.Extent{0, 500000, 155000, 600000},
			ok: true, from: &slippy.Tile{Z: 1, X: 0, Y: 0}, to: &slippy.Tile{Z: 1, X: 0, Y: 0}},
		{id: "NetherlandsRDNewQuad", zoom: 0, extent: geom.Extent{-285000, 23000, 595000, 903000},
			ok: true, from: &slippy.Tile{Z: 0, X: 0, Y: 0}, to: &slippy.Tile{Z: 0, X: 0, Y: 0}},
		{id: "NetherlandsRDNewQuad", zoom: 0, extent: geom.Extent{-300000, 23000, 595000, 903000}},
		{id: "NetherlandsRDNewQuad", zoom: 99, extent: geom.Extent{0, 300000, 200000, 500000}},
		{id: "LocalBottomLeftDoubleHeight", zoom: 0, extent: geom.Extent{10, 10, 300, 1000},
			ok: true, from: &slippy.Tile{Z: 0, X: 0, Y: 0}, to: &slippy.Tile{Z: 0, X: 1, Y: 3}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v.NativeRange(%v, %v)", tt.id, tt.zoom, tt.extent), func(t *testing.T) {
			tms, err := loadTestOrEmbeddedTileMatrix(tt.id)
			require.NoError(t, err)
			from, to, ok := tms.NativeRange(tt.zoom, tt.extent)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.from, from)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestTileMatrixSet_TileGrid(t *testing.T) {
	tms, err := LoadEmbeddedTileMatrixSet("NetherlandsRDNewQuad")
	require.NoError(t, err)
	g, err := tms.TileGrid()
	require.NoError(t, err)

	assert.Equal(t, 16, g.MaxZoom())
	assert.InDelta(t, 3440.64, g.Resolution(0), 1e-9)
	assert.InDelta(t, 2.0, g.ZoomFactor(), 1e-9)
	assert.Equal(t, geom.Point{-285401.92, 903401.92}, g.Origin(5))
	assert.Equal(t, tilecoord.NewRange(0, 3, 0, 3), g.FullTileRange(2))

	// the grid agrees with the matrix set on which tile holds a point
	pt := geom.Point{155000, 463000}
	for z := uint(0); z <= 16; z++ {
		want, ok := tms.FromNative(z, geom.Point{pt[0] + 1, pt[1] - 1})
		require.True(t, ok)
		got := g.TileCoordForCoordAndZ(geom.Point{pt[0] + 1, pt[1] - 1}, int(z))
		assert.Equal(t, tilecoord.FromSlippy(want), got, "zoom %d", z)
	}
}

func TestTileMatrixSet_TileGridBottomLeft(t *testing.T) {
	tms, err := loadTestOrEmbeddedTileMatrix("LocalBottomLeftDoubleHeight")
	require.NoError(t, err)
	g, err := tms.TileGrid()
	require.NoError(t, err)

	// rows count from the top in the grid
	assert.Equal(t, geom.Point{0, 1024}, g.Origin(0))
	assert.Equal(t, tilecoord.NewRange(0, 1, 0, 3), g.FullTileRange(0))
	assert.Equal(t, tilecoord.New(0, 1, 3), g.TileCoordForCoordAndZ(geom.Point{300, 10}, 0))
}

func TestTileMatrixSet_TileGridWebMercator(t *testing.T) {
	tms, err := LoadEmbeddedTileMatrixSet("WebMercatorQuad")
	require.NoError(t, err)
	g, err := tms.TileGrid()
	require.NoError(t, err)
	half := math.Pi * proj.WebMercatorRadius
	assert.InDelta(t, 2*half/256, g.Resolution(0), 1e-6)
	assert.Equal(t, tilecoord.NewRange(0, 1023, 0, 1023), g.FullTileRange(10))

	p, err := tms.Projection(proj.Default())
	require.NoError(t, err)
	assert.Equal(t, proj.EPSG3857, p.Code)
}

func TestTileMatrixSet_Projection(t *testing.T) {
	crs84, err := LoadEmbeddedTileMatrixSet("WorldCRS84Quad")
	require.NoError(t, err)
	p, err := crs84.Projection(proj.Default())
	require.NoError(t, err)
	assert.Equal(t, proj.EPSG4326, p.Code)

	rd, err := LoadEmbeddedTileMatrixSet("NetherlandsRDNewQuad")
	require.NoError(t, err)
	_, err = rd.Projection(proj.Default())
	require.ErrorIs(t, err, proj.ErrUnknownProjection)
}

func TestTileMatrixSet_TileGridUnsupported(t *testing.T) {
	tests := []struct {
		name   string
		modify func(tms *TileMatrixSet)
	}{
		{name: "missing zoom", modify: func(tms *TileMatrixSet) { delete(tms.TileMatrices, 3) }},
		{name: "no tile matrices", modify: func(tms *TileMatrixSet) { tms.TileMatrices = map[int]TileMatrix{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tms, err := LoadEmbeddedTileMatrixSet("NetherlandsRDNewQuad")
			require.NoError(t, err)
			tt.modify(&tms)
			var g *tilegrid.TileGrid
			require.NotPanics(t, func() { g, err = tms.TileGrid() })
			require.ErrorIs(t, err, ErrUnsupported)
			assert.Nil(t, g)
		})
	}
}

func loadTestOrEmbeddedTileMatrix(id string) (TileMatrixSet, error) {
	p, err := filepath.Abs(path.Join("testdata", id+".json"))
	if err != nil {
		return TileMatrixSet{}, err
	}
	tms, err := LoadJSONTileMatrixSet(p)
	if err != nil {
		tms, err = LoadEmbeddedTileMatrixSet(id)
	}
	return tms, err
}
