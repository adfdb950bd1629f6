package batch

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/source"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecoord"
)

func pngPayload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 256, 256))))
	return buf.Bytes()
}

func newSource(t *testing.T, kind source.Kind, load tile.LoadFunc) *source.Source {
	t.Helper()
	s, err := source.New(context.Background(), source.Options{
		Projection:   proj.WebMercator(),
		URL:          "https://example.org/{z}/{x}/{y}.png",
		TileLoadFunc: load,
		Kind:         kind,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

var world = geom.Extent{-20037508.342789244, -20037508.342789244, 20037508.342789244, 20037508.342789244}

func TestFetch(t *testing.T) {
	payload := pngPayload(t)
	s := newSource(t, source.ImageKind, func(_ context.Context, c tilecoord.Coord, _ string) ([]byte, error) {
		if c.X == 1 && c.Y == 1 {
			return nil, nil
		}
		return payload, nil
	})

	result, err := Fetch(context.Background(), s, Options{Extent: world, Zoom: 1, MaxTotalLoading: 2, MaxNewLoads: 1})
	require.NoError(t, err)
	require.Len(t, result.Tiles, 4)
	assert.Equal(t, map[tile.State]int{tile.Loaded: 3, tile.Empty: 1}, result.Summary())

	records, err := result.Records()
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, r := range records {
		assert.Equal(t, result.Grid.TileCoordExtent(r.Coord), r.Extent)
		if r.State == tile.Empty {
			assert.Empty(t, r.Data)
			continue
		}
		img, err := png.Decode(bytes.NewReader(r.Data))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 256, 256), img.Bounds())
	}
}

func TestFetch_Data(t *testing.T) {
	s := newSource(t, source.DataKind, func(context.Context, tilecoord.Coord, string) ([]byte, error) {
		return []byte("pbf"), nil
	})
	result, err := Fetch(context.Background(), s, Options{Extent: geom.Extent{1, 1, 2, 2}, Zoom: 3})
	require.NoError(t, err)
	require.Len(t, result.Tiles, 1)
	assert.Equal(t, tilecoord.New(3, 4, 3), result.Tiles[0].Coord())

	records, err := result.Records()
	require.NoError(t, err)
	assert.Equal(t, []byte("pbf"), records[0].Data)
}

func TestFetch_Reprojected(t *testing.T) {
	payload := pngPayload(t)
	s := newSource(t, source.ImageKind, func(context.Context, tilecoord.Coord, string) ([]byte, error) {
		return payload, nil
	})
	result, err := Fetch(context.Background(), s, Options{
		Extent:     geom.Extent{-180, -85, 180, 85},
		Zoom:       0,
		Projection: proj.WGS84(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Tiles)
	for _, tl := range result.Tiles {
		assert.Equal(t, tile.Loaded, tl.State(), tl.Coord().String())
	}
	records, err := result.Records()
	require.NoError(t, err)
	assert.NotEmpty(t, records[0].Data)
}

func TestFetch_Canceled(t *testing.T) {
	s := newSource(t, source.ImageKind, func(ctx context.Context, _ tilecoord.Coord, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Fetch(ctx, s, Options{Extent: world, Zoom: 0})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_Invalid(t *testing.T) {
	s := newSource(t, source.ImageKind, nil)
	_, err := Fetch(context.Background(), s, Options{Extent: world, Zoom: 43})
	assert.Error(t, err)
	_, err = Fetch(context.Background(), s, Options{Extent: world, Zoom: -1})
	assert.Error(t, err)
	_, err = Fetch(context.Background(), s, Options{Extent: world, PixelRatio: -1})
	assert.Error(t, err)
}
