package tile

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/tiler/tilecoord"
)

func pngPayload(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func waitForTerminal(t *testing.T, tl Tile) State {
	t.Helper()
	require.Eventually(t, func() bool { return tl.State().Terminal() }, 2*time.Second, time.Millisecond)
	return tl.State()
}

func TestImageTile_Load(t *testing.T) {
	payload := pngPayload(t, 4, 2)
	errBoom := errors.New("boom")
	tests := []struct {
		name     string
		loadFunc LoadFunc
		want     State
		wantErr  error
	}{
		{name: "png",
			loadFunc: func(context.Context, tilecoord.Coord, string) ([]byte, error) { return payload, nil },
			want:     Loaded},
		{name: "no payload",
			loadFunc: func(context.Context, tilecoord.Coord, string) ([]byte, error) { return nil, nil },
			want:     Empty},
		{name: "load error",
			loadFunc: func(context.Context, tilecoord.Coord, string) ([]byte, error) { return nil, errBoom },
			want:     Error, wantErr: errBoom},
		{name: "not an image",
			loadFunc: func(context.Context, tilecoord.Coord, string) ([]byte, error) { return []byte("<html>"), nil },
			want:     Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotURL string
			var gotCoord tilecoord.Coord
			loadFunc := func(ctx context.Context, c tilecoord.Coord, url string) ([]byte, error) {
				gotURL, gotCoord = url, c
				return tt.loadFunc(ctx, c, url)
			}
			tl := NewImageTile(context.Background(), tilecoord.New(3, 2, 1), Idle, "http://tiles/3/2/1.png", loadFunc, Options{})
			var states []State
			done := make(chan struct{})
			tl.AddListener(func(changed Tile) {
				states = append(states, changed.State())
				if changed.State().Terminal() {
					close(done)
				}
			})
			tl.Load()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("tile did not finish loading")
			}
			assert.Equal(t, []State{Loading, tt.want}, states)
			assert.Equal(t, "http://tiles/3/2/1.png", gotURL)
			assert.Equal(t, tilecoord.New(3, 2, 1), gotCoord)
			if tt.want == Loaded {
				require.NotNil(t, tl.Image())
				assert.Equal(t, image.Rect(0, 0, 4, 2), tl.Image().Bounds())
			} else {
				assert.Nil(t, tl.Image())
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, tl.Err(), tt.wantErr)
			}
			if tt.want == Error {
				assert.Error(t, tl.Err())
			}
		})
	}
}

func TestImageTile_LoadOnlyOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	tl := NewImageTile(context.Background(), tilecoord.New(0, 0, 0), Idle, "u",
		func(context.Context, tilecoord.Coord, string) ([]byte, error) {
			calls.Add(1)
			<-release
			return nil, nil
		}, Options{})
	tl.Load()
	tl.Load()
	assert.Equal(t, Loading, tl.State())
	close(release)
	assert.Equal(t, Empty, waitForTerminal(t, tl))
	tl.Load()
	assert.Equal(t, int32(1), calls.Load())
}

func TestImageTile_Retry(t *testing.T) {
	payload := pngPayload(t, 1, 1)
	var calls atomic.Int32
	tl := NewImageTile(context.Background(), tilecoord.New(0, 0, 0), Idle, "u",
		func(context.Context, tilecoord.Coord, string) ([]byte, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("temporarily unavailable")
			}
			return payload, nil
		}, Options{})
	tl.Load()
	require.Equal(t, Error, waitForTerminal(t, tl))

	tl.Load()
	require.Eventually(t, func() bool { return tl.State() == Loaded }, 2*time.Second, time.Millisecond)
	assert.NoError(t, tl.Err())
	assert.Equal(t, int32(2), calls.Load())
}

func TestImageTile_EmptyStateNeverLoads(t *testing.T) {
	called := false
	tl := NewImageTile(context.Background(), tilecoord.New(0, 0, 0), Empty, "",
		func(context.Context, tilecoord.Coord, string) ([]byte, error) {
			called = true
			return nil, nil
		}, Options{})
	tl.Load()
	assert.Equal(t, Empty, tl.State())
	assert.False(t, called)
}

func TestImageTile_ReleaseWhileLoading(t *testing.T) {
	started := make(chan struct{})
	tl := NewImageTile(context.Background(), tilecoord.New(0, 0, 0), Idle, "u",
		func(ctx context.Context, _ tilecoord.Coord, _ string) ([]byte, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, Options{})
	tl.Load()
	<-started
	tl.Release()
	assert.Equal(t, Empty, tl.State())
	// the canceled load leaves no error behind
	assert.Never(t, func() bool { return tl.State() != Empty || tl.Err() != nil }, 50*time.Millisecond, 5*time.Millisecond)
	tl.Load()
	assert.Equal(t, Empty, tl.State())
}

func TestImageTile_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tl := NewImageTile(ctx, tilecoord.New(0, 0, 0), Idle, "u",
		func(ctx context.Context, _ tilecoord.Coord, _ string) ([]byte, error) {
			return nil, ctx.Err()
		}, Options{})
	tl.Load()
	assert.Equal(t, Error, waitForTerminal(t, tl))
}

func TestIsWebP(t *testing.T) {
	assert.True(t, isWebP([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.False(t, isWebP([]byte("RIFF\x00\x00\x00\x00WAVE")))
	assert.False(t, isWebP(nil))
	_, err := DecodeImage([]byte("RIFF\x00\x00\x00\x00WEBPVP8 garbage"))
	assert.Error(t, err)
}

func TestDataTile_Load(t *testing.T) {
	tl := NewDataTile(context.Background(), tilecoord.New(2, 1, 1), Idle, "u",
		func(context.Context, tilecoord.Coord, string) ([]byte, error) {
			return []byte{1, 2, 3}, nil
		}, Options{})
	tl.Load()
	assert.Equal(t, Loaded, waitForTerminal(t, tl))
	assert.Equal(t, []byte{1, 2, 3}, tl.Data())
	assert.Equal(t, "u", tl.URL())

	empty := NewDataTile(context.Background(), tilecoord.New(2, 1, 1), Idle, "u",
		func(context.Context, tilecoord.Coord, string) ([]byte, error) {
			return []byte{}, nil
		}, Options{})
	empty.Load()
	assert.Equal(t, Empty, waitForTerminal(t, empty))
	assert.Nil(t, empty.Data())
}
