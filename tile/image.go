package tile

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register gif
	_ "image/jpeg" // register jpeg
	_ "image/png"  // register png
	"sync"

	"github.com/gen2brain/webp"

	"github.com/pdok/tiler/tilecoord"
)

// ImageTile is a tile whose payload is a raster image.
type ImageTile struct {
	Base
	fetch

	imageMu sync.Mutex
	image   image.Image
}

// NewImageTile creates a tile that loads url through loadFunc. Tiles without a url
// should be created in the Empty state.
func NewImageTile(ctx context.Context, coord tilecoord.Coord, state State, url string, loadFunc LoadFunc, options Options) *ImageTile {
	t := &ImageTile{}
	t.Init(t, coord, state, options)
	t.fetch.init(ctx, url, loadFunc)
	return t
}

// Image is nil until the tile is Loaded.
func (t *ImageTile) Image() image.Image {
	t.imageMu.Lock()
	defer t.imageMu.Unlock()
	return t.image
}

// Load starts loading an Idle tile, or retries an Error tile. Other states are left alone.
func (t *ImageTile) Load() {
	t.start(&t.Base, t.decode)
}

func (t *ImageTile) decode(payload []byte) (State, error) {
	img, err := DecodeImage(payload)
	if err != nil {
		return Error, err
	}
	if img.Bounds().Empty() {
		return Empty, nil
	}
	t.imageMu.Lock()
	t.image = img
	t.imageMu.Unlock()
	return Loaded, nil
}

// Release aborts a load in flight and forgets the image. A loading or errored tile
// ends up Empty.
func (t *ImageTile) Release() {
	t.release()
	t.imageMu.Lock()
	t.image = nil
	t.imageMu.Unlock()
	t.SetStateFrom(Loading, Empty)
	t.Base.Release()
}

// DecodeImage decodes png, jpeg, gif and webp payloads.
func DecodeImage(payload []byte) (image.Image, error) {
	if isWebP(payload) {
		img, err := webp.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("could not decode webp: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}
	return img, nil
}

func isWebP(payload []byte) bool {
	return len(payload) >= 12 && string(payload[0:4]) == "RIFF" && string(payload[8:12]) == "WEBP"
}
