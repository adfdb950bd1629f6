package tile

import (
	"context"
	"sync"

	"github.com/pdok/tiler/tilecoord"
)

// LoadFunc fetches the raw payload of a tile. An empty payload without error means
// there is no tile here.
type LoadFunc func(ctx context.Context, coord tilecoord.Coord, url string) ([]byte, error)

// fetch is the payload loading shared by ImageTile and DataTile.
type fetch struct {
	ctx      context.Context
	url      string
	loadFunc LoadFunc

	mu       sync.Mutex
	cancel   context.CancelFunc
	err      error
	released bool
}

func (f *fetch) init(ctx context.Context, url string, loadFunc LoadFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	f.ctx = ctx
	f.url = url
	f.loadFunc = loadFunc
}

// start moves b from Idle (or Error, as a retry) to Loading and runs the load in its
// own goroutine. decode turns the payload into the final state.
func (f *fetch) start(b *Base, decode func([]byte) (State, error)) {
	if f.loadFunc == nil {
		return
	}
	b.resetError()
	if !b.SetStateFrom(Idle, Loading) {
		return
	}
	ctx, cancel := context.WithCancel(f.ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.err = nil
	f.mu.Unlock()

	go func() {
		defer cancel()
		state := Empty
		payload, err := f.loadFunc(ctx, b.Coord(), f.url)
		if f.isReleased() {
			// Release already moved the tile to Empty
			return
		}
		if err == nil && len(payload) > 0 {
			state, err = decode(payload)
		}
		if err != nil {
			state = Error
			f.mu.Lock()
			f.err = err
			f.mu.Unlock()
		}
		b.SetStateFrom(Loading, state)
	}()
}

// release cancels an in-flight load. The load then ends without touching the tile.
func (f *fetch) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *fetch) isReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fetch) URL() string {
	return f.url
}

// Err is the error of the last failed load.
func (f *fetch) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
