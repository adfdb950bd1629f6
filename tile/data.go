package tile

import (
	"context"
	"sync"

	"github.com/pdok/tiler/tilecoord"
)

// DataTile keeps its payload as is, for tiles that are decoded elsewhere
// (vector tiles, elevation data).
type DataTile struct {
	Base
	fetch

	dataMu sync.Mutex
	data   []byte
}

func NewDataTile(ctx context.Context, coord tilecoord.Coord, state State, url string, loadFunc LoadFunc, options Options) *DataTile {
	t := &DataTile{}
	t.Init(t, coord, state, options)
	t.fetch.init(ctx, url, loadFunc)
	return t
}

func (t *DataTile) Data() []byte {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data
}

func (t *DataTile) Load() {
	t.start(&t.Base, func(payload []byte) (State, error) {
		t.dataMu.Lock()
		t.data = payload
		t.dataMu.Unlock()
		return Loaded, nil
	})
}

func (t *DataTile) Release() {
	t.release()
	t.SetStateFrom(Loading, Empty)
	t.Base.Release()
}
