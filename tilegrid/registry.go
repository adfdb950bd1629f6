package tilegrid

import (
	"sync"

	"github.com/pdok/tiler/proj"
)

// Registry memoizes the default grid per projection code. Building a grid from a
// projection is not free, so every source asking for the same projection shares one.
type Registry struct {
	mu       sync.Mutex
	grids    map[string]*TileGrid
	maxZoom  int
	tileSize Size
}

func NewRegistry() *Registry {
	return &Registry{
		grids:    make(map[string]*TileGrid),
		maxZoom:  DefaultMaxZoom,
		tileSize: Size{DefaultTileSize, DefaultTileSize},
	}
}

// ForProjection returns the registered grid for p, creating the default one on first use.
func (r *Registry) ForProjection(p *proj.Projection) (*TileGrid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.grids[p.Code]; ok {
		return g, nil
	}
	g, err := ForProjection(p, r.maxZoom, r.tileSize)
	if err != nil {
		return nil, err
	}
	r.grids[p.Code] = g
	return g, nil
}

// Set registers g as the grid for p, replacing any memoized one.
func (r *Registry) Set(p *proj.Projection, g *TileGrid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grids[p.Code] = g
}

func (r *Registry) Get(p *proj.Projection) (*TileGrid, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grids[p.Code]
	return g, ok
}
