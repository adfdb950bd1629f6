// Package export writes fetched tiles to tile stores that the loaders can read back.
package export

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-spatial/geom"

	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecoord"
)

var ErrNoSRID = errors.New("projection has no numeric EPSG code")

// Record is a tile that reached a terminal state. Data is empty for tiles that had
// nothing to load, or failed.
type Record struct {
	Coord  tilecoord.Coord
	Extent geom.Extent
	State  tile.State
	Data   []byte
}

type Target interface {
	WriteRecords(<-chan Record) error
}

// WriteToTargets copies every record to all targets, each written in its own goroutine.
func WriteToTargets(records <-chan Record, targets ...Target) error {
	channels := make([]chan Record, len(targets))
	errs := make([]error, len(targets))
	wg := sync.WaitGroup{}

	for i, target := range targets {
		channels[i] = make(chan Record)
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			errs[i] = target.WriteRecords(channels[i])
			// keep draining so the other targets don't block
			for range channels[i] {
			}
		}(i, target)
	}

	for r := range records {
		for _, c := range channels {
			c <- r
		}
	}
	for _, c := range channels {
		close(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// SRID is the numeric part of an EPSG code.
func SRID(p *proj.Projection) (int32, error) {
	authority, code, ok := strings.Cut(p.Code, ":")
	if !ok || authority != "EPSG" {
		return 0, fmt.Errorf("%w: %s", ErrNoSRID, p.Code)
	}
	id, err := strconv.ParseInt(code, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNoSRID, p.Code)
	}
	return int32(id), nil
}

// sortPage orders records by zoom level and Z-order, so that inserts touch
// neighbouring index pages.
func sortPage(page []Record) {
	sort.SliceStable(page, func(i, j int) bool {
		a, b := page[i].Coord, page[j].Coord
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		za, okA := a.Morton()
		zb, okB := b.Morton()
		if okA != okB {
			return okA
		}
		return za < zb
	})
}
