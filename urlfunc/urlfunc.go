// Package urlfunc builds the functions that map a tile coordinate to the URL of its payload.
package urlfunc

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pdok/tiler/mathhelp"
	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tilecoord"
	"github.com/pdok/tiler/tilegrid"
)

// Func returns the URL of a tile, false when there is no tile at coord.
type Func func(coord tilecoord.Coord, pixelRatio float64, p *proj.Projection) (string, bool)

// Kind tells whether a source's URL function was derived from its URL templates or
// supplied by the user. Only derived functions are rebuilt when the URLs change.
type Kind int

const (
	Default Kind = iota
	Custom
)

func (k Kind) String() string {
	if k == Custom {
		return "custom"
	}
	return "default"
}

// Nil never yields a URL.
func Nil(tilecoord.Coord, float64, *proj.Projection) (string, bool) {
	return "", false
}

var (
	letterRange  = regexp.MustCompile(`\{([a-z])-([a-z])\}`)
	numericRange = regexp.MustCompile(`\{(\d+)-(\d+)\}`)
)

// ExpandURL expands a {a-c} letter range or a {1-4} numeric range into one URL per value.
// URLs without a range are returned as is.
func ExpandURL(url string) []string {
	if m := letterRange.FindStringSubmatch(url); m != nil {
		var urls []string
		for c := m[1][0]; c <= m[2][0]; c++ {
			urls = append(urls, strings.Replace(url, m[0], string(rune(c)), 1))
		}
		return urls
	}
	if m := numericRange.FindStringSubmatch(url); m != nil {
		start, _ := strconv.Atoi(m[1])
		stop, _ := strconv.Atoi(m[2])
		var urls []string
		for i := start; i <= stop; i++ {
			urls = append(urls, strings.Replace(url, m[0], strconv.Itoa(i), 1))
		}
		return urls
	}
	return []string{url}
}

// FromTemplate fills {z}, {x} and {y} in template. {-y} counts rows from the bottom of
// the grid's full tile range, so the grid needs an extent for templates that use it.
func FromTemplate(template string, grid *tilegrid.TileGrid) Func {
	flipY := strings.Contains(template, "{-y}")
	return func(coord tilecoord.Coord, _ float64, _ *proj.Projection) (string, bool) {
		r := strings.NewReplacer(
			"{z}", strconv.Itoa(coord.Z),
			"{x}", strconv.Itoa(coord.X),
			"{y}", strconv.Itoa(coord.Y),
		)
		url := r.Replace(template)
		if flipY {
			full := grid.FullTileRange(coord.Z)
			if full == nil {
				return "", false
			}
			url = strings.ReplaceAll(url, "{-y}", strconv.Itoa(full.Height()-coord.Y-1))
		}
		return url, true
	}
}

// FromTemplates spreads tiles over several templates by coordinate hash.
func FromTemplates(templates []string, grid *tilegrid.TileGrid) Func {
	funcs := make([]Func, len(templates))
	for i, template := range templates {
		funcs[i] = FromTemplate(template, grid)
	}
	return FromFuncs(funcs)
}

// FromFuncs picks one of funcs per tile by coordinate hash.
func FromFuncs(funcs []Func) Func {
	switch len(funcs) {
	case 0:
		return Nil
	case 1:
		return funcs[0]
	}
	return func(coord tilecoord.Coord, pixelRatio float64, p *proj.Projection) (string, bool) {
		i := mathhelp.EuclidianMod(coord.Hash(), len(funcs))
		return funcs[i](coord, pixelRatio, p)
	}
}
