// Package proj describes the coordinate reference systems tiles are requested in
// and converts coordinates between them through WGS84.
package proj

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-spatial/geom"
)

var ErrUnknownProjection = errors.New("unknown projection")

type Units string

const (
	Meters   Units = "m"
	Degrees  Units = "degrees"
	Feet     Units = "ft"
	USFeet   Units = "us-ft"
	Pixels   Units = "pixels"
	TileUnit Units = "tile-pixels"
)

// EarthRadius is the radius of the normal sphere used for degree -> meter conversion.
const EarthRadius = 6370997.0

var metersPerUnit = map[Units]float64{
	Degrees: (2 * math.Pi * EarthRadius) / 360,
	Feet:    0.3048,
	Meters:  1,
	USFeet:  1200.0 / 3937,
}

type AxisOrientation string

const (
	ENU AxisOrientation = "enu"
	NEU AxisOrientation = "neu"
)

// LonLatFunc converts between the native coordinates of a projection and WGS84.
type LonLatFunc func(x, y float64) (float64, float64)

// Projection is a CRS with the properties tile grids need.
type Projection struct {
	Code            string
	Units           Units
	Extent          geom.Extent // zero value means unknown
	WorldExtent     geom.Extent
	AxisOrientation AxisOrientation
	Global          bool
	// MetersPerUnitOverride wins over the value derived from Units when non-zero.
	MetersPerUnitOverride float64

	ToLonLat   LonLatFunc
	FromLonLat LonLatFunc
}

func (p *Projection) String() string {
	return p.Code
}

func (p *Projection) HasExtent() bool {
	return p.Extent != geom.Extent{}
}

func (p *Projection) MetersPerUnit() float64 {
	if p.MetersPerUnitOverride != 0 {
		return p.MetersPerUnitOverride
	}
	return metersPerUnit[p.Units]
}

func (p *Projection) Axis() AxisOrientation {
	if p.AxisOrientation == "" {
		return ENU
	}
	return p.AxisOrientation
}

// Registry maps codes (and aliases) to projections.
type Registry struct {
	mu          sync.RWMutex
	projections map[string]*Projection
}

func NewRegistry() *Registry {
	r := &Registry{projections: make(map[string]*Projection)}
	for _, p := range []*Projection{WebMercator(), WGS84(), SwissLV95()} {
		r.Add(p)
	}
	for _, alias := range webMercatorAliases {
		r.AddAlias(alias, EPSG3857)
	}
	r.AddAlias("CRS:84", EPSG4326)
	r.AddAlias("OGC:CRS84", EPSG4326)
	r.AddAlias("urn:ogc:def:crs:OGC:1.3:CRS84", EPSG4326)
	r.AddAlias("http://www.opengis.net/def/crs/OGC/1.3/CRS84", EPSG4326)
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process wide registry with the built-in projections.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) Add(p *Projection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projections[normalizeCode(p.Code)] = p
}

func (r *Registry) AddAlias(alias, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projections[normalizeCode(code)]; ok {
		r.projections[normalizeCode(alias)] = p
	}
}

func (r *Registry) Get(code string) (*Projection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projections[normalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProjection, code)
	}
	return p, nil
}

// Get looks up a projection in the default registry.
func Get(code string) (*Projection, error) {
	return defaultRegistry.Get(code)
}

func MustGet(code string) *Projection {
	p, err := Get(code)
	if err != nil {
		panic(err)
	}
	return p
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Equivalent is true for the same projection, or two projections that share units
// and convert to WGS84 the same way (aliases of one CRS).
func Equivalent(a, b *Projection) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if normalizeCode(a.Code) == normalizeCode(b.Code) {
		return true
	}
	if a.Units != b.Units {
		return false
	}
	return sameTransform(a, b)
}

func sameTransform(a, b *Projection) bool {
	if a.ToLonLat == nil || b.ToLonLat == nil {
		return false
	}
	probes := [][2]float64{{0, 0}, {1000, 1000}, {-12345.6, 5432.1}}
	for _, pt := range probes {
		ax, ay := a.ToLonLat(pt[0], pt[1])
		bx, by := b.ToLonLat(pt[0], pt[1])
		if math.Abs(ax-bx) > 1e-9 || math.Abs(ay-by) > 1e-9 {
			return false
		}
	}
	return true
}

// TransformFunc converts a coordinate from one projection into another.
type TransformFunc func(x, y float64) (float64, float64)

func identity(x, y float64) (float64, float64) { return x, y }

// Transform builds the conversion src -> dst, going through WGS84 longitude/latitude.
func Transform(src, dst *Projection) (TransformFunc, error) {
	if Equivalent(src, dst) {
		return identity, nil
	}
	if src.ToLonLat == nil || dst.FromLonLat == nil {
		return nil, fmt.Errorf("no transform from %s to %s", src.Code, dst.Code)
	}
	return func(x, y float64) (float64, float64) {
		lon, lat := src.ToLonLat(x, y)
		return dst.FromLonLat(lon, lat)
	}, nil
}

// TransformExtent transforms an extent by sampling n points along each edge,
// so curved edges in the destination are covered.
func TransformExtent(extent geom.Extent, f TransformFunc, n int) geom.Extent {
	if n < 1 {
		n = 1
	}
	out := geom.Extent{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	add := func(x, y float64) {
		tx, ty := f(x, y)
		if math.IsNaN(tx) || math.IsNaN(ty) || math.IsInf(tx, 0) || math.IsInf(ty, 0) {
			return
		}
		out[0] = math.Min(out[0], tx)
		out[1] = math.Min(out[1], ty)
		out[2] = math.Max(out[2], tx)
		out[3] = math.Max(out[3], ty)
	}
	width := extent.XSpan()
	height := extent.YSpan()
	for i := 0; i <= n; i++ {
		fx := extent.MinX() + width*float64(i)/float64(n)
		fy := extent.MinY() + height*float64(i)/float64(n)
		add(fx, extent.MinY())
		add(fx, extent.MaxY())
		add(extent.MinX(), fy)
		add(extent.MaxX(), fy)
	}
	return out
}
