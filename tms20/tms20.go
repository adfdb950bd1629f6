// Package tms20 reads OGC Tile Matrix Set (v2.0) documents and turns them into tile grids.
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/exp/maps"

	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/tilegrid"
)

var (
	//go:embed tilematrixsets/*.json
	embeddedTileMatrixSetsJSONFS embed.FS
	embeddedTileMatrixSetsCache  = make(map[string]*TileMatrixSet)
	embeddedTileMatrixSetsMu     sync.Mutex
)

var ErrUnsupported = errors.New("unsupported tile matrix set")

// EmbeddedIDs lists the tile matrix sets shipped with the binary.
func EmbeddedIDs() []string {
	entries, err := embeddedTileMatrixSetsJSONFS.ReadDir("tilematrixsets")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids
}

func LoadJSONTileMatrixSet(path string) (TileMatrixSet, error) {
	var tms TileMatrixSet
	tmsJSON, err := os.ReadFile(path)
	if err != nil {
		return tms, err
	}
	err = json.Unmarshal(tmsJSON, &tms)
	return tms, err
}

func LoadEmbeddedTileMatrixSet(id string) (TileMatrixSet, error) {
	embeddedTileMatrixSetsMu.Lock()
	defer embeddedTileMatrixSetsMu.Unlock()
	if cached, ok := embeddedTileMatrixSetsCache[id]; ok {
		tms := *cached
		tms.TileMatrices = maps.Clone(cached.TileMatrices)
		return tms, nil
	}
	var tms TileMatrixSet
	tmsJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + id + ".json")
	if err != nil {
		return tms, err
	}
	if err = json.Unmarshal(tmsJSON, &tms); err != nil {
		return tms, err
	}
	cached := tms
	cached.TileMatrices = maps.Clone(tms.TileMatrices)
	embeddedTileMatrixSetsCache[id] = &cached
	return tms, nil
}

// TileMatrixSet is a definition of a tile matrix set following the Tile Matrix Set standard.
type TileMatrixSet struct {
	// Tile matrix set identifier
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Reference to an official source for this TileMatrixSet
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
	CRS         CRS      `validate:"required" json:"-"`
	// Minimum bounding rectangle surrounding the tile matrix set, in the supported CRS
	BoundingBox *TwoDBoundingBox `json:"boundingBox,omitempty"`
	// Tile matrices by zoom level
	TileMatrices map[int]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) MarshalJSON() ([]byte, error) {
	zooms := tms.Zooms()
	tileMatrices := make([]*TileMatrix, 0, len(zooms))
	for _, z := range zooms {
		tm := tms.TileMatrices[z]
		tileMatrices = append(tileMatrices, &tm)
	}
	return json.Marshal(struct {
		TileMatrixSet                     // not a pointer, because it would cause recursion to this function
		SpecialCRS          *CRS          `json:"crs"`
		SpecialTileMatrices []*TileMatrix `json:"tileMatrices"`
	}{
		TileMatrixSet:       *tms,
		SpecialCRS:          &tms.CRS,
		SpecialTileMatrices: tileMatrices,
	})
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(tms)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	tms.CRS, err = unmarshalCRS(rawCrs)
	if err != nil {
		return err
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices interface{}) (map[int]TileMatrix, error) {
	rawTileMatricesList, ok := rawTileMatrices.([]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[int]TileMatrix, len(rawTileMatricesList))
	for _, rawTileMatrix := range rawTileMatricesList {
		var tileMatrix TileMatrix
		if err := tileMatrix.UnmarshalJSONFromMap(rawTileMatrix); err != nil {
			return nil, err
		}
		tileMatrixID, err := strconv.ParseInt(tileMatrix.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[int(tileMatrixID)] = tileMatrix
	}
	return tileMatrices, nil
}

// Zooms returns the zoom levels in ascending order.
func (tms *TileMatrixSet) Zooms() []int {
	zooms := make([]int, 0, len(tms.TileMatrices))
	for z := range tms.TileMatrices {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)
	return zooms
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$")
)

// CRS is a coordinate reference system referenced by URI. Inline WKT definitions are not supported.
type CRS struct {
	Description   string
	URI           string `validate:"required"`
	AuthorityName string `validate:"required"`
	AuthorityCode string `validate:"required"`
	// Whether it should be marshalled as just a string
	asString bool
}

func unmarshalCRS(rawCrs interface{}) (CRS, error) {
	var crs CRS
	if s, ok := rawCrs.(string); ok {
		crs.asString = true
		rawCrs = map[string]interface{}{"uri": s}
	}
	err := crs.UnmarshalJSONFromMap(rawCrs)
	return crs, err
}

func (crs *CRS) MarshalJSON() ([]byte, error) {
	if crs.asString {
		return json.Marshal(crs.URI)
	}
	return json.Marshal(struct {
		Description string `json:"description,omitempty"`
		URI         string `json:"uri"`
	}{
		Description: crs.Description,
		URI:         crs.URI,
	})
}

func (crs *CRS) UnmarshalJSONFromMap(data interface{}) error {
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`crs is not a string or map but a %T`, data)
	}

	if rawDescription, ok := dataMap["description"]; ok {
		crs.Description, ok = rawDescription.(string)
		if !ok {
			return fmt.Errorf(`description property is not a string but a %T`, rawDescription)
		}
	}

	rawURI, ok := dataMap["uri"]
	if !ok {
		return fmt.Errorf(`%w: crs without uri`, ErrUnsupported)
	}
	crs.URI, ok = rawURI.(string)
	if !ok {
		return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
	}

	uriParts := crsURIRegexURL.FindStringSubmatch(crs.URI)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(crs.URI)
	}
	if uriParts == nil {
		return fmt.Errorf(`could not parse crs uri "%v"`, crs.URI)
	}
	crs.AuthorityName = uriParts[1]
	crs.AuthorityCode = uriParts[2]

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(crs)
}

// Code is the "AUTHORITY:CODE" form the proj registry knows projections by.
func (crs *CRS) Code() string {
	return crs.AuthorityName + ":" + crs.AuthorityCode
}

// Minimum bounding rectangle surrounding a 2D resource in the CRS indicated elsewhere
type TwoDBoundingBox struct {
	LowerLeft   TwoDPoint `json:"lowerLeft"`
	UpperRight  TwoDPoint `json:"upperRight"`
	CRS         *CRS      `json:"-"`
	OrderedAxes []string  `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
}

func (bb *TwoDBoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TwoDBoundingBox      // not a pointer, because it would cause recursion to this function
		SpecialCRS      *CRS `json:"crs,omitempty"`
	}{
		TwoDBoundingBox: *bb,
		SpecialCRS:      bb.CRS,
	})
}

func (bb *TwoDBoundingBox) UnmarshalJSON(data []byte) error {
	specials, err := marshmallow.Unmarshal(data, bb, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	if rawCrs, ok := specials["crs"]; ok {
		crs, err := unmarshalCRS(rawCrs)
		if err != nil {
			return err
		}
		bb.CRS = &crs
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(bb)
}

func (bb *TwoDBoundingBox) Extent() geom.Extent {
	return geom.Extent{bb.LowerLeft[0], bb.LowerLeft[1], bb.UpperRight[0], bb.UpperRight[1]}
}

// A 2D Point in the CRS indicated elsewhere
type TwoDPoint [2]float64

func (p TwoDPoint) XY() [2]float64 {
	return p
}

// A tile matrix, usually corresponding to a particular zoom level of a TileMatrixSet.
type TileMatrix struct {
	// Identifier selecting one of the scales defined in the TileMatrixSet
	ID          string   `validate:"required" json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Scale denominator of this tile matrix
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// Cell size of this tile matrix, in CRS units per pixel
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner of the tile matrix (_topLeft_ or _bottomLeft_) used as the origin for numbering tile rows and columns.
	CornerOfOrigin CornerOfOrigin `validate:"omitempty,oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	// Position in CRS coordinates of the corner of origin. This position is also a corner of the (0, 0) tile.
	PointOfOrigin TwoDPoint `json:"pointOfOrigin"`
	TileWidth     uint      `validate:"required,min=1" json:"tileWidth"`
	TileHeight    uint      `validate:"required,min=1" json:"tileHeight"`
	// Number of tiles in width
	MatrixWidth uint `validate:"required,min=1" json:"matrixWidth"`
	// Number of tiles in height
	MatrixHeight         uint                  `validate:"required,min=1" json:"matrixHeight"`
	VariableMatrixWidths []VariableMatrixWidth `json:"variableMatrixWidths,omitempty"`
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data interface{}) error {
	err := defaults.Set(tm)
	if err != nil {
		return err
	}
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`tile matrix is not a map but a %T`, data)
	}
	_, err = marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

func (tm *TileMatrix) tileSpan() (float64, float64) {
	return float64(tm.TileWidth) * tm.CellSize, float64(tm.TileHeight) * tm.CellSize
}

// topLeft is the top-left corner of the matrix, whatever its corner of origin.
func (tm *TileMatrix) topLeft() geom.Point {
	_, spanY := tm.tileSpan()
	origin := tm.PointOfOrigin.XY()
	if tm.CornerOfOrigin == BottomLeft {
		return geom.Point{origin[0], origin[1] + float64(tm.MatrixHeight)*spanY}
	}
	return geom.Point{origin[0], origin[1]}
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

func (c *CornerOfOrigin) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return c.UnmarshalJSONFromMap(s)
}

func (c *CornerOfOrigin) UnmarshalJSONFromMap(data interface{}) error {
	dataString, ok := data.(string)
	if !ok {
		return fmt.Errorf(`CornerOfOrigin data is not a string but a %T`, data)
	}
	switch dataString {
	case "", string(TopLeft):
		*c = CornerOfOrigin(dataString)
	case string(BottomLeft):
		*c = BottomLeft
	default:
		return fmt.Errorf(`unknown CornerOfOrigin: %v`, data)
	}
	return nil
}

// Variable Matrix Width data structure
type VariableMatrixWidth struct {
	Coalesce   uint `validate:"required,min=2" json:"coalesce"`
	MinTileRow uint `validate:"min=0" json:"minTileRow"`
	MaxTileRow uint `validate:"min=0" json:"maxTileRow"`
}

// SRID is the numeric authority code of the CRS, if it has one.
func (tms *TileMatrixSet) SRID() (uint, error) {
	code, err := strconv.ParseUint(tms.CRS.AuthorityCode, 10, 64)
	if err != nil {
		return 0, fmt.Errorf(`crs authority code "%s" is not numeric: %w`, tms.CRS.AuthorityCode, err)
	}
	return uint(code), nil
}

// Projection looks up the CRS in r, first by "AUTHORITY:CODE" and then by URI.
func (tms *TileMatrixSet) Projection(r *proj.Registry) (*proj.Projection, error) {
	p, err := r.Get(tms.CRS.Code())
	if err == nil {
		return p, nil
	}
	return r.Get(tms.CRS.URI)
}

func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

// FromNative returns the tile (in the matrix's own row numbering) containing pt.
func (tms *TileMatrixSet) FromNative(zoom uint, pt geom.Point) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok || tm.VariableMatrixWidths != nil {
		return nil, false
	}
	spanX, spanY := tm.tileSpan()
	origin := tm.PointOfOrigin.XY()
	x := (pt.X() - origin[0]) / spanX
	var y float64
	if tm.CornerOfOrigin == BottomLeft {
		y = (pt.Y() - origin[1]) / spanY
	} else {
		y = (origin[1] - pt.Y()) / spanY
	}
	if x < 0 || y < 0 || uint(x) >= tm.MatrixWidth || uint(y) >= tm.MatrixHeight {
		return nil, false
	}
	return slippy.NewTile(zoom, uint(x), uint(y)), true
}

// ToNative returns the top-left corner of tile.
func (tms *TileMatrixSet) ToNative(tile *slippy.Tile) (geom.Point, bool) {
	tm, ok := tms.TileMatrices[int(tile.Z)]
	if !ok {
		return geom.Point{}, false
	}
	// one past the last column/row is allowed, that corner closes the matrix
	if tile.X > tm.MatrixWidth || tile.Y > tm.MatrixHeight {
		return geom.Point{}, false
	}
	spanX, spanY := tm.tileSpan()
	origin := tm.PointOfOrigin.XY()
	pt := geom.Point{origin[0] + float64(tile.X)*spanX, 0}
	if tm.CornerOfOrigin == BottomLeft {
		pt[1] = origin[1] + float64(tile.Y+1)*spanY
	} else {
		pt[1] = origin[1] - float64(tile.Y)*spanY
	}
	return pt, true
}

// NativeRange returns the first and last tile, in the matrix's own numbering, of the
// tiles covering e at zoom. It reports false when e reaches outside the matrix.
func (tms *TileMatrixSet) NativeRange(zoom uint, e geom.Extent) (*slippy.Tile, *slippy.Tile, bool) {
	// edges on a tile boundary only touch the tile beyond it
	lower := geom.Point{e.MinX(), math.Nextafter(e.MinY(), math.Inf(1))}
	upper := geom.Point{math.Nextafter(e.MaxX(), math.Inf(-1)), math.Nextafter(e.MaxY(), math.Inf(-1))}
	a, ok := tms.FromNative(zoom, lower)
	if !ok {
		return nil, nil, false
	}
	b, ok := tms.FromNative(zoom, upper)
	if !ok {
		return nil, nil, false
	}
	return slippy.NewTile(zoom, min(a.X, b.X), min(a.Y, b.Y)), slippy.NewTile(zoom, max(a.X, b.X), max(a.Y, b.Y)), true
}

// TileGrid converts the set into a grid. Rows of the grid always count downwards from
// the top-left corner; for bottom-left matrices the row order is flipped.
// Zoom levels must be contiguous from 0.
func (tms *TileMatrixSet) TileGrid() (*tilegrid.TileGrid, error) {
	zooms := tms.Zooms()
	n := len(zooms)
	if n == 0 {
		return nil, fmt.Errorf("%w: %s has no tile matrices", ErrUnsupported, tms.ID)
	}
	resolutions := make([]float64, n)
	origins := make([]geom.Point, n)
	tileSizes := make([]tilegrid.Size, n)
	sizes := make([]tilegrid.Size, n)
	for i, z := range zooms {
		if z != i {
			return nil, fmt.Errorf("%w: %s has no tile matrix for zoom %d", ErrUnsupported, tms.ID, i)
		}
		tm := tms.TileMatrices[z]
		if tm.VariableMatrixWidths != nil {
			return nil, fmt.Errorf("%w: variable matrix widths in %s at zoom %d", ErrUnsupported, tms.ID, z)
		}
		resolutions[i] = tm.CellSize
		origins[i] = tm.topLeft()
		tileSizes[i] = tilegrid.Size{int(tm.TileWidth), int(tm.TileHeight)}
		sizes[i] = tilegrid.Size{int(tm.MatrixWidth), int(tm.MatrixHeight)}
	}
	options := tilegrid.Options{Resolutions: resolutions, Sizes: sizes}
	if allEqual(origins) {
		options.Origin = &origins[0]
	} else {
		options.Origins = origins
	}
	if allEqual(tileSizes) {
		options.TileSize = &tileSizes[0]
	} else {
		options.TileSizes = tileSizes
	}
	if tms.BoundingBox != nil {
		extent := tms.BoundingBox.Extent()
		options.Extent = &extent
	}
	return tilegrid.New(options)
}

func allEqual[T comparable](s []T) bool {
	for _, v := range s[1:] {
		if v != s[0] {
			return false
		}
	}
	return true
}
