package proj

import (
	"math"

	"github.com/go-spatial/geom"
)

const (
	EPSG3857 = "EPSG:3857"
	EPSG4326 = "EPSG:4326"
	EPSG2056 = "EPSG:2056"

	// WebMercatorRadius is the WGS84 semi-major axis used by web mercator.
	WebMercatorRadius = 6378137.0
	halfSize          = math.Pi * WebMercatorRadius
	maxSafeY          = halfSize
)

var webMercatorAliases = []string{
	"EPSG:102100",
	"EPSG:102113",
	"EPSG:900913",
	"http://www.opengis.net/def/crs/EPSG/0/3857",
	"urn:ogc:def:crs:EPSG::3857",
}

func WebMercator() *Projection {
	return &Projection{
		Code:            EPSG3857,
		Units:           Meters,
		Extent:          geom.Extent{-halfSize, -halfSize, halfSize, halfSize},
		WorldExtent:     geom.Extent{-180, -85, 180, 85},
		AxisOrientation: ENU,
		Global:          true,
		ToLonLat:        webMercatorToLonLat,
		FromLonLat:      webMercatorFromLonLat,
	}
}

func webMercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = 180 * x / halfSize
	lat = 360*math.Atan(math.Exp(y/WebMercatorRadius))/math.Pi - 90
	return lon, lat
}

func webMercatorFromLonLat(lon, lat float64) (x, y float64) {
	x = WebMercatorRadius * math.Pi * lon / 180
	y = WebMercatorRadius * math.Log(math.Tan(math.Pi*(+lat+90)/360))
	if y > maxSafeY {
		y = maxSafeY
	} else if y < -maxSafeY {
		y = -maxSafeY
	}
	return x, y
}

// WGS84 is EPSG:4326 with lon/lat handled in x/y order.
func WGS84() *Projection {
	return &Projection{
		Code:            EPSG4326,
		Units:           Degrees,
		Extent:          geom.Extent{-180, -90, 180, 90},
		WorldExtent:     geom.Extent{-180, -90, 180, 90},
		AxisOrientation: NEU,
		Global:          true,
		ToLonLat:        identity,
		FromLonLat:      identity,
	}
}

// SwissLV95 is EPSG:2056 (CH1903+ / LV95), using swisstopo's published
// polynomial approximation (about 1 meter accuracy).
func SwissLV95() *Projection {
	return &Projection{
		Code:            EPSG2056,
		Units:           Meters,
		Extent:          geom.Extent{2485071.58, 1074261.72, 2837119.8, 1299941.79},
		WorldExtent:     geom.Extent{5.96, 45.82, 10.49, 47.81},
		AxisOrientation: ENU,
		ToLonLat:        swissToLonLat,
		FromLonLat:      swissFromLonLat,
	}
}

func swissToLonLat(easting, northing float64) (lon, lat float64) {
	// auxiliary values in 1000 km units relative to Bern
	y := (easting - 2_600_000) / 1_000_000
	x := (northing - 1_200_000) / 1_000_000

	lonSec := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	latSec := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x

	return lonSec * 100.0 / 36.0, latSec * 100.0 / 36.0
}

func swissFromLonLat(lon, lat float64) (easting, northing float64) {
	phiAux := (lat*3600 - 169028.66) / 10000
	lambdaAux := (lon*3600 - 26782.5) / 10000

	easting = 2_600_072.37 +
		211_455.93*lambdaAux -
		10_938.51*lambdaAux*phiAux -
		0.36*lambdaAux*phiAux*phiAux -
		44.54*lambdaAux*lambdaAux*lambdaAux
	northing = 1_200_147.07 +
		308_807.95*phiAux +
		3_745.25*lambdaAux*lambdaAux +
		76.63*phiAux*phiAux -
		194.56*lambdaAux*lambdaAux*phiAux +
		119.79*phiAux*phiAux*phiAux
	return easting, northing
}
