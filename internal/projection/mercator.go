// Package projection converts between geographic coordinates and pixel
// positions on the spherical-Mercator tile grid.
package projection

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// TileSize is the pixel width and height of one tile. Pixel positions
	// always use this 256 grid; a source with other tile sizes still numbers
	// its tiles the same way, so only its image scale differs.
	TileSize = 256

	// MaxLatitude is the spherical-Mercator bound; the projection is
	// undefined beyond it.
	MaxLatitude = 85.05112877980659
	MinLatitude = -MaxLatitude

	fullCircle = 360.0
	halfCircle = 180.0

	// pixelEpsilon absorbs the rounding of XToLongitude so that pixel
	// boundaries map back onto themselves at every practical zoom.
	pixelEpsilon = 1e-6
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

func (c Coordinate) String() string {
	return fmt.Sprintf("Coordinate (lat,lon) [%g, %g]", c.Lat, c.Lon)
}

// Point returns the coordinate as an orb point (lon, lat).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// MaxPixels is the pixel extent of the whole map at zoom, TileSize * 2^zoom.
func MaxPixels(zoom int) int {
	return TileSize * (1 << zoom)
}

func radius(zoom int) float64 {
	return float64(MaxPixels(zoom)) / (2.0 * math.Pi)
}

func falseNorthing(zoom int) int {
	return -1 * MaxPixels(zoom) / 2
}

// LongitudeToX maps a longitude onto [0, MaxPixels(zoom)).
func LongitudeToX(lon float64, zoom int) int {
	mp := MaxPixels(zoom)
	x := int(math.Floor(float64(mp)*(lon+halfCircle)/fullCircle + pixelEpsilon))
	return max(0, min(x, mp-1))
}

// LatitudeToY maps a latitude onto [0, MaxPixels(zoom)). North is y=0.
func LatitudeToY(lat float64, zoom int) int {
	lat = max(MinLatitude, min(lat, MaxLatitude))

	sinLat := math.Sin(lat * math.Pi / 180.0)
	l := math.Log((1.0 + sinLat) / (1.0 - sinLat))
	mp := MaxPixels(zoom)
	y := int(float64(mp) * (0.5 - l/(4.0*math.Pi)))
	return max(0, min(y, mp-1))
}

// XToLongitude is the exact inverse of LongitudeToX on pixel boundaries.
func XToLongitude(x, zoom int) float64 {
	return fullCircle*float64(x)/float64(MaxPixels(zoom)) - halfCircle
}

// YToLatitude inverts LatitudeToY. Near the poles the round trip is lossy.
func YToLatitude(y, zoom int) float64 {
	yc := float64(y + falseNorthing(zoom))
	lat := math.Pi/2 - 2*math.Atan(math.Exp(-1.0*yc/radius(zoom)))
	return -1 * lat * 180.0 / math.Pi
}

// TileAt returns the tile containing c at zoom.
func TileAt(c Coordinate, zoom int) maptile.Tile {
	x := LongitudeToX(c.Lon, zoom) / TileSize
	y := LatitudeToY(c.Lat, zoom) / TileSize
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom))
}

// TilesAround returns the tiles within radius tiles of c at zoom, skipping
// rows and columns that fall off the grid.
func TilesAround(c Coordinate, zoom, radius int) []maptile.Tile {
	center := TileAt(c, zoom)
	n := int64(1) << zoom

	var tiles []maptile.Tile
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			x := int64(center.X) + int64(dx)
			y := int64(center.Y) + int64(dy)
			if x < 0 || y < 0 || x >= n || y >= n {
				continue
			}
			tiles = append(tiles, maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom)))
		}
	}
	return tiles
}

// TileBounds is the lon/lat box covered by t.
func TileBounds(t maptile.Tile) orb.Bound {
	return t.Bound()
}
