// Package tilesource describes the remote tile servers a map can be drawn
// from.
package tilesource

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb/maptile"
)

const (
	DefaultTileSize = 256
	DefaultMaxZoom  = 18
	DefaultTileType = "png"
)

// Source is a tile server descriptor. It is treated as immutable once handed
// to a controller; only the {s} rotation counter changes.
//
// URL is a template with {z}, {x} and {y} placeholders and an optional {s}
// that rotates through Servers, e.g.
// "http://{s}.tile.opencyclemap.org/cycle/{z}/{x}/{y}.png". Quadtree servers
// use a single {quadkey} placeholder instead of {z}, {x} and {y}.
type Source struct {
	Name           string            `yaml:"name" validate:"required"`
	URL            string            `yaml:"url" validate:"required,tileurl"`
	Servers        []string          `yaml:"servers"`
	MinZoom        int               `yaml:"min_zoom" validate:"min=0,max=30"`
	MaxZoom        int               `yaml:"max_zoom" validate:"min=0,max=30,gtefield=MinZoom"`
	TileSize       int               `yaml:"tile_size" validate:"min=1"`
	TileType       string            `yaml:"tile_type" validate:"oneof=png jpg jpeg webp"`
	Update         UpdateStrategy    `yaml:"update"`
	Attribution    string            `yaml:"attribution"`
	AttributionURL string            `yaml:"attribution_url"`
	TermsOfUseURL  string            `yaml:"terms_of_use_url"`
	Headers        map[string]string `yaml:"headers"`

	server atomic.Uint32
}

func (s *Source) String() string {
	return s.Name
}

// TileURL expands the URL template for one tile. Each call that hits a {s}
// placeholder advances to the next server.
func (s *Source) TileURL(zoom, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(zoom),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{quadkey}", Quadkey(zoom, x, y),
	)
	url := r.Replace(s.URL)
	if strings.Contains(url, "{s}") && len(s.Servers) > 0 {
		n := s.server.Add(1) - 1
		url = strings.ReplaceAll(url, "{s}", s.Servers[int(n)%len(s.Servers)])
	}
	return url
}

// InRange reports whether the tile exists in this source's grid.
func (s *Source) InRange(x, y, zoom int) bool {
	if zoom < s.MinZoom || zoom > s.MaxZoom {
		return false
	}
	max := 1 << zoom
	return x >= 0 && y >= 0 && x < max && y < max
}

// DirName is the sanitized name used for on-disk storage.
func (s *Source) DirName() string {
	return Sanitize(s.Name)
}

// ApplyDefaults fills unset optional fields.
func (s *Source) ApplyDefaults() {
	if s.TileSize == 0 {
		s.TileSize = DefaultTileSize
	}
	if s.TileType == "" {
		s.TileType = DefaultTileType
	}
	if s.MaxZoom == 0 && s.MinZoom == 0 {
		s.MaxZoom = DefaultMaxZoom
	}
}

// Quadkey is the base-4 quadtree address of a tile, one digit per zoom
// level, as used by Bing Maps.
func Quadkey(zoom, x, y int) string {
	if zoom <= 0 {
		return ""
	}
	q := maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom)).Quadkey()
	key := strconv.FormatUint(q, 4)
	if pad := zoom - len(key); pad > 0 {
		key = strings.Repeat("0", pad) + key
	}
	return key
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("tileurl", func(fl validator.FieldLevel) bool {
		u := fl.Field().String()
		if strings.Contains(u, "{quadkey}") {
			return true
		}
		return strings.Contains(u, "{z}") && strings.Contains(u, "{x}") && strings.Contains(u, "{y}")
	})
	return v
}

// Validate checks the descriptor is usable.
func (s *Source) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("tile source %q: %w", s.Name, err)
	}
	if strings.Contains(s.URL, "{s}") && len(s.Servers) == 0 {
		return fmt.Errorf("tile source %q: url uses {s} but no servers are listed", s.Name)
	}
	return nil
}

var sanitizer = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// Sanitize replaces characters that are not allowed in file names.
func Sanitize(name string) string {
	return sanitizer.Replace(name)
}
