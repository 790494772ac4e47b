// Package tile holds a single map tile and its load state.
package tile

import (
	"image"
	"maps"
	"strconv"
	"sync"

	"golang.org/x/image/draw"

	"mapview/internal/tilesource"
)

// Metadata keys written by the loaders.
const (
	MetaETag        = "etag"
	MetaTileInfo    = "tile-info"
	MetaCaptureDate = "capture-date"

	// NoTile is the tile-info value servers use for "nothing here".
	NoTile = "no-tile"
)

// Tile is one square of the map at a zoom level. Identity fields are fixed
// at construction; everything else is guarded by the tile mutex.
type Tile struct {
	source *tilesource.Source
	x, y   int
	zoom   int
	key    string

	mu    sync.RWMutex
	state State
	img   image.Image
	data  []byte
	meta  map[string]string
}

// New creates an unloaded tile showing the loading image.
func New(src *tilesource.Source, x, y, zoom int) *Tile {
	return &Tile{
		source: src,
		x:      x,
		y:      y,
		zoom:   zoom,
		key:    Key(src, x, y, zoom),
		img:    LoadingImage(src.TileSize),
	}
}

// Key identifies a tile across sources: "{zoom}/{x}/{y}@{source}".
func Key(src *tilesource.Source, x, y, zoom int) string {
	return strconv.Itoa(zoom) + "/" + strconv.Itoa(x) + "/" + strconv.Itoa(y) + "@" + src.Name
}

func (t *Tile) Source() *tilesource.Source { return t.source }
func (t *Tile) X() int                     { return t.x }
func (t *Tile) Y() int                     { return t.y }
func (t *Tile) Zoom() int                  { return t.zoom }
func (t *Tile) Key() string                { return t.key }

func (t *Tile) String() string {
	return "Tile " + t.key
}

// URL is where the tile is downloaded from.
func (t *Tile) URL() string {
	return t.source.TileURL(t.zoom, t.x, t.y)
}

func (t *Tile) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsLoaded reports whether loading has finished, successfully or not.
func (t *Tile) IsLoaded() bool {
	s := t.State()
	return s == Loaded || s == Error
}

func (t *Tile) IsLoading() bool { return t.State() == Loading }
func (t *Tile) IsError() bool   { return t.State() == Error }

// BeginLoading moves the tile into Loading unless it is already loading or
// loaded. It returns false when the caller should not load the tile.
func (t *Tile) BeginLoading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Loading || t.state == Loaded {
		return false
	}
	t.state = Loading
	return true
}

// Show replaces the visible image without finishing the load, e.g. with a
// stale disk copy while it is being revalidated.
func (t *Tile) Show(img image.Image, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.img = img
	t.data = data
}

// SetLoaded finishes the load with img. A nil img keeps the image already
// shown.
func (t *Tile) SetLoaded(img image.Image, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if img != nil {
		t.img = img
		t.data = data
	}
	t.state = Loaded
}

// SetError finishes the load with the error image.
func (t *Tile) SetError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Error
	t.img = ErrorImage(t.source.TileSize)
	t.data = nil
}

// Reset makes an error tile eligible for loading again. It reports whether
// the tile was in the error state.
func (t *Tile) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Error {
		return false
	}
	t.state = Unloaded
	t.img = LoadingImage(t.source.TileSize)
	return true
}

// Image is the currently visible image: the tile itself, a placeholder or
// one of the sentinel images.
func (t *Tile) Image() image.Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.img
}

// Data is the encoded image of the last successful fetch, if any.
func (t *Tile) Data() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data
}

// PutValue stores a metadata value. An empty value removes the key.
func (t *Tile) PutValue(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if value == "" {
		delete(t.meta, key)
		return
	}
	if t.meta == nil {
		t.meta = make(map[string]string)
	}
	t.meta[key] = value
}

func (t *Tile) Value(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta[key]
}

// Metadata returns a copy of the tile metadata.
func (t *Tile) Metadata() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.meta)
}

// Draw paints the visible image onto dst with its top-left corner at p.
func (t *Tile) Draw(dst draw.Image, p image.Point) {
	img := t.Image()
	if img == nil {
		return
	}
	b := img.Bounds()
	draw.Draw(dst, image.Rectangle{Min: p, Max: p.Add(b.Size())}, img, b.Min, draw.Over)
}
