package cache

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

// TileCache holds the tiles currently known to the map, loaded or not.
type TileCache interface {
	// AddTile inserts or replaces t and makes it the most recently used.
	AddTile(t *tile.Tile)
	// AddIfAbsent inserts t unless a tile with its key is cached. It returns
	// the resident tile and whether t was the one inserted.
	AddIfAbsent(t *tile.Tile) (*tile.Tile, bool)
	// GetTile returns the cached tile or nil. Only loaded tiles are promoted.
	GetTile(src *tilesource.Source, x, y, zoom int) *tile.Tile
	Len() int
	Capacity() int
	Clear()
}

// ErrNotFound is returned by a Store that has nothing for a key.
var ErrNotFound = errors.New("tile not found in store")

// StoreKey addresses one tile in a persistent store.
type StoreKey struct {
	Source string // sanitized source name
	Zoom   int
	X      int
	Y      int
	Ext    string
}

// KeyFor builds the store key of t.
func KeyFor(t *tile.Tile) StoreKey {
	return StoreKey{
		Source: t.Source().DirName(),
		Zoom:   t.Zoom(),
		X:      t.X(),
		Y:      t.Y(),
		Ext:    t.Source().TileType,
	}
}

// BaseName is "{zoom}_{x}_{y}".
func (k StoreKey) BaseName() string {
	return strconv.Itoa(k.Zoom) + "_" + strconv.Itoa(k.X) + "_" + strconv.Itoa(k.Y)
}

// Entry is what a store knows about a tile. Data is nil when only tags were
// stored.
type Entry struct {
	Data    []byte
	Tags    map[string]string
	ModTime time.Time
}

// Store persists encoded tiles and their tags across runs.
type Store interface {
	// Load returns ErrNotFound when neither image nor tags are stored.
	Load(ctx context.Context, key StoreKey) (*Entry, error)
	SaveData(ctx context.Context, key StoreKey, data []byte) error
	// SaveTags replaces the stored tags; empty tags remove them.
	SaveTags(ctx context.Context, key StoreKey, tags map[string]string) error
	// Touch marks the stored tile as fresh.
	Touch(ctx context.Context, key StoreKey) error
	// Delete removes the stored image, keeping the tags.
	Delete(ctx context.Context, key StoreKey) error
	io.Closer
}
