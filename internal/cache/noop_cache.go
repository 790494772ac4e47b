package cache

import (
	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

// NoopCache never retains tiles; every request goes to the loader.
type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) AddTile(t *tile.Tile) {
}

func (c *NoopCache) AddIfAbsent(t *tile.Tile) (*tile.Tile, bool) {
	return t, true
}

func (c *NoopCache) GetTile(src *tilesource.Source, x, y, zoom int) *tile.Tile {
	return nil
}

func (c *NoopCache) Len() int {
	return 0
}

func (c *NoopCache) Capacity() int {
	return 0
}

func (c *NoopCache) Clear() {
}
