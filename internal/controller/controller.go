// Package controller hands tiles to the renderer without blocking: cached
// tiles come back as they are, missing ones come back as placeholders while
// a load job runs in the background.
package controller

import (
	"sync"

	"go.uber.org/zap"

	"mapview/internal/cache"
	"mapview/internal/dispatcher"
	"mapview/internal/loader"
	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

// Jobs is the part of the dispatcher the controller submits to.
type Jobs interface {
	AddJob(job dispatcher.Job) bool
	CancelOutstandingJobs()
}

type Controller struct {
	cache cache.TileCache
	jobs  Jobs
	log   *zap.Logger

	mu     sync.RWMutex
	source *tilesource.Source
	loader loader.Loader
}

func New(src *tilesource.Source, tc cache.TileCache, jobs Jobs, l loader.Loader, log *zap.Logger) *Controller {
	return &Controller{
		cache:  tc,
		jobs:   jobs,
		log:    log,
		source: src,
		loader: l,
	}
}

// GetTile returns the tile at (x, y, zoom) of the current source, or nil
// when the coordinates are outside the source's grid. A tile that is not
// loaded yet is queued for loading; until then it shows a placeholder built
// from neighbouring zoom levels, or the loading image.
func (c *Controller) GetTile(x, y, zoom int) *tile.Tile {
	src, l := c.current()
	if !src.InRange(x, y, zoom) {
		return nil
	}

	t := c.cache.GetTile(src, x, y, zoom)
	if t == nil {
		var added bool
		if t, added = c.cache.AddIfAbsent(tile.New(src, x, y, zoom)); added {
			t.LoadPlaceholderFromCache(c.cache)
		}
	}
	if !t.IsLoaded() {
		c.jobs.AddJob(l.CreateJob(t))
	}
	return t
}

// Retry is the explicit request that loads an error tile again. Tiles in any
// other state are handled like GetTile.
func (c *Controller) Retry(x, y, zoom int) *tile.Tile {
	src, l := c.current()
	if !src.InRange(x, y, zoom) {
		return nil
	}

	t := c.cache.GetTile(src, x, y, zoom)
	if t == nil || !t.Reset() {
		return c.GetTile(x, y, zoom)
	}

	c.log.Debug("Retrying tile", zap.String("tile", t.Key()))
	t.LoadPlaceholderFromCache(c.cache)
	c.jobs.AddJob(l.CreateJob(t))
	return t
}

// SetTileSource switches the source. Queued jobs are dropped since they
// belong to the old source; cached tiles stay, keyed by their own source.
func (c *Controller) SetTileSource(src *tilesource.Source) {
	c.mu.Lock()
	old := c.source
	c.source = src
	c.mu.Unlock()

	if old == src {
		return
	}
	c.jobs.CancelOutstandingJobs()
	c.log.Info("Tile source changed",
		zap.Stringer("from", old),
		zap.Stringer("to", src),
	)
}

func (c *Controller) TileSource() *tilesource.Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

func (c *Controller) SetTileLoader(l loader.Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loader = l
}

func (c *Controller) TileLoader() loader.Loader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loader
}

func (c *Controller) Cache() cache.TileCache {
	return c.cache
}

func (c *Controller) current() (*tilesource.Source, loader.Loader) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source, c.loader
}
