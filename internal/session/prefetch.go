package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"mapview/internal/projection"
	"mapview/internal/tile"
)

// PrefetchRequest describes the tiles around a coordinate to warm up.
type PrefetchRequest struct {
	Center  projection.Coordinate
	MinZoom int
	MaxZoom int
	Radius  int
	// Workers bounds concurrent loads; the dispatcher queue is not used.
	Workers int
}

// Prefetch loads the tiles within Radius of Center for each zoom level of
// the current source and waits for them. It returns the number of tiles it
// loaded; tiles already loaded are skipped.
func (s *Session) Prefetch(ctx context.Context, req PrefetchRequest) int {
	src := s.controller.TileSource()
	l := s.controller.TileLoader()

	minZoom := max(req.MinZoom, src.MinZoom)
	maxZoom := min(req.MaxZoom, src.MaxZoom)
	workerLimit := req.Workers
	if workerLimit <= 0 {
		workerLimit = 1
	}

	s.log.Info("Starting tile prefetch",
		zap.String("source", src.Name),
		zap.Stringer("center", req.Center),
		zap.Int("min_zoom", minZoom),
		zap.Int("max_zoom", maxZoom),
		zap.Int("radius", req.Radius),
	)

	workerChan := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	loaded := 0

loop:
	for z := minZoom; z <= maxZoom; z++ {
		for _, mt := range projection.TilesAround(req.Center, z, req.Radius) {
			x, y := int(mt.X), int(mt.Y)
			t := s.cache.GetTile(src, x, y, z)
			if t != nil && t.IsLoaded() {
				continue
			}
			if t == nil {
				t, _ = s.cache.AddIfAbsent(tile.New(src, x, y, z))
			}

			select {
			case workerChan <- struct{}{}:
			case <-ctx.Done():
				break loop
			}
			wg.Add(1)
			go func(t *tile.Tile) {
				defer wg.Done()
				defer func() { <-workerChan }()

				l.CreateJob(t).Run(ctx)
				if t.State() == tile.Loaded {
					mu.Lock()
					loaded++
					mu.Unlock()
				}
			}(t)
		}
	}

	wg.Wait()
	s.log.Info("Tile prefetch completed", zap.Int("loaded", loaded))
	return loaded
}

// PrefetchConfigured runs the prefetch described by the configuration, if
// enabled.
func (s *Session) PrefetchConfigured(ctx context.Context) int {
	p := s.cfg.Prefetch
	if !p.Enabled {
		return 0
	}
	return s.Prefetch(ctx, PrefetchRequest{
		Center:  projection.Coordinate{Lat: p.Lat, Lon: p.Lon},
		MinZoom: p.MinZoom,
		MaxZoom: p.MaxZoom,
		Radius:  p.Radius,
		Workers: s.cfg.Workers.Max,
	})
}
