package cache

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// NewTileCache creates the in-memory tile cache based on the cache type
func NewTileCache(cacheType string, capacity int, log *zap.Logger) (TileCache, error) {
	switch cacheType {
	case "memory":
		log.Info("Using memory cache", zap.Int("max_tiles", capacity))
		return NewMemoryCache(capacity, log.Named("cache")), nil
	case "disabled":
		log.Info("Cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, disabled)", cacheType)
	}
}

// NewStore creates the persistent tile store. Backend "none" returns a nil
// store, meaning tiles are only fetched from the network.
func NewStore(backend, dir string, log *zap.Logger) (Store, error) {
	switch backend {
	case "file":
		log.Info("Using file store", zap.String("cache_dir", dir))
		return NewFileStore(dir, log.Named("store"))
	case "sqlite":
		path := filepath.Join(dir, "tiles.db")
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
		log.Info("Using sqlite store", zap.String("path", path))
		return NewSQLiteStore(path, log.Named("store"))
	case "none":
		log.Info("Persistent store disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: file, sqlite, none)", backend)
	}
}
