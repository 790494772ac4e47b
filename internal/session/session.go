// Package session assembles the tile subsystem for one map display from the
// configuration: source catalogue, memory cache, persistent store, loader,
// dispatcher and controller.
package session

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mapview/internal/cache"
	"mapview/internal/config"
	"mapview/internal/controller"
	"mapview/internal/dispatcher"
	"mapview/internal/loader"
	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

type Session struct {
	cfg *config.Config
	log *zap.Logger

	catalogue  *tilesource.Catalogue
	cache      cache.TileCache
	store      cache.Store
	dispatcher *dispatcher.Dispatcher
	controller *controller.Controller

	mu        sync.RWMutex
	listeners []loader.Listener
}

func New(cfg *config.Config, log *zap.Logger) (*Session, error) {
	catalogue, err := tilesource.Load(cfg.SourceFile)
	if err != nil {
		return nil, err
	}
	src, ok := catalogue.Get(cfg.Source)
	if !ok {
		return nil, fmt.Errorf("unknown tile source: %s", cfg.Source)
	}

	tc, err := cache.NewTileCache(cfg.Cache.Type, cfg.Cache.Capacity, log.Named("cache"))
	if err != nil {
		return nil, err
	}
	store, err := cache.NewStore(cfg.Store.Backend, cfg.Store.Dir, log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		log:       log,
		catalogue: catalogue,
		cache:     tc,
		store:     store,
	}

	s.dispatcher = dispatcher.New(dispatcher.Options{
		MaxWorkers:  cfg.Workers.Max,
		IdleTimeout: cfg.Workers.IdleTimeout,
		LIFO:        cfg.LIFO(),
	}, log.Named("dispatcher"))

	s.controller = controller.New(src, tc, s.dispatcher, s.newLoader(), log.Named("controller"))

	log.Info("Tile session ready",
		zap.String("source", src.Name),
		zap.Int("sources", catalogue.Len()),
		zap.String("cache", cfg.Cache.Type),
		zap.Int("capacity", tc.Capacity()),
		zap.String("store", cfg.Store.Backend),
	)
	return s, nil
}

func (s *Session) newLoader() loader.Loader {
	opts := loader.Options{
		UserAgent:   s.cfg.UserAgent,
		ReadTimeout: s.cfg.Loader.ReadTimeout,
		Freshness:   s.cfg.Loader.Freshness,
	}
	log := s.log.Named("loader")
	if s.store == nil {
		return loader.NewHTTPLoader(s, opts, log)
	}
	return loader.NewFileCacheLoader(s, s.store, opts, log)
}

// TileLoadingFinished fans a job completion out to the registered listeners.
func (s *Session) TileLoadingFinished(t *tile.Tile, success bool) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, l := range listeners {
		l.TileLoadingFinished(t, success)
	}
}

// AddListener registers l for job completions, typically to trigger a repaint.
func (s *Session) AddListener(l loader.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetSource switches the controller to the named catalogue source.
func (s *Session) SetSource(name string) error {
	src, ok := s.catalogue.Get(name)
	if !ok {
		return fmt.Errorf("unknown tile source: %s", name)
	}
	s.controller.SetTileSource(src)
	return nil
}

func (s *Session) Controller() *controller.Controller { return s.controller }
func (s *Session) Catalogue() *tilesource.Catalogue   { return s.catalogue }
func (s *Session) Cache() cache.TileCache             { return s.cache }
func (s *Session) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Store is the persistent store, nil when tiles are only kept in memory.
func (s *Session) Store() cache.Store { return s.store }

// Close stops the workers and releases the store.
func (s *Session) Close() error {
	var err error
	err = multierr.Append(err, s.dispatcher.Close())
	if s.store != nil {
		err = multierr.Append(err, s.store.Close())
	}
	return err
}
