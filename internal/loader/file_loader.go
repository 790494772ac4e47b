package loader

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mapview/internal/cache"
	"mapview/internal/dispatcher"
	"mapview/internal/metrics"
	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

// FileCacheLoader serves tiles from a persistent store and only goes to the
// network for missing tiles or stale ones, revalidating those with the
// source's update strategy.
type FileCacheLoader struct {
	f        *fetcher
	store    cache.Store
	listener Listener
	log      *zap.Logger
}

func NewFileCacheLoader(listener Listener, store cache.Store, opts Options, log *zap.Logger) *FileCacheLoader {
	return &FileCacheLoader{
		f:        newFetcher(opts, log),
		store:    store,
		listener: listener,
		log:      log,
	}
}

func (l *FileCacheLoader) CreateJob(t *tile.Tile) dispatcher.Job {
	return &fileJob{loader: l, tile: t, key: cache.KeyFor(t)}
}

func (l *FileCacheLoader) String() string {
	return "FileCacheLoader"
}

type fileJob struct {
	loader *FileCacheLoader
	tile   *tile.Tile
	key    cache.StoreKey
}

func (j *fileJob) Tile() *tile.Tile {
	return j.tile
}

func (j *fileJob) Run(ctx context.Context) {
	if !j.tile.BeginLoading() {
		return
	}

	ctx, span := j.loader.f.startJob(ctx, j.tile, "tile.load")
	defer span.End()

	stored, done := j.loadFromStore(ctx)
	if done {
		return
	}
	j.loadOrUpdate(ctx, stored)
}

// loadFromStore shows the stored copy, if any. It reports done when that
// copy is fresh and nothing else needs to happen; otherwise the returned
// entry, possibly nil, is what revalidation works against.
func (j *fileJob) loadFromStore(ctx context.Context) (*cache.Entry, bool) {
	l, t := j.loader, j.tile

	entry, err := l.store.Load(ctx, j.key)
	if errors.Is(err, cache.ErrNotFound) {
		metrics.StoreReads.WithLabelValues(metrics.ReadMiss).Inc()
		return nil, false
	}
	if err != nil {
		l.log.Warn("Failed to read stored tile", zap.String("tile", t.Key()), zap.Error(err))
		metrics.StoreReads.WithLabelValues(metrics.ReadMiss).Inc()
		return nil, false
	}

	for k, v := range entry.Tags {
		t.PutValue(k, v)
	}

	if isNoTile(t) {
		if entry.Data != nil {
			if err := l.store.Delete(ctx, j.key); err != nil {
				l.log.Warn("Failed to delete stored tile", zap.String("tile", t.Key()), zap.Error(err))
			}
		}
		t.Show(tile.ErrorImage(t.Source().TileSize), nil)
	} else if entry.Data == nil {
		// Tags without an image: fetch, but keep the tags for revalidation.
		metrics.StoreReads.WithLabelValues(metrics.ReadMiss).Inc()
		return nil, false
	} else {
		img, err := DecodeImage(entry.Data, t.Source().TileType)
		if err != nil {
			// Corrupt or empty: drop it and fetch as if it never existed.
			metrics.StoreReads.WithLabelValues(metrics.ReadCorrupt).Inc()
			l.log.Warn("Discarding unreadable stored tile", zap.String("tile", t.Key()), zap.Error(err))
			if err := l.store.Delete(ctx, j.key); err != nil {
				l.log.Warn("Failed to delete stored tile", zap.String("tile", t.Key()), zap.Error(err))
			}
			return nil, false
		}
		t.Show(img, entry.Data)
	}

	if time.Since(entry.ModTime) <= l.f.opts.Freshness {
		metrics.StoreReads.WithLabelValues(metrics.ReadFresh).Inc()
		j.finishUnchanged(true)
		return entry, true
	}

	metrics.StoreReads.WithLabelValues(metrics.ReadStale).Inc()
	l.listener.TileLoadingFinished(t, true)
	return entry, false
}

// finishUnchanged completes the job with the copy already shown.
func (j *fileJob) finishUnchanged(notify bool) {
	t := j.tile
	if isNoTile(t) {
		t.SetError()
	} else {
		t.SetLoaded(nil, nil)
	}
	if notify {
		j.loader.listener.TileLoadingFinished(t, true)
	}
}

// upToDate marks the stored copy fresh again and finishes the job. The
// listener already heard about this copy when it was shown.
func (j *fileJob) upToDate(ctx context.Context, reason string) {
	l := j.loader
	if err := l.store.Touch(ctx, j.key); err != nil {
		l.log.Warn("Failed to touch stored tile", zap.String("tile", j.tile.Key()), zap.Error(err))
	}
	metrics.TileFetches.WithLabelValues(j.tile.Source().Name, metrics.FetchNotModified).Inc()
	l.log.Debug("Local version is up to date",
		zap.String("tile", j.tile.Key()),
		zap.String("check", reason),
	)
	j.finishUnchanged(false)
}

func (j *fileJob) loadOrUpdate(ctx context.Context, stored *cache.Entry) {
	l, t := j.loader, j.tile
	strategy := t.Source().Update
	header := http.Header{}

	if stored != nil {
		switch strategy {
		case tilesource.IfModifiedSince:
			header.Set("If-Modified-Since", stored.ModTime.UTC().Format(http.TimeFormat))
		case tilesource.LastModified:
			newer, err := j.serverNewer(ctx, stored.ModTime)
			if err != nil {
				fail(ctx, t, l.listener, l.log, err)
				return
			}
			if !newer {
				j.upToDate(ctx, "last-modified")
				return
			}
		}

		if etag := t.Value(tile.MetaETag); etag != "" {
			switch strategy {
			case tilesource.IfNoneMatch:
				header.Set("If-None-Match", etag)
			case tilesource.ETag:
				same, err := j.serverHasETag(ctx, etag)
				if err != nil {
					fail(ctx, t, l.listener, l.log, err)
					return
				}
				if same {
					j.upToDate(ctx, "etag")
					return
				}
			}
		}
	}

	resp, err := l.f.do(ctx, http.MethodGet, t, header)
	if err != nil {
		fail(ctx, t, l.listener, l.log, err)
		return
	}

	if resp.StatusCode == http.StatusNotModified && stored != nil {
		resp.Body.Close()
		j.upToDate(ctx, "conditional-get")
		return
	}

	if strategy.UsesETag() {
		t.PutValue(tile.MetaETag, resp.Header.Get("ETag"))
	}
	recordMetadata(t, resp.Header)
	if err := l.store.SaveTags(ctx, j.key, t.Metadata()); err != nil {
		l.log.Warn("Failed to save tile tags", zap.String("tile", t.Key()), zap.Error(err))
	}

	if isNoTile(t) {
		resp.Body.Close()
		if err := l.store.Delete(ctx, j.key); err != nil {
			l.log.Warn("Failed to delete stored tile", zap.String("tile", t.Key()), zap.Error(err))
		}
		t.SetError()
		metrics.TileFetches.WithLabelValues(t.Source().Name, metrics.FetchNoTile).Inc()
		l.listener.TileLoadingFinished(t, true)
		return
	}

	data, err := readBody(resp)
	if err != nil {
		fail(ctx, t, l.listener, l.log, err)
		return
	}
	img, err := DecodeImage(data, t.Source().TileType)
	if err != nil {
		fail(ctx, t, l.listener, l.log, err)
		return
	}

	if err := l.store.SaveData(ctx, j.key, data); err != nil {
		l.log.Warn("Failed to save tile", zap.String("tile", t.Key()), zap.Error(err))
	}
	t.SetLoaded(img, data)
	metrics.TileFetches.WithLabelValues(t.Source().Name, metrics.FetchLoaded).Inc()
	l.listener.TileLoadingFinished(t, true)
}

// serverNewer asks with a HEAD request whether the server copy changed after
// modTime. A missing Last-Modified header counts as newer.
func (j *fileJob) serverNewer(ctx context.Context, modTime time.Time) (bool, error) {
	resp, err := j.loader.f.do(ctx, http.MethodHead, j.tile, nil)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	lm, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		return true, nil
	}
	// Last-Modified has second precision.
	return lm.After(modTime.Truncate(time.Second)), nil
}

// serverHasETag asks with a HEAD request whether the server ETag matches. A
// missing ETag header counts as a match.
func (j *fileJob) serverHasETag(ctx context.Context, etag string) (bool, error) {
	resp, err := j.loader.f.do(ctx, http.MethodHead, j.tile, nil)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	server := resp.Header.Get("ETag")
	return server == "" || server == etag, nil
}
