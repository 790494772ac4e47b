package loader

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"mapview/internal/dispatcher"
	"mapview/internal/metrics"
	"mapview/internal/tile"
)

// HTTPLoader downloads every tile from its server without local persistence.
type HTTPLoader struct {
	f        *fetcher
	listener Listener
	log      *zap.Logger
}

func NewHTTPLoader(listener Listener, opts Options, log *zap.Logger) *HTTPLoader {
	return &HTTPLoader{
		f:        newFetcher(opts, log),
		listener: listener,
		log:      log,
	}
}

func (l *HTTPLoader) CreateJob(t *tile.Tile) dispatcher.Job {
	return &httpJob{loader: l, tile: t}
}

func (l *HTTPLoader) String() string {
	return "HTTPLoader"
}

type httpJob struct {
	loader *HTTPLoader
	tile   *tile.Tile
}

func (j *httpJob) Tile() *tile.Tile {
	return j.tile
}

func (j *httpJob) Run(ctx context.Context) {
	t := j.tile
	if !t.BeginLoading() {
		return
	}

	l := j.loader
	ctx, span := l.f.startJob(ctx, t, "tile.load")
	defer span.End()

	resp, err := l.f.do(ctx, http.MethodGet, t, nil)
	if err != nil {
		fail(ctx, t, l.listener, l.log, err)
		return
	}

	recordMetadata(t, resp.Header)
	if isNoTile(t) {
		resp.Body.Close()
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

	t.SetLoaded(img, data)
	metrics.TileFetches.WithLabelValues(t.Source().Name, metrics.FetchLoaded).Inc()
	l.listener.TileLoadingFinished(t, true)
}
