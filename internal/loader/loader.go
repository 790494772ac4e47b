// Package loader fetches tile images from tile servers, optionally through
// a persistent store, and reports completion to a listener.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mapview/internal/dispatcher"
	"mapview/internal/metrics"
	"mapview/internal/tile"
)

const (
	tracerName = "mapview/internal/loader"

	DefaultAccept      = "image/*"
	DefaultReadTimeout = 30 * time.Second
	DefaultFreshness   = 24 * time.Hour

	// A 503 is retried up to five times after a random 5-10s pause.
	DefaultRetryWait   = 7500 * time.Millisecond
	DefaultRetryJitter = 2500 * time.Millisecond
	DefaultMaxRetries  = 5

	headerCaptureDates = "X-VE-TILEMETA-CaptureDatesRange"
	headerTileInfo     = "X-VE-Tile-Info"
)

var errUnavailable = errors.New("tile server unavailable")

// Listener is notified when a tile job finishes.
type Listener interface {
	TileLoadingFinished(t *tile.Tile, success bool)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(t *tile.Tile, success bool)

func (f ListenerFunc) TileLoadingFinished(t *tile.Tile, success bool) {
	f(t, success)
}

// Loader creates jobs that load tiles.
type Loader interface {
	CreateJob(t *tile.Tile) dispatcher.Job
}

type Options struct {
	UserAgent   string
	Accept      string
	ReadTimeout time.Duration
	// Freshness is how long a stored tile is used without asking the server.
	Freshness   time.Duration
	RetryWait   time.Duration
	RetryJitter time.Duration
	MaxRetries  uint64
	// Client overrides the HTTP client; ReadTimeout is ignored then.
	Client *http.Client
}

func (o Options) withDefaults() Options {
	if o.Accept == "" {
		o.Accept = DefaultAccept
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Freshness <= 0 {
		o.Freshness = DefaultFreshness
	}
	if o.RetryWait <= 0 {
		o.RetryWait = DefaultRetryWait
		o.RetryJitter = DefaultRetryJitter
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.ReadTimeout}
	}
	return o
}

// fetcher holds the HTTP behavior shared by both loaders.
type fetcher struct {
	opts   Options
	log    *zap.Logger
	tracer trace.Tracer
}

func newFetcher(opts Options, log *zap.Logger) *fetcher {
	return &fetcher{
		opts:   opts.withDefaults(),
		log:    log,
		tracer: otel.Tracer(tracerName),
	}
}

func (f *fetcher) backoff() retry.Backoff {
	b := retry.NewConstant(f.opts.RetryWait)
	if f.opts.RetryJitter > 0 {
		b = retry.WithJitter(f.opts.RetryJitter, b)
	}
	return retry.WithMaxRetries(f.opts.MaxRetries, b)
}

// startJob opens the span that covers one tile job.
func (f *fetcher) startJob(ctx context.Context, t *tile.Tile, name string) (context.Context, trace.Span) {
	return f.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("tile.source", t.Source().Name),
		attribute.Int("tile.z", t.Zoom()),
		attribute.Int("tile.x", t.X()),
		attribute.Int("tile.y", t.Y()),
		attribute.String("tile.update", t.Source().Update.String()),
	))
}

// do sends method to the tile URL with the default and extra headers. A 503
// response is retried with backoff; any other response is returned as is.
func (f *fetcher) do(ctx context.Context, method string, t *tile.Tile, extra http.Header) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	err := retry.Do(ctx, f.backoff(), func(ctx context.Context) error {
		attempt++
		r, err := f.send(ctx, method, t, extra)
		if err != nil {
			return err
		}
		if r.StatusCode == http.StatusServiceUnavailable {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			metrics.TileFetches.WithLabelValues(t.Source().Name, metrics.FetchRetried).Inc()
			f.log.Debug("Tile server unavailable, retrying",
				zap.String("tile", t.Key()),
				zap.Int("attempt", attempt),
			)
			return retry.RetryableError(errUnavailable)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *fetcher) send(ctx context.Context, method string, t *tile.Tile, extra http.Header) (*http.Response, error) {
	url := t.URL()
	ctx, span := f.tracer.Start(ctx, "tile.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(url),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", f.opts.Accept)
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	for k, v := range t.Source().Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := f.opts.Client.Do(req)
	metrics.TileFetchDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

// readBody reads and closes the body of a 200 response.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("tile server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}
	if len(data) == 0 {
		return nil, errEmptyTile
	}
	return data, nil
}

// recordMetadata copies the tile metadata headers onto t.
func recordMetadata(t *tile.Tile, h http.Header) {
	t.PutValue(tile.MetaCaptureDate, h.Get(headerCaptureDates))
	t.PutValue(tile.MetaTileInfo, h.Get(headerTileInfo))
}

func isNoTile(t *tile.Tile) bool {
	return t.Value(tile.MetaTileInfo) == tile.NoTile
}

// fail finishes the job with an error tile.
func fail(ctx context.Context, t *tile.Tile, l Listener, log *zap.Logger, err error) {
	t.SetError()
	metrics.TileFetches.WithLabelValues(t.Source().Name, metrics.FetchFailed).Inc()
	trace.SpanFromContext(ctx).RecordError(err)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
	log.Warn("Failed loading tile",
		zap.String("tile", t.Key()),
		zap.Error(err),
	)
	l.TileLoadingFinished(t, false)
}
