package http

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mapview/internal/cache"
	"mapview/internal/config"
	"mapview/internal/dispatcher"
	"mapview/internal/session"
	"mapview/internal/telemetry"
	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	session *session.Session
}

func New(config *config.Config, logger *zap.Logger, session *session.Session) *Handlers {
	return &Handlers{
		config:  config,
		logger:  logger,
		session: session,
	}
}

// Routes is the complete preview server handler with middleware applied.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /tiles/{z}/{x}/{y}", h.HandleTile)
	mux.HandleFunc("GET /api/sources", h.HandleSources)
	mux.HandleFunc("PUT /api/source", h.HandleSetSource)
	mux.HandleFunc("GET /api/stats", h.HandleStats)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return h.CORSMiddleware(h.RequestLoggingMiddleware(telemetry.Middleware(mux)))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin == "" {
				allowedOrigin = "*"
			} else if strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host) {
				allowedOrigin = origin
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "X-Tile-State, X-Request-Id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleTile serves /tiles/{z}/{x}/{y}[.ext] from the controller. A loaded
// tile is sent as fetched; anything else is sent as the image currently
// shown for it (placeholder, loading or error image) encoded as PNG and
// marked uncacheable. ?retry=1 reloads an error tile.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(r.PathValue("z"))
	x, errX := strconv.Atoi(r.PathValue("x"))
	yv := r.PathValue("y")
	if i := strings.IndexByte(yv, '.'); i >= 0 {
		yv = yv[:i]
	}
	y, errY := strconv.Atoi(yv)
	if errZ != nil || errX != nil || errY != nil {
		http.Error(w, "Invalid tile coordinates", http.StatusBadRequest)
		return
	}

	ctrl := h.session.Controller()
	var t *tile.Tile
	if r.URL.Query().Get("retry") == "1" {
		t = ctrl.Retry(x, y, z)
	} else {
		t = ctrl.GetTile(x, y, z)
	}
	if t == nil {
		http.NotFound(w, r)
		return
	}

	state := t.State()
	w.Header().Set("X-Tile-State", state.String())
	if v := t.Value(tile.MetaCaptureDate); v != "" {
		w.Header().Set("X-Tile-Capture-Date", v)
	}

	if data := t.Data(); state == tile.Loaded && len(data) > 0 {
		if etag := t.Value(tile.MetaETag); etag != "" {
			w.Header().Set("ETag", etag)
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, t.Image()); err != nil {
		h.logger.Error("Failed to encode tile image", zap.String("tile", t.Key()), zap.Error(err))
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

type sourceInfo struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	MinZoom        int    `json:"min_zoom"`
	MaxZoom        int    `json:"max_zoom"`
	TileSize       int    `json:"tile_size"`
	TileType       string `json:"tile_type"`
	Update         string `json:"update"`
	Attribution    string `json:"attribution,omitempty"`
	AttributionURL string `json:"attribution_url,omitempty"`
	TermsOfUseURL  string `json:"terms_of_use_url,omitempty"`
	Active         bool   `json:"active"`
}

func newSourceInfo(s *tilesource.Source, active *tilesource.Source) sourceInfo {
	return sourceInfo{
		Name:           s.Name,
		URL:            s.URL,
		MinZoom:        s.MinZoom,
		MaxZoom:        s.MaxZoom,
		TileSize:       s.TileSize,
		TileType:       s.TileType,
		Update:         s.Update.String(),
		Attribution:    s.Attribution,
		AttributionURL: s.AttributionURL,
		TermsOfUseURL:  s.TermsOfUseURL,
		Active:         s.Name == active.Name,
	}
}

func (h *Handlers) HandleSources(w http.ResponseWriter, r *http.Request) {
	active := h.session.Controller().TileSource()
	sources := h.session.Catalogue().Sources()

	infos := make([]sourceInfo, 0, len(sources))
	for _, s := range sources {
		infos = append(infos, newSourceInfo(s, active))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

// HandleSetSource switches the active source; queued loads are dropped.
func (h *Handlers) HandleSetSource(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Missing source name", http.StatusBadRequest)
		return
	}
	if err := h.session.SetSource(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	active := h.session.Controller().TileSource()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newSourceInfo(active, active))
}

type cacheStats struct {
	Len      int `json:"len"`
	Capacity int `json:"capacity"`
}

type stats struct {
	Source     string              `json:"source"`
	Cache      cacheStats          `json:"cache"`
	Dispatcher dispatcher.Stats    `json:"dispatcher"`
	Store      []cache.SourceUsage `json:"store,omitempty"`
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	c := h.session.Cache()
	resp := stats{
		Source:     h.session.Controller().TileSource().Name,
		Cache:      cacheStats{Len: c.Len(), Capacity: c.Capacity()},
		Dispatcher: h.session.Dispatcher().Stats(),
	}

	if fs, ok := h.session.Store().(*cache.FileStore); ok {
		usage, err := fs.Inventory()
		if err != nil {
			h.logger.Warn("Failed to scan tile store", zap.Error(err))
		}
		resp.Store = usage
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Not for real production use due to potential spoofing
// but it's fine for a preview server
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
