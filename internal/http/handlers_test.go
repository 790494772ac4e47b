package http

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zaptest"

	"mapview/internal/config"
	"mapview/internal/session"
)

func tilePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newHandlers(t *testing.T, vars map[string]string) (*Handlers, http.Handler) {
	t.Helper()
	body := tilePNG(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"t1"`)
		w.Write(body)
	}))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	sources := filepath.Join(dir, "sources.yaml")
	yml := "sources:\n  - name: Local\n    url: " + upstream.URL + "/{z}/{x}/{y}.png\n    max_zoom: 4\n    update: IfNoneMatch\n"
	if err := os.WriteFile(sources, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	environ := map[string]string{
		"MAPVIEW_SOURCE":       "Local",
		"MAPVIEW_SOURCES_FILE": sources,
		"MAPVIEW_STORE_DIR":    filepath.Join(dir, "store"),
	}
	for k, v := range vars {
		environ[k] = v
	}
	cfg, err := config.Parse(env.Options{Prefix: "MAPVIEW_", Environment: environ})
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}

	log := zaptest.NewLogger(t)
	s, err := session.New(cfg, log)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(cfg, log, s)
	return h, h.Routes()
}

func do(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandleTileBadRequests(t *testing.T) {
	_, routes := newHandlers(t, nil)

	tests := []struct {
		target string
		status int
	}{
		{"/tiles/a/0/0", http.StatusBadRequest},
		{"/tiles/1/x/0.png", http.StatusBadRequest},
		{"/tiles/1/5/0.png", http.StatusNotFound},
		{"/tiles/9/0/0", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if rec := do(routes, http.MethodGet, tt.target); rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestHandleTileLifecycle(t *testing.T) {
	h, routes := newHandlers(t, nil)

	rec := do(routes, http.MethodGet, "/tiles/2/1/1.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}

	tl := h.session.Controller().GetTile(1, 1, 2)
	deadline := time.Now().Add(5 * time.Second)
	for !tl.IsLoaded() {
		if time.Now().After(deadline) {
			t.Fatal("tile not loaded in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = do(routes, http.MethodGet, "/tiles/2/1/1.png")
	if got := rec.Header().Get("X-Tile-State"); got != "loaded" {
		t.Fatalf("X-Tile-State = %q, want loaded", got)
	}
	if got := rec.Header().Get("ETag"); got != `"t1"` {
		t.Errorf("ETag = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got == "no-store" {
		t.Error("a loaded tile should be cacheable")
	}
	if !bytes.Equal(rec.Body.Bytes(), tl.Data()) {
		t.Error("loaded tile should be served as fetched")
	}
}

func TestHandleTilePending(t *testing.T) {
	_, routes := newHandlers(t, map[string]string{"MAPVIEW_CACHE_CAPACITY": "5"})

	rec := do(routes, http.MethodGet, "/tiles/3/2/2")
	if state := rec.Header().Get("X-Tile-State"); state != "loaded" {
		if rec.Header().Get("Cache-Control") != "no-store" {
			t.Errorf("pending tile (%s) must not be cacheable", state)
		}
		if _, err := png.Decode(rec.Body); err != nil {
			t.Errorf("pending tile body is not a PNG: %v", err)
		}
	}
}

func TestHandleSources(t *testing.T) {
	_, routes := newHandlers(t, nil)

	rec := do(routes, http.MethodGet, "/api/sources")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var infos []sourceInfo
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}

	active := ""
	for _, s := range infos {
		if s.Active {
			active = s.Name
		}
	}
	if active != "Local" {
		t.Errorf("active source = %q, want Local", active)
	}
	if len(infos) < 5 {
		t.Errorf("got %d sources, want the built-ins plus Local", len(infos))
	}
}

func TestHandleSetSource(t *testing.T) {
	h, routes := newHandlers(t, nil)

	if rec := do(routes, http.MethodPut, "/api/source?name=Mapnik"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := h.session.Controller().TileSource().Name; got != "Mapnik" {
		t.Errorf("active source = %q, want Mapnik", got)
	}

	if rec := do(routes, http.MethodPut, "/api/source?name=Nowhere"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown source status = %d, want 404", rec.Code)
	}
	if rec := do(routes, http.MethodPut, "/api/source"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}
	if rec := do(routes, http.MethodGet, "/api/source?name=Mapnik"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	_, routes := newHandlers(t, map[string]string{"MAPVIEW_CACHE_CAPACITY": "42"})

	rec := do(routes, http.MethodGet, "/api/stats")
	var got stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Source != "Local" || got.Cache.Capacity != 42 {
		t.Errorf("stats = %+v", got)
	}
	if got.Dispatcher.Workers < 1 {
		t.Errorf("dispatcher workers = %d, want at least 1", got.Dispatcher.Workers)
	}
}

func TestHandleStatsStoreUsage(t *testing.T) {
	h, routes := newHandlers(t, nil)

	tl := h.session.Controller().GetTile(0, 0, 0)
	deadline := time.Now().Add(5 * time.Second)
	for !tl.IsLoaded() {
		if time.Now().After(deadline) {
			t.Fatal("tile not loaded in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var got stats
	if err := json.NewDecoder(do(routes, http.MethodGet, "/api/stats").Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Store) != 1 || got.Store[0].Source != "Local" || got.Store[0].Tiles != 1 {
		t.Errorf("store usage = %+v", got.Store)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	_, routes := newHandlers(t, nil)

	if rec := do(routes, http.MethodGet, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(routes, http.MethodPost, "/healthz"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST healthz = %d, want 405", rec.Code)
	}
	rec := do(routes, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("mapview_")) {
		t.Errorf("metrics = %d, mapview metrics present: %v", rec.Code, bytes.Contains(rec.Body.Bytes(), []byte("mapview_")))
	}
}

func TestMiddleware(t *testing.T) {
	_, routes := newHandlers(t, nil)

	rec := do(routes, http.MethodGet, "/healthz")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin without Origin = %q, want *", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/sources", nil)
	req.Header.Set("Origin", "http://elsewhere.example")
	pre := httptest.NewRecorder()
	routes.ServeHTTP(pre, req)
	if pre.Code != http.StatusOK {
		t.Errorf("preflight status = %d", pre.Code)
	}
	if got := pre.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	_, routes := newHandlers(t, map[string]string{"MAPVIEW_ALLOWED_ORIGIN": "https://maps.example"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://elsewhere.example")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://maps.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
