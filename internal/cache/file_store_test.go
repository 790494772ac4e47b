package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var storeKey = StoreKey{Source: "OSM Cycle Map", Zoom: 3, X: 4, Y: 5, Ext: "png"}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestFileStoreLayout(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	if err := s.SaveData(ctx, storeKey, []byte("img")); err != nil {
		t.Fatalf("SaveData: %v", err)
	}
	if err := s.SaveTags(ctx, storeKey, map[string]string{"etag": "e1"}); err != nil {
		t.Fatalf("SaveTags: %v", err)
	}

	for _, name := range []string{"3_4_5.png", "3_4_5.tags"} {
		if _, err := os.Stat(filepath.Join(s.Dir(), "OSM Cycle Map", name)); err != nil {
			t.Errorf("expected %s on disk: %v", name, err)
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	if _, err := s.Load(ctx, storeKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty store: err = %v, want ErrNotFound", err)
	}

	s.SaveData(ctx, storeKey, []byte("img"))
	s.SaveTags(ctx, storeKey, map[string]string{"etag": "e1", "capture-date": "2012"})

	e, err := s.Load(ctx, storeKey)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(e.Data) != "img" || e.Tags["etag"] != "e1" || e.Tags["capture-date"] != "2012" {
		t.Errorf("Load = %+v", e)
	}
	if time.Since(e.ModTime) > time.Minute {
		t.Errorf("ModTime = %v, want recent", e.ModTime)
	}
}

func TestFileStoreTagsOnly(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	s.SaveTags(ctx, storeKey, map[string]string{"tile-info": "no-tile"})
	e, err := s.Load(ctx, storeKey)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e.Data != nil || e.Tags["tile-info"] != "no-tile" {
		t.Errorf("Load = %+v", e)
	}

	// Empty tags remove the file.
	s.SaveTags(ctx, storeKey, nil)
	if _, err := s.Load(ctx, storeKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("after clearing tags: err = %v, want ErrNotFound", err)
	}
}

func TestFileStoreDeleteKeepsTags(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	s.SaveData(ctx, storeKey, []byte("img"))
	s.SaveTags(ctx, storeKey, map[string]string{"etag": "e1"})
	if err := s.Delete(ctx, storeKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, storeKey); err != nil {
		t.Errorf("second Delete: %v", err)
	}

	e, err := s.Load(ctx, storeKey)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e.Data != nil || e.Tags["etag"] != "e1" {
		t.Errorf("Load after delete = %+v", e)
	}
}

func TestFileStoreTouch(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	s.SaveData(ctx, storeKey, []byte("img"))

	old := time.Now().Add(-72 * time.Hour)
	path := filepath.Join(s.Dir(), storeKey.Source, "3_4_5.png")
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	e, _ := s.Load(ctx, storeKey)
	if time.Since(e.ModTime) < 71*time.Hour {
		t.Fatalf("ModTime = %v, want three days old", e.ModTime)
	}

	if err := s.Touch(ctx, storeKey); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	e, _ = s.Load(ctx, storeKey)
	if time.Since(e.ModTime) > time.Minute {
		t.Errorf("ModTime after Touch = %v, want now", e.ModTime)
	}
}

func TestFileStoreMigratesLegacyETag(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	s.SaveData(ctx, storeKey, []byte("img"))

	dir := filepath.Join(s.Dir(), storeKey.Source)
	if err := os.WriteFile(filepath.Join(dir, "3_4_5.etag"), []byte(`"legacy"`), 0644); err != nil {
		t.Fatal(err)
	}

	e, err := s.Load(ctx, storeKey)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e.Tags["etag"] != `"legacy"` {
		t.Errorf("etag = %q, want the legacy value", e.Tags["etag"])
	}
	if _, err := os.Stat(filepath.Join(dir, "3_4_5.etag")); !os.IsNotExist(err) {
		t.Error("legacy .etag file should be removed")
	}
	data, err := os.ReadFile(filepath.Join(dir, "3_4_5.tags"))
	if err != nil || string(data) != "etag=\"legacy\"\n" {
		t.Errorf(".tags = %q, %v", data, err)
	}
}

func TestFileStoreSkipsMalformedTags(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, err := NewFileStore(t.TempDir(), zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s.SaveData(ctx, storeKey, []byte("img"))

	dir := filepath.Join(s.Dir(), storeKey.Source)
	os.WriteFile(filepath.Join(dir, "3_4_5.tags"), []byte("etag=e1\ngarbage\n=x\n"), 0644)

	e, err := s.Load(ctx, storeKey)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(e.Tags) != 1 || e.Tags["etag"] != "e1" {
		t.Errorf("tags = %v", e.Tags)
	}
	if n := logs.FilterMessage("Malformed tile tag").Len(); n != 2 {
		t.Errorf("logged %d malformed lines, want 2", n)
	}
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		wantNil bool
		wantErr bool
	}{
		{"file", false, false},
		{"sqlite", false, false},
		{"none", true, false},
		{"s3", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s, err := NewStore(tt.backend, filepath.Join(dir, tt.backend), zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (s == nil) != tt.wantNil {
				t.Errorf("store nil = %v, want %v", s == nil, tt.wantNil)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}

func TestFileStoreInventory(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	other := StoreKey{Source: "Mapnik", Zoom: 1, X: 0, Y: 1, Ext: "png"}
	s.SaveData(ctx, storeKey, []byte("12345"))
	s.SaveTags(ctx, storeKey, map[string]string{"etag": "e1"})
	s.SaveData(ctx, other, []byte("123"))

	leftover := filepath.Join(s.Dir(), "Mapnik", "1_0_1.png.tmp")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	usage, err := s.Inventory()
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	got := make(map[string]SourceUsage)
	for _, u := range usage {
		got[u.Source] = u
	}

	if u := got["OSM Cycle Map"]; u.Tiles != 1 || u.Tags != 1 || u.Bytes < 5 {
		t.Errorf("OSM Cycle Map usage = %+v", u)
	}
	if u := got["Mapnik"]; u.Tiles != 1 || u.Tags != 0 || u.Bytes != 3 {
		t.Errorf("Mapnik usage = %+v", u)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("leftover temp file should be removed")
	}
}
