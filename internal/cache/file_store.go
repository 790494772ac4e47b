package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"mapview/internal/metrics"
	"mapview/internal/tile"
)

const (
	tagsExt     = ".tags"
	legacyETag  = ".etag"
	fileBackend = "file"
)

// FileStore mirrors tiles on disk.
// Structure: {dir}/{source}/{zoom}_{x}_{y}.{ext} plus {zoom}_{x}_{y}.tags
type FileStore struct {
	mu  sync.Mutex
	dir string
	log *zap.Logger
}

func NewFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	return &FileStore{
		dir: dir,
		log: log,
	}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) sourceDir(key StoreKey) string {
	return filepath.Join(s.dir, key.Source)
}

func (s *FileStore) imagePath(key StoreKey) string {
	return filepath.Join(s.sourceDir(key), key.BaseName()+"."+key.Ext)
}

func (s *FileStore) tagsPath(key StoreKey) string {
	return filepath.Join(s.sourceDir(key), key.BaseName()+tagsExt)
}

func (s *FileStore) legacyETagPath(key StoreKey) string {
	return filepath.Join(s.sourceDir(key), key.BaseName()+legacyETag)
}

func (s *FileStore) Load(ctx context.Context, key StoreKey) (*Entry, error) {
	defer observe(fileBackend, "load", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	tags, tagsInfo, err := s.loadTags(key)
	if err != nil {
		return nil, err
	}

	entry := &Entry{Tags: tags}
	data, info, err := readFile(s.imagePath(key))
	switch {
	case err == nil:
		entry.Data = data
		entry.ModTime = info.ModTime()
	case errors.Is(err, fs.ErrNotExist):
		if len(tags) == 0 {
			return nil, ErrNotFound
		}
		entry.ModTime = tagsInfo.ModTime()
	default:
		metrics.StoreErrors.WithLabelValues(fileBackend, "load").Inc()
		return nil, fmt.Errorf("failed to read tile file: %w", err)
	}
	return entry, nil
}

// loadTags reads the .tags file, migrating a legacy .etag file into it first.
func (s *FileStore) loadTags(key StoreKey) (map[string]string, fs.FileInfo, error) {
	if err := s.migrateLegacyETag(key); err != nil {
		s.log.Warn("Failed to migrate legacy etag file",
			zap.String("file", s.legacyETagPath(key)),
			zap.Error(err),
		)
	}

	path := s.tagsPath(key)
	data, info, err := readFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(fileBackend, "load_tags").Inc()
		return nil, nil, fmt.Errorf("failed to read tile tags: %w", err)
	}

	tags, err := DecodeTags(bytes.NewReader(data), func(line string) {
		s.log.Warn("Malformed tile tag",
			zap.String("file", filepath.Base(path)),
			zap.String("line", line),
		)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse tile tags: %w", err)
	}
	return tags, info, nil
}

func (s *FileStore) migrateLegacyETag(key StoreKey) error {
	path := s.legacyETagPath(key)
	etag, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	tags := map[string]string{}
	if data, err := os.ReadFile(s.tagsPath(key)); err == nil {
		tags, _ = DecodeTags(bytes.NewReader(data), nil)
	}
	if v := string(bytes.TrimSpace(etag)); v != "" {
		tags[tile.MetaETag] = v
	}
	if err := s.writeTags(key, tags); err != nil {
		return err
	}
	return os.Remove(path)
}

func (s *FileStore) SaveData(ctx context.Context, key StoreKey, data []byte) error {
	defer observe(fileBackend, "save", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.imagePath(key), data); err != nil {
		metrics.StoreErrors.WithLabelValues(fileBackend, "save").Inc()
		return fmt.Errorf("failed to save tile: %w", err)
	}
	return nil
}

func (s *FileStore) SaveTags(ctx context.Context, key StoreKey, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeTags(key, tags); err != nil {
		metrics.StoreErrors.WithLabelValues(fileBackend, "save_tags").Inc()
		return fmt.Errorf("failed to save tile tags: %w", err)
	}
	return nil
}

func (s *FileStore) writeTags(key StoreKey, tags map[string]string) error {
	path := s.tagsPath(key)
	if len(tags) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeFileAtomic(path, EncodeTags(tags))
}

func (s *FileStore) Touch(ctx context.Context, key StoreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	err := os.Chtimes(s.imagePath(key), now, now)
	if errors.Is(err, fs.ErrNotExist) {
		err = os.Chtimes(s.tagsPath(key), now, now)
	}
	if err != nil {
		return fmt.Errorf("failed to touch tile: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key StoreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.imagePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete tile: %w", err)
	}
	return nil
}

// Clear removes everything below the store directory.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return err
	}
	return os.MkdirAll(s.dir, 0755)
}

func (s *FileStore) Close() error {
	return nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// writeFileAtomic writes to a temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func observe(backend, op string, start time.Time) {
	metrics.StoreOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
