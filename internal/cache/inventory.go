package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// SourceUsage summarizes what the file store holds for one source directory.
type SourceUsage struct {
	Source string `json:"source"`
	Tiles  int    `json:"tiles"`
	Tags   int    `json:"tags"`
	Bytes  int64  `json:"bytes"`
}

var tileExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Inventory walks the store directory and reports usage per source. Temp
// files left behind by an interrupted write are removed on the way.
func (s *FileStore) Inventory() ([]SourceUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var usage []SourceUsage
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		u, err := s.scanSource(entry.Name())
		if err != nil {
			s.log.Warn("Failed to scan source directory", zap.String("source", entry.Name()), zap.Error(err))
			continue
		}
		usage = append(usage, u)
	}
	return usage, nil
}

func (s *FileStore) scanSource(name string) (SourceUsage, error) {
	u := SourceUsage{Source: name}
	dir := filepath.Join(s.dir, name)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return u, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ext := strings.ToLower(filepath.Ext(path))

		if ext == ".tmp" {
			if err := os.Remove(path); err != nil {
				s.log.Warn("Failed to delete leftover temp file", zap.String("path", path), zap.Error(err))
			} else {
				s.log.Info("Deleted leftover temp file", zap.String("path", path))
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.log.Warn("Error getting file info", zap.String("path", path), zap.Error(err))
			continue
		}

		switch {
		case tileExtensions[ext]:
			u.Tiles++
		case ext == tagsExt || ext == legacyETag:
			u.Tags++
		default:
			continue
		}
		u.Bytes += info.Size()
	}
	return u, nil
}
