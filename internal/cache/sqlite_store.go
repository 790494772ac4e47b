package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"mapview/internal/metrics"
)

const sqliteBackend = "sqlite"

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps tiles and tags in a single sqlite database instead of
// a directory tree.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	// Workers write concurrently; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	s := &SQLiteStore{
		db:  db,
		log: log,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}

	log.Info("sqlite store initialized", zap.String("path", path))

	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{s.log.Sugar()})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.Up(s.db, "migrations")
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Load(ctx context.Context, key StoreKey) (*Entry, error) {
	defer observe(sqliteBackend, "load", time.Now())

	query := `SELECT data, tags, mod_time
	FROM tiles
	WHERE source = ? AND z = ? AND x = ? AND y = ?`

	var (
		data    []byte
		tags    sql.NullString
		modTime int64
	)
	err := s.db.QueryRowContext(ctx, query, key.Source, key.Zoom, key.X, key.Y).Scan(&data, &tags, &modTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(sqliteBackend, "load").Inc()
		return nil, fmt.Errorf("failed to load tile: %w", err)
	}

	entry := &Entry{Data: data, ModTime: time.Unix(0, modTime)}
	if tags.Valid {
		entry.Tags, err = DecodeTags(strings.NewReader(tags.String), func(line string) {
			s.log.Warn("Malformed tile tag", zap.String("key", key.BaseName()), zap.String("line", line))
		})
		if err != nil {
			return nil, fmt.Errorf("failed to parse tile tags: %w", err)
		}
	}
	if entry.Data == nil && len(entry.Tags) == 0 {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *SQLiteStore) SaveData(ctx context.Context, key StoreKey, data []byte) error {
	defer observe(sqliteBackend, "save", time.Now())

	query := `INSERT INTO tiles (source, z, x, y, data, mod_time)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, z, x, y) DO UPDATE SET data = excluded.data, mod_time = excluded.mod_time`

	return s.exec(ctx, "save", query, key.Source, key.Zoom, key.X, key.Y, data, time.Now().UnixNano())
}

func (s *SQLiteStore) SaveTags(ctx context.Context, key StoreKey, tags map[string]string) error {
	var encoded any
	if len(tags) > 0 {
		encoded = string(EncodeTags(tags))
	}

	query := `INSERT INTO tiles (source, z, x, y, tags, mod_time)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, z, x, y) DO UPDATE SET tags = excluded.tags`

	return s.exec(ctx, "save_tags", query, key.Source, key.Zoom, key.X, key.Y, encoded, time.Now().UnixNano())
}

func (s *SQLiteStore) Touch(ctx context.Context, key StoreKey) error {
	query := `UPDATE tiles SET mod_time = ? WHERE source = ? AND z = ? AND x = ? AND y = ?`
	return s.exec(ctx, "touch", query, time.Now().UnixNano(), key.Source, key.Zoom, key.X, key.Y)
}

func (s *SQLiteStore) Delete(ctx context.Context, key StoreKey) error {
	query := `UPDATE tiles SET data = NULL WHERE source = ? AND z = ? AND x = ? AND y = ?`
	return s.exec(ctx, "delete", query, key.Source, key.Zoom, key.X, key.Y)
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		metrics.StoreErrors.WithLabelValues(sqliteBackend, op).Inc()
		s.log.Error("sqlite store operation failed", zap.String("operation", op), zap.Error(err))
		return fmt.Errorf("sqlite %s: %w", op, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// gooseLogger routes migration output through zap.
type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSpace(format), v...)
}
