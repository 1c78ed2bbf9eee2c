package partition

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const seenSchema = `CREATE TABLE IF NOT EXISTS seen_files (
	stage    TEXT NOT NULL,
	file_key TEXT NOT NULL,
	seen_at  TEXT NOT NULL,
	PRIMARY KEY (stage, file_key)
)`

// SQLiteSeenSet persists seen keys in an embedded SQLite file so a
// restarted worker does not reprocess files it already discovered.
// Hits are cached in memory; misses fall through to the database.
type SQLiteSeenSet struct {
	db     *sql.DB
	stage  string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]struct{}
}

// OpenSQLiteSeenSet opens (or creates) the store at path for one stage.
// Use ":memory:" for a throwaway store.
func OpenSQLiteSeenSet(ctx context.Context, path, stage string, logger *slog.Logger) (*SQLiteSeenSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open seen store: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, seenSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create seen schema: %w", err)
	}
	logger.Info("seen store opened", "path", path, "stage", stage)
	return &SQLiteSeenSet{db: db, stage: stage, logger: logger, cache: make(map[string]struct{})}, nil
}

func (s *SQLiteSeenSet) Contains(key string) bool {
	s.mu.RLock()
	_, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return true
	}

	var one int
	err := s.db.QueryRow(`SELECT 1 FROM seen_files WHERE stage = ? AND file_key = ?`, s.stage, key).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false
	case err != nil:
		s.logger.Warn("seen store lookup failed", "key", key, "error", err)
		return false
	}
	s.mu.Lock()
	s.cache[key] = struct{}{}
	s.mu.Unlock()
	return true
}

func (s *SQLiteSeenSet) Add(key string) {
	s.mu.Lock()
	s.cache[key] = struct{}{}
	s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR IGNORE INTO seen_files (stage, file_key, seen_at) VALUES (?, ?, ?)`,
		s.stage, key, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Warn("seen store insert failed", "key", key, "error", err)
	}
}

// AddIfAbsent holds the cache lock across the insert, so two callers with
// the same key cannot both see it as new. When the database is unavailable
// the cache alone decides.
func (s *SQLiteSeenSet) AddIfAbsent(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[key]; ok {
		return false
	}
	s.cache[key] = struct{}{}

	res, err := s.db.Exec(`INSERT OR IGNORE INTO seen_files (stage, file_key, seen_at) VALUES (?, ?, ?)`,
		s.stage, key, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Warn("seen store insert failed", "key", key, "error", err)
		return true
	}
	n, err := res.RowsAffected()
	if err != nil {
		return true
	}
	return n == 1
}

func (s *SQLiteSeenSet) Close() error {
	return s.db.Close()
}
