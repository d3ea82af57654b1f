// Package cache persists harvested documents in SQLite so repeated
// retrievals over the same URLs skip the network. Entries expire by
// TTL; retrieval runs are recorded for later inspection.
package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/websift/websift/internal/errors"
	"github.com/websift/websift/internal/harvest"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	url          TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	origin_query TEXT NOT NULL DEFAULT '',
	fetched_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	documents   INTEGER NOT NULL,
	results     INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
`

// Store is a TTL-bounded document cache backed by SQLite.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// Open opens or creates the cache database at path.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCacheOpen, "failed to open cache database", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.New(errors.ErrCodeCacheCorrupt, "failed to initialize cache schema", err)
	}

	return &Store{db: db, ttl: ttl}, nil
}

// Get returns the cached document for a URL if it is still fresh.
func (s *Store) Get(ctx context.Context, url string) (*harvest.Document, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT title, content, origin_query, fetched_at FROM documents WHERE url = ?`, url)

	var (
		doc       harvest.Document
		fetchedAt int64
	)
	doc.URL = url
	err := row.Scan(&doc.Title, &doc.Content, &doc.OriginQuery, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.New(errors.ErrCodeCacheCorrupt, "cache read failed", err)
	}

	if s.ttl > 0 && time.Since(time.UnixMilli(fetchedAt)) > s.ttl {
		return nil, false, nil
	}
	return &doc, true, nil
}

// Put stores or refreshes a document.
func (s *Store) Put(ctx context.Context, doc harvest.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (url, title, content, origin_query, fetched_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			origin_query = excluded.origin_query,
			fetched_at = excluded.fetched_at`,
		doc.URL, doc.Title, doc.Content, doc.OriginQuery, time.Now().UnixMilli())
	if err != nil {
		return errors.New(errors.ErrCodeCacheCorrupt, "cache write failed", err)
	}
	return nil
}

// RecordRun stores a retrieval run summary and returns its ID.
func (s *Store) RecordRun(ctx context.Context, query string, documents, results int, duration time.Duration) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, documents, results, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, query, documents, results, time.Now().Unix(), duration.Milliseconds())
	if err != nil {
		return "", errors.New(errors.ErrCodeCacheCorrupt, "run record failed", err)
	}
	return id, nil
}

// Purge removes expired documents and returns how many were deleted.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.ttl).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, errors.New(errors.ErrCodeCacheCorrupt, "cache purge failed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
