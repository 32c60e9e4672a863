package offload

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists offloaded content in a SQLite database so handles
// survive process restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS offload_chunks (
	handle TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	tool   TEXT NOT NULL DEFAULT '',
	text   TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (handle, seq)
);
CREATE INDEX IF NOT EXISTS idx_offload_handle ON offload_chunks(handle);
`

// OpenSQLite opens (or creates) the store at path, configures pragmas and
// creates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create offload dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return initSQLite(db)
}

// OpenSQLiteMemory opens an in-memory store for testing.
func OpenSQLiteMemory() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return initSQLite(db)
}

func initSQLite(db *sql.DB) (*SQLiteStore, error) {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, tool, text string) (string, error) {
	handle := NewHandle()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO offload_chunks (handle, seq, tool, text) VALUES (?, ?, ?, ?)")
	if err != nil {
		return "", fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range splitChunks(text) {
		if _, err := stmt.ExecContext(ctx, handle, i, tool, chunk); err != nil {
			return "", fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return handle, nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, handle, query string, limit int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, text FROM offload_chunks WHERE handle = ? ORDER BY seq", handle)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c := Chunk{Handle: handle}
		if err := rows.Scan(&c.Seq, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrHandleNotFound
	}
	return rankChunks(chunks, query, limit), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
