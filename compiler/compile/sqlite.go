package compile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

const createArtifacts = `CREATE TABLE IF NOT EXISTS artifacts (
	key        TEXT PRIMARY KEY,
	assembly   TEXT NOT NULL,
	path       TEXT NOT NULL,
	files      BLOB,
	size       INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteStore keeps the artifact index in a sqlite database. It suits
// hosts that share one artifact directory between several processes.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open artifact database: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an open sqlite database and creates the table.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(createArtifacts); err != nil {
		db.Close()
		return nil, fmt.Errorf("create artifacts table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying database.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Get implements ArtifactStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Artifact, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, assembly, path, files, size, created_at FROM artifacts WHERE key = ?`, key)
	a, err := scanArtifact(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("get artifact %s: %w", key, err)
	}
	return a, true, nil
}

// Put implements ArtifactStore.
func (s *SQLiteStore) Put(ctx context.Context, a *Artifact) error {
	if a == nil || a.Key == "" {
		return errors.New("forge: artifact key is required")
	}
	files, err := msgpack.Marshal(a.Files)
	if err != nil {
		return fmt.Errorf("encode artifact files: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (key, assembly, path, files, size, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET assembly = excluded.assembly, path = excluded.path,
			files = excluded.files, size = excluded.size, created_at = excluded.created_at`,
		a.Key, a.Assembly, a.Path, files, a.Size, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", a.Key, err)
	}
	return nil
}

// Delete implements ArtifactStore.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}

// List implements ArtifactStore.
func (s *SQLiteStore) List(ctx context.Context) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, assembly, path, files, size, created_at FROM artifacts ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close implements ArtifactStore.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(sc scanner) (*Artifact, error) {
	var (
		a       Artifact
		files   []byte
		created int64
	)
	if err := sc.Scan(&a.Key, &a.Assembly, &a.Path, &files, &a.Size, &created); err != nil {
		return nil, err
	}
	if len(files) > 0 {
		if err := msgpack.Unmarshal(files, &a.Files); err != nil {
			return nil, fmt.Errorf("decode files: %w", err)
		}
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	return &a, nil
}
