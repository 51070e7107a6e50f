// Package catalog reads product embeddings cached alongside the product
// catalog. It is the source of truth an index is rebuilt from.
package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/index"
)

const schema = `
CREATE TABLE IF NOT EXISTS product_vectors (
	product_id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteSource serves {product id, embedding} rows from a SQLite file.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

var _ index.RecordSource = (*SQLiteSource)(nil)

// Open opens or creates the catalog cache at path.
func Open(path string) (*SQLiteSource, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, werrors.PersistenceFailure("failed to create catalog directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, werrors.PersistenceFailure("failed to open catalog", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, werrors.PersistenceFailure("failed to initialize catalog", err)
		}
	}

	return &SQLiteSource{db: db, path: path}, nil
}

// Records returns every cached embedding in product id order. Rows whose
// blob cannot be decoded are logged and skipped.
func (s *SQLiteSource) Records(ctx context.Context) ([]index.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id, embedding FROM product_vectors ORDER BY product_id`)
	if err != nil {
		return nil, werrors.PersistenceFailure("failed to query catalog", err)
	}
	defer rows.Close()

	var (
		records []index.Record
		bad     int
	)
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, werrors.PersistenceFailure("failed to scan catalog row", err)
		}
		vec, err := DecodeEmbedding(blob)
		if err != nil {
			bad++
			continue
		}
		records = append(records, index.Record{ID: id, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, werrors.PersistenceFailure("failed to read catalog", err)
	}

	if bad > 0 {
		slog.Warn("catalog_rows_undecodable", slog.Int("count", bad), slog.String("path", s.path))
	}
	return records, nil
}

// Upsert stores or replaces the embedding of each record in one transaction.
func (s *SQLiteSource) Upsert(ctx context.Context, records []index.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return werrors.PersistenceFailure("failed to begin catalog write", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO product_vectors (product_id, embedding, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at
	`)
	if err != nil {
		return werrors.PersistenceFailure("failed to prepare catalog write", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range records {
		if r.ID == "" {
			return werrors.InvalidArgument("catalog record id is empty")
		}
		if _, err := stmt.ExecContext(ctx, r.ID, EncodeEmbedding(r.Vector), now); err != nil {
			return werrors.PersistenceFailure(fmt.Sprintf("failed to write %s", r.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return werrors.PersistenceFailure("failed to commit catalog write", err)
	}
	return nil
}

// Count returns the number of cached embeddings.
func (s *SQLiteSource) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM product_vectors`).Scan(&n); err != nil {
		return 0, werrors.PersistenceFailure("failed to count catalog rows", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// EncodeEmbedding packs vec as little-endian IEEE 754 float32 values.
func EncodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding reverses EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
