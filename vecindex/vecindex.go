// Package vecindex stores the index fields projected out of mapped nodes
// as vector embeddings in a sqlite-vec virtual table, and answers
// similarity searches over them. It is the optional vector-indexing
// collaborator on the far side of the extractor's data contract; the
// mapping engine itself never depends on it.
package vecindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/graphmap/graph"
)

func init() {
	sqlite_vec.Auto()
}

// Embedder turns texts into fixed-dimension vectors. Implementations live
// with the caller; any embedding model works as long as the dimension
// matches the store's.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is one similarity search hit.
type Match struct {
	graph.IndexField
	Score float64 `json:"score"`
}

// Store persists index fields and their embeddings in SQLite.
type Store struct {
	db  *sql.DB
	dim int
}

// New opens (or creates) the vector index database at dbPath.
func New(dbPath string, dim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS index_fields (
    id INTEGER PRIMARY KEY,
    node_type TEXT NOT NULL,
    primary_key TEXT NOT NULL,
    field_name TEXT NOT NULL,
    field_value TEXT NOT NULL,
    UNIQUE(node_type, primary_key, field_name, field_value)
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_index_fields USING vec0(
    field_id INTEGER PRIMARY KEY,
    embedding float[%d]
);`, dim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	return &Store{db: db, dim: dim}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Dim returns the configured embedding dimension.
func (s *Store) Dim() int { return s.dim }

// Index embeds and stores a batch of extracted fields. Fields already
// present (same node, field and value) are skipped, so re-indexing after
// re-ingestion is idempotent. Returns the number of newly indexed fields.
func (s *Store) Index(ctx context.Context, fields []graph.IndexField, emb Embedder) (int, error) {
	type pending struct {
		id    int64
		value string
	}
	var fresh []pending

	for _, f := range fields {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO index_fields (node_type, primary_key, field_name, field_value)
			VALUES (?, ?, ?, ?)`,
			f.NodeType, f.PrimaryKey, f.FieldName, f.FieldValue)
		if err != nil {
			return 0, fmt.Errorf("recording index field: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		fresh = append(fresh, pending{id: id, value: f.FieldValue})
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	texts := make([]string, len(fresh))
	for i, p := range fresh {
		texts[i] = p.value
	}
	vectors, err := emb.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding index fields: %w", err)
	}
	if len(vectors) != len(fresh) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(fresh))
	}

	for i, p := range fresh {
		if len(vectors[i]) != s.dim {
			return 0, fmt.Errorf("embedding dimension %d does not match index dimension %d", len(vectors[i]), s.dim)
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO vec_index_fields (field_id, embedding) VALUES (?, ?)",
			p.id, serializeFloat32(vectors[i])); err != nil {
			return 0, fmt.Errorf("storing embedding: %w", err)
		}
	}
	return len(fresh), nil
}

// Search returns the k index fields nearest to the query text.
func (s *Store) Search(ctx context.Context, query string, emb Embedder, k int) ([]Match, error) {
	vectors, err := emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.node_type, f.primary_key, f.field_name, f.field_value, v.distance
		FROM vec_index_fields v
		JOIN index_fields f ON f.id = v.field_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		serializeFloat32(vectors[0]), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var distance float64
		if err := rows.Scan(&m.NodeType, &m.PrimaryKey, &m.FieldName, &m.FieldValue, &distance); err != nil {
			return nil, err
		}
		m.Score = 1.0 - distance
		out = append(out, m)
	}
	return out, rows.Err()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
