package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/graphmap/graph"
	"github.com/brunobiangulo/graphmap/schema"
)

// SQLite stores the property graph in a relational layout: one generic
// node table and one generic edge table, with declared node and
// relationship types tracked in meta tables. Properties are stored as
// JSON; natural keys are indexed but deliberately not unique, because
// duplicate reconciliation needs to see duplicate physical rows.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS graph_node_types (
    name TEXT PRIMARY KEY,
    key_field TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_relationship_types (
    name TEXT PRIMARY KEY,
    from_type TEXT NOT NULL,
    to_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_nodes (
    id TEXT PRIMARY KEY,
    node_type TEXT NOT NULL,
    node_key TEXT NOT NULL,
    properties JSON NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_type_key ON graph_nodes(node_type, node_key);

CREATE TABLE IF NOT EXISTS graph_edges (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    from_id TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
    to_id TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
    properties JSON
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_identity ON graph_edges(name, from_id, to_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges(from_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(to_id);
`

// OpenSQLite opens (or creates) the database at dbPath and initialises the
// graph schema.
func OpenSQLite(dbPath string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLite{db: db, log: log}, nil
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) QueryLanguage() string { return "sql" }

func (s *SQLite) EnsureNodeTable(ctx context.Context, nt *schema.NodeType) error {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT key_field FROM graph_node_types WHERE name = ?`, nt.Name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO graph_node_types (name, key_field) VALUES (?, ?)`, nt.Name, nt.KeyField)
		return err
	case err != nil:
		return err
	case existing != nt.KeyField:
		return &schema.ConflictError{
			Name:   nt.Name,
			Detail: fmt.Sprintf("key field %q conflicts with existing %q", nt.KeyField, existing),
		}
	}
	return nil
}

func (s *SQLite) EnsureRelationshipTable(ctx context.Context, rel *schema.Relationship) error {
	var from, to string
	err := s.db.QueryRowContext(ctx,
		`SELECT from_type, to_type FROM graph_relationship_types WHERE name = ?`, rel.Name).Scan(&from, &to)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO graph_relationship_types (name, from_type, to_type) VALUES (?, ?, ?)`,
			rel.Name, rel.FromType, rel.ToType)
		return err
	case err != nil:
		return err
	case from != rel.FromType || to != rel.ToType:
		return &schema.ConflictError{Name: rel.Name, Detail: "endpoint types conflict with existing declaration"}
	}
	return nil
}

func (s *SQLite) UpsertNode(ctx context.Context, rec graph.NodeRecord) (bool, error) {
	matched := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM graph_nodes WHERE node_type = ? AND node_key = ?`,
			rec.Type, rec.Key).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			matched = true
			return nil
		}
		props, err := json.Marshal(rec.Properties)
		if err != nil {
			return fmt.Errorf("encoding properties: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_nodes (id, node_type, node_key, properties, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), rec.Type, rec.Key, string(props),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
		return err
	})
	return matched, err
}

func (s *SQLite) FindNodesByKey(ctx context.Context, typeName, key string) ([]graph.StoredNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_key, properties, created_at, updated_at
		FROM graph_nodes WHERE node_type = ? AND node_key = ?
		ORDER BY created_at, id`, typeName, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.StoredNode
	for rows.Next() {
		var id, nodeKey, props, created, updated string
		if err := rows.Scan(&id, &nodeKey, &props, &created, &updated); err != nil {
			return nil, err
		}
		node := graph.StoredNode{
			Ref: graph.NodeRef{Type: typeName, ID: id},
			Key: nodeKey,
		}
		if err := json.Unmarshal([]byte(props), &node.Properties); err != nil {
			return nil, fmt.Errorf("decoding properties of %s: %w", id, err)
		}
		if node.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		if node.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

func (s *SQLite) SetNodeProperties(ctx context.Context, ref graph.NodeRef, props map[string]any, updatedAt time.Time) error {
	encoded, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding properties: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE graph_nodes SET properties = ?, updated_at = ? WHERE id = ?`,
		string(encoded), updatedAt.UTC().Format(time.RFC3339Nano), ref.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s not found", ref)
	}
	return nil
}

func (s *SQLite) EdgeExists(ctx context.Context, name string, from, to graph.NodeRef) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_edges WHERE name = ? AND from_id = ? AND to_id = ?`,
		name, from.ID, to.ID).Scan(&n)
	return n > 0, err
}

func (s *SQLite) CreateEdge(ctx context.Context, name string, from, to graph.NodeRef, props map[string]any) error {
	var encoded any
	if len(props) > 0 {
		b, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("encoding edge properties: %w", err)
		}
		encoded = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_edges (id, name, from_id, to_id, properties)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), name, from.ID, to.ID, encoded)
	return err
}

// MoveRelationships re-points every edge touching from onto to as a
// match/create/delete sequence in one transaction. An edge whose re-pointed
// identity already exists is dropped rather than duplicated.
func (s *SQLite) MoveRelationships(ctx context.Context, from, to graph.NodeRef) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, name, from_id, to_id, properties
			FROM graph_edges WHERE from_id = ? OR to_id = ?`, from.ID, from.ID)
		if err != nil {
			return err
		}
		type edge struct {
			id, name, fromID, toID string
			props                  sql.NullString
		}
		var moved []edge
		for rows.Next() {
			var e edge
			if err := rows.Scan(&e.id, &e.name, &e.fromID, &e.toID, &e.props); err != nil {
				rows.Close()
				return err
			}
			moved = append(moved, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range moved {
			newFrom, newTo := e.fromID, e.toID
			if newFrom == from.ID {
				newFrom = to.ID
			}
			if newTo == from.ID {
				newTo = to.ID
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE id = ?`, e.id); err != nil {
				return err
			}
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM graph_edges WHERE name = ? AND from_id = ? AND to_id = ?`,
				e.name, newFrom, newTo).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO graph_edges (id, name, from_id, to_id, properties)
				VALUES (?, ?, ?, ?, ?)`,
				uuid.NewString(), e.name, newFrom, newTo, nullableString(e.props)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) DeleteNode(ctx context.Context, ref graph.NodeRef) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM graph_edges WHERE from_id = ? OR to_id = ?`, ref.ID, ref.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id = ?`, ref.ID)
		return err
	})
}

// Execute runs raw SQL with named parameters (":param" style) and returns
// each row as a column-name map.
func (s *SQLite) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	args := make([]any, 0, len(params))
	for k, v := range params {
		args = append(args, sql.Named(k, v))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		scans := make([]any, len(cols))
		for i := range values {
			scans[i] = &values[i]
		}
		if err := rows.Scan(scans...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullableString(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
