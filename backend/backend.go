// Package backend provides concrete implementations of the graph.Backend
// storage interface, selected by name through Open. Implemented backends:
// sqlite (relational storage over mattn/go-sqlite3), neo4j (Cypher over the
// official driver) and memory (in-process, for tests and dry runs). The
// kuzu backend is registered but not yet implemented and fails at
// construction, never at call time.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/graphmap/graph"
)

// Options carries the connection settings for every supported backend;
// each backend reads only its own fields.
type Options struct {
	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string

	// Neo4j connection settings.
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// logger returns the configured logger, falling back to slog.Default().
// Constructors call this so a zero Options never yields a nil logger.
func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// NotImplementedError is returned by Open for a backend that is registered
// but not yet coded.
type NotImplementedError struct {
	Backend string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("graphmap: backend %q is not implemented", e.Backend)
}

// Open constructs the named backend. Unknown names and unimplemented
// backends fail here so a misconfigured session dies before any ingest
// work starts.
func Open(name string, opts Options) (graph.Backend, error) {
	opts.Logger = opts.logger()
	switch name {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(opts.SQLitePath, opts.Logger)
	case "neo4j":
		return OpenNeo4j(opts)
	case "kuzu":
		return nil, &NotImplementedError{Backend: name}
	}
	return nil, fmt.Errorf("graphmap: unknown backend %q", name)
}
