package graphmap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/graphmap/embed"
)

// Config holds all configuration for the graphmap engine.
type Config struct {
	// Backend selects the storage implementation: sqlite, neo4j, memory
	// or kuzu (registered but not yet implemented).
	Backend string `json:"backend" yaml:"backend" validate:"required,oneof=sqlite neo4j memory kuzu"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.graphmap/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "graphmap".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. Options: "home" (default) uses ~/.graphmap/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// SchemaPath optionally points to a YAML schema definition loaded at
	// engine construction. Callers may instead register descriptors on
	// the engine's registry before the first ingest.
	SchemaPath string `json:"schema_path" yaml:"schema_path"`

	// MergePolicy decides which value wins when two documents populate
	// the same field differently: "newest" (default) or "oldest".
	MergePolicy string `json:"merge_policy" yaml:"merge_policy" validate:"omitempty,oneof=newest oldest"`

	// Neo4j connection settings, used when Backend is "neo4j".
	Neo4j Neo4jConfig `json:"neo4j" yaml:"neo4j"`

	// IndexDBPath is the SQLite file for the optional vector field
	// index. Empty disables indexing.
	IndexDBPath string `json:"index_db_path" yaml:"index_db_path"`

	// EmbeddingDim is the vector dimension of the index; it must match
	// the embedding model's output.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Embedding selects the endpoint and model that vectorize index
	// fields.
	Embedding embed.Config `json:"embedding" yaml:"embedding"`
}

// Neo4jConfig configures the Neo4j backend connection.
type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns a Config with sensible defaults for local use.
// The graph is stored in ~/.graphmap/graphmap.db by default.
func DefaultConfig() Config {
	return Config{
		Backend:      "sqlite",
		DBName:       "graphmap",
		StorageDir:   "home",
		MergePolicy:  "newest",
		EmbeddingDim: 768,
		Embedding:    embed.Config{Model: "nomic-embed-text"},
		Neo4j: Neo4jConfig{
			URI:  "bolt://localhost:7687",
			User: "neo4j",
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig, so a file
// only needs to state what differs from the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks configuration values before the engine is built.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "graphmap"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".graphmap", name+".db")
	}
}
