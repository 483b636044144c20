// Command graphmap ingests object documents into a property graph.
//
// Usage:
//
//	go run ./cmd/graphmap \
//	  --schema ./schemas/review.yaml \
//	  --type ReviewedOpportunity \
//	  --objects ./data/reviews.json \
//	  --backend sqlite --db ./graph.db
//
// Spreadsheet input:
//
//	go run ./cmd/graphmap \
//	  --schema ./schemas/customers.yaml \
//	  --type Customer \
//	  --objects ./data/customers.xlsx --sheet Customers
//
// With a vector field index (API key via GRAPHMAP_EMBED_API_KEY):
//
//	go run ./cmd/graphmap \
//	  --schema ./schemas/review.yaml \
//	  --type ReviewedOpportunity \
//	  --objects ./data/reviews.json \
//	  --index-db ./index.db \
//	  --embed-url http://localhost:11434 --embed-model nomic-embed-text
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	graphmap "github.com/brunobiangulo/graphmap"
	"github.com/brunobiangulo/graphmap/embed"
	"github.com/brunobiangulo/graphmap/graph"
	"github.com/brunobiangulo/graphmap/source"
	"github.com/brunobiangulo/graphmap/vecindex"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file (optional)")
		schemaPath  = flag.String("schema", "", "Path to YAML schema definition (required)")
		rootType    = flag.String("type", "", "Root node type of the ingested objects (required)")
		objectsPath = flag.String("objects", "", "Path to objects file: .json or .xlsx")
		sheet       = flag.String("sheet", "", "Sheet name for XLSX input (default: first sheet)")
		backendName = flag.String("backend", "sqlite", "Backend: sqlite, neo4j, memory, kuzu")
		dbPath      = flag.String("db", "", "SQLite database path (default: ~/.graphmap/graphmap.db)")
		mergePolicy = flag.String("merge-policy", "newest", "Merge policy: newest or oldest")
		neo4jURI    = flag.String("neo4j-uri", "bolt://localhost:7687", "Neo4j connection URI")
		neo4jUser   = flag.String("neo4j-user", "neo4j", "Neo4j user")
		neo4jPass   = flag.String("neo4j-password", "", "Neo4j password")
		indexDB     = flag.String("index-db", "", "SQLite path for the vector field index (empty disables indexing)")
		embedURL    = flag.String("embed-url", "", "OpenAI-compatible embedding endpoint base URL")
		embedModel  = flag.String("embed-model", "", "Embedding model name")
		summaryOnly = flag.Bool("summary", false, "Print the schema summary and exit")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := graphmap.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = graphmap.LoadConfig(*configPath); err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}

	// Flags set on the command line win over the config file.
	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	if setFlags["backend"] {
		cfg.Backend = *backendName
	}
	if setFlags["db"] {
		cfg.DBPath = *dbPath
	}
	if setFlags["schema"] {
		cfg.SchemaPath = *schemaPath
	}
	if setFlags["merge-policy"] {
		cfg.MergePolicy = *mergePolicy
	}
	if setFlags["neo4j-uri"] {
		cfg.Neo4j.URI = *neo4jURI
	}
	if setFlags["neo4j-user"] {
		cfg.Neo4j.User = *neo4jUser
	}
	if setFlags["neo4j-password"] {
		cfg.Neo4j.Password = *neo4jPass
	}
	if setFlags["index-db"] {
		cfg.IndexDBPath = *indexDB
	}
	if setFlags["embed-url"] {
		cfg.Embedding.BaseURL = *embedURL
	}
	if setFlags["embed-model"] {
		cfg.Embedding.Model = *embedModel
	}
	if key := os.Getenv("GRAPHMAP_EMBED_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}

	if cfg.SchemaPath == "" {
		log.Fatal("--schema (or schema_path in the config file) is required")
	}

	eng, err := graphmap.New(cfg, graphmap.WithLogger(logger))
	if err != nil {
		log.Fatalf("building engine: %v", err)
	}
	defer eng.Close()

	if *summaryOnly {
		fmt.Print(eng.SchemaSummary())
		return
	}

	if *rootType == "" || *objectsPath == "" {
		log.Fatal("--type and --objects are required for ingestion")
	}

	objects, err := loadObjects(*objectsPath, *sheet)
	if err != nil {
		log.Fatalf("loading objects: %v", err)
	}

	instances := make([]any, len(objects))
	for i, obj := range objects {
		instances[i] = obj
	}

	ctx := context.Background()
	res, err := eng.IngestAll(ctx, *rootType, instances)
	if err != nil {
		if res == nil || res.Documents == 0 {
			log.Fatalf("ingesting: %v", err)
		}
		logger.Warn("some documents were skipped", "error", err)
	}

	if cfg.IndexDBPath != "" {
		if err := indexFields(ctx, cfg, res.IndexFields); err != nil {
			log.Fatalf("indexing fields: %v", err)
		}
	}

	out, _ := json.MarshalIndent(res.Stats, "", "  ")
	fmt.Printf("ingested %d of %d documents\n%s\n", res.Documents, len(instances), out)
}

// indexFields vectorizes the extracted index fields into the configured
// sqlite-vec store.
func indexFields(ctx context.Context, cfg graphmap.Config, fields []graph.IndexField) error {
	client, err := embed.NewClient(cfg.Embedding)
	if err != nil {
		return err
	}
	store, err := vecindex.New(cfg.IndexDBPath, cfg.EmbeddingDim)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Index(ctx, fields, client)
	if err != nil {
		return err
	}
	slog.Info("indexed fields", "embedded", n, "total", len(fields), "db", cfg.IndexDBPath)
	return nil
}

func loadObjects(path, sheet string) ([]map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return source.LoadJSON(path)
	case ".xlsx", ".xls":
		return source.LoadXLSX(path, sheet)
	}
	return nil, fmt.Errorf("unsupported objects format %q (want .json or .xlsx)", filepath.Ext(path))
}
