// Package graphmap ingests typed structured objects and materializes them
// as a property graph: nodes, edges, flattened embedded sub-objects and
// taxonomy links, persisted through a pluggable backend. The mapping is
// driven entirely by registered descriptors; no domain schema is hard
// coded and no vendor-specific graph procedure is ever issued.
package graphmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brunobiangulo/graphmap/backend"
	"github.com/brunobiangulo/graphmap/graph"
	"github.com/brunobiangulo/graphmap/schema"
)

// Engine is the public ingestion surface.
type Engine interface {
	// Registry returns the schema registry. Descriptors may be added
	// until the first Ingest call seals it.
	Registry() *schema.Registry

	// Ingest maps one object instance of the given root type and merges
	// the resulting records into the graph.
	Ingest(ctx context.Context, rootType string, instance any) (*IngestResult, error)

	// IngestAll ingests a batch. A mapping failure spoils only its own
	// document; backend failures abort the batch.
	IngestAll(ctx context.Context, rootType string, instances []any) (*IngestResult, error)

	// Execute runs a raw query in the backend's native language.
	Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// QueryLanguage names the backend's query language.
	QueryLanguage() string

	// SchemaSummary renders a human-readable schema listing.
	SchemaSummary() string

	Close() error
}

// IngestResult reports what an ingest call produced.
type IngestResult struct {
	Stats graph.Stats `json:"stats"`

	// IndexFields is the projection handed to an external vector
	// indexer, e.g. a vecindex.Store.
	IndexFields []graph.IndexField `json:"index_fields,omitempty"`

	// Documents is the number of successfully ingested instances.
	Documents int `json:"documents"`
}

type engine struct {
	cfg     Config
	log     *slog.Logger
	reg     *schema.Registry
	backend graph.Backend
	mapper  *graph.Mapper
	merger  *graph.Merger

	declareOnce sync.Once
	declareErr  error

	mu     sync.Mutex
	closed bool
}

// Option customizes engine construction.
type Option func(*engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *engine) { e.log = log }
}

// WithBackend injects a pre-built backend instead of opening one from the
// configuration.
func WithBackend(b graph.Backend) Option {
	return func(e *engine) { e.backend = b }
}

// WithRegistry injects a pre-populated schema registry. Takes precedence
// over Config.SchemaPath.
func WithRegistry(reg *schema.Registry) Option {
	return func(e *engine) { e.reg = reg }
}

// New builds an engine from configuration. Backend construction failures,
// including unimplemented backends, surface here rather than at first use.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}

	if e.reg == nil {
		if cfg.SchemaPath != "" {
			reg, err := schema.LoadFile(cfg.SchemaPath)
			if err != nil {
				return nil, err
			}
			e.reg = reg
		} else {
			e.reg = schema.NewRegistry()
		}
	}

	if e.backend == nil {
		b, err := backend.Open(cfg.Backend, backend.Options{
			SQLitePath:    cfg.resolveDBPath(),
			Neo4jURI:      cfg.Neo4j.URI,
			Neo4jUser:     cfg.Neo4j.User,
			Neo4jPassword: cfg.Neo4j.Password,
			Neo4jDatabase: cfg.Neo4j.Database,
			Logger:        e.log,
		})
		if err != nil {
			return nil, err
		}
		e.backend = b
	}

	policy, err := graph.ParseMergePolicy(cfg.MergePolicy)
	if err != nil {
		return nil, err
	}
	e.mapper = graph.NewMapper(e.reg)
	e.merger = graph.NewMerger(e.backend, policy, e.log)
	return e, nil
}

func (e *engine) Registry() *schema.Registry { return e.reg }

func (e *engine) QueryLanguage() string { return e.backend.QueryLanguage() }

func (e *engine) SchemaSummary() string {
	return fmt.Sprintf("Query language: %s\n%s", e.backend.QueryLanguage(), e.reg.Summary())
}

func (e *engine) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}
	return e.backend.Execute(ctx, query, params)
}

func (e *engine) Ingest(ctx context.Context, rootType string, instance any) (*IngestResult, error) {
	return e.IngestAll(ctx, rootType, []any{instance})
}

func (e *engine) IngestAll(ctx context.Context, rootType string, instances []any) (*IngestResult, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}
	if err := e.declareSchema(ctx); err != nil {
		return nil, err
	}

	result := &IngestResult{}
	var mappingErrs []error

	for i, instance := range instances {
		nodes, edges, err := e.mapper.Map(instance, rootType)
		if err != nil {
			// Fatal for this document only.
			e.log.Warn("skipping unmappable document", "root_type", rootType, "index", i, "error", err)
			mappingErrs = append(mappingErrs, fmt.Errorf("document %d: %w", i, err))
			continue
		}

		typeNodes, isAEdges := graph.BuildTaxonomy(nodes)
		allNodes := append(nodes, typeNodes...)
		allEdges := append(edges, isAEdges...)

		stats, err := e.merger.Ingest(ctx, allNodes, allEdges)
		if err != nil {
			return nil, fmt.Errorf("ingesting document %d: %w", i, err)
		}

		result.Documents++
		result.Stats.NodesCreated += stats.NodesCreated
		result.Stats.NodesMerged += stats.NodesMerged
		result.Stats.DuplicatesRemoved += stats.DuplicatesRemoved
		result.Stats.EdgesCreated += stats.EdgesCreated
		result.Stats.EdgesSkipped += stats.EdgesSkipped
		result.IndexFields = append(result.IndexFields, graph.ExtractIndexable(e.reg, nodes)...)

		e.log.Info("ingested document",
			"root_type", rootType,
			"nodes_created", stats.NodesCreated,
			"nodes_merged", stats.NodesMerged,
			"edges_created", stats.EdgesCreated)
	}

	return result, errors.Join(mappingErrs...)
}

// declareSchema declares storage for every registered descriptor plus the
// synthetic taxonomy types, once per engine.
func (e *engine) declareSchema(ctx context.Context) error {
	e.declareOnce.Do(func() {
		nodeTypes := e.reg.NodeTypes()
		if len(nodeTypes) == 0 {
			e.declareErr = ErrNoSchema
			return
		}
		// Registries loaded from YAML are validated at load time, but a
		// hand-built or injected registry has not been checked yet.
		if err := e.reg.Validate(); err != nil {
			e.declareErr = err
			return
		}
		e.reg.Seal()

		for _, nt := range nodeTypes {
			if err := e.backend.EnsureNodeTable(ctx, nt); err != nil {
				e.declareErr = err
				return
			}
		}
		if err := e.backend.EnsureNodeTable(ctx, graph.EntityTypeDescriptor()); err != nil {
			e.declareErr = err
			return
		}
		for _, rel := range e.reg.Relationships() {
			if err := e.backend.EnsureRelationshipTable(ctx, rel); err != nil {
				e.declareErr = err
				return
			}
		}
		if err := e.backend.EnsureRelationshipTable(ctx, graph.IsADescriptor()); err != nil {
			e.declareErr = err
			return
		}
	})
	return e.declareErr
}

func (e *engine) ensureOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.backend.Close()
}
