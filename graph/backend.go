package graph

import (
	"context"
	"time"

	"github.com/brunobiangulo/graphmap/schema"
)

// Backend is the storage abstraction the merge engine runs against. All
// operations are primitive match/create/delete steps; nothing here relies
// on vendor-specific graph procedures, so the merge algorithm stays
// portable across implementations.
//
// UpsertNode only creates or signals a match; merging properties into an
// existing node is the merge engine's job, applied through
// SetNodeProperties.
type Backend interface {
	// EnsureNodeTable declares storage for a node type. Idempotent for an
	// identical shape; returns schema.ConflictError when existing storage
	// declares a different key field.
	EnsureNodeTable(ctx context.Context, nt *schema.NodeType) error

	// EnsureRelationshipTable declares storage for an edge type. An empty
	// FromType means the relationship may originate from any node type.
	EnsureRelationshipTable(ctx context.Context, rel *schema.Relationship) error

	// UpsertNode creates the node when no node of its type and key exists
	// and reports matched=false. When one or more exist it reports
	// matched=true and changes nothing.
	UpsertNode(ctx context.Context, rec NodeRecord) (matched bool, err error)

	// FindNodesByKey returns every physical node of the given type whose
	// natural key equals key. More than one result means duplicates that
	// the merge engine must reconcile.
	FindNodesByKey(ctx context.Context, typeName, key string) ([]StoredNode, error)

	// SetNodeProperties replaces the node's property set and bumps its
	// updated-at timestamp. The created-at timestamp is never touched.
	SetNodeProperties(ctx context.Context, ref NodeRef, props map[string]any, updatedAt time.Time) error

	// EdgeExists reports whether an edge with the given name already
	// connects the two nodes.
	EdgeExists(ctx context.Context, name string, from, to NodeRef) (bool, error)

	// CreateEdge creates one edge between two resolved nodes.
	CreateEdge(ctx context.Context, name string, from, to NodeRef, props map[string]any) error

	// MoveRelationships re-points every edge touching from onto to,
	// skipping moves that would duplicate an existing (name, from, to)
	// identity. Expressed as match, create and delete primitives only.
	MoveRelationships(ctx context.Context, from, to NodeRef) error

	// DeleteNode removes a node and any edges still attached to it.
	DeleteNode(ctx context.Context, ref NodeRef) error

	// Execute runs a raw query in the backend's native language. Escape
	// hatch for diagnostics and listings; the merge engine never calls it.
	Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// QueryLanguage names the backend's query language, e.g. "cypher".
	QueryLanguage() string

	Close() error
}
