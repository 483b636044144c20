// Package graph maps typed object trees onto property-graph records and
// merges them into a backend without duplicating nodes or edges. It holds
// the object mapper, the merge engine, the taxonomy builder and the index
// field extractor; concrete storage lives behind the Backend interface.
package graph

import (
	"fmt"
	"time"
)

// NodeRecord is the mapper's normalized output for one node instance.
// Identity is (Type, Key) where Key is the natural-key field value.
type NodeRecord struct {
	Type       string         `json:"type"`
	Key        string         `json:"key"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// EdgeRecord is the mapper's normalized output for one edge instance.
// Endpoints are addressed by natural key; the merge engine resolves them to
// canonical node references at ingest time.
type EdgeRecord struct {
	Name       string         `json:"name"`
	FromType   string         `json:"from_type"`
	FromKey    string         `json:"from_key"`
	ToType     string         `json:"to_type"`
	ToKey      string         `json:"to_key"`
	Properties map[string]any `json:"properties,omitempty"`
}

// NodeRef addresses one physical node in the backend by its internal
// identifier, which is distinct from the natural key.
type NodeRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r NodeRef) String() string {
	return r.Type + "/" + r.ID
}

// StoredNode is a node as read back from the backend.
type StoredNode struct {
	Ref        NodeRef        `json:"ref"`
	Key        string         `json:"key"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IndexField is one indexable field value projected out of a mapped node,
// handed to an external vector indexer.
type IndexField struct {
	NodeType   string `json:"node_type"`
	PrimaryKey string `json:"primary_key"`
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value"`
}

// CyclicEmbeddingError is returned when a type transitively embeds itself.
type CyclicEmbeddingError struct {
	Type string
	Path []string
}

func (e *CyclicEmbeddingError) Error() string {
	return fmt.Sprintf("graphmap: cyclic embedding at type %s (path %v)", e.Type, e.Path)
}

// UnmappedRelationshipError is returned for an object-valued field with no
// relationship descriptor covering its type pair. Fields are never silently
// dropped.
type UnmappedRelationshipError struct {
	FromType string
	ToType   string
	Field    string
}

func (e *UnmappedRelationshipError) Error() string {
	if e.ToType == "" {
		return fmt.Sprintf("graphmap: no mapping for object field %s.%s", e.FromType, e.Field)
	}
	return fmt.Sprintf("graphmap: no relationship registered for %s -> %s (field %s)", e.FromType, e.ToType, e.Field)
}
