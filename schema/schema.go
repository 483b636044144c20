// Package schema holds the node and relationship descriptors that drive
// object-to-graph mapping. A Registry is pure data: it performs no I/O and
// carries no backend state. Descriptors are registered once, then the
// registry is sealed before the first mapping run and is immutable from
// that point on.
package schema

import (
	"errors"
	"fmt"
	"sync"
)

// NodeType describes one mappable entity class.
type NodeType struct {
	// Name is the unique type name, e.g. "Customer".
	Name string `json:"name" yaml:"name" validate:"required"`

	// KeyField names the scalar field whose value is the natural key used
	// for merge decisions. It must be present on every instance.
	KeyField string `json:"key_field" yaml:"key_field" validate:"required"`

	// Embedded lists fields whose child objects are flattened into this
	// node's own property set under a "field." prefix instead of becoming
	// separate nodes. Order is preserved for deterministic output.
	Embedded []EmbeddedField `json:"embedded,omitempty" yaml:"embedded,omitempty"`

	// Fields declares the node type of object-valued fields that map to
	// separate nodes connected by a relationship. Scalar fields need no
	// declaration; struct instances can also be resolved by reflection.
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`

	// IndexFields names the fields eligible for external vector indexing.
	IndexFields []string `json:"index_fields,omitempty" yaml:"index_fields,omitempty"`
}

// EmbeddedField pairs a field name with the node type whose properties are
// flattened into the parent.
type EmbeddedField struct {
	Field string `json:"field" yaml:"field" validate:"required"`
	Type  string `json:"type" yaml:"type" validate:"required"`
}

// EmbeddedType returns the declared type of an embedded field, or "" if the
// field is not embedded on this node type.
func (n *NodeType) EmbeddedType(field string) string {
	for _, e := range n.Embedded {
		if e.Field == field {
			return e.Type
		}
	}
	return ""
}

// Relationship describes one edge type between two node types.
type Relationship struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	FromType    string `json:"from" yaml:"from" validate:"required"`
	ToType      string `json:"to" yaml:"to" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// DestProperties names fields that are removed from the destination
	// node's properties and attached to the edge instead.
	DestProperties []string `json:"dest_properties,omitempty" yaml:"dest_properties,omitempty"`
}

// DuplicateTypeError is returned when registering a name that already exists.
type DuplicateTypeError struct {
	Name string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("graphmap: type already registered: %s", e.Name)
}

// UnknownTypeError is returned when resolving a name that was never registered.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("graphmap: unknown type: %s", e.Name)
}

// ConflictError is returned when a backend finds existing storage for a type
// whose shape is incompatible with the descriptor being declared.
type ConflictError struct {
	Name   string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("graphmap: schema conflict for %s: %s", e.Name, e.Detail)
}

// ErrSealed is returned when registering against a sealed registry.
var ErrSealed = errors.New("graphmap: registry is sealed")

// Registry holds descriptors in insertion order. It is safe for concurrent
// reads after Seal; registration is not concurrency-safe and belongs to the
// configuration phase of a run.
type Registry struct {
	mu        sync.RWMutex
	sealed    bool
	nodeTypes []*NodeType
	byName    map[string]*NodeType
	relations []*Relationship
	relByPair map[[2]string]*Relationship
}

// NewRegistry returns an empty open registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*NodeType),
		relByPair: make(map[[2]string]*Relationship),
	}
}

// RegisterNodeType adds a node descriptor. Fails with DuplicateTypeError if
// the name is taken and ErrSealed after the registry is sealed.
func (r *Registry) RegisterNodeType(nt *NodeType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.byName[nt.Name]; ok {
		return &DuplicateTypeError{Name: nt.Name}
	}
	r.byName[nt.Name] = nt
	r.nodeTypes = append(r.nodeTypes, nt)
	return nil
}

// RegisterRelationship adds an edge descriptor. At most one relationship may
// exist per (from, to) type pair; a second registration for the same pair
// fails with DuplicateTypeError.
func (r *Registry) RegisterRelationship(rel *Relationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	pair := [2]string{rel.FromType, rel.ToType}
	if _, ok := r.relByPair[pair]; ok {
		return &DuplicateTypeError{Name: rel.Name}
	}
	r.relByPair[pair] = rel
	r.relations = append(r.relations, rel)
	return nil
}

// NodeType resolves a registered node descriptor by name.
func (r *Registry) NodeType(name string) (*NodeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nt, ok := r.byName[name]
	if !ok {
		return nil, &UnknownTypeError{Name: name}
	}
	return nt, nil
}

// RelationshipBetween returns the relationship registered for the given
// (from, to) type pair, or nil if none exists.
func (r *Registry) RelationshipBetween(from, to string) *Relationship {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relByPair[[2]string{from, to}]
}

// NodeTypes returns all node descriptors in registration order.
func (r *Registry) NodeTypes() []*NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*NodeType, len(r.nodeTypes))
	copy(out, r.nodeTypes)
	return out
}

// Relationships returns all edge descriptors in registration order.
func (r *Registry) Relationships() []*Relationship {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Relationship, len(r.relations))
	copy(out, r.relations)
	return out
}

// Seal freezes the registry. The first mapping call seals implicitly;
// sealing twice is a no-op.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the registry has been frozen.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Validate checks referential integrity of the registered descriptors:
// embedded and field declarations must point at registered types, and every
// relationship endpoint and destination property must exist.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, nt := range r.nodeTypes {
		for _, e := range nt.Embedded {
			if _, ok := r.byName[e.Type]; !ok {
				return &UnknownTypeError{Name: e.Type}
			}
		}
		for _, t := range nt.Fields {
			if _, ok := r.byName[t]; !ok {
				return &UnknownTypeError{Name: t}
			}
		}
	}
	for _, rel := range r.relations {
		if _, ok := r.byName[rel.FromType]; !ok {
			return &UnknownTypeError{Name: rel.FromType}
		}
		to, ok := r.byName[rel.ToType]
		if !ok {
			return &UnknownTypeError{Name: rel.ToType}
		}
		for _, p := range rel.DestProperties {
			if p == to.KeyField {
				return &ConflictError{Name: rel.Name, Detail: fmt.Sprintf("dest property %q is the key field of %s", p, to.Name)}
			}
		}
	}
	return nil
}
