package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/graphmap/graph"
	"github.com/brunobiangulo/graphmap/schema"
)

// Memory is an in-process Backend holding the whole graph in maps. Useful
// for tests and dry-run ingestion; state is lost on Close.
type Memory struct {
	mu        sync.RWMutex
	nodeTypes map[string]*schema.NodeType
	relTypes  map[string]*schema.Relationship
	nodes     map[string]*memNode // by internal id
	edges     map[string]*memEdge // by internal id
}

type memNode struct {
	ref       graph.NodeRef
	key       string
	props     map[string]any
	createdAt time.Time
	updatedAt time.Time
}

type memEdge struct {
	id    string
	name  string
	from  graph.NodeRef
	to    graph.NodeRef
	props map[string]any
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		nodeTypes: make(map[string]*schema.NodeType),
		relTypes:  make(map[string]*schema.Relationship),
		nodes:     make(map[string]*memNode),
		edges:     make(map[string]*memEdge),
	}
}

func (m *Memory) EnsureNodeTable(_ context.Context, nt *schema.NodeType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.nodeTypes[nt.Name]; ok {
		if existing.KeyField != nt.KeyField {
			return &schema.ConflictError{
				Name:   nt.Name,
				Detail: fmt.Sprintf("key field %q conflicts with existing %q", nt.KeyField, existing.KeyField),
			}
		}
		return nil
	}
	m.nodeTypes[nt.Name] = nt
	return nil
}

func (m *Memory) EnsureRelationshipTable(_ context.Context, rel *schema.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.relTypes[rel.Name]; ok {
		if existing.FromType != rel.FromType || existing.ToType != rel.ToType {
			return &schema.ConflictError{
				Name:   rel.Name,
				Detail: "endpoint types conflict with existing declaration",
			}
		}
		return nil
	}
	m.relTypes[rel.Name] = rel
	return nil
}

func (m *Memory) UpsertNode(_ context.Context, rec graph.NodeRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nodes {
		if n.ref.Type == rec.Type && n.key == rec.Key {
			return true, nil
		}
	}
	id := uuid.NewString()
	m.nodes[id] = &memNode{
		ref:       graph.NodeRef{Type: rec.Type, ID: id},
		key:       rec.Key,
		props:     cloneProps(rec.Properties),
		createdAt: rec.CreatedAt,
		updatedAt: rec.UpdatedAt,
	}
	return false, nil
}

func (m *Memory) FindNodesByKey(_ context.Context, typeName, key string) ([]graph.StoredNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []graph.StoredNode
	for _, n := range m.nodes {
		if n.ref.Type == typeName && n.key == key {
			out = append(out, graph.StoredNode{
				Ref:        n.ref,
				Key:        n.key,
				Properties: cloneProps(n.props),
				CreatedAt:  n.createdAt,
				UpdatedAt:  n.updatedAt,
			})
		}
	}
	return out, nil
}

func (m *Memory) SetNodeProperties(_ context.Context, ref graph.NodeRef, props map[string]any, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[ref.ID]
	if !ok {
		return fmt.Errorf("node %s not found", ref)
	}
	n.props = cloneProps(props)
	n.updatedAt = updatedAt
	return nil
}

func (m *Memory) EdgeExists(_ context.Context, name string, from, to graph.NodeRef) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgeExistsLocked(name, from, to), nil
}

func (m *Memory) edgeExistsLocked(name string, from, to graph.NodeRef) bool {
	for _, e := range m.edges {
		if e.name == name && e.from.ID == from.ID && e.to.ID == to.ID {
			return true
		}
	}
	return false
}

func (m *Memory) CreateEdge(_ context.Context, name string, from, to graph.NodeRef, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[from.ID]; !ok {
		return fmt.Errorf("edge source %s not found", from)
	}
	if _, ok := m.nodes[to.ID]; !ok {
		return fmt.Errorf("edge target %s not found", to)
	}
	id := uuid.NewString()
	m.edges[id] = &memEdge{id: id, name: name, from: from, to: to, props: cloneProps(props)}
	return nil
}

// MoveRelationships re-points edges by creating a replacement and deleting
// the original, mirroring how the database backends express the move in
// query primitives. Moves that would collide with an existing edge
// identity drop the duplicate instead.
func (m *Memory) MoveRelationships(_ context.Context, from, to graph.NodeRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.edges {
		moved := *e
		if e.from.ID == from.ID {
			moved.from = to
		}
		if e.to.ID == from.ID {
			moved.to = to
		}
		if moved.from == e.from && moved.to == e.to {
			continue
		}
		delete(m.edges, id)
		if m.edgeExistsLocked(moved.name, moved.from, moved.to) {
			continue
		}
		moved.id = uuid.NewString()
		m.edges[moved.id] = &moved
	}
	return nil
}

func (m *Memory) DeleteNode(_ context.Context, ref graph.NodeRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, ref.ID)
	for id, e := range m.edges {
		if e.from.ID == ref.ID || e.to.ID == ref.ID {
			delete(m.edges, id)
		}
	}
	return nil
}

// Execute supports two diagnostic commands: "count nodes" and
// "count edges", optionally filtered by a "type"/"name" parameter.
func (m *Memory) Execute(_ context.Context, query string, params map[string]any) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch query {
	case "count nodes":
		n := 0
		for _, node := range m.nodes {
			if t, ok := params["type"].(string); ok && node.ref.Type != t {
				continue
			}
			n++
		}
		return []map[string]any{{"count": n}}, nil
	case "count edges":
		n := 0
		for _, e := range m.edges {
			if name, ok := params["name"].(string); ok && e.name != name {
				continue
			}
			n++
		}
		return []map[string]any{{"count": n}}, nil
	}
	return nil, fmt.Errorf("graphmap: memory backend does not understand %q", query)
}

func (m *Memory) QueryLanguage() string { return "memory" }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = map[string]*memNode{}
	m.edges = map[string]*memEdge{}
	return nil
}

// SeedNode inserts a physical node directly, bypassing key matching. Test
// hook for building pre-existing duplicate state.
func (m *Memory) SeedNode(typeName, key string, props map[string]any, createdAt time.Time) graph.NodeRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.nodes[id] = &memNode{
		ref:       graph.NodeRef{Type: typeName, ID: id},
		key:       key,
		props:     cloneProps(props),
		createdAt: createdAt,
		updatedAt: createdAt,
	}
	return graph.NodeRef{Type: typeName, ID: id}
}

func cloneProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
