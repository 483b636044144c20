package graph

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/brunobiangulo/graphmap/schema"
)

func reviewRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	types := []*schema.NodeType{
		{Name: "ReviewedOpportunity", KeyField: "name",
			Fields:      map[string]string{"opportunity": "Opportunity", "competitors": "Competitor"},
			IndexFields: []string{"summary"}},
		{Name: "Opportunity", KeyField: "name",
			Embedded:    []schema.EmbeddedField{{Field: "financial", Type: "FinancialMetrics"}},
			Fields:      map[string]string{"customer": "Customer"},
			IndexFields: []string{"description"}},
		{Name: "FinancialMetrics", KeyField: "name"},
		{Name: "Customer", KeyField: "name", IndexFields: []string{"industry"}},
		{Name: "Competitor", KeyField: "name"},
	}
	for _, nt := range types {
		if err := reg.RegisterNodeType(nt); err != nil {
			t.Fatalf("registering %s: %v", nt.Name, err)
		}
	}
	rels := []*schema.Relationship{
		{Name: "REVIEWS", FromType: "ReviewedOpportunity", ToType: "Opportunity"},
		{Name: "HAS_CUSTOMER", FromType: "Opportunity", ToType: "Customer"},
		{Name: "HAS_COMPETITOR", FromType: "ReviewedOpportunity", ToType: "Competitor",
			DestProperties: []string{"comment"}},
	}
	for _, rel := range rels {
		if err := reg.RegisterRelationship(rel); err != nil {
			t.Fatalf("registering %s: %v", rel.Name, err)
		}
	}
	return reg
}

func fixedMapper(reg *schema.Registry) *Mapper {
	m := NewMapper(reg)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	return m
}

func findNode(t *testing.T, nodes []NodeRecord, typeName, key string) NodeRecord {
	t.Helper()
	for _, n := range nodes {
		if n.Type == typeName && n.Key == key {
			return n
		}
	}
	t.Fatalf("no %s node with key %q in %v", typeName, key, nodes)
	return NodeRecord{}
}

func TestMapFlattensEmbedded(t *testing.T) {
	m := fixedMapper(reviewRegistry(t))
	nodes, edges, err := m.Map(map[string]any{
		"name":      "Oslo Rollout",
		"status":    "open",
		"financial": map[string]any{"tcv": 500000, "margin": 0.21},
	}, "Opportunity")
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected a single node record, got %d", len(nodes))
	}
	if len(edges) != 0 {
		t.Fatalf("expected no edges, got %d", len(edges))
	}
	n := nodes[0]
	if n.Properties["financial.tcv"] != 500000 {
		t.Fatalf("expected financial.tcv flattened onto parent, got %v", n.Properties)
	}
	if n.Properties["financial.margin"] != 0.21 {
		t.Fatalf("expected financial.margin flattened onto parent, got %v", n.Properties)
	}
	if _, ok := n.Properties["financial"]; ok {
		t.Fatal("embedded object must not survive as a property")
	}
}

func TestMapEmitsChildNodesAndEdges(t *testing.T) {
	m := fixedMapper(reviewRegistry(t))
	nodes, edges, err := m.Map(map[string]any{
		"name":     "Oslo Rollout",
		"customer": map[string]any{"name": "CNES", "industry": "space"},
	}, "Opportunity")
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].Type != "Opportunity" {
		t.Fatalf("parent must precede child, got %s first", nodes[0].Type)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	e := edges[0]
	if e.Name != "HAS_CUSTOMER" || e.FromKey != "Oslo Rollout" || e.ToKey != "CNES" {
		t.Fatalf("unexpected edge %+v", e)
	}
}

func TestMapDestPropertyMigration(t *testing.T) {
	m := fixedMapper(reviewRegistry(t))
	nodes, edges, err := m.Map(map[string]any{
		"name": "Rainbow:2026-03-01",
		"competitors": []any{
			map[string]any{"name": "Altavista Corp", "comment": "incumbent, aggressive pricing"},
		},
	}, "ReviewedOpportunity")
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}

	comp := findNode(t, nodes, "Competitor", "Altavista Corp")
	if _, ok := comp.Properties["comment"]; ok {
		t.Fatal("comment must be removed from the Competitor node")
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].Name != "HAS_COMPETITOR" {
		t.Fatalf("expected HAS_COMPETITOR, got %s", edges[0].Name)
	}
	if edges[0].Properties["comment"] != "incumbent, aggressive pricing" {
		t.Fatalf("expected comment on the edge, got %v", edges[0].Properties)
	}
}

func TestMapListFieldsFanOut(t *testing.T) {
	m := fixedMapper(reviewRegistry(t))
	nodes, edges, err := m.Map(map[string]any{
		"name": "Rainbow:2026-03-01",
		"competitors": []any{
			map[string]any{"name": "A"},
			map[string]any{"name": "B"},
		},
	}, "ReviewedOpportunity")
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
}

func TestMapEmptyDeclaredList(t *testing.T) {
	m := fixedMapper(reviewRegistry(t))
	for _, list := range []any{[]any{}, []any{nil}, []map[string]any{}} {
		nodes, edges, err := m.Map(map[string]any{
			"name":        "Rainbow:2026-03-01",
			"competitors": list,
		}, "ReviewedOpportunity")
		if err != nil {
			t.Fatalf("mapping with list %#v: %v", list, err)
		}
		if len(nodes) != 1 {
			t.Fatalf("list %#v: expected only the root node, got %d", list, len(nodes))
		}
		if len(edges) != 0 {
			t.Fatalf("list %#v: expected no edges, got %d", list, len(edges))
		}
		if _, ok := nodes[0].Properties["competitors"]; ok {
			t.Fatalf("list %#v: declared field leaked into properties", list)
		}
	}
}

func TestMapCyclicEmbedding(t *testing.T) {
	reg := schema.NewRegistry()
	reg.RegisterNodeType(&schema.NodeType{Name: "A", KeyField: "name",
		Embedded: []schema.EmbeddedField{{Field: "b", Type: "B"}}})
	reg.RegisterNodeType(&schema.NodeType{Name: "B", KeyField: "name",
		Embedded: []schema.EmbeddedField{{Field: "a", Type: "A"}}})

	m := NewMapper(reg)
	_, _, err := m.Map(map[string]any{
		"name": "root",
		"b":    map[string]any{"a": map[string]any{"name": "again"}},
	}, "A")
	var cyc *CyclicEmbeddingError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicEmbeddingError, got %v", err)
	}
	if cyc.Type != "A" {
		t.Fatalf("expected cycle at A, got %s", cyc.Type)
	}
}

func TestMapUnmappedRelationship(t *testing.T) {
	reg := schema.NewRegistry()
	reg.RegisterNodeType(&schema.NodeType{Name: "Parent", KeyField: "name",
		Fields: map[string]string{"child": "Child"}})
	reg.RegisterNodeType(&schema.NodeType{Name: "Child", KeyField: "name"})

	m := NewMapper(reg)
	_, _, err := m.Map(map[string]any{
		"name":  "p",
		"child": map[string]any{"name": "c"},
	}, "Parent")
	var unmapped *UnmappedRelationshipError
	if !errors.As(err, &unmapped) {
		t.Fatalf("expected UnmappedRelationshipError, got %v", err)
	}
	if unmapped.FromType != "Parent" || unmapped.ToType != "Child" {
		t.Fatalf("unexpected error detail %+v", unmapped)
	}
}

func TestMapUndeclaredObjectFieldFailsLoudly(t *testing.T) {
	reg := schema.NewRegistry()
	reg.RegisterNodeType(&schema.NodeType{Name: "Parent", KeyField: "name"})

	m := NewMapper(reg)
	_, _, err := m.Map(map[string]any{
		"name":    "p",
		"mystery": map[string]any{"x": 1},
	}, "Parent")
	var unmapped *UnmappedRelationshipError
	if !errors.As(err, &unmapped) {
		t.Fatalf("expected UnmappedRelationshipError, got %v", err)
	}
}

func TestMapMissingKeyField(t *testing.T) {
	m := fixedMapper(reviewRegistry(t))
	if _, _, err := m.Map(map[string]any{"status": "open"}, "Opportunity"); err == nil {
		t.Fatal("expected error for missing key field")
	}
}

func TestMapUnknownRootType(t *testing.T) {
	m := fixedMapper(reviewRegistry(t))
	_, _, err := m.Map(map[string]any{"name": "x"}, "Widget")
	var unknown *schema.UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
}

func TestMapSealsRegistry(t *testing.T) {
	reg := reviewRegistry(t)
	m := NewMapper(reg)
	if _, _, err := m.Map(map[string]any{"name": "x"}, "Customer"); err != nil {
		t.Fatalf("mapping: %v", err)
	}
	if !reg.Sealed() {
		t.Fatal("first Map call must seal the registry")
	}
}

func TestMapDeterministic(t *testing.T) {
	instance := map[string]any{
		"name":     "Oslo Rollout",
		"customer": map[string]any{"name": "CNES"},
		"financial": map[string]any{
			"tcv": 500000,
		},
	}
	m := fixedMapper(reviewRegistry(t))
	n1, e1, err := m.Map(instance, "Opportunity")
	if err != nil {
		t.Fatalf("first map: %v", err)
	}
	n2, e2, err := m.Map(instance, "Opportunity")
	if err != nil {
		t.Fatalf("second map: %v", err)
	}
	if !reflect.DeepEqual(n1, n2) || !reflect.DeepEqual(e1, e2) {
		t.Fatal("mapping must be deterministic for identical input")
	}
}

type financialMetrics struct {
	TCV    int     `json:"tcv"`
	Margin float64 `json:"margin"`
}

type Customer struct {
	Name     string `json:"name"`
	Industry string `json:"industry,omitempty"`
}

type opportunityDoc struct {
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Financial *financialMetrics `json:"financial,omitempty"`
	Cust      *Customer         `json:"customer,omitempty"`
}

func TestMapStructInstance(t *testing.T) {
	reg := schema.NewRegistry()
	reg.RegisterNodeType(&schema.NodeType{Name: "Opportunity", KeyField: "name",
		Embedded: []schema.EmbeddedField{{Field: "financial", Type: "FinancialMetrics"}}})
	reg.RegisterNodeType(&schema.NodeType{Name: "FinancialMetrics", KeyField: "name"})
	reg.RegisterNodeType(&schema.NodeType{Name: "Customer", KeyField: "name"})
	reg.RegisterRelationship(&schema.Relationship{
		Name: "HAS_CUSTOMER", FromType: "Opportunity", ToType: "Customer"})

	m := NewMapper(reg)
	nodes, edges, err := m.Map(&opportunityDoc{
		Name:      "Oslo Rollout",
		Status:    "open",
		Financial: &financialMetrics{TCV: 500000, Margin: 0.2},
		Cust:      &Customer{Name: "CNES"}, // type resolved by reflection
	}, "Opportunity")
	if err != nil {
		t.Fatalf("mapping struct: %v", err)
	}
	opp := findNode(t, nodes, "Opportunity", "Oslo Rollout")
	if opp.Properties["financial.tcv"] != 500000 {
		t.Fatalf("expected flattened struct embedding, got %v", opp.Properties)
	}
	findNode(t, nodes, "Customer", "CNES")
	if len(edges) != 1 || edges[0].Name != "HAS_CUSTOMER" {
		t.Fatalf("expected a HAS_CUSTOMER edge, got %v", edges)
	}
}
