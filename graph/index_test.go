package graph

import (
	"testing"

	"github.com/brunobiangulo/graphmap/schema"
)

func TestExtractIndexable(t *testing.T) {
	reg := reviewRegistry(t)
	nodes := []NodeRecord{
		{Type: "Customer", Key: "CNES", Properties: map[string]any{
			"name": "CNES", "industry": "space",
		}},
		{Type: "Opportunity", Key: "Oslo Rollout", Properties: map[string]any{
			"name": "Oslo Rollout", "description": "ground segment refresh",
		}},
		{Type: EntityTypeName, Key: "Customer", Properties: map[string]any{"type_name": "Customer"}},
	}

	fields := ExtractIndexable(reg, nodes)
	if len(fields) != 2 {
		t.Fatalf("expected 2 index fields, got %d: %+v", len(fields), fields)
	}
	byType := make(map[string]IndexField)
	for _, f := range fields {
		byType[f.NodeType] = f
	}
	if f := byType["Customer"]; f.FieldName != "industry" || f.FieldValue != "space" || f.PrimaryKey != "CNES" {
		t.Fatalf("unexpected Customer projection %+v", f)
	}
	if f := byType["Opportunity"]; f.FieldName != "description" || f.FieldValue != "ground segment refresh" {
		t.Fatalf("unexpected Opportunity projection %+v", f)
	}
}

func TestExtractIndexableSkipsAbsentFields(t *testing.T) {
	reg := reviewRegistry(t)
	nodes := []NodeRecord{
		{Type: "Customer", Key: "CNES", Properties: map[string]any{"name": "CNES"}},
	}
	if fields := ExtractIndexable(reg, nodes); len(fields) != 0 {
		t.Fatalf("absent fields must project nothing, got %+v", fields)
	}
}

func TestExtractIndexableListValues(t *testing.T) {
	reg := schema.NewRegistry()
	reg.RegisterNodeType(&schema.NodeType{
		Name: "TechnicalApproach", KeyField: "name", IndexFields: []string{"stack"},
	})
	nodes := []NodeRecord{
		{Type: "TechnicalApproach", Key: "platform", Properties: map[string]any{
			"stack": []any{"go", "neo4j"},
		}},
	}
	fields := ExtractIndexable(reg, nodes)
	if len(fields) != 2 {
		t.Fatalf("expected one entry per list element, got %d", len(fields))
	}
	if fields[0].FieldValue != "go" || fields[1].FieldValue != "neo4j" {
		t.Fatalf("unexpected values %+v", fields)
	}
}
