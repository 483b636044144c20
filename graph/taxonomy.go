package graph

import "github.com/brunobiangulo/graphmap/schema"

// EntityTypeName is the node type of the synthetic taxonomy nodes, one per
// distinct mapped type, keyed by the type name itself.
const EntityTypeName = "EntityType"

// IsARelation is the edge name linking each instance node to its
// EntityType node.
const IsARelation = "IS_A"

// EntityTypeDescriptor returns the descriptor for the synthetic taxonomy
// node type.
func EntityTypeDescriptor() *schema.NodeType {
	return &schema.NodeType{Name: EntityTypeName, KeyField: "type_name"}
}

// IsADescriptor returns the descriptor for the IS_A edge. FromType is
// empty because any instance node type may carry one.
func IsADescriptor() *schema.Relationship {
	return &schema.Relationship{
		Name:        IsARelation,
		ToType:      EntityTypeName,
		Description: "Links an instance node to its entity type",
	}
}

// BuildTaxonomy derives taxonomy records from a batch of mapped nodes: one
// EntityType node per distinct type present and one IS_A edge per instance
// node. The records flow through the normal merge path, so re-ingestion
// never duplicates EntityType nodes or IS_A edges.
func BuildTaxonomy(nodes []NodeRecord) ([]NodeRecord, []EdgeRecord) {
	var typeNodes []NodeRecord
	var edges []EdgeRecord
	seen := make(map[string]bool)

	for _, n := range nodes {
		if n.Type == EntityTypeName {
			continue
		}
		if !seen[n.Type] {
			seen[n.Type] = true
			typeNodes = append(typeNodes, NodeRecord{
				Type:       EntityTypeName,
				Key:        n.Type,
				Properties: map[string]any{"type_name": n.Type},
				CreatedAt:  n.CreatedAt,
				UpdatedAt:  n.UpdatedAt,
			})
		}
		edges = append(edges, EdgeRecord{
			Name:     IsARelation,
			FromType: n.Type,
			FromKey:  n.Key,
			ToType:   EntityTypeName,
			ToKey:    n.Type,
		})
	}
	return typeNodes, edges
}
