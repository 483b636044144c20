package graph

import (
	"fmt"
	"reflect"

	"github.com/brunobiangulo/graphmap/schema"
)

// ExtractIndexable projects the configured index fields out of a batch of
// mapped nodes for handoff to an external vector indexer. Pure projection:
// no storage side effects. List-valued fields contribute one entry per
// element; absent fields contribute nothing.
func ExtractIndexable(reg *schema.Registry, nodes []NodeRecord) []IndexField {
	var out []IndexField
	for _, n := range nodes {
		nt, err := reg.NodeType(n.Type)
		if err != nil {
			continue // synthetic types such as EntityType
		}
		for _, field := range nt.IndexFields {
			v, ok := n.Properties[field]
			if !ok || v == nil {
				continue
			}
			for _, s := range stringValues(v) {
				out = append(out, IndexField{
					NodeType:   n.Type,
					PrimaryKey: n.Key,
					FieldName:  field,
					FieldValue: s,
				})
			}
		}
	}
	return out
}

func stringValues(v any) []string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e := rv.Index(i).Interface()
			if e == nil {
				continue
			}
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
