package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Summary renders a human-readable listing of the registered node types,
// their key, embedded and indexed fields, and the relationships between
// them. Intended for documentation and prompt generation, not for machine
// consumption.
func (r *Registry) Summary() string {
	var b strings.Builder

	b.WriteString("Node types:\n")
	for _, nt := range r.NodeTypes() {
		fmt.Fprintf(&b, "  %s (key: %s)\n", nt.Name, nt.KeyField)
		for _, e := range nt.Embedded {
			fmt.Fprintf(&b, "    embedded %s: %s\n", e.Field, e.Type)
		}
		fields := make([]string, 0, len(nt.Fields))
		for f := range nt.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(&b, "    field %s -> %s\n", f, nt.Fields[f])
		}
		if len(nt.IndexFields) > 0 {
			fmt.Fprintf(&b, "    indexed: %s\n", strings.Join(nt.IndexFields, ", "))
		}
	}

	rels := r.Relationships()
	if len(rels) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range rels {
			fmt.Fprintf(&b, "  (%s)-[%s]->(%s)", rel.FromType, rel.Name, rel.ToType)
			if len(rel.DestProperties) > 0 {
				fmt.Fprintf(&b, " carrying %s", strings.Join(rel.DestProperties, ", "))
			}
			if rel.Description != "" {
				fmt.Fprintf(&b, ": %s", rel.Description)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
