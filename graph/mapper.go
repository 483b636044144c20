package graph

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/graphmap/schema"
)

// Mapper walks a typed object instance against a schema registry and
// produces the node and edge records that describe it. Mapping is pure:
// identical input against a sealed registry always yields the same record
// set, in parent-before-child order.
//
// Instances are introspected by field name and value only: plain
// map[string]any objects and Go structs (fields named by their json tag
// when present) are both accepted. Object-valued fields resolve their node
// type from the descriptor's field declarations, or from the Go type name
// when the value is a struct.
type Mapper struct {
	reg *schema.Registry
	now func() time.Time
}

// NewMapper returns a mapper over the given registry. The registry is
// sealed on the first Map call.
func NewMapper(reg *schema.Registry) *Mapper {
	return &Mapper{reg: reg, now: time.Now}
}

// Map flattens one instance tree into node and edge records. The root node
// is first, every parent precedes its children, and embedded child objects
// contribute prefixed properties to their parent instead of records of
// their own.
func (m *Mapper) Map(instance any, rootType string) ([]NodeRecord, []EdgeRecord, error) {
	m.reg.Seal()

	var nodes []NodeRecord
	var edges []EdgeRecord
	if _, err := m.mapObject(instance, rootType, &nodes, &edges); err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// mapObject maps one object as its own node record, recursing into
// relationship fields. It returns the index of the emitted record in nodes
// so callers can migrate destination properties off it.
func (m *Mapper) mapObject(instance any, typeName string, nodes *[]NodeRecord, edges *[]EdgeRecord) (int, error) {
	nt, err := m.reg.NodeType(typeName)
	if err != nil {
		return 0, err
	}
	fields, order, err := fieldsOf(instance)
	if err != nil {
		return 0, fmt.Errorf("mapping %s: %w", typeName, err)
	}

	props := make(map[string]any)
	type childField struct {
		field     string
		childType string
		rel       *schema.Relationship
		values    []any
	}
	var children []childField

	for _, f := range order {
		v := fields[f]
		if v == nil {
			continue
		}

		if embType := nt.EmbeddedType(f); embType != "" {
			visited := map[string]bool{typeName: true}
			if err := m.flattenEmbedded(v, embType, f+".", props, visited, []string{typeName}); err != nil {
				return 0, err
			}
			continue
		}

		childType, objects, isObject, err := m.childTypeOf(nt, f, v)
		if err != nil {
			return 0, err
		}
		if !isObject {
			props[f] = v
			continue
		}
		if childType == "" {
			return 0, &UnmappedRelationshipError{FromType: typeName, Field: f}
		}
		rel := m.reg.RelationshipBetween(typeName, childType)
		if rel == nil {
			return 0, &UnmappedRelationshipError{FromType: typeName, ToType: childType, Field: f}
		}
		children = append(children, childField{field: f, childType: childType, rel: rel, values: objects})
	}

	key, ok := props[nt.KeyField]
	if !ok || key == nil || fmt.Sprint(key) == "" {
		return 0, fmt.Errorf("mapping %s: key field %q missing or empty", typeName, nt.KeyField)
	}

	now := m.now()
	idx := len(*nodes)
	*nodes = append(*nodes, NodeRecord{
		Type:       typeName,
		Key:        fmt.Sprint(key),
		Properties: props,
		CreatedAt:  now,
		UpdatedAt:  now,
	})

	for _, c := range children {
		for _, obj := range c.values {
			childIdx, err := m.mapObject(obj, c.childType, nodes, edges)
			if err != nil {
				return 0, err
			}
			child := &(*nodes)[childIdx]

			var edgeProps map[string]any
			for _, p := range c.rel.DestProperties {
				if pv, ok := child.Properties[p]; ok {
					if edgeProps == nil {
						edgeProps = make(map[string]any)
					}
					edgeProps[p] = pv
					delete(child.Properties, p)
				}
			}

			*edges = append(*edges, EdgeRecord{
				Name:       c.rel.Name,
				FromType:   typeName,
				FromKey:    (*nodes)[idx].Key,
				ToType:     c.childType,
				ToKey:      child.Key,
				Properties: edgeProps,
			})
		}
	}

	return idx, nil
}

// flattenEmbedded folds an embedded child object's properties into the
// parent's property map under the given prefix, recursing through nested
// embeddings. Depth is unbounded but a type may never embed itself
// transitively.
func (m *Mapper) flattenEmbedded(instance any, typeName, prefix string, props map[string]any, visited map[string]bool, path []string) error {
	if visited[typeName] {
		return &CyclicEmbeddingError{Type: typeName, Path: append(path, typeName)}
	}
	visited[typeName] = true
	defer delete(visited, typeName)

	nt, err := m.reg.NodeType(typeName)
	if err != nil {
		return err
	}
	fields, order, err := fieldsOf(instance)
	if err != nil {
		return fmt.Errorf("flattening %s: %w", typeName, err)
	}

	for _, f := range order {
		v := fields[f]
		if v == nil {
			continue
		}
		if embType := nt.EmbeddedType(f); embType != "" {
			if err := m.flattenEmbedded(v, embType, prefix+f+".", props, visited, append(path, typeName)); err != nil {
				return err
			}
			continue
		}
		if isObjectValue(v) {
			return &UnmappedRelationshipError{FromType: typeName, Field: strings.TrimSuffix(prefix, ".") + "." + f}
		}
		props[prefix+f] = v
	}
	return nil
}

// childTypeOf decides whether a field value is an object (or list of
// objects) that maps to separate nodes, and what node type it carries.
// Declared field types win; struct values fall back to their Go type name.
func (m *Mapper) childTypeOf(nt *schema.NodeType, field string, v any) (childType string, objects []any, isObject bool, err error) {
	elems, anyObject := objectElems(v)
	declared := nt.Fields[field]

	if declared != "" {
		if !anyObject {
			// An empty (or all-nil) list on a declared field is ordinary
			// input: zero children, not a malformed document.
			if emptyList(v) {
				return declared, nil, true, nil
			}
			return "", nil, false, fmt.Errorf("field %s.%s declared as %s but holds a scalar", nt.Name, field, declared)
		}
		return declared, elems, true, nil
	}
	if !anyObject {
		return "", nil, false, nil
	}
	// Undeclared object: a struct still resolves by its type name.
	if name := structTypeName(elems[0]); name != "" {
		return name, elems, true, nil
	}
	return "", elems, true, nil
}

// ---------------------------------------------------------------------------
// instance introspection
// ---------------------------------------------------------------------------

// fieldsOf extracts field names and values from a map or struct instance.
// The returned order is deterministic: sorted keys for maps, declaration
// order for structs.
func fieldsOf(instance any) (map[string]any, []string, error) {
	if fm, ok := instance.(map[string]any); ok {
		order := make([]string, 0, len(fm))
		for k := range fm {
			order = append(order, k)
		}
		sort.Strings(order)
		return fm, order, nil
	}

	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil, fmt.Errorf("nil instance")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("unsupported instance type %T", instance)
	}

	rt := rv.Type()
	fields := make(map[string]any, rt.NumField())
	order := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag := sf.Tag.Get("json"); tag != "" && tag != "-" {
			if comma := strings.Index(tag, ","); comma >= 0 {
				tag = tag[:comma]
			}
			if tag != "" {
				name = tag
			}
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			continue
		}
		fields[name] = fv.Interface()
		order = append(order, name)
	}
	return fields, order, nil
}

// objectElems normalizes a field value into a list of object elements.
// Scalars and lists of scalars report anyObject=false.
func objectElems(v any) (elems []any, anyObject bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			e := rv.Index(i).Interface()
			if e == nil {
				continue
			}
			if !isObjectValue(e) {
				return nil, false
			}
			elems = append(elems, e)
		}
		return elems, len(elems) > 0
	case reflect.Map, reflect.Struct:
		if isObjectValue(v) {
			return []any{v}, true
		}
	}
	return nil, false
}

// emptyList reports whether v is a list with no non-nil elements.
func emptyList(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if rv.Index(i).Interface() != nil {
			return false
		}
	}
	return true
}

// isObjectValue reports whether v is a mappable object rather than a
// scalar property value.
func isObjectValue(v any) bool {
	if _, ok := v.(map[string]any); ok {
		return true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		return !rv.Type().ConvertibleTo(reflect.TypeOf(time.Time{}))
	}
	return false
}

// structTypeName returns the Go type name of a struct value, or "" when v
// is not a struct.
func structTypeName(v any) string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		return rv.Type().Name()
	}
	return ""
}
