package backend

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/graphmap/graph"
	"github.com/brunobiangulo/graphmap/schema"
)

// Neo4j speaks plain parameterized Cypher over the official driver. Nodes
// are labelled with their type name and carry reserved properties: _id
// (internal identifier), _name (natural key), _created_at and _updated_at.
// Every operation, including relationship moves, is expressed as MATCH,
// CREATE and DELETE primitives so no server-side plugin is required.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	log      *slog.Logger
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenNeo4j connects and verifies connectivity. A dead server fails the
// session here rather than on first ingest.
func OpenNeo4j(opts Options) (*Neo4j, error) {
	log := opts.logger()
	driver, err := neo4j.NewDriverWithContext(opts.Neo4jURI,
		neo4j.BasicAuth(opts.Neo4jUser, opts.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	return &Neo4j{driver: driver, database: opts.Neo4jDatabase, log: log}, nil
}

func (n *Neo4j) Close() error {
	return n.driver.Close(context.Background())
}

func (n *Neo4j) QueryLanguage() string { return "cypher" }

func (n *Neo4j) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: n.database})
}

// ident validates a label or relationship name before it is interpolated
// into Cypher text; Cypher cannot parameterize those positions.
func ident(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("graphmap: invalid graph identifier %q", name)
	}
	return name, nil
}

func (n *Neo4j) EnsureNodeTable(ctx context.Context, nt *schema.NodeType) error {
	label, err := ident(nt.Name)
	if err != nil {
		return err
	}
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	// Declared shape is tracked on a meta node so redeclaration with a
	// different key field is caught.
	result, err := session.Run(ctx, `
		MERGE (t:_GraphType {name: $name})
		ON CREATE SET t.key_field = $keyField
		RETURN t.key_field AS keyField`,
		map[string]any{"name": nt.Name, "keyField": nt.KeyField})
	if err != nil {
		return err
	}
	if result.Next(ctx) {
		if existing, _ := result.Record().Get("keyField"); existing != nt.KeyField {
			return &schema.ConflictError{
				Name:   nt.Name,
				Detail: fmt.Sprintf("key field %q conflicts with existing %v", nt.KeyField, existing),
			}
		}
	}
	if err := result.Err(); err != nil {
		return err
	}

	_, err = session.Run(ctx, fmt.Sprintf(
		`CREATE INDEX idx_%s_name IF NOT EXISTS FOR (n:%s) ON (n._name)`, label, label), nil)
	return err
}

func (n *Neo4j) EnsureRelationshipTable(ctx context.Context, rel *schema.Relationship) error {
	if _, err := ident(rel.Name); err != nil {
		return err
	}
	// Relationship types are schema-free in Neo4j; declaring one is a
	// no-op beyond name validation.
	return nil
}

func (n *Neo4j) UpsertNode(ctx context.Context, rec graph.NodeRecord) (bool, error) {
	label, err := ident(rec.Type)
	if err != nil {
		return false, err
	}
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, fmt.Sprintf(
		`MATCH (n:%s {_name: $key}) RETURN count(n) AS c`, label),
		map[string]any{"key": rec.Key})
	if err != nil {
		return false, err
	}
	if result.Next(ctx) {
		if c, _ := result.Record().Get("c"); c.(int64) > 0 {
			return true, nil
		}
	}
	if err := result.Err(); err != nil {
		return false, err
	}

	_, err = session.Run(ctx, fmt.Sprintf(`
		CREATE (n:%s)
		SET n += $props,
		    n._id = $id,
		    n._name = $key,
		    n._created_at = $created,
		    n._updated_at = $updated`, label),
		map[string]any{
			"id":      uuid.NewString(),
			"key":     rec.Key,
			"props":   rec.Properties,
			"created": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated": rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	return false, err
}

func (n *Neo4j) FindNodesByKey(ctx context.Context, typeName, key string) ([]graph.StoredNode, error) {
	label, err := ident(typeName)
	if err != nil {
		return nil, err
	}
	session := n.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, fmt.Sprintf(
		`MATCH (n:%s {_name: $key}) RETURN n ORDER BY n._created_at, n._id`, label),
		map[string]any{"key": key})
	if err != nil {
		return nil, err
	}

	var out []graph.StoredNode
	for result.Next(ctx) {
		value, _ := result.Record().Get("n")
		node, ok := value.(neo4j.Node)
		if !ok {
			continue
		}
		out = append(out, storedFromProps(typeName, node.Props))
	}
	return out, result.Err()
}

func storedFromProps(typeName string, props map[string]any) graph.StoredNode {
	node := graph.StoredNode{
		Ref:        graph.NodeRef{Type: typeName},
		Properties: make(map[string]any, len(props)),
	}
	for k, v := range props {
		switch k {
		case "_id":
			node.Ref.ID, _ = v.(string)
		case "_name":
			node.Key, _ = v.(string)
		case "_created_at":
			if s, ok := v.(string); ok {
				node.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
			}
		case "_updated_at":
			if s, ok := v.(string); ok {
				node.UpdatedAt, _ = time.Parse(time.RFC3339Nano, s)
			}
		default:
			node.Properties[k] = v
		}
	}
	return node
}

func (n *Neo4j) SetNodeProperties(ctx context.Context, ref graph.NodeRef, props map[string]any, updatedAt time.Time) error {
	label, err := ident(ref.Type)
	if err != nil {
		return err
	}
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.Run(ctx, fmt.Sprintf(`
		MATCH (n:%s {_id: $id})
		SET n += $props, n._updated_at = $updated`, label),
		map[string]any{
			"id":      ref.ID,
			"props":   props,
			"updated": updatedAt.UTC().Format(time.RFC3339Nano),
		})
	return err
}

func (n *Neo4j) EdgeExists(ctx context.Context, name string, from, to graph.NodeRef) (bool, error) {
	rel, err := ident(name)
	if err != nil {
		return false, err
	}
	session := n.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, fmt.Sprintf(`
		MATCH ({_id: $from})-[r:%s]->({_id: $to})
		RETURN count(r) AS c`, rel),
		map[string]any{"from": from.ID, "to": to.ID})
	if err != nil {
		return false, err
	}
	if result.Next(ctx) {
		c, _ := result.Record().Get("c")
		return c.(int64) > 0, result.Err()
	}
	return false, result.Err()
}

func (n *Neo4j) CreateEdge(ctx context.Context, name string, from, to graph.NodeRef, props map[string]any) error {
	rel, err := ident(name)
	if err != nil {
		return err
	}
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	if props == nil {
		props = map[string]any{}
	}
	_, err = session.Run(ctx, fmt.Sprintf(`
		MATCH (a {_id: $from}), (b {_id: $to})
		CREATE (a)-[r:%s]->(b)
		SET r += $props`, rel),
		map[string]any{"from": from.ID, "to": to.ID, "props": props})
	return err
}

// MoveRelationships re-points every edge touching from onto to using only
// match, create and delete steps: collect the edges, recreate each against
// the survivor unless that identity already exists, then delete the
// original. Vendor refactoring procedures are deliberately not used.
func (n *Neo4j) MoveRelationships(ctx context.Context, from, to graph.NodeRef) error {
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	type movedEdge struct {
		relType  string
		props    map[string]any
		otherID  string
		outgoing bool
	}
	var edges []movedEdge

	collect := func(query string, outgoing bool) error {
		result, err := session.Run(ctx, query, map[string]any{"id": from.ID})
		if err != nil {
			return err
		}
		for result.Next(ctx) {
			rec := result.Record()
			relType, _ := rec.Get("relType")
			props, _ := rec.Get("props")
			otherID, _ := rec.Get("otherID")
			e := movedEdge{outgoing: outgoing}
			e.relType, _ = relType.(string)
			e.otherID, _ = otherID.(string)
			if m, ok := props.(map[string]any); ok {
				e.props = m
			}
			edges = append(edges, e)
		}
		return result.Err()
	}

	if err := collect(`
		MATCH (d {_id: $id})-[r]->(m)
		RETURN type(r) AS relType, properties(r) AS props, m._id AS otherID`, true); err != nil {
		return err
	}
	if err := collect(`
		MATCH (m)-[r]->(d {_id: $id})
		RETURN type(r) AS relType, properties(r) AS props, m._id AS otherID`, false); err != nil {
		return err
	}

	for _, e := range edges {
		rel, err := ident(e.relType)
		if err != nil {
			return err
		}
		otherID := e.otherID
		if otherID == from.ID {
			otherID = to.ID // self-edge on the duplicate
		}
		srcID, dstID := to.ID, otherID
		if !e.outgoing {
			srcID, dstID = otherID, to.ID
		}

		exists, err := n.EdgeExists(ctx, e.relType, graph.NodeRef{ID: srcID}, graph.NodeRef{ID: dstID})
		if err != nil {
			return err
		}
		if !exists {
			if e.props == nil {
				e.props = map[string]any{}
			}
			if _, err := session.Run(ctx, fmt.Sprintf(`
				MATCH (a {_id: $src}), (b {_id: $dst})
				CREATE (a)-[r:%s]->(b)
				SET r += $props`, rel),
				map[string]any{"src": srcID, "dst": dstID, "props": e.props}); err != nil {
				return err
			}
		}

		deleteQuery := fmt.Sprintf(`MATCH (d {_id: $id})-[r:%s]->({_id: $other}) DELETE r`, rel)
		if !e.outgoing {
			deleteQuery = fmt.Sprintf(`MATCH ({_id: $other})-[r:%s]->(d {_id: $id}) DELETE r`, rel)
		}
		if _, err := session.Run(ctx, deleteQuery,
			map[string]any{"id": from.ID, "other": e.otherID}); err != nil {
			return err
		}
	}
	n.log.Debug("moved relationships", "from", from.ID, "to", to.ID, "edges", len(edges))
	return nil
}

func (n *Neo4j) DeleteNode(ctx context.Context, ref graph.NodeRef) error {
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.Run(ctx,
		`MATCH (n {_id: $id}) DETACH DELETE n`, map[string]any{"id": ref.ID})
	return err
}

func (n *Neo4j) Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for _, k := range rec.Keys {
			row[k], _ = rec.Get(k)
		}
		out = append(out, row)
	}
	return out, result.Err()
}
