//go:build cgo

package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brunobiangulo/graphmap/graph"
	"github.com/brunobiangulo/graphmap/schema"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	s, err := OpenSQLite(dbPath, nil)
	if err != nil {
		t.Fatalf("opening sqlite backend: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedNode(t *testing.T, s *SQLite, typeName, key string, props map[string]any, createdAt time.Time) graph.NodeRef {
	t.Helper()
	rec := graph.NodeRecord{
		Type: typeName, Key: key, Properties: props,
		CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	if props == nil {
		rec.Properties = map[string]any{}
	}
	if _, err := s.UpsertNode(context.Background(), rec); err != nil {
		t.Fatalf("seeding %s %q: %v", typeName, key, err)
	}
	nodes, err := s.FindNodesByKey(context.Background(), typeName, key)
	if err != nil || len(nodes) == 0 {
		t.Fatalf("reading back %s %q: %v", typeName, key, err)
	}
	return nodes[len(nodes)-1].Ref
}

// ---------------------------------------------------------------------------
// Schema declaration
// ---------------------------------------------------------------------------

func TestSQLiteEnsureNodeTable(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	nt := &schema.NodeType{Name: "Customer", KeyField: "name"}
	if err := s.EnsureNodeTable(ctx, nt); err != nil {
		t.Fatalf("first declaration: %v", err)
	}
	if err := s.EnsureNodeTable(ctx, nt); err != nil {
		t.Fatalf("redeclaration with identical shape: %v", err)
	}

	var conflict *schema.ConflictError
	err := s.EnsureNodeTable(ctx, &schema.NodeType{Name: "Customer", KeyField: "id"})
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestSQLiteEnsureRelationshipTable(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	rel := &schema.Relationship{Name: "HAS_CUSTOMER", FromType: "Opportunity", ToType: "Customer"}
	if err := s.EnsureRelationshipTable(ctx, rel); err != nil {
		t.Fatalf("first declaration: %v", err)
	}
	if err := s.EnsureRelationshipTable(ctx, rel); err != nil {
		t.Fatalf("redeclaration: %v", err)
	}
	var conflict *schema.ConflictError
	err := s.EnsureRelationshipTable(ctx, &schema.Relationship{
		Name: "HAS_CUSTOMER", FromType: "Opportunity", ToType: "Partner"})
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

func TestSQLiteUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	matched, err := s.UpsertNode(ctx, graph.NodeRecord{
		Type: "Customer", Key: "CNES",
		Properties: map[string]any{"name": "CNES", "industry": "space"},
		CreatedAt:  now, UpdatedAt: now,
	})
	if err != nil || matched {
		t.Fatalf("first upsert: matched=%v err=%v", matched, err)
	}
	matched, err = s.UpsertNode(ctx, graph.NodeRecord{
		Type: "Customer", Key: "CNES", Properties: map[string]any{},
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil || !matched {
		t.Fatalf("second upsert must only signal a match: matched=%v err=%v", matched, err)
	}

	nodes, err := s.FindNodesByKey(ctx, "Customer", "CNES")
	if err != nil {
		t.Fatalf("finding: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	n := nodes[0]
	if n.Properties["industry"] != "space" {
		t.Fatalf("properties lost in round trip: %+v", n.Properties)
	}
	if !n.CreatedAt.Equal(now) || !n.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps lost in round trip: %v %v", n.CreatedAt, n.UpdatedAt)
	}
}

func TestSQLiteSetNodeProperties(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := seedNode(t, s, "Customer", "CNES", map[string]any{"name": "CNES"}, created)

	updated := created.Add(time.Hour)
	err := s.SetNodeProperties(ctx, ref, map[string]any{"name": "CNES", "industry": "space"}, updated)
	if err != nil {
		t.Fatalf("setting properties: %v", err)
	}

	nodes, _ := s.FindNodesByKey(ctx, "Customer", "CNES")
	if nodes[0].Properties["industry"] != "space" {
		t.Fatalf("property not written: %+v", nodes[0].Properties)
	}
	if !nodes[0].CreatedAt.Equal(created) {
		t.Fatal("createdAt must never be touched by property writes")
	}
	if !nodes[0].UpdatedAt.Equal(updated) {
		t.Fatalf("updatedAt not bumped: %v", nodes[0].UpdatedAt)
	}

	if err := s.SetNodeProperties(ctx, graph.NodeRef{Type: "Customer", ID: "nope"}, nil, updated); err == nil {
		t.Fatal("expected error for unknown node")
	}
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

func TestSQLiteEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	opp := seedNode(t, s, "Opportunity", "Oslo Rollout", nil, now)
	cust := seedNode(t, s, "Customer", "CNES", nil, now)

	exists, err := s.EdgeExists(ctx, "HAS_CUSTOMER", opp, cust)
	if err != nil || exists {
		t.Fatalf("expected no edge yet: exists=%v err=%v", exists, err)
	}
	if err := s.CreateEdge(ctx, "HAS_CUSTOMER", opp, cust, map[string]any{"comment": "primary"}); err != nil {
		t.Fatalf("creating edge: %v", err)
	}
	exists, err = s.EdgeExists(ctx, "HAS_CUSTOMER", opp, cust)
	if err != nil || !exists {
		t.Fatalf("expected edge to exist: exists=%v err=%v", exists, err)
	}
}

func TestSQLiteMoveRelationships(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	dup := seedNode(t, s, "Customer", "dup", nil, now)
	survivor := seedNode(t, s, "Customer", "survivor", nil, now)
	site1 := seedNode(t, s, "Site", "Toulouse", nil, now)
	site2 := seedNode(t, s, "Site", "Paris", nil, now)
	hq := seedNode(t, s, "Org", "HQ", nil, now)

	// Outgoing edge unique to the duplicate, outgoing edge shared with
	// the survivor, and one incoming edge.
	if err := s.CreateEdge(ctx, "HAS_SITE", dup, site1, nil); err != nil {
		t.Fatalf("edge: %v", err)
	}
	if err := s.CreateEdge(ctx, "HAS_SITE", dup, site2, nil); err != nil {
		t.Fatalf("edge: %v", err)
	}
	if err := s.CreateEdge(ctx, "HAS_SITE", survivor, site2, nil); err != nil {
		t.Fatalf("edge: %v", err)
	}
	if err := s.CreateEdge(ctx, "OWNS", hq, dup, nil); err != nil {
		t.Fatalf("edge: %v", err)
	}

	if err := s.MoveRelationships(ctx, dup, survivor); err != nil {
		t.Fatalf("moving: %v", err)
	}

	for _, check := range []struct {
		name     string
		from, to graph.NodeRef
		want     bool
	}{
		{"HAS_SITE", survivor, site1, true},
		{"HAS_SITE", survivor, site2, true},
		{"OWNS", hq, survivor, true},
		{"HAS_SITE", dup, site1, false},
		{"OWNS", hq, dup, false},
	} {
		exists, err := s.EdgeExists(ctx, check.name, check.from, check.to)
		if err != nil {
			t.Fatalf("checking %s: %v", check.name, err)
		}
		if exists != check.want {
			t.Fatalf("%s %s->%s: expected exists=%v", check.name, check.from, check.to, check.want)
		}
	}

	// The shared identity must not have become a parallel pair.
	rows, err := s.Execute(ctx, `SELECT COUNT(*) AS c FROM graph_edges WHERE name = 'HAS_SITE'`, nil)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if rows[0]["c"].(int64) != 2 {
		t.Fatalf("expected 2 HAS_SITE edges after move, got %v", rows[0]["c"])
	}
}

func TestSQLiteDeleteNode(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	a := seedNode(t, s, "Customer", "CNES", nil, now)
	b := seedNode(t, s, "Site", "Toulouse", nil, now)
	if err := s.CreateEdge(ctx, "HAS_SITE", a, b, nil); err != nil {
		t.Fatalf("edge: %v", err)
	}

	if err := s.DeleteNode(ctx, a); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if nodes, _ := s.FindNodesByKey(ctx, "Customer", "CNES"); len(nodes) != 0 {
		t.Fatal("node still present after delete")
	}
	rows, _ := s.Execute(ctx, `SELECT COUNT(*) AS c FROM graph_edges`, nil)
	if rows[0]["c"].(int64) != 0 {
		t.Fatal("edges must not outlive their node")
	}
}

func TestSQLiteExecuteNamedParams(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()
	seedNode(t, s, "Customer", "CNES", nil, now)
	seedNode(t, s, "Customer", "ESA", nil, now)

	rows, err := s.Execute(ctx,
		`SELECT node_key FROM graph_nodes WHERE node_type = :type ORDER BY node_key`,
		map[string]any{"type": "Customer"})
	if err != nil {
		t.Fatalf("executing: %v", err)
	}
	if len(rows) != 2 || rows[0]["node_key"] != "CNES" {
		t.Fatalf("unexpected result %+v", rows)
	}
}
