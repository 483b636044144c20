package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MergePolicy controls how property values are combined when an incoming
// record matches an existing node on its natural key.
type MergePolicy int

const (
	// MergeNewestWins overwrites existing values with incoming non-nil
	// values; existing values survive only where the incoming record is
	// silent. This is the default.
	MergeNewestWins MergePolicy = iota

	// MergeOldestWins keeps existing values and uses incoming values only
	// to fill fields the node does not have yet.
	MergeOldestWins
)

// ParseMergePolicy maps a configuration string onto a MergePolicy.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "newest":
		return MergeNewestWins, nil
	case "oldest":
		return MergeOldestWins, nil
	}
	return 0, fmt.Errorf("graphmap: unknown merge policy %q", s)
}

// Stats summarizes what one ingest call did.
type Stats struct {
	NodesCreated      int `json:"nodes_created"`
	NodesMerged       int `json:"nodes_merged"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	EdgesCreated      int `json:"edges_created"`
	EdgesSkipped      int `json:"edges_skipped"`
}

// Merger performs dedup-aware insertion of mapped records into a backend:
// match-or-create by natural key, property union on match, canonical
// reconciliation when several physical nodes share a key. A natural-key
// collision is the expected case here, not an error.
type Merger struct {
	backend Backend
	policy  MergePolicy
	log     *slog.Logger
	locks   keyedMutex
	now     func() time.Time
}

// NewMerger returns a merger writing through the given backend.
func NewMerger(b Backend, policy MergePolicy, log *slog.Logger) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{backend: b, policy: policy, log: log, now: time.Now}
}

// Ingest merges one document's node and edge records into the graph. Nodes
// are processed in the order given (the mapper emits parents before
// children); each (type, key) is processed under an exclusive advisory
// lock. Re-running Ingest on the same input is idempotent: node and edge
// counts do not change on the second run.
func (m *Merger) Ingest(ctx context.Context, nodes []NodeRecord, edges []EdgeRecord) (*Stats, error) {
	stats := &Stats{}
	canonical := make(map[string]NodeRef, len(nodes))

	for _, rec := range nodes {
		ref, err := m.mergeNode(ctx, rec, stats)
		if err != nil {
			return nil, fmt.Errorf("merging %s %q: %w", rec.Type, rec.Key, err)
		}
		canonical[nodeKey(rec.Type, rec.Key)] = ref
	}

	for _, rec := range edges {
		if err := m.mergeEdge(ctx, rec, canonical, stats); err != nil {
			return nil, fmt.Errorf("creating edge %s: %w", rec.Name, err)
		}
	}
	return stats, nil
}

// mergeNode runs the match/create/union/reconcile sequence for one record
// and returns the canonical node reference for its key.
func (m *Merger) mergeNode(ctx context.Context, rec NodeRecord, stats *Stats) (NodeRef, error) {
	lock := nodeKey(rec.Type, rec.Key)
	m.locks.Lock(lock)
	defer m.locks.Unlock(lock)

	existing, err := m.backend.FindNodesByKey(ctx, rec.Type, rec.Key)
	if err != nil {
		return NodeRef{}, err
	}

	now := m.now()
	switch len(existing) {
	case 0:
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if _, err := m.backend.UpsertNode(ctx, rec); err != nil {
			return NodeRef{}, err
		}
		stats.NodesCreated++
		created, err := m.backend.FindNodesByKey(ctx, rec.Type, rec.Key)
		if err != nil {
			return NodeRef{}, err
		}
		if len(created) == 0 {
			return NodeRef{}, fmt.Errorf("node not found after create")
		}
		return created[0].Ref, nil

	case 1:
		node := existing[0]
		union := m.union(node.Properties, rec.Properties)
		if err := m.backend.SetNodeProperties(ctx, node.Ref, union, now); err != nil {
			return NodeRef{}, err
		}
		stats.NodesMerged++
		m.log.Debug("merged node", "type", rec.Type, "key", rec.Key)
		return node.Ref, nil

	default:
		return m.reconcile(ctx, rec, existing, now, stats)
	}
}

// reconcile folds a set of duplicate physical nodes into one canonical
// survivor: the earliest created node, ties broken by internal id. The
// property union and every relationship move happen before any duplicate
// is deleted, so a failure part-way never destroys data.
func (m *Merger) reconcile(ctx context.Context, rec NodeRecord, existing []StoredNode, now time.Time, stats *Stats) (NodeRef, error) {
	sort.Slice(existing, func(i, j int) bool {
		if !existing[i].CreatedAt.Equal(existing[j].CreatedAt) {
			return existing[i].CreatedAt.Before(existing[j].CreatedAt)
		}
		return existing[i].Ref.ID < existing[j].Ref.ID
	})
	survivor := existing[0]
	duplicates := existing[1:]

	union := survivor.Properties
	for _, dup := range duplicates {
		union = m.union(union, dup.Properties)
	}
	union = m.union(union, rec.Properties)

	if err := m.backend.SetNodeProperties(ctx, survivor.Ref, union, now); err != nil {
		return NodeRef{}, err
	}
	for _, dup := range duplicates {
		if err := m.backend.MoveRelationships(ctx, dup.Ref, survivor.Ref); err != nil {
			return NodeRef{}, fmt.Errorf("moving relationships from %s: %w", dup.Ref, err)
		}
	}
	// All moves and property writes are done; deletion is now safe.
	for _, dup := range duplicates {
		if err := m.backend.DeleteNode(ctx, dup.Ref); err != nil {
			return NodeRef{}, fmt.Errorf("deleting duplicate %s: %w", dup.Ref, err)
		}
		stats.DuplicatesRemoved++
	}
	stats.NodesMerged++
	m.log.Info("reconciled duplicates",
		"type", rec.Type, "key", rec.Key,
		"survivor", survivor.Ref.ID, "removed", len(duplicates))
	return survivor.Ref, nil
}

// mergeEdge resolves both endpoints to canonical refs and creates the edge
// unless one with the same (name, from, to) identity already exists.
func (m *Merger) mergeEdge(ctx context.Context, rec EdgeRecord, canonical map[string]NodeRef, stats *Stats) error {
	from, err := m.resolveRef(ctx, rec.FromType, rec.FromKey, canonical)
	if err != nil {
		return err
	}
	to, err := m.resolveRef(ctx, rec.ToType, rec.ToKey, canonical)
	if err != nil {
		return err
	}

	exists, err := m.backend.EdgeExists(ctx, rec.Name, from, to)
	if err != nil {
		return err
	}
	if exists {
		stats.EdgesSkipped++
		return nil
	}
	if err := m.backend.CreateEdge(ctx, rec.Name, from, to, rec.Properties); err != nil {
		return err
	}
	stats.EdgesCreated++
	return nil
}

func (m *Merger) resolveRef(ctx context.Context, typeName, key string, canonical map[string]NodeRef) (NodeRef, error) {
	if ref, ok := canonical[nodeKey(typeName, key)]; ok {
		return ref, nil
	}
	found, err := m.backend.FindNodesByKey(ctx, typeName, key)
	if err != nil {
		return NodeRef{}, err
	}
	if len(found) == 0 {
		return NodeRef{}, fmt.Errorf("no %s node with key %q", typeName, key)
	}
	// Unreconciled duplicates: prefer the node reconcile would keep.
	sort.Slice(found, func(i, j int) bool {
		if !found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].CreatedAt.Before(found[j].CreatedAt)
		}
		return found[i].Ref.ID < found[j].Ref.ID
	})
	return found[0].Ref, nil
}

// union combines two property maps under the configured policy. Incoming
// nil values never erase existing data.
func (m *Merger) union(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if v == nil {
			continue
		}
		if m.policy == MergeOldestWins {
			if old, ok := out[k]; ok && old != nil {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func nodeKey(typeName, key string) string {
	return typeName + "\x00" + key
}

// ---------------------------------------------------------------------------
// advisory key locks
// ---------------------------------------------------------------------------

// keyedMutex serializes work per key so two concurrent ingests cannot both
// decide "no existing node" for the same (type, key) and create duplicates.
// Locks exist only while held.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}
