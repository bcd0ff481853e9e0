package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and dry runs. Iteration
// follows insertion order so results are deterministic.
type MemoryStore struct {
	mu     sync.Mutex
	nodes  map[Label]map[string]Props
	order  map[Label][]string
	edges  []Edge
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[Label]map[string]Props),
		order: make(map[Label][]string),
	}
}

// Writes counts node and edge mutations since creation.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (m *MemoryStore) UpsertNode(ctx context.Context, label Label, id string, props Props) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.nodes[label]
	if !ok {
		byID = make(map[string]Props)
		m.nodes[label] = byID
	}
	node, ok := byID[id]
	if !ok {
		node = Props{}
		byID[id] = node
		m.order[label] = append(m.order[label], id)
	}
	for k, v := range props.Clone() {
		if v == nil {
			delete(node, k)
			continue
		}
		node[k] = v
	}
	node["uid"] = id
	m.writes++
	return nil
}

func (m *MemoryStore) QueryNodes(ctx context.Context, label Label, preds ...Predicate) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, id := range m.order[label] {
		props := m.nodes[label][id]
		if matchAll(props, preds) {
			out = append(out, Record{ID: id, Label: label, Props: props.Clone()})
		}
	}
	return out, nil
}

func matchAll(props Props, preds []Predicate) bool {
	for _, p := range preds {
		if !match(props, p) {
			return false
		}
	}
	return true
}

func match(props Props, p Predicate) bool {
	switch p.Op {
	case OpEq:
		return valuesEqual(props[p.Field], p.Value)
	case OpIn:
		v := props.String(p.Field)
		for _, want := range p.Value.([]string) {
			if v == want {
				return true
			}
		}
		return false
	case OpAnyIn:
		have := props.Strings(p.Field)
		for _, want := range p.Value.([]string) {
			for _, h := range have {
				if h == want {
					return true
				}
			}
		}
		return false
	case OpSizeAtLeast:
		n, _ := toInt64(p.Value)
		return int64(len(props.Strings(p.Field))) >= n
	case OpNotNull:
		return props[p.Field] != nil
	}
	return false
}

// FullTextSearch does a substring scan over name, aliases and description.
func (m *MemoryStore) FullTextSearch(ctx context.Context, label Label, query string, limit int) ([]ScoredRecord, error) {
	recs, _ := m.QueryNodes(ctx, label)
	var out []ScoredRecord
	for _, r := range recs {
		score := textScore(r.Props, query)
		if score > 0 {
			out = append(out, ScoredRecord{Record: r, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func textScore(props Props, query string) float64 {
	name := props.String("name")
	switch {
	case name == query:
		return 2
	case strings.Contains(name, query):
		return 1
	}
	for _, a := range props.Strings("aliases") {
		if strings.Contains(a, query) {
			return 0.75
		}
	}
	if strings.Contains(props.String("description"), query) {
		return 0.5
	}
	return 0
}

func (m *MemoryStore) exists(label Label, id string) bool {
	if label != "" {
		_, ok := m.nodes[label][id]
		return ok
	}
	for _, byID := range m.nodes {
		if _, ok := byID[id]; ok {
			return true
		}
	}
	return false
}

func (m *MemoryStore) UpsertEdge(ctx context.Context, e Edge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists(e.SourceLabel, e.Source) || !m.exists(e.TargetLabel, e.Target) {
		return false, ErrEndpointMissing
	}
	m.writes++
	for i := range m.edges {
		cur := &m.edges[i]
		if cur.Source == e.Source && cur.Target == e.Target && cur.Type == e.Type {
			if cur.Props == nil {
				cur.Props = Props{}
			}
			for k, v := range e.Props {
				cur.Props[k] = v
			}
			return false, nil
		}
	}
	e.Props = e.Props.Clone()
	m.edges = append(m.edges, e)
	return true, nil
}

// AddRawEdge appends an edge without the merge check, producing parallel
// duplicates the way a non-idempotent writer would.
func (m *MemoryStore) AddRawEdge(e Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, e)
}

func edgeMatches(e Edge, f EdgeFilter) bool {
	return (f.Source == "" || e.Source == f.Source) &&
		(f.Target == "" || e.Target == f.Target) &&
		(f.Type == "" || e.Type == f.Type) &&
		(f.SourceLabel == "" || e.SourceLabel == "" || e.SourceLabel == f.SourceLabel) &&
		(f.TargetLabel == "" || e.TargetLabel == "" || e.TargetLabel == f.TargetLabel)
}

func (m *MemoryStore) QueryEdges(ctx context.Context, f EdgeFilter) ([]Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Edge
	for _, e := range m.edges {
		if !edgeMatches(e, f) {
			continue
		}
		if f.SourceLabel != "" && !m.exists(f.SourceLabel, e.Source) {
			continue
		}
		if f.TargetLabel != "" && !m.exists(f.TargetLabel, e.Target) {
			continue
		}
		e.Props = e.Props.Clone()
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) DeleteEdges(ctx context.Context, edges []Edge) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	kept := m.edges[:0]
	for _, cur := range m.edges {
		drop := false
		for _, e := range edges {
			if cur.Source == e.Source && cur.Target == e.Target && cur.Type == e.Type {
				drop = true
				break
			}
		}
		if drop {
			deleted++
			continue
		}
		kept = append(kept, cur)
	}
	m.edges = kept
	m.writes += deleted
	return deleted, nil
}

func (m *MemoryStore) DeleteSelfLoops(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.Source == e.Target {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.edges = kept
	m.writes += deleted
	return deleted, nil
}

func (m *MemoryStore) CollapseParallelEdges(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct{ s, t, typ string }
	seen := make(map[key]bool)
	deleted := 0
	kept := m.edges[:0]
	for _, e := range m.edges {
		k := key{e.Source, e.Target, e.Type}
		if seen[k] {
			deleted++
			continue
		}
		seen[k] = true
		kept = append(kept, e)
	}
	m.edges = kept
	m.writes += deleted
	return deleted, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{Nodes: make(map[Label]int)}
	for label, byID := range m.nodes {
		st.Nodes[label] = len(byID)
	}
	st.Relationships = len(m.edges)
	return st, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes = make(map[Label]map[string]Props)
	m.order = make(map[Label][]string)
	m.edges = nil
	return nil
}
