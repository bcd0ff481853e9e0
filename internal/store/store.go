// Package store is the graph persistence boundary. Resolvers only see the
// Store interface; CypherStore backs it with Memgraph or Neo4j and
// MemoryStore keeps everything in process.
package store

import (
	"context"
	"errors"
)

type Label string

const (
	LabelPerson       Label = "Person"
	LabelOrganization Label = "Organization"
	LabelEvent        Label = "Event"
	LabelPlace        Label = "Place"
)

// Labels lists every node label in relation-endpoint lookup order.
var Labels = []Label{LabelPerson, LabelOrganization, LabelEvent, LabelPlace}

// ErrEndpointMissing is returned by UpsertEdge when either endpoint id does
// not name a stored node.
var ErrEndpointMissing = errors.New("edge endpoint not found")

type Record struct {
	ID    string
	Label Label
	Props Props
}

type ScoredRecord struct {
	Record
	Score float64
}

type Op int

const (
	OpEq Op = iota
	OpIn
	// OpAnyIn matches when a list property shares any element with Value.
	OpAnyIn
	OpSizeAtLeast
	OpNotNull
)

type Predicate struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Predicate { return Predicate{Field: field, Op: OpEq, Value: value} }

func In(field string, values []string) Predicate {
	return Predicate{Field: field, Op: OpIn, Value: values}
}

func AnyIn(field string, values []string) Predicate {
	return Predicate{Field: field, Op: OpAnyIn, Value: values}
}

func SizeAtLeast(field string, n int) Predicate {
	return Predicate{Field: field, Op: OpSizeAtLeast, Value: n}
}

func NotNull(field string) Predicate { return Predicate{Field: field, Op: OpNotNull} }

// Edge is a directed, typed relationship. Labels are optional hints that
// let the backend use its label indexes.
type Edge struct {
	Source      string
	Target      string
	Type        string
	SourceLabel Label
	TargetLabel Label
	Props       Props
}

// EdgeFilter selects edges; empty fields match anything.
type EdgeFilter struct {
	Source      string
	Target      string
	Type        string
	SourceLabel Label
	TargetLabel Label
}

type Stats struct {
	Nodes         map[Label]int `json:"nodes"`
	Relationships int           `json:"relationships"`
}

type Store interface {
	EnsureSchema(ctx context.Context) error
	// UpsertNode creates the node or overwrites the given properties on it.
	// A nil value removes the property.
	UpsertNode(ctx context.Context, label Label, id string, props Props) error
	QueryNodes(ctx context.Context, label Label, preds ...Predicate) ([]Record, error)
	FullTextSearch(ctx context.Context, label Label, query string, limit int) ([]ScoredRecord, error)
	// UpsertEdge merges on (source, target, type) and refreshes props.
	// created reports whether the edge did not exist before.
	UpsertEdge(ctx context.Context, e Edge) (created bool, err error)
	QueryEdges(ctx context.Context, f EdgeFilter) ([]Edge, error)
	DeleteEdges(ctx context.Context, edges []Edge) (int, error)
	DeleteSelfLoops(ctx context.Context) (int, error)
	// CollapseParallelEdges keeps one edge per (source, target, type).
	CollapseParallelEdges(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
}

// GetNode returns the node with the given id, or nil when absent.
func GetNode(ctx context.Context, s Store, label Label, id string) (*Record, error) {
	recs, err := s.QueryNodes(ctx, label, Eq("uid", id))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}
