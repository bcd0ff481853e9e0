package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/annals/internal/driver"
	"github.com/agenthands/annals/internal/logger"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const (
	upsertNodeQuery = `
		MERGE (n:%s {uid: $uid})
		SET n += $props
		RETURN n.uid AS uid
	`

	upsertEdgeQuery = `
		MATCH (a%s {uid: $source})
		MATCH (b%s {uid: $target})
		OPTIONAL MATCH (a)-[old:%s]->(b)
		WITH a, b, count(old) AS existing
		MERGE (a)-[r:%s]->(b)
		SET r += $props
		RETURN existing = 0 AS created
	`

	deleteEdgeQuery = `
		MATCH (a {uid: $source})-[r:%s]->(b {uid: $target})
		WITH r
		DELETE r
		RETURN count(*) AS deleted
	`

	deleteSelfLoopsQuery = `
		MATCH (n)-[r]->(n)
		WITH r
		DELETE r
		RETURN count(*) AS deleted
	`

	collapseParallelEdgesQuery = `
		MATCH (a)-[r]->(b)
		WITH a, b, type(r) AS t, collect(r) AS rels
		WHERE size(rels) > 1
		UNWIND tail(rels) AS dup
		WITH dup
		DELETE dup
		RETURN count(*) AS deleted
	`

	nodeCountsQuery = `
		MATCH (n)
		RETURN labels(n)[0] AS label, count(*) AS c
	`

	relationshipCountQuery = `
		MATCH ()-[r]->()
		RETURN count(r) AS c
	`

	clearQuery = `MATCH (n) DETACH DELETE n`

	fullTextQuery = `
		CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
		RETURN node.uid AS uid, properties(node) AS props, score
		LIMIT $limit
	`

	containsSearchQuery = `
		MATCH (n:%s)
		WHERE n.name CONTAINS $query
			OR any(a IN coalesce(n.aliases, []) WHERE a CONTAINS $query)
			OR coalesce(n.description, '') CONTAINS $query
		WITH n, CASE
			WHEN n.name = $query THEN 2.0
			WHEN n.name CONTAINS $query THEN 1.0
			WHEN any(a IN coalesce(n.aliases, []) WHERE a CONTAINS $query) THEN 0.75
			ELSE 0.5 END AS score
		RETURN n.uid AS uid, properties(n) AS props, score
		ORDER BY score DESC
		LIMIT $limit
	`
)

// CypherStore implements Store over a bolt driver.
type CypherStore struct {
	Driver driver.GraphDriver
	Flavor driver.Flavor
}

func NewCypherStore(d driver.GraphDriver, flavor driver.Flavor) *CypherStore {
	return &CypherStore{Driver: d, Flavor: flavor}
}

func (s *CypherStore) EnsureSchema(ctx context.Context) error {
	return s.Driver.BuildIndices(ctx)
}

func labelClause(label Label) (string, error) {
	if label == "" {
		return "", nil
	}
	if !identifierRe.MatchString(string(label)) {
		return "", fmt.Errorf("invalid label %q", label)
	}
	return ":" + string(label), nil
}

// quoteType backtick-quotes a relationship type.
func quoteType(t string) (string, error) {
	if t == "" {
		return "", fmt.Errorf("empty relationship type")
	}
	return "`" + strings.ReplaceAll(t, "`", "``") + "`", nil
}

func (s *CypherStore) UpsertNode(ctx context.Context, label Label, id string, props Props) error {
	lc, err := labelClause(label)
	if err != nil || lc == "" {
		return fmt.Errorf("upsert node: invalid label %q", label)
	}
	params := map[string]any{"uid": id, "props": boltProps(props)}
	if _, err := s.Driver.ExecuteQuery(ctx, fmt.Sprintf(upsertNodeQuery, string(label)), params); err != nil {
		return fmt.Errorf("upsert %s %s: %w", label, id, err)
	}
	return nil
}

// buildWhere renders predicates into a WHERE clause with positional params.
func buildWhere(preds []Predicate, params map[string]any) (string, error) {
	var clauses []string
	for i, p := range preds {
		if !identifierRe.MatchString(p.Field) {
			return "", fmt.Errorf("invalid field %q", p.Field)
		}
		name := fmt.Sprintf("p%d", i)
		field := "n." + p.Field
		switch p.Op {
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%s", field, name))
			params[name] = boltValue(p.Value)
		case OpIn:
			clauses = append(clauses, fmt.Sprintf("%s IN $%s", field, name))
			params[name] = p.Value
		case OpAnyIn:
			clauses = append(clauses, fmt.Sprintf("any(x IN coalesce(%s, []) WHERE x IN $%s)", field, name))
			params[name] = p.Value
		case OpSizeAtLeast:
			clauses = append(clauses, fmt.Sprintf("size(coalesce(%s, [])) >= $%s", field, name))
			params[name] = boltValue(p.Value)
		case OpNotNull:
			clauses = append(clauses, fmt.Sprintf("%s IS NOT NULL", field))
		default:
			return "", fmt.Errorf("unsupported predicate op %d", p.Op)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), nil
}

func (s *CypherStore) QueryNodes(ctx context.Context, label Label, preds ...Predicate) ([]Record, error) {
	lc, err := labelClause(label)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	where, err := buildWhere(preds, params)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("MATCH (n%s) %s RETURN n.uid AS uid, properties(n) AS props", lc, where)
	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", label, err)
	}
	out := make([]Record, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, toRecord(rec, label))
	}
	return out, nil
}

func toRecord(rec *neo4j.Record, label Label) Record {
	r := Record{Label: label, Props: Props{}}
	if uid, ok := rec.Get("uid"); ok {
		r.ID, _ = uid.(string)
	}
	if raw, ok := rec.Get("props"); ok {
		if m, ok := raw.(map[string]any); ok {
			r.Props = Props(m)
		}
	}
	return r
}

// FullTextSearch uses the Neo4j full-text index when available and falls
// back to a CONTAINS scan otherwise.
func (s *CypherStore) FullTextSearch(ctx context.Context, label Label, query string, limit int) ([]ScoredRecord, error) {
	lc, err := labelClause(label)
	if err != nil || lc == "" {
		return nil, fmt.Errorf("search: invalid label %q", label)
	}
	if limit <= 0 {
		limit = 20
	}
	params := map[string]any{"query": query, "limit": int64(limit)}

	if s.Flavor == driver.FlavorNeo4j {
		params["index"] = string(label) + "_text"
		res, err := s.Driver.ExecuteQuery(ctx, fullTextQuery, params)
		if err == nil {
			return toScored(res, label), nil
		}
		logger.Debug("full-text index unavailable, falling back to scan", "label", label, "err", err)
	}

	res, err := s.Driver.ExecuteQuery(ctx, fmt.Sprintf(containsSearchQuery, string(label)), params)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", label, err)
	}
	return toScored(res, label), nil
}

func toScored(res neo4j.EagerResult, label Label) []ScoredRecord {
	out := make([]ScoredRecord, 0, len(res.Records))
	for _, rec := range res.Records {
		sr := ScoredRecord{Record: toRecord(rec, label)}
		if score, ok := rec.Get("score"); ok {
			if f, ok := score.(float64); ok {
				sr.Score = f
			}
		}
		out = append(out, sr)
	}
	return out
}

func (s *CypherStore) UpsertEdge(ctx context.Context, e Edge) (bool, error) {
	sl, err := labelClause(e.SourceLabel)
	if err != nil {
		return false, err
	}
	tl, err := labelClause(e.TargetLabel)
	if err != nil {
		return false, err
	}
	typ, err := quoteType(e.Type)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(upsertEdgeQuery, sl, tl, typ, typ)
	params := map[string]any{
		"source": e.Source,
		"target": e.Target,
		"props":  boltProps(e.Props),
	}
	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return false, fmt.Errorf("upsert edge %s-[%s]->%s: %w", e.Source, e.Type, e.Target, err)
	}
	if len(res.Records) == 0 {
		return false, ErrEndpointMissing
	}
	created, _ := res.Records[0].Get("created")
	b, _ := created.(bool)
	return b, nil
}

func (s *CypherStore) QueryEdges(ctx context.Context, f EdgeFilter) ([]Edge, error) {
	sl, err := labelClause(f.SourceLabel)
	if err != nil {
		return nil, err
	}
	tl, err := labelClause(f.TargetLabel)
	if err != nil {
		return nil, err
	}
	rel := "r"
	if f.Type != "" {
		typ, err := quoteType(f.Type)
		if err != nil {
			return nil, err
		}
		rel = "r:" + typ
	}

	params := map[string]any{}
	var where []string
	if f.Source != "" {
		where = append(where, "a.uid = $source")
		params["source"] = f.Source
	}
	if f.Target != "" {
		where = append(where, "b.uid = $target")
		params["target"] = f.Target
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
		MATCH (a%s)-[%s]->(b%s)
		%s
		RETURN a.uid AS source, b.uid AS target, type(r) AS type,
			labels(a)[0] AS source_label, labels(b)[0] AS target_label, properties(r) AS props
	`, sl, rel, tl, clause)

	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	out := make([]Edge, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, toEdge(rec))
	}
	return out, nil
}

func toEdge(rec *neo4j.Record) Edge {
	str := func(key string) string {
		v, _ := rec.Get(key)
		s, _ := v.(string)
		return s
	}
	e := Edge{
		Source:      str("source"),
		Target:      str("target"),
		Type:        str("type"),
		SourceLabel: Label(str("source_label")),
		TargetLabel: Label(str("target_label")),
		Props:       Props{},
	}
	if raw, ok := rec.Get("props"); ok {
		if m, ok := raw.(map[string]any); ok {
			e.Props = Props(m)
		}
	}
	return e
}

func (s *CypherStore) DeleteEdges(ctx context.Context, edges []Edge) (int, error) {
	total := 0
	for _, e := range edges {
		typ, err := quoteType(e.Type)
		if err != nil {
			return total, err
		}
		res, err := s.Driver.ExecuteQuery(ctx, fmt.Sprintf(deleteEdgeQuery, typ), map[string]any{
			"source": e.Source,
			"target": e.Target,
		})
		if err != nil {
			return total, fmt.Errorf("delete edge %s-[%s]->%s: %w", e.Source, e.Type, e.Target, err)
		}
		total += countFrom(res, "deleted")
	}
	return total, nil
}

func (s *CypherStore) DeleteSelfLoops(ctx context.Context) (int, error) {
	res, err := s.Driver.ExecuteQuery(ctx, deleteSelfLoopsQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("delete self loops: %w", err)
	}
	return countFrom(res, "deleted"), nil
}

func (s *CypherStore) CollapseParallelEdges(ctx context.Context) (int, error) {
	res, err := s.Driver.ExecuteQuery(ctx, collapseParallelEdgesQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("collapse parallel edges: %w", err)
	}
	return countFrom(res, "deleted"), nil
}

func (s *CypherStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Nodes: make(map[Label]int)}
	res, err := s.Driver.ExecuteQuery(ctx, nodeCountsQuery, nil)
	if err != nil {
		return st, fmt.Errorf("node counts: %w", err)
	}
	for _, rec := range res.Records {
		label, _ := rec.Get("label")
		c, _ := rec.Get("c")
		name, _ := label.(string)
		n, _ := toInt64(c)
		st.Nodes[Label(name)] += int(n)
	}

	res, err = s.Driver.ExecuteQuery(ctx, relationshipCountQuery, nil)
	if err != nil {
		return st, fmt.Errorf("relationship count: %w", err)
	}
	st.Relationships = countFrom(res, "c")
	return st, nil
}

func (s *CypherStore) Clear(ctx context.Context) error {
	if _, err := s.Driver.ExecuteQuery(ctx, clearQuery, nil); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	return nil
}

func countFrom(res neo4j.EagerResult, key string) int {
	if len(res.Records) == 0 {
		return 0
	}
	v, _ := res.Records[0].Get(key)
	n, _ := toInt64(v)
	return int(n)
}

func boltValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case *int:
		return IntOrNil(n)
	}
	return v
}

func boltProps(p Props) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = boltValue(v)
	}
	return out
}
