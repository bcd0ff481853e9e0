package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertNodeOverwritesAndRemoves(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p1", Props{"name": "朱温", "role": "节度使"}))
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p1", Props{"role": nil, "death_year": 912}))

	rec, err := GetNode(ctx, s, LabelPerson, "p1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "朱温", rec.Props.String("name"))
	assert.Nil(t, rec.Props["role"])
	assert.Equal(t, 912, *rec.Props.Int("death_year"))

	missing, err := GetNode(ctx, s, LabelPerson, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryPredicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p1", Props{"name": "a", "aliases": []string{"x", "y"}}))
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p2", Props{"name": "b", "aliases": []string{"z"}}))
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p3", Props{"name": "c"}))

	recs, _ := s.QueryNodes(ctx, LabelPerson, AnyIn("aliases", []string{"y", "q"}))
	require.Len(t, recs, 1)
	assert.Equal(t, "p1", recs[0].ID)

	recs, _ = s.QueryNodes(ctx, LabelPerson, SizeAtLeast("aliases", 1))
	assert.Len(t, recs, 2)

	recs, _ = s.QueryNodes(ctx, LabelPerson, In("name", []string{"b", "c"}))
	assert.Len(t, recs, 2)

	recs, _ = s.QueryNodes(ctx, LabelPerson, NotNull("aliases"), Eq("name", "b"))
	require.Len(t, recs, 1)
	assert.Equal(t, "p2", recs[0].ID)
}

func TestMemoryEdgeMergeSemantics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p1", Props{"name": "a"}))
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p2", Props{"name": "b"}))

	created, err := s.UpsertEdge(ctx, Edge{Source: "p1", Target: "p2", Type: "ALLY_OF", Props: Props{"description": "first"}})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertEdge(ctx, Edge{Source: "p1", Target: "p2", Type: "ALLY_OF", Props: Props{"description": "second"}})
	require.NoError(t, err)
	assert.False(t, created)

	edges, _ := s.QueryEdges(ctx, EdgeFilter{Source: "p1"})
	require.Len(t, edges, 1)
	assert.Equal(t, "second", edges[0].Props.String("description"))

	_, err = s.UpsertEdge(ctx, Edge{Source: "p1", Target: "ghost", Type: "ALLY_OF"})
	assert.ErrorIs(t, err, ErrEndpointMissing)
}

func TestMemoryMaintenance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p1", Props{"name": "a"}))
	require.NoError(t, s.UpsertNode(ctx, LabelEvent, "e1", Props{"name": "battle"}))

	s.AddRawEdge(Edge{Source: "p1", Target: "e1", Type: "PARTICIPATED_IN"})
	s.AddRawEdge(Edge{Source: "p1", Target: "e1", Type: "PARTICIPATED_IN"})
	s.AddRawEdge(Edge{Source: "p1", Target: "p1", Type: "RELATED_TO"})

	n, err := s.DeleteSelfLoops(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CollapseParallelEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _ := s.Stats(ctx)
	assert.Equal(t, 1, st.Relationships)
	assert.Equal(t, 1, st.Nodes[LabelPerson])

	n, err = s.DeleteEdges(ctx, []Edge{{Source: "p1", Target: "e1", Type: "PARTICIPATED_IN"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Clear(ctx))
	st, _ = s.Stats(ctx)
	assert.Zero(t, st.Relationships)
	assert.Empty(t, st.Nodes)
}

func TestMemoryFullTextSearchRanksExactFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p1", Props{"name": "朱温之子"}))
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p2", Props{"name": "朱温"}))
	require.NoError(t, s.UpsertNode(ctx, LabelPerson, "p3", Props{"name": "李克用"}))

	recs, err := s.FullTextSearch(ctx, LabelPerson, "朱温", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "p2", recs[0].ID)
}

func TestPropsAccessors(t *testing.T) {
	p := Props{"aliases": []any{"a", 3, "b"}, "year": int64(907), "f": 1.0}
	assert.Equal(t, []string{"a", "b"}, p.Strings("aliases"))
	assert.Equal(t, 907, *p.Int("year"))
	assert.Equal(t, 1, *p.Int("f"))
	assert.Nil(t, p.Int("missing"))
	assert.Equal(t, "", p.String("missing"))
}
