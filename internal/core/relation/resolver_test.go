package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core/identity"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/store"
)

type fixture struct {
	mem      *store.MemoryStore
	repo     *repo.Repository
	identity *identity.Resolver
	relation *Resolver
}

func newFixture() *fixture {
	mem := store.NewMemoryStore()
	r := repo.New(mem)
	idx := identity.NewNameIndex()
	return &fixture{
		mem:      mem,
		repo:     r,
		identity: identity.NewResolver(r, idx, config.Default().Identity),
		relation: NewResolver(r, idx),
	}
}

func (f *fixture) person(t *testing.T, name string, aliases ...string) string {
	t.Helper()
	res, err := f.identity.ResolvePerson(context.Background(), model.Person{Name: name, Aliases: aliases})
	require.NoError(t, err)
	return res.ID
}

func year(v int) *int { return &v }

func TestMissingEndpointCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.person(t, "Li Keyong")
	before := f.mem.Writes()

	created, err := f.relation.ResolveRelation(ctx, model.Relation{
		Source: "Li Keyong", Target: "Li Siyuan", Type: "ADOPTED_SON",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, before, f.mem.Writes())

	st, _ := f.mem.Stats(ctx)
	assert.Zero(t, st.Relationships)
	assert.Equal(t, 1, st.Nodes[store.LabelPerson])
}

func TestResolveRelationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := f.person(t, "李克用")
	b := f.person(t, "李嗣源", "邈佶烈")

	rel := model.Relation{Source: "李克用", Target: "邈佶烈", Type: "adopted son", Year: year(880), Description: "收为养子"}
	created, err := f.relation.ResolveRelation(ctx, rel)
	require.NoError(t, err)
	assert.True(t, created)

	rel.Description = "养子，后为后唐明宗"
	created, err = f.relation.ResolveRelation(ctx, rel)
	require.NoError(t, err)
	assert.False(t, created)

	edges, _ := f.mem.QueryEdges(ctx, store.EdgeFilter{Source: a, Target: b})
	require.Len(t, edges, 1)
	assert.Equal(t, "ADOPTED_SON", edges[0].Type)
	assert.Equal(t, "adopted son", edges[0].Props.String("label"))
	assert.Equal(t, "养子，后为后唐明宗", edges[0].Props.String("description"))
}

func TestLookupOrderPrefersPerson(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.repo.SavePlace(ctx, model.Place{Name: "晋阳"})
	require.NoError(t, err)
	orgID, err := f.repo.SaveOrganization(ctx, model.Organization{Name: "后梁"})
	require.NoError(t, err)

	ep, err := f.relation.Lookup(ctx, "后梁")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, store.LabelOrganization, ep.Label)
	assert.Equal(t, orgID, ep.ID)

	pid := f.person(t, "晋阳")
	ep, err = f.relation.Lookup(ctx, "晋阳")
	require.NoError(t, err)
	assert.Equal(t, store.LabelPerson, ep.Label)
	assert.Equal(t, pid, ep.ID)

	ep, err = f.relation.Lookup(ctx, "不存在")
	require.NoError(t, err)
	assert.Nil(t, ep)
}

func TestEdgeTypeFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.person(t, "朱温")
	f.person(t, "李克用")

	created, err := f.relation.ResolveRelation(ctx, model.Relation{Source: "朱温", Target: "李克用", Type: "--"})
	require.NoError(t, err)
	assert.True(t, created)

	edges, _ := f.mem.QueryEdges(ctx, store.EdgeFilter{Type: model.DefaultRelationType})
	assert.Len(t, edges, 1)
}

func TestLinkParticipantAndFounder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pid := f.person(t, "朱温", "朱全忠")
	eventID, err := f.repo.SaveEvent(ctx, model.Event{Name: "朱温篡唐", Year: year(907)})
	require.NoError(t, err)
	orgID, err := f.repo.SaveOrganization(ctx, model.Organization{Name: "后梁", Founder: "朱全忠"})
	require.NoError(t, err)

	ok, err := f.relation.LinkParticipant(ctx, eventID, "朱全忠", "主谋")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.relation.LinkFounder(ctx, orgID, "朱全忠")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.relation.LinkParticipant(ctx, eventID, "无名氏", "")
	require.NoError(t, err)
	assert.False(t, ok)

	edges, _ := f.mem.QueryEdges(ctx, store.EdgeFilter{Source: pid})
	require.Len(t, edges, 2)
	assert.Equal(t, model.ParticipatedIn, edges[0].Type)
	assert.Equal(t, "主谋", edges[0].Props.String("role"))
	assert.Equal(t, model.Founded, edges[1].Type)
}

func TestSelfLoopIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.person(t, "朱温", "朱全忠")

	created, err := f.relation.ResolveRelation(ctx, model.Relation{Source: "朱温", Target: "朱全忠", Type: "SAME_AS"})
	require.NoError(t, err)
	assert.False(t, created)
	st, _ := f.mem.Stats(ctx)
	assert.Zero(t, st.Relationships)
}
