package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core/identity"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/relation"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/store"
)

type scriptedExtractor struct {
	results map[string]*model.ExtractionResult
	fail    map[string]error
	calls   []string
	// onCall runs before the result is returned.
	onCall func(unitID string)
}

func (s *scriptedExtractor) Extract(ctx context.Context, unit model.Unit, known []model.KnownPerson) (*model.ExtractionResult, error) {
	s.calls = append(s.calls, unit.ID)
	if s.onCall != nil {
		s.onCall(unit.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.fail[unit.ID]; ok {
		return nil, err
	}
	if res, ok := s.results[unit.ID]; ok {
		cp := *res
		cp.UnitID = unit.ID
		return &cp, nil
	}
	return &model.ExtractionResult{UnitID: unit.ID}, nil
}

type fixture struct {
	store *store.MemoryStore
	repo  *repo.Repository
	orch  *Orchestrator
	ext   *scriptedExtractor
	dir   string
}

func newFixture(t *testing.T, ext *scriptedExtractor) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	r := repo.New(s)
	idx := identity.NewNameIndex()
	writer := NewWriter(r, identity.NewResolver(r, idx, config.Default().Identity), relation.NewResolver(r, idx))
	dir := t.TempDir()
	orch := NewOrchestrator(s, r, ext, writer, idx, NewCheckpointStore(dir), 0, 1)
	return &fixture{store: s, repo: r, orch: orch, ext: ext, dir: dir}
}

func units(ids ...string) []model.Unit {
	out := make([]model.Unit, len(ids))
	for i, id := range ids {
		out[i] = model.Unit{ID: id, Text: "text " + id}
	}
	return out
}

func TestRunWritesUnitsAndRecordsProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{results: map[string]*model.ExtractionResult{
		"u1": {Persons: []model.Person{{Name: "李克用", Aliases: []string{"晋王李克用"}}}},
		"u2": {Persons: []model.Person{{Name: "李克用", Aliases: []string{"独眼龙"}}, {Name: "李存勖"}}},
	}})

	stats, err := f.orch.Run(ctx, units("u1", "u2"), Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnitsProcessed)
	assert.Equal(t, 2, stats.PersonsCreated)
	assert.Equal(t, 1, stats.PersonsMerged)
	assert.Equal(t, StateDone, f.orch.State())

	persons, err := f.repo.AllPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, persons, 2)

	cp, err := f.orch.Checkpoints.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, cp.ProcessedUnits)
	assert.Empty(t, cp.Results)
}

func TestResumeSkipsProcessedUnitsWithoutWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{results: map[string]*model.ExtractionResult{
		"u1": {Persons: []model.Person{{Name: "朱温"}}},
	}})

	_, err := f.orch.Run(ctx, units("u1"), Options{Resume: true})
	require.NoError(t, err)
	writes := f.store.Writes()

	stats, err := f.orch.Run(ctx, units("u1"), Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnitsSkipped)
	assert.Equal(t, 0, stats.UnitsProcessed)
	assert.Equal(t, []string{"u1"}, f.ext.calls)
	assert.Equal(t, writes, f.store.Writes())
}

func TestFailedUnitIsRecordedAndRunContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{
		fail: map[string]error{"u1": model.ErrExtraction},
		results: map[string]*model.ExtractionResult{
			"u2": {Persons: []model.Person{{Name: "王建"}}},
		},
	})

	var states []State
	f.orch.OnState = func(s State) { states = append(states, s) }

	stats, err := f.orch.Run(ctx, units("u1", "u2"), Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnitsFailed)
	assert.Equal(t, 1, stats.UnitsProcessed)
	assert.Contains(t, states, StateUnitFailed)

	cp, err := f.orch.Checkpoints.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, cp.ProcessedUnits)
}

func TestRelationResolvesPersonsFromSameUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{results: map[string]*model.ExtractionResult{
		"u1": {
			Persons: []model.Person{{Name: "李克用"}, {Name: "李嗣源"}},
			Relations: []model.Relation{
				{Source: "李嗣源", Target: "李克用", Type: "adopted son of"},
				{Source: "李嗣源", Target: "石敬瑭", Type: "father-in-law of"},
			},
			Organizations: []model.Organization{{Name: "后唐", Founder: "李克用"}},
			Events:        []model.Event{{Name: "柏乡之战", Participants: []string{"李克用", "李嗣源", "李嗣源"}}},
		},
	}})

	stats, err := f.orch.Run(ctx, units("u1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.WriteFailures)
	// relation + founder + two participants
	assert.Equal(t, 4, stats.EdgesCreated)
	assert.Equal(t, 1, stats.EdgesSkipped)

	edges, err := f.store.QueryEdges(ctx, store.EdgeFilter{Type: model.ParticipatedIn})
	require.NoError(t, err)
	assert.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, store.LabelPerson, e.SourceLabel)
	}
}

func TestStartFromAppliesAfterResumeFiltering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{})

	_, err := f.orch.Run(ctx, units("u1", "u2"), Options{Resume: true})
	require.NoError(t, err)
	f.ext.calls = nil

	stats, err := f.orch.Run(ctx, units("u1", "u2", "u3", "u4", "u5"), Options{Resume: true, StartFrom: 1, MaxUnits: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnitsSkipped)
	assert.Equal(t, []string{"u4"}, f.ext.calls)
}

func TestCancelledUnitIsNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ext := &scriptedExtractor{}
	ext.onCall = func(id string) {
		if id == "u2" {
			cancel()
		}
	}
	f := newFixture(t, ext)

	_, err := f.orch.Run(ctx, units("u1", "u2", "u3"), Options{Resume: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"u1", "u2"}, ext.calls)

	cp, err := f.orch.Checkpoints.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, cp.ProcessedUnits)
}

func TestClearWipesGraphAndCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{results: map[string]*model.ExtractionResult{
		"u1": {Persons: []model.Person{{Name: "钱镠"}}},
	}})

	_, err := f.orch.Run(ctx, units("u1"), Options{Resume: true})
	require.NoError(t, err)

	f.ext.results = nil
	stats, err := f.orch.Run(ctx, units("u1"), Options{Resume: true, Clear: true})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.UnitsSkipped)

	persons, err := f.repo.AllPersons(ctx)
	require.NoError(t, err)
	assert.Empty(t, persons)
}

func TestRunFromSavedReplaysKeptResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{results: map[string]*model.ExtractionResult{
		"u1": {Persons: []model.Person{{Name: "杨行密"}}},
		"u2": {Persons: []model.Person{{Name: "杨行密", Aliases: []string{"吴王"}}, {Name: "徐温"}}},
	}})
	f.orch.KeepResults = true

	_, err := f.orch.Run(ctx, units("u1", "u2"), Options{Resume: true})
	require.NoError(t, err)
	calls := len(f.ext.calls)

	stats, err := f.orch.RunFromSaved(ctx, Options{Clear: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnitsProcessed)
	assert.Equal(t, 2, stats.PersonsCreated)
	assert.Equal(t, 1, stats.PersonsMerged)
	assert.Len(t, f.ext.calls, calls)
}

func TestSeedWritesCuratedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{})

	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte("```json\n"+`{"persons": [{"name": "刘守光", "aliases": ["燕帝"],},]}`+"\n```"), 0o600))

	res, err := LoadSeed(path)
	require.NoError(t, err)
	stats, err := f.orch.Seed(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PersonsCreated)

	ps, err := f.repo.FindPersonsByAlias(ctx, "燕帝")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "刘守光", ps[0].Name)
}

func TestCheckpointLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	a := NewCheckpointStore(dir)
	b := NewCheckpointStore(dir)

	require.NoError(t, a.Lock())
	assert.ErrorIs(t, b.Lock(), ErrLocked)
	require.NoError(t, a.Unlock())
	require.NoError(t, b.Lock())
	require.NoError(t, b.Unlock())
}

func TestCheckpointCorruptFileIsCheckpointError(t *testing.T) {
	dir := t.TempDir()
	cs := NewCheckpointStore(dir)
	require.NoError(t, os.WriteFile(cs.Path(), []byte("{not json"), 0o600))

	_, err := cs.Load()
	assert.ErrorIs(t, err, model.ErrCheckpointIO)

	require.NoError(t, os.WriteFile(cs.Path(), []byte(`{"version": 99}`), 0o600))
	_, err = cs.Load()
	assert.ErrorIs(t, err, model.ErrCheckpointIO)
}

func TestLoadUnitsRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a", "text": "x"}, {"id": "a", "text": "y"}]`), 0o600))

	_, err := LoadUnits(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a", "text": "x"}, {"id": "b", "section": "s", "text": "y"}]`), 0o600))
	us, err := LoadUnits(path)
	require.NoError(t, err)
	assert.Len(t, us, 2)
	assert.Equal(t, "s", us[1].Section)
}

func TestReappliedUnitDoesNotDuplicatePersons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{})
	res := &model.ExtractionResult{
		UnitID:  "u1",
		Persons: []model.Person{{Name: "太宗"}, {Name: "朱温", Aliases: []string{"朱全忠"}}},
	}

	for i := 0; i < 3; i++ {
		st := f.orch.Writer.Apply(ctx, res)
		assert.Equal(t, 0, st.WriteFailures)
	}
	_, err := f.orch.Seed(ctx, res)
	require.NoError(t, err)

	persons, err := f.repo.AllPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, persons, 2)

	// the same title in another unit stays a separate person
	f.orch.Writer.Apply(ctx, &model.ExtractionResult{UnitID: "u2", Persons: []model.Person{{Name: "太宗"}}})
	persons, err = f.repo.AllPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, persons, 3)
}

func TestRerunKeepsOneSavedResultPerUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{results: map[string]*model.ExtractionResult{
		"u1": {Persons: []model.Person{{Name: "太宗"}}},
	}})
	f.orch.KeepResults = true

	_, err := f.orch.Run(ctx, units("u1"), Options{})
	require.NoError(t, err)
	_, err = f.orch.Run(ctx, units("u1"), Options{})
	require.NoError(t, err)

	cp, err := f.orch.Checkpoints.Load()
	require.NoError(t, err)
	assert.Len(t, cp.Results, 1)

	_, err = f.orch.RunFromSaved(ctx, Options{})
	require.NoError(t, err)
	persons, err := f.repo.AllPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, persons, 1)
}

func TestSeedAndReplayTakeCheckpointLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedExtractor{})

	other := NewCheckpointStore(f.dir)
	require.NoError(t, other.Lock())

	_, err := f.orch.Seed(ctx, &model.ExtractionResult{UnitID: "seed", Persons: []model.Person{{Name: "王审知"}}})
	assert.ErrorIs(t, err, ErrLocked)
	_, err = f.orch.RunFromSaved(ctx, Options{})
	assert.ErrorIs(t, err, ErrLocked)
	_, err = f.orch.Run(ctx, units("u1"), Options{})
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 0, f.store.Writes())

	require.NoError(t, other.Unlock())
	_, err = f.orch.Seed(ctx, &model.ExtractionResult{UnitID: "seed", Persons: []model.Person{{Name: "王审知"}}})
	require.NoError(t, err)
}

func TestCheckpointFlushesEveryNUnits(t *testing.T) {
	ctx := context.Background()
	ext := &scriptedExtractor{}
	f := newFixture(t, ext)
	f.orch.FlushEvery = 3

	seen := map[string][]string{}
	reader := NewCheckpointStore(f.dir)
	ext.onCall = func(id string) {
		cp, err := reader.Load()
		require.NoError(t, err)
		seen[id] = cp.ProcessedUnits
	}
	flushes := 0
	f.orch.OnState = func(s State) {
		if s == StateCheckpointing {
			flushes++
		}
	}

	stats, err := f.orch.Run(ctx, units("u1", "u2", "u3", "u4", "u5"), Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.UnitsProcessed)

	assert.Empty(t, seen["u3"])
	assert.Equal(t, []string{"u1", "u2", "u3"}, seen["u4"])
	assert.Equal(t, []string{"u1", "u2", "u3"}, seen["u5"])
	// one periodic flush plus the final one
	assert.Equal(t, 2, flushes)

	cp, err := reader.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5"}, cp.ProcessedUnits)
}

func TestCheckpointWriteFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	ext := &scriptedExtractor{}
	f := newFixture(t, ext)
	ext.onCall = func(id string) {
		if id == "u2" {
			// a directory in place of the checkpoint file makes the rename fail
			require.NoError(t, os.Remove(f.orch.Checkpoints.Path()))
			require.NoError(t, os.MkdirAll(filepath.Join(f.orch.Checkpoints.Path(), "blocked"), 0o750))
		}
	}

	_, err := f.orch.Run(ctx, units("u1", "u2", "u3"), Options{Resume: true})
	assert.ErrorIs(t, err, model.ErrCheckpointIO)
	assert.Equal(t, []string{"u1", "u2"}, ext.calls)
}
