// Package core wires the graph store, the resolvers, the extractor and the
// ingestion orchestrator into one Builder used by the CLI and the API.
package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core/extraction"
	"github.com/agenthands/annals/internal/core/identity"
	"github.com/agenthands/annals/internal/core/ingest"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/relation"
	"github.com/agenthands/annals/internal/core/repair"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/driver"
	"github.com/agenthands/annals/internal/llm"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/store"
)

type Builder struct {
	Config *config.Config
	Driver driver.GraphDriver
	Store  store.Store
	Repo   *repo.Repository
	LLM    llm.LLMClient

	Index        *identity.NameIndex
	Identity     *identity.Resolver
	Relations    *relation.Resolver
	Extractor    extraction.Collaborator
	Writer       *ingest.Writer
	Orchestrator *ingest.Orchestrator
}

// NewBuilder wires every component on top of s. llmClient may be nil for
// commands that never extract.
func NewBuilder(cfg *config.Config, s store.Store, llmClient llm.LLMClient) *Builder {
	r := repo.New(s)
	idx := identity.NewNameIndex()
	b := &Builder{
		Config:    cfg,
		Store:     s,
		Repo:      r,
		LLM:       llmClient,
		Index:     idx,
		Identity:  identity.NewResolver(r, idx, cfg.Identity),
		Relations: relation.NewResolver(r, idx),
	}
	if llmClient != nil {
		b.Extractor = extraction.NewExtractor(llmClient, cfg.Extraction)
	}
	b.Writer = ingest.NewWriter(r, b.Identity, b.Relations)
	b.Orchestrator = ingest.NewOrchestrator(s, r, b.Extractor, b.Writer, idx,
		ingest.NewCheckpointStore(cfg.Ingest.CheckpointDir), cfg.Ingest.CallInterval(), cfg.Ingest.FlushEvery)
	b.Orchestrator.KeepResults = cfg.Ingest.KeepResults
	if cfg.Extraction.KnownContext > 0 {
		b.Orchestrator.KnownLimit = cfg.Extraction.KnownContext
	}
	return b
}

// Open connects to the configured graph database. When withLLM is set the
// configured provider is attached behind the retry policy.
func Open(ctx context.Context, cfg *config.Config, withLLM bool) (*Builder, error) {
	flavor := driver.Flavor(cfg.Graph.Flavor)
	d, err := driver.NewBoltDriver(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, flavor)
	if err != nil {
		return nil, fmt.Errorf("connect graph: %w", err)
	}

	var client llm.LLMClient
	if withLLM {
		client, err = llm.NewRetryingClient(ctx, cfg)
		if err != nil {
			_ = d.Close(ctx)
			return nil, fmt.Errorf("create llm client: %w", err)
		}
	}

	b := NewBuilder(cfg, store.NewCypherStore(d, flavor), client)
	b.Driver = d
	logger.Info("graph connected", "uri", cfg.Graph.URI, "flavor", flavor)
	return b, nil
}

func (b *Builder) Close(ctx context.Context) error {
	if b.Driver == nil {
		return nil
	}
	return b.Driver.Close(ctx)
}

func (b *Builder) EnsureSchema(ctx context.Context) error {
	return b.Store.EnsureSchema(ctx)
}

func (b *Builder) Ingest(ctx context.Context, units []model.Unit, opts ingest.Options) (ingest.Stats, error) {
	if b.Extractor == nil {
		return ingest.Stats{}, fmt.Errorf("ingest needs an llm client")
	}
	return b.Orchestrator.Run(ctx, units, opts)
}

func (b *Builder) IngestSaved(ctx context.Context, opts ingest.Options) (ingest.Stats, error) {
	return b.Orchestrator.RunFromSaved(ctx, opts)
}

func (b *Builder) Seed(ctx context.Context, res *model.ExtractionResult) (ingest.Stats, error) {
	return b.Orchestrator.Seed(ctx, res)
}

// Repairer builds the repair tool. The curated file, when configured, is
// consulted before the LLM.
func (b *Builder) Repairer() (*repair.Repairer, error) {
	var chain repair.ChainOracle
	var curated *repair.CuratedOracle
	if path := b.Config.Repair.CuratedFile; path != "" {
		c, err := repair.LoadCurated(path)
		if err != nil {
			return nil, err
		}
		curated = c
		chain = append(chain, c)
	}
	if b.LLM != nil {
		chain = append(chain, repair.NewLLMOracle(b.LLM, b.Config.Repair.Prompt))
	}
	return repair.NewRepairer(b.Store, b.Repo, chain, curated, b.Config.Repair, b.Config.Identity), nil
}

func (b *Builder) Stats(ctx context.Context) (store.Stats, error) {
	return b.Store.Stats(ctx)
}

// FindPersons returns persons whose canonical name is name, or failing
// that, persons carrying it as an alias.
func (b *Builder) FindPersons(ctx context.Context, name string) ([]model.Person, error) {
	persons, err := b.Repo.FindPersonsByName(ctx, name)
	if err != nil || len(persons) > 0 {
		return persons, err
	}
	return b.Repo.FindPersonsByAlias(ctx, name)
}

// RelationView is one edge seen from a person.
type RelationView struct {
	Type      string      `json:"type"`
	Label     string      `json:"label,omitempty"`
	Direction string      `json:"direction"`
	OtherID   string      `json:"other_id"`
	OtherName string      `json:"other_name"`
	OtherKind store.Label `json:"other_kind"`
	Year      *int        `json:"year,omitempty"`
}

func (b *Builder) PersonRelations(ctx context.Context, id string) ([]RelationView, error) {
	out, err := b.Store.QueryEdges(ctx, store.EdgeFilter{Source: id, SourceLabel: store.LabelPerson})
	if err != nil {
		return nil, err
	}
	in, err := b.Store.QueryEdges(ctx, store.EdgeFilter{Target: id, TargetLabel: store.LabelPerson})
	if err != nil {
		return nil, err
	}

	views := make([]RelationView, 0, len(out)+len(in))
	add := func(e store.Edge, dir, otherID string, otherLabel store.Label) error {
		rec, err := b.node(ctx, otherLabel, otherID)
		if err != nil {
			return err
		}
		v := RelationView{
			Type:      e.Type,
			Label:     e.Props.String("label"),
			Direction: dir,
			OtherID:   otherID,
			Year:      e.Props.Int("year"),
		}
		if rec != nil {
			v.OtherName = rec.Props.String("name")
			v.OtherKind = rec.Label
		}
		views = append(views, v)
		return nil
	}
	for _, e := range out {
		if err := add(e, "out", e.Target, e.TargetLabel); err != nil {
			return nil, err
		}
	}
	for _, e := range in {
		if err := add(e, "in", e.Source, e.SourceLabel); err != nil {
			return nil, err
		}
	}
	return views, nil
}

func (b *Builder) node(ctx context.Context, label store.Label, id string) (*store.Record, error) {
	labels := store.Labels
	if label != "" {
		labels = []store.Label{label}
	}
	for _, l := range labels {
		rec, err := store.GetNode(ctx, b.Store, l, id)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	return nil, nil
}

// Search runs a full-text query over every label and returns the best
// hits first.
func (b *Builder) Search(ctx context.Context, query string, limit int) ([]store.ScoredRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var hits []store.ScoredRecord
	for _, l := range store.Labels {
		res, err := b.Store.FullTextSearch(ctx, l, query, limit)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", l, err)
		}
		hits = append(hits, res...)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
