package ingest

import (
	"context"
	"strconv"

	"github.com/agenthands/annals/internal/core/identity"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/relation"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/metrics"
)

// Writer persists one extraction result. Persons are written before
// events and relations so those can resolve the names introduced in the
// same unit. A relation naming a person nobody introduced is skipped.
type Writer struct {
	Repo      *repo.Repository
	Identity  *identity.Resolver
	Relations *relation.Resolver
}

func NewWriter(r *repo.Repository, id *identity.Resolver, rel *relation.Resolver) *Writer {
	return &Writer{Repo: r, Identity: id, Relations: rel}
}

type UnitStats struct {
	PersonsCreated int
	PersonsMerged  int
	MergeAborts    int
	EdgesCreated   int
	EdgesSkipped   int
	WriteFailures  int
}

// Apply writes every entity and edge in res. Individual failures are
// logged and counted; they never stop the remaining writes.
func (w *Writer) Apply(ctx context.Context, res *model.ExtractionResult) UnitStats {
	var st UnitStats
	fail := func(what, name string, err error) {
		st.WriteFailures++
		metrics.WriteFailures.Inc()
		logger.Error("write failed", "unit", res.UnitID, "entity", what, "name", name, "err", err)
	}

	orgIDs := make(map[int]string, len(res.Organizations))
	for i, o := range res.Organizations {
		id, err := w.Repo.SaveOrganization(ctx, o)
		if err != nil {
			fail("organization", o.Name, err)
			continue
		}
		orgIDs[i] = id
	}

	for _, p := range res.Places {
		if _, err := w.Repo.SavePlace(ctx, p); err != nil {
			fail("place", p.Name, err)
		}
	}

	for i, p := range res.Persons {
		r, err := w.Identity.ResolveMention(ctx, p, mentionKey(res.UnitID, i))
		if err != nil {
			fail("person", p.Name, err)
			continue
		}
		switch r.Action {
		case identity.ActionMerged:
			st.PersonsMerged++
		case identity.ActionCreatedAfterAbort:
			st.MergeAborts++
			st.PersonsCreated++
		default:
			st.PersonsCreated++
		}
	}

	edge := func(created bool, err error, what, name string) {
		switch {
		case err != nil:
			fail(what, name, err)
		case created:
			st.EdgesCreated++
		default:
			st.EdgesSkipped++
		}
	}

	for _, e := range res.Events {
		id, err := w.Repo.SaveEvent(ctx, e)
		if err != nil {
			fail("event", e.Name, err)
			continue
		}
		for _, name := range model.UniqueNames(e.Participants) {
			created, err := w.Relations.LinkParticipant(ctx, id, name, "")
			edge(created, err, "participation", name)
		}
	}

	for _, rel := range res.Relations {
		created, err := w.Relations.ResolveRelation(ctx, rel)
		edge(created, err, "relation", rel.Source+" -> "+rel.Target)
	}

	for i, o := range res.Organizations {
		id, ok := orgIDs[i]
		if !ok || o.Founder == "" {
			continue
		}
		created, err := w.Relations.LinkFounder(ctx, id, o.Founder)
		edge(created, err, "founder", o.Founder)
	}

	return st
}

// mentionKey identifies the i-th person of a unit. Results without a unit
// id have no stable key.
func mentionKey(unitID string, i int) string {
	if unitID == "" {
		return ""
	}
	return unitID + "#" + strconv.Itoa(i)
}
