// Package relation turns name-addressed relation candidates into typed
// edges between canonical nodes.
package relation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agenthands/annals/internal/core/identity"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/metrics"
	"github.com/agenthands/annals/internal/store"
)

// Endpoint is a resolved node reference.
type Endpoint struct {
	ID    string
	Label store.Label
}

type Resolver struct {
	Repo  *repo.Repository
	Index *identity.NameIndex
}

func NewResolver(r *repo.Repository, index *identity.NameIndex) *Resolver {
	return &Resolver{Repo: r, Index: index}
}

// LookupPerson finds a person by canonical name, then by alias. Names are
// not filtered: any exact string the graph knows is accepted.
func (r *Resolver) LookupPerson(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if id, ok := r.Index.Canonical(name); ok {
		return id, nil
	}
	if id, ok := r.Index.Alias(name); ok {
		return id, nil
	}

	persons, err := r.Repo.FindPersonsByName(ctx, name)
	if err != nil {
		return "", err
	}
	if len(persons) == 0 {
		if persons, err = r.Repo.FindPersonsByAlias(ctx, name); err != nil {
			return "", err
		}
	}
	if len(persons) == 0 {
		return "", nil
	}
	r.Index.Put(persons[0])
	return persons[0].UID, nil
}

// Lookup resolves a name in the order person, organization, event, place.
// A nil endpoint means nothing matched.
func (r *Resolver) Lookup(ctx context.Context, name string) (*Endpoint, error) {
	id, err := r.LookupPerson(ctx, name)
	if err != nil {
		return nil, err
	}
	if id != "" {
		return &Endpoint{ID: id, Label: store.LabelPerson}, nil
	}
	for _, label := range store.Labels[1:] {
		id, err := r.Repo.FindNodeID(ctx, label, strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if id != "" {
			return &Endpoint{ID: id, Label: label}, nil
		}
	}
	return nil, nil
}

// ResolveRelation writes the edge for rel if both endpoints resolve. It
// returns false, writing nothing, when either endpoint is unknown.
func (r *Resolver) ResolveRelation(ctx context.Context, rel model.Relation) (bool, error) {
	src, err := r.Lookup(ctx, rel.Source)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	tgt, err := r.Lookup(ctx, rel.Target)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	if src == nil || tgt == nil {
		logger.Warn("relation skipped", "source", rel.Source, "target", rel.Target,
			"type", rel.Type, "reason", model.ErrResolution)
		metrics.EdgesTotal.WithLabelValues("unresolved").Inc()
		return false, nil
	}

	rt := model.NewRelationType(rel.Type)
	return r.upsert(ctx, *src, *tgt, rt.Token, store.Props{
		"label":       rt.Label,
		"description": rel.Description,
		"year":        store.IntOrNil(rel.Year),
	})
}

// LinkParticipant connects a named person to an event. The person is
// always the edge source.
func (r *Resolver) LinkParticipant(ctx context.Context, eventID, name, role string) (bool, error) {
	return r.linkPerson(ctx, name, Endpoint{ID: eventID, Label: store.LabelEvent}, model.ParticipatedIn,
		store.Props{"role": role})
}

// LinkFounder connects a named person to the organization they founded.
func (r *Resolver) LinkFounder(ctx context.Context, orgID, name string) (bool, error) {
	return r.linkPerson(ctx, name, Endpoint{ID: orgID, Label: store.LabelOrganization}, model.Founded, store.Props{})
}

func (r *Resolver) linkPerson(ctx context.Context, name string, other Endpoint, typ string, props store.Props) (bool, error) {
	id, err := r.LookupPerson(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	if id == "" {
		logger.Debug("link skipped, person unknown", "name", name, "type", typ)
		metrics.EdgesTotal.WithLabelValues("unresolved").Inc()
		return false, nil
	}
	return r.upsert(ctx, Endpoint{ID: id, Label: store.LabelPerson}, other, typ, props)
}

func (r *Resolver) upsert(ctx context.Context, src, tgt Endpoint, typ string, props store.Props) (bool, error) {
	if src.ID == tgt.ID {
		logger.Debug("self loop skipped", "id", src.ID, "type", typ)
		metrics.EdgesTotal.WithLabelValues("self_loop").Inc()
		return false, nil
	}
	created, err := r.Repo.Store.UpsertEdge(ctx, store.Edge{
		Source:      src.ID,
		Target:      tgt.ID,
		Type:        typ,
		SourceLabel: src.Label,
		TargetLabel: tgt.Label,
		Props:       props,
	})
	if errors.Is(err, store.ErrEndpointMissing) {
		metrics.EdgesTotal.WithLabelValues("unresolved").Inc()
		return false, nil
	}
	if err != nil {
		metrics.WriteFailures.Inc()
		return false, fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	if created {
		metrics.EdgesTotal.WithLabelValues("created").Inc()
	} else {
		metrics.EdgesTotal.WithLabelValues("refreshed").Inc()
	}
	return created, nil
}
