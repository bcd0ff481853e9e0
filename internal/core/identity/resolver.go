// Package identity decides whether an extracted person is someone already
// in the graph and merges or creates accordingly.
package identity

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/metrics"
	"github.com/agenthands/annals/internal/store"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionMerged  Action = "merged"
	// ActionCreatedAfterAbort: a match was found but merging would have
	// pushed its alias set past the ceiling.
	ActionCreatedAfterAbort Action = "created_after_abort"
	// ActionCreatedUnmatchable: every name was ambiguous or too short to
	// match on, so no lookup was attempted.
	ActionCreatedUnmatchable Action = "created_unmatchable"
)

type Resolution struct {
	ID     string
	Action Action
}

type Resolver struct {
	Repo          *repo.Repository
	Index         *NameIndex
	AliasCeiling  int
	MinNameRunes  int
	UUIDGenerator func() string

	ambiguous map[string]bool
}

func NewResolver(r *repo.Repository, index *NameIndex, cfg config.IdentityConfig) *Resolver {
	res := &Resolver{
		Repo:          r,
		Index:         index,
		AliasCeiling:  cfg.AliasCeiling,
		MinNameRunes:  cfg.MinNameRunes,
		UUIDGenerator: uuid.NewString,
		ambiguous:     make(map[string]bool, len(cfg.AmbiguousTitles)),
	}
	if res.AliasCeiling <= 0 {
		res.AliasCeiling = 25
	}
	if res.MinNameRunes <= 0 {
		res.MinNameRunes = 2
	}
	for _, t := range cfg.AmbiguousTitles {
		res.ambiguous[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return res
}

// Matchable reports whether a name may be used to identify a person.
func (r *Resolver) Matchable(name string) bool {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < r.MinNameRunes {
		return false
	}
	return !r.ambiguous[strings.ToLower(name)]
}

// Filter keeps the matchable names, preserving order.
func (r *Resolver) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if r.Matchable(n) {
			out = append(out, n)
		}
	}
	return out
}

// ResolvePerson returns the id of the canonical node for candidate,
// merging into an existing node or creating a new one. Only store failures
// are returned as errors.
func (r *Resolver) ResolvePerson(ctx context.Context, candidate model.Person) (Resolution, error) {
	return r.ResolveMention(ctx, candidate, "")
}

// ResolveMention resolves a candidate found at a fixed position of a unit.
// key names that position. Nodes created without a name match (unmatchable
// names, aborted merges) take an id derived from key, so applying the same
// unit again lands on the same node.
func (r *Resolver) ResolveMention(ctx context.Context, candidate model.Person, key string) (Resolution, error) {
	names := candidate.Names()
	if len(names) == 0 {
		return Resolution{}, fmt.Errorf("%w: person candidate without a name", model.ErrResolution)
	}
	candidate.Name = names[0]
	filtered := r.Filter(names)

	if len(filtered) == 0 {
		return r.create(ctx, candidate, names[1:], ActionCreatedUnmatchable, key)
	}

	existing, err := r.find(ctx, filtered)
	if err != nil {
		return Resolution{}, err
	}
	if existing == nil {
		return r.create(ctx, candidate, without(filtered, candidate.Name), ActionCreated, "")
	}

	merged, ok := r.merge(*existing, candidate)
	if !ok {
		logger.Info("merge aborted, alias ceiling exceeded",
			"name", candidate.Name, "existing", existing.UID, "ceiling", r.AliasCeiling, "reason", model.ErrMergeAbort)
		return r.create(ctx, candidate, names[1:], ActionCreatedAfterAbort, key)
	}
	if err := r.save(ctx, merged); err != nil {
		return Resolution{}, err
	}
	metrics.PersonResolutions.WithLabelValues(string(ActionMerged)).Inc()
	return Resolution{ID: merged.UID, Action: ActionMerged}, nil
}

// find returns the stored person matching any of names, trying canonical
// names before aliases.
func (r *Resolver) find(ctx context.Context, names []string) (*model.Person, error) {
	if p, err := r.findBy(ctx, names, r.Index.Canonical, r.Repo.FindPersonsByName, canonicalOf); p != nil || err != nil {
		return p, err
	}
	return r.findBy(ctx, names, r.Index.Alias, r.Repo.FindPersonsByAlias, aliasesOf)
}

func canonicalOf(p model.Person) []string { return []string{p.Name} }
func aliasesOf(p model.Person) []string   { return p.Aliases }

func (r *Resolver) findBy(
	ctx context.Context,
	names []string,
	indexed func(string) (string, bool),
	query func(context.Context, ...string) ([]model.Person, error),
	keys func(model.Person) []string,
) (*model.Person, error) {
	for _, n := range names {
		if id, ok := indexed(n); ok {
			p, err := r.Repo.GetPerson(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrWrite, err)
			}
			if p != nil {
				return p, nil
			}
		}
	}

	persons, err := query(ctx, names...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	for _, n := range names {
		for i := range persons {
			for _, k := range keys(persons[i]) {
				if k == n {
					r.Index.Put(persons[i])
					return &persons[i], nil
				}
			}
		}
	}
	return nil, nil
}

// merge folds candidate into existing. It reports false when the merged
// alias set would exceed the ceiling.
func (r *Resolver) merge(existing, candidate model.Person) (model.Person, bool) {
	aliases := without(model.UniqueNames(append(append([]string(nil), existing.Aliases...), candidate.Names()...)), existing.Name)
	if len(aliases) > r.AliasCeiling {
		return existing, false
	}
	existing.Aliases = aliases
	existing.Affiliations = model.UniqueNames(append(existing.Affiliations, candidate.Affiliations...))

	if utf8.RuneCountInString(candidate.Description) > utf8.RuneCountInString(existing.Description) {
		existing.Description = candidate.Description
	}
	if existing.BirthYear == nil && candidate.BirthYear != nil {
		existing.BirthYear = candidate.BirthYear
	}
	if existing.DeathYear == nil && candidate.DeathYear != nil {
		existing.DeathYear = candidate.DeathYear
	}
	if existing.CauseOfDeath == "" && candidate.CauseOfDeath != "" {
		existing.CauseOfDeath = candidate.CauseOfDeath
	}
	if model.RoleIsEmpty(existing.Role) && !model.RoleIsEmpty(candidate.Role) {
		existing.Role = candidate.Role
	}
	return existing, true
}

func (r *Resolver) create(ctx context.Context, candidate model.Person, aliases []string, action Action, key string) (Resolution, error) {
	aliases = without(model.UniqueNames(aliases), candidate.Name)
	if len(aliases) > r.AliasCeiling {
		aliases = aliases[:r.AliasCeiling]
	}

	id, existing, err := r.newID(ctx, candidate, key)
	if err != nil {
		return Resolution{}, err
	}

	p := candidate
	p.UID = id
	p.Aliases = aliases
	p.Affiliations = model.UniqueNames(candidate.Affiliations)
	if model.RoleIsEmpty(p.Role) {
		p.Role = ""
	}
	if existing != nil {
		// an earlier application of the same unit already wrote this mention
		if merged, ok := r.merge(*existing, p); ok {
			p = merged
		} else {
			p = *existing
		}
		action = ActionMerged
	}
	if err := r.save(ctx, p); err != nil {
		return Resolution{}, err
	}
	metrics.PersonResolutions.WithLabelValues(string(action)).Inc()
	return Resolution{ID: id, Action: action}, nil
}

// newID prefers the candidate's own uid when free. With a mention key it
// returns the key-derived id together with the node already stored there,
// if any. Otherwise it tries an id derived from the canonical name, then a
// random one.
func (r *Resolver) newID(ctx context.Context, candidate model.Person, key string) (string, *model.Person, error) {
	lookup := func(id string) (*model.Person, error) {
		p, err := r.Repo.GetPerson(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrWrite, err)
		}
		return p, nil
	}

	if candidate.UID != "" {
		taken, err := lookup(candidate.UID)
		if err != nil {
			return "", nil, err
		}
		if taken == nil {
			return candidate.UID, nil, nil
		}
	}
	if key != "" {
		id := repo.DerivedID(store.LabelPerson, append([]string{key}, candidate.Names()...)...)
		existing, err := lookup(id)
		if err != nil {
			return "", nil, err
		}
		return id, existing, nil
	}
	id := repo.DerivedID(store.LabelPerson, candidate.Name)
	taken, err := lookup(id)
	if err != nil {
		return "", nil, err
	}
	if taken == nil {
		return id, nil, nil
	}
	return "person_" + r.UUIDGenerator(), nil, nil
}

func (r *Resolver) save(ctx context.Context, p model.Person) error {
	if err := r.Repo.SavePerson(ctx, p); err != nil {
		return err
	}
	r.Index.Put(p)
	return nil
}

func without(names []string, drop string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}
