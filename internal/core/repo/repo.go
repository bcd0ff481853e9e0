// Package repo maps domain entities onto store records.
package repo

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/store"
)

// entityNamespace seeds name-derived ids so the same label and name always
// produce the same uid.
var entityNamespace = uuid.MustParse("8f5d3b3e-6c1a-4f0e-9a55-2f8d8c0c9e11")

type Repository struct {
	Store store.Store
}

func New(s store.Store) *Repository {
	return &Repository{Store: s}
}

// DerivedID returns a deterministic uid for a label and a set of names.
func DerivedID(label store.Label, names ...string) string {
	key := string(label) + ":" + strings.Join(names, "|")
	return strings.ToLower(string(label)) + "_" + uuid.NewSHA1(entityNamespace, []byte(key)).String()
}

func PersonProps(p model.Person) store.Props {
	return store.Props{
		"name":           p.Name,
		"aliases":        nonNil(p.Aliases),
		"role":           p.Role,
		"affiliations":   nonNil(p.Affiliations),
		"birth_year":     store.IntOrNil(p.BirthYear),
		"death_year":     store.IntOrNil(p.DeathYear),
		"cause_of_death": p.CauseOfDeath,
		"description":    p.Description,
	}
}

func PersonFromRecord(r store.Record) model.Person {
	return model.Person{
		UID:          r.ID,
		Name:         r.Props.String("name"),
		Aliases:      r.Props.Strings("aliases"),
		Role:         r.Props.String("role"),
		Affiliations: r.Props.Strings("affiliations"),
		BirthYear:    r.Props.Int("birth_year"),
		DeathYear:    r.Props.Int("death_year"),
		CauseOfDeath: r.Props.String("cause_of_death"),
		Description:  r.Props.String("description"),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *Repository) SavePerson(ctx context.Context, p model.Person) error {
	if p.UID == "" {
		return fmt.Errorf("save person %q: empty uid", p.Name)
	}
	if err := r.Store.UpsertNode(ctx, store.LabelPerson, p.UID, PersonProps(p)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	return nil
}

func (r *Repository) GetPerson(ctx context.Context, id string) (*model.Person, error) {
	rec, err := store.GetNode(ctx, r.Store, store.LabelPerson, id)
	if err != nil || rec == nil {
		return nil, err
	}
	p := PersonFromRecord(*rec)
	return &p, nil
}

func (r *Repository) persons(ctx context.Context, preds ...store.Predicate) ([]model.Person, error) {
	recs, err := r.Store.QueryNodes(ctx, store.LabelPerson, preds...)
	if err != nil {
		return nil, err
	}
	out := make([]model.Person, 0, len(recs))
	for _, rec := range recs {
		out = append(out, PersonFromRecord(rec))
	}
	return out, nil
}

// FindPersonsByName matches canonical names exactly.
func (r *Repository) FindPersonsByName(ctx context.Context, names ...string) ([]model.Person, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return r.persons(ctx, store.In("name", names))
}

// FindPersonsByAlias matches persons whose alias set shares a name.
func (r *Repository) FindPersonsByAlias(ctx context.Context, names ...string) ([]model.Person, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return r.persons(ctx, store.AnyIn("aliases", names))
}

func (r *Repository) AllPersons(ctx context.Context) ([]model.Person, error) {
	return r.persons(ctx)
}

func (r *Repository) PersonsWithAliases(ctx context.Context, min int) ([]model.Person, error) {
	return r.persons(ctx, store.SizeAtLeast("aliases", min))
}

func (r *Repository) PersonsWithDeathYear(ctx context.Context) ([]model.Person, error) {
	return r.persons(ctx, store.NotNull("death_year"))
}

// FindNodeID returns the uid of the first node with the given name.
func (r *Repository) FindNodeID(ctx context.Context, label store.Label, name string) (string, error) {
	recs, err := r.Store.QueryNodes(ctx, label, store.Eq("name", name))
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", nil
	}
	return recs[0].ID, nil
}

// resolveID reuses the id of a same-named node, then the candidate's own
// uid, then a derived one.
func (r *Repository) resolveID(ctx context.Context, label store.Label, uid, name string) (string, error) {
	id, err := r.FindNodeID(ctx, label, name)
	if err != nil || id != "" {
		return id, err
	}
	if uid != "" {
		existing, err := store.GetNode(ctx, r.Store, label, uid)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return uid, nil
		}
	}
	return DerivedID(label, name), nil
}

func (r *Repository) save(ctx context.Context, label store.Label, uid, name string, props store.Props) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("save %s: empty name", label)
	}
	id, err := r.resolveID(ctx, label, uid, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	stored, err := store.GetNode(ctx, r.Store, label, id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	if stored != nil {
		props = mergeProps(stored.Props, props)
	}
	props["name"] = name
	if err := r.Store.UpsertNode(ctx, label, id, props); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrWrite, err)
	}
	return id, nil
}

// mergeProps folds a later mention into a stored node. Values the mention
// lacks never erase stored ones, stored scalars are only filled, the longer
// description wins and lists are unioned.
func mergeProps(stored, props store.Props) store.Props {
	out := make(store.Props, len(props))
	for k, v := range props {
		switch vv := v.(type) {
		case nil:
			continue
		case string:
			if vv == "" {
				continue
			}
			if k == "description" {
				if utf8.RuneCountInString(vv) <= utf8.RuneCountInString(stored.String(k)) {
					continue
				}
			} else if stored.String(k) != "" {
				continue
			}
		case []string:
			if len(vv) == 0 {
				continue
			}
			v = model.UniqueNames(append(stored.Strings(k), vv...))
		default:
			if stored[k] != nil {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func (r *Repository) SaveOrganization(ctx context.Context, o model.Organization) (string, error) {
	return r.save(ctx, store.LabelOrganization, o.UID, o.Name, store.Props{
		"founder":     o.Founder,
		"capital":     o.Capital,
		"start_year":  store.IntOrNil(o.StartYear),
		"end_year":    store.IntOrNil(o.EndYear),
		"description": o.Description,
	})
}

func (r *Repository) SavePlace(ctx context.Context, p model.Place) (string, error) {
	return r.save(ctx, store.LabelPlace, p.UID, p.Name, store.Props{
		"modern_name": p.ModernName,
		"description": p.Description,
	})
}

func (r *Repository) SaveEvent(ctx context.Context, e model.Event) (string, error) {
	return r.save(ctx, store.LabelEvent, e.UID, e.Name, store.Props{
		"event_type":   e.Type,
		"year":         store.IntOrNil(e.Year),
		"location":     e.Location,
		"participants": nonNil(e.Participants),
		"outcome":      e.Outcome,
		"description":  e.Description,
	})
}

func EventFromRecord(rec store.Record) model.Event {
	return model.Event{
		UID:          rec.ID,
		Name:         rec.Props.String("name"),
		Type:         rec.Props.String("event_type"),
		Year:         rec.Props.Int("year"),
		Location:     rec.Props.String("location"),
		Participants: rec.Props.Strings("participants"),
		Outcome:      rec.Props.String("outcome"),
		Description:  rec.Props.String("description"),
	}
}

func (r *Repository) AllEvents(ctx context.Context) ([]model.Event, error) {
	recs, err := r.Store.QueryNodes(ctx, store.LabelEvent)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, EventFromRecord(rec))
	}
	return out, nil
}

func (r *Repository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	rec, err := store.GetNode(ctx, r.Store, store.LabelEvent, id)
	if err != nil || rec == nil {
		return nil, err
	}
	e := EventFromRecord(*rec)
	return &e, nil
}
