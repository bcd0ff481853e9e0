package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/repo"
)

// NameIndex maps canonical names and aliases to person ids. It is updated
// after every person write and rebuilt from the store on Refresh. When two
// persons share a name the first one indexed wins.
type NameIndex struct {
	mu        sync.RWMutex
	canonical map[string]string
	alias     map[string]string
	known     map[string]model.KnownPerson
	recent    []string
}

func NewNameIndex() *NameIndex {
	return &NameIndex{
		canonical: make(map[string]string),
		alias:     make(map[string]string),
		known:     make(map[string]model.KnownPerson),
	}
}

// Refresh discards the index and reloads every person from the store.
func (x *NameIndex) Refresh(ctx context.Context, r *repo.Repository) error {
	persons, err := r.AllPersons(ctx)
	if err != nil {
		return fmt.Errorf("refresh name index: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.canonical = make(map[string]string, len(persons))
	x.alias = make(map[string]string)
	x.known = make(map[string]model.KnownPerson, len(persons))
	x.recent = x.recent[:0]
	for _, p := range persons {
		x.putLocked(p)
	}
	return nil
}

func (x *NameIndex) Put(p model.Person) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.putLocked(p)
}

func (x *NameIndex) putLocked(p model.Person) {
	if p.UID == "" {
		return
	}
	if _, ok := x.canonical[p.Name]; !ok && p.Name != "" {
		x.canonical[p.Name] = p.UID
	}
	for _, a := range p.Aliases {
		if _, ok := x.alias[a]; !ok && a != "" {
			x.alias[a] = p.UID
		}
	}

	if _, seen := x.known[p.UID]; seen {
		for i, id := range x.recent {
			if id == p.UID {
				x.recent = append(x.recent[:i], x.recent[i+1:]...)
				break
			}
		}
	}
	x.known[p.UID] = model.KnownPerson{Name: p.Name, Aliases: append([]string(nil), p.Aliases...)}
	x.recent = append(x.recent, p.UID)
}

func (x *NameIndex) Canonical(name string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.canonical[name]
	return id, ok
}

func (x *NameIndex) Alias(name string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.alias[name]
	return id, ok
}

// Lookup tries the canonical map before the alias map.
func (x *NameIndex) Lookup(name string) (string, bool) {
	if id, ok := x.Canonical(name); ok {
		return id, true
	}
	return x.Alias(name)
}

// Known returns up to limit persons, most recently written first.
func (x *NameIndex) Known(limit int) []model.KnownPerson {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.KnownPerson, 0, n)
	for i := len(x.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, x.known[x.recent[i]])
	}
	return out
}

func (x *NameIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.known)
}
