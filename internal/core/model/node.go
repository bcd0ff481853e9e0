package model

import "strings"

// Person is a canonical historical individual. Aliases never contain the
// canonical name or the empty string.
type Person struct {
	UID          string   `json:"uid,omitempty" toml:"uid"`
	Name         string   `json:"name" toml:"name"`
	Aliases      []string `json:"aliases,omitempty" toml:"aliases"`
	Role         string   `json:"role,omitempty" toml:"role"`
	Affiliations []string `json:"affiliations,omitempty" toml:"affiliations"`
	BirthYear    *int     `json:"birth_year,omitempty" toml:"birth_year"`
	DeathYear    *int     `json:"death_year,omitempty" toml:"death_year"`
	CauseOfDeath string   `json:"cause_of_death,omitempty" toml:"cause_of_death"`
	Description  string   `json:"description,omitempty" toml:"description"`
}

// Names returns the canonical name followed by the aliases, trimmed, with
// blanks and duplicates removed.
func (p Person) Names() []string {
	return UniqueNames(append([]string{p.Name}, p.Aliases...))
}

// PlaceholderRoles are role values that carry no information.
var PlaceholderRoles = map[string]bool{
	"":        true,
	"其他":      true,
	"other":   true,
	"unknown": true,
}

func RoleIsEmpty(role string) bool {
	return PlaceholderRoles[strings.ToLower(strings.TrimSpace(role))]
}

// Organization is a polity, dynasty or faction.
type Organization struct {
	UID         string `json:"uid,omitempty"`
	Name        string `json:"name"`
	Founder     string `json:"founder,omitempty"`
	Capital     string `json:"capital,omitempty"`
	StartYear   *int   `json:"start_year,omitempty"`
	EndYear     *int   `json:"end_year,omitempty"`
	Description string `json:"description,omitempty"`
}

type Event struct {
	UID          string   `json:"uid,omitempty"`
	Name         string   `json:"name"`
	Type         string   `json:"event_type,omitempty"`
	Year         *int     `json:"year,omitempty"`
	Location     string   `json:"location,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Outcome      string   `json:"outcome,omitempty"`
	Description  string   `json:"description,omitempty"`
}

type Place struct {
	UID         string `json:"uid,omitempty"`
	Name        string `json:"name"`
	ModernName  string `json:"modern_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// UniqueNames trims names and drops blanks and repeats, keeping order.
func UniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
