package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/annals/internal/core/common"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/llm"
)

// ErrNoVerdict means the oracle has no opinion about the person.
var ErrNoVerdict = errors.New("oracle has no verdict")

// AliasOracle decides which of a person's stored aliases really belong to
// them.
type AliasOracle interface {
	Classify(ctx context.Context, p model.Person) (*model.AliasVerdict, error)
}

// CuratedOracle answers from hand-checked records keyed by person id.
// Records may also carry scalar corrections.
type CuratedOracle struct {
	Persons map[string]model.Person
}

type curatedFile struct {
	Persons []model.Person `toml:"persons"`
}

// LoadCurated reads a TOML file of [[persons]] tables.
func LoadCurated(path string) (*CuratedOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read curated file: %w", err)
	}
	var f curatedFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse curated file %s: %w", path, err)
	}
	return NewCuratedOracle(f.Persons...), nil
}

func NewCuratedOracle(persons ...model.Person) *CuratedOracle {
	c := &CuratedOracle{Persons: make(map[string]model.Person, len(persons))}
	for _, p := range persons {
		if p.UID != "" {
			c.Persons[p.UID] = p
		}
	}
	return c
}

func (c *CuratedOracle) Classify(ctx context.Context, p model.Person) (*model.AliasVerdict, error) {
	entry, ok := c.Persons[p.UID]
	if !ok {
		return nil, ErrNoVerdict
	}
	correct := make(map[string]bool, len(entry.Aliases))
	for _, a := range entry.Aliases {
		correct[a] = true
	}
	v := &model.AliasVerdict{Correct: entry.Aliases}
	for _, a := range p.Aliases {
		if !correct[a] {
			v.Wrong = append(v.Wrong, a)
		}
	}
	return v, nil
}

// Correct overwrites p's scalar fields with the curated values that are set.
// It reports whether anything changed.
func (c *CuratedOracle) Correct(p *model.Person) bool {
	if c == nil {
		return false
	}
	entry, ok := c.Persons[p.UID]
	if !ok {
		return false
	}
	changed := false
	setString := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	setYear := func(dst **int, v *int) {
		if v != nil && (*dst == nil || **dst != *v) {
			y := *v
			*dst = &y
			changed = true
		}
	}
	setString(&p.Name, entry.Name)
	setString(&p.Role, entry.Role)
	setString(&p.CauseOfDeath, entry.CauseOfDeath)
	setString(&p.Description, entry.Description)
	setYear(&p.BirthYear, entry.BirthYear)
	setYear(&p.DeathYear, entry.DeathYear)
	if len(entry.Affiliations) > 0 && !equalStrings(p.Affiliations, entry.Affiliations) {
		p.Affiliations = append([]string(nil), entry.Affiliations...)
		changed = true
	}
	return changed
}

// DefaultAliasPrompt receives the person block built by the LLM oracle.
const DefaultAliasPrompt = `You are an expert on the history of the Five Dynasties and Ten Kingdoms.

Because of a data processing bug, the alias list of the person below may contain
names of OTHER people (sons, brothers, rivals, officials mentioned in the same passage).

%s

Decide for every alias whether it really belongs to this person: a personal name,
courtesy name, bestowed name, title, temple or posthumous name, or nickname of THIS person.
Generic titles without a surname ("emperor", "empress dowager", "military governor") are wrong.

Return only JSON:
{"correct_aliases": ["..."], "wrong_aliases": ["..."]}`

// LLMOracle runs a secondary classification pass through the LLM.
type LLMOracle struct {
	LLM    llm.LLMClient
	Prompt string
}

func NewLLMOracle(client llm.LLMClient, prompt string) *LLMOracle {
	if prompt == "" {
		prompt = DefaultAliasPrompt
	}
	return &LLMOracle{LLM: client, Prompt: prompt}
}

type aliasResponse struct {
	CorrectAliases []string `json:"correct_aliases"`
	WrongAliases   []string `json:"wrong_aliases"`
}

func (o *LLMOracle) Classify(ctx context.Context, p model.Person) (*model.AliasVerdict, error) {
	prompt := fmt.Sprintf(o.Prompt, describePerson(p))

	response, err := o.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate alias verdict: %w", err)
	}

	result, err := common.ParseJSON[aliasResponse](response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse alias verdict: %w", err)
	}
	if result.CorrectAliases == nil && result.WrongAliases == nil {
		return nil, fmt.Errorf("alias verdict has neither correct_aliases nor wrong_aliases")
	}
	return &model.AliasVerdict{Correct: result.CorrectAliases, Wrong: result.WrongAliases}, nil
}

func describePerson(p model.Person) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Person: %s\n", p.Name)
	if !model.RoleIsEmpty(p.Role) {
		fmt.Fprintf(&b, "Role: %s\n", p.Role)
	}
	if len(p.Affiliations) > 0 {
		fmt.Fprintf(&b, "Affiliations: %s\n", strings.Join(p.Affiliations, ", "))
	}
	if p.BirthYear != nil {
		fmt.Fprintf(&b, "Born: %d\n", *p.BirthYear)
	}
	if p.DeathYear != nil {
		fmt.Fprintf(&b, "Died: %d\n", *p.DeathYear)
	}
	if p.Description != "" {
		desc := []rune(p.Description)
		if len(desc) > 200 {
			desc = desc[:200]
		}
		fmt.Fprintf(&b, "Description: %s\n", string(desc))
	}
	fmt.Fprintf(&b, "\nCurrent aliases (%d):\n", len(p.Aliases))
	for i, a := range p.Aliases {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, a)
	}
	return b.String()
}

// ChainOracle asks each oracle in turn and returns the first verdict.
type ChainOracle []AliasOracle

func (c ChainOracle) Classify(ctx context.Context, p model.Person) (*model.AliasVerdict, error) {
	for _, o := range c {
		v, err := o.Classify(ctx, p)
		if errors.Is(err, ErrNoVerdict) {
			continue
		}
		return v, err
	}
	return nil, ErrNoVerdict
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
