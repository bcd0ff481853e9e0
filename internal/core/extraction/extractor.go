package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core/common"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/llm"
)

// Collaborator extracts candidate entities and relations from one unit.
// Entities reference each other by name only.
type Collaborator interface {
	Extract(ctx context.Context, unit model.Unit, known []model.KnownPerson) (*model.ExtractionResult, error)
}

// DefaultUnitPrompt receives the known-persons block and the unit text.
const DefaultUnitPrompt = `You are extracting a knowledge graph from a historical chronicle.

Persons already in the graph (reuse these exact names when the text refers to them):
%s

Extract every person, organization (dynasty, state, faction), event and place in the text below,
plus the relations between them. Use each person's most commonly used name as "name" and list
every other name, courtesy name, title or epithet the text uses for them in "aliases".
Reference entities in "participants", "founder", "source" and "target" by name only.

Text:
%s

Return a single JSON object and nothing else:
{
  "persons": [{"name": "", "aliases": [], "role": "", "affiliations": [], "birth_year": null,
               "death_year": null, "cause_of_death": "", "description": ""}],
  "organizations": [{"name": "", "founder": "", "capital": "", "start_year": null, "end_year": null, "description": ""}],
  "events": [{"name": "", "event_type": "", "year": null, "location": "", "participants": [], "outcome": "", "description": ""}],
  "places": [{"name": "", "modern_name": "", "description": ""}],
  "relations": [{"source": "", "target": "", "relation_type": "", "year": null, "description": ""}]
}`

type Extractor struct {
	LLM     llm.LLMClient
	Prompts config.ExtractionPrompts
}

func NewExtractor(llmClient llm.LLMClient, prompts config.ExtractionPrompts) *Extractor {
	if prompts.Unit == "" {
		prompts.Unit = DefaultUnitPrompt
	}
	return &Extractor{
		LLM:     llmClient,
		Prompts: prompts,
	}
}

// Extract asks the LLM for the unit's candidates. Any generation or parse
// failure is reported as model.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, unit model.Unit, known []model.KnownPerson) (*model.ExtractionResult, error) {
	if limit := e.Prompts.KnownContext; limit > 0 && len(known) > limit {
		known = known[:limit]
	}

	text := unit.Text
	if unit.Section != "" {
		text = fmt.Sprintf("[%s]\n%s", unit.Section, unit.Text)
	}
	prompt := fmt.Sprintf(e.Prompts.Unit, formatKnown(known), text)

	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: unit %s: %w", model.ErrExtraction, unit.ID, err)
	}

	result, err := common.ParseJSON[model.ExtractionResult](response)
	if err != nil {
		return nil, fmt.Errorf("%w: unit %s: %w", model.ErrExtraction, unit.ID, err)
	}

	result.UnitID = unit.ID
	result.Section = unit.Section
	result.SourceText = unit.Text
	return &result, nil
}

func formatKnown(known []model.KnownPerson) string {
	if len(known) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for _, k := range known {
		b.WriteString("- ")
		b.WriteString(k.Name)
		if len(k.Aliases) > 0 {
			b.WriteString(" (")
			b.WriteString(strings.Join(k.Aliases, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
