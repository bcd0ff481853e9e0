package model

// Unit is one ordered slice of source text.
type Unit struct {
	ID      string `json:"id"`
	Section string `json:"section,omitempty"`
	Text    string `json:"text"`
}

// ExtractionResult is what the extraction collaborator returns for a unit.
type ExtractionResult struct {
	UnitID        string         `json:"unit_id,omitempty"`
	Section       string         `json:"section,omitempty"`
	SourceText    string         `json:"source_text,omitempty"`
	Persons       []Person       `json:"persons"`
	Organizations []Organization `json:"organizations"`
	Events        []Event        `json:"events"`
	Places        []Place        `json:"places"`
	Relations     []Relation     `json:"relations"`
}

func (r *ExtractionResult) Empty() bool {
	return len(r.Persons) == 0 && len(r.Organizations) == 0 && len(r.Events) == 0 &&
		len(r.Places) == 0 && len(r.Relations) == 0
}

// KnownPerson is the context hint handed to the extractor so it reuses
// canonical names already in the graph.
type KnownPerson struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// AliasVerdict classifies a person's stored aliases.
type AliasVerdict struct {
	Correct []string `json:"correct"`
	Wrong   []string `json:"wrong"`
}
