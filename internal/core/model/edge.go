package model

import (
	"strings"
	"unicode"
)

const (
	// DefaultRelationType is used when a label sanitizes to nothing.
	DefaultRelationType = "RELATED_TO"
	ParticipatedIn      = "PARTICIPATED_IN"
	Founded             = "FOUNDED"
)

// Relation is an extracted, name-addressed candidate edge.
type Relation struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"relation_type"`
	Year        *int   `json:"year,omitempty"`
	Description string `json:"description,omitempty"`
}

// RelationType keeps the free-form label next to the identifier that is
// safe to use as a graph relationship type.
type RelationType struct {
	Label string
	Token string
}

func NewRelationType(label string) RelationType {
	return RelationType{Label: strings.TrimSpace(label), Token: SanitizeRelationType(label)}
}

// SanitizeRelationType upper-cases the label and replaces every run of
// characters other than letters, digits and underscore with a single
// underscore. An empty result yields DefaultRelationType.
func SanitizeRelationType(label string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pendingSep = true
	}
	token := strings.Trim(b.String(), "_")
	if token == "" {
		return DefaultRelationType
	}
	return token
}
